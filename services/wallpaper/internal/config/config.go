package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	units "github.com/docker/go-units"
	"gopkg.in/yaml.v3"
)

// ConfigPath is used when neither the caller nor WALLPAPER_CONFIG names a file.
const ConfigPath = "config.yaml"

// Backend selectors.
const (
	DocumentsPostgres = "postgres"
	DocumentsMemory   = "memory"

	ObjectsMinio  = "minio"
	ObjectsS3     = "s3"
	ObjectsMemory = "memory"
)

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port           string   `yaml:"port"`
	LogLevel       string   `yaml:"logLevel"`
	LogFormat      string   `yaml:"logFormat"`
	TrustedProxies []string `yaml:"trustedProxies"`

	DocumentBackend string `yaml:"documentBackend"`
	DatabaseURL     string `yaml:"databaseURL"`

	ObjectBackend  string `yaml:"objectBackend"`
	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`
	S3Region       string `yaml:"s3Region"`
	S3Bucket       string `yaml:"s3Bucket"`
	S3AccessKey    string `yaml:"s3AccessKey"`
	S3SecretKey    string `yaml:"s3SecretKey"`
	S3Endpoint     string `yaml:"s3Endpoint"`
	S3UsePathStyle bool   `yaml:"s3UsePathStyle"`
	PublicBaseURL  string `yaml:"publicBaseURL"`
	URLPolicy      string `yaml:"urlPolicy"`
	SignedURLTTL   string `yaml:"signedURLTTL"`

	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	AMQPURL       string `yaml:"amqpURL"`
	AMQPExchange  string `yaml:"amqpExchange"`

	IdentityJWKSURL  string `yaml:"identityJWKSURL"`
	IdentityIssuer   string `yaml:"identityIssuer"`
	IdentityAudience string `yaml:"identityAudience"`
	JWTLeeway        string `yaml:"jwtLeeway"`

	MaxUploadSize       string   `yaml:"maxUploadSize"`
	AllowedContentTypes []string `yaml:"allowedContentTypes"`

	RetryAttempts  int    `yaml:"retryAttempts"`
	RetryBaseDelay string `yaml:"retryBaseDelay"`

	UploadsPerWindow   int    `yaml:"uploadsPerWindow"`
	UploadWindow       string `yaml:"uploadWindow"`
	NotifyLimit        int    `yaml:"notifyLimit"`
	NotifyWindow       string `yaml:"notifyWindow"`
	CleanupConcurrency int    `yaml:"cleanupConcurrency"`
}

// Load reads config from path (defaults to WALLPAPER_CONFIG, then config.yaml),
// applies environment overrides and defaults, and validates the result.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = os.Getenv("WALLPAPER_CONFIG")
	}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	setString := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setString(&cfg.Port, "PORT")
	setString(&cfg.LogLevel, "LOG_LEVEL")
	setString(&cfg.LogFormat, "LOG_FORMAT")
	setString(&cfg.DocumentBackend, "WALLPAPER_DOCUMENT_BACKEND")
	setString(&cfg.DatabaseURL, "DATABASE_URL")
	setString(&cfg.ObjectBackend, "WALLPAPER_OBJECT_BACKEND")
	setString(&cfg.MinioEndpoint, "MINIO_ENDPOINT")
	setString(&cfg.MinioAccessKey, "MINIO_ACCESS_KEY")
	setString(&cfg.MinioSecretKey, "MINIO_SECRET_KEY")
	setString(&cfg.MinioBucket, "MINIO_BUCKET")
	if v := os.Getenv("MINIO_USE_SSL"); v != "" {
		cfg.MinioUseSSL, _ = strconv.ParseBool(v)
	}
	setString(&cfg.S3Region, "S3_REGION")
	setString(&cfg.S3Bucket, "S3_BUCKET")
	setString(&cfg.S3AccessKey, "S3_ACCESS_KEY")
	setString(&cfg.S3SecretKey, "S3_SECRET_KEY")
	setString(&cfg.S3Endpoint, "S3_ENDPOINT")
	setString(&cfg.PublicBaseURL, "WALLPAPER_PUBLIC_BASE_URL")
	setString(&cfg.URLPolicy, "WALLPAPER_URL_POLICY")
	setString(&cfg.RedisAddr, "REDIS_ADDR")
	setString(&cfg.RedisPassword, "REDIS_PASSWORD")
	setString(&cfg.AMQPURL, "AMQP_URL")
	setString(&cfg.IdentityJWKSURL, "IDENTITY_JWKS_URL")
	setString(&cfg.IdentityIssuer, "IDENTITY_ISSUER")
	setString(&cfg.IdentityAudience, "IDENTITY_AUDIENCE")
	setString(&cfg.MaxUploadSize, "WALLPAPER_MAX_UPLOAD")
	if v := os.Getenv("WALLPAPER_ALLOWED_CONTENT_TYPES"); v != "" {
		cfg.AllowedContentTypes = splitCSV(v)
	}
	if v := os.Getenv("WALLPAPER_UPLOADS_PER_WINDOW"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.UploadsPerWindow = n
		}
	}
}

func applyDefaults(cfg *FileConfig) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.DocumentBackend == "" {
		cfg.DocumentBackend = DocumentsPostgres
	}
	if cfg.ObjectBackend == "" {
		cfg.ObjectBackend = ObjectsMinio
	}
	if cfg.URLPolicy == "" {
		cfg.URLPolicy = "public"
	}
	if cfg.SignedURLTTL == "" {
		cfg.SignedURLTTL = "24h"
	}
	if cfg.MaxUploadSize == "" {
		cfg.MaxUploadSize = "10MB"
	}
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{"image/jpeg", "image/png", "image/webp", "image/gif"}
	}
	if cfg.RetryAttempts == 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.RetryBaseDelay == "" {
		cfg.RetryBaseDelay = "1s"
	}
	if cfg.UploadWindow == "" {
		cfg.UploadWindow = "1h"
	}
	if cfg.NotifyLimit == 0 {
		cfg.NotifyLimit = 3
	}
	if cfg.NotifyWindow == "" {
		cfg.NotifyWindow = "1m"
	}
	if cfg.JWTLeeway == "" {
		cfg.JWTLeeway = "30s"
	}
	if cfg.CleanupConcurrency == 0 {
		cfg.CleanupConcurrency = 1
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml or PORT)")
	}
	switch cfg.DocumentBackend {
	case DocumentsPostgres:
		if cfg.DatabaseURL == "" {
			return errors.New("config: databaseURL is required for the postgres document backend")
		}
	case DocumentsMemory:
	default:
		return fmt.Errorf("config: unknown documentBackend %q", cfg.DocumentBackend)
	}
	switch cfg.ObjectBackend {
	case ObjectsMinio:
		if cfg.MinioEndpoint == "" || cfg.MinioAccessKey == "" || cfg.MinioSecretKey == "" || cfg.MinioBucket == "" {
			return errors.New("config: minioEndpoint, minioAccessKey, minioSecretKey and minioBucket are required for the minio object backend")
		}
	case ObjectsS3:
		if cfg.S3Bucket == "" || cfg.S3Region == "" {
			return errors.New("config: s3Bucket and s3Region are required for the s3 object backend")
		}
	case ObjectsMemory:
	default:
		return fmt.Errorf("config: unknown objectBackend %q", cfg.ObjectBackend)
	}
	if cfg.URLPolicy != "public" && cfg.URLPolicy != "signed" {
		return fmt.Errorf("config: urlPolicy must be public or signed, got %q", cfg.URLPolicy)
	}
	if cfg.IdentityJWKSURL == "" || cfg.IdentityIssuer == "" || cfg.IdentityAudience == "" {
		return errors.New("config: identityJWKSURL, identityIssuer and identityAudience are required")
	}
	if _, err := cfg.MaxUploadBytes(); err != nil {
		return err
	}
	if cfg.RetryAttempts < 1 {
		return errors.New("config: retryAttempts must be at least 1")
	}
	for name, raw := range map[string]string{
		"signedURLTTL":   cfg.SignedURLTTL,
		"retryBaseDelay": cfg.RetryBaseDelay,
		"uploadWindow":   cfg.UploadWindow,
		"notifyWindow":   cfg.NotifyWindow,
		"jwtLeeway":      cfg.JWTLeeway,
	} {
		if _, err := parsePositiveDuration(name, raw); err != nil {
			return err
		}
	}
	if cfg.UploadsPerWindow < 0 || cfg.NotifyLimit < 0 {
		return errors.New("config: rate limits must not be negative")
	}
	return nil
}

// MaxUploadBytes parses maxUploadSize ("10MB" is 10 MiB).
func (c FileConfig) MaxUploadBytes() (int64, error) {
	size, err := units.RAMInBytes(c.MaxUploadSize)
	if err != nil {
		return 0, fmt.Errorf("config: invalid maxUploadSize: %w", err)
	}
	if size <= 0 {
		return 0, errors.New("config: maxUploadSize must be positive")
	}
	return size, nil
}

// Duration parses one of the duration settings. Load has already validated
// them, so callers may ignore the error.
func (c FileConfig) Duration(name string) (time.Duration, error) {
	var raw string
	switch name {
	case "signedURLTTL":
		raw = c.SignedURLTTL
	case "retryBaseDelay":
		raw = c.RetryBaseDelay
	case "uploadWindow":
		raw = c.UploadWindow
	case "notifyWindow":
		raw = c.NotifyWindow
	case "jwtLeeway":
		raw = c.JWTLeeway
	default:
		return 0, fmt.Errorf("config: unknown duration %q", name)
	}
	return parsePositiveDuration(name, raw)
}

func parsePositiveDuration(name, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s: %w", name, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("config: %s must be positive", name)
	}
	return d, nil
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
