package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"wallpapers/internal/ratelimit"
	"wallpapers/internal/usertoken"
	"wallpapers/internal/util"
	"wallpapers/pkg/metrics"
	"wallpapers/pkg/notify"
	"wallpapers/pkg/queue"
	"wallpapers/pkg/retry"
	"wallpapers/pkg/storage"
	"wallpapers/pkg/store"
	"wallpapers/services/wallpaper/internal/app"
	"wallpapers/services/wallpaper/internal/config"
	"wallpapers/services/wallpaper/internal/server"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := util.InitLogger(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	maxUploadBytes, _ := cfg.MaxUploadBytes()
	signedTTL, _ := cfg.Duration("signedURLTTL")
	baseDelay, _ := cfg.Duration("retryBaseDelay")
	uploadWindow, _ := cfg.Duration("uploadWindow")
	notifyWindow, _ := cfg.Duration("notifyWindow")
	jwtLeeway, _ := cfg.Duration("jwtLeeway")
	policy := retry.Policy{MaxAttempts: cfg.RetryAttempts, BaseDelay: baseDelay}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	var rdb redis.UniversalClient
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rdb.Close()
	}

	var notifier notify.Notifier = notify.NewLogNotifier(logger)
	if cfg.AMQPURL != "" {
		amqpNotifier, err := notify.NewAMQPNotifier(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			log.Fatalf("failed to init amqp notifier: %v", err)
		}
		defer amqpNotifier.Close()
		notifier = notify.Multi{notifier, amqpNotifier}
	}
	var notifyLimiter *ratelimit.FixedWindowLimiter
	if rdb != nil && cfg.NotifyLimit > 0 {
		notifyLimiter, err = ratelimit.NewFixedWindowLimiter(rdb, "wallpapers:ratelimit", cfg.NotifyLimit, notifyWindow, ratelimit.FailOpen())
		if err != nil {
			log.Fatalf("failed to init notification limiter: %v", err)
		}
	}
	notifier = notify.NewThrottled(notifier, notifyLimiter, m, logger)
	attemptHook := notify.RetryHook(notifier, logger)

	var docBackend store.Backend
	switch cfg.DocumentBackend {
	case config.DocumentsMemory:
		docBackend = store.NewMemoryStore()
	default:
		gormStore, err := store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("failed to init document store: %v", err)
		}
		docBackend = gormStore
	}

	var objBackend storage.Backend
	switch cfg.ObjectBackend {
	case config.ObjectsMemory:
		objBackend = storage.NewMemoryStore(cfg.PublicBaseURL)
	case config.ObjectsS3:
		s3Store, err := storage.NewS3Store(ctx, storage.S3Config{
			Region:        cfg.S3Region,
			AccessKey:     cfg.S3AccessKey,
			SecretKey:     cfg.S3SecretKey,
			Bucket:        cfg.S3Bucket,
			BaseEndpoint:  cfg.S3Endpoint,
			UsePathStyle:  cfg.S3UsePathStyle,
			PublicBaseURL: cfg.PublicBaseURL,
		})
		if err != nil {
			log.Fatalf("failed to init s3 store: %v", err)
		}
		objBackend = s3Store
	default:
		minioStore, err := storage.NewMinioStore(storage.MinioConfig{
			Endpoint:      cfg.MinioEndpoint,
			AccessKey:     cfg.MinioAccessKey,
			SecretKey:     cfg.MinioSecretKey,
			Bucket:        cfg.MinioBucket,
			UseSSL:        cfg.MinioUseSSL,
			PublicBaseURL: cfg.PublicBaseURL,
			PublicRead:    storage.URLPolicy(cfg.URLPolicy) == storage.PolicyPublic,
		})
		if err != nil {
			log.Fatalf("failed to init minio store: %v", err)
		}
		objBackend = minioStore
	}

	objOpts := []storage.AdapterOption{
		storage.WithURLPolicy(storage.URLPolicy(cfg.URLPolicy), signedTTL),
		storage.WithRetryPolicy(policy),
		storage.WithMetrics(m),
		storage.WithAttemptHook(attemptHook),
		storage.WithLogger(logger),
	}
	if rdb != nil {
		objOpts = append(objOpts, storage.WithURLCache(storage.NewRedisURLCache(rdb, "wallpapers:url")))
	}

	appCfg := app.Config{
		Documents: store.NewAdapter(docBackend,
			store.WithRetryPolicy(policy),
			store.WithMetrics(m),
			store.WithAttemptHook(attemptHook),
		),
		Objects:             storage.NewAdapter(objBackend, objOpts...),
		Notifier:            notifier,
		Metrics:             m,
		Logger:              logger,
		MaxUploadBytes:      maxUploadBytes,
		AllowedContentTypes: cfg.AllowedContentTypes,
		RetryPolicy:         policy,
	}

	var cleanup *queue.RedisCleanupQueue
	if rdb != nil {
		cleanup, err = queue.NewRedisCleanupQueue(rdb, queue.Config{Logger: logger})
		if err != nil {
			log.Fatalf("failed to init cleanup queue: %v", err)
		}
		appCfg.Orphans = cleanup
		if cfg.UploadsPerWindow > 0 {
			appCfg.UploadLimiter, err = ratelimit.NewFixedWindowLimiter(rdb, "wallpapers:ratelimit", cfg.UploadsPerWindow, uploadWindow)
			if err != nil {
				log.Fatalf("failed to init upload limiter: %v", err)
			}
		}
	}

	appCore, err := app.New(appCfg)
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}
	if cleanup != nil {
		cleanup.Start(ctx, cfg.CleanupConcurrency, appCore.CleanupOrphan)
	}

	tokenVerifier, err := usertoken.NewVerifier(ctx, usertoken.Config{
		JWKSURL:    cfg.IdentityJWKSURL,
		Issuer:     cfg.IdentityIssuer,
		Audience:   cfg.IdentityAudience,
		Leeway:     jwtLeeway,
		HTTPClient: &http.Client{Timeout: 5 * time.Second},
	})
	if err != nil {
		log.Fatalf("failed to init jwks verifier: %v", err)
	}
	trusted, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}

	var revoker usertoken.Revoker = usertoken.NewMemoryRevoker()
	if rdb != nil {
		revoker = usertoken.NewRedisRevoker(rdb, "wallpapers:revoked")
	}

	httpServer, err := server.New(server.Config{
		App:            appCore,
		TokenVerifier:  tokenVerifier,
		TrustedProxies: trusted,
		Revoker:        revoker,
		Gatherer:       reg,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", "err", err)
		}
	}()

	slog.Info("wallpaper server listening", "addr", addr,
		"documents", cfg.DocumentBackend, "objects", cfg.ObjectBackend, "url_policy", cfg.URLPolicy)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "err", err)
	}
}
