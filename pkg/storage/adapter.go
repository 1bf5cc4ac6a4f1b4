package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"wallpapers/internal/util"
	"wallpapers/pkg/domain"
	"wallpapers/pkg/metrics"
	"wallpapers/pkg/retry"
)

const component = "objects"

// ErrEmptyPath rejects deletes without a key.
var ErrEmptyPath = errors.New("object path required")

// URLPolicy decides which URL a stored object is addressed by. One policy
// applies to every object; there is no per-call fallback.
type URLPolicy string

const (
	// PolicyPublic stores the permanent public URL. The bucket must allow
	// anonymous reads.
	PolicyPublic URLPolicy = "public"
	// PolicySigned hands out time-limited URLs that readers re-resolve.
	PolicySigned URLPolicy = "signed"
)

// DefaultSignedURLTTL matches how long a shared link stays usable.
const DefaultSignedURLTTL = 24 * time.Hour

// Adapter adds path generation, retries and the URL policy to a Backend.
type Adapter struct {
	backend   Backend
	policy    URLPolicy
	signedTTL time.Duration
	cache     URLCache
	group     singleflight.Group
	retry     retry.Policy
	sleep     retry.Sleeper
	metrics   *metrics.Metrics
	hooks     []retry.Hook
	now       func() time.Time
	token     func() string
	logger    *slog.Logger
}

// AdapterOption configures an Adapter.
type AdapterOption func(*Adapter)

// WithURLPolicy selects public or signed URLs; ttl applies to signed ones.
func WithURLPolicy(p URLPolicy, ttl time.Duration) AdapterOption {
	return func(a *Adapter) {
		a.policy = p
		if ttl > 0 {
			a.signedTTL = ttl
		}
	}
}

// WithURLCache caches signed URLs for half their lifetime.
func WithURLCache(c URLCache) AdapterOption {
	return func(a *Adapter) { a.cache = c }
}

// WithRetryPolicy overrides the default 3 attempts from 1s.
func WithRetryPolicy(p retry.Policy) AdapterOption {
	return func(a *Adapter) { a.retry = p }
}

// WithSleeper replaces the wait between attempts.
func WithSleeper(s retry.Sleeper) AdapterOption {
	return func(a *Adapter) { a.sleep = s }
}

// WithMetrics records outcomes and failed attempts.
func WithMetrics(m *metrics.Metrics) AdapterOption {
	return func(a *Adapter) { a.metrics = m }
}

// WithAttemptHook adds a side channel for failed attempts.
func WithAttemptHook(h retry.Hook) AdapterOption {
	return func(a *Adapter) { a.hooks = append(a.hooks, h) }
}

// WithClock replaces time.Now for generated names.
func WithClock(now func() time.Time) AdapterOption {
	return func(a *Adapter) { a.now = now }
}

// WithTokenSource replaces the random part of generated names.
func WithTokenSource(fn func() string) AdapterOption {
	return func(a *Adapter) { a.token = fn }
}

// WithLogger sets the logger for swallowed cache errors.
func WithLogger(l *slog.Logger) AdapterOption {
	return func(a *Adapter) { a.logger = l }
}

// NewAdapter wraps backend with the public URL policy by default.
func NewAdapter(backend Backend, opts ...AdapterOption) *Adapter {
	a := &Adapter{
		backend:   backend,
		policy:    PolicyPublic,
		signedTTL: DefaultSignedURLTTL,
		retry:     retry.DefaultPolicy(),
		now:       time.Now,
		token:     util.NewID,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Policy reports the configured URL policy.
func (a *Adapter) Policy() URLPolicy { return a.policy }

func (a *Adapter) options(ctx context.Context, op string) []retry.Option {
	opts := []retry.Option{
		retry.WithOp(component + "." + op),
		retry.WithPolicy(a.retry),
		retry.WithObserver(func(at retry.Attempt) {
			a.metrics.Observer(component)(at)
			for _, h := range a.hooks {
				h(ctx, at)
			}
		}),
	}
	if a.sleep != nil {
		opts = append(opts, retry.WithSleeper(a.sleep))
	}
	return opts
}

// Upload writes blob below destination and returns where it landed. A
// destination ending in "/" gets a collision resistant generated name.
func (a *Adapter) Upload(ctx context.Context, blob domain.Blob, destination string) (res domain.UploadResult, err error) {
	defer func(start time.Time) { a.metrics.Done(component, "upload", start, err) }(time.Now())
	key := ObjectKey(destination, blob.Name, blob.ContentType, a.now(), a.token())
	if key == "" {
		return domain.UploadResult{Error: ErrEmptyPath.Error()}, ErrEmptyPath
	}
	contentType := blob.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	err = retry.Do(ctx, func(ctx context.Context) error {
		return a.backend.Put(ctx, key, bytes.NewReader(blob.Data), blob.Size(), contentType)
	}, a.options(ctx, "upload")...)
	if err != nil {
		return domain.UploadResult{Error: err.Error()}, err
	}
	url, err := a.ResolveURL(ctx, key, 0)
	if err != nil {
		// the object exists, so report the path and let the caller decide
		return domain.UploadResult{Path: key, Error: err.Error()}, fmt.Errorf("resolve url: %w", err)
	}
	return domain.UploadResult{Success: true, URL: url, Path: key}, nil
}

// Delete removes path. A path that is already gone counts as deleted.
func (a *Adapter) Delete(ctx context.Context, path string) (ok bool, err error) {
	defer func(start time.Time) { a.metrics.Done(component, "delete", start, err) }(time.Now())
	if path == "" {
		return false, ErrEmptyPath
	}
	err = retry.Do(ctx, func(ctx context.Context) error {
		err := a.backend.Delete(ctx, path)
		if errors.Is(err, ErrObjectNotFound) {
			return nil
		}
		return err
	}, a.options(ctx, "delete")...)
	if err != nil {
		return false, err
	}
	return true, nil
}

// Exists reports whether path is stored.
func (a *Adapter) Exists(ctx context.Context, path string) (bool, error) {
	if path == "" {
		return false, nil
	}
	return retry.Value(ctx, func(ctx context.Context) (bool, error) {
		return a.backend.Exists(ctx, path)
	}, a.options(ctx, "exists")...)
}

// ResolveURL returns the address readers should use for path under the
// configured policy. An empty path resolves to "". ttl <= 0 uses the
// configured signed URL lifetime.
func (a *Adapter) ResolveURL(ctx context.Context, path string, ttl time.Duration) (string, error) {
	if path == "" {
		return "", nil
	}
	if a.policy != PolicySigned {
		return a.backend.PublicURL(path), nil
	}
	if ttl <= 0 {
		ttl = a.signedTTL
	}
	cacheKey := path + "|" + strconv.FormatInt(int64(ttl/time.Second), 10)
	v, err, _ := a.group.Do(cacheKey, func() (any, error) {
		if a.cache != nil {
			cached, ok, err := a.cache.Get(ctx, cacheKey)
			if err != nil {
				a.logger.Warn("signed url cache read failed", "path", path, "err", err)
			} else if ok {
				return cached, nil
			}
		}
		url, err := retry.Value(ctx, func(ctx context.Context) (string, error) {
			return a.backend.PresignGet(ctx, path, ttl)
		}, a.options(ctx, "presign")...)
		if err != nil {
			return "", err
		}
		if a.cache != nil {
			// half the lifetime so a cached URL always has time left
			if err := a.cache.Set(ctx, cacheKey, url, ttl/2); err != nil {
				a.logger.Warn("signed url cache write failed", "path", path, "err", err)
			}
		}
		return url, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}
