package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"wallpapers/internal/ratelimit"
	"wallpapers/pkg/domain"
	"wallpapers/pkg/fault"
	"wallpapers/pkg/metrics"
	"wallpapers/pkg/notify"
	"wallpapers/pkg/queue"
	"wallpapers/pkg/retry"
	"wallpapers/pkg/storage"
	"wallpapers/pkg/store"
)

const (
	defaultMaxUploadBytes = 10 * 1024 * 1024
	imageRoot             = "wallpapers"
)

var defaultContentTypes = []string{"image/jpeg", "image/png", "image/webp", "image/gif"}

// OrphanQueue accepts objects that could not be deleted inline.
type OrphanQueue interface {
	Enqueue(ctx context.Context, path, reason string) (queue.CleanupJob, error)
}

// Config holds the collaborators of the core application.
type Config struct {
	Documents           *store.Adapter
	Objects             *storage.Adapter
	Notifier            notify.Notifier
	Orphans             OrphanQueue
	UploadLimiter       *ratelimit.FixedWindowLimiter
	Metrics             *metrics.Metrics
	Logger              *slog.Logger
	Capability          Capability
	HTTPClient          *http.Client
	MaxUploadBytes      int64
	AllowedContentTypes []string
	RetryPolicy         retry.Policy
	Sleeper             retry.Sleeper
	Now                 func() time.Time
}

// App is the wallpaper facade used by the HTTP server and embedders.
type App struct {
	documents      *store.Adapter
	objects        *storage.Adapter
	notifier       notify.Notifier
	orphans        OrphanQueue
	uploads        *ratelimit.FixedWindowLimiter
	metrics        *metrics.Metrics
	logger         *slog.Logger
	capability     Capability
	httpClient     *http.Client
	maxUploadBytes int64
	contentTypes   map[string]struct{}
	retryPolicy    retry.Policy
	sleep          retry.Sleeper
	now            func() time.Time
}

// New constructs the application. Documents and Objects are required.
func New(cfg Config) (*App, error) {
	if cfg.Documents == nil {
		return nil, fmt.Errorf("document store required")
	}
	if cfg.Objects == nil {
		return nil, fmt.Errorf("object store required")
	}
	a := &App{
		documents:      cfg.Documents,
		objects:        cfg.Objects,
		notifier:       cfg.Notifier,
		orphans:        cfg.Orphans,
		uploads:        cfg.UploadLimiter,
		metrics:        cfg.Metrics,
		logger:         cfg.Logger,
		capability:     cfg.Capability,
		httpClient:     cfg.HTTPClient,
		maxUploadBytes: cfg.MaxUploadBytes,
		retryPolicy:    cfg.RetryPolicy,
		sleep:          cfg.Sleeper,
		now:            cfg.Now,
	}
	if a.notifier == nil {
		a.notifier = notify.Discard
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	if a.httpClient == nil {
		a.httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	if a.maxUploadBytes <= 0 {
		a.maxUploadBytes = defaultMaxUploadBytes
	}
	if a.now == nil {
		a.now = time.Now
	}
	types := cfg.AllowedContentTypes
	if len(types) == 0 {
		types = defaultContentTypes
	}
	a.contentTypes = make(map[string]struct{}, len(types))
	for _, t := range types {
		a.contentTypes[strings.ToLower(strings.TrimSpace(t))] = struct{}{}
	}
	return a, nil
}

// MaxUploadBytes is the largest accepted image.
func (a *App) MaxUploadBytes() int64 { return a.maxUploadBytes }

// CleanupOrphan is the cleanup queue handler. An object still referenced by a
// wallpaper is left in place.
func (a *App) CleanupOrphan(ctx context.Context, job queue.CleanupJob) error {
	snaps, err := a.documents.Query(ctx, domain.CollectionWallpapers, store.Query{
		Predicates: []store.Predicate{store.Where(domain.FieldImagePath, store.OpEq, job.Path)},
		Limit:      1,
	})
	if err != nil {
		return fmt.Errorf("check references: %w", err)
	}
	if len(snaps) > 0 {
		a.logger.Info("orphan cleanup skipped, object still referenced", "path", job.Path, "wallpaper_id", snaps[0].ID)
		return nil
	}
	if _, err := a.objects.Delete(ctx, job.Path); err != nil {
		return err
	}
	a.logger.Info("orphaned object removed", "path", job.Path, "reason", job.Reason, "attempts", job.Attempts)
	return nil
}

// report sends the one terminal notification for a failed user action.
// Input and lookup errors are answered directly and not notified.
func (a *App) report(ctx context.Context, uid, op string, err error) error {
	var classified *fault.Error
	if err == nil || !errors.As(err, &classified) {
		return err
	}
	n := notify.Failure(uid, op, err)
	if nerr := a.notifier.Notify(ctx, n); nerr != nil {
		a.logger.Warn("failure notification not delivered", "uid", uid, "op", op, "err", nerr)
	}
	return err
}

func (a *App) userContext(ctx context.Context, uid string) context.Context {
	return notify.WithUID(ctx, uid)
}
