package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"wallpapers/pkg/metrics"
	"wallpapers/pkg/retry"
)

const component = "documents"

// Adapter runs every Backend call through the retry coordinator.
type Adapter struct {
	backend Backend
	policy  retry.Policy
	sleep   retry.Sleeper
	metrics *metrics.Metrics
	hooks   []retry.Hook
	newID   func() string
}

// AdapterOption configures an Adapter.
type AdapterOption func(*Adapter)

// WithRetryPolicy overrides the default 3 attempts from 1s.
func WithRetryPolicy(p retry.Policy) AdapterOption {
	return func(a *Adapter) { a.policy = p }
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

// WithIDGenerator replaces the auto-id source.
func WithIDGenerator(fn func() string) AdapterOption {
	return func(a *Adapter) { a.newID = fn }
}

// NewAdapter wraps backend.
func NewAdapter(backend Backend, opts ...AdapterOption) *Adapter {
	a := &Adapter{
		backend: backend,
		policy:  retry.DefaultPolicy(),
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Adapter) options(ctx context.Context, op string) []retry.Option {
	opts := []retry.Option{
		retry.WithOp(component + "." + op),
		retry.WithPolicy(a.policy),
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

// Create writes data under an explicit id, replacing any existing document.
func (a *Adapter) Create(ctx context.Context, collection, id string, data Document) (err error) {
	defer func(start time.Time) { a.metrics.Done(component, "create", start, err) }(time.Now())
	if err := validateKey(collection, id); err != nil {
		return err
	}
	return retry.Do(ctx, func(ctx context.Context) error {
		return a.backend.Set(ctx, collection, id, data)
	}, a.options(ctx, "create")...)
}

// CreateAutoID stores data under a fresh id and returns it. The id is drawn
// once, so a retried write targets the same document. The id is returned with
// the error too: a write whose outcome is unknown may still have landed.
func (a *Adapter) CreateAutoID(ctx context.Context, collection string, data Document) (id string, err error) {
	defer func(start time.Time) { a.metrics.Done(component, "create", start, err) }(time.Now())
	id = a.newID()
	if err := validateKey(collection, id); err != nil {
		return "", err
	}
	err = retry.Do(ctx, func(ctx context.Context) error {
		return a.backend.Set(ctx, collection, id, data)
	}, a.options(ctx, "create")...)
	return id, err
}

// Read returns the document, or ok=false when it does not exist.
func (a *Adapter) Read(ctx context.Context, collection, id string) (doc Document, ok bool, err error) {
	defer func(start time.Time) { a.metrics.Done(component, "read", start, err) }(time.Now())
	if err := validateKey(collection, id); err != nil {
		return nil, false, err
	}
	type result struct {
		doc Document
		ok  bool
	}
	res, err := retry.Value(ctx, func(ctx context.Context) (result, error) {
		doc, ok, err := a.backend.Get(ctx, collection, id)
		return result{doc: doc, ok: ok}, err
	}, a.options(ctx, "read")...)
	if err != nil {
		return nil, false, err
	}
	return res.doc, res.ok, nil
}

// Update merges partial into an existing document. A missing document fails
// with ErrNotFound and is not retried.
func (a *Adapter) Update(ctx context.Context, collection, id string, partial Document) (err error) {
	defer func(start time.Time) { a.metrics.Done(component, "update", start, err) }(time.Now())
	if err := validateKey(collection, id); err != nil {
		return err
	}
	return retry.Do(ctx, func(ctx context.Context) error {
		return a.backend.Update(ctx, collection, id, partial)
	}, a.options(ctx, "update")...)
}

// Delete removes a document. A missing document fails with ErrNotFound.
func (a *Adapter) Delete(ctx context.Context, collection, id string) (err error) {
	defer func(start time.Time) { a.metrics.Done(component, "delete", start, err) }(time.Now())
	if err := validateKey(collection, id); err != nil {
		return err
	}
	return retry.Do(ctx, func(ctx context.Context) error {
		return a.backend.Delete(ctx, collection, id)
	}, a.options(ctx, "delete")...)
}

// Query returns matching documents with their ids.
func (a *Adapter) Query(ctx context.Context, collection string, q Query) (res []Snapshot, err error) {
	defer func(start time.Time) { a.metrics.Done(component, "query", start, err) }(time.Now())
	if err := q.Validate(); err != nil {
		return nil, err
	}
	return retry.Value(ctx, func(ctx context.Context) ([]Snapshot, error) {
		return a.backend.Query(ctx, collection, q)
	}, a.options(ctx, "query")...)
}
