package offlinecache

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Host is the runtime a worker lives in. A Registration is the usual host;
// a worker without one uses a host that does nothing.
type Host interface {
	SkipWaiting(ctx context.Context, w *Worker) error
	ClaimClients(ctx context.Context, w *Worker) error
	Unregister(ctx context.Context) error
	OpenWindow(ctx context.Context, url string) error
}

// Worker is one version of the offline cache. It intercepts requests as an
// http.RoundTripper once active and owns the partitions named after its
// version.
type Worker struct {
	// Wrapped is the network. Every request the worker does not answer
	// itself goes through it.
	Wrapped http.RoundTripper

	id       string
	scope    Scope
	store    *Store
	routes   []Route
	logger   *slog.Logger
	now      func() time.Time
	metrics  *Metrics
	notifier Notifier

	mu              sync.Mutex
	state           State
	skipWaitingFlag bool
	listeners       []func(State)
	h               Host

	inflight sync.WaitGroup
}

// Option customises a Worker.
type Option func(*Worker)

// WithLogger sets the logger. A nil logger is ignored.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(w *Worker) {
		if now != nil {
			w.now = now
		}
	}
}

// WithMetrics records worker activity in m.
func WithMetrics(m *Metrics) Option {
	return func(w *Worker) { w.metrics = m }
}

// WithNotifier delivers push notifications through n.
func WithNotifier(n Notifier) Option {
	return func(w *Worker) { w.notifier = n }
}

// WithRoutes replaces the routing table. The table should end with a
// route matching every request.
func WithRoutes(routes []Route) Option {
	return func(w *Worker) { w.routes = routes }
}

// WithHost attaches the worker to a host before it is registered.
func WithHost(h Host) Option {
	return func(w *Worker) { w.h = h }
}

// NewWorker builds a worker for cfg that stores its partitions in storage
// and reaches the network through network. A nil network uses
// http.DefaultTransport.
func NewWorker(cfg Config, storage Storage, network http.RoundTripper, opts ...Option) (*Worker, error) {
	scope, err := NewScope(cfg)
	if err != nil {
		return nil, err
	}
	if network == nil {
		network = http.DefaultTransport
	}

	w := &Worker{
		Wrapped: network,
		id:      uuid.NewString(),
		scope:   scope,
		routes:  DefaultRoutes(),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:     time.Now,
		state:   StateParsed,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With("worker", w.id, "version", scope.Version)
	w.store = NewStore(storage, w.logger, w.now)

	return w, nil
}

// ID identifies this worker instance.
func (w *Worker) ID() string { return w.id }

// Scope returns the immutable configuration of the worker.
func (w *Worker) Scope() Scope { return w.scope }

// Store exposes the cache store manager of the worker.
func (w *Worker) Store() *Store { return w.store }

// Wait blocks until every message handler started by PostMessage returns.
func (w *Worker) Wait() { w.inflight.Wait() }

func (w *Worker) attach(h Host) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.h = h
}

func (w *Worker) host() Host {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.h == nil {
		return noopHost{}
	}
	return w.h
}

// scopeRequest builds a GET for a path inside the worker scope.
func (w *Worker) scopeRequest(ctx context.Context, path string) (*http.Request, error) {
	return http.NewRequestWithContext(ctx, http.MethodGet, w.scope.resolve(path), nil)
}

type noopHost struct{}

func (noopHost) SkipWaiting(context.Context, *Worker) error  { return nil }
func (noopHost) ClaimClients(context.Context, *Worker) error { return nil }
func (noopHost) Unregister(context.Context) error            { return nil }
func (noopHost) OpenWindow(context.Context, string) error    { return nil }
