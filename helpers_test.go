package offlinecache_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	offlinecache "github.com/dgduncan/go-offline-cache"
	"github.com/dgduncan/go-offline-cache/caches/local"
)

var errOffline = errors.New("network unreachable")

func testTime() time.Time {
	return time.Date(2023, 1, 1, 12, 0, 0, 0, time.UTC)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// network counts round trips and can be switched off.
type network struct {
	next    http.RoundTripper
	calls   atomic.Int64
	offline atomic.Bool
}

func newNetwork(next http.RoundTripper) *network {
	return &network{next: next}
}

func (n *network) RoundTrip(r *http.Request) (*http.Response, error) {
	n.calls.Add(1)
	if n.offline.Load() {
		return nil, errOffline
	}
	return n.next.RoundTrip(r)
}

// origin serves every path with a body naming the path and counts hits.
type origin struct {
	*httptest.Server

	mu     sync.Mutex
	hits   map[string]int
	status map[string]int
}

func newOrigin(t *testing.T) *origin {
	t.Helper()

	o := &origin{hits: map[string]int{}, status: map[string]int{}}
	o.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		o.mu.Lock()
		o.hits[r.URL.Path]++
		status, ok := o.status[r.URL.Path]
		o.mu.Unlock()
		if !ok {
			status = http.StatusOK
		}

		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(status)
		_, _ = w.Write([]byte("content of " + r.URL.Path))
	}))
	t.Cleanup(o.Close)
	return o
}

func (o *origin) setStatus(path string, status int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.status[path] = status
}

func (o *origin) hitCount(path string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.hits[path]
}

// recordingHost is a Host that records what the worker asked for.
type recordingHost struct {
	mu           sync.Mutex
	unregistered int
	skipWaiting  int
	claimed      int
	opened       []string
}

func (h *recordingHost) SkipWaiting(context.Context, *offlinecache.Worker) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.skipWaiting++
	return nil
}

func (h *recordingHost) ClaimClients(context.Context, *offlinecache.Worker) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.claimed++
	return nil
}

func (h *recordingHost) Unregister(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unregistered++
	return nil
}

func (h *recordingHost) OpenWindow(_ context.Context, url string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.opened = append(h.opened, url)
	return nil
}

func testConfig(originURL string, version string) offlinecache.Config {
	cfg := offlinecache.DefaultConfig()
	cfg.Origin = originURL
	cfg.Version = version
	return cfg
}

func newWorker(t *testing.T, cfg offlinecache.Config, storage offlinecache.Storage, rt http.RoundTripper, opts ...offlinecache.Option) *offlinecache.Worker {
	t.Helper()

	opts = append([]offlinecache.Option{
		offlinecache.WithLogger(discardLogger()),
		offlinecache.WithClock(testTime),
	}, opts...)
	w, err := offlinecache.NewWorker(cfg, storage, rt, opts...)
	require.NoError(t, err)
	return w
}

// activate runs install and activate on w.
func activate(t *testing.T, w *offlinecache.Worker) {
	t.Helper()

	ctx := context.Background()
	_, err := w.Dispatch(ctx, offlinecache.InstallEvent{})
	require.NoError(t, err)
	_, err = w.Dispatch(ctx, offlinecache.ActivateEvent{})
	require.NoError(t, err)
	require.Equal(t, offlinecache.StateActive, w.State())
}

func newActiveWorker(t *testing.T, cfg offlinecache.Config, rt http.RoundTripper, opts ...offlinecache.Option) (*offlinecache.Worker, *local.BasicCache) {
	t.Helper()

	storage := local.NewBasicCache()
	w := newWorker(t, cfg, storage, rt, opts...)
	activate(t, w)
	return w, storage
}

func get(t *testing.T, rt http.RoundTripper, url string, header map[string]string) (*http.Response, error) {
	t.Helper()

	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	return rt.RoundTrip(req)
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()

	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}
