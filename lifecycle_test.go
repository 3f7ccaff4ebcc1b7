package offlinecache_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	offlinecache "github.com/dgduncan/go-offline-cache"
	"github.com/dgduncan/go-offline-cache/caches/local"
)

func TestInstallPrecachesStaticManifest(t *testing.T) {
	t.Parallel()

	o := newOrigin(t)
	cfg := testConfig(o.URL, "2")
	storage := local.NewBasicCache()
	host := &recordingHost{}
	w := newWorker(t, cfg, storage, http.DefaultTransport, offlinecache.WithHost(host))

	_, err := w.Dispatch(context.Background(), offlinecache.InstallEvent{})
	require.NoError(t, err)

	assert.Equal(t, offlinecache.StateWaiting, w.State())
	assert.True(t, w.SkipWaitingRequested())
	assert.Equal(t, 1, host.skipWaiting)

	static := w.Scope().StaticPartition
	assert.Equal(t, len(cfg.StaticManifest), storage.Len(static))

	for _, p := range cfg.StaticManifest {
		req, err := http.NewRequest(http.MethodGet, o.URL+p, nil)
		require.NoError(t, err)

		resp, ok := w.Store().MatchIn(context.Background(), static, req)
		require.True(t, ok, "expected %s to be cached", p)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "content of "+p, readBody(t, resp))
	}
}

func TestInstallFailureDoesNotBlockActivation(t *testing.T) {
	t.Parallel()

	o := newOrigin(t)
	o.setStatus("/logo512.png", http.StatusNotFound)

	cfg := testConfig(o.URL, "2")
	storage := local.NewBasicCache()
	host := &recordingHost{}
	w := newWorker(t, cfg, storage, http.DefaultTransport, offlinecache.WithHost(host))

	_, err := w.Dispatch(context.Background(), offlinecache.InstallEvent{})
	require.NoError(t, err)

	// all or nothing
	assert.Equal(t, 0, storage.Len(w.Scope().StaticPartition))
	assert.Equal(t, offlinecache.StateWaiting, w.State())
	assert.Equal(t, 1, host.skipWaiting)

	_, err = w.Dispatch(context.Background(), offlinecache.ActivateEvent{})
	require.NoError(t, err)
	assert.Equal(t, offlinecache.StateActive, w.State())
}

func TestActivateDeletesStalePartitions(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	storage := local.NewBasicCache()
	for _, name := range []string{"courrier-static-v1", "courrier-dynamic-v1", "courrier-static-v2"} {
		require.NoError(t, storage.Open(ctx, name))
	}

	cfg := testConfig("https://courrier.test", "2")
	cfg.StaticManifest = nil
	host := &recordingHost{}
	w := newWorker(t, cfg, storage, newNetwork(http.DefaultTransport), offlinecache.WithHost(host))
	activate(t, w)

	keys, err := storage.Keys(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"courrier-static-v2", "courrier-dynamic-v2"}, keys)
	assert.Equal(t, 1, host.claimed)
}

func TestLifecycleOrdering(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		events  []offlinecache.Event
		wantErr error
		want    offlinecache.State
	}{
		{
			name:    "activate before install",
			events:  []offlinecache.Event{offlinecache.ActivateEvent{}},
			wantErr: offlinecache.ErrInvalidTransition,
			want:    offlinecache.StateParsed,
		},
		{
			name:    "install twice",
			events:  []offlinecache.Event{offlinecache.InstallEvent{}, offlinecache.InstallEvent{}},
			wantErr: offlinecache.ErrInvalidTransition,
			want:    offlinecache.StateWaiting,
		},
		{
			name:   "install then activate",
			events: []offlinecache.Event{offlinecache.InstallEvent{}, offlinecache.ActivateEvent{}},
			want:   offlinecache.StateActive,
		},
		{
			name:    "activate twice",
			events:  []offlinecache.Event{offlinecache.InstallEvent{}, offlinecache.ActivateEvent{}, offlinecache.ActivateEvent{}},
			wantErr: offlinecache.ErrInvalidTransition,
			want:    offlinecache.StateActive,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := testConfig("https://courrier.test", "1")
			cfg.StaticManifest = nil
			w := newWorker(t, cfg, local.NewBasicCache(), newNetwork(http.DefaultTransport))

			var err error
			for _, ev := range tt.events {
				if _, err = w.Dispatch(context.Background(), ev); err != nil {
					break
				}
			}

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.want, w.State())
		})
	}
}

func TestStateChangesAreReported(t *testing.T) {
	t.Parallel()

	cfg := testConfig("https://courrier.test", "1")
	cfg.StaticManifest = nil
	w := newWorker(t, cfg, local.NewBasicCache(), newNetwork(http.DefaultTransport))

	var states []offlinecache.State
	w.OnStateChange(func(s offlinecache.State) { states = append(states, s) })
	activate(t, w)

	assert.Equal(t, []offlinecache.State{
		offlinecache.StateInstalling,
		offlinecache.StateWaiting,
		offlinecache.StateActivating,
		offlinecache.StateActive,
	}, states)
}

func TestFetchBeforeActivationPassesThrough(t *testing.T) {
	t.Parallel()

	o := newOrigin(t)
	cfg := testConfig(o.URL, "1")
	cfg.StaticManifest = nil
	storage := local.NewBasicCache()
	w := newWorker(t, cfg, storage, http.DefaultTransport)

	req, err := http.NewRequest(http.MethodGet, o.URL+"/courriers", nil)
	require.NoError(t, err)

	out, err := w.Dispatch(context.Background(), offlinecache.FetchEvent{Request: req})
	require.NoError(t, err)
	assert.False(t, out.Handled)

	resp, err := w.RoundTrip(req)
	require.NoError(t, err)
	assert.Equal(t, "content of /courriers", readBody(t, resp))

	keys, err := storage.Keys(context.Background())
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestDevelopmentOriginDisarmsWorker(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	nw := newNetwork(http.DefaultTransport)
	nw.offline.Store(true)

	cfg := testConfig("http://localhost:3000", "1")
	storage := local.NewBasicCache()
	host := &recordingHost{}
	w := newWorker(t, cfg, storage, nw, offlinecache.WithHost(host))
	require.True(t, w.Scope().Development)

	_, err := w.Dispatch(ctx, offlinecache.InstallEvent{})
	require.NoError(t, err)

	assert.Equal(t, 1, host.unregistered)
	assert.Equal(t, 1, host.skipWaiting)
	assert.Zero(t, nw.calls.Load(), "install must not fetch the manifest")

	keys, err := storage.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)

	_, err = w.Dispatch(ctx, offlinecache.ActivateEvent{})
	require.NoError(t, err)
	assert.Equal(t, 1, host.claimed)

	keys, err = storage.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)

	req, err := http.NewRequest(http.MethodGet, "http://localhost:3000/static/js/main.js", nil)
	require.NoError(t, err)
	out, err := w.Dispatch(ctx, offlinecache.FetchEvent{Request: req})
	require.NoError(t, err)
	assert.False(t, out.Handled)
}

func TestDevelopmentGuardNeedsHostAndPort(t *testing.T) {
	t.Parallel()

	tests := []struct {
		origin string
		want   bool
	}{
		{origin: "http://localhost:3000", want: true},
		{origin: "http://LOCALHOST:3000", want: true},
		{origin: "http://localhost:8080", want: false},
		{origin: "http://courrier.test:3000", want: false},
		{origin: "https://localhost", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			t.Parallel()

			scope, err := offlinecache.NewScope(testConfig(tt.origin, "1"))
			require.NoError(t, err)
			assert.Equal(t, tt.want, scope.Development)
		})
	}
}

func TestRedundantWorkerRejectsEvents(t *testing.T) {
	t.Parallel()

	o := newOrigin(t)
	cfg := testConfig(o.URL, "1")
	cfg.StaticManifest = nil

	reg := offlinecache.NewRegistration("/service-worker.js", nil, discardLogger())
	first := newWorker(t, cfg, local.NewBasicCache(), http.DefaultTransport)
	require.NoError(t, reg.Register(context.Background(), first))

	second := newWorker(t, testConfig(o.URL, "2"), local.NewBasicCache(), http.DefaultTransport)
	require.NoError(t, reg.Register(context.Background(), second))

	assert.Equal(t, offlinecache.StateRedundant, first.State())
	_, err := first.Dispatch(context.Background(), offlinecache.InstallEvent{})
	assert.ErrorIs(t, err, offlinecache.ErrRedundant)

	// a retired worker still lets traffic through
	resp, err := get(t, first, o.URL+"/courriers", nil)
	require.NoError(t, err)
	assert.Equal(t, "content of /courriers", readBody(t, resp))
}
