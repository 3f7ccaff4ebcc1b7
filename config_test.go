package offlinecache_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	offlinecache "github.com/dgduncan/go-offline-cache"
)

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("OFFLINE_CACHE_APP_NAME", "registre")
	t.Setenv("OFFLINE_CACHE_VERSION", "7")
	t.Setenv("OFFLINE_CACHE_ORIGIN", "https://registre.test")
	t.Setenv("OFFLINE_CACHE_STATIC_MANIFEST", "/,/index.html,/offline")
	t.Setenv("OFFLINE_CACHE_MESSAGE_TIMEOUT", "2s")

	cfg, err := offlinecache.LoadConfigFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "registre", cfg.AppName)
	assert.Equal(t, "7", cfg.Version)
	assert.Equal(t, "https://registre.test", cfg.Origin)
	assert.Equal(t, []string{"/", "/index.html", "/offline"}, cfg.StaticManifest)
	assert.Equal(t, 2*time.Second, cfg.MessageTimeout)
	assert.Equal(t, offlinecache.DefaultDevPatterns(), cfg.DevPatterns)
	assert.Equal(t, "/api/", cfg.APIPrefix)
}

func TestLoadConfigFromEnvDefaults(t *testing.T) {
	t.Setenv("OFFLINE_CACHE_VERSION", "")

	cfg, err := offlinecache.LoadConfigFromEnv()
	require.NoError(t, err)

	assert.Equal(t, offlinecache.Version, cfg.Version)
	assert.Equal(t, offlinecache.DefaultStaticManifest(), cfg.StaticManifest)
}

func TestLoadConfigFromEnvInvalid(t *testing.T) {
	t.Setenv("OFFLINE_CACHE_MESSAGE_TIMEOUT", "soon")

	_, err := offlinecache.LoadConfigFromEnv()
	assert.Error(t, err)
}

func TestNewScope(t *testing.T) {
	t.Parallel()

	cfg := testConfig("https://courrier.test", "42")
	cfg.StaticManifest = []string{"/", "/offline", "/"}

	scope, err := offlinecache.NewScope(cfg)
	require.NoError(t, err)

	assert.Equal(t, "courrier-static-v42", scope.StaticPartition)
	assert.Equal(t, "courrier-dynamic-v42", scope.DynamicPartition)
	assert.Equal(t, "courrier-v42", scope.CacheName())
	assert.Equal(t, []string{"courrier-static-v42", "courrier-dynamic-v42"}, scope.Partitions())
	assert.Equal(t, []string{"/", "/offline"}, scope.Manifest())
	assert.False(t, scope.Development)
}

func TestNewScopeInvalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*offlinecache.Config)
	}{
		{name: "empty app name", mutate: func(c *offlinecache.Config) { c.AppName = "" }},
		{name: "relative origin", mutate: func(c *offlinecache.Config) { c.Origin = "/app" }},
		{name: "unparsable origin", mutate: func(c *offlinecache.Config) { c.Origin = "http://[::1" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := testConfig("https://courrier.test", "1")
			tt.mutate(&cfg)

			_, err := offlinecache.NewScope(cfg)
			assert.ErrorIs(t, err, offlinecache.ErrInvalidConfig)
		})
	}
}

func TestPartitionName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "courrier-static-v1.4.0", offlinecache.PartitionName("courrier", "static", "1.4.0"))
}
