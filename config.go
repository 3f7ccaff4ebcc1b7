package offlinecache

import (
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Version is the build token embedded in every partition name. Release
// builds override it with -ldflags "-X github.com/dgduncan/go-offline-cache.Version=<token>".
var Version = "dev"

type Config struct {
	// AppName prefixes every partition name, eg. courrier-static-v42.
	AppName string `env:"APP_NAME" envDefault:"courrier"`

	// Version defaults to the package level Version when empty.
	Version string `env:"VERSION"`

	// Origin is the scope the worker controls. Static manifest paths and
	// fallback documents are resolved against it.
	Origin string `env:"ORIGIN" envDefault:"http://localhost:8080"`

	APIPrefix string `env:"API_PREFIX" envDefault:"/api/"`

	// StaticManifest lists the paths pre-cached on install.
	StaticManifest []string `env:"STATIC_MANIFEST" envSeparator:","`

	OfflinePath string `env:"OFFLINE_PATH" envDefault:"/offline"`
	ShellPath   string `env:"SHELL_PATH" envDefault:"/index.html"`

	// DevHost and DevPort identify the live-reloading development server.
	// A worker whose origin matches both disarms itself.
	DevHost string `env:"DEV_HOST" envDefault:"localhost"`
	DevPort string `env:"DEV_PORT" envDefault:"3000"`

	// DevPatterns are URL fragments of development tooling that must never
	// be intercepted (hot reload endpoints, source files, cache busting).
	DevPatterns []string `env:"DEV_PATTERNS" envSeparator:","`

	// OfflineMessage is the human readable message of the synthesized API error.
	OfflineMessage string `env:"OFFLINE_MESSAGE" envDefault:"Vous êtes hors ligne. Les données affichées peuvent ne pas être à jour."`

	// MessageTimeout bounds how long a page waits for a worker reply.
	MessageTimeout time.Duration `env:"MESSAGE_TIMEOUT" envDefault:"5s"`
}

// DefaultStaticManifest is the application shell of the courrier front-end.
func DefaultStaticManifest() []string {
	return []string{
		"/",
		"/index.html",
		"/manifest.json",
		"/favicon.ico",
		"/logo192.png",
		"/logo512.png",
		"/apple-touch-icon.png",
		"/login",
		"/dashboard",
		"/courriers",
		"/courriers/new",
		"/profile",
		"/offline",
	}
}

// DefaultDevPatterns matches the tooling traffic of a webpack or vite dev server.
func DefaultDevPatterns() []string {
	return []string{
		"hot-update",
		"sockjs-node",
		"__webpack_hmr",
		"/@vite/",
		"/@react-refresh",
		"/src/",
		".map",
		"?t=",
		"&t=",
	}
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() Config {
	return Config{
		AppName:        "courrier",
		Version:        Version,
		Origin:         "http://localhost:8080",
		APIPrefix:      "/api/",
		StaticManifest: DefaultStaticManifest(),
		OfflinePath:    "/offline",
		ShellPath:      "/index.html",
		DevHost:        "localhost",
		DevPort:        "3000",
		DevPatterns:    DefaultDevPatterns(),
		OfflineMessage: "Vous êtes hors ligne. Les données affichées peuvent ne pas être à jour.",
		MessageTimeout: 5 * time.Second,
	}
}

// LoadConfigFromEnv reads OFFLINE_CACHE_* variables on top of the defaults.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "OFFLINE_CACHE_"}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if len(cfg.StaticManifest) == 0 {
		cfg.StaticManifest = DefaultStaticManifest()
	}
	if len(cfg.DevPatterns) == 0 {
		cfg.DevPatterns = DefaultDevPatterns()
	}
	if cfg.Version == "" {
		cfg.Version = Version
	}
	return cfg, nil
}

// Scope is the immutable view of a Config a worker runs with. It is built
// once per worker so that every handler sees the same partition names, even
// when a newer build starts next to it.
type Scope struct {
	Origin  *url.URL
	AppName string
	Version string

	StaticPartition  string
	DynamicPartition string

	// Development is true when the origin is the development server.
	Development bool

	apiPrefix      string
	manifest       map[string]struct{}
	manifestPaths  []string
	offlinePath    string
	shellPath      string
	devPatterns    []string
	offlineMessage string
}

// NewScope validates cfg and derives the partition names and the
// development flag from it.
func NewScope(cfg Config) (Scope, error) {
	if cfg.AppName == "" {
		return Scope{}, fmt.Errorf("%w: empty app name", ErrInvalidConfig)
	}
	version := cfg.Version
	if version == "" {
		version = Version
	}

	origin, err := url.Parse(cfg.Origin)
	if err != nil {
		return Scope{}, fmt.Errorf("%w: origin: %w", ErrInvalidConfig, err)
	}
	if origin.Scheme == "" || origin.Host == "" {
		return Scope{}, fmt.Errorf("%w: origin %q is not absolute", ErrInvalidConfig, cfg.Origin)
	}

	manifest := make(map[string]struct{}, len(cfg.StaticManifest))
	paths := make([]string, 0, len(cfg.StaticManifest))
	for _, p := range cfg.StaticManifest {
		if _, dup := manifest[p]; dup {
			continue
		}
		manifest[p] = struct{}{}
		paths = append(paths, p)
	}

	apiPrefix := cfg.APIPrefix
	if apiPrefix == "" {
		apiPrefix = "/api/"
	}

	return Scope{
		Origin:           origin,
		AppName:          cfg.AppName,
		Version:          version,
		StaticPartition:  PartitionName(cfg.AppName, "static", version),
		DynamicPartition: PartitionName(cfg.AppName, "dynamic", version),
		Development:      isDevelopmentOrigin(origin, cfg.DevHost, cfg.DevPort),

		apiPrefix:      apiPrefix,
		manifest:       manifest,
		manifestPaths:  paths,
		offlinePath:    cfg.OfflinePath,
		shellPath:      cfg.ShellPath,
		devPatterns:    append([]string(nil), cfg.DevPatterns...),
		offlineMessage: cfg.OfflineMessage,
	}, nil
}

// PartitionName builds <app>-<kind>-v<version>.
func PartitionName(app, kind, version string) string {
	return app + "-" + kind + "-v" + version
}

// CacheName is the umbrella identifier of this version, <app>-v<version>.
// No partition carries it; it names the version in replies and logs.
func (s Scope) CacheName() string {
	return s.AppName + "-v" + s.Version
}

// Partitions returns the names this scope owns. Everything else in storage
// is stale from this worker's point of view.
func (s Scope) Partitions() []string {
	return []string{s.StaticPartition, s.DynamicPartition}
}

// Manifest returns the static manifest paths in declaration order.
func (s Scope) Manifest() []string {
	return append([]string(nil), s.manifestPaths...)
}

func (s Scope) inManifest(path string) bool {
	_, ok := s.manifest[path]
	return ok
}

// resolve turns a reference relative to the scope into an absolute URL.
func (s Scope) resolve(ref string) string {
	u, err := url.Parse(ref)
	if err != nil {
		u = &url.URL{Path: ref}
	}
	return s.Origin.ResolveReference(u).String()
}

func isDevelopmentOrigin(origin *url.URL, host, port string) bool {
	if host == "" {
		return false
	}
	h, p, err := net.SplitHostPort(origin.Host)
	if err != nil {
		h = origin.Hostname()
		p = origin.Port()
	}
	return strings.EqualFold(h, host) && p == port
}
