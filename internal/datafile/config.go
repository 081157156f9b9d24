package datafile

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"flagsync/internal/scheduler"
	"flagsync/internal/telemetry"
	"flagsync/internal/transport"
)

// Defaults applied when corresponding Config fields are unset.
const (
	DefaultURLTemplate     = "https://cdn.optimizely.com/datafiles/%s.json"
	DefaultAuthURLTemplate = "https://config.optimizely.com/datafiles/auth/%s.json"

	defaultUpdateInterval = 5 * time.Minute
	minUpdateInterval     = time.Second
	defaultRequestTimeout = 60 * time.Second
)

// CacheDirective controls whether readiness waits for a first network refresh
// when a cached datafile is available.
type CacheDirective string

const (
	// CacheAwait holds the cached datafile as a fallback and waits for the first fetch.
	CacheAwait CacheDirective = "await"
	// CacheDontAwait uses the cached datafile immediately and refreshes in the background.
	CacheDontAwait CacheDirective = "dont_await"
)

// ParseCacheDirective accepts "await" or "dont_await" (case-insensitive,
// '-' accepted for '_'). Empty selects CacheDontAwait.
func ParseCacheDirective(s string) (CacheDirective, error) {
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_") {
	case "", string(CacheDontAwait):
		return CacheDontAwait, nil
	case string(CacheAwait):
		return CacheAwait, nil
	}
	return "", fmt.Errorf("unknown cache directive: %q", s)
}

// Config encapsulates all tunables for Manager construction.
type Config struct {
	// SDKKey identifies the datafile and keys the cache.
	SDKKey string
	// Datafile is an optional seed; when set the manager is ready without a fetch.
	Datafile string
	// AccessToken selects the authenticated endpoint and is sent as a bearer token.
	AccessToken string
	// URLTemplate is formatted with SDKKey.
	URLTemplate string

	LiveUpdates    bool
	UpdateInterval time.Duration
	// MaxCacheAge marks older cache entries as stale. Zero means never stale.
	MaxCacheAge    time.Duration
	CacheDirective CacheDirective
	// RequestTimeout applies to the default transport only.
	RequestTimeout time.Duration

	Cache     Cache
	Transport transport.Transport
	Scheduler scheduler.Scheduler
	Now       func() time.Time
	Logger    *zerolog.Logger
	Publisher telemetry.Publisher
}

// withDefaults returns a copy of cfg with every unset field filled in.
func (cfg Config) withDefaults(log zerolog.Logger) Config {
	if cfg.URLTemplate == "" {
		if cfg.AccessToken != "" {
			cfg.URLTemplate = DefaultAuthURLTemplate
		} else {
			cfg.URLTemplate = DefaultURLTemplate
		}
	}
	if cfg.UpdateInterval <= 0 {
		cfg.UpdateInterval = defaultUpdateInterval
	} else if cfg.UpdateInterval < minUpdateInterval {
		log.Warn().Dur("requested", cfg.UpdateInterval).Dur("min", minUpdateInterval).Msg("update interval below minimum, using minimum")
		cfg.UpdateInterval = minUpdateInterval
	}
	if cfg.MaxCacheAge < 0 {
		cfg.MaxCacheAge = 0
	}
	if cfg.CacheDirective == "" {
		cfg.CacheDirective = CacheDontAwait
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.Cache == nil {
		cfg.Cache = NewMemoryCache()
	}
	if cfg.Transport == nil {
		cfg.Transport = transport.New(transport.Config{Timeout: cfg.RequestTimeout})
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = scheduler.Real{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	cfg.Publisher = telemetry.OrNop(cfg.Publisher)
	return cfg
}
