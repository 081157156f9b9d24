package agent

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"flagsync/internal/common/fsutil"
	"flagsync/internal/config"
	"flagsync/internal/datafile"
	"flagsync/internal/dispatcher"
	"flagsync/internal/processor"
	"flagsync/internal/telemetry"
	"flagsync/internal/transport"
)

// Timeouts used by the daemon when the file config leaves them unset.
const (
	DefaultReadyTimeout    = 10 * time.Second
	DefaultShutdownTimeout = 15 * time.Second
)

// ConfigFrom translates a file config into engine configuration, reading the
// seed datafile when one is configured. Live updates default to on whenever
// an SDK key is present.
func ConfigFrom(c config.Config, log *zerolog.Logger, pub telemetry.Publisher) (Config, error) {
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	directive, err := datafile.ParseCacheDirective(c.CacheDirective)
	if err != nil {
		return Config{}, err
	}
	var seed string
	if c.DatafilePath != "" {
		if seed, err = fsutil.ReadDatafile(c.DatafilePath); err != nil {
			return Config{}, err
		}
	}
	live := c.SDKKey != ""
	if c.LiveUpdates != nil {
		live = *c.LiveUpdates && c.SDKKey != ""
	}

	requestTimeout := ms(c.RequestTimeoutMS)
	tr := transport.New(transport.Config{Timeout: requestTimeout, Tracing: c.Tracing})

	var disp dispatcher.Dispatcher
	dc := dispatcher.Config{Transport: tr, MaxConcurrent: c.DispatchConcurrency, Logger: log, Publisher: pub}
	switch c.DispatcherMode {
	case config.DispatcherBuffered:
		disp = dispatcher.NewBuffered(dc)
	case "", config.DispatcherImmediate:
		disp = dispatcher.NewImmediate(dc)
	default:
		return Config{}, fmt.Errorf("unknown dispatcher mode %q", c.DispatcherMode)
	}

	return Config{
		Datafile: datafile.Config{
			SDKKey:         c.SDKKey,
			Datafile:       seed,
			AccessToken:    c.AccessToken,
			URLTemplate:    c.URLTemplate,
			LiveUpdates:    live,
			UpdateInterval: ms(c.UpdateIntervalMS),
			MaxCacheAge:    ms(c.MaxCacheAgeMS),
			CacheDirective: directive,
			RequestTimeout: requestTimeout,
		},
		Processor: processor.Config{
			FlushInterval: ms(c.FlushIntervalMS),
			MaxQueueSize:  c.MaxQueueSize,
			Endpoint:      c.EventEndpoint,
			Dispatcher:    disp,
		},
		Transport: tr,
		Logger:    log,
		Publisher: pub,
	}, nil
}

// ReadyTimeout returns the configured readiness wait.
func ReadyTimeout(c config.Config) time.Duration {
	if c.ReadyTimeoutMS > 0 {
		return ms(c.ReadyTimeoutMS)
	}
	return DefaultReadyTimeout
}

// ShutdownTimeout returns the configured shutdown budget.
func ShutdownTimeout(c config.Config) time.Duration {
	if c.ShutdownTimeoutMS > 0 {
		return ms(c.ShutdownTimeoutMS)
	}
	return DefaultShutdownTimeout
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }
