package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"flagsync/internal/config"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "flagsync",
		Short:         "Datafile sync and event delivery sidecar",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "Config file (.yaml, .yml, .json or .toml)")
	root.PersistentFlags().String("log-level", "", "Log level: debug|info|warn|error (default info)")
	root.PersistentFlags().String("log-format", "", "Log format: console|json (default console)")

	root.AddCommand(newRunCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version)
			return err
		},
	}
}

// loadConfig layers the config file, FLAGSYNC_* variables and explicitly
// set flags, in that order.
func loadConfig(flags *pflag.FlagSet) (config.Config, error) {
	var cfg config.Config
	if path, _ := flags.GetString("config"); path != "" {
		c, err := config.Load(path)
		if err != nil {
			return cfg, err
		}
		cfg = c
	}
	if err := config.ApplyEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, err
	}

	str := func(name string, dst *string) {
		if flags.Changed(name) {
			*dst, _ = flags.GetString(name)
		}
	}
	num := func(name string, dst *int) {
		if flags.Changed(name) {
			*dst, _ = flags.GetInt(name)
		}
	}
	dur := func(name string, dst *int) {
		if flags.Changed(name) {
			d, _ := flags.GetDuration(name)
			*dst = int(d / time.Millisecond)
		}
	}

	str("log-level", &cfg.LogLevel)
	str("log-format", &cfg.LogFormat)
	str("addr", &cfg.Addr)
	str("sdk-key", &cfg.SDKKey)
	str("datafile", &cfg.DatafilePath)
	str("access-token", &cfg.AccessToken)
	str("url-template", &cfg.URLTemplate)
	str("cache-directive", &cfg.CacheDirective)
	str("event-endpoint", &cfg.EventEndpoint)
	str("dispatcher", &cfg.DispatcherMode)
	num("max-queue-size", &cfg.MaxQueueSize)
	num("dispatch-concurrency", &cfg.DispatchConcurrency)
	dur("update-interval", &cfg.UpdateIntervalMS)
	dur("max-cache-age", &cfg.MaxCacheAgeMS)
	dur("request-timeout", &cfg.RequestTimeoutMS)
	dur("flush-interval", &cfg.FlushIntervalMS)
	dur("ready-timeout", &cfg.ReadyTimeoutMS)
	dur("shutdown-timeout", &cfg.ShutdownTimeoutMS)
	if flags.Changed("live-updates") {
		v, _ := flags.GetBool("live-updates")
		cfg.LiveUpdates = &v
	}
	if flags.Changed("cors-origins") {
		v, _ := flags.GetString("cors-origins")
		cfg.CORSOrigins = config.SplitCSV(v)
		cfg.CORSEnabled = len(cfg.CORSOrigins) > 0
	}
	if flags.Changed("tracing") {
		cfg.Tracing, _ = flags.GetBool("tracing")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	return cfg, cfg.Validate()
}

// newLogger builds the process logger from the configured level and format.
func newLogger(cfg config.Config, out io.Writer) (zerolog.Logger, error) {
	lvl := zerolog.InfoLevel
	if cfg.LogLevel != "" {
		l, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("log level: %w", err)
		}
		lvl = l
	}
	if strings.ToLower(cfg.LogFormat) != "json" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger(), nil
}
