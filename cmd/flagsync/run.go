package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"flagsync/internal/agent"
	"flagsync/internal/httpapi"
	"flagsync/internal/telemetry"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Sync the datafile and serve the HTTP surface",
		Example: "  flagsync run --sdk-key ABC123\n" +
			"  flagsync run --config flagsync.yaml --dispatcher buffered",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd)
		},
	}
	f := cmd.Flags()
	f.String("addr", "", "HTTP listen address (default :8080)")
	f.String("sdk-key", "", "SDK key identifying the datafile")
	f.String("datafile", "", "Seed datafile path")
	f.String("access-token", "", "Access token for authenticated datafiles")
	f.String("url-template", "", "Datafile URL template, formatted with the SDK key")
	f.Bool("live-updates", true, "Poll for datafile updates")
	f.Duration("update-interval", 0, "Datafile poll interval (default 5m)")
	f.Duration("max-cache-age", 0, "Ignore cached datafiles older than this (0 = never stale)")
	f.String("cache-directive", "", "await|dont_await: whether readiness waits for a fresh fetch when cached")
	f.Duration("request-timeout", 0, "Outbound request timeout (default 60s)")
	f.String("event-endpoint", "", "Event collector URL")
	f.Duration("flush-interval", 0, "Event flush interval (default 30s)")
	f.Int("max-queue-size", 0, "Events per batch before an immediate flush (default 3000)")
	f.String("dispatcher", "", "immediate|buffered")
	f.Int("dispatch-concurrency", 0, "Concurrent requests of the buffered dispatcher")
	f.Duration("ready-timeout", 0, "How long to wait for the first datafile at startup")
	f.Duration("shutdown-timeout", 0, "Shutdown budget for flushing events")
	f.String("cors-origins", "", "Comma-separated allowed CORS origins (enables CORS)")
	f.Bool("tracing", false, "Enable OpenTelemetry HTTP instrumentation")
	return cmd
}

func runDaemon(cmd *cobra.Command) error {
	cfg, err := loadConfig(cmd.Flags())
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg, os.Stderr)
	if err != nil {
		return err
	}

	promPub, err := telemetry.NewPrometheusPublisher(prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}
	ac, err := agent.ConfigFrom(cfg, &logger, promPub)
	if err != nil {
		return err
	}
	client := agent.New(ac)
	client.Start()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := client.OnReady(ctx, agent.ReadyTimeout(cfg)); err != nil {
		// Keep serving: /readyz reports the state and polling continues.
		logger.Warn().Err(err).Msg("datafile not ready at startup")
	}

	httpapi.SetLogger(logger.With().Str("component", "http").Logger())
	httpapi.SetBaseContext(ctx)
	httpapi.SetMaxBodyBytes(cfg.MaxBodyBytes)
	httpapi.SetCORSOptions(cfg.CORSEnabled, cfg.CORSOrigins, []string{"GET", "POST", "OPTIONS"}, []string{"Content-Type"})
	httpapi.SetTracing(cfg.Tracing)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.NewMux(agent.NewService(client)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Addr).Str("version", version).Msg("flagsync listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			logger.Error().Err(err).Msg("server error")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), agent.ShutdownTimeout(cfg))
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("graceful shutdown error")
	}
	res := client.Close(shutdownCtx)
	if !res.Success {
		logger.Warn().Str("reason", res.Reason).Msg("agent shutdown incomplete")
	}
	logger.Info().Msg("flagsync stopped")
	return <-serveErr
}
