package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/rflorenc/state-handoff/internal/api"
	"github.com/rflorenc/state-handoff/internal/config"
	"github.com/rflorenc/state-handoff/internal/events"
	"github.com/rflorenc/state-handoff/internal/handoff"
	"github.com/rflorenc/state-handoff/internal/host"
	"github.com/rflorenc/state-handoff/internal/metrics"
	"github.com/rflorenc/state-handoff/internal/store"
)

const shutdownTimeout = 10 * time.Second

// ServeCmd implements the 'serve' command. Flags override the config file
// and the environment.
type ServeCmd struct {
	Listen      string `help:"HTTP listen address"`
	StoreDriver string `name:"store" help:"State backend (memory, sqlite, nats)"`
	StorePath   string `name:"store-path" help:"SQLite database file"`
	NATSURL     string `name:"nats-url" help:"NATS server for the nats store and event publishing"`
}

func (s *ServeCmd) apply(cfg *config.Config) {
	if s.Listen != "" {
		cfg.Listen = s.Listen
	}
	if s.StoreDriver != "" {
		cfg.Store.Driver = s.StoreDriver
	}
	if s.StorePath != "" {
		cfg.Store.Path = s.StorePath
	}
	if s.NATSURL != "" {
		cfg.Store.NATSURL = s.NATSURL
		cfg.Events.NATSURL = s.NATSURL
	}
}

// loadConfig loads the configuration at path, applies the flags and
// validates the result.
func (s *ServeCmd) loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	s.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (s *ServeCmd) Run(root *CLI) error {
	cfg, err := s.loadConfig(root.Config)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	backend, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := backend.Close(); err != nil {
			slog.Warn("Failed to close store", "error", err)
		}
	}()

	feed := events.NewFeed()
	opts := []host.Option{host.WithLogger(slog.Default()), host.WithPublisher(feed)}

	var metricsHandler http.Handler
	if cfg.MetricsEnabled() {
		reg := prom.NewRegistry()
		opts = append(opts, host.WithMetrics(metrics.NewPrometheusRecorder(reg)))
		metricsHandler = metrics.HTTPHandler(reg)
	}

	if cfg.Events.NATSURL != "" {
		pub, err := events.NewNATSPublisher(cfg.Events.NATSURL, cfg.Events.Subject)
		if err != nil {
			return err
		}
		defer func() {
			if err := pub.Close(); err != nil {
				slog.Warn("Failed to close NATS publisher", "error", err)
			}
		}()
		opts = append(opts, host.WithPublisher(pub))
	}

	h := host.New(backend, opts...)
	codes := handoff.Register(h)
	if err := h.Load(ctx); err != nil {
		return err
	}
	if len(cfg.Accounts) == 0 {
		slog.Warn("No accounts configured; only queries will be accepted")
	}

	srv := &http.Server{
		Addr: cfg.Listen,
		Handler: api.NewRouter(&api.Server{
			Host:     h,
			Feed:     feed,
			Codes:    codes,
			Accounts: cfg.Accounts,
			Metrics:  metricsHandler,
			Logger:   slog.Default(),
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.ListenAndServe()
	}()
	slog.Info("handoffd started",
		"version", version,
		"listen", cfg.Listen,
		"store", cfg.Store.Driver,
		"instances", len(h.Instances()),
		"source_code", codes.Source,
		"target_code", codes.Target)

	select {
	case err := <-errChan:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
		slog.Info("Shutdown signal received, stopping server...")
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stopCancel()
	if err := srv.Shutdown(stopCtx); err != nil {
		return fmt.Errorf("failed to stop server: %w", err)
	}
	slog.Info("Server stopped")
	return nil
}
