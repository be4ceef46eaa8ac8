package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/odvcencio/ripple/pkg/bus"
	"github.com/odvcencio/ripple/pkg/config"
	"github.com/odvcencio/ripple/pkg/logging"
	"github.com/odvcencio/ripple/pkg/relay"
	"github.com/odvcencio/ripple/pkg/telemetry"
	"github.com/odvcencio/ripple/pkg/tracing"
)

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to config file")
	bind := fs.String("bind", "", "listen address (overrides config)")
	debug := fs.Bool("debug", false, "enable debug logging")
	trace := fs.Bool("trace", false, "emit OpenTelemetry spans to stdout")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		return 2
	}
	if *bind != "" {
		cfg.Relay.Bind = *bind
	}

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	log := logging.NewLogger("relay", level)

	if *trace {
		tp, err := tracing.NewTracerProvider("ripple-relay")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error initializing tracing: %v\n", err)
			return 1
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tp.Shutdown(shutdownCtx)
		}()
	}

	messageBus, err := openBus(cfg.Bus, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error connecting to bus: %v\n", err)
		return 1
	}
	defer messageBus.Close()

	hub := telemetry.NewHub()
	defer hub.Close()
	go logTelemetry(hub, log)

	srv := relay.NewServer(cfg.Relay, messageBus, log, hub)
	defer srv.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(ctx)
	})

	if err := g.Wait(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// openBus connects to NATS when a URL is configured, otherwise falls back
// to the in-process bus for single-node deployments.
func openBus(cfg bus.Config, log *logging.Logger) (bus.MessageBus, error) {
	if cfg.URL == "" {
		log.Info("using in-memory bus")
		return bus.NewMemoryBus(), nil
	}
	log.Info("connecting to nats", "url", cfg.URL)
	return bus.NewNATSBus(cfg)
}

// logTelemetry drains relay telemetry into the structured log.
func logTelemetry(hub *telemetry.Hub, log *logging.Logger) {
	events, unsub := hub.Subscribe()
	defer unsub()
	for evt := range events {
		log.Debug("telemetry",
			"event", string(evt.Type),
			"session_id", evt.SessionID,
			"transport", evt.Transport,
		)
	}
}
