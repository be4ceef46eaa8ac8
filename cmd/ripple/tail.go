package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/odvcencio/ripple/pkg/config"
	"github.com/odvcencio/ripple/pkg/realtime"
)

func runTail(args []string) int {
	fs := flag.NewFlagSet("tail", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to config file")
	url := fs.String("url", "", "relay base URL (overrides config)")
	transportFlag := fs.String("transport", "", "transport: auto, websocket, or sse")
	token := fs.String("token", "", "bearer token")
	types := fs.String("types", "", "comma-separated event types to print (default all)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		return 2
	}
	if *url != "" {
		cfg.Client.BaseURL = *url
	}
	if *transportFlag != "" {
		cfg.Client.Transport = *transportFlag
	}
	if *token != "" {
		cfg.Client.Token = *token
	}

	opts := realtime.Options{
		BaseURL:           cfg.Client.BaseURL,
		Transport:         realtime.TransportKind(cfg.Client.Transport),
		FallbackTransport: true,
		ReconnectOnError:  true,
		HeartbeatInterval: cfg.Client.HeartbeatInterval,
	}
	if cfg.Client.Token != "" {
		opts.TokenProvider = realtime.BearerToken(cfg.Client.Token)
	}

	client, err := realtime.New(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}

	allowed := parseTypes(*types)
	enc := json.NewEncoder(os.Stdout)
	client.On(realtime.Wildcard, func(evt realtime.Event) {
		if len(allowed) > 0 {
			if _, ok := allowed[evt.Type]; !ok {
				return
			}
		}
		_ = enc.Encode(evt)
	})
	client.OnStateChange(func(s realtime.ConnectionState) {
		fmt.Fprintf(os.Stderr, "# %s\n", s)
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	err = client.Connect(connectCtx)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error connecting: %v\n", err)
		return 1
	}
	defer client.Disconnect()

	<-ctx.Done()
	return 0
}

func parseTypes(raw string) map[realtime.EventType]struct{} {
	out := make(map[realtime.EventType]struct{})
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out[realtime.EventType(part)] = struct{}{}
		}
	}
	return out
}
