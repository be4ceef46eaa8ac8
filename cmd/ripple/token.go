package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/odvcencio/ripple/pkg/config"
	"github.com/odvcencio/ripple/pkg/relay"
)

func runToken(args []string) int {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to config file")
	secret := fs.String("secret", "", "signing secret (overrides config)")
	user := fs.String("user", "", "user id the token identifies (required)")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if *user == "" {
		fmt.Fprintln(os.Stderr, "Error: -user is required")
		return 2
	}

	signingSecret := *secret
	if signingSecret == "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			return 2
		}
		signingSecret = cfg.Relay.Secret
	}
	if signingSecret == "" {
		fmt.Fprintln(os.Stderr, "Error: no signing secret; set -secret, relay.secret, or RIPPLE_RELAY_SECRET")
		return 2
	}

	token, err := relay.NewTokenManager(signingSecret).GenerateToken(*user, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Println(token)
	return 0
}
