package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/odvcencio/ripple/pkg/config"
	"github.com/odvcencio/ripple/pkg/realtime"
)

func runPublish(args []string) int {
	fs := flag.NewFlagSet("publish", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to config file")
	url := fs.String("url", "", "relay base URL (overrides config)")
	token := fs.String("token", "", "bearer token")
	eventType := fs.String("type", "", "event type (required)")
	data := fs.String("data", "", "event payload as JSON (default: read stdin)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if *eventType == "" {
		fmt.Fprintln(os.Stderr, "Error: -type is required")
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
	if *token != "" {
		cfg.Client.Token = *token
	}

	payload := []byte(*data)
	if len(payload) == 0 {
		stat, err := os.Stdin.Stat()
		if err == nil && (stat.Mode()&os.ModeCharDevice) == 0 {
			payload, err = io.ReadAll(os.Stdin)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error reading stdin: %v\n", err)
				return 1
			}
		}
	}
	if len(payload) > 0 && !json.Valid(payload) {
		fmt.Fprintln(os.Stderr, "Error: payload is not valid JSON")
		return 2
	}

	evt := realtime.Event{
		Type: realtime.EventType(*eventType),
		Data: payload,
	}
	body, err := json.Marshal(evt)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	endpoint := strings.TrimSuffix(cfg.Client.BaseURL, "/") + "/publish"
	req, err := http.NewRequest(http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	req.Header.Set("Content-Type", "application/json")
	if cfg.Client.Token != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.Client.Token)
	}

	httpClient := &http.Client{Timeout: 10 * time.Second}
	resp, err := httpClient.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error publishing: %v\n", err)
		return 1
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		fmt.Fprintf(os.Stderr, "Error: relay returned %d: %s\n", resp.StatusCode, strings.TrimSpace(string(respBody)))
		return 1
	}

	var accepted struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&accepted); err == nil && accepted.ID != "" {
		fmt.Println(accepted.ID)
	}
	return 0
}
