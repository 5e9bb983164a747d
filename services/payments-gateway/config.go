package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// Config captures runtime configuration for the payments gateway.
type Config struct {
	ListenAddress    string
	NodeURL          string
	NodeAuthToken    string
	DatabasePath     string
	Network          string
	ContractAddress  string
	APIKeys          []string
	ConfirmTimeout   time.Duration
	WatcherInterval  time.Duration
	WatcherBatchSize int
	Environment      string
}

const (
	defaultConfirmTimeout  = 30 * time.Second
	defaultWatcherInterval = 5 * time.Second
	defaultWatcherBatch    = 100
)

// LoadConfigFromEnv builds a configuration using environment variables.
func LoadConfigFromEnv() (Config, error) {
	cfg := Config{
		ListenAddress:    getenvDefault("PAYMENTS_GATEWAY_LISTEN", ":8082"),
		NodeURL:          os.Getenv("PAYMENTS_GATEWAY_NODE_URL"),
		NodeAuthToken:    os.Getenv("PAYMENTS_GATEWAY_NODE_TOKEN"),
		DatabasePath:     getenvDefault("PAYMENTS_GATEWAY_DB_PATH", "payments-gateway.db"),
		Network:          getenvDefault("PAYMENTS_GATEWAY_NETWORK", "ridmint-local"),
		ContractAddress:  getenvDefault("PAYMENTS_GATEWAY_CONTRACT", ""),
		ConfirmTimeout:   defaultConfirmTimeout,
		WatcherInterval:  defaultWatcherInterval,
		WatcherBatchSize: defaultWatcherBatch,
		Environment:      getenvDefault("PAYMENTS_GATEWAY_ENV", "dev"),
	}

	if cfg.NodeURL == "" {
		return Config{}, errors.New("PAYMENTS_GATEWAY_NODE_URL is required")
	}

	if raw := strings.TrimSpace(os.Getenv("PAYMENTS_GATEWAY_CONFIRM_TIMEOUT")); raw != "" {
		dur, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse PAYMENTS_GATEWAY_CONFIRM_TIMEOUT: %w", err)
		}
		if dur <= 0 {
			return Config{}, errors.New("PAYMENTS_GATEWAY_CONFIRM_TIMEOUT must be positive")
		}
		cfg.ConfirmTimeout = dur
	}

	if raw := strings.TrimSpace(os.Getenv("PAYMENTS_GATEWAY_POLL_INTERVAL")); raw != "" {
		dur, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse PAYMENTS_GATEWAY_POLL_INTERVAL: %w", err)
		}
		if dur <= 0 {
			return Config{}, errors.New("PAYMENTS_GATEWAY_POLL_INTERVAL must be positive")
		}
		cfg.WatcherInterval = dur
	}

	// API keys are a comma-separated list; an empty list disables gateway
	// authentication (local development only).
	if raw := strings.TrimSpace(os.Getenv("PAYMENTS_GATEWAY_API_KEYS")); raw != "" {
		for _, key := range strings.Split(raw, ",") {
			if trimmed := strings.TrimSpace(key); trimmed != "" {
				cfg.APIKeys = append(cfg.APIKeys, trimmed)
			}
		}
	}

	return cfg, nil
}

func getenvDefault(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}
