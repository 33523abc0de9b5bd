package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/merchantry/ordersync/internal/config"
	"github.com/merchantry/ordersync/internal/oms"
	"github.com/merchantry/ordersync/internal/sync"
)

// openStore opens the state database using the resolved configuration.
// The backfill horizon is anchored at startup: a first run reaches back
// sync.backfill_horizon from now.
func openStore(cfg *config.Config, logger *slog.Logger) (*sync.Store, error) {
	store, err := sync.NewStore(sync.StoreConfig{
		Path:            cfg.Sync.Database,
		BackfillHorizon: time.Now().Add(-cfg.Sync.BackfillHorizonDuration()),
		LockTimeout:     cfg.Sync.LockTimeoutDuration(),
		Logger:          logger,
	})
	if err != nil {
		return nil, fmt.Errorf("opening state database: %w", err)
	}

	return store, nil
}

// buildFetcher constructs the order-management service client from the
// network configuration. Credentials must be present; sync cannot run
// against an unauthenticated endpoint.
func buildFetcher(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*oms.Client, error) {
	net := cfg.Network

	if net.BaseURL == "" {
		return nil, fmt.Errorf("network.base_url is not configured (set it in %s or via %s)", cfgPath, config.EnvBaseURL)
	}

	if net.TokenURL == "" || net.ClientID == "" || net.ClientSecret == "" {
		return nil, fmt.Errorf("OMS credentials are not configured (token_url, client_id, and %s)", config.EnvClientSecret)
	}

	httpClient := &http.Client{Timeout: net.DataTimeoutDuration()}
	token := oms.ClientCredentialsTokenSource(ctx, net.TokenURL, net.ClientID, net.ClientSecret)

	return oms.NewClient(net.BaseURL, httpClient, token, logger), nil
}

// buildEngine wires the sync engine over an open store.
func buildEngine(ctx context.Context, cfg *config.Config, store *sync.Store, logger *slog.Logger) (*sync.Engine, error) {
	fetcher, err := buildFetcher(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	return sync.NewEngine(&sync.EngineConfig{
		Store:   store,
		Fetcher: fetcher,
		Logger:  logger,
	}), nil
}

// serverBaseURL turns a listen address like ":8480" into a base URL the CLI
// can dial, assuming the daemon runs on this host.
func serverBaseURL(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "http://127.0.0.1" + addr
	}

	return "http://" + addr
}
