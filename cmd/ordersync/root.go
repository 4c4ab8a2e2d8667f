package main

import (
	"context"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/fieldline/ordersync"
	"github.com/fieldline/ordersync/config"
	"github.com/fieldline/ordersync/gateway/httpgateway"
	"github.com/fieldline/ordersync/logging"
	"github.com/fieldline/ordersync/store/sqlite"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "ordersync",
	Short: "Offline-first sync client for the sales-order API",
	Long: `ordersync keeps a local cache of sales orders and notifications in sync
with the remote API. Mutations made while offline are queued durably and
replayed in order on reconnect.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"path to config file (optional)")
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(demoCmd)
}

// buildEngine wires a ready-to-use engine from the configuration. The
// returned cleanup closes the engine and everything beneath it.
func buildEngine(cfg *config.Config) (*ordersync.Engine, *ordersync.Monitor, func(), error) {
	logging.Init(cfg.Logging)

	store, err := sqlite.NewWithDataSource(cfg.Store.Path)
	if err != nil {
		return nil, nil, nil, err
	}

	var gwOpts []httpgateway.Option
	if cfg.Remote.Timeout > 0 {
		gwOpts = append(gwOpts, httpgateway.WithTimeout(cfg.Remote.Timeout))
	}
	if cfg.Remote.AuthToken != "" {
		gwOpts = append(gwOpts, httpgateway.WithHeader("Authorization", "Bearer "+cfg.Remote.AuthToken))
	}
	gateway, err := httpgateway.New(cfg.Remote.BaseURL, gwOpts...)
	if err != nil {
		store.Close()
		return nil, nil, nil, err
	}

	monitor := ordersync.NewMonitor(checkReachable(cfg.ProbeURL()))
	bus := ordersync.NewBus()
	engine := ordersync.NewEngine(store, gateway, monitor, bus, &ordersync.Options{
		MaxRetries:  cfg.Sync.MaxRetries,
		SyncTimeout: cfg.Sync.Timeout,
	})

	cleanup := func() { engine.Close() }
	return engine, monitor, cleanup, nil
}

// checkReachable does a single probe against the health endpoint to seed
// the monitor's initial state.
func checkReachable(url string) bool {
	client := &http.Client{Timeout: 3 * time.Second}
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}
