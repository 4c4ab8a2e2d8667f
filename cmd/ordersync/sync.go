package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fieldline/ordersync"
	"github.com/fieldline/ordersync/config"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync pass: replay the queue, then refresh the cache",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		engine, monitor, cleanup, err := buildEngine(cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		if !monitor.Online() {
			return fmt.Errorf("remote API unreachable at %s, nothing to sync", cfg.Remote.BaseURL)
		}

		sub := engine.Bus().Subscribe(func(ev ordersync.Event) {
			switch ev.Type {
			case ordersync.EventSyncCompleted:
				fmt.Fprintf(cmd.OutOrStdout(), "sync completed: %d replayed, %d failed\n",
					ev.Succeeded, ev.Failed)
			case ordersync.EventSyncFailed:
				fmt.Fprintf(cmd.OutOrStdout(), "sync failed: %s\n", ev.Error)
			}
		})
		defer sub.Unsubscribe()

		return engine.SyncWithServer(cmd.Context())
	},
}
