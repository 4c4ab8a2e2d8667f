package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fieldline/ordersync/config"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show connectivity, queue depth, and last sync time",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		engine, _, cleanup, err := buildEngine(cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		status, err := engine.QueueStatus(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "online:        %v\n", status.IsOnline)
		fmt.Fprintf(out, "queued items:  %d\n", status.QueuedItems)
		if !status.OldestQueued.IsZero() {
			fmt.Fprintf(out, "oldest queued: %s (%s ago)\n",
				status.OldestQueued.Format(time.RFC3339),
				time.Since(status.OldestQueued).Round(time.Second))
		}
		if status.LastSync.IsZero() {
			fmt.Fprintln(out, "last sync:     never")
		} else {
			fmt.Fprintf(out, "last sync:     %s\n", status.LastSync.Format(time.RFC3339))
		}
		return nil
	},
}
