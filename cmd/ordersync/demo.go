package main

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/fieldline/ordersync"
	"github.com/fieldline/ordersync/config"
	"github.com/fieldline/ordersync/internal/fakeremote"
	"github.com/fieldline/ordersync/logging"
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Walk through an offline/online cycle against an in-process fake API",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		ctx := cmd.Context()

		// In-process fake of the sales-order API.
		remote := fakeremote.New()
		remote.SeedDemoData()
		listener, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return err
		}
		srv := &http.Server{Handler: remote.Handler()}
		go srv.Serve(listener)
		defer srv.Close()
		baseURL := "http://" + listener.Addr().String()
		fmt.Fprintf(out, "fake API listening on %s\n", baseURL)

		cfg, err := config.Load("")
		if err != nil {
			return err
		}
		cfg.Remote.BaseURL = baseURL
		demoDir, err := os.MkdirTemp("", "ordersync-demo-*")
		if err != nil {
			return err
		}
		defer os.RemoveAll(demoDir)
		cfg.Store.Path = filepath.Join(demoDir, "ordersync-demo.db")
		cfg.Logging = logging.Config{Level: "warn", Format: "text", Environment: "dev"}

		engine, monitor, cleanup, err := buildEngine(cfg)
		if err != nil {
			return err
		}
		defer cleanup()
		engine.Start(ctx)

		engine.Bus().Subscribe(func(ev ordersync.Event) {
			fmt.Fprintf(out, "  [event] %s\n", ev.Type)
		})

		// Online read warms the cache.
		page, err := engine.GetOrders(ctx, ordersync.OrderFilter{})
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "online: fetched %d orders from the API\n", page.Total)

		// Drop the connection and keep working.
		monitor.SetOnline(false)
		created, err := engine.CreateOrder(ctx, ordersync.Order{
			CustomerName: "Margaret Hamilton",
			BusinessName: "Apollo Software",
			InstallDate:  "2026-10-01",
			Total:        1500,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "offline: created order with temporary id %s\n", created.ID)

		status, err := engine.QueueStatus(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "offline: %d mutation(s) queued\n", status.QueuedItems)

		// Reconnect; the engine syncs automatically.
		monitor.SetOnline(true)
		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			status, err = engine.QueueStatus(ctx)
			if err != nil {
				return err
			}
			if status.QueuedItems == 0 && !status.SyncInProgress {
				break
			}
			time.Sleep(50 * time.Millisecond)
		}

		page, err = engine.GetOrders(ctx, ordersync.OrderFilter{})
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "online: cache reconciled, %d orders:\n", page.Total)
		for _, o := range page.Orders {
			fmt.Fprintf(out, "  %-10s %-20s %s\n", o.ID, o.CustomerName, o.InstallDate)
		}
		return nil
	},
}
