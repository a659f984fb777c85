package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/juste-un-gars/scpsync/internal/config"
)

func (c *cli) newWatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Upload saved files and remove deleted ones until interrupted",
		Long: "Watch the workspace and mirror changes as they settle. When sync.schedule " +
			"is set a full sync also runs on that cron schedule, and metrics.listen " +
			"exposes Prometheus metrics.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Background triggers never prompt.
			a, err := c.open(false)
			if err != nil {
				return err
			}
			defer a.Close()

			if cfg := a.Engine().Configuration(); cfg != nil {
				c.printf("Watching %s -> %s:%s (Ctrl+C to stop)\n", a.Root(), cfg.Endpoint(), cfg.RemotePath)
			} else {
				c.printf("Watching %s, waiting for %s (Ctrl+C to stop)\n", a.Root(), config.WorkspacePath(a.Root()))
			}
			return a.Watch(cmd.Context())
		},
	}
}

func (c *cli) newStatusCommand() *cobra.Command {
	var recent int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the workspace configuration and transfer history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.open(false)
			if err != nil {
				return err
			}
			defer a.Close()

			c.printf("Workspace:   %s\n", a.Root())
			cfg := a.Engine().Configuration()
			if cfg == nil {
				c.printf("Config:      not found (run 'scpsync init')\n")
			} else {
				c.printf("Config:      %s\n", config.WorkspacePath(a.Root()))
				c.printf("Remote:      %s:%s\n", cfg.Endpoint(), cfg.RemotePath)
				c.printf("Mode:        %s (upload on save: %t)\n", cfg.SyncMode, cfg.UploadOnSave)
				c.printf("Ignore:      %v\n", cfg.Ignore)
				for _, problem := range cfg.Problems() {
					c.printf("  ! %s\n", problem)
				}
			}

			stats := a.Pool().Stats()
			c.printf("Connections: %d pooled, %d active, %d in use\n", stats.Total, stats.Active, stats.InUse)

			j := a.Journal()
			if j == nil {
				c.printf("Journal:     disabled\n")
				return nil
			}

			js, err := j.Stats(cmd.Context())
			if err != nil {
				return err
			}
			c.printf("Journal:     %s\n", j.Path())
			c.printf("  Tracked files: %d\n", js.TrackedFiles)
			c.printf("  Transfers:     %d (%d failed)\n", js.Transfers, js.Failures)
			if js.LastTransfer != nil {
				c.printf("  Last transfer: %s\n", js.LastTransfer.Format(time.RFC3339))
			}
			if r := js.LastRun; r != nil {
				c.printf("  Last sync:     %s, %s, %d/%d uploaded, %d unchanged, %d failed, took %s\n",
					r.StartedAt.Format(time.RFC3339), r.Status(),
					r.Succeeded, r.Total, r.Skipped, r.Failed, r.Duration.Round(time.Millisecond))
			}

			if recent <= 0 {
				return nil
			}
			transfers, err := j.Recent(cmd.Context(), recent)
			if err != nil {
				return err
			}
			c.printf("\nRecent transfers:\n")
			for _, t := range transfers {
				outcome := "ok"
				if t.Error != "" {
					outcome = fmt.Sprintf("code %d: %s", t.Code, t.Error)
				}
				c.printf("  %s  %-8s %s  %s\n", t.CreatedAt.Format("2006-01-02 15:04:05"), t.Operation, t.RemotePath, outcome)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&recent, "recent", "n", 10, "number of recent transfers to list")
	return cmd
}
