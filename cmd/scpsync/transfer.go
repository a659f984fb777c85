package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/juste-un-gars/scpsync/internal/config"
	"github.com/juste-un-gars/scpsync/internal/remote"
	"github.com/juste-un-gars/scpsync/internal/sync"
)

func (c *cli) newInitCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a configuration template into the workspace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			root, err := filepath.Abs(c.workspace)
			if err != nil {
				return err
			}
			path, err := config.CreateTemplate(root, force)
			if errors.Is(err, config.ErrConfigExists) {
				return fmt.Errorf("%w (use --force to overwrite)", err)
			}
			if err != nil {
				return err
			}
			c.printf("Configuration written to %s\n", path)
			c.printf("Edit host, user and remotePath, then run 'scpsync test'.\n")
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing configuration")
	return cmd
}

func (c *cli) newSyncCommand() *cobra.Command {
	var listFiles bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Upload every non-ignored file of the workspace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.open(true)
			if err != nil {
				return err
			}
			defer a.Close()

			engine := a.Engine()
			if listFiles {
				engine.OnProgress(c.printFileProgress)
			} else {
				engine.OnProgress(c.printProgressBar)
			}

			report, err := engine.SyncAllFiles(cmd.Context())
			if report != nil {
				c.printSyncSummary(report)
			}
			if err != nil {
				return err
			}
			if len(report.Failed) > 0 {
				return fmt.Errorf("%d of %d files failed", len(report.Failed), report.Total)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&listFiles, "list", "l", false, "print one line per file instead of a progress bar")
	return cmd
}

func (c *cli) printFileProgress(ev sync.ProgressEvent) {
	status := "ok"
	switch {
	case ev.Skipped:
		status = "unchanged"
	case !ev.Success:
		status = "FAILED"
	}
	if ev.BytesTransferred > 0 {
		status += " (" + formatBytes(ev.BytesTransferred) + ")"
	}
	c.printf("[%3d%%] %s %s %s\n", ev.Percentage, ev.Operation, ev.File, status)
}

// printProgressBar redraws a one-line progress bar.
func (c *cli) printProgressBar(ev sync.ProgressEvent) {
	const barWidth = 32

	filled := ev.Percentage * barWidth / 100
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)
	c.printf("\r[Syncing]  %s %d/%d (%d%%)", bar, ev.Processed, ev.Total, ev.Percentage)

	if ev.Processed >= ev.Total {
		c.printf("\n")
	}
}

func (c *cli) printSyncSummary(r *sync.SyncReport) {
	c.printf("[Complete] Duration: %.1fs\n", r.Duration.Seconds())
	c.printf("\nSummary:\n")
	c.printf("  Uploaded:    %d files\n", r.Succeeded)
	c.printf("  Unchanged:   %d files\n", r.Skipped)
	c.printf("  Errors:      %d\n", len(r.Failed))
	if r.BytesTransferred > 0 {
		c.printf("  Transferred: %s\n", formatBytes(r.BytesTransferred))
	}
	for _, f := range r.Failed {
		c.printf("  %s: %s: %v\n", f.Path, f.Code, f.Err)
	}
	if r.Cancelled {
		c.printf("Sync cancelled after %d of %d files.\n", r.Succeeded+r.Skipped+len(r.Failed), r.Total)
	}
}

func (c *cli) newUploadCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "upload FILE...",
		Short: "Upload files now, regardless of uploadOnSave",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(true)
			if err != nil {
				return err
			}
			defer a.Close()

			var failed int
			for _, arg := range args {
				p, err := filepath.Abs(arg)
				if err != nil {
					return err
				}
				res, err := a.Engine().UploadFile(cmd.Context(), p)
				if err != nil {
					if errors.Is(err, sync.ErrConfigurationMissing) {
						return err
					}
					c.printf("%s: %v\n", arg, err)
					failed++
					continue
				}
				if !c.printResult(arg, res) {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d uploads failed", failed, len(args))
			}
			return nil
		},
	}
}

func (c *cli) newDownloadCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "download REMOTE [LOCAL]",
		Short: "Download a remote file; relative paths are under remotePath",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(true)
			if err != nil {
				return err
			}
			defer a.Close()

			var local string
			if len(args) == 2 {
				if local, err = filepath.Abs(args[1]); err != nil {
					return err
				}
			}

			res, err := a.Engine().DownloadFile(cmd.Context(), args[0], local)
			if err != nil {
				return err
			}
			if !c.printResult(args[0], res) {
				return fmt.Errorf("download failed: %s", res.Code)
			}
			return nil
		},
	}
}

func (c *cli) newDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete FILE...",
		Short: "Remove the remote copies of workspace files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(true)
			if err != nil {
				return err
			}
			defer a.Close()

			if a.Engine().Configuration() == nil {
				return sync.ErrConfigurationMissing
			}

			paths := make([]string, 0, len(args))
			for _, arg := range args {
				p, err := filepath.Abs(arg)
				if err != nil {
					return err
				}
				paths = append(paths, p)
			}

			results := a.Engine().SyncFilesOnDelete(cmd.Context(), paths)
			if len(results) == 0 {
				return fmt.Errorf("nothing deleted: files are ignored or credentials are unavailable")
			}

			var failed int
			for _, r := range results {
				if !c.printResult(r.Path, r.Result) {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d deletions failed", failed, len(results))
			}
			return nil
		},
	}
}

func (c *cli) newTestCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "test",
		Short: "Check that the configured host accepts a connection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.open(true)
			if err != nil {
				return err
			}
			defer a.Close()

			cfg := a.Engine().Configuration()
			if cfg == nil {
				return sync.ErrConfigurationMissing
			}
			if !a.Engine().TestConnection(cmd.Context()) {
				return fmt.Errorf("connection to %s failed (see log for details)", cfg.Endpoint())
			}
			c.printf("Connection to %s succeeded\n", cfg.Endpoint())
			return nil
		},
	}
}

// printResult prints one line per operation and reports success.
func (c *cli) printResult(name string, res remote.TransferResult) bool {
	if res.Success {
		if res.BytesTransferred > 0 {
			c.printf("%s: ok (%s)\n", name, formatBytes(res.BytesTransferred))
		} else {
			c.printf("%s: ok\n", name)
		}
		return true
	}
	c.printf("%s: %s: %s\n", name, res.Code, res.ErrorMessage)
	return false
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}
