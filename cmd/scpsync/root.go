package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/juste-un-gars/scpsync/internal/app"
	"github.com/juste-un-gars/scpsync/internal/config"
	"github.com/juste-un-gars/scpsync/internal/logger"
)

// cli holds the global flags and what PersistentPreRunE builds from them.
type cli struct {
	out io.Writer

	workspace  string
	configFile string
	verbose    bool

	settings *config.Settings
	logger   *zap.Logger
}

func newRootCommand(out io.Writer) *cobra.Command {
	c := &cli{out: out}

	root := &cobra.Command{
		Use:   "scpsync",
		Short: "Mirror a local workspace onto a remote host over SSH",

		// main prints the returned error.
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.setup()
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if c.logger != nil {
				_ = c.logger.Sync()
			}
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&c.workspace, "workspace", "w", ".", "workspace root directory")
	flags.StringVar(&c.configFile, "config", "", "application settings file (default: search standard locations)")
	flags.BoolVarP(&c.verbose, "verbose", "v", false, "log debug output to the console")

	root.AddCommand(
		c.newInitCommand(),
		c.newSyncCommand(),
		c.newUploadCommand(),
		c.newDownloadCommand(),
		c.newDeleteCommand(),
		c.newTestCommand(),
		c.newWatchCommand(),
		c.newStatusCommand(),
		c.newCredentialsCommand(),
	)
	return root
}

func (c *cli) setup() error {
	settings, err := config.Load(c.configFile)
	if err != nil {
		return err
	}

	consoleLevel := settings.Logging.Levels.Console
	if c.verbose {
		consoleLevel = "debug"
	}
	log, err := logger.New(logger.Config{
		ConsoleLevel: consoleLevel,
		FileLevel:    settings.Logging.Levels.File,
		OutputPath:   settings.Logging.File,
		MaxSizeMB:    settings.Logging.Rotation.MaxSizeMB,
		MaxFiles:     settings.Logging.Rotation.MaxFiles,
		MaxAgeDays:   settings.Logging.Rotation.MaxAgeDays,
		Compress:     settings.Logging.Rotation.Compress,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	c.settings = settings
	c.logger = log.Named(settings.App.Name)
	return nil
}

// open builds the application for the workspace. Interactive commands may
// prompt for credentials.
func (c *cli) open(interactive bool) (*app.App, error) {
	return app.New(app.Options{
		Workspace:   c.workspace,
		Settings:    c.settings,
		Logger:      c.logger,
		Interactive: interactive,
	})
}

func (c *cli) printf(format string, args ...interface{}) {
	fmt.Fprintf(c.out, format, args...)
}
