// Package app wires settings, the credential store, the connection pool,
// the transfer journal and the sync engine for one workspace.
package app

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/juste-un-gars/scpsync/internal/config"
	"github.com/juste-un-gars/scpsync/internal/credentials"
	"github.com/juste-un-gars/scpsync/internal/journal"
	"github.com/juste-un-gars/scpsync/internal/pathpolicy"
	"github.com/juste-un-gars/scpsync/internal/remote"
	"github.com/juste-un-gars/scpsync/internal/sync"
)

// journalKeyName is the secret holding the journal encryption key.
const journalKeyName = credentials.KeyPrefix + "journal-key"

// Options configures New. Only Workspace and Settings are required; the
// remaining fields replace the production implementations.
type Options struct {
	Workspace string
	Settings  *config.Settings
	Logger    *zap.Logger

	Store    credentials.SecretStore
	Dialer   remote.Dialer
	Prompter credentials.Prompter

	// Interactive enables terminal prompts when Prompter is nil and stdin
	// is a terminal.
	Interactive bool
}

// App owns every long-lived component of a workspace.
type App struct {
	root     string
	settings *config.Settings
	logger   *zap.Logger

	store    credentials.SecretStore
	credMgr  *credentials.CredentialManager
	resolver *credentials.Resolver
	pool     *remote.Pool
	journal  *journal.Journal
	engine   *sync.Engine
}

// New builds the component graph and loads the workspace configuration.
// A missing configuration is not an error; engine operations then report
// sync.ErrConfigurationMissing.
func New(opts Options) (*App, error) {
	if opts.Settings == nil {
		return nil, fmt.Errorf("settings cannot be nil")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	workspace := opts.Workspace
	if workspace == "" {
		workspace = "."
	}
	root, err := filepath.Abs(workspace)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace %s: %w", workspace, err)
	}

	a := &App{
		root:     root,
		settings: opts.Settings,
		logger:   logger,
		store:    opts.Store,
	}
	if a.store == nil {
		a.store = credentials.NewKeyringStore(opts.Settings.Security.KeystoreServiceName)
	}
	a.credMgr = credentials.NewCredentialManager(a.store, logger)

	dialer := opts.Dialer
	if dialer == nil {
		hostKeys, err := remote.HostKeyCallback(
			opts.Settings.Security.KnownHostsFile,
			opts.Settings.Security.InsecureIgnoreHostKey,
			logger)
		if err != nil {
			return nil, err
		}
		dialer = remote.NewSSHDialer(hostKeys, opts.Settings.Pool.ConnectTimeout(), logger)
	}
	a.pool = remote.NewPool(dialer, logger, poolOptions(opts.Settings.Pool)...)

	resolverOpts := []credentials.ResolverOption{credentials.WithInvalidator(a.pool)}
	switch {
	case opts.Prompter != nil:
		resolverOpts = append(resolverOpts, credentials.WithPrompter(opts.Prompter))
	case opts.Interactive && credentials.IsInteractive():
		resolverOpts = append(resolverOpts, credentials.WithPrompter(credentials.NewTerminalPrompter()))
	}
	a.resolver = credentials.NewResolver(a.credMgr, logger, resolverOpts...)

	if opts.Settings.Journal.Enabled {
		j, err := a.openJournal()
		if err != nil {
			logger.Warn("transfer journal unavailable, continuing without it", zap.Error(err))
		} else {
			a.journal = j
		}
	}

	engineOpts := sync.Options{
		Root:          root,
		Pool:          a.pool,
		Credentials:   a.resolver,
		Filter:        pathpolicy.FilterKind(opts.Settings.Sync.Filter),
		SkipUnchanged: opts.Settings.Sync.SkipUnchanged,
		Retry:         sync.DefaultRetryPolicy(opts.Settings.Sync.MaxRetries, logger),
		Logger:        logger,
	}
	// A nil *journal.Journal must not become a non-nil interface.
	if a.journal != nil {
		engineOpts.Journal = a.journal
	}
	a.engine, err = sync.NewEngine(engineOpts)
	if err != nil {
		a.Close()
		return nil, err
	}

	if err := a.ReloadConfiguration(); err != nil && !errors.Is(err, config.ErrConfigNotFound) {
		a.Close()
		return nil, err
	}

	return a, nil
}

func poolOptions(cfg config.PoolConfig) []remote.PoolOption {
	var opts []remote.PoolOption
	if d := cfg.ConnectTimeout(); d > 0 {
		opts = append(opts, remote.WithConnectTimeout(d))
	}
	if d := cfg.IdleTimeout(); d > 0 {
		opts = append(opts, remote.WithIdleTimeout(d))
	}
	if d := cfg.SweepInterval(); d > 0 {
		opts = append(opts, remote.WithSweepInterval(d))
	}
	return opts
}

// openJournal opens the journal with the key kept in the secret store,
// generating and storing one on first use.
func (a *App) openJournal() (*journal.Journal, error) {
	key, err := a.store.Get(journalKeyName)
	switch {
	case errors.Is(err, credentials.ErrSecretNotFound) || (err == nil && key == ""):
		key, err = journal.GenerateKey()
		if err != nil {
			return nil, err
		}
		if err := a.store.Set(journalKeyName, key); err != nil {
			return nil, fmt.Errorf("store journal key: %w", err)
		}
		a.logger.Info("generated journal encryption key")
	case err != nil:
		return nil, fmt.Errorf("load journal key: %w", err)
	}

	return journal.Open(journal.Config{
		Path:          a.settings.Journal.Path,
		EncryptionKey: key,
	}, a.logger)
}

// ReloadConfiguration reads the workspace configuration again. When the
// file is gone the engine is unloaded; when it cannot be read the previous
// configuration stays active.
func (a *App) ReloadConfiguration() error {
	cfg, err := config.LoadWorkspace(a.root)
	switch {
	case errors.Is(err, config.ErrConfigNotFound):
		a.engine.SetConfiguration(nil)
		a.logger.Info("no workspace configuration", zap.String("path", config.WorkspacePath(a.root)))
		return err
	case err != nil:
		a.logger.Warn("failed to load workspace configuration", zap.Error(err))
		return err
	}

	for _, problem := range cfg.Problems() {
		a.logger.Warn("workspace configuration problem", zap.String("problem", problem))
	}
	a.engine.SetConfiguration(cfg)
	a.logger.Debug("workspace configuration loaded",
		zap.String("endpoint", cfg.Endpoint()),
		zap.String("remote_path", cfg.RemotePath))
	return nil
}

// isSettingsPath reports whether p is the settings directory or inside it.
func (a *App) isSettingsPath(p string) bool {
	dir := filepath.Join(a.root, config.DirName)
	p = filepath.Clean(p)
	return p == dir || strings.HasPrefix(p, dir+string(filepath.Separator))
}

// Root returns the absolute workspace root.
func (a *App) Root() string {
	return a.root
}

func (a *App) Settings() *config.Settings {
	return a.settings
}

func (a *App) Logger() *zap.Logger {
	return a.logger
}

func (a *App) Engine() *sync.Engine {
	return a.engine
}

func (a *App) Pool() *remote.Pool {
	return a.pool
}

func (a *App) Resolver() *credentials.Resolver {
	return a.resolver
}

func (a *App) Credentials() *credentials.CredentialManager {
	return a.credMgr
}

// Journal returns the transfer journal, or nil when it is disabled or
// could not be opened.
func (a *App) Journal() *journal.Journal {
	return a.journal
}

// Close releases pooled sessions and the journal.
func (a *App) Close() error {
	var err error
	if a.pool != nil {
		err = multierr.Append(err, a.pool.Close())
	}
	if a.journal != nil {
		err = multierr.Append(err, a.journal.Close())
	}
	return err
}
