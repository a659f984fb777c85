package credentials

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/juste-un-gars/scpsync/internal/config"
	"github.com/juste-un-gars/scpsync/internal/remote"
)

// ErrNoAuthenticationMethod indicates every resolution step came up empty.
var ErrNoAuthenticationMethod = errors.New("no authentication credentials available")

// Invalidator drops cached sessions for an endpoint.
type Invalidator interface {
	Invalidate(key string)
}

// Resolver turns a workspace configuration into connection parameters.
type Resolver struct {
	manager     *CredentialManager
	prompter    Prompter
	invalidator Invalidator
	fs          afero.Fs
	candidates  func() []KeyCandidate
	logger      *zap.Logger
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithPrompter enables interactive steps.
func WithPrompter(p Prompter) ResolverOption {
	return func(r *Resolver) { r.prompter = p }
}

// WithInvalidator registers the pool notified on credential changes.
func WithInvalidator(inv Invalidator) ResolverOption {
	return func(r *Resolver) { r.invalidator = inv }
}

// WithFs replaces the filesystem used to read key files.
func WithFs(fs afero.Fs) ResolverOption {
	return func(r *Resolver) { r.fs = fs }
}

// WithKeyCandidates replaces the probed key locations.
func WithKeyCandidates(fn func() []KeyCandidate) ResolverOption {
	return func(r *Resolver) { r.candidates = fn }
}

// NewResolver creates a resolver. Without a prompter it never asks the user.
func NewResolver(manager *CredentialManager, logger *zap.Logger, opts ...ResolverOption) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Resolver{
		manager:    manager,
		fs:         afero.NewOsFs(),
		candidates: DefaultKeyCandidates,
		logger:     logger.With(zap.String("component", "credential-resolver")),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve tries, in order: the inline key, discovered key files, the inline
// or stored password, then interactive prompts. The first success wins.
func (r *Resolver) Resolve(ctx context.Context, cfg *config.WorkspaceConfig) (remote.ConnectionInfo, error) {
	info := remote.ConnectionInfo{
		Host:     cfg.Host,
		Port:     cfg.Port,
		Username: cfg.User,
	}
	endpoint := cfg.Endpoint()
	logger := r.logger.With(zap.String("endpoint", endpoint))

	if cfg.PrivateKey != "" {
		if ValidateKeyContent(cfg.PrivateKey) {
			info.PrivateKey = []byte(cfg.PrivateKey)
			logger.Debug("using inline private key")
			return info, nil
		}
		logger.Warn("inline private key is invalid, skipping")
	}

	if key, ok := r.discoverKey(ctx, logger); ok {
		info.PrivateKey = key
		return info, nil
	}
	if err := ctx.Err(); err != nil {
		return info, err
	}

	if cfg.Password != "" {
		info.Password = cfg.Password
		logger.Debug("using inline password")
		return info, nil
	}

	pw, err := r.manager.Password(endpoint)
	switch {
	case err == nil && pw != "":
		info.Password = pw
		logger.Debug("using stored password")
		return info, nil
	case err != nil && !errors.Is(err, ErrSecretNotFound):
		logger.Warn("failed to read stored password", zap.Error(err))
	}

	if r.prompter != nil {
		ok, err := r.prompt(ctx, endpoint, &info, logger)
		if err != nil {
			return info, err
		}
		if ok {
			return info, nil
		}
	}

	return info, fmt.Errorf("%w for %s", ErrNoAuthenticationMethod, endpoint)
}

func (r *Resolver) discoverKey(ctx context.Context, logger *zap.Logger) ([]byte, bool) {
	found := DetectAvailableKeys(r.fs, r.candidates())

	var chosen KeyCandidate
	switch {
	case len(found) == 0:
		return nil, false
	case len(found) == 1:
		chosen = found[0]
	case r.prompter == nil:
		logger.Debug("several keys found and no prompter, skipping key discovery",
			zap.Int("count", len(found)))
		return nil, false
	default:
		c, err := r.prompter.SelectKey(ctx, found)
		if err != nil {
			logger.Debug("key selection declined", zap.Error(err))
			return nil, false
		}
		chosen = c
	}

	key, err := ReadKey(r.fs, chosen.Path)
	if err != nil {
		logger.Warn("discovered key unusable", zap.String("path", chosen.Path), zap.Error(err))
		return nil, false
	}
	logger.Debug("using discovered key", zap.String("path", chosen.Path))
	return key, true
}

func (r *Resolver) prompt(ctx context.Context, endpoint string, info *remote.ConnectionInfo, logger *zap.Logger) (bool, error) {
	choice, err := r.prompter.ChooseAuthMethod(ctx, endpoint)
	if err != nil {
		if errors.Is(err, ErrPromptCancelled) {
			return false, nil
		}
		return false, err
	}

	switch choice {
	case AuthChoicePassword:
		pw, err := r.prompter.Password(ctx, endpoint)
		if err != nil {
			if errors.Is(err, ErrPromptCancelled) {
				return false, nil
			}
			return false, err
		}
		if err := r.manager.StorePassword(endpoint, pw); err != nil {
			logger.Warn("failed to persist password", zap.Error(err))
		}
		info.Password = pw
		return true, nil

	case AuthChoiceKeyFile:
		path, err := r.prompter.KeyPath(ctx)
		if err != nil {
			if errors.Is(err, ErrPromptCancelled) {
				return false, nil
			}
			return false, err
		}
		key, err := ReadKey(r.fs, path)
		if err != nil {
			logger.Warn("selected key unusable", zap.String("path", path), zap.Error(err))
			return false, nil
		}
		info.PrivateKey = key
		return true, nil
	}

	return false, nil
}

// UpdatePassword stores a new password and drops any session opened with
// the old one.
func (r *Resolver) UpdatePassword(endpoint, password string) error {
	if err := r.manager.StorePassword(endpoint, password); err != nil {
		return err
	}
	if r.invalidator != nil {
		r.invalidator.Invalidate(endpoint)
	}
	return nil
}

// Forget deletes every stored credential for endpoint and drops its session.
func (r *Resolver) Forget(endpoint string) error {
	err := r.manager.DeleteAll(endpoint)
	if r.invalidator != nil {
		r.invalidator.Invalidate(endpoint)
	}
	return err
}
