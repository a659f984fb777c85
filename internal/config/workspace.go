package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/viper"

	"github.com/juste-un-gars/scpsync/internal/pathpolicy"
)

const (
	// DirName is the per-workspace settings directory.
	DirName = ".scpsync"

	// FileName is the workspace configuration file inside DirName.
	FileName = "config.json"

	DefaultHost       = "localhost"
	DefaultPort       = 22
	DefaultUser       = "root"
	DefaultRemotePath = "/root"
)

var (
	// ErrConfigNotFound indicates the workspace has no configuration file.
	ErrConfigNotFound = errors.New("workspace configuration not found")

	// ErrConfigExists indicates a template would overwrite an existing file.
	ErrConfigExists = errors.New("workspace configuration already exists")
)

// SyncMode is the configured direction. Only upload is acted upon.
type SyncMode string

const (
	SyncModeUpload        SyncMode = "upload"
	SyncModeDownload      SyncMode = "download"
	SyncModeBidirectional SyncMode = "bidirectional"
)

// ParseSyncMode returns the mode named by s, or upload for anything else.
func ParseSyncMode(s string) SyncMode {
	switch SyncMode(s) {
	case SyncModeUpload, SyncModeDownload, SyncModeBidirectional:
		return SyncMode(s)
	default:
		return SyncModeUpload
	}
}

// WorkspaceConfig is the per-workspace remote target.
type WorkspaceConfig struct {
	Host             string   `json:"host" validate:"required,hostname_rfc1123|ip"`
	Port             int      `json:"port" validate:"min=1,max=65535"`
	User             string   `json:"user" validate:"required,safepath"`
	RemotePath       string   `json:"remotePath" validate:"required,remotepath"`
	Ignore           []string `json:"ignore" validate:"dive,required,max=255,excludes=.."`
	UploadOnSave     bool     `json:"uploadOnSave"`
	DownloadOnChange bool     `json:"downloadOnChange"`
	SyncMode         SyncMode `json:"syncMode" validate:"oneof=upload download bidirectional"`

	// Inline credentials are read but never written back.
	PrivateKey string `json:"privateKey,omitempty" validate:"-"`
	Password   string `json:"password,omitempty" validate:"-"`
}

// Endpoint returns "user@host:port", the identity shared with the pool
// and the credential store.
func (c *WorkspaceConfig) Endpoint() string {
	return c.User + "@" + net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Default returns the configuration used when fields are missing.
func Default() *WorkspaceConfig {
	return &WorkspaceConfig{
		Host:         DefaultHost,
		Port:         DefaultPort,
		User:         DefaultUser,
		RemotePath:   DefaultRemotePath,
		Ignore:       append([]string(nil), pathpolicy.DefaultIgnorePatterns...),
		UploadOnSave: true,
		SyncMode:     SyncModeUpload,
	}
}

// Template is written by CreateTemplate for the user to fill in.
func Template() *WorkspaceConfig {
	return &WorkspaceConfig{
		Host:         "your-server.com",
		Port:         DefaultPort,
		User:         "username",
		RemotePath:   "/remote/path",
		Ignore:       []string{".git", ".vscode", "node_modules", "out", "dist"},
		UploadOnSave: true,
		SyncMode:     SyncModeUpload,
	}
}

// WorkspacePath returns the configuration file location for root.
func WorkspacePath(root string) string {
	return filepath.Join(root, DirName, FileName)
}

// LoadWorkspace reads and normalizes the configuration of the workspace at
// root. Missing or malformed fields fall back to their defaults.
func LoadWorkspace(root string) (*WorkspaceConfig, error) {
	path := WorkspacePath(root)

	exists, err := afero.Exists(fs, path)
	if err != nil {
		return nil, fmt.Errorf("stat workspace config: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
	}

	v := viper.New()
	v.SetFs(fs)
	v.SetConfigFile(path)
	v.SetConfigType("json")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read workspace config %s: %w", path, err)
	}

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *WorkspaceConfig {
	cfg := &WorkspaceConfig{
		Host:             stringOr(v, "host", DefaultHost),
		Port:             normalizePort(v.GetInt("port")),
		User:             stringOr(v, "user", DefaultUser),
		RemotePath:       NormalizeRemotePath(stringOr(v, "remotePath", DefaultRemotePath)),
		Ignore:           pathpolicy.ValidateIgnorePatterns(v.Get("ignore")),
		UploadOnSave:     true,
		DownloadOnChange: v.GetBool("downloadOnChange"),
		SyncMode:         ParseSyncMode(v.GetString("syncMode")),
		PrivateKey:       v.GetString("privateKey"),
		Password:         v.GetString("password"),
	}

	// Only an explicit false disables save-triggered uploads.
	if b, ok := v.Get("uploadOnSave").(bool); ok && !b {
		cfg.UploadOnSave = false
	}

	return cfg
}

func stringOr(v *viper.Viper, key, def string) string {
	if s := v.GetString(key); s != "" {
		return s
	}
	return def
}

func normalizePort(port int) int {
	if port < 1 || port > 65535 {
		return DefaultPort
	}
	return port
}

// NormalizeRemotePath makes p absolute.
func NormalizeRemotePath(p string) string {
	if !strings.HasPrefix(p, "/") {
		return "/" + p
	}
	return p
}

// SaveWorkspace writes cfg as 2-space indented JSON, creating the settings
// directory. Inline credentials are dropped.
func SaveWorkspace(root string, cfg *WorkspaceConfig) error {
	out := *cfg
	out.PrivateKey = ""
	out.Password = ""
	if out.Ignore == nil {
		out.Ignore = []string{}
	}

	data, err := json.MarshalIndent(&out, "", "  ")
	if err != nil {
		return fmt.Errorf("encode workspace config: %w", err)
	}

	path := WorkspacePath(root)
	if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}
	if err := afero.WriteFile(fs, path, data, 0o644); err != nil {
		return fmt.Errorf("write workspace config: %w", err)
	}
	return nil
}

// CreateTemplate writes Template() unless a configuration already exists
// and overwrite is false. It returns the written path.
func CreateTemplate(root string, overwrite bool) (string, error) {
	path := WorkspacePath(root)

	if !overwrite {
		exists, err := afero.Exists(fs, path)
		if err != nil {
			return "", fmt.Errorf("stat workspace config: %w", err)
		}
		if exists {
			return "", fmt.Errorf("%w: %s", ErrConfigExists, path)
		}
	}

	if err := SaveWorkspace(root, Template()); err != nil {
		return "", err
	}
	return path, nil
}
