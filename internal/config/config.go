package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Settings représente la configuration de l'application
type Settings struct {
	App      AppConfig      `mapstructure:"app"`
	Paths    PathsConfig    `mapstructure:"paths"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Pool     PoolConfig     `mapstructure:"pool"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Journal  JournalConfig  `mapstructure:"journal"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Security SecurityConfig `mapstructure:"security"`
}

type AppConfig struct {
	Name     string `mapstructure:"name"`
	Version  string `mapstructure:"version"`
	LogLevel string `mapstructure:"log_level"`
}

type PathsConfig struct {
	ConfigDir string `mapstructure:"config_dir"`
	LogDir    string `mapstructure:"log_dir"`
}

type LoggingConfig struct {
	File     string            `mapstructure:"file"`
	Rotation LogRotationConfig `mapstructure:"rotation"`
	Levels   LogLevelsConfig   `mapstructure:"levels"`
}

type LogRotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxFiles   int  `mapstructure:"max_files"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	Compress   bool `mapstructure:"compress"`
}

type LogLevelsConfig struct {
	Console string `mapstructure:"console"`
	File    string `mapstructure:"file"`
}

type PoolConfig struct {
	ConnectTimeoutSeconds int `mapstructure:"connect_timeout_seconds"`
	IdleTimeoutSeconds    int `mapstructure:"idle_timeout_seconds"`
	SweepIntervalSeconds  int `mapstructure:"sweep_interval_seconds"`
}

type SyncConfig struct {
	Filter        string `mapstructure:"filter"`
	SkipUnchanged bool   `mapstructure:"skip_unchanged"`
	MaxRetries    int    `mapstructure:"max_retries"`
	DebounceMS    int    `mapstructure:"debounce_ms"`
	Schedule      string `mapstructure:"schedule"`
}

type JournalConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type MetricsConfig struct {
	Listen string `mapstructure:"listen"`
}

type SecurityConfig struct {
	KeystoreServiceName   string `mapstructure:"keystore_service_name"`
	KnownHostsFile        string `mapstructure:"known_hosts_file"`
	InsecureIgnoreHostKey bool   `mapstructure:"insecure_ignore_host_key"`
}

// ConnectTimeout, IdleTimeout et SweepInterval convertissent les durées du pool
func (p PoolConfig) ConnectTimeout() time.Duration {
	return time.Duration(p.ConnectTimeoutSeconds) * time.Second
}

func (p PoolConfig) IdleTimeout() time.Duration {
	return time.Duration(p.IdleTimeoutSeconds) * time.Second
}

func (p PoolConfig) SweepInterval() time.Duration {
	return time.Duration(p.SweepIntervalSeconds) * time.Second
}

// Debounce retourne le délai de regroupement des événements fichiers
func (s SyncConfig) Debounce() time.Duration {
	return time.Duration(s.DebounceMS) * time.Millisecond
}

// Load charge la configuration depuis le fichier par défaut ou spécifié
func Load(configPath string) (*Settings, error) {
	v := viper.New()
	v.SetFs(fs)

	// Définir les chemins de recherche de configuration
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath(getDefaultConfigDir())
	}

	// Lire la configuration
	if err := v.ReadInConfig(); err != nil {
		// Si le fichier n'existe pas, utiliser les valeurs par défaut
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("erreur lecture config: %w", err)
		}
	}

	setDefaults(v)

	// Permettre les variables d'environnement
	v.SetEnvPrefix("SCPSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var settings Settings
	if err := v.Unmarshal(&settings); err != nil {
		return nil, fmt.Errorf("erreur décodage config: %w", err)
	}

	settings.Paths.ConfigDir = expandPath(settings.Paths.ConfigDir)
	settings.Paths.LogDir = expandPath(settings.Paths.LogDir)
	settings.Logging.File = expandPath(settings.Logging.File)
	settings.Journal.Path = expandPath(settings.Journal.Path)
	settings.Security.KnownHostsFile = expandPath(settings.Security.KnownHostsFile)

	return &settings, nil
}

// getDefaultConfigDir retourne le répertoire de configuration par défaut selon l'OS
func getDefaultConfigDir() string {
	home, _ := homedir.Dir()
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "scpsync")
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "scpsync")
	default: // Linux et autres
		return filepath.Join(home, ".config", "scpsync")
	}
}

// expandPath remplace ~, ${HOME} et les autres variables dans les chemins
func expandPath(path string) string {
	if path == "" {
		return path
	}

	if expanded, err := homedir.Expand(path); err == nil {
		path = expanded
	}

	home, _ := homedir.Dir()
	return os.Expand(path, func(key string) string {
		switch key {
		case "HOME":
			return home
		default:
			return os.Getenv(key)
		}
	})
}

// setDefaults définit les valeurs par défaut
func setDefaults(v *viper.Viper) {
	// App
	v.SetDefault("app.name", "scpsync")
	v.SetDefault("app.version", "0.1.0-dev")
	v.SetDefault("app.log_level", "info")

	// Paths
	v.SetDefault("paths.config_dir", getDefaultConfigDir())
	v.SetDefault("paths.log_dir", filepath.Join(getDefaultConfigDir(), "logs"))

	// Logging
	v.SetDefault("logging.file", filepath.Join(getDefaultConfigDir(), "logs", "scpsync.log"))
	v.SetDefault("logging.rotation.max_size_mb", 10)
	v.SetDefault("logging.rotation.max_files", 5)
	v.SetDefault("logging.rotation.max_age_days", 30)
	v.SetDefault("logging.rotation.compress", true)
	v.SetDefault("logging.levels.console", "info")
	v.SetDefault("logging.levels.file", "debug")

	// Pool
	v.SetDefault("pool.connect_timeout_seconds", 30)
	v.SetDefault("pool.idle_timeout_seconds", 300)
	v.SetDefault("pool.sweep_interval_seconds", 60)

	// Sync
	v.SetDefault("sync.filter", "substring")
	v.SetDefault("sync.skip_unchanged", false)
	v.SetDefault("sync.max_retries", 2)
	v.SetDefault("sync.debounce_ms", 500)
	v.SetDefault("sync.schedule", "")

	// Journal
	v.SetDefault("journal.enabled", true)
	v.SetDefault("journal.path", filepath.Join(getDefaultConfigDir(), "journal.db"))

	// Metrics
	v.SetDefault("metrics.listen", "")

	// Security
	v.SetDefault("security.keystore_service_name", "scpsync")
	v.SetDefault("security.known_hosts_file", "")
	v.SetDefault("security.insecure_ignore_host_key", false)
}
