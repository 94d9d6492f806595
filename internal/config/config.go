// Package config loads pharmasync settings.
//
// Settings come from, in increasing precedence: built-in defaults, the TOML
// config file, a .env file in the working directory and PHARMASYNC_*
// environment variables (PHARMASYNC_REMOTE_BASE_URL sets remote.base_url).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	// FileName is the default config file name.
	FileName = "pharmasync.toml"

	// EnvPrefix prefixes every environment override.
	EnvPrefix = "PHARMASYNC"
)

// Config is the full pharmasync configuration.
type Config struct {
	DataDir   string          `mapstructure:"data_dir" yaml:"data_dir"`
	TenantID  string          `mapstructure:"tenant_id" yaml:"tenant_id"`
	Remote    RemoteConfig    `mapstructure:"remote" yaml:"remote"`
	Sync      SyncConfig      `mapstructure:"sync" yaml:"sync"`
	Retention RetentionConfig `mapstructure:"retention" yaml:"retention"`
	Backup    BackupConfig    `mapstructure:"backup" yaml:"backup"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
	Dashboard DashboardConfig `mapstructure:"dashboard" yaml:"dashboard"`
}

// RemoteConfig configures the remote service client.
type RemoteConfig struct {
	BaseURL     string        `mapstructure:"base_url" yaml:"base_url"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxAttempts int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	RetryDelay  time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`
	AuthSecret  string        `mapstructure:"auth_secret" yaml:"auth_secret"`
	TokenTTL    time.Duration `mapstructure:"token_ttl" yaml:"token_ttl"`
}

// SyncConfig configures the coordinator and the connectivity monitor.
type SyncConfig struct {
	Interval      time.Duration `mapstructure:"interval" yaml:"interval"`
	NodeID        int64         `mapstructure:"node_id" yaml:"node_id"`
	ProbeInterval time.Duration `mapstructure:"probe_interval" yaml:"probe_interval"`
	SettleDelay   time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
}

// RetentionConfig configures the retention sweep.
type RetentionConfig struct {
	Days int `mapstructure:"days" yaml:"days"`
}

// BackupConfig configures local backup exports.
type BackupConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// LogConfig configures log output. An empty File logs to stderr only.
type LogConfig struct {
	File       string `mapstructure:"file" yaml:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// DashboardConfig configures the status dashboard.
type DashboardConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// defaults lists every key with its default. Durations are strings so the
// same table can be written out as TOML.
var defaults = map[string]interface{}{
	"data_dir":  "data",
	"tenant_id": "default",

	"remote.base_url":     "http://localhost:3000/api",
	"remote.timeout":      "30s",
	"remote.max_attempts": 3,
	"remote.retry_delay":  "5s",
	"remote.auth_secret":  "",
	"remote.token_ttl":    "5m",

	"sync.interval":       "15m",
	"sync.node_id":        1,
	"sync.probe_interval": "30s",
	"sync.settle_delay":   "1s",

	"retention.days": 90,

	"backup.dir": "backups",

	"log.file":         "",
	"log.max_size_mb":  10,
	"log.max_backups":  5,
	"log.max_age_days": 30,
	"log.compress":     true,

	"dashboard.addr": "127.0.0.1:8080",
}

// New returns a viper instance with defaults and environment binding. When
// path is empty the config file is looked up as ./pharmasync.toml and
// $HOME/.pharmasync/pharmasync.toml.
func New(path string) *viper.Viper {
	v := viper.New()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(strings.TrimSuffix(FileName, filepath.Ext(FileName)))
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".pharmasync"))
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the configuration. A missing config file is not an error; a
// malformed one is.
func Load(v *viper.Viper) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	var errs []error
	if c.DataDir == "" {
		errs = append(errs, fmt.Errorf("data_dir must be set"))
	}
	if c.TenantID == "" {
		errs = append(errs, fmt.Errorf("tenant_id must be set"))
	}
	if c.Remote.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("remote.max_attempts must be at least 1"))
	}
	if c.Sync.Interval < time.Second {
		errs = append(errs, fmt.Errorf("sync.interval must be at least 1s (got %v)", c.Sync.Interval))
	}
	if c.Sync.NodeID < 0 || c.Sync.NodeID > 1023 {
		errs = append(errs, fmt.Errorf("sync.node_id must be within 0-1023"))
	}
	if c.Retention.Days < 1 {
		errs = append(errs, fmt.Errorf("retention.days must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Watch reloads the config file on change and calls fn with each valid new
// configuration. Invalid edits are reported through onError and ignored.
func Watch(v *viper.Viper, fn func(*Config), onError func(error)) {
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := decode(v)
		if err != nil {
			if onError != nil {
				onError(fmt.Errorf("ignoring %s: %w", e.Name, err))
			}
			return
		}
		fn(cfg)
	})
	v.WatchConfig()
}

// WriteDefault writes the default configuration as TOML to path. An
// existing file is only replaced when force is set.
func WriteDefault(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(DefaultTable()); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// DefaultTable returns the defaults as nested tables keyed like the file.
func DefaultTable() map[string]interface{} {
	out := make(map[string]interface{})
	for key, val := range defaults {
		parts := strings.Split(key, ".")
		table := out
		for _, p := range parts[:len(parts)-1] {
			next, ok := table[p].(map[string]interface{})
			if !ok {
				next = make(map[string]interface{})
				table[p] = next
			}
			table = next
		}
		table[parts[len(parts)-1]] = val
	}
	return out
}

// DatabaseDir returns the absolute data directory.
func (c *Config) DatabaseDir() (string, error) {
	return filepath.Abs(c.DataDir)
}
