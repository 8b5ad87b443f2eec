package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir  string `toml:"data_dir"`
	LogDir   string `toml:"log_dir"`
	APIBind  string `toml:"api_bind"`
	APIToken string `toml:"api_token"`
}

// Sync contains configuration for the remote batch endpoint and cycle timing.
type Sync struct {
	Endpoint        string `toml:"endpoint"`
	Token           string `toml:"token"`
	IntervalSeconds int    `toml:"interval_seconds"`
	RequestTimeout  int    `toml:"request_timeout"`
	ShutdownGrace   int    `toml:"shutdown_grace"`
}

// Connectivity contains configuration for the reachability prober.
type Connectivity struct {
	ProbeURL      string `toml:"probe_url"`
	ProbeInterval int    `toml:"probe_interval"`
	ProbeTimeout  int    `toml:"probe_timeout"`
	Netlink       bool   `toml:"netlink"`
}

// Spool contains configuration for the drop-directory producer.
type Spool struct {
	Dir            string `toml:"dir"`
	DebounceMillis int    `toml:"debounce_millis"`
}

// Notifications contains configuration for ntfy sync alerts.
type Notifications struct {
	NtfyTopic        string `toml:"ntfy_topic"`
	RequestTimeout   int    `toml:"request_timeout"`
	FailureThreshold int    `toml:"failure_threshold"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
	MaxSizeMB     int    `toml:"max_size_mb"`
}

// Config encapsulates all configuration values for outbox.
//
// Configuration sections by subsystem:
//   - Paths: data/log directories and API bind address
//   - Sync: remote endpoint, credentials, and cycle interval
//   - Connectivity: reachability probe and netlink trigger
//   - Spool: optional directory of action files to ingest
//   - Notifications: ntfy alerts for failing and recovered sync
//   - Logging: log format, level, and rotation
type Config struct {
	Paths         Paths         `toml:"paths"`
	Sync          Sync          `toml:"sync"`
	Connectivity  Connectivity  `toml:"connectivity"`
	Spool         Spool         `toml:"spool"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigLocation)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigLocation)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs(defaultProjectConfigName)
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if c.SpoolEnabled() {
		if err := os.MkdirAll(c.Spool.Dir, 0o755); err != nil {
			return fmt.Errorf("create spool directory %q: %w", c.Spool.Dir, err)
		}
	}
	return nil
}

// QueueDBPath returns the location of the persistent queue database.
func (c *Config) QueueDBPath() string {
	return filepath.Join(c.Paths.DataDir, "outbox.db")
}

// LockPath returns the daemon single-instance lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "outbox.lock")
}

// PIDPath returns the daemon PID file location.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.DataDir, "outbox.pid")
}

// LogPath returns the daemon log file location, or "" when file logging is disabled.
func (c *Config) LogPath() string {
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		return ""
	}
	return filepath.Join(c.Paths.LogDir, "outbox.log")
}

// SpoolEnabled reports whether the drop-directory producer should run.
func (c *Config) SpoolEnabled() bool {
	return strings.TrimSpace(c.Spool.Dir) != ""
}

// SyncInterval returns the periodic sync cadence.
func (c *Config) SyncInterval() time.Duration {
	return time.Duration(c.Sync.IntervalSeconds) * time.Second
}

// RequestTimeout returns the per-batch HTTP timeout.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Sync.RequestTimeout) * time.Second
}

// ShutdownGrace returns how long shutdown waits for an in-flight cycle.
func (c *Config) ShutdownGrace() time.Duration {
	return time.Duration(c.Sync.ShutdownGrace) * time.Second
}

// ProbeInterval returns the reachability polling cadence.
func (c *Config) ProbeInterval() time.Duration {
	return time.Duration(c.Connectivity.ProbeInterval) * time.Second
}

// ProbeTimeout returns the per-probe timeout.
func (c *Config) ProbeTimeout() time.Duration {
	return time.Duration(c.Connectivity.ProbeTimeout) * time.Second
}

// SpoolDebounce returns the quiet period before a spool file is ingested.
func (c *Config) SpoolDebounce() time.Duration {
	return time.Duration(c.Spool.DebounceMillis) * time.Millisecond
}

// NotificationsEnabled reports whether an ntfy topic is configured.
func (c *Config) NotificationsEnabled() bool {
	return strings.TrimSpace(c.Notifications.NtfyTopic) != ""
}

// NotificationTimeout returns the ntfy request timeout.
func (c *Config) NotificationTimeout() time.Duration {
	return time.Duration(c.Notifications.RequestTimeout) * time.Second
}

// ProbeTarget returns the URL used for reachability probes, falling back to
// the sync endpoint.
func (c *Config) ProbeTarget() string {
	if target := strings.TrimSpace(c.Connectivity.ProbeURL); target != "" {
		return target
	}
	return strings.TrimSpace(c.Sync.Endpoint)
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// Marshal renders the effective configuration as TOML.
func (c *Config) Marshal() ([]byte, error) {
	data, err := toml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return data, nil
}
