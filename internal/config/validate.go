package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateSync(); err != nil {
		return err
	}
	if err := c.validateConnectivity(); err != nil {
		return err
	}
	if err := c.validateSpool(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

// ValidateForDaemon applies the additional checks required before the sync
// daemon can start. The CLI can inspect and enqueue without an endpoint.
func (c *Config) ValidateForDaemon() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Sync.Endpoint == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = defaultConfigLocation
		}
		return fmt.Errorf("sync.endpoint is required. Set %s env var or edit %s (create with 'outbox config init')", envSyncEndpoint, defaultPath)
	}
	return nil
}

func (c *Config) validateSync() error {
	if c.Sync.Endpoint != "" {
		if err := validateHTTPURL(c.Sync.Endpoint); err != nil {
			return fmt.Errorf("sync.endpoint: %w", err)
		}
	}
	if c.Sync.IntervalSeconds < 0 {
		return errors.New("sync.interval_seconds must be positive")
	}
	if c.Sync.RequestTimeout < 0 {
		return errors.New("sync.request_timeout must be positive")
	}
	if c.Sync.ShutdownGrace < 0 {
		return errors.New("sync.shutdown_grace must be zero or positive")
	}
	return nil
}

func (c *Config) validateConnectivity() error {
	if c.Connectivity.ProbeURL != "" {
		if err := validateHTTPURL(c.Connectivity.ProbeURL); err != nil {
			return fmt.Errorf("connectivity.probe_url: %w", err)
		}
	}
	if c.Connectivity.ProbeInterval < 0 {
		return errors.New("connectivity.probe_interval must be positive")
	}
	if c.Connectivity.ProbeTimeout < 0 {
		return errors.New("connectivity.probe_timeout must be positive")
	}
	return nil
}

func (c *Config) validateSpool() error {
	if c.Spool.DebounceMillis < 0 {
		return errors.New("spool.debounce_millis must be positive")
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if c.Notifications.NtfyTopic != "" {
		if err := validateHTTPURL(c.Notifications.NtfyTopic); err != nil {
			return fmt.Errorf("notifications.ntfy_topic: %w", err)
		}
	}
	if c.Notifications.RequestTimeout < 0 {
		return errors.New("notifications.request_timeout must be positive")
	}
	if c.Notifications.FailureThreshold < 0 {
		return errors.New("notifications.failure_threshold must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	if c.Logging.RetentionDays < 0 {
		return errors.New("logging.retention_days must be zero or positive")
	}
	if c.Logging.MaxSizeMB < 0 {
		return errors.New("logging.max_size_mb must be positive")
	}
	return nil
}

func validateHTTPURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse %q: %w", raw, err)
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("%q must use http or https", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("%q must include a host", raw)
	}
	return nil
}
