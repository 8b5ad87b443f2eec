package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeSync()
	c.normalizeConnectivity()
	if err := c.normalizeSpool(); err != nil {
		return err
	}
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(strings.TrimSpace(c.Paths.LogDir)); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	if c.Paths.APIToken == "" {
		if value, ok := os.LookupEnv(envAPIToken); ok {
			c.Paths.APIToken = strings.TrimSpace(value)
		}
	}
	return nil
}

func (c *Config) normalizeSync() {
	c.Sync.Endpoint = strings.TrimSpace(c.Sync.Endpoint)
	if c.Sync.Endpoint == "" {
		if value, ok := os.LookupEnv(envSyncEndpoint); ok {
			c.Sync.Endpoint = strings.TrimSpace(value)
		}
	}
	c.Sync.Token = strings.TrimSpace(c.Sync.Token)
	if c.Sync.Token == "" {
		if value, ok := os.LookupEnv(envSyncToken); ok {
			c.Sync.Token = strings.TrimSpace(value)
		}
	}
	if c.Sync.IntervalSeconds == 0 {
		c.Sync.IntervalSeconds = defaultSyncIntervalSeconds
	}
	if c.Sync.RequestTimeout == 0 {
		c.Sync.RequestTimeout = defaultRequestTimeout
	}
}

func (c *Config) normalizeConnectivity() {
	c.Connectivity.ProbeURL = strings.TrimSpace(c.Connectivity.ProbeURL)
	if c.Connectivity.ProbeInterval == 0 {
		c.Connectivity.ProbeInterval = defaultProbeInterval
	}
	if c.Connectivity.ProbeTimeout == 0 {
		c.Connectivity.ProbeTimeout = defaultProbeTimeout
	}
}

func (c *Config) normalizeSpool() error {
	dir := strings.TrimSpace(c.Spool.Dir)
	if dir == "" {
		c.Spool.Dir = ""
	} else {
		expanded, err := expandPath(dir)
		if err != nil {
			return fmt.Errorf("spool.dir: %w", err)
		}
		c.Spool.Dir = expanded
	}
	if c.Spool.DebounceMillis == 0 {
		c.Spool.DebounceMillis = defaultSpoolDebounceMillis
	}
	return nil
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeout == 0 {
		c.Notifications.RequestTimeout = defaultNtfyRequestTimeout
	}
	if c.Notifications.FailureThreshold == 0 {
		c.Notifications.FailureThreshold = defaultFailureThreshold
	}
}

func (c *Config) normalizeLogging() {
	format := strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if format == "" {
		format = defaultLogFormat
	}
	c.Logging.Format = format

	level := strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if level == "" {
		level = defaultLogLevel
	}
	c.Logging.Level = level

	if c.Logging.RetentionDays == 0 {
		c.Logging.RetentionDays = defaultLogRetentionDays
	}
	if c.Logging.MaxSizeMB == 0 {
		c.Logging.MaxSizeMB = defaultLogMaxSizeMB
	}
}
