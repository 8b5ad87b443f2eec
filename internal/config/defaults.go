package config

const (
	defaultDataDir             = "~/.local/share/outbox"
	defaultLogDir              = "~/.local/share/outbox/logs"
	defaultAPIBind             = "127.0.0.1:7488"
	defaultSyncIntervalSeconds = 600
	defaultRequestTimeout      = 30
	defaultShutdownGrace       = 10
	defaultProbeInterval       = 15
	defaultProbeTimeout        = 5
	defaultNetlinkEnabled      = true
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
	defaultLogRetentionDays    = 30
	defaultLogMaxSizeMB        = 20
	defaultSpoolDebounceMillis = 100
	defaultNtfyRequestTimeout  = 10
	defaultFailureThreshold    = 3
	defaultConfigLocation      = "~/.config/outbox/config.toml"
	defaultProjectConfigName   = "outbox.toml"
	envSyncEndpoint            = "OUTBOX_SYNC_ENDPOINT"
	envSyncToken               = "OUTBOX_SYNC_TOKEN"
	envAPIToken                = "OUTBOX_API_TOKEN"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		Sync: Sync{
			IntervalSeconds: defaultSyncIntervalSeconds,
			RequestTimeout:  defaultRequestTimeout,
			ShutdownGrace:   defaultShutdownGrace,
		},
		Connectivity: Connectivity{
			ProbeInterval: defaultProbeInterval,
			ProbeTimeout:  defaultProbeTimeout,
			Netlink:       defaultNetlinkEnabled,
		},
		Spool: Spool{
			DebounceMillis: defaultSpoolDebounceMillis,
		},
		Notifications: Notifications{
			RequestTimeout:   defaultNtfyRequestTimeout,
			FailureThreshold: defaultFailureThreshold,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
			MaxSizeMB:     defaultLogMaxSizeMB,
		},
	}
}
