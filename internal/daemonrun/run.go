package daemonrun

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"outbox/internal/config"
	"outbox/internal/daemon"
	"outbox/internal/logging"
	"outbox/internal/queue"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel     string
	AssumeOnline bool
	Diagnostic   bool
}

// Run starts the outbox daemon and blocks until SIGINT or SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.ValidateForDaemon(); err != nil {
		return err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runCfg := *cfg
	if level := strings.TrimSpace(opts.LogLevel); level != "" {
		runCfg.Logging.Level = level
	}
	logger, err := logging.NewFromConfig(&runCfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	sessionID := uuid.NewString()
	logger = logging.WithSession(logger, sessionID)

	if opts.Diagnostic && cfg.Paths.LogDir != "" {
		runID := time.Now().UTC().Format("20060102T150405.000Z")
		debugPath := filepath.Join(cfg.Paths.LogDir, "debug", fmt.Sprintf("outbox-%s.log", runID))
		if err := os.MkdirAll(filepath.Dir(debugPath), 0o755); err != nil {
			return fmt.Errorf("create debug log directory: %w", err)
		}
		debugLogger, debugErr := logging.New(logging.Options{
			Level:       "debug",
			Format:      "json",
			OutputPaths: []string{debugPath},
			Development: true,
		})
		if debugErr != nil {
			fmt.Fprintf(os.Stderr, "warn: unable to initialize debug logger: %v\n", debugErr)
		} else {
			logger = logging.TeeLogger(logger, logging.WithSession(debugLogger, sessionID).Handler())
		}
		logger.Info("diagnostic mode enabled",
			logging.String(logging.FieldEventType, "diagnostic_mode_enabled"),
			logging.String("debug_log_path", debugPath),
		)
	}

	logger.Info("configuration snapshot",
		logging.String(logging.FieldEventType, "config_snapshot"),
		logging.String("endpoint", cfg.Sync.Endpoint),
		logging.Bool("token_present", strings.TrimSpace(cfg.Sync.Token) != ""),
		logging.Duration("interval", cfg.SyncInterval()),
		logging.String("probe_target", cfg.ProbeTarget()),
		logging.Bool("netlink", cfg.Connectivity.Netlink),
		logging.Bool("assume_online", opts.AssumeOnline),
		logging.Bool("spool_enabled", cfg.SpoolEnabled()),
		logging.String("api_bind", cfg.Paths.APIBind),
	)

	store, err := queue.Open(cfg)
	if err != nil {
		logger.Error("open queue store", logging.Error(err))
		return err
	}

	d, err := daemon.New(cfg, store, logger, daemon.Options{AssumeOnline: opts.AssumeOnline})
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.Hint("check the lock file, api_bind and queue database access"),
			logging.Impact("queued actions are not delivered until the daemon starts"),
		)
		return err
	}

	<-signalCtx.Done()
	logger.Info("outbox daemon shutting down", logging.String(logging.FieldEventType, "daemon_shutdown"))
	return nil
}
