package connectivity

import (
	"context"
	"log/slog"
	"sync"

	"github.com/pilebones/go-udev/netlink"

	"outbox/internal/logging"
)

// LinkWatcher listens for kernel uevents on the net subsystem (interfaces
// appearing, disappearing or changing) and calls onEvent for each one.
type LinkWatcher struct {
	logger  *slog.Logger
	onEvent func(action, iface string)

	mu      sync.Mutex
	conn    *netlink.UEventConn
	quit    chan struct{}
	running bool
}

// NewLinkWatcher creates a watcher. onEvent must not block.
func NewLinkWatcher(onEvent func(action, iface string), logger *slog.Logger) *LinkWatcher {
	return &LinkWatcher{
		logger:  logging.NewComponentLogger(logger, "netlink-watcher"),
		onEvent: onEvent,
	}
}

// Start opens the netlink socket. Failure is logged and non-fatal: the
// prober's interval still detects reconnects, only later.
func (w *LinkWatcher) Start(ctx context.Context) error {
	if w == nil {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}

	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		logging.WarnWithContext(w.logger, "failed to connect to netlink socket; reconnects will be detected by polling only", "netlink_connect_failed",
			logging.Error(err),
			logging.Hint("ensure the daemon may open netlink sockets, or set connectivity.netlink = false"),
			logging.Impact("reconnect detection limited to the probe interval"),
		)
		return nil
	}

	w.conn = conn
	w.quit = make(chan struct{})
	w.running = true

	quit := w.quit
	go w.monitorLoop(ctx, conn, quit)

	w.logger.Info("netlink watcher started",
		logging.String(logging.FieldEventType, "netlink_watcher_started"),
	)
	return nil
}

// Stop closes the netlink socket.
func (w *LinkWatcher) Stop() {
	if w == nil {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}
	if w.quit != nil {
		close(w.quit)
		w.quit = nil
	}
	if w.conn != nil {
		_ = w.conn.Close()
		w.conn = nil
	}
	w.running = false

	w.logger.Info("netlink watcher stopped",
		logging.String(logging.FieldEventType, "netlink_watcher_stopped"),
	)
}

// Running reports whether the watcher is active.
func (w *LinkWatcher) Running() bool {
	if w == nil {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *LinkWatcher) monitorLoop(ctx context.Context, conn *netlink.UEventConn, quit <-chan struct{}) {
	events := make(chan netlink.UEvent)
	errs := make(chan error)
	monitorQuit := conn.Monitor(events, errs, buildLinkMatcher())

	for {
		select {
		case <-ctx.Done():
			close(monitorQuit)
			return
		case <-quit:
			close(monitorQuit)
			return
		case uevent := <-events:
			w.handleEvent(uevent)
		case err := <-errs:
			logging.WarnWithContext(w.logger, "netlink watcher error", "netlink_watcher_error",
				logging.Error(err),
				logging.Hint("check kernel netlink subsystem"),
				logging.Impact("reconnect detection may be delayed"),
			)
		}
	}
}

// buildLinkMatcher matches SUBSYSTEM=net with an interface lifecycle action.
func buildLinkMatcher() netlink.Matcher {
	action := "add|remove|change|move|online|offline"
	rules := &netlink.RuleDefinitions{}
	rules.AddRule(netlink.RuleDefinition{
		Action: &action,
		Env: map[string]string{
			"SUBSYSTEM": "net",
		},
	})
	return rules
}

func (w *LinkWatcher) handleEvent(uevent netlink.UEvent) {
	iface := interfaceName(uevent)
	if iface == "lo" {
		return
	}
	w.logger.Debug("network interface event",
		logging.String("action", string(uevent.Action)),
		logging.String("interface", iface),
	)
	if w.onEvent != nil {
		w.onEvent(string(uevent.Action), iface)
	}
}

func interfaceName(uevent netlink.UEvent) string {
	if name := uevent.Env["INTERFACE"]; name != "" {
		return name
	}
	kobj := uevent.KObj
	for i := len(kobj) - 1; i >= 0; i-- {
		if kobj[i] == '/' {
			return kobj[i+1:]
		}
	}
	return kobj
}
