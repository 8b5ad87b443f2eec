package connectivity

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"outbox/internal/logging"
)

const (
	defaultProbeInterval = 15 * time.Second
	defaultProbeTimeout  = 5 * time.Second
)

// ProbeFunc returns nil when the endpoint is reachable.
type ProbeFunc func(ctx context.Context) error

// HTTPProbe returns a ProbeFunc that issues a HEAD request to target. Any
// HTTP response counts as reachable; only transport failures count as offline.
func HTTPProbe(client *http.Client, target string) ProbeFunc {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context) error {
		if strings.TrimSpace(target) == "" {
			return errors.New("probe target not configured")
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, target, nil)
		if err != nil {
			return fmt.Errorf("build probe request: %w", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.Body.Close()
	}
}

// ProberOptions configures probe cadence.
type ProberOptions struct {
	Interval time.Duration
	Timeout  time.Duration
}

// Prober keeps a Tracker current by probing the sync endpoint.
type Prober struct {
	*Tracker

	probe    ProbeFunc
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
	kick     chan struct{}

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	lastErr error
}

// NewProber constructs a Prober. It reports offline until Start runs the
// first probe.
func NewProber(probe ProbeFunc, opts ProberOptions, logger *slog.Logger) *Prober {
	if opts.Interval <= 0 {
		opts.Interval = defaultProbeInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultProbeTimeout
	}
	return &Prober{
		Tracker:  NewTracker(false),
		probe:    probe,
		interval: opts.Interval,
		timeout:  opts.Timeout,
		logger:   logging.NewComponentLogger(logger, "connectivity"),
		kick:     make(chan struct{}, 1),
	}
}

// Start seeds the state with one synchronous probe, without firing reconnect
// handlers, and then probes in the background until Stop or ctx ends.
func (p *Prober) Start(ctx context.Context) error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = true
	p.mu.Unlock()

	online := p.check(ctx)
	p.seed(online)
	p.logger.Info("connectivity monitor started",
		logging.String(logging.FieldEventType, "connectivity_started"),
		logging.Bool("online", online),
		logging.Duration("probe_interval", p.interval),
	)

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.mu.Lock()
	p.cancel = cancel
	p.done = done
	p.mu.Unlock()

	go p.loop(loopCtx, done)
	return nil
}

// Stop halts background probing and waits for the loop to exit.
func (p *Prober) Stop() {
	if p == nil {
		return
	}
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	cancel, done := p.cancel, p.done
	p.running = false
	p.cancel = nil
	p.done = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Kick requests an immediate probe. Requests made while one is pending
// collapse into a single probe.
func (p *Prober) Kick() {
	if p == nil {
		return
	}
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

// ProbeNow runs one probe synchronously and records the result, firing
// reconnect handlers on a transition.
func (p *Prober) ProbeNow(ctx context.Context) bool {
	online := p.check(ctx)
	p.record(online)
	return online
}

// LastError returns the most recent probe failure, if the last probe failed.
func (p *Prober) LastError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

func (p *Prober) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-p.kick:
		}
		online := p.check(ctx)
		if ctx.Err() != nil {
			return
		}
		p.record(online)
	}
}

func (p *Prober) check(ctx context.Context) bool {
	if p.probe == nil {
		return false
	}
	probeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	err := p.probe(probeCtx)

	p.mu.Lock()
	p.lastErr = err
	p.mu.Unlock()
	return err == nil
}

func (p *Prober) record(online bool) {
	if !p.Set(online) {
		return
	}
	if online {
		p.logger.Info("sync endpoint reachable",
			logging.String(logging.FieldEventType, "connectivity_online"),
		)
		return
	}
	logging.WarnWithContext(p.logger, "sync endpoint unreachable", "connectivity_offline",
		logging.Error(p.LastError()),
		logging.Hint("check network connection and sync.endpoint"),
		logging.Impact("actions stay queued until connectivity returns"),
	)
}
