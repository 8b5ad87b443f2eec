package spool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"outbox/internal/logging"
	"outbox/internal/queue"
)

const (
	defaultDebounce = 100 * time.Millisecond
	rejectedDirName = "rejected"
	fileSuffix      = ".json"
)

// Enqueuer is the queue.Store operation the spool needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, itemType string, payload json.RawMessage) (*queue.Item, error)
}

// Options configures a Watcher.
type Options struct {
	Dir      string
	Debounce time.Duration
}

// Watcher ingests spool files as they appear.
type Watcher struct {
	enqueuer    Enqueuer
	dir         string
	rejectedDir string
	debounce    time.Duration
	logger      *slog.Logger

	mu       sync.Mutex
	running  bool
	watcher  *fsnotify.Watcher
	timers   map[string]*time.Timer
	ready    chan string
	done     chan struct{}
	wg       sync.WaitGroup
	onIngest []func(queue.Item)
}

type spoolFile struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// New constructs a Watcher for opts.Dir.
func New(enqueuer Enqueuer, opts Options, logger *slog.Logger) (*Watcher, error) {
	if enqueuer == nil {
		return nil, errors.New("spool: enqueuer is required")
	}
	dir := strings.TrimSpace(opts.Dir)
	if dir == "" {
		return nil, errors.New("spool: directory is required")
	}
	if opts.Debounce <= 0 {
		opts.Debounce = defaultDebounce
	}
	return &Watcher{
		enqueuer:    enqueuer,
		dir:         dir,
		rejectedDir: filepath.Join(dir, rejectedDirName),
		debounce:    opts.Debounce,
		logger:      logging.NewComponentLogger(logger, "spool"),
	}, nil
}

// Dir returns the watched directory.
func (w *Watcher) Dir() string {
	return w.dir
}

// OnIngest registers fn to run after each successful enqueue. Register before
// Start.
func (w *Watcher) OnIngest(fn func(queue.Item)) {
	if fn == nil {
		return
	}
	w.mu.Lock()
	w.onIngest = append(w.onIngest, fn)
	w.mu.Unlock()
}

// Start creates the spool directories, ingests files already present in name
// order and begins watching for new ones.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return errors.New("spool watcher already running")
	}
	if err := os.MkdirAll(w.rejectedDir, 0o755); err != nil {
		w.mu.Unlock()
		return fmt.Errorf("create spool directory: %w", err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := fsw.Add(w.dir); err != nil {
		w.mu.Unlock()
		_ = fsw.Close()
		return fmt.Errorf("failed to watch spool directory %s: %w", w.dir, err)
	}
	w.watcher = fsw
	w.timers = make(map[string]*time.Timer)
	w.ready = make(chan string, 64)
	w.done = make(chan struct{})
	w.running = true
	w.mu.Unlock()

	// Events for files created during the scan queue up in fsnotify; a second
	// Ingest of a consumed file is a no-op.
	existing, err := w.pendingFiles()
	if err != nil {
		w.logger.Warn("spool scan failed", logging.Error(err))
	}
	for _, path := range existing {
		_ = w.Ingest(ctx, path)
	}

	w.wg.Add(1)
	go w.processEvents(ctx)

	w.logger.Info("spool watcher started",
		logging.String(logging.FieldEventType, "spool_started"),
		logging.String("path", w.dir),
		logging.Int("existing", len(existing)),
	)
	return nil
}

// Stop halts watching and waits for any ingestion in progress.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	for path, timer := range w.timers {
		timer.Stop()
		delete(w.timers, path)
	}
	close(w.done)
	fsw := w.watcher
	w.mu.Unlock()

	err := fsw.Close()
	w.wg.Wait()
	if err != nil {
		return fmt.Errorf("failed to close spool watcher: %w", err)
	}
	return nil
}

// Running reports whether the watcher is active.
func (w *Watcher) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Watcher) processEvents(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case <-ctx.Done():
			return
		case path := <-w.ready:
			w.ingestScheduled(ctx, path)
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if path, ok := w.convertEvent(event); ok {
				w.schedule(path)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.WarnWithContext(w.logger, "spool watch error", "spool_watch_error",
				logging.Error(err),
				logging.Hint("check the spool directory still exists"),
			)
		}
	}
}

// convertEvent returns the spool file an event refers to, if it should be
// ingested.
func (w *Watcher) convertEvent(event fsnotify.Event) (string, bool) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return "", false
	}
	if !isSpoolFile(event.Name) {
		return "", false
	}
	if filepath.Dir(event.Name) != filepath.Clean(w.dir) {
		return "", false
	}
	return event.Name, true
}

func isSpoolFile(path string) bool {
	base := filepath.Base(path)
	return strings.HasSuffix(base, fileSuffix) && !strings.HasPrefix(base, ".")
}

func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	w.scheduleLocked(path)
}

// scheduleLocked (re)starts the debounce timer for path. Callers hold mu.
func (w *Watcher) scheduleLocked(path string) {
	if timer, ok := w.timers[path]; ok {
		timer.Reset(w.debounce)
		return
	}
	done := w.done
	ready := w.ready
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		select {
		case ready <- path:
		case <-done:
		}
	})
}

func (w *Watcher) ingestScheduled(ctx context.Context, path string) {
	w.mu.Lock()
	delete(w.timers, path)
	w.mu.Unlock()
	_ = w.Ingest(ctx, path)
}

// Ingest enqueues one spool file and removes it. It is safe to call on a
// path that has already been consumed.
func (w *Watcher) Ingest(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		logging.WarnWithContext(w.logger, "spool file unreadable", "spool_read_failed",
			logging.String("path", path),
			logging.Error(err),
			logging.Hint("check spool file permissions"),
		)
		return err
	}

	var entry spoolFile
	if err := json.Unmarshal(data, &entry); err != nil {
		return w.reject(path, fmt.Errorf("decode spool file: %w", err))
	}

	item, err := w.enqueuer.Enqueue(ctx, entry.Type, entry.Payload)
	if err != nil {
		if errors.Is(err, queue.ErrInvalidItem) {
			return w.reject(path, err)
		}
		logging.WarnWithContext(w.logger, "spool enqueue failed", "spool_enqueue_failed",
			logging.String("path", path),
			logging.Error(err),
			logging.Hint("check the queue database"),
			logging.Impact("file stays in the spool and is retried on the next change or restart"),
		)
		return err
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logging.ErrorWithContext(w.logger, "spool file not removed after enqueue", "spool_remove_failed",
			logging.String("path", path),
			logging.ItemID(item.ID),
			logging.Error(err),
			logging.Hint("remove the file manually to avoid a duplicate on restart"),
		)
	}

	w.logger.Info("spool file enqueued",
		logging.String(logging.FieldEventType, "spool_ingested"),
		logging.ItemID(item.ID),
		logging.String(logging.FieldItemType, item.Type),
		logging.String("file", filepath.Base(path)),
	)

	w.mu.Lock()
	observers := append([]func(queue.Item){}, w.onIngest...)
	w.mu.Unlock()
	for _, fn := range observers {
		fn(*item)
	}
	return nil
}

func (w *Watcher) reject(path string, cause error) error {
	target := filepath.Join(w.rejectedDir, filepath.Base(path))
	if err := os.MkdirAll(w.rejectedDir, 0o755); err != nil {
		return fmt.Errorf("create rejected directory: %w", err)
	}
	if err := os.Rename(path, target); err != nil {
		return fmt.Errorf("move rejected spool file: %w", err)
	}
	logging.WarnWithContext(w.logger, "spool file rejected", "spool_rejected",
		logging.String("file", filepath.Base(path)),
		logging.Error(cause),
		logging.Hint(`files must contain {"type": "...", "payload": ...}`),
		logging.Impact("file moved to the rejected directory"),
	)
	return cause
}

func (w *Watcher) pendingFiles() ([]string, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, fmt.Errorf("read spool directory: %w", err)
	}
	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || !isSpoolFile(entry.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(w.dir, entry.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}
