package daemon

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"outbox/internal/api"
	"outbox/internal/logging"
)

const (
	eventBufferSize   = 100
	eventWriteTimeout = 5 * time.Second
)

// eventHub fans daemon events out to websocket subscribers.
type eventHub struct {
	logger *slog.Logger

	mu        sync.RWMutex
	clients   map[*websocket.Conn]struct{}
	broadcast chan api.Event
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

func newEventHub(logger *slog.Logger) *eventHub {
	return &eventHub{
		logger:  logging.NewComponentLogger(logger, "events"),
		clients: make(map[*websocket.Conn]struct{}),
	}
}

func (h *eventHub) start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		return
	}
	h.ctx, h.cancel = context.WithCancel(context.Background())
	h.broadcast = make(chan api.Event, eventBufferSize)
	h.wg.Add(1)
	go h.loop(h.ctx, h.broadcast)
}

func (h *eventHub) close() {
	h.mu.Lock()
	cancel := h.cancel
	h.cancel = nil
	clients := h.clients
	h.clients = make(map[*websocket.Conn]struct{})
	h.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	for conn := range clients {
		_ = conn.Close(websocket.StatusGoingAway, "daemon shutting down")
	}
	h.wg.Wait()
}

// publish queues evt for delivery. Events are dropped when the hub is
// stopped or the buffer is full.
func (h *eventHub) publish(evt api.Event) {
	if evt.Timestamp == "" {
		evt.Timestamp = api.FormatTime(time.Now())
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.cancel == nil {
		return
	}
	select {
	case h.broadcast <- evt:
	default:
		h.logger.Warn("event buffer full, dropping event", logging.String(logging.FieldEventType, evt.Type))
	}
}

func (h *eventHub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *eventHub) loop(ctx context.Context, events <-chan api.Event) {
	defer h.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-events:
			h.mu.RLock()
			clients := make([]*websocket.Conn, 0, len(h.clients))
			for conn := range h.clients {
				clients = append(clients, conn)
			}
			h.mu.RUnlock()

			for _, conn := range clients {
				if err := writeEvent(ctx, conn, evt); err != nil {
					h.logger.Debug("event delivery failed", logging.Error(err))
					h.remove(conn, websocket.StatusInternalError)
				}
			}
		}
	}
}

// serve upgrades the request, sends the snapshot events and keeps the
// connection registered until the client disconnects.
func (h *eventHub) serve(w http.ResponseWriter, r *http.Request, snapshot []api.Event) {
	h.mu.RLock()
	ctx := h.ctx
	running := h.cancel != nil
	h.mu.RUnlock()
	if !running {
		http.Error(w, `{"error":"event stream unavailable"}`, http.StatusServiceUnavailable)
		return
	}

	// The connection outlives the server's request deadlines once upgraded.
	rc := http.NewResponseController(w)
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", logging.Error(err))
		return
	}

	h.mu.Lock()
	h.clients[conn] = struct{}{}
	total := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("event subscriber connected", logging.Int("subscribers", total))

	for _, evt := range snapshot {
		if evt.Timestamp == "" {
			evt.Timestamp = api.FormatTime(time.Now())
		}
		if err := writeEvent(ctx, conn, evt); err != nil {
			h.remove(conn, websocket.StatusInternalError)
			return
		}
	}

	for {
		if _, _, err := conn.Read(ctx); err != nil {
			h.remove(conn, websocket.StatusNormalClosure)
			return
		}
	}
}

func (h *eventHub) remove(conn *websocket.Conn, code websocket.StatusCode) {
	h.mu.Lock()
	_, ok := h.clients[conn]
	delete(h.clients, conn)
	total := len(h.clients)
	h.mu.Unlock()
	if !ok {
		return
	}
	_ = conn.Close(code, "")
	h.logger.Debug("event subscriber disconnected", logging.Int("subscribers", total))
}

func writeEvent(ctx context.Context, conn *websocket.Conn, evt api.Event) error {
	writeCtx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
	defer cancel()
	return wsjson.Write(writeCtx, conn, evt)
}
