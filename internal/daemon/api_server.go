package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"outbox/internal/api"
	"outbox/internal/config"
	"outbox/internal/logging"
	"outbox/internal/queue"
)

const (
	maxEnqueueBodyBytes = 1 << 20
	apiWriteTimeout     = 30 * time.Second
)

type apiServer struct {
	bind     string
	logger   *slog.Logger
	daemon   *Daemon
	queueSvc *api.QueueService
	handler  http.Handler

	writeTimeout time.Duration
	// requestTimeout bounds one endpoint submission; /api/sync responses
	// get this much extra write time.
	requestTimeout time.Duration

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	if cfg == nil || d == nil {
		return nil
	}
	srv := &apiServer{
		bind:     strings.TrimSpace(cfg.Paths.APIBind),
		logger:   logging.NewComponentLogger(logger, "api-server"),
		daemon:   d,
		queueSvc: api.NewQueueService(d.store),

		writeTimeout:   apiWriteTimeout,
		requestTimeout: cfg.RequestTimeout(),
	}
	if srv.requestTimeout <= 0 {
		srv.requestTimeout = apiWriteTimeout
	}
	srv.handler = srv.routes(cfg.Paths.APIToken)
	return srv
}

func (s *apiServer) routes(token string) http.Handler {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		s.writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	apiRouter := r.PathPrefix("/api").Subrouter()
	apiRouter.Use(s.requestIDMiddleware, authMiddleware(token))
	apiRouter.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	apiRouter.HandleFunc("/queue", s.handleQueueList).Methods(http.MethodGet)
	apiRouter.HandleFunc("/queue", s.handleEnqueue).Methods(http.MethodPost)
	apiRouter.HandleFunc("/queue/stats", s.handleQueueStats).Methods(http.MethodGet)
	apiRouter.HandleFunc("/queue/health", s.handleQueueHealth).Methods(http.MethodGet)
	apiRouter.HandleFunc("/queue/{id:[0-9]+}", s.handleQueueItem).Methods(http.MethodGet)
	apiRouter.HandleFunc("/sync", s.handleSync).Methods(http.MethodPost)
	apiRouter.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)
	return r
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil || s.bind == "" {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	server := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      s.writeTimeout,
		IdleTimeout:       60 * time.Second,
	}
	s.mu.Lock()
	s.listener = listener
	s.server = server
	s.mu.Unlock()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	s.mu.Lock()
	server := s.server
	listener := s.listener
	s.server = nil
	s.listener = nil
	s.mu.Unlock()

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}
	if listener != nil {
		_ = listener.Close()
	}
}

func (s *apiServer) address() string {
	if s == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(logging.WithRequestID(r.Context(), id)))
	})
}

func (s *apiServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, api.HealthResponse{Status: "ok", Running: s.daemon.Running()})
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := s.daemon.Status(r.Context())
	s.writeJSON(w, http.StatusOK, statusPayload(status))
}

func statusPayload(status Status) api.DaemonStatus {
	payload := api.DaemonStatus{
		Running:  status.Running,
		PID:      status.PID,
		Online:   status.Online,
		Pending:  status.Pending,
		SourceID: status.SourceID,
		Endpoint: status.Endpoint,
		Scheduler: api.SchedulerStatus{
			State:           string(status.SchedulerState),
			IntervalSeconds: int64(status.Interval / time.Second),
			NextRun:         api.FormatTime(status.NextRun),
		},
		Cycles:              status.Dispatch.Cycles,
		ConsecutiveFailures: status.Dispatch.ConsecutiveFailures,
		Stranded:            status.Dispatch.Stranded,
		QueueDBPath:         status.QueueDBPath,
		LockFilePath:        status.LockFilePath,
		LogPath:             status.LogPath,
		SpoolDir:            status.SpoolDir,
	}
	if status.Running {
		payload.OnlineSince = api.FormatTime(status.OnlineSince)
	}
	if status.Dispatch.Last != nil {
		last := api.FromCycleResult(*status.Dispatch.Last)
		payload.LastCycle = &last
	}
	for _, check := range status.Checks {
		payload.Checks = append(payload.Checks, api.CheckResult{
			Name:   check.Name,
			Passed: check.Passed,
			Detail: check.Detail,
		})
	}
	return payload
}

func (s *apiServer) handleQueueList(w http.ResponseWriter, r *http.Request) {
	items, err := s.queueSvc.List(r.Context())
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	var types []string
	for _, value := range r.URL.Query()["type"] {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			types = append(types, trimmed)
		}
	}
	items = api.FilterByType(items, types...)
	if strings.EqualFold(r.URL.Query().Get("order"), "newest") {
		items = api.SortQueueItemsNewestFirst(items)
	}
	if items == nil {
		items = []api.QueueItem{}
	}
	s.writeJSON(w, http.StatusOK, api.QueueListResponse{Items: items})
}

func (s *apiServer) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req api.EnqueueRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEnqueueBodyBytes))
	if err := decoder.Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	item, err := s.daemon.Enqueue(r.Context(), req.Type, req.Payload)
	if err != nil {
		if errors.Is(err, queue.ErrInvalidItem) {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.writeStoreError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, api.QueueItemResponse{Item: api.FromQueueItem(*item)})
}

func (s *apiServer) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.queueSvc.Stats(r.Context())
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *apiServer) handleQueueHealth(w http.ResponseWriter, r *http.Request) {
	health, err := s.daemon.DatabaseHealth(r.Context())
	if err != nil && health.Error == "" {
		health.Error = err.Error()
	}
	s.writeJSON(w, http.StatusOK, health)
}

func (s *apiServer) handleQueueItem(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid queue item id")
		return
	}
	item, err := s.queueSvc.Describe(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	if item == nil {
		s.writeError(w, http.StatusNotFound, "queue item not found")
		return
	}
	s.writeJSON(w, http.StatusOK, api.QueueItemResponse{Item: *item})
}

func (s *apiServer) handleSync(w http.ResponseWriter, r *http.Request) {
	// A manual cycle waits on the endpoint, so the server-wide write
	// timeout would cut the response off.
	deadline := time.Now().Add(s.requestTimeout + s.writeTimeout)
	if err := http.NewResponseController(w).SetWriteDeadline(deadline); err != nil {
		logging.WithContext(r.Context(), s.logger).Debug("sync write deadline not extended", logging.Error(err))
	}
	result, err := s.daemon.SyncNow(r.Context())
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.SyncResponse{Result: api.FromCycleResult(result)})
}

func (s *apiServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	online := s.daemon.tracker.IsOnline()
	snapshot := []api.Event{{Type: api.EventConnectivityChanged, Online: &online}}
	if pending, err := s.daemon.store.Count(r.Context()); err == nil {
		snapshot = append(snapshot, api.Event{Type: api.EventQueueChanged, Pending: &pending})
	}
	s.daemon.events.serve(w, r, snapshot)
}

func (s *apiServer) writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	logging.WithContext(r.Context(), s.logger).Warn("api request failed",
		logging.String(logging.FieldEventType, "api_request_failed"),
		logging.String("path", r.URL.Path),
		logging.String("error_kind", queue.ErrorKind(err)),
		logging.Error(err),
	)
	s.writeError(w, http.StatusInternalServerError, err.Error())
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, api.ErrorResponse{Error: message})
}
