package admin

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/mux"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"quoter/internal/bus"
	"quoter/internal/obs"
	"quoter/internal/process"
)

const shutdownTimeout = 5 * time.Second

// StatusSource provides the unit snapshot served by the status endpoint.
type StatusSource interface {
	Status() process.Status
}

// Server exposes control and status over HTTP. Commands are only queued here; the supervisor
// goroutine executes them.
type Server struct {
	router    *mux.Router
	control   *bus.Queue[bus.Command]
	status    StatusSource
	metrics   *obs.Metrics
	startTime time.Time
}

// NewServer creates a server publishing commands to control.
func NewServer(control *bus.Queue[bus.Command], status StatusSource, metrics *obs.Metrics) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		control:   control,
		status:    status,
		metrics:   metrics,
		startTime: time.Now(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/process/{command}", s.handleCommand).Methods(http.MethodPost)
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logs.Infof("admin listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return errors.Wrap(err, "admin listen").With("addr", addr)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "admin shutdown")
		}
		return nil
	}
}

// CommandRequest is the optional body of a command call.
type CommandRequest struct {
	Hint uint32 `json:"hint"`
}

// CommandResponse acknowledges a queued command.
type CommandResponse struct {
	Command string `json:"command"`
	Queued  bool   `json:"queued"`
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	kind, ok := bus.ParseCommandKind(mux.Vars(r)["command"])
	if !ok {
		respondError(w, http.StatusNotFound, "unknown command")
		return
	}

	var req CommandRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, 4<<10))
	if err != nil {
		respondError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	if len(body) > 0 {
		if err := sonic.Unmarshal(body, &req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
			return
		}
	}

	cmd := bus.Command{
		Kind:   kind,
		Hint:   req.Hint,
		Source: "admin:" + r.RemoteAddr,
		At:     time.Now(),
	}
	if err := s.control.TryPublish(cmd); err != nil {
		s.metrics.IncQueueDrop()
		respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, CommandResponse{Command: kind.String(), Queued: true})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.status.Status())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":         "healthy",
		"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
		"state":          s.status.Status().State,
	})
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	payload, err := sonic.Marshal(data)
	if err != nil {
		logs.Errorf("encode admin response, err: %+v", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(payload)
}

func respondError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, map[string]string{"error": message})
}
