// Package status serves a small read-only HTTP view of the agent: liveness,
// task counts per status, the last tick report and tasks by status.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/roach88/shopsync/internal/engine"
	"github.com/roach88/shopsync/internal/metrics"
	"github.com/roach88/shopsync/internal/task"
)

// TaskReader is the read side of the task store.
type TaskReader interface {
	CountByStatus(ctx context.Context) (map[task.Status]int, error)
	ListByStatus(ctx context.Context, status task.Status) ([]task.Task, error)
}

// ReportSource exposes the most recent tick report. Implemented by
// *engine.Engine.
type ReportSource interface {
	LastReport() (engine.TickReport, bool)
}

// MetricsSource reads the agent's counters. Implemented by
// *metrics.Collector.
type MetricsSource interface {
	Snapshot(ctx context.Context) (metrics.Snapshot, error)
}

// Handlers serves the status routes. Metrics is optional.
type Handlers struct {
	ShopID  string
	Tasks   TaskReader
	Reports ReportSource
	Metrics MetricsSource
}

type errorResponse struct {
	Error string `json:"error"`
}

// Snapshot is the body of GET /status.
type Snapshot struct {
	ShopID   string              `json:"shop_id"`
	Tasks    map[task.Status]int `json:"tasks"`
	LastTick *engine.TickReport  `json:"last_tick"`
	Metrics  *metrics.Snapshot   `json:"metrics,omitempty"`
}

// NewRouter mounts the status routes on a chi router.
func NewRouter(h *Handlers, serviceName string) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, serviceName)
	})

	r.Get("/health", h.Health)
	r.Get("/status", h.Status)
	r.Get("/tasks", h.ListTasks)
	return r
}

// Health handles GET /health
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Status handles GET /status
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	counts, err := h.Tasks.CountByStatus(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	snap := Snapshot{ShopID: h.ShopID, Tasks: counts}
	if report, ok := h.Reports.LastReport(); ok {
		snap.LastTick = &report
	}
	if h.Metrics != nil {
		m, err := h.Metrics.Snapshot(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		snap.Metrics = &m
	}
	writeJSON(w, http.StatusOK, snap)
}

// ListTasks handles GET /tasks?status=PENDING
func (h *Handlers) ListTasks(w http.ResponseWriter, r *http.Request) {
	st, err := task.ParseStatus(r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	tasks, err := h.Tasks.ListByStatus(r.Context(), st)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// Serve listens on addr and serves handler until ctx is cancelled, then
// shuts down gracefully.
func Serve(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return serveListener(ctx, ln, handler, logger)
}

func serveListener(ctx context.Context, ln net.Listener, handler http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("status endpoint listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
