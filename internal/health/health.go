// Package health reports service liveness plus the operational numbers an
// on-call engineer checks first: per-stream consumer lag and dead-letter
// depth. The same probe refreshes the lag gauge so scrapes and health
// checks agree.
package health

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"idrelay/internal/deadletter"
	"idrelay/internal/eventlog"
	"idrelay/internal/platform/metrics"
	"idrelay/pkg/platform/httputil"
)

const probeTimeout = 2 * time.Second

// Pinger covers the dependencies the health check probes.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Handler serves the health endpoint.
type Handler struct {
	db         Pinger
	redisCheck func(ctx context.Context) error
	log        eventlog.Log
	deadletter deadletter.Store
	streams    []string
	group      string
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

func New(db Pinger, redisCheck func(ctx context.Context) error, log eventlog.Log, dl deadletter.Store, streams []string, group string, m *metrics.Metrics, logger *slog.Logger) *Handler {
	return &Handler{
		db:         db,
		redisCheck: redisCheck,
		log:        log,
		deadletter: dl,
		streams:    streams,
		group:      group,
		metrics:    m,
		logger:     logger,
	}
}

// RegisterRoutes mounts the health endpoint.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", h.healthz)
}

type streamStatus struct {
	Pending    int64 `json:"pending"`
	DeadLetter int64 `json:"dead_letter"`
}

type healthResponse struct {
	Status  string                  `json:"status"`
	Checks  map[string]string       `json:"checks"`
	Streams map[string]streamStatus `json:"streams,omitempty"`
}

func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
	defer cancel()

	resp := healthResponse{
		Status:  "ok",
		Checks:  map[string]string{},
		Streams: map[string]streamStatus{},
	}

	if h.db != nil {
		if err := h.db.PingContext(ctx); err != nil {
			resp.Status = "degraded"
			resp.Checks["postgres"] = err.Error()
		} else {
			resp.Checks["postgres"] = "ok"
		}
	}
	if h.redisCheck != nil {
		if err := h.redisCheck(ctx); err != nil {
			resp.Status = "degraded"
			resp.Checks["redis"] = err.Error()
		} else {
			resp.Checks["redis"] = "ok"
		}
	}

	for _, stream := range h.streams {
		status := streamStatus{}
		pending, err := h.log.PendingCount(ctx, stream, h.group)
		if err != nil {
			h.logger.Warn("pending count probe failed", "stream", stream, "error", err)
		} else {
			status.Pending = pending
			h.metrics.SetStreamLag(stream, float64(pending))
		}
		dead, err := h.deadletter.Count(ctx, stream)
		if err != nil {
			h.logger.Warn("dead-letter count probe failed", "stream", stream, "error", err)
		} else {
			status.DeadLetter = dead
		}
		resp.Streams[stream] = status
	}

	code := http.StatusOK
	if resp.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	httputil.WriteJSON(w, code, resp)
}
