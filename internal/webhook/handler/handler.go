// Package handler is the webhook ingestion surface. It authenticates the
// sender, validates the event schema, appends to the durable log, and acks
// with 202 before any processing happens. Processing failures never surface
// here; the provider's delivery loop only sees log durability.
package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"idrelay/internal/eventlog"
	"idrelay/internal/platform/metrics"
	"idrelay/internal/webhook/models"
	"idrelay/internal/webhook/signature"
	derrors "idrelay/pkg/domain-errors"
	"idrelay/pkg/platform/httputil"
	"idrelay/pkg/requestcontext"
)

const (
	headerSignature = "X-Webhook-Signature"
	headerTimestamp = "X-Webhook-Timestamp"

	maxBodyBytes = 1 << 20
)

// StreamName returns the durable log stream for a webhook source.
func StreamName(source string) string {
	return "events:" + source
}

// Handler accepts provider webhook deliveries.
type Handler struct {
	log      eventlog.Log
	verifier signature.Verifier
	secrets  map[string]string
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func New(log eventlog.Log, verifier signature.Verifier, secrets map[string]string, m *metrics.Metrics, logger *slog.Logger) *Handler {
	return &Handler{
		log:      log,
		verifier: verifier,
		secrets:  secrets,
		metrics:  m,
		logger:   logger,
	}
}

// RegisterRoutes mounts the ingestion endpoint.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/{source}", h.receive)
}

type receiveResponse struct {
	EntryID string `json:"entry_id"`
}

func (h *Handler) receive(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	now := requestcontext.Now(r.Context())

	source := chi.URLParam(r, "source")
	secret, ok := h.secrets[source]
	if !ok {
		httputil.WriteError(w, derrors.Newf(derrors.CodeNotFound, "unknown webhook source %q", source))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		httputil.WriteError(w, derrors.New(derrors.CodeBadRequest, "failed to read request body"))
		return
	}

	ts, err := parseTimestamp(r.Header.Get(headerTimestamp))
	if err != nil {
		httputil.WriteError(w, derrors.New(derrors.CodeUnauthorized, "missing or malformed signature timestamp"))
		return
	}
	if err := h.verifier.Verify(body, r.Header.Get(headerSignature), ts, secret, now); err != nil {
		h.logger.Warn("webhook signature rejected",
			"source", source,
			"reason", err.Error(),
		)
		httputil.WriteError(w, derrors.New(derrors.CodeUnauthorized, "signature verification failed"))
		return
	}

	var event models.InboundEvent
	if err := json.Unmarshal(body, &event); err != nil {
		httputil.WriteError(w, derrors.New(derrors.CodeBadRequest, "malformed event payload"))
		return
	}
	if err := event.Validate(now); err != nil {
		httputil.WriteError(w, derrors.Newf(derrors.CodeBadRequest, "invalid event: %s", err))
		return
	}

	entryID, err := h.log.Append(r.Context(), StreamName(source), event)
	if err != nil {
		h.logger.Error("failed to append event to log",
			"source", source,
			"event_type", event.Type,
			"error", err,
		)
		httputil.WriteError(w, derrors.Wrap(err, derrors.CodeInternal, "failed to record event"))
		return
	}

	h.metrics.IncIngested(source)
	h.metrics.ObserveIngestDuration(time.Since(start).Seconds())
	httputil.WriteJSON(w, http.StatusAccepted, receiveResponse{EntryID: entryID})
}

func parseTimestamp(raw string) (time.Time, error) {
	unix, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(unix, 0).UTC(), nil
}
