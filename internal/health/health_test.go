package health

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"idrelay/internal/deadletter"
	"idrelay/internal/eventlog/memory"
	"idrelay/internal/webhook/models"
)

func probe(t *testing.T, h *Handler) (*httptest.ResponseRecorder, healthResponse) {
	t.Helper()
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec, resp
}

func TestHealthz(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	log := memory.New()
	dead := deadletter.NewMemory()
	streams := []string{"events:keycloak"}

	ctx := context.Background()
	_, err := log.Append(ctx, "events:keycloak", models.InboundEvent{Type: models.TypeLogin, SubjectID: "s1", OccurredAt: time.Now()})
	require.NoError(t, err)
	_, err = log.ReadPending(ctx, "events:keycloak", "g", "c1", 10, 0)
	require.NoError(t, err)
	require.NoError(t, dead.Append(ctx, deadletter.Entry{EntryID: "1-0", Stream: "events:keycloak"}))

	t.Run("healthy dependencies report ok with stream numbers", func(t *testing.T) {
		h := New(nil, func(context.Context) error { return nil }, log, dead, streams, "g", nil, logger)
		rec, resp := probe(t, h)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "ok", resp.Status)
		assert.Equal(t, "ok", resp.Checks["redis"])
		assert.Equal(t, int64(1), resp.Streams["events:keycloak"].Pending)
		assert.Equal(t, int64(1), resp.Streams["events:keycloak"].DeadLetter)
	})

	t.Run("failing dependency degrades the status", func(t *testing.T) {
		h := New(nil, func(context.Context) error { return errors.New("connection refused") }, log, dead, streams, "g", nil, logger)
		rec, resp := probe(t, h)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, "degraded", resp.Status)
		assert.Contains(t, resp.Checks["redis"], "connection refused")
	})
}
