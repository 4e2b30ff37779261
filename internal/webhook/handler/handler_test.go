package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	"idrelay/internal/eventlog/memory"
	"idrelay/internal/webhook/models"
	"idrelay/internal/webhook/signature"
	"idrelay/pkg/requestcontext"
)

const testSecret = "webhook-secret"

type HandlerSuite struct {
	suite.Suite
	log    *memory.Log
	router chi.Router
	now    time.Time
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.log = memory.New()
	s.now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := New(s.log, signature.New(300*time.Second), map[string]string{"keycloak": testSecret}, nil, logger)

	s.router = chi.NewRouter()
	// Pin the request clock the way the request-time middleware does.
	s.router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(requestcontext.WithTime(r.Context(), s.now)))
		})
	})
	h.RegisterRoutes(s.router)
}

func (s *HandlerSuite) event() models.InboundEvent {
	return models.InboundEvent{
		Type:       models.TypeLogin,
		Origin:     "account",
		SubjectID:  "subject-1",
		OccurredAt: s.now.Add(-time.Minute),
	}
}

// deliver posts the event signed at ts with the given secret.
func (s *HandlerSuite) deliver(source string, body []byte, ts time.Time, secret string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/"+source, bytes.NewReader(body))
	req.Header.Set(headerTimestamp, strconv.FormatInt(ts.Unix(), 10))
	req.Header.Set(headerSignature, signature.Compute(body, ts, secret))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *HandlerSuite) marshal(e models.InboundEvent) []byte {
	body, err := json.Marshal(e)
	s.Require().NoError(err)
	return body
}

func (s *HandlerSuite) TestReceive() {
	s.Run("valid delivery is acked with the entry id", func() {
		rec := s.deliver("keycloak", s.marshal(s.event()), s.now, testSecret)
		s.Require().Equal(http.StatusAccepted, rec.Code)

		var resp struct {
			EntryID string `json:"entry_id"`
		}
		s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &resp))
		s.NotEmpty(resp.EntryID)

		// The event is durably queued, not yet processed.
		entries, err := s.log.ReadPending(context.Background(), StreamName("keycloak"), "g", "c1", 10, 0)
		s.Require().NoError(err)
		s.Require().Len(entries, 1)
		s.Equal("subject-1", entries[0].Event.SubjectID)
	})

	s.Run("unknown source is rejected", func() {
		rec := s.deliver("unknown", s.marshal(s.event()), s.now, testSecret)
		s.Equal(http.StatusNotFound, rec.Code)
	})

	s.Run("wrong secret is rejected", func() {
		rec := s.deliver("keycloak", s.marshal(s.event()), s.now, "other-secret")
		s.Equal(http.StatusUnauthorized, rec.Code)
	})

	s.Run("stale signature timestamp is rejected", func() {
		rec := s.deliver("keycloak", s.marshal(s.event()), s.now.Add(-10*time.Minute), testSecret)
		s.Equal(http.StatusUnauthorized, rec.Code)
	})

	s.Run("missing timestamp header is rejected", func() {
		body := s.marshal(s.event())
		req := httptest.NewRequest(http.MethodPost, "/webhooks/keycloak", bytes.NewReader(body))
		req.Header.Set(headerSignature, signature.Compute(body, s.now, testSecret))
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)
		s.Equal(http.StatusUnauthorized, rec.Code)
	})

	s.Run("malformed json is rejected", func() {
		rec := s.deliver("keycloak", []byte("{not json"), s.now, testSecret)
		s.Equal(http.StatusBadRequest, rec.Code)
	})

	s.Run("schema violations are rejected", func() {
		e := s.event()
		e.SubjectID = ""
		rec := s.deliver("keycloak", s.marshal(e), s.now, testSecret)
		s.Equal(http.StatusBadRequest, rec.Code)
	})

	s.Run("events older than the window are rejected", func() {
		e := s.event()
		e.OccurredAt = s.now.Add(-31 * 24 * time.Hour)
		rec := s.deliver("keycloak", s.marshal(e), s.now, testSecret)
		s.Equal(http.StatusBadRequest, rec.Code)
	})

	s.Run("rejected deliveries are never enqueued", func() {
		entries, err := s.log.ReadPending(context.Background(), StreamName("keycloak"), "g", "c2", 10, 0)
		s.Require().NoError(err)
		s.Empty(entries)
	})
}

