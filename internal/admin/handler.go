// Package admin exposes the operator surface: manual lifecycle transitions,
// investigation holds, and dead-letter inspection. Every route sits behind
// the admin token middleware; mutations are attributed to the "admin" actor
// in the emitted events.
package admin

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"idrelay/internal/deadletter"
	"idrelay/internal/lifecycle/models"
	"idrelay/internal/lifecycle/service"
	webhookhandler "idrelay/internal/webhook/handler"
	derrors "idrelay/pkg/domain-errors"
	"idrelay/pkg/platform/httputil"
)

const defaultDeadLetterLimit = 50

// Handler serves the admin API.
type Handler struct {
	svc        *service.Service
	deadletter deadletter.Store
	logger     *slog.Logger
}

func New(svc *service.Service, dl deadletter.Store, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, deadletter: dl, logger: logger}
}

// RegisterRoutes mounts the admin routes on an already-protected router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/entities/{id}/investigation", h.markInvestigation)
	r.Delete("/entities/{id}/investigation", h.clearInvestigation)
	r.Post("/entities/{id}/restore", h.restore)
	r.Delete("/entities/{id}", h.softDelete)
	r.Get("/entities/{id}", h.getEntity)
	r.Get("/entities/pending-anonymization", h.listPendingAnonymization)
	r.Get("/deadletter/{source}", h.listDeadLetters)
}

// entityResponse is the admin view of an entity. Identifying fields are
// returned as stored; after anonymization they are already blank.
type entityResponse struct {
	ID                 uuid.UUID             `json:"id"`
	SubjectID          string                `json:"subject_id"`
	Kind               models.EntityKind     `json:"kind"`
	Email              string                `json:"email,omitempty"`
	FirstName          string                `json:"first_name,omitempty"`
	LastName           string                `json:"last_name,omitempty"`
	Specialty          string                `json:"specialty,omitempty"`
	IsActive           bool                  `json:"is_active"`
	UnderInvestigation bool                  `json:"under_investigation"`
	InvestigationNotes string                `json:"investigation_notes,omitempty"`
	SoftDeletedAt      *time.Time            `json:"soft_deleted_at,omitempty"`
	AnonymizedAt       *time.Time            `json:"anonymized_at,omitempty"`
	DeletionReason     models.DeletionReason `json:"deletion_reason,omitempty"`
	AnonymizeAfter     *time.Time            `json:"anonymize_after,omitempty"`
	LastLoginAt        *time.Time            `json:"last_login_at,omitempty"`
	CreatedAt          time.Time             `json:"created_at"`
	UpdatedAt          time.Time             `json:"updated_at"`
}

func (h *Handler) toResponse(e *models.Entity) entityResponse {
	resp := entityResponse{
		ID:                 e.ID,
		SubjectID:          e.SubjectID,
		Kind:               e.Kind,
		Email:              e.Email,
		FirstName:          e.FirstName,
		LastName:           e.LastName,
		Specialty:          e.Specialty,
		IsActive:           e.IsActive,
		UnderInvestigation: e.UnderInvestigation,
		InvestigationNotes: e.InvestigationNotes,
		SoftDeletedAt:      e.SoftDeletedAt,
		AnonymizedAt:       e.AnonymizedAt,
		DeletionReason:     e.DeletionReason,
		LastLoginAt:        e.LastLoginAt,
		CreatedAt:          e.CreatedAt,
		UpdatedAt:          e.UpdatedAt,
	}
	if e.SoftDeletedAt != nil && e.AnonymizedAt == nil {
		due := e.SoftDeletedAt.Add(h.svc.GracePeriod())
		resp.AnonymizeAfter = &due
	}
	return resp
}

type investigationRequest struct {
	Notes string `json:"notes"`
}

func (h *Handler) markInvestigation(w http.ResponseWriter, r *http.Request) {
	id, err := entityID(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var req investigationRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httputil.WriteError(w, derrors.New(derrors.CodeBadRequest, "malformed request body"))
			return
		}
	}
	entity, err := h.svc.MarkInvestigation(r.Context(), id, req.Notes)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, h.toResponse(entity))
}

func (h *Handler) clearInvestigation(w http.ResponseWriter, r *http.Request) {
	id, err := entityID(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	entity, err := h.svc.ClearInvestigation(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, h.toResponse(entity))
}

func (h *Handler) restore(w http.ResponseWriter, r *http.Request) {
	id, err := entityID(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	entity, err := h.svc.Restore(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, h.toResponse(entity))
}

type softDeleteRequest struct {
	Reason string `json:"reason"`
	// Force overrides an investigation hold. The override is recorded on
	// the emitted event for audit.
	Force bool `json:"force"`
}

func (h *Handler) softDelete(w http.ResponseWriter, r *http.Request) {
	id, err := entityID(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var req softDeleteRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httputil.WriteError(w, derrors.New(derrors.CodeBadRequest, "malformed request body"))
			return
		}
	}
	reason := models.ReasonAdminAction
	if req.Reason == string(models.ReasonUserRequest) {
		reason = models.ReasonUserRequest
	}
	entity, err := h.svc.SoftDeleteByID(r.Context(), id, reason, req.Force)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, h.toResponse(entity))
}

func (h *Handler) getEntity(w http.ResponseWriter, r *http.Request) {
	id, err := entityID(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	entity, err := h.svc.FindByID(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, h.toResponse(entity))
}

func (h *Handler) listPendingAnonymization(w http.ResponseWriter, r *http.Request) {
	entities, err := h.svc.ListPendingAnonymization(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	resp := make([]entityResponse, 0, len(entities))
	for _, e := range entities {
		resp = append(resp, h.toResponse(e))
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"entities": resp})
}

func (h *Handler) listDeadLetters(w http.ResponseWriter, r *http.Request) {
	source := chi.URLParam(r, "source")
	stream := webhookhandler.StreamName(source)
	entries, err := h.deadletter.List(r.Context(), stream, defaultDeadLetterLimit)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"stream":  deadletter.StreamName(stream),
		"entries": entries,
	})
}

func entityID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, derrors.New(derrors.CodeBadRequest, "invalid entity id")
	}
	return id, nil
}
