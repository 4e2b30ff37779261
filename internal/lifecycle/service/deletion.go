package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"idrelay/internal/lifecycle/events"
	"idrelay/internal/lifecycle/models"
	derrors "idrelay/pkg/domain-errors"
	"idrelay/pkg/platform/sentinel"
	"idrelay/pkg/requestcontext"
)

// SoftDeleteBySubject handles provider DELETE events. Investigation blocks
// are never overridden on this path.
func (s *Service) SoftDeleteBySubject(ctx context.Context, subjectID string, reason models.DeletionReason) (*models.Entity, error) {
	entity, err := s.entities.FindBySubject(ctx, subjectID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, derrors.Newf(derrors.CodeNotFound, "no entity for subject %s", subjectID)
		}
		return nil, fmt.Errorf("lookup subject: %w", err)
	}
	return s.softDelete(ctx, entity, reason, false)
}

// SoftDeleteByID handles admin deletions. force overrides an investigation
// block; the override is recorded on the emitted event.
func (s *Service) SoftDeleteByID(ctx context.Context, id uuid.UUID, reason models.DeletionReason, force bool) (*models.Entity, error) {
	entity, err := s.findByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.softDelete(ctx, entity, reason, force)
}

func (s *Service) softDelete(ctx context.Context, entity *models.Entity, reason models.DeletionReason, force bool) (*models.Entity, error) {
	if entity.Anonymized() {
		return nil, derrors.New(derrors.CodeInvalidState, "entity already anonymized")
	}
	if entity.SoftDeleted() {
		// Redelivered DELETE event; already where we want to be.
		return entity, nil
	}
	overridden := entity.UnderInvestigation && force
	if entity.UnderInvestigation && !force {
		return nil, ErrDeletionBlocked
	}

	now := requestcontext.Now(ctx)

	// Compute the correlation hash before the demographic fields it
	// derives from can be destroyed by anonymization.
	if entity.CorrelationHash == "" {
		entity.CorrelationHash = s.hasher.Hash(entity.Email, entity.NationalID)
	}
	entity.SoftDeletedAt = &now
	entity.DeletionReason = reason
	entity.IsActive = false

	graceEnd := now.Add(s.cfg.GracePeriod)
	attrs := map[string]string{"reason": string(reason)}
	if overridden {
		attrs["investigation_overridden"] = "true"
		if actor := requestcontext.Actor(ctx); actor != "" {
			attrs["actor"] = actor
		}
	}

	err := s.inTx(ctx, func(ctx context.Context) error {
		if err := s.entities.Update(ctx, entity); err != nil {
			return fmt.Errorf("update entity: %w", err)
		}
		return s.publisher.Publish(ctx, events.Event{
			Name:            events.Name(entity.Kind, events.ActionSoftDeleted),
			EntityID:        entity.ID,
			Kind:            entity.Kind,
			CorrelationHash: entity.CorrelationHash,
			OccurredAt:      now,
			GraceExpiresAt:  &graceEnd,
			Attributes:      attrs,
		})
	})
	if err != nil {
		return nil, err
	}
	return entity, nil
}

// Restore returns a soft-deleted entity to active. Allowed only while the
// entity has not been anonymized; anonymization is irreversible.
func (s *Service) Restore(ctx context.Context, id uuid.UUID) (*models.Entity, error) {
	entity, err := s.findByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if entity.Anonymized() {
		return nil, derrors.New(derrors.CodeInvalidState, "cannot restore an anonymized entity")
	}
	if !entity.SoftDeleted() {
		return nil, derrors.New(derrors.CodeInvalidState, "entity is not soft-deleted")
	}

	now := requestcontext.Now(ctx)
	entity.SoftDeletedAt = nil
	entity.DeletionReason = ""
	entity.IsActive = true

	err = s.inTx(ctx, func(ctx context.Context) error {
		if err := s.entities.Update(ctx, entity); err != nil {
			return fmt.Errorf("update entity: %w", err)
		}
		return s.publisher.Publish(ctx, events.Event{
			Name:            events.Name(entity.Kind, events.ActionRestored),
			EntityID:        entity.ID,
			Kind:            entity.Kind,
			CorrelationHash: entity.CorrelationHash,
			OccurredAt:      now,
		})
	})
	if err != nil {
		return nil, err
	}
	return entity, nil
}

// MarkInvestigation flags the entity; while flagged, deletion is blocked.
func (s *Service) MarkInvestigation(ctx context.Context, id uuid.UUID, notes string) (*models.Entity, error) {
	entity, err := s.findByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if entity.Anonymized() {
		return nil, derrors.New(derrors.CodeInvalidState, "entity already anonymized")
	}

	entity.UnderInvestigation = true
	entity.InvestigationNotes = notes

	err = s.inTx(ctx, func(ctx context.Context) error {
		if err := s.entities.Update(ctx, entity); err != nil {
			return fmt.Errorf("update entity: %w", err)
		}
		return s.publisher.Publish(ctx, events.Event{
			Name:       events.Name(entity.Kind, events.ActionInvestigationStarted),
			EntityID:   entity.ID,
			Kind:       entity.Kind,
			OccurredAt: requestcontext.Now(ctx),
		})
	})
	if err != nil {
		return nil, err
	}
	return entity, nil
}

// ClearInvestigation removes the flag and its notes.
func (s *Service) ClearInvestigation(ctx context.Context, id uuid.UUID) (*models.Entity, error) {
	entity, err := s.findByID(ctx, id)
	if err != nil {
		return nil, err
	}

	entity.UnderInvestigation = false
	entity.InvestigationNotes = ""

	err = s.inTx(ctx, func(ctx context.Context) error {
		if err := s.entities.Update(ctx, entity); err != nil {
			return fmt.Errorf("update entity: %w", err)
		}
		return s.publisher.Publish(ctx, events.Event{
			Name:       events.Name(entity.Kind, events.ActionInvestigationCleared),
			EntityID:   entity.ID,
			Kind:       entity.Kind,
			OccurredAt: requestcontext.Now(ctx),
		})
	})
	if err != nil {
		return nil, err
	}
	return entity, nil
}

// ListPendingAnonymization returns soft-deleted entities awaiting the
// scheduler.
func (s *Service) ListPendingAnonymization(ctx context.Context) ([]*models.Entity, error) {
	entities, err := s.entities.ListSoftDeleted(ctx)
	if err != nil {
		return nil, derrors.Wrap(err, derrors.CodeInternal, "list soft-deleted entities")
	}
	return entities, nil
}

// FindByID looks up an entity for the admin API.
func (s *Service) FindByID(ctx context.Context, id uuid.UUID) (*models.Entity, error) {
	return s.findByID(ctx, id)
}

func (s *Service) findByID(ctx context.Context, id uuid.UUID) (*models.Entity, error) {
	entity, err := s.entities.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, derrors.New(derrors.CodeNotFound, "entity not found")
		}
		return nil, fmt.Errorf("lookup entity: %w", err)
	}
	return entity, nil
}
