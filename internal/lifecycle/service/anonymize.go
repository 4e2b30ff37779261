package service

import (
	"context"
	"fmt"

	"idrelay/internal/lifecycle/events"
	"idrelay/internal/lifecycle/models"
	"idrelay/pkg/requestcontext"
)

// AnonymizeDue irreversibly anonymizes every entity whose grace period
// expired before the request-scoped now. Each entity runs in its own
// transaction: one failure is logged and does not abort the sweep.
// Returns the number of entities anonymized.
func (s *Service) AnonymizeDue(ctx context.Context) (int, error) {
	now := requestcontext.Now(ctx)
	cutoff := now.Add(-s.cfg.GracePeriod)

	due, err := s.entities.ListDueForAnonymization(ctx, cutoff, 500)
	if err != nil {
		return 0, fmt.Errorf("list due entities: %w", err)
	}

	var done int
	for _, entity := range due {
		if err := s.anonymize(ctx, entity); err != nil {
			s.logger.Error("anonymization failed, continuing sweep",
				"entity_id", entity.ID,
				"kind", string(entity.Kind),
				"error", err,
			)
			continue
		}
		s.metrics.IncAnonymized()
		done++
	}
	return done, nil
}

// anonymize destroys the identifying fields of one soft-deleted entity,
// preserving only the correlation hash and non-identifying aggregates
// (kind, specialty). There is no inverse operation.
func (s *Service) anonymize(ctx context.Context, entity *models.Entity) error {
	if entity.Anonymized() || !entity.SoftDeleted() {
		return nil
	}

	now := requestcontext.Now(ctx)

	// The hash is normally set at soft-delete time; compute it here as the
	// last chance before the source fields are destroyed.
	if entity.CorrelationHash == "" {
		entity.CorrelationHash = s.hasher.Hash(entity.Email, entity.NationalID)
	}

	entity.Email = ""
	entity.FirstName = ""
	entity.LastName = ""
	entity.NationalID = ""
	entity.InvestigationNotes = ""
	// Unlink from the provider account; the replacement is derived from
	// the internal id and carries no personal data.
	entity.SubjectID = "anonymized:" + entity.ID.String()
	entity.IsActive = false
	entity.AnonymizedAt = &now

	return s.inTx(ctx, func(ctx context.Context) error {
		if err := s.entities.Update(ctx, entity); err != nil {
			return fmt.Errorf("update entity: %w", err)
		}
		return s.publisher.Publish(ctx, events.Event{
			Name:            events.Name(entity.Kind, events.ActionAnonymized),
			EntityID:        entity.ID,
			Kind:            entity.Kind,
			CorrelationHash: entity.CorrelationHash,
			OccurredAt:      now,
		})
	})
}
