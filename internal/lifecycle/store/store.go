// Package store persists managed entities. The Postgres store is
// production; the memory store is its twin for unit tests. Both return
// sentinel errors so the service maps them to domain errors.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"idrelay/internal/lifecycle/models"
)

// EntityStore is the persistence boundary for managed entities.
type EntityStore interface {
	// Create inserts a new entity. Returns sentinel.ErrConflict when a
	// non-anonymized row with the same subject id exists.
	Create(ctx context.Context, entity *models.Entity) error

	// Update persists all mutable fields. Returns sentinel.ErrNotFound for
	// an unknown id.
	Update(ctx context.Context, entity *models.Entity) error

	FindByID(ctx context.Context, id uuid.UUID) (*models.Entity, error)

	// FindBySubject returns the non-anonymized entity for a provider
	// subject id, or sentinel.ErrNotFound.
	FindBySubject(ctx context.Context, subjectID string) (*models.Entity, error)

	// FindAnonymizedByCorrelationHash returns the most recently anonymized
	// entity whose stored hash matches, or sentinel.ErrNotFound. Drives
	// returning-entity detection at registration.
	FindAnonymizedByCorrelationHash(ctx context.Context, hash string) (*models.Entity, error)

	// ListDueForAnonymization returns soft-deleted, not yet anonymized
	// entities whose soft_deleted_at is before cutoff.
	ListDueForAnonymization(ctx context.Context, cutoff time.Time, limit int) ([]*models.Entity, error)

	// ListSoftDeleted returns all soft-deleted, not yet anonymized
	// entities (the pending-anonymization admin view).
	ListSoftDeleted(ctx context.Context) ([]*models.Entity, error)
}
