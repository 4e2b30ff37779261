// Package models defines the managed entity and its lifecycle fields.
package models

import (
	"time"

	"github.com/google/uuid"
)

// EntityKind distinguishes the two managed populations.
type EntityKind string

const (
	KindPatient      EntityKind = "patient"
	KindProfessional EntityKind = "professional"
)

// DeletionReason records why an entity was soft-deleted.
type DeletionReason string

const (
	ReasonUserRequest   DeletionReason = "user_request"
	ReasonProviderEvent DeletionReason = "provider_event"
	ReasonAdminAction   DeletionReason = "admin_action"
)

// Entity is one managed patient or professional.
//
// Lifecycle invariants enforced by the service:
//   - AnonymizedAt implies SoftDeletedAt is set and precedes it by at least
//     the grace period.
//   - AnonymizedAt is never cleared once set.
//   - UnderInvestigation forbids entering the soft-deleted state.
type Entity struct {
	ID        uuid.UUID
	SubjectID string // identity-provider subject, unique among non-anonymized rows
	Kind      EntityKind

	Email      string
	FirstName  string
	LastName   string
	NationalID string
	// Specialty is a non-identifying aggregate field preserved through
	// anonymization.
	Specialty string

	IsActive           bool
	UnderInvestigation bool
	InvestigationNotes string

	// CorrelationHash survives anonymization of the fields it derives from.
	// Set at soft-delete time at the latest.
	CorrelationHash string

	SoftDeletedAt  *time.Time
	AnonymizedAt   *time.Time
	DeletionReason DeletionReason

	LastLoginAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// SoftDeleted reports whether the entity is currently soft-deleted.
func (e *Entity) SoftDeleted() bool { return e.SoftDeletedAt != nil }

// Anonymized reports whether the entity reached the terminal state.
func (e *Entity) Anonymized() bool { return e.AnonymizedAt != nil }
