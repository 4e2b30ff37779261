// Package events defines the domain events the lifecycle manager emits and
// the publisher boundary they leave through. Collaborators (audit logging,
// downstream reassignment) consume these from Kafka; the service itself
// only writes them to the transactional outbox.
package events

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"idrelay/internal/lifecycle/models"
)

// Action names the lifecycle transitions that emit events.
type Action string

const (
	ActionRegistered           Action = "registered"
	ActionUpdated              Action = "updated"
	ActionSoftDeleted          Action = "soft_deleted"
	ActionRestored             Action = "restored"
	ActionAnonymized           Action = "anonymized"
	ActionReturningDetected    Action = "returning_detected"
	ActionInvestigationStarted Action = "investigation_started"
	ActionInvestigationCleared Action = "investigation_cleared"
)

// Event is one emitted domain event.
type Event struct {
	// Name follows {service}.{entity}.{action}, e.g.
	// idrelay.patient.soft_deleted.
	Name            string            `json:"name"`
	EntityID        uuid.UUID         `json:"entity_id"`
	Kind            models.EntityKind `json:"kind"`
	CorrelationHash string            `json:"correlation_hash,omitempty"`
	OccurredAt      time.Time         `json:"occurred_at"`
	// GraceExpiresAt is set on soft_deleted events: the moment after which
	// the scheduler may anonymize.
	GraceExpiresAt *time.Time `json:"grace_expires_at,omitempty"`
	// PreviousEntityID is set on returning_detected events and references
	// the anonymized record the new registration matched.
	PreviousEntityID *uuid.UUID        `json:"previous_entity_id,omitempty"`
	Attributes       map[string]string `json:"attributes,omitempty"`
}

// Name builds the dotted event name for a kind and action.
func Name(kind models.EntityKind, action Action) string {
	return fmt.Sprintf("idrelay.%s.%s", kind, action)
}

// Publisher is where emitted events go. The production implementation is
// the transactional outbox; tests use a capturing publisher.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Capture is a Publisher that records events for test assertions.
type Capture struct {
	Events []Event
}

func (c *Capture) Publish(_ context.Context, event Event) error {
	c.Events = append(c.Events, event)
	return nil
}

// Named returns captured events matching the given name.
func (c *Capture) Named(name string) []Event {
	var out []Event
	for _, e := range c.Events {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}
