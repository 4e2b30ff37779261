// Package models defines the typed inbound event shared by the ingestion
// handler, the durable log, and the consumer path. Payload variants are
// validated at the ingestion boundary so downstream code never touches an
// unchecked detail map.
package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// EventType enumerates the identity-provider event types this service
// understands. Unknown types are carried through the log and skipped with a
// warning at dispatch.
type EventType string

const (
	TypeRegister      EventType = "REGISTER"
	TypeUpdateProfile EventType = "UPDATE_PROFILE"
	TypeUpdateEmail   EventType = "UPDATE_EMAIL"
	TypeLogin         EventType = "LOGIN"
	TypeDelete        EventType = "DELETE"
)

// IsAdmin reports whether the type is an administrative event
// (ADMIN_* family emitted by the provider's admin console).
func (t EventType) IsAdmin() bool {
	return strings.HasPrefix(string(t), "ADMIN_")
}

// Occurrence window accepted at ingestion. The lower bound is deliberately
// wide so a backlog replayed after an outage is still accepted; the webhook
// signature tolerance is the narrow window.
const (
	MaxEventAge    = 30 * 24 * time.Hour
	MaxEventFuture = time.Hour
)

// InboundEvent is one identity lifecycle event as received from the
// provider. Entries in the durable log are JSON encodings of this struct.
type InboundEvent struct {
	Type       EventType         `json:"type"`
	Origin     string            `json:"origin,omitempty"`
	SubjectID  string            `json:"subject_id"`
	OccurredAt time.Time         `json:"occurred_at"`
	Details    map[string]string `json:"details,omitempty"`
}

// Validate checks the schema and the occurrence window against now.
// Events failing here are rejected with 400 and never enqueued.
func (e InboundEvent) Validate(now time.Time) error {
	if e.Type == "" {
		return fmt.Errorf("event type is required")
	}
	if e.SubjectID == "" {
		return fmt.Errorf("subject_id is required")
	}
	if e.OccurredAt.IsZero() {
		return fmt.Errorf("occurred_at is required")
	}
	if e.OccurredAt.Before(now.Add(-MaxEventAge)) {
		return fmt.Errorf("occurred_at older than %s", MaxEventAge)
	}
	if e.OccurredAt.After(now.Add(MaxEventFuture)) {
		return fmt.Errorf("occurred_at more than %s in the future", MaxEventFuture)
	}
	switch e.Type {
	case TypeRegister:
		_, err := e.RegisterPayload()
		return err
	case TypeUpdateEmail:
		_, err := e.UpdateEmailPayload()
		return err
	}
	return nil
}

// Encode serializes the event for a log entry.
func (e InboundEvent) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Decode deserializes a log entry payload.
func Decode(data []byte) (InboundEvent, error) {
	var e InboundEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return InboundEvent{}, fmt.Errorf("decode inbound event: %w", err)
	}
	return e, nil
}

// RegisterPayload is the typed variant of a REGISTER event's details.
type RegisterPayload struct {
	Email      string
	FirstName  string
	LastName   string
	NationalID string
	Kind       string // "patient" or "professional"
	Specialty  string
}

// RegisterPayload extracts and validates the REGISTER detail fields.
func (e InboundEvent) RegisterPayload() (RegisterPayload, error) {
	p := RegisterPayload{
		Email:      e.Details["email"],
		FirstName:  e.Details["first_name"],
		LastName:   e.Details["last_name"],
		NationalID: e.Details["national_id"],
		Kind:       e.Details["kind"],
		Specialty:  e.Details["specialty"],
	}
	if p.Email == "" {
		return p, fmt.Errorf("register event requires details.email")
	}
	if p.Kind == "" {
		p.Kind = "patient"
	}
	if p.Kind != "patient" && p.Kind != "professional" {
		return p, fmt.Errorf("register event kind must be patient or professional, got %q", p.Kind)
	}
	return p, nil
}

// UpdateProfilePayload is the typed variant of UPDATE_PROFILE details.
// All fields optional; absent fields leave the entity untouched.
type UpdateProfilePayload struct {
	FirstName  string
	LastName   string
	NationalID string
	Specialty  string
}

func (e InboundEvent) UpdateProfilePayload() UpdateProfilePayload {
	return UpdateProfilePayload{
		FirstName:  e.Details["first_name"],
		LastName:   e.Details["last_name"],
		NationalID: e.Details["national_id"],
		Specialty:  e.Details["specialty"],
	}
}

// UpdateEmailPayload is the typed variant of UPDATE_EMAIL details.
type UpdateEmailPayload struct {
	Email string
}

func (e InboundEvent) UpdateEmailPayload() (UpdateEmailPayload, error) {
	p := UpdateEmailPayload{Email: e.Details["email"]}
	if p.Email == "" {
		return p, fmt.Errorf("update_email event requires details.email")
	}
	return p, nil
}

// DeletePayload is the typed variant of DELETE details.
type DeletePayload struct {
	Reason string
}

func (e InboundEvent) DeletePayload() DeletePayload {
	return DeletePayload{Reason: e.Details["reason"]}
}
