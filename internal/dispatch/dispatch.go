// Package dispatch maps a validated event to zero-or-one handler. The
// handler table is built once at startup and injected, so routing has no
// global state. Skips are business no-ops, not failures: the consumer acks
// skipped entries immediately.
package dispatch

import (
	"context"
	"log/slog"

	"idrelay/internal/webhook/models"
)

// Status classifies a handler outcome for the consumer loop. Handlers, not
// the loop, decide retryability: only business logic knows which failures
// are worth redelivering.
type Status int

const (
	// StatusSuccess: ack the entry.
	StatusSuccess Status = iota
	// StatusTransient: leave unacked for redelivery, bounded by the
	// attempt ceiling.
	StatusTransient
	// StatusPermanent: dead-letter immediately; retrying has no value.
	StatusPermanent
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusTransient:
		return "transient"
	case StatusPermanent:
		return "permanent"
	}
	return "unknown"
}

// Outcome is a handler result.
type Outcome struct {
	Status Status
	Err    error
}

func Success() Outcome            { return Outcome{Status: StatusSuccess} }
func Transient(err error) Outcome { return Outcome{Status: StatusTransient, Err: err} }
func Permanent(err error) Outcome { return Outcome{Status: StatusPermanent, Err: err} }

// Handler processes one event.
type Handler func(ctx context.Context, event models.InboundEvent) Outcome

// SkipReason explains why an event was routed to no handler.
type SkipReason string

const (
	SkipNone            SkipReason = ""
	SkipAdminOrigin     SkipReason = "admin_origin"
	SkipOriginNotListed SkipReason = "origin_not_allowed"
	SkipNoHandler       SkipReason = "no_handler"
)

// Dispatcher routes events to handlers with admission filtering.
type Dispatcher struct {
	handlers     map[models.EventType]Handler
	allowlist    map[string]bool
	adminOrigins map[string]bool
	logger       *slog.Logger
}

// New builds a Dispatcher from an explicit handler table. originAllowlist
// lists origins whose events are processed; adminOrigins lists provider
// admin consoles whose events are suppressed.
func New(handlers map[models.EventType]Handler, originAllowlist, adminOrigins []string, logger *slog.Logger) *Dispatcher {
	d := &Dispatcher{
		handlers:     handlers,
		allowlist:    make(map[string]bool, len(originAllowlist)),
		adminOrigins: make(map[string]bool, len(adminOrigins)),
		logger:       logger,
	}
	for _, o := range originAllowlist {
		d.allowlist[o] = true
	}
	for _, o := range adminOrigins {
		d.adminOrigins[o] = true
	}
	return d
}

// Route applies the admission rules in order and returns the handler, or a
// skip reason. DELETE is always routed regardless of origin: suppressing an
// admin-origin delete would leave the entity active after the provider
// destroyed the account.
func (d *Dispatcher) Route(event models.InboundEvent) (Handler, SkipReason) {
	isDelete := event.Type == models.TypeDelete

	if !isDelete {
		if event.Type.IsAdmin() || d.adminOrigins[event.Origin] {
			return nil, SkipAdminOrigin
		}
		if event.Origin != "" && !d.allowlist[event.Origin] {
			return nil, SkipOriginNotListed
		}
	}

	handler, ok := d.handlers[event.Type]
	if !ok {
		d.logger.Warn("no handler registered for event type, skipping",
			"type", string(event.Type),
			"subject_id", event.SubjectID,
		)
		return nil, SkipNoHandler
	}
	return handler, SkipNone
}
