// Package service owns the entity lifecycle state machine: registration,
// profile updates, soft deletion with investigation blocking, restoration
// within the grace period, scheduled irreversible anonymization, and
// returning-entity detection.
//
// Every mutation runs inside a single storage transaction together with its
// outbox event, so an emitted event always corresponds to a committed state
// change.
package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"idrelay/internal/lifecycle/correlation"
	"idrelay/internal/lifecycle/events"
	"idrelay/internal/lifecycle/models"
	"idrelay/internal/lifecycle/store"
	"idrelay/internal/platform/metrics"
	derrors "idrelay/pkg/domain-errors"
	"idrelay/pkg/platform/sentinel"
	txcontext "idrelay/pkg/platform/tx"
	"idrelay/pkg/requestcontext"
)

// ErrDeletionBlocked is returned when a deletion hits an entity under
// investigation. Admin callers receive it synchronously; the webhook path
// logs it and acks the event as handled.
var ErrDeletionBlocked = derrors.New(derrors.CodeInvalidState, "deletion blocked: entity under investigation")

// Config carries lifecycle timing.
type Config struct {
	GracePeriod time.Duration
}

// Service is the entity lifecycle manager.
type Service struct {
	entities  store.EntityStore
	publisher events.Publisher
	hasher    correlation.Hasher
	cfg       Config
	logger    *slog.Logger

	db      *sql.DB
	metrics *metrics.Metrics
}

// Option configures the Service.
type Option func(*Service)

// WithDB enables real SQL transactions around each mutation. Without it
// (unit tests on memory stores) mutations run untransacted.
func WithDB(db *sql.DB) Option {
	return func(s *Service) { s.db = db }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func New(entities store.EntityStore, publisher events.Publisher, hasher correlation.Hasher, cfg Config, logger *slog.Logger, opts ...Option) *Service {
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = 7 * 24 * time.Hour
	}
	s := &Service{
		entities:  entities,
		publisher: publisher,
		hasher:    hasher,
		cfg:       cfg,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GracePeriod exposes the configured grace period for collaborators
// (scheduler, admin responses).
func (s *Service) GracePeriod() time.Duration { return s.cfg.GracePeriod }

func (s *Service) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.db == nil {
		return fn(ctx)
	}
	return txcontext.Run(ctx, s.db, fn)
}

// RegisterInput carries a new registration from the identity provider.
type RegisterInput struct {
	SubjectID  string
	Kind       models.EntityKind
	Email      string
	FirstName  string
	LastName   string
	NationalID string
	Specialty  string
}

// Register creates a managed entity for a new provider subject. Redelivery
// of the same subject is idempotent. If the identifying fields match a
// previously anonymized entity, a returning_detected event referencing the
// old record is emitted and a brand-new entity is still created: the
// anonymized record is never revived.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*models.Entity, error) {
	if in.SubjectID == "" {
		return nil, derrors.New(derrors.CodeBadRequest, "subject id required")
	}
	if in.Kind == "" {
		in.Kind = models.KindPatient
	}

	existing, err := s.entities.FindBySubject(ctx, in.SubjectID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, fmt.Errorf("lookup subject: %w", err)
	}

	now := requestcontext.Now(ctx)
	entity := &models.Entity{
		ID:         uuid.New(),
		SubjectID:  in.SubjectID,
		Kind:       in.Kind,
		Email:      in.Email,
		FirstName:  in.FirstName,
		LastName:   in.LastName,
		NationalID: in.NationalID,
		Specialty:  in.Specialty,
		IsActive:   true,
	}

	hash := s.hasher.Hash(in.Email, in.NationalID)

	err = s.inTx(ctx, func(ctx context.Context) error {
		previous, err := s.entities.FindAnonymizedByCorrelationHash(ctx, hash)
		switch {
		case err == nil:
			prevID := previous.ID
			if err := s.publisher.Publish(ctx, events.Event{
				Name:             events.Name(in.Kind, events.ActionReturningDetected),
				EntityID:         entity.ID,
				Kind:             in.Kind,
				CorrelationHash:  hash,
				OccurredAt:       now,
				PreviousEntityID: &prevID,
			}); err != nil {
				return fmt.Errorf("publish returning_detected: %w", err)
			}
		case !errors.Is(err, sentinel.ErrNotFound):
			return fmt.Errorf("returning-entity lookup: %w", err)
		}

		if err := s.entities.Create(ctx, entity); err != nil {
			return fmt.Errorf("create entity: %w", err)
		}

		return s.publisher.Publish(ctx, events.Event{
			Name:       events.Name(in.Kind, events.ActionRegistered),
			EntityID:   entity.ID,
			Kind:       in.Kind,
			OccurredAt: now,
		})
	})
	if err != nil {
		return nil, err
	}
	return entity, nil
}

// UpdateProfileInput carries partial demographic updates; empty fields are
// left untouched.
type UpdateProfileInput struct {
	FirstName  string
	LastName   string
	NationalID string
	Specialty  string
}

// UpdateProfile applies demographic changes to the entity for a subject.
func (s *Service) UpdateProfile(ctx context.Context, subjectID string, in UpdateProfileInput) (*models.Entity, error) {
	return s.updateSubject(ctx, subjectID, func(e *models.Entity) {
		if in.FirstName != "" {
			e.FirstName = in.FirstName
		}
		if in.LastName != "" {
			e.LastName = in.LastName
		}
		if in.NationalID != "" {
			e.NationalID = in.NationalID
		}
		if in.Specialty != "" {
			e.Specialty = in.Specialty
		}
	}, true)
}

// UpdateEmail changes the entity's email address.
func (s *Service) UpdateEmail(ctx context.Context, subjectID, email string) (*models.Entity, error) {
	if email == "" {
		return nil, derrors.New(derrors.CodeBadRequest, "email required")
	}
	return s.updateSubject(ctx, subjectID, func(e *models.Entity) {
		e.Email = email
	}, true)
}

// RecordLogin stamps the last login time. No domain event: logins are
// operational noise, not lifecycle transitions.
func (s *Service) RecordLogin(ctx context.Context, subjectID string, at time.Time) error {
	_, err := s.updateSubject(ctx, subjectID, func(e *models.Entity) {
		t := at
		e.LastLoginAt = &t
	}, false)
	return err
}

// updateSubject loads, mutates, persists and optionally emits updated.
func (s *Service) updateSubject(ctx context.Context, subjectID string, mutate func(*models.Entity), emit bool) (*models.Entity, error) {
	var entity *models.Entity
	err := s.inTx(ctx, func(ctx context.Context) error {
		var err error
		entity, err = s.entities.FindBySubject(ctx, subjectID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return derrors.Newf(derrors.CodeNotFound, "no entity for subject %s", subjectID)
			}
			return fmt.Errorf("lookup subject: %w", err)
		}

		mutate(entity)
		if err := s.entities.Update(ctx, entity); err != nil {
			return fmt.Errorf("update entity: %w", err)
		}
		if !emit {
			return nil
		}
		return s.publisher.Publish(ctx, events.Event{
			Name:       events.Name(entity.Kind, events.ActionUpdated),
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
