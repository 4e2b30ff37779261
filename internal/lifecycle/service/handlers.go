package service

import (
	"context"
	"errors"

	"idrelay/internal/dispatch"
	"idrelay/internal/lifecycle/models"
	webhook "idrelay/internal/webhook/models"
	derrors "idrelay/pkg/domain-errors"
	"idrelay/pkg/platform/sentinel"
)

// WebhookHandlers builds the explicit event-type → handler table the
// dispatcher is constructed with. Each handler classifies its own failures:
// only business logic knows whether a failure is worth redelivering.
func (s *Service) WebhookHandlers() map[webhook.EventType]dispatch.Handler {
	return map[webhook.EventType]dispatch.Handler{
		webhook.TypeRegister:      s.handleRegister,
		webhook.TypeUpdateProfile: s.handleUpdateProfile,
		webhook.TypeUpdateEmail:   s.handleUpdateEmail,
		webhook.TypeLogin:         s.handleLogin,
		webhook.TypeDelete:        s.handleDelete,
	}
}

func (s *Service) handleRegister(ctx context.Context, event webhook.InboundEvent) dispatch.Outcome {
	payload, err := event.RegisterPayload()
	if err != nil {
		return dispatch.Permanent(err)
	}
	_, err = s.Register(ctx, RegisterInput{
		SubjectID:  event.SubjectID,
		Kind:       models.EntityKind(payload.Kind),
		Email:      payload.Email,
		FirstName:  payload.FirstName,
		LastName:   payload.LastName,
		NationalID: payload.NationalID,
		Specialty:  payload.Specialty,
	})
	return s.classify(err)
}

func (s *Service) handleUpdateProfile(ctx context.Context, event webhook.InboundEvent) dispatch.Outcome {
	payload := event.UpdateProfilePayload()
	_, err := s.UpdateProfile(ctx, event.SubjectID, UpdateProfileInput{
		FirstName:  payload.FirstName,
		LastName:   payload.LastName,
		NationalID: payload.NationalID,
		Specialty:  payload.Specialty,
	})
	return s.classify(err)
}

func (s *Service) handleUpdateEmail(ctx context.Context, event webhook.InboundEvent) dispatch.Outcome {
	payload, err := event.UpdateEmailPayload()
	if err != nil {
		return dispatch.Permanent(err)
	}
	_, err = s.UpdateEmail(ctx, event.SubjectID, payload.Email)
	return s.classify(err)
}

func (s *Service) handleLogin(ctx context.Context, event webhook.InboundEvent) dispatch.Outcome {
	err := s.RecordLogin(ctx, event.SubjectID, event.OccurredAt)
	// A login for an unknown subject is noise, not a poison message.
	if derrors.HasCode(err, derrors.CodeNotFound) {
		return dispatch.Success()
	}
	return s.classify(err)
}

func (s *Service) handleDelete(ctx context.Context, event webhook.InboundEvent) dispatch.Outcome {
	reason := models.ReasonProviderEvent
	if r := event.DeletePayload().Reason; r == string(models.ReasonUserRequest) {
		reason = models.ReasonUserRequest
	}
	_, err := s.SoftDeleteBySubject(ctx, event.SubjectID, reason)
	if errors.Is(err, ErrDeletionBlocked) {
		// The block is a documented business condition, not a failure.
		// The event is handled; an operator sees it here and on the
		// investigation record.
		s.logger.Warn("asynchronous deletion blocked by investigation",
			"subject_id", event.SubjectID,
		)
		return dispatch.Success()
	}
	// Deleting an already-gone subject is redelivery-safe.
	if derrors.HasCode(err, derrors.CodeNotFound) {
		return dispatch.Success()
	}
	return s.classify(err)
}

// classify maps service errors onto consumer outcomes. Infrastructure
// unavailability retries; everything else dead-letters. A write conflict is
// retried too: two deliveries racing past the existence check resolve
// idempotently on redelivery, once one of them has committed.
func (s *Service) classify(err error) dispatch.Outcome {
	switch {
	case err == nil:
		return dispatch.Success()
	case errors.Is(err, sentinel.ErrUnavailable),
		errors.Is(err, sentinel.ErrConflict),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return dispatch.Transient(err)
	default:
		return dispatch.Permanent(err)
	}
}
