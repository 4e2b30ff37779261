package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type EventSuite struct {
	suite.Suite
	now time.Time
}

func TestEventSuite(t *testing.T) {
	suite.Run(t, new(EventSuite))
}

func (s *EventSuite) SetupTest() {
	s.now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
}

func (s *EventSuite) validEvent() InboundEvent {
	return InboundEvent{
		Type:       TypeRegister,
		Origin:     "account",
		SubjectID:  "subject-1",
		OccurredAt: s.now.Add(-time.Minute),
		Details:    map[string]string{"email": "a@example.com"},
	}
}

func (s *EventSuite) TestValidate() {
	s.Run("accepts a valid register event", func() {
		s.NoError(s.validEvent().Validate(s.now))
	})

	s.Run("requires type", func() {
		e := s.validEvent()
		e.Type = ""
		s.Error(e.Validate(s.now))
	})

	s.Run("requires subject_id", func() {
		e := s.validEvent()
		e.SubjectID = ""
		s.Error(e.Validate(s.now))
	})

	s.Run("requires occurred_at", func() {
		e := s.validEvent()
		e.OccurredAt = time.Time{}
		s.Error(e.Validate(s.now))
	})

	s.Run("rejects events older than thirty days", func() {
		e := s.validEvent()
		e.OccurredAt = s.now.Add(-31 * 24 * time.Hour)
		s.Error(e.Validate(s.now))
	})

	s.Run("accepts events just inside the age window", func() {
		e := s.validEvent()
		e.OccurredAt = s.now.Add(-30*24*time.Hour + time.Minute)
		s.NoError(e.Validate(s.now))
	})

	s.Run("rejects events more than an hour in the future", func() {
		e := s.validEvent()
		e.OccurredAt = s.now.Add(2 * time.Hour)
		s.Error(e.Validate(s.now))
	})

	s.Run("register without email is rejected", func() {
		e := s.validEvent()
		e.Details = map[string]string{"first_name": "Ada"}
		s.Error(e.Validate(s.now))
	})

	s.Run("update_email without email is rejected", func() {
		e := s.validEvent()
		e.Type = TypeUpdateEmail
		e.Details = nil
		s.Error(e.Validate(s.now))
	})

	s.Run("unknown types pass schema validation", func() {
		e := s.validEvent()
		e.Type = "SOMETHING_NEW"
		e.Details = nil
		s.NoError(e.Validate(s.now))
	})
}

func (s *EventSuite) TestRegisterPayload() {
	s.Run("defaults kind to patient", func() {
		e := s.validEvent()
		p, err := e.RegisterPayload()
		s.Require().NoError(err)
		s.Equal("patient", p.Kind)
	})

	s.Run("accepts professional kind with specialty", func() {
		e := s.validEvent()
		e.Details["kind"] = "professional"
		e.Details["specialty"] = "cardiology"
		p, err := e.RegisterPayload()
		s.Require().NoError(err)
		s.Equal("professional", p.Kind)
		s.Equal("cardiology", p.Specialty)
	})

	s.Run("rejects unknown kind", func() {
		e := s.validEvent()
		e.Details["kind"] = "robot"
		_, err := e.RegisterPayload()
		s.Error(err)
	})
}

func (s *EventSuite) TestIsAdmin() {
	s.True(EventType("ADMIN_IMPERSONATE").IsAdmin())
	s.True(EventType("ADMIN_RESET_PASSWORD").IsAdmin())
	s.False(TypeRegister.IsAdmin())
	s.False(TypeDelete.IsAdmin())
}

func (s *EventSuite) TestEncodeDecodeRoundTrip() {
	e := s.validEvent()
	data, err := e.Encode()
	s.Require().NoError(err)

	decoded, err := Decode(data)
	s.Require().NoError(err)
	s.Equal(e.Type, decoded.Type)
	s.Equal(e.SubjectID, decoded.SubjectID)
	s.Equal(e.Details["email"], decoded.Details["email"])

	_, err = Decode([]byte("not json"))
	s.Error(err)
}
