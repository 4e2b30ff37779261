package consume

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"idrelay/internal/deadletter/mocks"
	"idrelay/internal/dispatch"
	"idrelay/internal/eventlog/memory"
	"idrelay/internal/webhook/models"
)

// DeadLetterFailureSuite covers the path the memory store cannot simulate:
// the dead-letter store itself failing mid dead-letter.
type DeadLetterFailureSuite struct {
	suite.Suite
	ctrl *gomock.Controller
	log  *memory.Log
	dead *mocks.MockStore
	loop *Loop
	ctx  context.Context
}

func TestDeadLetterFailureSuite(t *testing.T) {
	suite.Run(t, new(DeadLetterFailureSuite))
}

func (s *DeadLetterFailureSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.log = memory.New()
	s.dead = mocks.NewMockStore(s.ctrl)
	s.ctx = context.Background()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dispatcher := dispatch.New(map[models.EventType]dispatch.Handler{
		models.TypeLogin: func(context.Context, models.InboundEvent) dispatch.Outcome {
			return dispatch.Permanent(errors.New("invalid payload"))
		},
	}, nil, nil, logger)

	s.loop = New(s.log, s.dead, dispatcher, Config{
		Streams:     []string{testStream},
		Group:       "g",
		Consumer:    "c1",
		MaxAttempts: 3,
	}, nil, logger)
}

func (s *DeadLetterFailureSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *DeadLetterFailureSuite) TestAppendFailureLeavesEntryPending() {
	id, err := s.log.Append(s.ctx, testStream, models.InboundEvent{
		Type:       models.TypeLogin,
		SubjectID:  "s1",
		OccurredAt: time.Now(),
	})
	s.Require().NoError(err)

	entries, err := s.log.ReadPending(s.ctx, testStream, "g", "c1", 1, 0)
	s.Require().NoError(err)
	s.Require().Len(entries, 1)

	// First attempt: the dead-letter copy fails, so the entry must stay
	// pending rather than being acked into oblivion.
	s.dead.EXPECT().Append(gomock.Any(), gomock.Any()).Return(errors.New("redis down"))
	s.loop.Process(s.ctx, entries[0])
	s.False(s.log.Acked(testStream, id))

	// Redelivery with a healthy store completes the dead-letter and acks.
	s.dead.EXPECT().Append(gomock.Any(), gomock.Any()).Return(nil)
	s.loop.Process(s.ctx, entries[0])
	s.True(s.log.Acked(testStream, id))
}
