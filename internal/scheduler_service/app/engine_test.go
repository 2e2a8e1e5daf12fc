package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/f22labs/whatsapp-api/internal/platform/clock"
	"github.com/f22labs/whatsapp-api/internal/platform/config"
	"github.com/f22labs/whatsapp-api/internal/scheduler_service/domain"
)

var engineEpoch = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type engineFixture struct {
	repo   *MockScheduledMessageRepository
	quotas *MockQuotaRepository
	sender *MockMessageSender
	clk    *clock.Fake
	engine *Engine
}

func setupEngineTest(t *testing.T, cfg EngineConfig) *engineFixture {
	t.Helper()
	f := &engineFixture{
		repo:   new(MockScheduledMessageRepository),
		quotas: new(MockQuotaRepository),
		sender: new(MockMessageSender),
		clk:    clock.NewFake(engineEpoch),
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.engine = NewEngine(f.repo, f.quotas, f.sender, nil, f.clk, logger, cfg)
	return f
}

func pendingMessage(version int) *domain.ScheduledMessage {
	m := domain.NewScheduledMessage(uuid.New(), "alpha", "5511999", "5511888", "hello", engineEpoch.Add(time.Hour), engineEpoch)
	m.Version = version
	return m
}

func TestEngine_Deliver_NoOpCases(t *testing.T) {
	ctx := context.Background()

	t.Run("MissingRecord", func(t *testing.T) {
		f := setupEngineTest(t, EngineConfig{})
		id := uuid.New()
		f.repo.On("GetByID", mock.Anything, id).Return(nil, domain.ErrNotFound).Once()

		require.NoError(t, f.engine.Deliver(ctx, id, 0))
		f.repo.AssertNotCalled(t, "MarkSent", mock.Anything, mock.Anything, mock.Anything)
		f.sender.AssertNotCalled(t, "SendText", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("InactiveRegardlessOfStatusAndVersion", func(t *testing.T) {
		for _, status := range []domain.MessageStatus{domain.StatusPending, domain.StatusSent, domain.StatusFailed, domain.StatusSuccess} {
			f := setupEngineTest(t, EngineConfig{})
			m := pendingMessage(3)
			m.Status = status
			m.IsActive = false
			f.repo.On("GetByID", mock.Anything, m.ID).Return(m, nil)

			for v := 0; v <= 4; v++ {
				require.NoError(t, f.engine.Deliver(ctx, m.ID, v))
			}
			f.repo.AssertNotCalled(t, "MarkSent", mock.Anything, mock.Anything, mock.Anything)
			f.sender.AssertNotCalled(t, "SendText", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		}
	})

	t.Run("VersionMismatch", func(t *testing.T) {
		f := setupEngineTest(t, EngineConfig{})
		m := pendingMessage(2)
		f.repo.On("GetByID", mock.Anything, m.ID).Return(m, nil)

		require.NoError(t, f.engine.Deliver(ctx, m.ID, 1))
		require.NoError(t, f.engine.Deliver(ctx, m.ID, 3))
		f.sender.AssertNotCalled(t, "SendText", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("ClaimedByConcurrentDelivery", func(t *testing.T) {
		f := setupEngineTest(t, EngineConfig{})
		m := pendingMessage(0)
		f.repo.On("GetByID", mock.Anything, m.ID).Return(m, nil)
		f.repo.On("MarkSent", mock.Anything, m.ID, 0).Return(domain.ErrPreconditionFailed)

		require.NoError(t, f.engine.Deliver(ctx, m.ID, 0))
		f.sender.AssertNotCalled(t, "SendText", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestEngine_Deliver_SuccessIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := setupEngineTest(t, EngineConfig{})
	m := pendingMessage(0)

	f.repo.On("GetByID", mock.Anything, m.ID).Return(m, nil).Once()
	f.repo.On("MarkSent", mock.Anything, m.ID, 0).Return(nil).Once()
	f.sender.On("SendText", mock.Anything, "alpha", "5511888", "hello").Return("abc", nil).Once()
	f.quotas.On("Decrement", mock.Anything, "5511999", engineEpoch).Return(nil).Once()
	f.repo.On("MarkSucceeded", mock.Anything, m.ID, 0, "abc").Return(nil).Once()

	require.NoError(t, f.engine.Deliver(ctx, m.ID, 0))

	delivered := *m
	delivered.Status = domain.StatusSuccess
	ack := "abc"
	delivered.DeliveryAckID = &ack
	f.repo.On("GetByID", mock.Anything, m.ID).Return(&delivered, nil).Once()

	require.NoError(t, f.engine.Deliver(ctx, m.ID, 0))

	f.sender.AssertNumberOfCalls(t, "SendText", 1)
	f.repo.AssertExpectations(t)
	f.quotas.AssertExpectations(t)
}

func TestEngine_Deliver_SendFailureMarksFailed(t *testing.T) {
	ctx := context.Background()
	f := setupEngineTest(t, EngineConfig{})
	m := pendingMessage(0)

	f.repo.On("GetByID", mock.Anything, m.ID).Return(m, nil)
	f.repo.On("MarkSent", mock.Anything, m.ID, 0).Return(nil)
	f.sender.On("SendText", mock.Anything, "alpha", "5511888", "hello").Return("", errors.New("session not ready"))
	f.repo.On("MarkFailed", mock.Anything, m.ID, 0).Return(nil).Once()

	require.NoError(t, f.engine.Deliver(ctx, m.ID, 0), "send failures are persisted, not returned")

	f.repo.AssertExpectations(t)
	f.repo.AssertNotCalled(t, "MarkSucceeded", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.quotas.AssertNotCalled(t, "Decrement", mock.Anything, mock.Anything, mock.Anything)
}

func TestEngine_Deliver_StatusWriteErrorSurfaces(t *testing.T) {
	ctx := context.Background()
	f := setupEngineTest(t, EngineConfig{DecrementPolicy: config.DecrementOnAccept})
	m := pendingMessage(0)

	f.repo.On("GetByID", mock.Anything, m.ID).Return(m, nil)
	f.repo.On("MarkSent", mock.Anything, m.ID, 0).Return(nil)
	f.sender.On("SendText", mock.Anything, "alpha", "5511888", "hello").Return("abc", nil)
	f.repo.On("MarkSucceeded", mock.Anything, m.ID, 0, "abc").Return(errors.New("db down")).Once()

	err := f.engine.Deliver(ctx, m.ID, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
	f.repo.AssertNumberOfCalls(t, "MarkSucceeded", 1)
	f.quotas.AssertNotCalled(t, "Decrement", mock.Anything, mock.Anything, mock.Anything)
}

func TestEngine_Deliver_EmptyAckLeavesSent(t *testing.T) {
	ctx := context.Background()
	f := setupEngineTest(t, EngineConfig{})
	m := pendingMessage(0)

	f.repo.On("GetByID", mock.Anything, m.ID).Return(m, nil)
	f.repo.On("MarkSent", mock.Anything, m.ID, 0).Return(nil)
	f.sender.On("SendText", mock.Anything, "alpha", "5511888", "hello").Return("", nil)
	f.quotas.On("Decrement", mock.Anything, "5511999", engineEpoch).Return(nil)

	require.NoError(t, f.engine.Deliver(ctx, m.ID, 0))
	f.repo.AssertNotCalled(t, "MarkSucceeded", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.repo.AssertNotCalled(t, "MarkFailed", mock.Anything, mock.Anything, mock.Anything)
}

func TestEngine_DecrementQuota_SwallowsErrors(t *testing.T) {
	f := setupEngineTest(t, EngineConfig{})
	f.quotas.On("Decrement", mock.Anything, "u1", engineEpoch).Return(errors.New("db down")).Once()
	f.quotas.On("Decrement", mock.Anything, "u2", engineEpoch).Return(domain.ErrQuotaExceeded).Once()

	assert.NotPanics(t, func() {
		f.engine.DecrementQuota(context.Background(), "u1")
		f.engine.DecrementQuota(context.Background(), "u2")
	})
	f.quotas.AssertExpectations(t)
}

func TestEngine_Schedule_FiresOnceAtTime(t *testing.T) {
	f := setupEngineTest(t, EngineConfig{})
	m := pendingMessage(0)

	f.repo.On("GetByID", mock.Anything, m.ID).Return(m, nil)
	f.repo.On("MarkSent", mock.Anything, m.ID, 0).Return(nil)
	f.sender.On("SendText", mock.Anything, "alpha", "5511888", "hello").Return("abc", nil)
	f.quotas.On("Decrement", mock.Anything, "5511999", mock.Anything).Return(nil)
	f.repo.On("MarkSucceeded", mock.Anything, m.ID, 0, "abc").Return(nil)

	f.engine.Schedule(m.ID, 0, m.ScheduleTime)
	assert.Equal(t, 1, f.engine.Armed())

	f.clk.Advance(59 * time.Minute)
	f.repo.AssertNotCalled(t, "GetByID", mock.Anything, mock.Anything)

	f.clk.Advance(time.Minute)
	f.repo.AssertNumberOfCalls(t, "GetByID", 1)
	f.sender.AssertNumberOfCalls(t, "SendText", 1)
	assert.Equal(t, 0, f.engine.Armed())

	f.clk.Advance(24 * time.Hour)
	f.repo.AssertNumberOfCalls(t, "GetByID", 1)
}

func TestEngine_Schedule_RearmReplacesTimer(t *testing.T) {
	f := setupEngineTest(t, EngineConfig{})
	m := pendingMessage(1)

	f.engine.Schedule(m.ID, 0, engineEpoch.Add(time.Hour))
	f.engine.Schedule(m.ID, 1, engineEpoch.Add(2*time.Hour))
	assert.Equal(t, 1, f.clk.Pending())

	f.clk.Advance(time.Hour)
	f.repo.AssertNotCalled(t, "GetByID", mock.Anything, mock.Anything)

	f.repo.On("GetByID", mock.Anything, m.ID).Return(m, nil).Once()
	f.repo.On("MarkSent", mock.Anything, m.ID, 1).Return(nil).Once()
	f.sender.On("SendText", mock.Anything, "alpha", "5511888", "hello").Return("", errors.New("boom")).Once()
	f.repo.On("MarkFailed", mock.Anything, m.ID, 1).Return(nil).Once()

	f.clk.Advance(time.Hour)
	f.repo.AssertExpectations(t)
}

func TestEngine_Schedule_PastTimeFiresImmediately(t *testing.T) {
	f := setupEngineTest(t, EngineConfig{})
	id := uuid.New()
	f.repo.On("GetByID", mock.Anything, id).Return(nil, domain.ErrNotFound).Once()

	f.engine.Schedule(id, 0, engineEpoch.Add(-time.Hour))
	f.clk.Advance(0)
	f.repo.AssertExpectations(t)
}

func TestEngine_Restore(t *testing.T) {
	f := setupEngineTest(t, EngineConfig{})
	a, b := pendingMessage(0), pendingMessage(2)
	f.repo.On("ListArmable", mock.Anything).Return([]*domain.ScheduledMessage{a, b}, nil).Once()

	n, err := f.engine.Restore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, f.engine.Armed())

	f.repo.On("ListArmable", mock.Anything).Return(nil, errors.New("db down")).Once()
	_, err = f.engine.Restore(context.Background())
	assert.Error(t, err)
}

func TestEngine_Stop_DisarmsTimers(t *testing.T) {
	f := setupEngineTest(t, EngineConfig{})
	f.engine.Schedule(uuid.New(), 0, engineEpoch.Add(time.Minute))
	f.engine.Schedule(uuid.New(), 0, engineEpoch.Add(time.Hour))

	f.engine.Stop()
	assert.Equal(t, 0, f.engine.Armed())
	assert.Equal(t, 0, f.clk.Pending())

	f.engine.Schedule(uuid.New(), 0, engineEpoch)
	assert.Equal(t, 0, f.engine.Armed(), "a stopped engine arms nothing")
}

func TestEngine_PublishesStatusEvents(t *testing.T) {
	repo := new(MockScheduledMessageRepository)
	quotas := new(MockQuotaRepository)
	sender := new(MockMessageSender)
	nc := new(MockNatsClient)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := NewEngine(repo, quotas, sender, nc, clock.NewFake(engineEpoch), logger, EngineConfig{})
	m := pendingMessage(0)

	repo.On("GetByID", mock.Anything, m.ID).Return(m, nil)
	repo.On("MarkSent", mock.Anything, m.ID, 0).Return(nil)
	sender.On("SendText", mock.Anything, "alpha", "5511888", "hello").Return("abc", nil)
	quotas.On("Decrement", mock.Anything, "5511999", engineEpoch).Return(nil)
	repo.On("MarkSucceeded", mock.Anything, m.ID, 0, "abc").Return(nil)

	var published StatusEvent
	nc.On("Publish", mock.Anything, StatusSubject, mock.AnythingOfType("[]uint8")).
		Run(func(args mock.Arguments) {
			require.NoError(t, json.Unmarshal(args.Get(2).([]byte), &published))
		}).
		Return(errors.New("nats unavailable")).Once()

	require.NoError(t, engine.Deliver(context.Background(), m.ID, 0), "publish failures are best effort")
	nc.AssertExpectations(t)
	assert.Equal(t, m.ID, published.ID)
	assert.Equal(t, domain.StatusSuccess, published.Status)
	assert.Equal(t, "abc", published.AckID)
}
