package app

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	instancedomain "github.com/f22labs/whatsapp-api/internal/instance_service/domain"
	"github.com/f22labs/whatsapp-api/internal/platform/messagebroker"
	"github.com/f22labs/whatsapp-api/internal/scheduler_service/domain"
)

// --- Mocks ---

type MockScheduledMessageRepository struct {
	mock.Mock
}

func (m *MockScheduledMessageRepository) Create(ctx context.Context, msg *domain.ScheduledMessage) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *MockScheduledMessageRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.ScheduledMessage, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ScheduledMessage), args.Error(1)
}

func (m *MockScheduledMessageRepository) MarkSent(ctx context.Context, id uuid.UUID, version int) error {
	args := m.Called(ctx, id, version)
	return args.Error(0)
}

func (m *MockScheduledMessageRepository) MarkSucceeded(ctx context.Context, id uuid.UUID, version int, ackID string) error {
	args := m.Called(ctx, id, version, ackID)
	return args.Error(0)
}

func (m *MockScheduledMessageRepository) MarkFailed(ctx context.Context, id uuid.UUID, version int) error {
	args := m.Called(ctx, id, version)
	return args.Error(0)
}

func (m *MockScheduledMessageRepository) Reschedule(ctx context.Context, id uuid.UUID, scheduleTime time.Time) (int, error) {
	args := m.Called(ctx, id, scheduleTime)
	return args.Int(0), args.Error(1)
}

func (m *MockScheduledMessageRepository) Deactivate(ctx context.Context, id uuid.UUID) (int, error) {
	args := m.Called(ctx, id)
	return args.Int(0), args.Error(1)
}

func (m *MockScheduledMessageRepository) ListArmable(ctx context.Context) ([]*domain.ScheduledMessage, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.ScheduledMessage), args.Error(1)
}

type MockQuotaRepository struct {
	mock.Mock
}

func (m *MockQuotaRepository) Get(ctx context.Context, userID string) (*domain.UserQuota, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.UserQuota), args.Error(1)
}

func (m *MockQuotaRepository) Decrement(ctx context.Context, userID string, at time.Time) error {
	args := m.Called(ctx, userID, at)
	return args.Error(0)
}

type MockMessageSender struct {
	mock.Mock
}

func (m *MockMessageSender) SendText(ctx context.Context, instanceName, phone, text string) (string, error) {
	args := m.Called(ctx, instanceName, phone, text)
	return args.String(0), args.Error(1)
}

type MockInstanceStatusReader struct {
	mock.Mock
}

func (m *MockInstanceStatusReader) StatusOf(ctx context.Context, name string) (instancedomain.InstanceStatus, error) {
	args := m.Called(ctx, name)
	return args.Get(0).(instancedomain.InstanceStatus), args.Error(1)
}

type MockNatsClient struct {
	mock.Mock
}

func (m *MockNatsClient) Publish(ctx context.Context, subject string, data []byte) error {
	args := m.Called(ctx, subject, data)
	return args.Error(0)
}

func (m *MockNatsClient) Subscribe(ctx context.Context, subject string, queueGroup string, handler func(msg messagebroker.Message)) (messagebroker.Subscription, error) {
	args := m.Called(ctx, subject, queueGroup, handler)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(messagebroker.Subscription), args.Error(1)
}

func (m *MockNatsClient) Close() {
	m.Called()
}
