package app

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/f22labs/whatsapp-api/internal/instance_service/domain"
)

type MockSession struct {
	mock.Mock
	name string
}

func (m *MockSession) Name() string { return m.name }

func (m *MockSession) Connect(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockSession) Disconnect(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockSession) Logout(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockSession) State() domain.ConnectionState {
	args := m.Called()
	return args.Get(0).(domain.ConnectionState)
}

func (m *MockSession) OwnerJID() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockSession) ProfileName(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockSession) ProfilePictureURL(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockSession) SendText(ctx context.Context, phone, text string) (domain.SendResult, error) {
	args := m.Called(ctx, phone, text)
	return args.Get(0).(domain.SendResult), args.Error(1)
}

func (m *MockSession) SendMedia(ctx context.Context, phone string, media domain.MediaMessage) (domain.SendResult, error) {
	args := m.Called(ctx, phone, media)
	return args.Get(0).(domain.SendResult), args.Error(1)
}

func (m *MockSession) CheckReachable(ctx context.Context, phone string) (bool, error) {
	args := m.Called(ctx, phone)
	return args.Bool(0), args.Error(1)
}

type MockSessionFactory struct {
	mock.Mock
}

func (m *MockSessionFactory) NewSession(name string) (domain.Session, error) {
	args := m.Called(name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(domain.Session), args.Error(1)
}

type MockArtifactStore struct {
	mock.Mock
}

func (m *MockArtifactStore) Kind() string { return "mock" }

func (m *MockArtifactStore) ListInstanceNames(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockArtifactStore) PurgeInstance(ctx context.Context, name string) error {
	args := m.Called(ctx, name)
	return args.Error(0)
}

func (m *MockArtifactStore) PurgeStaleArtifacts(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *MockArtifactStore) WriteArtifact(ctx context.Context, name, key string, data []byte) error {
	args := m.Called(ctx, name, key, data)
	return args.Error(0)
}

func (m *MockArtifactStore) ReadArtifact(ctx context.Context, name, key string) ([]byte, error) {
	args := m.Called(ctx, name, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockArtifactStore) Close(ctx context.Context) error { return nil }

type MockRemovalNotifier struct {
	mock.Mock
}

func (m *MockRemovalNotifier) NotifyRemoved(ctx context.Context, instanceName string) error {
	args := m.Called(ctx, instanceName)
	return args.Error(0)
}

func newMockSession(name string, state domain.ConnectionState) *MockSession {
	s := &MockSession{name: name}
	s.On("State").Return(state)
	return s
}
