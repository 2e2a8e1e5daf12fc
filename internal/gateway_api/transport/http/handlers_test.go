package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/f22labs/whatsapp-api/internal/gateway_api/middleware"
	instancedomain "github.com/f22labs/whatsapp-api/internal/instance_service/domain"
	"github.com/f22labs/whatsapp-api/internal/scheduler_service/app"
	"github.com/f22labs/whatsapp-api/internal/scheduler_service/domain"
)

// --- Mocks ---

type MockScheduler struct {
	mock.Mock
}

func (m *MockScheduler) Submit(ctx context.Context, req app.ScheduleRequest) (*domain.ScheduledMessage, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ScheduledMessage), args.Error(1)
}

func (m *MockScheduler) Reschedule(ctx context.Context, id uuid.UUID, at time.Time) (*domain.ScheduledMessage, error) {
	args := m.Called(ctx, id, at)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ScheduledMessage), args.Error(1)
}

func (m *MockScheduler) Cancel(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockScheduler) Get(ctx context.Context, id uuid.UUID) (*domain.ScheduledMessage, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ScheduledMessage), args.Error(1)
}

type MockInstanceManager struct {
	mock.Mock
}

func (m *MockInstanceManager) List() []instancedomain.InstanceSummary {
	args := m.Called()
	return args.Get(0).([]instancedomain.InstanceSummary)
}

func (m *MockInstanceManager) Provision(ctx context.Context, name string) (instancedomain.InstanceSummary, error) {
	args := m.Called(ctx, name)
	return args.Get(0).(instancedomain.InstanceSummary), args.Error(1)
}

func (m *MockInstanceManager) RequestRemoval(ctx context.Context, name string) error {
	args := m.Called(ctx, name)
	return args.Error(0)
}

func (m *MockInstanceManager) StatusOf(ctx context.Context, name string) (instancedomain.InstanceStatus, error) {
	args := m.Called(ctx, name)
	return args.Get(0).(instancedomain.InstanceStatus), args.Error(1)
}

type MockMessenger struct {
	mock.Mock
}

func (m *MockMessenger) SendText(ctx context.Context, instanceName, phone, text string) (string, error) {
	args := m.Called(ctx, instanceName, phone, text)
	return args.String(0), args.Error(1)
}

func (m *MockMessenger) SendMedia(ctx context.Context, instanceName, phone string, media instancedomain.MediaMessage) (string, error) {
	args := m.Called(ctx, instanceName, phone, media)
	return args.String(0), args.Error(1)
}

func (m *MockMessenger) CheckReachable(ctx context.Context, instanceName, phone string) (bool, error) {
	args := m.Called(ctx, instanceName, phone)
	return args.Bool(0), args.Error(1)
}

type apiFixture struct {
	scheduler *MockScheduler
	instances *MockInstanceManager
	messenger *MockMessenger
	server    *httptest.Server
}

func setupAPITest(t *testing.T) *apiFixture {
	t.Helper()
	f := &apiFixture{
		scheduler: new(MockScheduler),
		instances: new(MockInstanceManager),
		messenger: new(MockMessenger),
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.server = httptest.NewServer(NewRouter(RouterDeps{
		Instances: f.instances,
		Messenger: f.messenger,
		Scheduler: f.scheduler,
		Auth:      middleware.AuthConfig{Type: middleware.AuthNone},
	}, logger))
	t.Cleanup(f.server.Close)
	return f
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, f.server.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := f.server.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func sampleScheduled() *domain.ScheduledMessage {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	return domain.NewScheduledMessage(uuid.New(), "alpha", "5511999", "5511888", "hello", now.Add(time.Hour), now)
}

func TestHealth(t *testing.T) {
	f := setupAPITest(t)
	resp := f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSchedulerHandler_Create(t *testing.T) {
	f := setupAPITest(t)
	msg := sampleScheduled()
	at := msg.ScheduleTime

	f.scheduler.On("Submit", mock.Anything, mock.MatchedBy(func(req app.ScheduleRequest) bool {
		return req.InstanceName == "alpha" && req.Receiver == "5511888" && req.Message == "hello" && req.ScheduleTime.Equal(at)
	})).Return(msg, nil).Once()

	resp := f.do(t, http.MethodPost, "/api/v1/scheduled-messages", CreateScheduledMessageRequestDTO{
		InstanceName: "alpha", Receiver: "5511888", Message: "hello", ScheduleTime: at,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	dto := decodeBody[ScheduledMessageDTO](t, resp)
	assert.Equal(t, msg.ID.String(), dto.ID)
	assert.Equal(t, "pending", dto.Status)
	assert.Equal(t, "5511999", dto.Sender)
	f.scheduler.AssertExpectations(t)
}

func TestSchedulerHandler_CreateErrors(t *testing.T) {
	valid := CreateScheduledMessageRequestDTO{
		InstanceName: "alpha", Receiver: "5511888", Message: "hello",
		ScheduleTime: time.Date(2024, 6, 1, 13, 0, 0, 0, time.UTC),
	}
	cases := []struct {
		name   string
		err    error
		status int
		body   string
	}{
		{"QuotaExceeded", domain.ErrQuotaExceeded, http.StatusForbidden, "Limit exceeded"},
		{"Horizon", fmt.Errorf("%w: too far", domain.ErrHorizonExceeded), http.StatusBadRequest, ""},
		{"UnknownInstance", instancedomain.ErrNotFound, http.StatusNotFound, ""},
		{"NotConnected", instancedomain.ErrNotConnected, http.StatusServiceUnavailable, ""},
		{"Unexpected", errors.New("boom"), http.StatusInternalServerError, "Internal server error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := setupAPITest(t)
			f.scheduler.On("Submit", mock.Anything, mock.Anything).Return(nil, tc.err).Once()

			resp := f.do(t, http.MethodPost, "/api/v1/scheduled-messages", valid)
			assert.Equal(t, tc.status, resp.StatusCode)
			if tc.body != "" {
				assert.Equal(t, tc.body, decodeBody[GenericErrorResponse](t, resp).Error)
			}
		})
	}

	t.Run("ValidationFailure", func(t *testing.T) {
		f := setupAPITest(t)
		bad := valid
		bad.Receiver = "not-a-number"
		resp := f.do(t, http.MethodPost, "/api/v1/scheduled-messages", bad)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		f.scheduler.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything)
	})
}

func TestSchedulerHandler_GetRescheduleCancel(t *testing.T) {
	f := setupAPITest(t)
	msg := sampleScheduled()
	newTime := msg.ScheduleTime.Add(time.Hour)

	f.scheduler.On("Get", mock.Anything, msg.ID).Return(msg, nil).Once()
	resp := f.do(t, http.MethodGet, "/api/v1/scheduled-messages/"+msg.ID.String(), nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	moved := *msg
	moved.Version = 1
	moved.ScheduleTime = newTime
	f.scheduler.On("Reschedule", mock.Anything, msg.ID, mock.MatchedBy(func(at time.Time) bool { return at.Equal(newTime) })).
		Return(&moved, nil).Once()
	resp = f.do(t, http.MethodPatch, "/api/v1/scheduled-messages/"+msg.ID.String(), RescheduleRequestDTO{ScheduleTime: newTime})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, decodeBody[ScheduledMessageDTO](t, resp).Version)

	f.scheduler.On("Cancel", mock.Anything, msg.ID).Return(domain.ErrPreconditionFailed).Once()
	resp = f.do(t, http.MethodDelete, "/api/v1/scheduled-messages/"+msg.ID.String(), nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/api/v1/scheduled-messages/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	f.scheduler.AssertExpectations(t)
}

func TestInstanceHandler(t *testing.T) {
	f := setupAPITest(t)

	f.instances.On("List").Return([]instancedomain.InstanceSummary{{Name: "alpha", State: instancedomain.StateOpen}}).Once()
	resp := f.do(t, http.MethodGet, "/api/v1/instances", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decodeBody[[]instancedomain.InstanceSummary](t, resp), 1)

	f.instances.On("Provision", mock.Anything, "beta").Return(instancedomain.InstanceSummary{Name: "beta", State: instancedomain.StateConnecting}, nil).Once()
	resp = f.do(t, http.MethodPost, "/api/v1/instances", ProvisionInstanceRequestDTO{Name: "beta"})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	f.instances.On("Provision", mock.Anything, "beta").Return(instancedomain.InstanceSummary{}, instancedomain.ErrAlreadyExists).Once()
	resp = f.do(t, http.MethodPost, "/api/v1/instances", ProvisionInstanceRequestDTO{Name: "beta"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	f.instances.On("StatusOf", mock.Anything, "alpha").Return(instancedomain.InstanceStatus{InstanceName: "alpha", Owner: "5511999@s.whatsapp.net", ProfileName: "Alpha"}, nil).Once()
	resp = f.do(t, http.MethodGet, "/api/v1/instances/alpha/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Alpha", decodeBody[instancedomain.InstanceStatus](t, resp).ProfileName)

	f.instances.On("StatusOf", mock.Anything, "ghost").Return(instancedomain.InstanceStatus{}, instancedomain.ErrNotFound).Once()
	resp = f.do(t, http.MethodGet, "/api/v1/instances/ghost/status", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	f.instances.On("RequestRemoval", mock.Anything, "alpha").Return(nil).Once()
	resp = f.do(t, http.MethodDelete, "/api/v1/instances/alpha", nil)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	f.instances.AssertExpectations(t)
}

func TestInstanceHandler_Messaging(t *testing.T) {
	f := setupAPITest(t)

	f.messenger.On("SendText", mock.Anything, "alpha", "5511888", "hi").Return("ack-1", nil).Once()
	resp := f.do(t, http.MethodPost, "/api/v1/instances/alpha/messages/text", SendTextRequestDTO{Phone: "5511888", Text: "hi"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ack-1", decodeBody[SendResponseDTO](t, resp).AckID)

	media := instancedomain.MediaMessage{MediaType: "image", URL: "https://cdn.example.com/a/cat.png"}
	f.messenger.On("SendMedia", mock.Anything, "alpha", "5511888", media).Return("ack-2", nil).Once()
	resp = f.do(t, http.MethodPost, "/api/v1/instances/alpha/messages/media", SendMediaRequestDTO{
		Phone: "5511888", MediaType: "image", URL: "https://cdn.example.com/a/cat.png",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/api/v1/instances/alpha/messages/media", SendMediaRequestDTO{
		Phone: "5511888", MediaType: "sticker", URL: "https://cdn.example.com/a/cat.png",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	f.messenger.On("CheckReachable", mock.Anything, "alpha", "5511888").Return(true, nil).Once()
	resp = f.do(t, http.MethodGet, "/api/v1/instances/alpha/numbers/5511888", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decodeBody[ReachableResponseDTO](t, resp).Reachable)

	f.messenger.AssertExpectations(t)
}

func TestRouter_RequiresAuthUnderAPI(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewRouter(RouterDeps{
		Instances: new(MockInstanceManager),
		Messenger: new(MockMessenger),
		Scheduler: new(MockScheduler),
		Auth:      middleware.AuthConfig{Type: middleware.AuthJWT, JWTSecret: "s"},
	}, logger)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/instances", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}
