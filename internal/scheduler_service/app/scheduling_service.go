package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	instancedomain "github.com/f22labs/whatsapp-api/internal/instance_service/domain"
	"github.com/f22labs/whatsapp-api/internal/platform/clock"
	"github.com/f22labs/whatsapp-api/internal/platform/config"
	"github.com/f22labs/whatsapp-api/internal/scheduler_service/domain"
)

// pastGrace tolerates client clock skew on "send now" requests.
const pastGrace = time.Minute

// InstanceStatusReader resolves the owner of a connected instance.
type InstanceStatusReader interface {
	StatusOf(ctx context.Context, name string) (instancedomain.InstanceStatus, error)
}

// ScheduleRequest is a request to send Message to Receiver through InstanceName at ScheduleTime.
type ScheduleRequest struct {
	InstanceName string
	Receiver     string
	Message      string
	ScheduleTime time.Time
}

// SchedulingService is the gate in front of the Engine: it validates the
// horizon and the sender quota, persists the record and arms its timer.
type SchedulingService struct {
	repo      domain.ScheduledMessageRepository
	quotas    domain.QuotaRepository
	engine    *Engine
	instances InstanceStatusReader
	clk       clock.Clock
	horizon   time.Duration
	policy    string
	newID     func() uuid.UUID
	logger    *slog.Logger
}

func NewSchedulingService(
	repo domain.ScheduledMessageRepository,
	quotas domain.QuotaRepository,
	engine *Engine,
	instances InstanceStatusReader,
	clk clock.Clock,
	horizon time.Duration,
	policy string,
	logger *slog.Logger,
) *SchedulingService {
	if clk == nil {
		clk = clock.Real()
	}
	return &SchedulingService{
		repo:      repo,
		quotas:    quotas,
		engine:    engine,
		instances: instances,
		clk:       clk,
		horizon:   horizon,
		policy:    policy,
		newID:     uuid.New,
		logger:    logger.With("component", "scheduling_service"),
	}
}

func (s *SchedulingService) checkWindow(at time.Time) error {
	now := s.clk.Now()
	if at.After(now.Add(s.horizon)) {
		return fmt.Errorf("%w: %s is more than %s ahead", domain.ErrHorizonExceeded, at.UTC().Format(time.RFC3339), s.horizon)
	}
	if at.Before(now.Add(-pastGrace)) {
		return fmt.Errorf("%w: %s", domain.ErrScheduleInPast, at.UTC().Format(time.RFC3339))
	}
	return nil
}

// Submit accepts a new scheduled message. Nothing is persisted when any check fails.
func (s *SchedulingService) Submit(ctx context.Context, req ScheduleRequest) (*domain.ScheduledMessage, error) {
	if err := s.checkWindow(req.ScheduleTime); err != nil {
		scheduleRequestsCounter.WithLabelValues("rejected_window").Inc()
		return nil, err
	}

	status, err := s.instances.StatusOf(ctx, req.InstanceName)
	if err != nil {
		scheduleRequestsCounter.WithLabelValues("rejected_instance").Inc()
		return nil, err
	}
	sender := domain.SenderFromOwner(status.Owner)

	quota, err := s.quotas.Get(ctx, sender)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			scheduleRequestsCounter.WithLabelValues("rejected_quota").Inc()
			return nil, fmt.Errorf("%w: %s", domain.ErrQuotaNotProvisioned, sender)
		}
		scheduleRequestsCounter.WithLabelValues("error").Inc()
		return nil, err
	}
	if quota.AllowMessageCount <= 0 {
		s.logger.InfoContext(ctx, "Schedule rejected, quota exhausted", "user", sender, "instance", req.InstanceName)
		scheduleRequestsCounter.WithLabelValues("rejected_quota").Inc()
		return nil, domain.ErrQuotaExceeded
	}

	msg := domain.NewScheduledMessage(s.newID(), req.InstanceName, sender, req.Receiver, req.Message, req.ScheduleTime, s.clk.Now())
	if err := s.repo.Create(ctx, msg); err != nil {
		scheduleRequestsCounter.WithLabelValues("error").Inc()
		return nil, err
	}
	s.engine.Schedule(msg.ID, msg.Version, msg.ScheduleTime)

	if s.policy == config.DecrementOnAccept {
		s.engine.DecrementQuota(ctx, sender)
	}
	s.logger.InfoContext(ctx, "Message scheduled", "message_id", msg.ID, "instance", msg.InstanceName, "schedule_time", msg.ScheduleTime)
	scheduleRequestsCounter.WithLabelValues("accepted").Inc()
	return msg, nil
}

// Reschedule moves a pending message to a new time. The version bump makes
// the previously armed timer a no-op.
func (s *SchedulingService) Reschedule(ctx context.Context, id uuid.UUID, at time.Time) (*domain.ScheduledMessage, error) {
	if err := s.checkWindow(at); err != nil {
		scheduleRequestsCounter.WithLabelValues("rejected_window").Inc()
		return nil, err
	}
	version, err := s.repo.Reschedule(ctx, id, at)
	if err != nil {
		scheduleRequestsCounter.WithLabelValues("rejected_state").Inc()
		return nil, s.explainPrecondition(ctx, id, err)
	}
	s.engine.Schedule(id, version, at)
	scheduleRequestsCounter.WithLabelValues("rescheduled").Inc()
	return s.repo.GetByID(ctx, id)
}

// Cancel deactivates a pending message.
func (s *SchedulingService) Cancel(ctx context.Context, id uuid.UUID) error {
	if _, err := s.repo.Deactivate(ctx, id); err != nil {
		scheduleRequestsCounter.WithLabelValues("rejected_state").Inc()
		return s.explainPrecondition(ctx, id, err)
	}
	s.logger.InfoContext(ctx, "Scheduled message canceled", "message_id", id)
	scheduleRequestsCounter.WithLabelValues("canceled").Inc()
	return nil
}

func (s *SchedulingService) Get(ctx context.Context, id uuid.UUID) (*domain.ScheduledMessage, error) {
	return s.repo.GetByID(ctx, id)
}

// explainPrecondition turns a failed precondition on a missing row into ErrNotFound.
func (s *SchedulingService) explainPrecondition(ctx context.Context, id uuid.UUID, err error) error {
	if !errors.Is(err, domain.ErrPreconditionFailed) {
		return err
	}
	if _, getErr := s.repo.GetByID(ctx, id); errors.Is(getErr, domain.ErrNotFound) {
		return domain.ErrNotFound
	}
	return err
}
