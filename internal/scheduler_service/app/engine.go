package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/f22labs/whatsapp-api/internal/platform/clock"
	"github.com/f22labs/whatsapp-api/internal/platform/config"
	"github.com/f22labs/whatsapp-api/internal/platform/messagebroker"
	"github.com/f22labs/whatsapp-api/internal/scheduler_service/domain"
)

// StatusSubject carries delivery outcome events.
const StatusSubject = "scheduled_message.status"

const defaultDeliveryTimeout = 30 * time.Second

// MessageSender is the external text send capability. It returns the provider
// acknowledgement id, which may be empty.
type MessageSender interface {
	SendText(ctx context.Context, instanceName, phone, text string) (string, error)
}

// EngineConfig holds configuration specific to the delivery Engine.
type EngineConfig struct {
	DecrementPolicy string
	DeliveryTimeout time.Duration
}

// StatusEvent is published on StatusSubject after every delivery that changed state.
type StatusEvent struct {
	ID           uuid.UUID            `json:"id"`
	InstanceName string               `json:"instance_name"`
	Receiver     string               `json:"receiver"`
	Status       domain.MessageStatus `json:"status"`
	Version      int                  `json:"version"`
	AckID        string               `json:"ack_id,omitempty"`
	At           time.Time            `json:"at"`
}

type armedTimer struct {
	token uint64
	timer clock.Timer
}

// Engine arms one in-process timer per scheduled message and, when it fires,
// re-checks the stored record before sending. A firing timer is only a hint.
type Engine struct {
	repo       domain.ScheduledMessageRepository
	quotas     domain.QuotaRepository
	sender     MessageSender
	natsClient messagebroker.NATSClient
	clk        clock.Clock
	logger     *slog.Logger
	config     EngineConfig

	mu      sync.Mutex
	timers  map[uuid.UUID]armedTimer
	seq     uint64
	stopped bool
	running sync.WaitGroup
}

// NewEngine creates a new Engine. nc may be nil, which disables status events.
func NewEngine(
	repo domain.ScheduledMessageRepository,
	quotas domain.QuotaRepository,
	sender MessageSender,
	nc messagebroker.NATSClient,
	clk clock.Clock,
	logger *slog.Logger,
	cfg EngineConfig,
) *Engine {
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = defaultDeliveryTimeout
	}
	if cfg.DecrementPolicy == "" {
		cfg.DecrementPolicy = config.DecrementOnDelivery
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Engine{
		repo:       repo,
		quotas:     quotas,
		sender:     sender,
		natsClient: nc,
		clk:        clk,
		logger:     logger.With("component", "delivery_engine"),
		config:     cfg,
		timers:     make(map[uuid.UUID]armedTimer),
	}
}

// Schedule arms a timer that calls Deliver(id, version) at when. A time in the
// past fires immediately. Re-arming an id replaces its previous timer.
func (e *Engine) Schedule(id uuid.UUID, version int, when time.Time) {
	delay := when.Sub(e.clk.Now())
	if delay < 0 {
		delay = 0
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return
	}
	e.seq++
	token := e.seq
	if prev, ok := e.timers[id]; ok {
		prev.timer.Stop()
	}
	e.timers[id] = armedTimer{
		token: token,
		timer: e.clk.AfterFunc(delay, func() { e.fire(id, version, token) }),
	}
	armedTimersGauge.Set(float64(len(e.timers)))
	e.logger.Debug("Delivery timer armed", "message_id", id, "version", version, "fire_at", when.UTC())
}

func (e *Engine) fire(id uuid.UUID, version int, token uint64) {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	if cur, ok := e.timers[id]; ok && cur.token == token {
		delete(e.timers, id)
		armedTimersGauge.Set(float64(len(e.timers)))
	}
	e.running.Add(1)
	e.mu.Unlock()
	defer e.running.Done()

	ctx, cancel := context.WithTimeout(context.Background(), e.config.DeliveryTimeout)
	defer cancel()
	if err := e.Deliver(ctx, id, version); err != nil {
		e.logger.ErrorContext(ctx, "Scheduled delivery ended with error", "message_id", id, "version", version, "error", err)
	}
}

// Armed reports the number of timers currently armed.
func (e *Engine) Armed() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.timers)
}

// Deliver re-reads the record and sends it when it is still active, at version
// and not yet delivered. Send failures are persisted as "failed" and not
// returned; only storage errors are.
func (e *Engine) Deliver(ctx context.Context, id uuid.UUID, version int) error {
	timer := prometheus.NewTimer(deliveryDurationHist)
	defer timer.ObserveDuration()

	msg, err := e.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			e.logger.InfoContext(ctx, "Scheduled message no longer exists", "message_id", id)
			deliveriesCounter.WithLabelValues("skipped").Inc()
			return nil
		}
		deliveriesCounter.WithLabelValues("error").Inc()
		return fmt.Errorf("load scheduled message %s: %w", id, err)
	}

	if !msg.Deliverable(version) {
		e.logger.InfoContext(ctx, "Stale or completed schedule ignored",
			"message_id", id, "timer_version", version, "version", msg.Version,
			"is_active", msg.IsActive, "status", msg.Status)
		deliveriesCounter.WithLabelValues("skipped").Inc()
		return nil
	}

	// Marked before sending so a crash mid-send reads as "sent, no ack".
	if err := e.repo.MarkSent(ctx, id, version); err != nil {
		if errors.Is(err, domain.ErrPreconditionFailed) {
			e.logger.InfoContext(ctx, "Scheduled message claimed elsewhere", "message_id", id, "version", version)
			deliveriesCounter.WithLabelValues("skipped").Inc()
			return nil
		}
		deliveriesCounter.WithLabelValues("error").Inc()
		return fmt.Errorf("mark sent %s: %w", id, err)
	}

	ackID, sendErr := e.sender.SendText(ctx, msg.InstanceName, msg.Receiver, msg.Message)
	if sendErr != nil {
		e.logger.WarnContext(ctx, "Scheduled send failed", "message_id", id, "instance", msg.InstanceName, "error", sendErr)
		deliveriesCounter.WithLabelValues("failed").Inc()
		if err := e.repo.MarkFailed(ctx, id, version); err != nil {
			return fmt.Errorf("mark failed %s after %w: %w", id, domain.ErrSendFailed, err)
		}
		e.publishStatus(ctx, msg, domain.StatusFailed, "")
		return nil
	}

	if e.config.DecrementPolicy == config.DecrementOnDelivery {
		e.DecrementQuota(ctx, msg.Sender)
	}

	if ackID == "" {
		e.logger.WarnContext(ctx, "Send returned no acknowledgement, leaving message as sent", "message_id", id, "instance", msg.InstanceName)
		deliveriesCounter.WithLabelValues("unacknowledged").Inc()
		e.publishStatus(ctx, msg, domain.StatusSent, "")
		return nil
	}

	if err := e.repo.MarkSucceeded(ctx, id, version, ackID); err != nil {
		deliveriesCounter.WithLabelValues("error").Inc()
		return fmt.Errorf("mark succeeded %s: %w", id, err)
	}
	e.logger.InfoContext(ctx, "Scheduled message delivered", "message_id", id, "instance", msg.InstanceName, "ack_id", ackID)
	deliveriesCounter.WithLabelValues("success").Inc()
	e.publishStatus(ctx, msg, domain.StatusSuccess, ackID)
	return nil
}

// DecrementQuota lowers the sender's allowance by one. Failures are logged
// and never block or roll back a send.
func (e *Engine) DecrementQuota(ctx context.Context, user string) {
	if err := e.quotas.Decrement(ctx, user, e.clk.Now()); err != nil {
		if errors.Is(err, domain.ErrQuotaExceeded) {
			e.logger.WarnContext(ctx, "Quota already exhausted at decrement", "user", user)
			return
		}
		e.logger.ErrorContext(ctx, "Failed to decrement quota", "user", user, "error", err)
	}
}

// Restore re-arms every active pending record. Overdue records fire at once.
func (e *Engine) Restore(ctx context.Context) (int, error) {
	msgs, err := e.repo.ListArmable(ctx)
	if err != nil {
		return 0, fmt.Errorf("restore scheduled messages: %w", err)
	}
	for _, m := range msgs {
		e.Schedule(m.ID, m.Version, m.ScheduleTime)
	}
	e.logger.InfoContext(ctx, "Scheduled messages restored", "count", len(msgs))
	return len(msgs), nil
}

// Stop disarms all timers and waits for in-flight deliveries.
func (e *Engine) Stop() {
	e.mu.Lock()
	e.stopped = true
	for id, t := range e.timers {
		t.timer.Stop()
		delete(e.timers, id)
	}
	armedTimersGauge.Set(0)
	e.mu.Unlock()
	e.running.Wait()
}

func (e *Engine) publishStatus(ctx context.Context, msg *domain.ScheduledMessage, status domain.MessageStatus, ackID string) {
	if e.natsClient == nil {
		return
	}
	data, err := json.Marshal(StatusEvent{
		ID:           msg.ID,
		InstanceName: msg.InstanceName,
		Receiver:     msg.Receiver,
		Status:       status,
		Version:      msg.Version,
		AckID:        ackID,
		At:           e.clk.Now().UTC(),
	})
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to marshal status event", "message_id", msg.ID, "error", err)
		return
	}
	if err := e.natsClient.Publish(ctx, StatusSubject, data); err != nil {
		e.logger.WarnContext(ctx, "Failed to publish status event", "message_id", msg.ID, "subject", StatusSubject, "error", err)
	}
}
