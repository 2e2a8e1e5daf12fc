package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/f22labs/whatsapp-api/internal/platform/database"
	"github.com/f22labs/whatsapp-api/internal/scheduler_service/domain"
)

const scheduledMessageColumns = `id, instance_name, message, sender, receiver, schedule_time, status, is_active, version, retry_count, delivery_ack_id, created_at, updated_at`

const (
	insertScheduledMessageSQL = `INSERT INTO scheduled_messages (id, instance_name, message, sender, receiver, schedule_time, status, is_active, version, retry_count, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	getScheduledMessageSQL = `SELECT ` + scheduledMessageColumns + ` FROM scheduled_messages WHERE id = $1`

	listArmableSQL = `SELECT ` + scheduledMessageColumns + ` FROM scheduled_messages WHERE is_active AND status = 'pending' ORDER BY schedule_time ASC`

	markSentSQL = `UPDATE scheduled_messages SET status = 'sent', updated_at = $3 WHERE id = $1 AND version = $2 AND is_active AND status = 'pending'`

	markSucceededSQL = `UPDATE scheduled_messages SET status = 'success', delivery_ack_id = $3, updated_at = $4 WHERE id = $1 AND version = $2 AND status = 'sent'`

	markFailedSQL = `UPDATE scheduled_messages SET status = 'failed', updated_at = $3 WHERE id = $1 AND version = $2 AND status IN ('pending', 'sent')`

	rescheduleSQL = `UPDATE scheduled_messages SET schedule_time = $2, version = version + 1, updated_at = $3 WHERE id = $1 AND is_active AND status = 'pending' RETURNING version`

	deactivateSQL = `UPDATE scheduled_messages SET is_active = FALSE, version = version + 1, updated_at = $2 WHERE id = $1 AND is_active AND status = 'pending' RETURNING version`
)

type PgScheduledMessageRepository struct {
	db     database.DBTX
	logger *slog.Logger
}

func NewPgScheduledMessageRepository(db database.DBTX, logger *slog.Logger) *PgScheduledMessageRepository {
	return &PgScheduledMessageRepository{db: db, logger: logger.With("component", "scheduled_message_repository_pg")}
}

var _ domain.ScheduledMessageRepository = (*PgScheduledMessageRepository)(nil)

func scanScheduledMessage(row pgx.Row) (*domain.ScheduledMessage, error) {
	var m domain.ScheduledMessage
	err := row.Scan(
		&m.ID, &m.InstanceName, &m.Message, &m.Sender, &m.Receiver, &m.ScheduleTime,
		&m.Status, &m.IsActive, &m.Version, &m.RetryCount, &m.DeliveryAckID, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *PgScheduledMessageRepository) Create(ctx context.Context, m *domain.ScheduledMessage) error {
	_, err := r.db.Exec(ctx, insertScheduledMessageSQL,
		m.ID, m.InstanceName, m.Message, m.Sender, m.Receiver, m.ScheduleTime,
		m.Status, m.IsActive, m.Version, m.RetryCount, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error creating scheduled message", "error", err, "message_id", m.ID)
		return fmt.Errorf("insert scheduled message: %w", err)
	}
	r.logger.InfoContext(ctx, "Scheduled message created", "message_id", m.ID, "schedule_time", m.ScheduleTime)
	return nil
}

func (r *PgScheduledMessageRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.ScheduledMessage, error) {
	m, err := scanScheduledMessage(r.db.QueryRow(ctx, getScheduledMessageSQL, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		r.logger.ErrorContext(ctx, "Error getting scheduled message", "error", err, "message_id", id)
		return nil, fmt.Errorf("get scheduled message: %w", err)
	}
	return m, nil
}

// conditionalUpdate runs an UPDATE whose WHERE clause encodes the expected state.
func (r *PgScheduledMessageRepository) conditionalUpdate(ctx context.Context, op, query string, id uuid.UUID, args ...any) error {
	tag, err := r.db.Exec(ctx, query, append([]any{id}, args...)...)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error updating scheduled message", "op", op, "error", err, "message_id", id)
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		r.logger.WarnContext(ctx, "Scheduled message precondition failed", "op", op, "message_id", id)
		return domain.ErrPreconditionFailed
	}
	return nil
}

func (r *PgScheduledMessageRepository) MarkSent(ctx context.Context, id uuid.UUID, version int) error {
	return r.conditionalUpdate(ctx, "mark sent", markSentSQL, id, version, time.Now().UTC())
}

func (r *PgScheduledMessageRepository) MarkSucceeded(ctx context.Context, id uuid.UUID, version int, ackID string) error {
	return r.conditionalUpdate(ctx, "mark succeeded", markSucceededSQL, id, version, ackID, time.Now().UTC())
}

func (r *PgScheduledMessageRepository) MarkFailed(ctx context.Context, id uuid.UUID, version int) error {
	return r.conditionalUpdate(ctx, "mark failed", markFailedSQL, id, version, time.Now().UTC())
}

// returningVersion runs an UPDATE ... RETURNING version.
func (r *PgScheduledMessageRepository) returningVersion(ctx context.Context, op, query string, args ...any) (int, error) {
	var version int
	if err := r.db.QueryRow(ctx, query, args...).Scan(&version); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.ErrPreconditionFailed
		}
		r.logger.ErrorContext(ctx, "Error updating scheduled message", "op", op, "error", err)
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return version, nil
}

func (r *PgScheduledMessageRepository) Reschedule(ctx context.Context, id uuid.UUID, scheduleTime time.Time) (int, error) {
	return r.returningVersion(ctx, "reschedule", rescheduleSQL, id, scheduleTime.UTC(), time.Now().UTC())
}

func (r *PgScheduledMessageRepository) Deactivate(ctx context.Context, id uuid.UUID) (int, error) {
	return r.returningVersion(ctx, "deactivate", deactivateSQL, id, time.Now().UTC())
}

func (r *PgScheduledMessageRepository) ListArmable(ctx context.Context) ([]*domain.ScheduledMessage, error) {
	rows, err := r.db.Query(ctx, listArmableSQL)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error listing armable scheduled messages", "error", err)
		return nil, fmt.Errorf("list armable: %w", err)
	}
	defer rows.Close()

	var out []*domain.ScheduledMessage
	for rows.Next() {
		m, err := scanScheduledMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan armable: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate armable: %w", err)
	}
	return out, nil
}
