package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/f22labs/whatsapp-api/internal/platform/database"
	"github.com/f22labs/whatsapp-api/internal/scheduler_service/domain"
)

const (
	getQuotaSQL       = `SELECT user_id, COALESCE(instance_name, ''), allow_message_count, updated_at FROM user_quotas WHERE user_id = $1`
	decrementQuotaSQL = `UPDATE user_quotas SET allow_message_count = allow_message_count - 1, updated_at = $2 WHERE user_id = $1 AND allow_message_count > 0`
)

type PgQuotaRepository struct {
	db     database.DBTX
	logger *slog.Logger
}

func NewPgQuotaRepository(db database.DBTX, logger *slog.Logger) *PgQuotaRepository {
	return &PgQuotaRepository{db: db, logger: logger.With("component", "quota_repository_pg")}
}

var _ domain.QuotaRepository = (*PgQuotaRepository)(nil)

func (r *PgQuotaRepository) Get(ctx context.Context, userID string) (*domain.UserQuota, error) {
	var q domain.UserQuota
	err := r.db.QueryRow(ctx, getQuotaSQL, userID).Scan(&q.UserID, &q.InstanceName, &q.AllowMessageCount, &q.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		r.logger.ErrorContext(ctx, "Error getting user quota", "error", err, "user", userID)
		return nil, fmt.Errorf("get quota: %w", err)
	}
	return &q, nil
}

// Decrement is a single conditional UPDATE so concurrent callers cannot drive the count negative.
func (r *PgQuotaRepository) Decrement(ctx context.Context, userID string, at time.Time) error {
	tag, err := r.db.Exec(ctx, decrementQuotaSQL, userID, at.UTC())
	if err != nil {
		r.logger.ErrorContext(ctx, "Error decrementing user quota", "error", err, "user", userID)
		return fmt.Errorf("decrement quota: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrQuotaExceeded
	}
	return nil
}
