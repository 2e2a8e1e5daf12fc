package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ScheduledMessageRepository persists scheduled messages. Every state change is
// a conditional update that returns ErrPreconditionFailed when the row no
// longer matches.
type ScheduledMessageRepository interface {
	Create(ctx context.Context, msg *ScheduledMessage) error
	GetByID(ctx context.Context, id uuid.UUID) (*ScheduledMessage, error)
	// MarkSent moves pending -> sent for an active record at version.
	MarkSent(ctx context.Context, id uuid.UUID, version int) error
	// MarkSucceeded moves sent -> success and stores the acknowledgement id.
	MarkSucceeded(ctx context.Context, id uuid.UUID, version int, ackID string) error
	// MarkFailed moves pending|sent -> failed.
	MarkFailed(ctx context.Context, id uuid.UUID, version int) error
	// Reschedule sets a new time on an active pending record and returns the bumped version.
	Reschedule(ctx context.Context, id uuid.UUID, scheduleTime time.Time) (int, error)
	// Deactivate clears is_active on an active pending record and bumps its version.
	Deactivate(ctx context.Context, id uuid.UUID) (int, error)
	// ListArmable returns active pending records, oldest schedule first.
	ListArmable(ctx context.Context) ([]*ScheduledMessage, error)
}

// QuotaRepository reads and decrements sender allowances.
type QuotaRepository interface {
	// Get returns ErrNotFound when the sender has no record.
	Get(ctx context.Context, userID string) (*UserQuota, error)
	// Decrement lowers the allowance by one, never below zero; it returns
	// ErrQuotaExceeded when nothing was left or the sender is unknown.
	Decrement(ctx context.Context, userID string, at time.Time) error
}
