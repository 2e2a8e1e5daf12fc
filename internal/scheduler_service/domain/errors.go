package domain

import "errors"

var (
	// ErrNotFound indicates that a requested scheduled message was not found.
	ErrNotFound = errors.New("scheduled message not found")
	// ErrQuotaExceeded indicates the sender has no remaining allowance.
	ErrQuotaExceeded = errors.New("limit exceeded")
	// ErrQuotaNotProvisioned indicates the sender has no quota record at all.
	ErrQuotaNotProvisioned = errors.New("quota not provisioned for sender")
	// ErrHorizonExceeded indicates a schedule time beyond the accepted window.
	ErrHorizonExceeded = errors.New("schedule time beyond allowed horizon")
	// ErrScheduleInPast indicates a schedule time that has already passed.
	ErrScheduleInPast = errors.New("schedule time is in the past")
	// ErrPreconditionFailed indicates a conditional update matched no row:
	// the record changed state or version since it was read.
	ErrPreconditionFailed = errors.New("scheduled message precondition failed")
	// ErrSendFailed wraps errors from the send capability.
	ErrSendFailed = errors.New("send failed")
)
