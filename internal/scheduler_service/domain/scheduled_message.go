package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// MessageStatus of a scheduled message. Transitions: pending -> sent -> success,
// pending|sent -> failed.
type MessageStatus string

const (
	StatusPending MessageStatus = "pending"
	StatusSent    MessageStatus = "sent"
	StatusSuccess MessageStatus = "success"
	StatusFailed  MessageStatus = "failed"
)

// IsTerminal reports whether no further transition is possible.
func (s MessageStatus) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// ScheduledMessage is a deferred text send. Storage is authoritative; timers only hint.
type ScheduledMessage struct {
	ID            uuid.UUID     `json:"id"`
	InstanceName  string        `json:"instance_name"`
	Message       string        `json:"message"`
	Sender        string        `json:"sender"`
	Receiver      string        `json:"receiver"`
	ScheduleTime  time.Time     `json:"schedule_time"`
	Status        MessageStatus `json:"status"`
	IsActive      bool          `json:"is_active"`
	Version       int           `json:"version"`
	RetryCount    int           `json:"retry_count"`
	DeliveryAckID *string       `json:"delivery_ack_id,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// NewScheduledMessage creates an active pending record at version 0.
func NewScheduledMessage(id uuid.UUID, instanceName, sender, receiver, message string, scheduleTime, now time.Time) *ScheduledMessage {
	return &ScheduledMessage{
		ID:           id,
		InstanceName: instanceName,
		Message:      message,
		Sender:       sender,
		Receiver:     receiver,
		ScheduleTime: scheduleTime.UTC(),
		Status:       StatusPending,
		IsActive:     true,
		Version:      0,
		RetryCount:   0,
		CreatedAt:    now.UTC(),
		UpdatedAt:    now.UTC(),
	}
}

// Deliverable reports whether a timer armed at version may act on this record.
func (m *ScheduledMessage) Deliverable(version int) bool {
	return m.IsActive && m.Version == version && m.Status != StatusSuccess
}

// UserQuota is the remaining scheduled-send allowance of a sender.
type UserQuota struct {
	UserID            string    `json:"user"`
	InstanceName      string    `json:"instance_name,omitempty"`
	AllowMessageCount int       `json:"allow_message_count"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// SenderFromOwner reduces an owner JID such as "5511999:12@s.whatsapp.net"
// to the bare user number used as quota key.
func SenderFromOwner(owner string) string {
	if i := strings.IndexByte(owner, '@'); i >= 0 {
		owner = owner[:i]
	}
	if i := strings.IndexByte(owner, ':'); i >= 0 {
		owner = owner[:i]
	}
	return owner
}
