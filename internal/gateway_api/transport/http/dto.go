package http

import (
	"time"

	"github.com/f22labs/whatsapp-api/internal/scheduler_service/domain"
)

// GenericErrorResponse for API errors
type GenericErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// --- Scheduled messages ---

// CreateScheduledMessageRequestDTO is used for creating a new scheduled message.
type CreateScheduledMessageRequestDTO struct {
	InstanceName string    `json:"instance_name" validate:"required,max=64"`
	Receiver     string    `json:"receiver" validate:"required,numeric,min=6,max=20"`
	Message      string    `json:"message" validate:"required,max=4096"`
	ScheduleTime time.Time `json:"schedule_time" validate:"required"`
}

// RescheduleRequestDTO moves a pending message to a new time.
type RescheduleRequestDTO struct {
	ScheduleTime time.Time `json:"schedule_time" validate:"required"`
}

// ScheduledMessageDTO represents a scheduled message in API responses.
type ScheduledMessageDTO struct {
	ID            string    `json:"id"`
	InstanceName  string    `json:"instance_name"`
	Sender        string    `json:"sender"`
	Receiver      string    `json:"receiver"`
	Message       string    `json:"message"`
	ScheduleTime  time.Time `json:"schedule_time"`
	Status        string    `json:"status"`
	IsActive      bool      `json:"is_active"`
	Version       int       `json:"version"`
	DeliveryAckID string    `json:"delivery_ack_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func toScheduledMessageDTO(m *domain.ScheduledMessage) ScheduledMessageDTO {
	dto := ScheduledMessageDTO{
		ID:           m.ID.String(),
		InstanceName: m.InstanceName,
		Sender:       m.Sender,
		Receiver:     m.Receiver,
		Message:      m.Message,
		ScheduleTime: m.ScheduleTime,
		Status:       string(m.Status),
		IsActive:     m.IsActive,
		Version:      m.Version,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
	if m.DeliveryAckID != nil {
		dto.DeliveryAckID = *m.DeliveryAckID
	}
	return dto
}

// --- Instances ---

// ProvisionInstanceRequestDTO creates a new instance.
type ProvisionInstanceRequestDTO struct {
	Name string `json:"name" validate:"required,max=64"`
}

// SendTextRequestDTO sends a text message right away.
type SendTextRequestDTO struct {
	Phone string `json:"phone" validate:"required,numeric,min=6,max=20"`
	Text  string `json:"text" validate:"required,max=4096"`
}

// SendMediaRequestDTO sends a media message right away.
type SendMediaRequestDTO struct {
	Phone     string `json:"phone" validate:"required,numeric,min=6,max=20"`
	MediaType string `json:"media_type" validate:"required,oneof=image video audio document"`
	URL       string `json:"url" validate:"required,url"`
	Caption   string `json:"caption,omitempty" validate:"max=1024"`
	FileName  string `json:"file_name,omitempty" validate:"max=255"`
}

// SendResponseDTO carries the provider acknowledgement id.
type SendResponseDTO struct {
	AckID string `json:"ack_id,omitempty"`
}

// ReachableResponseDTO answers a number check.
type ReachableResponseDTO struct {
	Phone     string `json:"phone"`
	Reachable bool   `json:"reachable"`
}
