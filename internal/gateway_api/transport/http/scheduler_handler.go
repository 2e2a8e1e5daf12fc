package http

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/f22labs/whatsapp-api/internal/scheduler_service/app"
	"github.com/f22labs/whatsapp-api/internal/scheduler_service/domain"
)

// Scheduler is the scheduling surface used by the handler.
type Scheduler interface {
	Submit(ctx context.Context, req app.ScheduleRequest) (*domain.ScheduledMessage, error)
	Reschedule(ctx context.Context, id uuid.UUID, at time.Time) (*domain.ScheduledMessage, error)
	Cancel(ctx context.Context, id uuid.UUID) error
	Get(ctx context.Context, id uuid.UUID) (*domain.ScheduledMessage, error)
}

type SchedulerHandler struct {
	scheduler Scheduler
	logger    *slog.Logger
	validate  *validator.Validate
}

func NewSchedulerHandler(scheduler Scheduler, logger *slog.Logger, validate *validator.Validate) *SchedulerHandler {
	return &SchedulerHandler{
		scheduler: scheduler,
		logger:    logger.With("handler", "scheduler"),
		validate:  validate,
	}
}

// RegisterRoutes registers scheduled message routes with the given router.
func (h *SchedulerHandler) RegisterRoutes(r chi.Router) {
	r.Post("/", h.CreateScheduledMessage)
	r.Get("/{id}", h.GetScheduledMessage)
	r.Patch("/{id}", h.RescheduleMessage)
	r.Delete("/{id}", h.CancelScheduledMessage)
}

func (h *SchedulerHandler) CreateScheduledMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var reqDTO CreateScheduledMessageRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&reqDTO); err != nil {
		jsonError(ctx, w, h.logger, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.validate.StructCtx(ctx, reqDTO); err != nil {
		jsonError(ctx, w, h.logger, fmt.Sprintf("Validation error: %s", err.Error()), http.StatusBadRequest)
		return
	}

	msg, err := h.scheduler.Submit(ctx, app.ScheduleRequest{
		InstanceName: reqDTO.InstanceName,
		Receiver:     reqDTO.Receiver,
		Message:      reqDTO.Message,
		ScheduleTime: reqDTO.ScheduleTime,
	})
	if err != nil {
		writeDomainError(ctx, w, h.logger, err, "CreateScheduledMessage")
		return
	}
	writeJSON(ctx, w, h.logger, http.StatusCreated, toScheduledMessageDTO(msg))
}

func (h *SchedulerHandler) parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		jsonError(r.Context(), w, h.logger, "Invalid message ID format", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func (h *SchedulerHandler) GetScheduledMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	msg, err := h.scheduler.Get(ctx, id)
	if err != nil {
		writeDomainError(ctx, w, h.logger, err, "GetScheduledMessage")
		return
	}
	writeJSON(ctx, w, h.logger, http.StatusOK, toScheduledMessageDTO(msg))
}

func (h *SchedulerHandler) RescheduleMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	var reqDTO RescheduleRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&reqDTO); err != nil {
		jsonError(ctx, w, h.logger, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.validate.StructCtx(ctx, reqDTO); err != nil {
		jsonError(ctx, w, h.logger, fmt.Sprintf("Validation error: %s", err.Error()), http.StatusBadRequest)
		return
	}

	msg, err := h.scheduler.Reschedule(ctx, id, reqDTO.ScheduleTime)
	if err != nil {
		writeDomainError(ctx, w, h.logger, err, "RescheduleMessage")
		return
	}
	writeJSON(ctx, w, h.logger, http.StatusOK, toScheduledMessageDTO(msg))
}

func (h *SchedulerHandler) CancelScheduledMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	if err := h.scheduler.Cancel(ctx, id); err != nil {
		writeDomainError(ctx, w, h.logger, err, "CancelScheduledMessage")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
