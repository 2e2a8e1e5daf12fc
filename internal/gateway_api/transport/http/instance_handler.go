package http

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/f22labs/whatsapp-api/internal/instance_service/domain"
)

// InstanceManager is the registry surface used by the handler.
type InstanceManager interface {
	List() []domain.InstanceSummary
	Provision(ctx context.Context, name string) (domain.InstanceSummary, error)
	RequestRemoval(ctx context.Context, name string) error
	StatusOf(ctx context.Context, name string) (domain.InstanceStatus, error)
}

// Messenger sends immediately through a registered instance.
type Messenger interface {
	SendText(ctx context.Context, instanceName, phone, text string) (string, error)
	SendMedia(ctx context.Context, instanceName, phone string, media domain.MediaMessage) (string, error)
	CheckReachable(ctx context.Context, instanceName, phone string) (bool, error)
}

type InstanceHandler struct {
	instances InstanceManager
	messenger Messenger
	logger    *slog.Logger
	validate  *validator.Validate
}

func NewInstanceHandler(instances InstanceManager, messenger Messenger, logger *slog.Logger, validate *validator.Validate) *InstanceHandler {
	return &InstanceHandler{
		instances: instances,
		messenger: messenger,
		logger:    logger.With("handler", "instance"),
		validate:  validate,
	}
}

// RegisterRoutes registers instance routes with the given router.
func (h *InstanceHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.ListInstances)
	r.Post("/", h.ProvisionInstance)
	r.Route("/{name}", func(r chi.Router) {
		r.Delete("/", h.RemoveInstance)
		r.Get("/status", h.InstanceStatus)
		r.Get("/numbers/{phone}", h.CheckReachable)
		r.Post("/messages/text", h.SendText)
		r.Post("/messages/media", h.SendMedia)
	})
}

func (h *InstanceHandler) ListInstances(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, h.logger, http.StatusOK, h.instances.List())
}

func (h *InstanceHandler) ProvisionInstance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var reqDTO ProvisionInstanceRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&reqDTO); err != nil {
		jsonError(ctx, w, h.logger, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.validate.StructCtx(ctx, reqDTO); err != nil {
		jsonError(ctx, w, h.logger, fmt.Sprintf("Validation error: %s", err.Error()), http.StatusBadRequest)
		return
	}
	summary, err := h.instances.Provision(ctx, reqDTO.Name)
	if err != nil {
		writeDomainError(ctx, w, h.logger, err, "ProvisionInstance")
		return
	}
	writeJSON(ctx, w, h.logger, http.StatusCreated, summary)
}

func (h *InstanceHandler) RemoveInstance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := chi.URLParam(r, "name")
	if err := h.instances.RequestRemoval(ctx, name); err != nil {
		writeDomainError(ctx, w, h.logger, err, "RemoveInstance")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *InstanceHandler) InstanceStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status, err := h.instances.StatusOf(ctx, chi.URLParam(r, "name"))
	if err != nil {
		writeDomainError(ctx, w, h.logger, err, "InstanceStatus")
		return
	}
	writeJSON(ctx, w, h.logger, http.StatusOK, status)
}

func (h *InstanceHandler) CheckReachable(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	phone := chi.URLParam(r, "phone")
	if err := h.validate.VarCtx(ctx, phone, "required,numeric,min=6,max=20"); err != nil {
		jsonError(ctx, w, h.logger, "Invalid phone number", http.StatusBadRequest)
		return
	}
	ok, err := h.messenger.CheckReachable(ctx, chi.URLParam(r, "name"), phone)
	if err != nil {
		writeDomainError(ctx, w, h.logger, err, "CheckReachable")
		return
	}
	writeJSON(ctx, w, h.logger, http.StatusOK, ReachableResponseDTO{Phone: phone, Reachable: ok})
}

func (h *InstanceHandler) SendText(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var reqDTO SendTextRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&reqDTO); err != nil {
		jsonError(ctx, w, h.logger, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.validate.StructCtx(ctx, reqDTO); err != nil {
		jsonError(ctx, w, h.logger, fmt.Sprintf("Validation error: %s", err.Error()), http.StatusBadRequest)
		return
	}
	ackID, err := h.messenger.SendText(ctx, chi.URLParam(r, "name"), reqDTO.Phone, reqDTO.Text)
	if err != nil {
		writeDomainError(ctx, w, h.logger, err, "SendText")
		return
	}
	writeJSON(ctx, w, h.logger, http.StatusOK, SendResponseDTO{AckID: ackID})
}

func (h *InstanceHandler) SendMedia(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var reqDTO SendMediaRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&reqDTO); err != nil {
		jsonError(ctx, w, h.logger, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.validate.StructCtx(ctx, reqDTO); err != nil {
		jsonError(ctx, w, h.logger, fmt.Sprintf("Validation error: %s", err.Error()), http.StatusBadRequest)
		return
	}
	ackID, err := h.messenger.SendMedia(ctx, chi.URLParam(r, "name"), reqDTO.Phone, domain.MediaMessage{
		MediaType: reqDTO.MediaType,
		URL:       reqDTO.URL,
		Caption:   reqDTO.Caption,
		FileName:  reqDTO.FileName,
	})
	if err != nil {
		writeDomainError(ctx, w, h.logger, err, "SendMedia")
		return
	}
	writeJSON(ctx, w, h.logger, http.StatusOK, SendResponseDTO{AckID: ackID})
}
