package costconfig

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/fabrica-erp/fabrica/internal/platform/httpx"
)

// Handler exposes cost configuration endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs a handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes attaches cost configuration routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.create)
	r.Get("/", h.listForEntity)
	r.Get("/active", h.activeForEntity)
	r.Route("/{configID}", func(r chi.Router) {
		r.Get("/", h.get)
		r.Put("/", h.update)
		r.Post("/activate", h.activate)
		r.Post("/deactivate", h.deactivate)
	})
}

type createRequest struct {
	EntityID         string         `json:"entityId" validate:"required"`
	Name             string         `json:"name" validate:"required"`
	Description      string         `json:"description"`
	Overhead         OverheadPolicy `json:"overhead"`
	Contingency      MarginPolicy   `json:"contingency"`
	Profit           MarginPolicy   `json:"profit"`
	LaborRates       []RateEntry    `json:"laborRates"`
	FabricationRates []RateEntry    `json:"fabricationRates"`
	IsActive         bool           `json:"isActive"`
	EffectiveFrom    time.Time      `json:"effectiveFrom"`
	ActorID          string         `json:"actorId"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.ValidationProblem(w, err)
		return
	}
	c, err := h.service.Create(r.Context(), CreateInput{
		EntityID:         req.EntityID,
		Name:             req.Name,
		Description:      req.Description,
		Overhead:         req.Overhead,
		Contingency:      req.Contingency,
		Profit:           req.Profit,
		LaborRates:       req.LaborRates,
		FabricationRates: req.FabricationRates,
		IsActive:         req.IsActive,
		EffectiveFrom:    req.EffectiveFrom,
		ActorID:          req.ActorID,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, c)
}

func (h *Handler) listForEntity(w http.ResponseWriter, r *http.Request) {
	entityID := r.URL.Query().Get("entity_id")
	if entityID == "" {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "entity_id is required")
		return
	}
	configs, err := h.service.ListForEntity(r.Context(), entityID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"configurations": configs})
}

func (h *Handler) activeForEntity(w http.ResponseWriter, r *http.Request) {
	entityID := r.URL.Query().Get("entity_id")
	if entityID == "" {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "entity_id is required")
		return
	}
	c, err := h.service.ActiveForEntity(r.Context(), entityID, time.Now())
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, c)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	c, err := h.service.Get(r.Context(), chi.URLParam(r, "configID"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, c)
}

type updateRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Overhead    *OverheadPolicy `json:"overhead"`
	Contingency *MarginPolicy   `json:"contingency"`
	Profit      *MarginPolicy   `json:"profit"`
	ActorID     string          `json:"actorId"`
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	c, err := h.service.Update(r.Context(), chi.URLParam(r, "configID"), UpdateInput{
		Name:        req.Name,
		Description: req.Description,
		Overhead:    req.Overhead,
		Contingency: req.Contingency,
		Profit:      req.Profit,
		ActorID:     req.ActorID,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, c)
}

type activateRequest struct {
	EffectiveFrom time.Time `json:"effectiveFrom"`
	ActorID       string    `json:"actorId"`
}

func (h *Handler) activate(w http.ResponseWriter, r *http.Request) {
	var req activateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	c, err := h.service.Activate(r.Context(), chi.URLParam(r, "configID"), req.EffectiveFrom, req.ActorID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, c)
}

func (h *Handler) deactivate(w http.ResponseWriter, r *http.Request) {
	var req activateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	c, err := h.service.Deactivate(r.Context(), chi.URLParam(r, "configID"), req.ActorID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, c)
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrValidation):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		h.logger.Error("costconfig handler", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
