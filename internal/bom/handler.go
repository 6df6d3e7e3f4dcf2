package bom

import (
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/fabrica-erp/fabrica/internal/costconfig"
	"github.com/fabrica-erp/fabrica/internal/platform/httpx"
	"github.com/fabrica-erp/fabrica/internal/shared"
)

// Handler exposes BOM endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs a handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes attaches BOM routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.createBOM)
	r.Get("/", h.listBOMs)
	r.Post("/shapes/{shapeID}/validate-parameters", h.validateShapeParameters)
	r.Route("/{bomID}", func(r chi.Router) {
		r.Get("/", h.getBOM)
		r.Put("/", h.updateBOM)
		r.Delete("/", h.deleteBOM)
		r.Get("/tree", h.getTree)
		r.Post("/recalculate", h.recalculate)
		r.Get("/summary/export", h.exportSummary)
		r.Route("/items", func(r chi.Router) {
			r.Post("/", h.addItem)
			r.Get("/", h.listItems)
			r.Get("/{itemID}", h.getItem)
			r.Put("/{itemID}", h.updateItem)
			r.Delete("/{itemID}", h.deleteItem)
		})
	})
}

type createBOMRequest struct {
	Name        string `json:"name" validate:"required"`
	Description string `json:"description"`
	Category    string `json:"category"`
	EntityID    string `json:"entityId" validate:"required"`
	ProjectID   string `json:"projectId"`
	ActorID     string `json:"actorId"`
}

func (h *Handler) createBOM(w http.ResponseWriter, r *http.Request) {
	var req createBOMRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.ValidationProblem(w, err)
		return
	}
	b, err := h.service.CreateBOM(r.Context(), CreateBOMInput{
		Name:        req.Name,
		Description: req.Description,
		Category:    req.Category,
		EntityID:    req.EntityID,
		ProjectID:   req.ProjectID,
		ActorID:     req.ActorID,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, b)
}

func (h *Handler) listBOMs(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	p := shared.NewPagination(page, perPage, 0)
	boms, total, err := h.service.ListBOMs(r.Context(), r.URL.Query().Get("entity_id"), p.PerPage, p.Offset())
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"boms":       boms,
		"pagination": shared.NewPagination(p.Page, p.PerPage, total),
	})
}

func (h *Handler) getBOM(w http.ResponseWriter, r *http.Request) {
	b, err := h.service.GetBOM(r.Context(), chi.URLParam(r, "bomID"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, b)
}

type updateBOMRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Status      string `json:"status" validate:"omitempty,oneof=DRAFT SUBMITTED APPROVED ARCHIVED"`
	ActorID     string `json:"actorId"`
}

func (h *Handler) updateBOM(w http.ResponseWriter, r *http.Request) {
	var req updateBOMRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.ValidationProblem(w, err)
		return
	}
	b, err := h.service.UpdateBOM(r.Context(), chi.URLParam(r, "bomID"), UpdateBOMInput{
		Name:        req.Name,
		Description: req.Description,
		Category:    req.Category,
		Status:      Status(req.Status),
		ActorID:     req.ActorID,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, b)
}

func (h *Handler) deleteBOM(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteBOM(r.Context(), chi.URLParam(r, "bomID"), r.URL.Query().Get("actor_id")); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) getTree(w http.ResponseWriter, r *http.Request) {
	tree, err := h.service.GetTree(r.Context(), chi.URLParam(r, "bomID"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": tree})
}

func (h *Handler) recalculate(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.Recalculate(r.Context(), chi.URLParam(r, "bomID"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

type addItemRequest struct {
	ParentItemID string            `json:"parentItemId"`
	Name         string            `json:"name" validate:"required"`
	Description  string            `json:"description"`
	Quantity     float64           `json:"quantity" validate:"required,gt=0"`
	Unit         string            `json:"unit"`
	Category     string            `json:"category"`
	Component    *Component        `json:"component"`
	Services     []AttachedService `json:"services"`
	ActorID      string            `json:"actorId"`
}

func (h *Handler) addItem(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.ValidationProblem(w, err)
		return
	}
	item, err := h.service.AddItem(r.Context(), AddItemInput{
		BOMID:        chi.URLParam(r, "bomID"),
		ParentItemID: req.ParentItemID,
		Name:         req.Name,
		Description:  req.Description,
		Quantity:     req.Quantity,
		Unit:         req.Unit,
		Category:     req.Category,
		Component:    req.Component,
		Services:     req.Services,
		ActorID:      req.ActorID,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, item)
}

func (h *Handler) listItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.ListItems(r.Context(), chi.URLParam(r, "bomID"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) getItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.service.GetItem(r.Context(), chi.URLParam(r, "itemID"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

type updateItemRequest struct {
	Name           *string           `json:"name"`
	Description    *string           `json:"description"`
	Quantity       *float64          `json:"quantity" validate:"omitempty,gt=0"`
	Unit           *string           `json:"unit"`
	Category       *string           `json:"category"`
	Component      *Component        `json:"component"`
	ClearComponent bool              `json:"clearComponent"`
	Services       []AttachedService `json:"services"`
	ServicesSet    bool              `json:"servicesSet"`
	ActorID        string            `json:"actorId"`
}

func (h *Handler) updateItem(w http.ResponseWriter, r *http.Request) {
	var req updateItemRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.ValidationProblem(w, err)
		return
	}
	item, err := h.service.UpdateItem(r.Context(), chi.URLParam(r, "itemID"), UpdateItemInput{
		Name:           req.Name,
		Description:    req.Description,
		Quantity:       req.Quantity,
		Unit:           req.Unit,
		Category:       req.Category,
		Component:      req.Component,
		ClearComponent: req.ClearComponent,
		Services:       req.Services,
		ServicesSet:    req.ServicesSet,
		ActorID:        req.ActorID,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

func (h *Handler) deleteItem(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteItem(r.Context(), chi.URLParam(r, "itemID"), r.URL.Query().Get("actor_id")); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type validateParametersRequest struct {
	Values map[string]float64 `json:"values"`
}

func (h *Handler) validateShapeParameters(w http.ResponseWriter, r *http.Request) {
	var req validateParametersRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	result := h.service.ValidateShapeParameters(r.Context(), chi.URLParam(r, "shapeID"), req.Values)
	httpx.JSON(w, http.StatusOK, result)
}

// exportSummary streams the current summary and item costs as CSV.
func (h *Handler) exportSummary(w http.ResponseWriter, r *http.Request) {
	b, err := h.service.GetBOM(r.Context(), chi.URLParam(r, "bomID"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	items, err := h.service.ListItems(r.Context(), b.ID)
	if err != nil {
		h.respondError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", b.Code+"-summary.csv"))

	p := message.NewPrinter(language.English)
	amount := func(v float64) string { return p.Sprintf("%.2f", v) }

	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"Item Number", "Name", "Quantity", "Unit", "Material Cost", "Fabrication Cost", "Service Cost", "Total Cost", "Currency"})
	for _, item := range items {
		row := []string{item.ItemNumber, item.Name, amount(item.Quantity), item.Unit, "", "", "", "", ""}
		if item.Cost != nil {
			total := item.Cost.TotalMaterialCost.Add(item.Cost.TotalFabricationCost).Add(item.Cost.TotalServiceCost)
			row[4] = amount(item.Cost.TotalMaterialCost.Amount)
			row[5] = amount(item.Cost.TotalFabricationCost.Amount)
			row[6] = amount(item.Cost.TotalServiceCost.Amount)
			row[7] = amount(total.Amount)
			row[8] = total.Currency
		}
		_ = cw.Write(row)
	}
	s := b.Summary
	_ = cw.Write([]string{""})
	_ = cw.Write([]string{"Direct Cost", amount(s.TotalDirectCost.Amount), s.Currency})
	_ = cw.Write([]string{"Overhead", amount(s.Overhead.Amount), s.Currency})
	_ = cw.Write([]string{"Contingency", amount(s.Contingency.Amount), s.Currency})
	_ = cw.Write([]string{"Profit", amount(s.Profit.Amount), s.Currency})
	_ = cw.Write([]string{"Grand Total", amount(s.TotalCost.Amount), s.Currency})
	cw.Flush()
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound) || errors.Is(err, costconfig.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrValidation):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrFormula):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Formula Error", err.Error())
	case errors.Is(err, ErrDuplicateNumber):
		httpx.Problem(w, http.StatusConflict, "Duplicate", err.Error())
	case errors.Is(err, ErrInvalidState):
		httpx.Problem(w, http.StatusConflict, "Invalid State", err.Error())
	default:
		h.logger.Error("bom handler", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
