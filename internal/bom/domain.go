package bom

import (
	"errors"
	"time"
)

// DefaultCurrency is assumed when a price or summary has no recorded currency.
const DefaultCurrency = "INR"

// BOM lifecycle statuses.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusSubmitted Status = "SUBMITTED"
	StatusApproved  Status = "APPROVED"
	StatusArchived  Status = "ARCHIVED"
)

// ComponentType selects the costing strategy for an item.
type ComponentType string

const (
	ComponentShape     ComponentType = "SHAPE"
	ComponentBoughtOut ComponentType = "BOUGHT_OUT"
)

// Money pairs an amount with its currency.
type Money struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

// Add returns the sum, keeping the receiver's currency when set.
func (m Money) Add(other Money) Money {
	currency := m.Currency
	if currency == "" {
		currency = other.Currency
	}
	return Money{Amount: m.Amount + other.Amount, Currency: currency}
}

// Component describes how an item's cost is derived. Type is the variant tag;
// SHAPE requires ShapeID+MaterialID, BOUGHT_OUT requires MaterialID only.
type Component struct {
	Type       ComponentType      `json:"type"`
	ShapeID    string             `json:"shapeId,omitempty"`
	MaterialID string             `json:"materialId,omitempty"`
	Parameters map[string]float64 `json:"parameters,omitempty"`
}

// AttachedService links an item to a service definition, optionally overriding
// the configured rate.
type AttachedService struct {
	ServiceID    string `json:"serviceId"`
	RateOverride *Money `json:"rateOverride,omitempty"`
}

// CalculatedProperties carries derived weight figures.
type CalculatedProperties struct {
	WeightPerUnit float64 `json:"weightPerUnit"`
	TotalWeight   float64 `json:"totalWeight"`
}

// ItemCost carries derived cost figures for one item.
type ItemCost struct {
	MaterialCostPerUnit    Money                       `json:"materialCostPerUnit"`
	TotalMaterialCost      Money                       `json:"totalMaterialCost"`
	FabricationCostPerUnit Money                       `json:"fabricationCostPerUnit"`
	TotalFabricationCost   Money                       `json:"totalFabricationCost"`
	ServiceCostPerUnit     Money                       `json:"serviceCostPerUnit"`
	TotalServiceCost       Money                       `json:"totalServiceCost"`
	ServiceBreakdown       map[string]ServiceCostEntry `json:"serviceBreakdown,omitempty"`
}

// BOM is one bill-of-materials document.
type BOM struct {
	ID          string    `json:"id"`
	Code        string    `json:"code"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Category    string    `json:"category,omitempty"`
	EntityID    string    `json:"entityId"`
	ProjectID   string    `json:"projectId,omitempty"`
	Status      Status    `json:"status"`
	Version     int       `json:"version"`
	Summary     Summary   `json:"summary"`
	CreatedAt   time.Time `json:"createdAt"`
	CreatedBy   string    `json:"createdBy,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt"`
	UpdatedBy   string    `json:"updatedBy,omitempty"`
}

// Item is one node in a per-BOM tree. ItemNumber encodes the tree path: the
// number of a child is <parent number>.<sibling index>.
type Item struct {
	ID           string                `json:"id"`
	BOMID        string                `json:"bomId"`
	ItemNumber   string                `json:"itemNumber"`
	Level        int                   `json:"level"`
	SortOrder    int                   `json:"sortOrder"`
	ParentItemID string                `json:"parentItemId,omitempty"`
	Name         string                `json:"name"`
	Description  string                `json:"description,omitempty"`
	Quantity     float64               `json:"quantity"`
	Unit         string                `json:"unit,omitempty"`
	Category     string                `json:"category,omitempty"`
	Component    *Component            `json:"component,omitempty"`
	Services     []AttachedService     `json:"services,omitempty"`
	Calculated   *CalculatedProperties `json:"calculated,omitempty"`
	Cost         *ItemCost             `json:"cost,omitempty"`
	CreatedAt    time.Time             `json:"createdAt"`
	UpdatedAt    time.Time             `json:"updatedAt"`
}

// Summary is the derived, always-overwritten cost projection of a BOM.
type Summary struct {
	TotalWeight          float64          `json:"totalWeight"`
	TotalMaterialCost    Money            `json:"totalMaterialCost"`
	TotalFabricationCost Money            `json:"totalFabricationCost"`
	TotalServiceCost     Money            `json:"totalServiceCost"`
	TotalDirectCost      Money            `json:"totalDirectCost"`
	Overhead             Money            `json:"overhead"`
	Contingency          Money            `json:"contingency"`
	Profit               Money            `json:"profit"`
	TotalCost            Money            `json:"totalCost"`
	ItemCount            int              `json:"itemCount"`
	Currency             string           `json:"currency"`
	ServiceBreakdown     map[string]Money `json:"serviceBreakdown,omitempty"`
	CostConfigID         string           `json:"costConfigId,omitempty"`
	LastCalculated       time.Time        `json:"lastCalculated"`
}

// Allocation is the result of assigning a position to a new item.
type Allocation struct {
	ItemNumber string
	Level      int
	SortOrder  int
}

var (
	// ErrNotFound indicates a referenced BOM, item, shape or material is missing.
	ErrNotFound = errors.New("bom: not found")
	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("bom: invalid input")
	// ErrInvalidState occurs when an action violates the status workflow.
	ErrInvalidState = errors.New("bom: invalid state transition")
	// ErrDuplicateNumber indicates an item number collision within a BOM.
	ErrDuplicateNumber = errors.New("bom: duplicate item number")
	// ErrFormula indicates a custom service-cost formula failed to evaluate.
	ErrFormula = errors.New("bom: formula evaluation failed")
)

// HasComponent reports whether the item carries a well-formed component.
func (i Item) HasComponent() bool {
	if i.Component == nil {
		return false
	}
	switch i.Component.Type {
	case ComponentShape:
		return i.Component.ShapeID != "" && i.Component.MaterialID != ""
	case ComponentBoughtOut:
		return i.Component.MaterialID != ""
	default:
		return false
	}
}
