package costconfig

import (
	"errors"
	"time"
)

// OverheadBase selects which cost bucket overhead is computed on.
type OverheadBase string

const (
	BaseAll         OverheadBase = "ALL"
	BaseMaterial    OverheadBase = "MATERIAL"
	BaseFabrication OverheadBase = "FABRICATION"
	BaseService     OverheadBase = "SERVICE"
)

// OverheadPolicy applies a percentage on a selected base.
type OverheadPolicy struct {
	Enabled      bool         `json:"enabled"`
	RatePercent  float64      `json:"ratePercent"`
	ApplicableTo OverheadBase `json:"applicableTo"`
}

// MarginPolicy applies a percentage on a running base.
type MarginPolicy struct {
	Enabled     bool    `json:"enabled"`
	RatePercent float64 `json:"ratePercent"`
}

// RateEntry is one labor or fabrication rate row.
type RateEntry struct {
	Code        string  `json:"code"`
	Description string  `json:"description,omitempty"`
	RatePerHour float64 `json:"ratePerHour"`
	Currency    string  `json:"currency,omitempty"`
}

// Configuration is an entity-scoped, versioned costing policy.
type Configuration struct {
	ID               string         `json:"id"`
	EntityID         string         `json:"entityId"`
	Name             string         `json:"name"`
	Description      string         `json:"description,omitempty"`
	Overhead         OverheadPolicy `json:"overhead"`
	Contingency      MarginPolicy   `json:"contingency"`
	Profit           MarginPolicy   `json:"profit"`
	LaborRates       []RateEntry    `json:"laborRates,omitempty"`
	FabricationRates []RateEntry    `json:"fabricationRates,omitempty"`
	IsActive         bool           `json:"isActive"`
	EffectiveFrom    time.Time      `json:"effectiveFrom"`
	CreatedAt        time.Time      `json:"createdAt"`
	CreatedBy        string         `json:"createdBy,omitempty"`
	UpdatedAt        time.Time      `json:"updatedAt"`
	UpdatedBy        string         `json:"updatedBy,omitempty"`
}

var (
	// ErrNotFound indicates the configuration does not exist.
	ErrNotFound = errors.New("costconfig: not found")
	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("costconfig: invalid input")
)
