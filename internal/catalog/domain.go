// Package catalog backs the costing collaborators: the material price
// catalog, the shape registry and the service-definition registry.
package catalog

import (
	"errors"
	"time"
)

// Material is a raw material with a current catalog price.
type Material struct {
	ID            string
	Name          string
	Grade         string
	Density       float64 // kg per cubic meter
	PricePerUnit  float64
	PriceCurrency string
	Unit          string
	UpdatedAt     time.Time
}

// Shape is a parametric geometry whose volume is derived from a stored
// formula over its declared parameters.
type Shape struct {
	ID                   string
	Name                 string
	VolumeFormula        string // evaluates to cubic meters
	FabricationRatePerKg float64
	Currency             string
	UpdatedAt            time.Time
}

// ShapeParameter declares one input of a shape.
type ShapeParameter struct {
	ShapeID  string
	Key      string
	Label    string
	Required bool
	MinValue *float64
	MaxValue *float64
	Position int
}

// ErrNotFound indicates a catalog record is missing.
var ErrNotFound = errors.New("catalog: not found")
