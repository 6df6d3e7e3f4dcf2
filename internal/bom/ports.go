package bom

import (
	"context"
	"time"

	"github.com/fabrica-erp/fabrica/internal/costconfig"
)

// ShapeEstimate is the per-unit output of a geometry evaluation.
type ShapeEstimate struct {
	WeightPerUnit          float64
	MaterialCostPerUnit    float64
	FabricationCostPerUnit float64
	Currency               string
}

// ShapeEvaluator turns shape parameters plus a material into per-unit weight
// and cost figures.
type ShapeEvaluator interface {
	Evaluate(ctx context.Context, shapeID, materialID string, params map[string]float64, quantity float64) (ShapeEstimate, error)
}

// MaterialCatalog resolves a material's current price. A miss is ErrNotFound.
type MaterialCatalog interface {
	CurrentPrice(ctx context.Context, materialID string) (Money, error)
}

// ParameterSpec declares one shape parameter for validation.
type ParameterSpec struct {
	Key      string
	Label    string
	Required bool
	MinValue *float64
	MaxValue *float64
}

// ShapeSpecSource resolves the declared parameter specs of a shape.
type ShapeSpecSource interface {
	ParameterSpecs(ctx context.Context, shapeID string) ([]ParameterSpec, error)
}

// CalcMethod selects how a service cost is derived.
type CalcMethod string

const (
	MethodPercentageOfMaterial CalcMethod = "PERCENTAGE_OF_MATERIAL"
	MethodPercentageOfTotal    CalcMethod = "PERCENTAGE_OF_TOTAL"
	MethodFixedAmount          CalcMethod = "FIXED_AMOUNT"
	MethodRatePerUnit          CalcMethod = "RATE_PER_UNIT"
	MethodCustomFormula        CalcMethod = "CUSTOM_FORMULA"
)

// ServiceDefinition describes a costed service as configured in the registry.
// Empty applicability sets mean the service applies to every item.
type ServiceDefinition struct {
	ID                  string
	Name                string
	Method              CalcMethod
	Rate                float64
	Currency            string
	Formula             string
	AppliesToCategories []string
	AppliesToComponents []ComponentType
}

// ServiceRegistry resolves service ids to their definitions. Unknown ids are
// simply absent from the result.
type ServiceRegistry interface {
	Resolve(ctx context.Context, serviceIDs []string) (map[string]ServiceDefinition, error)
}

// CostConfigSource resolves the active cost configuration for an entity at a
// point in time. costconfig.ErrNotFound means no active configuration exists.
type CostConfigSource interface {
	ActiveForEntity(ctx context.Context, entityID string, at time.Time) (costconfig.Configuration, error)
}

// RecalcLocker serializes summary recomputation per BOM so concurrent triggers
// cannot interleave partial summary writes.
type RecalcLocker interface {
	WithLock(ctx context.Context, key string, fn func(context.Context) error) error
}
