package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/fabrica-erp/fabrica/internal/bom"
)

// ShapeSource is the slice of the repository the evaluator needs.
type ShapeSource interface {
	GetShape(ctx context.Context, id string) (Shape, error)
	GetMaterial(ctx context.Context, id string) (Material, error)
	ParameterSpecs(ctx context.Context, shapeID string) ([]bom.ParameterSpec, error)
}

// Evaluator derives per-unit weight and cost from a shape's stored volume
// formula and the material's density and price. It implements the bom
// package's ShapeEvaluator port.
type Evaluator struct {
	source ShapeSource
}

// NewEvaluator constructs an evaluator.
func NewEvaluator(source ShapeSource) *Evaluator {
	return &Evaluator{source: source}
}

// Evaluate resolves shape and material, checks parameter ranges and computes
// the per-unit estimate. Weight = volume x density; material cost = weight x
// price per kg; fabrication cost = weight x the shape's fabrication rate.
func (e *Evaluator) Evaluate(ctx context.Context, shapeID, materialID string, params map[string]float64, quantity float64) (bom.ShapeEstimate, error) {
	shape, err := e.source.GetShape(ctx, shapeID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return bom.ShapeEstimate{}, bom.ErrNotFound
		}
		return bom.ShapeEstimate{}, err
	}
	material, err := e.source.GetMaterial(ctx, materialID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return bom.ShapeEstimate{}, bom.ErrNotFound
		}
		return bom.ShapeEstimate{}, err
	}

	specs, err := e.source.ParameterSpecs(ctx, shapeID)
	if err != nil {
		return bom.ShapeEstimate{}, err
	}
	for _, spec := range specs {
		value, present := params[spec.Key]
		if !present {
			if spec.Required {
				return bom.ShapeEstimate{}, fmt.Errorf("%w: parameter %s missing", bom.ErrValidation, spec.Key)
			}
			continue
		}
		if spec.MinValue != nil && value < *spec.MinValue || spec.MaxValue != nil && value > *spec.MaxValue {
			return bom.ShapeEstimate{}, fmt.Errorf("%w: parameter %s out of range", bom.ErrValidation, spec.Key)
		}
	}

	volume, err := bom.EvaluateFormula(shape.VolumeFormula, params)
	if err != nil {
		return bom.ShapeEstimate{}, fmt.Errorf("shape %s volume: %w", shapeID, err)
	}
	if volume < 0 {
		return bom.ShapeEstimate{}, fmt.Errorf("%w: negative volume for shape %s", bom.ErrValidation, shapeID)
	}

	weight := volume * material.Density
	currency := material.PriceCurrency
	if currency == "" {
		currency = shape.Currency
	}
	return bom.ShapeEstimate{
		WeightPerUnit:          weight,
		MaterialCostPerUnit:    weight * material.PricePerUnit,
		FabricationCostPerUnit: weight * shape.FabricationRatePerKg,
		Currency:               currency,
	}, nil
}
