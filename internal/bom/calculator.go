package bom

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

// CostResult is the output of a single item calculation.
type CostResult struct {
	Calculated CalculatedProperties
	Cost       ItemCost
}

// Calculator derives per-item weight and cost figures. Geometry is delegated
// to the shape evaluator and catalog lookups to the material catalog.
type Calculator struct {
	catalog  MaterialCatalog
	shapes   ShapeEvaluator
	specs    ShapeSpecSource
	services *ServiceEngine
	logger   *slog.Logger
}

// NewCalculator constructs a calculator.
func NewCalculator(catalog MaterialCatalog, shapes ShapeEvaluator, specs ShapeSpecSource, services *ServiceEngine, logger *slog.Logger) *Calculator {
	return &Calculator{catalog: catalog, shapes: shapes, specs: specs, services: services, logger: logger}
}

// Calculate computes cost figures for one item. It returns nil when the item
// has no well-formed component or when any lookup or evaluation fails;
// item-level calculation failure is non-fatal and merely logged.
func (c *Calculator) Calculate(ctx context.Context, item Item) *CostResult {
	if !item.HasComponent() {
		return nil
	}
	var result *CostResult
	var err error
	switch item.Component.Type {
	case ComponentBoughtOut:
		result, err = c.calculateBoughtOut(ctx, item)
	case ComponentShape:
		result, err = c.calculateShape(ctx, item)
	}
	if err != nil {
		if c.logger != nil {
			c.logger.Warn("item cost calculation failed",
				slog.String("item_id", item.ID),
				slog.String("item_number", item.ItemNumber),
				slog.Any("error", err))
		}
		return nil
	}
	return result
}

func (c *Calculator) calculateBoughtOut(ctx context.Context, item Item) (*CostResult, error) {
	price, err := c.catalog.CurrentPrice(ctx, item.Component.MaterialID)
	if err != nil {
		return nil, fmt.Errorf("material %s: %w", item.Component.MaterialID, err)
	}
	if price.Currency == "" {
		price.Currency = DefaultCurrency
	}
	// Bought-out items have no fabrication cost and no computed weight.
	cost := ItemCost{
		MaterialCostPerUnit:    price,
		TotalMaterialCost:      Money{Amount: price.Amount * item.Quantity, Currency: price.Currency},
		FabricationCostPerUnit: Money{Currency: price.Currency},
		TotalFabricationCost:   Money{Currency: price.Currency},
	}
	svc, err := c.services.CalculateAll(ctx, item.Services, CostBasis{
		MaterialCost:  price.Amount,
		Quantity:      item.Quantity,
		Currency:      price.Currency,
		Category:      item.Category,
		ComponentType: ComponentBoughtOut,
	})
	if err != nil {
		return nil, err
	}
	applyServiceCosts(&cost, svc)
	return &CostResult{Calculated: CalculatedProperties{}, Cost: cost}, nil
}

func (c *Calculator) calculateShape(ctx context.Context, item Item) (*CostResult, error) {
	estimate, err := c.shapes.Evaluate(ctx, item.Component.ShapeID, item.Component.MaterialID, item.Component.Parameters, item.Quantity)
	if err != nil {
		return nil, fmt.Errorf("shape %s: %w", item.Component.ShapeID, err)
	}
	currency := estimate.Currency
	if currency == "" {
		currency = DefaultCurrency
	}
	cost := ItemCost{
		MaterialCostPerUnit:    Money{Amount: estimate.MaterialCostPerUnit, Currency: currency},
		TotalMaterialCost:      Money{Amount: estimate.MaterialCostPerUnit * item.Quantity, Currency: currency},
		FabricationCostPerUnit: Money{Amount: estimate.FabricationCostPerUnit, Currency: currency},
		TotalFabricationCost:   Money{Amount: estimate.FabricationCostPerUnit * item.Quantity, Currency: currency},
	}
	svc, err := c.services.CalculateAll(ctx, item.Services, CostBasis{
		MaterialCost:    estimate.MaterialCostPerUnit,
		FabricationCost: estimate.FabricationCostPerUnit,
		Quantity:        item.Quantity,
		Currency:        currency,
		Category:        item.Category,
		ComponentType:   ComponentShape,
	})
	if err != nil {
		return nil, err
	}
	applyServiceCosts(&cost, svc)
	return &CostResult{
		Calculated: CalculatedProperties{
			WeightPerUnit: estimate.WeightPerUnit,
			TotalWeight:   estimate.WeightPerUnit * item.Quantity,
		},
		Cost: cost,
	}, nil
}

func applyServiceCosts(cost *ItemCost, svc ServiceCostResult) {
	cost.ServiceCostPerUnit = Money{Amount: svc.ServiceCostPerUnit, Currency: svc.Currency}
	cost.TotalServiceCost = Money{Amount: svc.TotalServiceCost, Currency: svc.Currency}
	if len(svc.Breakdown) > 0 {
		cost.ServiceBreakdown = svc.Breakdown
	}
}

// calcParallelism bounds concurrent item calculations in CalculateAllItemCosts.
const calcParallelism = 8

// CalculateAllItemCosts runs the single-item path for every item
// independently. One failing item does not affect the others; failed items
// are simply absent from the result map.
func (c *Calculator) CalculateAllItemCosts(ctx context.Context, items []Item) map[string]*CostResult {
	results := make(map[string]*CostResult, len(items))
	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(calcParallelism)
	for _, item := range items {
		g.Go(func() error {
			if result := c.Calculate(ctx, item); result != nil {
				mu.Lock()
				results[item.ID] = result
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// ValidationResult reports shape parameter validation.
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

// ValidateShapeParameters checks supplied values against the shape's declared
// parameter specs. Values for undeclared parameters are ignored.
func (c *Calculator) ValidateShapeParameters(ctx context.Context, shapeID string, values map[string]float64) ValidationResult {
	specs, err := c.specs.ParameterSpecs(ctx, shapeID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ValidationResult{Valid: false, Errors: []string{"Shape not found"}}
		}
		if c.logger != nil {
			c.logger.Warn("shape parameter lookup failed", slog.String("shape_id", shapeID), slog.Any("error", err))
		}
		return ValidationResult{Valid: false, Errors: []string{"Validation error occurred"}}
	}
	var errs []string
	for _, spec := range specs {
		value, present := values[spec.Key]
		if !present {
			if spec.Required {
				errs = append(errs, fmt.Sprintf("Required parameter '%s' is missing", spec.Label))
			}
			continue
		}
		if spec.MinValue != nil && value < *spec.MinValue {
			errs = append(errs, fmt.Sprintf("Parameter '%s' is below minimum value (%g)", spec.Label, *spec.MinValue))
		}
		if spec.MaxValue != nil && value > *spec.MaxValue {
			errs = append(errs, fmt.Sprintf("Parameter '%s' exceeds maximum value (%g)", spec.Label, *spec.MaxValue))
		}
	}
	return ValidationResult{Valid: len(errs) == 0, Errors: errs}
}
