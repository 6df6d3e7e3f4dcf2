package bom

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type stubCatalog struct {
	prices map[string]Money
}

func (s *stubCatalog) CurrentPrice(ctx context.Context, materialID string) (Money, error) {
	price, ok := s.prices[materialID]
	if !ok {
		return Money{}, ErrNotFound
	}
	return price, nil
}

type stubShapes struct {
	estimates map[string]ShapeEstimate
}

func (s *stubShapes) Evaluate(ctx context.Context, shapeID, materialID string, params map[string]float64, quantity float64) (ShapeEstimate, error) {
	est, ok := s.estimates[shapeID]
	if !ok {
		return ShapeEstimate{}, ErrNotFound
	}
	return est, nil
}

type stubSpecs struct {
	specs map[string][]ParameterSpec
	err   error
}

func (s *stubSpecs) ParameterSpecs(ctx context.Context, shapeID string) ([]ParameterSpec, error) {
	if s.err != nil {
		return nil, s.err
	}
	specs, ok := s.specs[shapeID]
	if !ok {
		return nil, ErrNotFound
	}
	return specs, nil
}

func newTestCalculator() *Calculator {
	catalog := &stubCatalog{prices: map[string]Money{
		"ms-plate": {Amount: 100, Currency: "INR"},
	}}
	shapes := &stubShapes{estimates: map[string]ShapeEstimate{
		"plate": {WeightPerUnit: 3.93, MaterialCostPerUnit: 150, FabricationCostPerUnit: 75, Currency: "INR"},
	}}
	engine := NewServiceEngine(&stubRegistry{defs: map[string]ServiceDefinition{
		"paint": {ID: "paint", Name: "Painting", Method: MethodPercentageOfMaterial, Rate: 10},
	}}, nil)
	return NewCalculator(catalog, shapes, &stubSpecs{}, engine, nil)
}

func TestCalculateBoughtOut(t *testing.T) {
	calc := newTestCalculator()
	item := Item{
		ID:        "i1",
		Quantity:  5,
		Component: &Component{Type: ComponentBoughtOut, MaterialID: "ms-plate"},
	}
	result := calc.Calculate(context.Background(), item)
	require.NotNil(t, result)
	require.InDelta(t, 100.0, result.Cost.MaterialCostPerUnit.Amount, 1e-9)
	require.InDelta(t, 500.0, result.Cost.TotalMaterialCost.Amount, 1e-9)
	require.Zero(t, result.Cost.TotalFabricationCost.Amount)
	require.Zero(t, result.Calculated.TotalWeight)
	require.Equal(t, "INR", result.Cost.TotalMaterialCost.Currency)
}

func TestCalculateShape(t *testing.T) {
	calc := newTestCalculator()
	item := Item{
		ID:       "i2",
		Quantity: 2,
		Component: &Component{
			Type:       ComponentShape,
			ShapeID:    "plate",
			MaterialID: "ms-plate",
			Parameters: map[string]float64{"length": 1, "width": 0.5, "thickness": 0.01},
		},
	}
	result := calc.Calculate(context.Background(), item)
	require.NotNil(t, result)
	require.InDelta(t, 3.93, result.Calculated.WeightPerUnit, 1e-9)
	require.InDelta(t, 7.86, result.Calculated.TotalWeight, 1e-9)
	require.InDelta(t, 300.0, result.Cost.TotalMaterialCost.Amount, 1e-9)
	require.InDelta(t, 150.0, result.Cost.TotalFabricationCost.Amount, 1e-9)
}

func TestCalculateShapeIncludesServices(t *testing.T) {
	calc := newTestCalculator()
	item := Item{
		ID:        "i3",
		Quantity:  2,
		Services:  []AttachedService{{ServiceID: "paint"}},
		Component: &Component{Type: ComponentShape, ShapeID: "plate", MaterialID: "ms-plate"},
	}
	result := calc.Calculate(context.Background(), item)
	require.NotNil(t, result)
	require.InDelta(t, 15.0, result.Cost.ServiceCostPerUnit.Amount, 1e-9)
	require.InDelta(t, 30.0, result.Cost.TotalServiceCost.Amount, 1e-9)
	require.Len(t, result.Cost.ServiceBreakdown, 1)
}

func TestCalculateWithoutComponentIsNil(t *testing.T) {
	calc := newTestCalculator()
	require.Nil(t, calc.Calculate(context.Background(), Item{ID: "i4", Quantity: 1}))
	require.Nil(t, calc.Calculate(context.Background(), Item{
		ID: "i5", Quantity: 1, Component: &Component{Type: ComponentShape, MaterialID: "ms-plate"},
	}))
}

func TestCalculateLookupFailureIsNil(t *testing.T) {
	calc := newTestCalculator()
	result := calc.Calculate(context.Background(), Item{
		ID: "i6", Quantity: 1,
		Component: &Component{Type: ComponentBoughtOut, MaterialID: "missing"},
	})
	require.Nil(t, result)
}

func TestCalculateAllItemCostsPartialFailure(t *testing.T) {
	calc := newTestCalculator()
	items := []Item{
		{ID: "ok", Quantity: 1, Component: &Component{Type: ComponentBoughtOut, MaterialID: "ms-plate"}},
		{ID: "bad", Quantity: 1, Component: &Component{Type: ComponentBoughtOut, MaterialID: "missing"}},
		{ID: "none", Quantity: 1},
	}
	results := calc.CalculateAllItemCosts(context.Background(), items)
	require.Len(t, results, 1)
	require.Contains(t, results, "ok")
}

func TestValidateShapeParameters(t *testing.T) {
	minVal := 0.1
	maxVal := 100.0
	specs := &stubSpecs{specs: map[string][]ParameterSpec{
		"plate": {
			{Key: "length", Label: "Length", Required: true, MinValue: &minVal, MaxValue: &maxVal},
			{Key: "width", Label: "Width", Required: true},
			{Key: "notch", Label: "Notch"},
		},
	}}
	calc := NewCalculator(nil, nil, specs, nil, nil)
	ctx := context.Background()

	result := calc.ValidateShapeParameters(ctx, "plate", map[string]float64{"length": 2, "width": 1})
	require.True(t, result.Valid)
	require.Empty(t, result.Errors)

	result = calc.ValidateShapeParameters(ctx, "plate", map[string]float64{"length": 2})
	require.False(t, result.Valid)
	require.Contains(t, result.Errors, "Required parameter 'Width' is missing")

	result = calc.ValidateShapeParameters(ctx, "plate", map[string]float64{"length": 0.05, "width": 1})
	require.False(t, result.Valid)
	require.Contains(t, result.Errors, "Parameter 'Length' is below minimum value (0.1)")

	result = calc.ValidateShapeParameters(ctx, "plate", map[string]float64{"length": 500, "width": 1})
	require.False(t, result.Valid)
	require.Contains(t, result.Errors, "Parameter 'Length' exceeds maximum value (100)")

	result = calc.ValidateShapeParameters(ctx, "unknown", nil)
	require.False(t, result.Valid)
	require.Equal(t, []string{"Shape not found"}, result.Errors)

	calc = NewCalculator(nil, nil, &stubSpecs{err: errors.New("connection reset")}, nil, nil)
	result = calc.ValidateShapeParameters(ctx, "plate", nil)
	require.False(t, result.Valid)
	require.Equal(t, []string{"Validation error occurred"}, result.Errors)
}
