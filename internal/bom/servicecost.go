package bom

import (
	"context"
	"log/slog"
	"slices"
)

// CostBasis is the per-item input to service cost calculation.
type CostBasis struct {
	MaterialCost    float64
	FabricationCost float64
	Quantity        float64
	Currency        string
	Category        string
	ComponentType   ComponentType
}

// ServiceCostEntry is one service's contribution on an item.
type ServiceCostEntry struct {
	ServiceID    string     `json:"serviceId"`
	Name         string     `json:"name"`
	Method       CalcMethod `json:"method"`
	CostPerUnit  Money      `json:"costPerUnit"`
	TotalCost    Money      `json:"totalCost"`
	IsOverridden bool       `json:"isOverridden,omitempty"`
}

// ServiceCostResult aggregates all applicable services of an item.
type ServiceCostResult struct {
	ServiceCostPerUnit float64
	TotalServiceCost   float64
	Currency           string
	Breakdown          map[string]ServiceCostEntry
}

// ServiceEngine computes service costs from attached services and a cost basis.
type ServiceEngine struct {
	registry ServiceRegistry
	logger   *slog.Logger
}

// NewServiceEngine constructs the engine.
func NewServiceEngine(registry ServiceRegistry, logger *slog.Logger) *ServiceEngine {
	return &ServiceEngine{registry: registry, logger: logger}
}

// CalculateAll resolves every attached service, filters by applicability and
// sums per-unit contributions. The total is the per-unit sum scaled by the
// basis quantity. A malformed custom formula aborts the calculation; it is
// never silently treated as zero.
func (e *ServiceEngine) CalculateAll(ctx context.Context, services []AttachedService, basis CostBasis) (ServiceCostResult, error) {
	result := ServiceCostResult{Currency: basis.Currency, Breakdown: map[string]ServiceCostEntry{}}
	if result.Currency == "" {
		result.Currency = DefaultCurrency
	}
	if len(services) == 0 {
		return result, nil
	}

	ids := make([]string, 0, len(services))
	for _, svc := range services {
		ids = append(ids, svc.ServiceID)
	}
	defs, err := e.registry.Resolve(ctx, ids)
	if err != nil {
		return ServiceCostResult{}, err
	}

	for _, attached := range services {
		def, ok := defs[attached.ServiceID]
		if !ok {
			if e.logger != nil {
				e.logger.Warn("unknown service skipped", slog.String("service_id", attached.ServiceID))
			}
			continue
		}
		if !serviceApplies(def, basis) {
			continue
		}
		if !knownMethod(def.Method) {
			if e.logger != nil {
				e.logger.Warn("unrecognized calculation method skipped",
					slog.String("service_id", def.ID),
					slog.String("method", string(def.Method)))
			}
			continue
		}
		rate := def.Rate
		overridden := false
		currency := def.Currency
		if attached.RateOverride != nil {
			rate = attached.RateOverride.Amount
			overridden = true
			if attached.RateOverride.Currency != "" {
				currency = attached.RateOverride.Currency
			}
		}
		if currency == "" {
			currency = result.Currency
		}

		perUnit, err := costPerUnit(def, rate, basis)
		if err != nil {
			return ServiceCostResult{}, err
		}
		total := perUnit * basis.Quantity
		result.ServiceCostPerUnit += perUnit
		result.TotalServiceCost += total
		result.Breakdown[def.ID] = ServiceCostEntry{
			ServiceID:    def.ID,
			Name:         def.Name,
			Method:       def.Method,
			CostPerUnit:  Money{Amount: perUnit, Currency: currency},
			TotalCost:    Money{Amount: total, Currency: currency},
			IsOverridden: overridden,
		}
	}
	return result, nil
}

// costPerUnit applies the service's calculation method. FIXED_AMOUNT and
// RATE_PER_UNIT are numerically identical at this level; both get scaled by
// quantity in the item total.
func costPerUnit(def ServiceDefinition, rate float64, basis CostBasis) (float64, error) {
	switch def.Method {
	case MethodPercentageOfMaterial:
		return basis.MaterialCost * rate / 100, nil
	case MethodPercentageOfTotal:
		return (basis.MaterialCost + basis.FabricationCost) * rate / 100, nil
	case MethodFixedAmount, MethodRatePerUnit:
		return rate, nil
	case MethodCustomFormula:
		return EvaluateFormula(def.Formula, map[string]float64{
			"materialCost":    basis.MaterialCost,
			"fabricationCost": basis.FabricationCost,
			"quantity":        basis.Quantity,
			"total":           basis.MaterialCost + basis.FabricationCost,
		})
	default:
		return 0, nil
	}
}

func knownMethod(m CalcMethod) bool {
	switch m {
	case MethodPercentageOfMaterial, MethodPercentageOfTotal,
		MethodFixedAmount, MethodRatePerUnit, MethodCustomFormula:
		return true
	}
	return false
}

// serviceApplies checks the service's declared applicability sets. Empty sets
// mean no restriction.
func serviceApplies(def ServiceDefinition, basis CostBasis) bool {
	if len(def.AppliesToCategories) > 0 && !slices.Contains(def.AppliesToCategories, basis.Category) {
		return false
	}
	if len(def.AppliesToComponents) > 0 && !slices.Contains(def.AppliesToComponents, basis.ComponentType) {
		return false
	}
	return true
}

// MergeBreakdown folds one item's service breakdown into a BOM-level
// per-service total map keyed by service id.
func MergeBreakdown(into map[string]Money, breakdown map[string]ServiceCostEntry) {
	for id, entry := range breakdown {
		into[id] = into[id].Add(entry.TotalCost)
	}
}
