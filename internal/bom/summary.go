package bom

import (
	"time"

	"github.com/fabrica-erp/fabrica/internal/costconfig"
)

// BuildSummary folds the current items and the active cost configuration into
// a BOM summary. The cascade order is load-bearing: overhead on its selected
// base, contingency on direct+overhead, profit on direct+overhead+contingency.
// A nil configuration yields direct cost only. The function is pure; calling
// it twice on the same inputs produces identical summaries.
func BuildSummary(items []Item, cfg *costconfig.Configuration, now time.Time) Summary {
	summary := Summary{
		Currency:         DefaultCurrency,
		ServiceBreakdown: map[string]Money{},
		ItemCount:        len(items),
		LastCalculated:   now,
	}

	// Currency follows the first item with a recorded material cost; mixed
	// currencies are not reconciled.
	for _, item := range items {
		if item.Cost != nil && item.Cost.TotalMaterialCost.Currency != "" {
			summary.Currency = item.Cost.TotalMaterialCost.Currency
			break
		}
	}

	var material, fabrication, service float64
	for _, item := range items {
		if item.Calculated != nil {
			summary.TotalWeight += item.Calculated.TotalWeight
		}
		if item.Cost == nil {
			continue
		}
		material += item.Cost.TotalMaterialCost.Amount
		fabrication += item.Cost.TotalFabricationCost.Amount
		service += item.Cost.TotalServiceCost.Amount
		MergeBreakdown(summary.ServiceBreakdown, item.Cost.ServiceBreakdown)
	}

	money := func(amount float64) Money { return Money{Amount: amount, Currency: summary.Currency} }
	direct := material + fabrication + service
	summary.TotalMaterialCost = money(material)
	summary.TotalFabricationCost = money(fabrication)
	summary.TotalServiceCost = money(service)
	summary.TotalDirectCost = money(direct)

	if len(summary.ServiceBreakdown) == 0 {
		summary.ServiceBreakdown = nil
	}

	if cfg == nil {
		summary.Overhead = money(0)
		summary.Contingency = money(0)
		summary.Profit = money(0)
		summary.TotalCost = money(direct)
		return summary
	}

	summary.CostConfigID = cfg.ID

	var overhead float64
	if cfg.Overhead.Enabled && cfg.Overhead.RatePercent > 0 {
		base := direct
		switch cfg.Overhead.ApplicableTo {
		case costconfig.BaseMaterial:
			base = material
		case costconfig.BaseFabrication:
			base = fabrication
		case costconfig.BaseService:
			base = service
		}
		overhead = base * cfg.Overhead.RatePercent / 100
	}

	var contingency float64
	if cfg.Contingency.Enabled && cfg.Contingency.RatePercent > 0 {
		contingency = (direct + overhead) * cfg.Contingency.RatePercent / 100
	}

	var profit float64
	if cfg.Profit.Enabled && cfg.Profit.RatePercent > 0 {
		profit = (direct + overhead + contingency) * cfg.Profit.RatePercent / 100
	}

	summary.Overhead = money(overhead)
	summary.Contingency = money(contingency)
	summary.Profit = money(profit)
	summary.TotalCost = money(direct + overhead + contingency + profit)
	return summary
}
