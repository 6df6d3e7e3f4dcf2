package bom

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fabrica-erp/fabrica/internal/costconfig"
)

func summaryFixtureItems() []Item {
	money := func(v float64) Money { return Money{Amount: v, Currency: "INR"} }
	return []Item{
		{
			ID:         "i1",
			Calculated: &CalculatedProperties{TotalWeight: 120},
			Cost: &ItemCost{
				TotalMaterialCost:    money(20000),
				TotalFabricationCost: money(16000),
				TotalServiceCost:     money(4000),
				ServiceBreakdown: map[string]ServiceCostEntry{
					"paint": {ServiceID: "paint", TotalCost: money(4000)},
				},
			},
		},
		{
			ID:         "i2",
			Calculated: &CalculatedProperties{TotalWeight: 80},
			Cost: &ItemCost{
				TotalMaterialCost:    money(10000),
				TotalFabricationCost: money(8000),
				TotalServiceCost:     money(2500),
				ServiceBreakdown: map[string]ServiceCostEntry{
					"paint": {ServiceID: "paint", TotalCost: money(2500)},
				},
			},
		},
		{ID: "i3"},
	}
}

func cascadeConfig() *costconfig.Configuration {
	return &costconfig.Configuration{
		ID:          "cfg-1",
		Overhead:    costconfig.OverheadPolicy{Enabled: true, RatePercent: 10, ApplicableTo: costconfig.BaseAll},
		Contingency: costconfig.MarginPolicy{Enabled: true, RatePercent: 5},
		Profit:      costconfig.MarginPolicy{Enabled: true, RatePercent: 15},
	}
}

func TestBuildSummaryCascade(t *testing.T) {
	summary := BuildSummary(summaryFixtureItems(), cascadeConfig(), time.Now())

	require.InDelta(t, 200.0, summary.TotalWeight, 1e-9)
	require.InDelta(t, 30000.0, summary.TotalMaterialCost.Amount, 1e-9)
	require.InDelta(t, 24000.0, summary.TotalFabricationCost.Amount, 1e-9)
	require.InDelta(t, 6500.0, summary.TotalServiceCost.Amount, 1e-9)
	require.InDelta(t, 60500.0, summary.TotalDirectCost.Amount, 1e-9)

	require.InDelta(t, 6050.0, summary.Overhead.Amount, 1e-9)
	require.InDelta(t, 3327.5, summary.Contingency.Amount, 1e-9)
	require.InDelta(t, 10481.625, summary.Profit.Amount, 1e-9)
	require.InDelta(t, 80359.125, summary.TotalCost.Amount, 1e-9)

	require.Equal(t, "cfg-1", summary.CostConfigID)
	require.Equal(t, "INR", summary.Currency)
	require.Equal(t, 3, summary.ItemCount)
	require.InDelta(t, 6500.0, summary.ServiceBreakdown["paint"].Amount, 1e-9)
}

func TestBuildSummaryOverheadBases(t *testing.T) {
	items := summaryFixtureItems()
	cfg := cascadeConfig()
	cfg.Contingency.Enabled = false
	cfg.Profit.Enabled = false

	cfg.Overhead.ApplicableTo = costconfig.BaseMaterial
	require.InDelta(t, 3000.0, BuildSummary(items, cfg, time.Now()).Overhead.Amount, 1e-9)

	cfg.Overhead.ApplicableTo = costconfig.BaseFabrication
	require.InDelta(t, 2400.0, BuildSummary(items, cfg, time.Now()).Overhead.Amount, 1e-9)

	cfg.Overhead.ApplicableTo = costconfig.BaseService
	require.InDelta(t, 650.0, BuildSummary(items, cfg, time.Now()).Overhead.Amount, 1e-9)
}

func TestBuildSummaryWithoutConfig(t *testing.T) {
	summary := BuildSummary(summaryFixtureItems(), nil, time.Now())

	require.InDelta(t, 60500.0, summary.TotalDirectCost.Amount, 1e-9)
	require.Zero(t, summary.Overhead.Amount)
	require.Zero(t, summary.Contingency.Amount)
	require.Zero(t, summary.Profit.Amount)
	require.InDelta(t, 60500.0, summary.TotalCost.Amount, 1e-9)
	require.Empty(t, summary.CostConfigID)
}

func TestBuildSummaryIdempotent(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	first := BuildSummary(summaryFixtureItems(), cascadeConfig(), at)
	second := BuildSummary(summaryFixtureItems(), cascadeConfig(), at)
	require.Equal(t, first, second)
}

func TestBuildSummaryEmptyItems(t *testing.T) {
	summary := BuildSummary(nil, cascadeConfig(), time.Now())
	require.Zero(t, summary.TotalDirectCost.Amount)
	require.Zero(t, summary.TotalCost.Amount)
	require.Equal(t, DefaultCurrency, summary.Currency)
	require.Zero(t, summary.ItemCount)
	require.Nil(t, summary.ServiceBreakdown)
}
