package budget

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestRecordUsagePricesKnownModel(t *testing.T) {
	tr := NewCostTracker(1.0, zap.NewNop())
	cost := tr.RecordUsage(0, "claude-3-haiku", 1000, 1000)
	assert.InDelta(t, 0.00025+0.00125, cost, 1e-9)
	assert.InDelta(t, cost, tr.TotalCostUSD(), 1e-9)
	assert.InDelta(t, cost, tr.StageCostUSD(0), 1e-9)
}

func TestRecordUsageUnknownModelFallsBack(t *testing.T) {
	tr := NewCostTracker(1.0, zap.NewNop())
	cost := tr.RecordUsage(2, "mystery-model", 500, 500)
	assert.InDelta(t, 1000*defaultPricePerToken, cost, 1e-12)
}

func TestExceeded(t *testing.T) {
	tr := NewCostTracker(0.01, zap.NewNop())
	assert.False(t, tr.Exceeded())

	tr.AddCost(0, 0.02)
	assert.True(t, tr.Exceeded())
}

func TestZeroBudgetDisablesEnforcement(t *testing.T) {
	tr := NewCostTracker(0, zap.NewNop())
	tr.AddCost(0, 100)
	assert.False(t, tr.Exceeded())
}

func TestRestoreNeverLowersSpend(t *testing.T) {
	tr := NewCostTracker(1.0, zap.NewNop())
	tr.AddCost(0, 0.5)
	tr.Restore(0.2)
	assert.InDelta(t, 0.5, tr.TotalCostUSD(), 1e-9)

	tr.Restore(0.8)
	assert.InDelta(t, 0.8, tr.TotalCostUSD(), 1e-9)
}
