package budget

import (
	"sync"

	"go.uber.org/zap"
)

// ModelPricing defines per-token costs for a model.
type ModelPricing struct {
	Provider        string  `json:"provider"`
	Model           string  `json:"model"`
	InputPricePerK  float64 `json:"input_price_per_k"`
	OutputPricePerK float64 `json:"output_price_per_k"`
}

// defaultPricePerToken is used when a model has no pricing entry.
const defaultPricePerToken = 0.000002

// CostTracker accumulates USD spend per stage against a fixed run budget.
// It never raises on overrun; the orchestrator checks Exceeded() before
// each stage invocation and performs the hard stop itself.
type CostTracker struct {
	mu        sync.Mutex
	logger    *zap.Logger
	budgetUSD float64
	spentUSD  float64
	perStage  map[int]float64
	pricing   map[string]ModelPricing
}

// NewCostTracker creates a tracker for one run. A budget of zero or less
// disables enforcement (Exceeded always reports false).
func NewCostTracker(budgetUSD float64, logger *zap.Logger) *CostTracker {
	return &CostTracker{
		logger:    logger,
		budgetUSD: budgetUSD,
		perStage:  make(map[int]float64),
		pricing:   defaultModelPricing(),
	}
}

func defaultModelPricing() map[string]ModelPricing {
	return map[string]ModelPricing{
		"gpt-4-turbo": {
			Provider: "openai", Model: "gpt-4-turbo",
			InputPricePerK: 0.01, OutputPricePerK: 0.03,
		},
		"gpt-4o-mini": {
			Provider: "openai", Model: "gpt-4o-mini",
			InputPricePerK: 0.00015, OutputPricePerK: 0.0006,
		},
		"claude-3-opus": {
			Provider: "anthropic", Model: "claude-3-opus",
			InputPricePerK: 0.015, OutputPricePerK: 0.075,
		},
		"claude-3-sonnet": {
			Provider: "anthropic", Model: "claude-3-sonnet",
			InputPricePerK: 0.003, OutputPricePerK: 0.015,
		},
		"claude-3-haiku": {
			Provider: "anthropic", Model: "claude-3-haiku",
			InputPricePerK: 0.00025, OutputPricePerK: 0.00125,
		},
		"deepseek-chat": {
			Provider: "deepseek", Model: "deepseek-chat",
			InputPricePerK: 0.0001, OutputPricePerK: 0.0002,
		},
	}
}

// SetPricing overrides the pricing entry for a model.
func (t *CostTracker) SetPricing(model string, p ModelPricing) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pricing[model] = p
}

// RecordUsage prices a model call and adds it to the stage's spend.
// Returns the cost that was recorded.
func (t *CostTracker) RecordUsage(stage int, model string, inputTokens, outputTokens int) float64 {
	cost := t.priceFor(model, inputTokens, outputTokens)
	t.AddCost(stage, cost)
	return cost
}

func (t *CostTracker) priceFor(model string, inputTokens, outputTokens int) float64 {
	t.mu.Lock()
	p, ok := t.pricing[model]
	t.mu.Unlock()
	if !ok {
		return float64(inputTokens+outputTokens) * defaultPricePerToken
	}
	return (float64(inputTokens)/1000)*p.InputPricePerK +
		(float64(outputTokens)/1000)*p.OutputPricePerK
}

// AddCost records an already-priced cost against a stage.
func (t *CostTracker) AddCost(stage int, costUSD float64) {
	if costUSD <= 0 {
		return
	}
	t.mu.Lock()
	t.spentUSD += costUSD
	t.perStage[stage] += costUSD
	spent := t.spentUSD
	t.mu.Unlock()

	t.logger.Debug("Recorded stage cost",
		zap.Int("stage", stage),
		zap.Float64("cost_usd", costUSD),
		zap.Float64("total_usd", spent),
	)
}

// Restore seeds the tracker with spend reconstructed from a resumed
// run's event log, so resuming never under-counts.
func (t *CostTracker) Restore(spentUSD float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if spentUSD > t.spentUSD {
		t.spentUSD = spentUSD
	}
}

// Exceeded reports whether accumulated spend has reached the budget.
func (t *CostTracker) Exceeded() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.budgetUSD > 0 && t.spentUSD >= t.budgetUSD
}

// TotalCostUSD returns the accumulated spend.
func (t *CostTracker) TotalCostUSD() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.spentUSD
}

// StageCostUSD returns the spend recorded for one stage.
func (t *CostTracker) StageCostUSD(stage int) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.perStage[stage]
}

// BudgetUSD returns the configured budget.
func (t *CostTracker) BudgetUSD() float64 {
	return t.budgetUSD
}
