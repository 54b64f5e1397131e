package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultAgentConfigIsValid(t *testing.T) {
	cfg := DefaultAgentConfig("isa-research")
	require.NoError(t, cfg.Validate())
	assert.Len(t, cfg.Stages, 6)

	unit, ok := cfg.RepairUnitForVerifier(4)
	require.True(t, ok)
	assert.Equal(t, 3, unit.Producer())
	assert.Equal(t, "feedback", unit.FeedbackField)

	_, ok = cfg.RepairUnitForVerifier(2)
	assert.False(t, ok)
}

func TestValidateRejectsNonContiguousStageIDs(t *testing.T) {
	cfg := DefaultAgentConfig("isa-research")
	cfg.Stages[2].ID = 7
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "contiguous")
}

func TestValidateRejectsDanglingReferences(t *testing.T) {
	cfg := DefaultAgentConfig("isa-research")
	cfg.PauseAfterStages = []int{9}
	assert.Error(t, cfg.Validate())

	cfg = DefaultAgentConfig("isa-research")
	cfg.RepairUnits = []RepairUnit{{Stages: []int{3, 9}, MaxIterations: 1}}
	assert.Error(t, cfg.Validate())

	cfg = DefaultAgentConfig("isa-research")
	cfg.RepairUnits = []RepairUnit{{Stages: []int{4, 3}, MaxIterations: 1}}
	assert.Error(t, cfg.Validate())
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.yaml")
	yaml := `
slug: isa-research
stages:
  - id: 0
    name: analyze
  - id: 1
    name: synthesize
repair_units:
  - stages: [0, 1]
    max_iterations: 2
orchestrator:
  model: claude-3-haiku
  budget_usd: 0.5
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "isa-research", cfg.Slug)
	assert.Equal(t, "claude-3-haiku", cfg.Orchestrator.Model)
	assert.InDelta(t, 0.5, cfg.Orchestrator.BudgetUSD, 1e-9)
	// Defaults applied on load.
	assert.Equal(t, "feedback", cfg.RepairUnits[0].FeedbackField)
	assert.Equal(t, 8192, cfg.Orchestrator.MaxTokensPerStage)
}

func TestLoadMissingFileIsError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestRenderConfigMerging(t *testing.T) {
	base := DefaultRenderConfig()
	merged := base.Merged(&RenderConfig{Title: "ISA Deep Dive", HighThreshold: 0.9})
	assert.Equal(t, "ISA Deep Dive", merged.Title)
	assert.InDelta(t, 0.9, merged.HighThreshold, 1e-9)
	// Untouched fields keep defaults.
	assert.Equal(t, base.CitationPattern, merged.CitationPattern)
	assert.InDelta(t, base.MediumThreshold, merged.MediumThreshold, 1e-9)

	assert.Equal(t, base, base.Merged(nil))
}

func TestWriteExampleRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.yaml")
	require.NoError(t, WriteExample(path, "isa-research"))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "isa-research", cfg.Slug)
	assert.Len(t, cfg.Stages, 6)
	assert.Equal(t, []int{0}, cfg.PauseAfterStages)
	require.Len(t, cfg.RepairUnits, 1)
	assert.Equal(t, 3, cfg.RepairUnits[0].Producer())
	assert.Equal(t, 4, cfg.RepairUnits[0].Verifier())
}
