// Package config holds the agent pipeline configuration and its
// validation rules. Agent definitions are authored in YAML and loaded
// through viper so file values can be overridden from the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/verityaudit/deepresearch/internal/toolbridge"
)

// StageConfig declares one pipeline stage.
type StageConfig struct {
	ID                int    `json:"id" yaml:"id" mapstructure:"id"`
	Name              string `json:"name" yaml:"name" mapstructure:"name"`
	Description       string `json:"description,omitempty" yaml:"description" mapstructure:"description"`
	PauseInstructions string `json:"pause_instructions,omitempty" yaml:"pause_instructions" mapstructure:"pause_instructions"`
}

// RepairUnit pairs a producer stage with a verifier stage and bounds the
// retry loop between them.
type RepairUnit struct {
	Stages        []int  `json:"stages" yaml:"stages" mapstructure:"stages"` // [producer, verifier]
	MaxIterations int    `json:"max_iterations" yaml:"max_iterations" mapstructure:"max_iterations"`
	FeedbackField string `json:"feedback_field,omitempty" yaml:"feedback_field" mapstructure:"feedback_field"`
}

// Producer returns the producer stage id.
func (r RepairUnit) Producer() int { return r.Stages[0] }

// Verifier returns the verifier stage id.
func (r RepairUnit) Verifier() int { return r.Stages[1] }

// OrchestratorConfig tunes the control loop and model usage.
type OrchestratorConfig struct {
	Model             string  `json:"model" yaml:"model" mapstructure:"model"`
	BudgetUSD         float64 `json:"budget_usd" yaml:"budget_usd" mapstructure:"budget_usd"`
	Effort            string  `json:"effort,omitempty" yaml:"effort" mapstructure:"effort"`
	ContextWindow     int     `json:"context_window,omitempty" yaml:"context_window" mapstructure:"context_window"`
	MaxTokensPerStage int     `json:"max_tokens_per_stage,omitempty" yaml:"max_tokens_per_stage" mapstructure:"max_tokens_per_stage"`
	RequestsPerMinute int     `json:"requests_per_minute,omitempty" yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// OutputConfig locates the final document.
type OutputConfig struct {
	Dir string `json:"dir,omitempty" yaml:"dir" mapstructure:"dir"`
}

// FollowUpConfig enables follow-up runs chained to a prior session.
type FollowUpConfig struct {
	Enabled        bool `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	DeltaRetrieval bool `json:"delta_retrieval" yaml:"delta_retrieval" mapstructure:"delta_retrieval"`
}

// AgentConfig is the full definition of one research agent.
type AgentConfig struct {
	Slug             string                     `json:"slug" yaml:"slug" mapstructure:"slug"`
	Stages           []StageConfig              `json:"stages" yaml:"stages" mapstructure:"stages"`
	PauseAfterStages []int                      `json:"pause_after_stages,omitempty" yaml:"pause_after_stages" mapstructure:"pause_after_stages"`
	RepairUnits      []RepairUnit               `json:"repair_units,omitempty" yaml:"repair_units" mapstructure:"repair_units"`
	Output           OutputConfig               `json:"output" yaml:"output" mapstructure:"output"`
	Orchestrator     OrchestratorConfig         `json:"orchestrator" yaml:"orchestrator" mapstructure:"orchestrator"`
	FollowUp         *FollowUpConfig            `json:"follow_up,omitempty" yaml:"follow_up" mapstructure:"follow_up"`
	Render           *RenderConfig              `json:"render,omitempty" yaml:"render" mapstructure:"render"`
	Transport        *toolbridge.TransportConfig `json:"transport,omitempty" yaml:"transport" mapstructure:"transport"`
}

// Validate enforces the structural invariants the orchestrator relies
// on: contiguous stage ids from zero, and repair/pause references that
// resolve to declared stages.
func (c *AgentConfig) Validate() error {
	if c.Slug == "" {
		return fmt.Errorf("agent slug is required")
	}
	if len(c.Stages) == 0 {
		return fmt.Errorf("agent %q declares no stages", c.Slug)
	}
	for i, s := range c.Stages {
		if s.ID != i {
			return fmt.Errorf("stage ids must be contiguous from 0: position %d has id %d", i, s.ID)
		}
		if s.Name == "" {
			return fmt.Errorf("stage %d has no name", s.ID)
		}
	}
	max := len(c.Stages) - 1
	for _, id := range c.PauseAfterStages {
		if id < 0 || id > max {
			return fmt.Errorf("pause_after_stages references undeclared stage %d", id)
		}
	}
	for i, unit := range c.RepairUnits {
		if len(unit.Stages) != 2 {
			return fmt.Errorf("repair unit %d must name exactly [producer, verifier]", i)
		}
		for _, id := range unit.Stages {
			if id < 0 || id > max {
				return fmt.Errorf("repair unit %d references undeclared stage %d", i, id)
			}
		}
		if unit.Producer() >= unit.Verifier() {
			return fmt.Errorf("repair unit %d: producer %d must precede verifier %d", i, unit.Producer(), unit.Verifier())
		}
		if unit.MaxIterations < 0 {
			return fmt.Errorf("repair unit %d: max_iterations must not be negative", i)
		}
	}
	return nil
}

// RepairUnitForVerifier returns the repair unit whose verifier is
// stageID, if one is configured.
func (c *AgentConfig) RepairUnitForVerifier(stageID int) (RepairUnit, bool) {
	for _, unit := range c.RepairUnits {
		if unit.Verifier() == stageID {
			return unit, true
		}
	}
	return RepairUnit{}, false
}

// WriteExample writes the stock agent definition to path as a YAML
// starting point for a custom agent.
func WriteExample(path, slug string) error {
	data, err := yaml.Marshal(DefaultAgentConfig(slug))
	if err != nil {
		return fmt.Errorf("marshal agent config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write agent config: %w", err)
	}
	return nil
}

// Load reads an agent definition from path (or AGENT_CONFIG_PATH when
// path is empty) and validates it.
func Load(path string) (*AgentConfig, error) {
	if path == "" {
		path = os.Getenv("AGENT_CONFIG_PATH")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read agent config: %w", err)
	}
	var cfg AgentConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal agent config: %w", err)
	}
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *AgentConfig) {
	for i := range cfg.RepairUnits {
		if cfg.RepairUnits[i].FeedbackField == "" {
			cfg.RepairUnits[i].FeedbackField = "feedback"
		}
	}
	if cfg.Orchestrator.MaxTokensPerStage == 0 {
		cfg.Orchestrator.MaxTokensPerStage = 8192
	}
	if cfg.Orchestrator.RequestsPerMinute == 0 {
		cfg.Orchestrator.RequestsPerMinute = 60
	}
}

// DefaultAgentConfig returns the stock six-stage research pipeline.
func DefaultAgentConfig(slug string) *AgentConfig {
	cfg := &AgentConfig{
		Slug: slug,
		Stages: []StageConfig{
			{ID: 0, Name: "analyze", Description: "Decompose the research question into sub-queries",
				PauseInstructions: "Review the sub-queries. Reply to continue, or decline web-search calibration."},
			{ID: 1, Name: "web_calibrate", Description: "Calibrate retrieval focus with external web context"},
			{ID: 2, Name: "retrieve", Description: "Search the knowledge base and expand via graph hops"},
			{ID: 3, Name: "synthesize", Description: "Synthesize findings into a cited narrative"},
			{ID: 4, Name: "verify", Description: "Verify entities, citations, relations and contradictions"},
			{ID: 5, Name: "render", Description: "Post-process and render the final document"},
		},
		PauseAfterStages: []int{0},
		RepairUnits: []RepairUnit{
			{Stages: []int{3, 4}, MaxIterations: 2, FeedbackField: "feedback"},
		},
		Orchestrator: OrchestratorConfig{
			Model:             "claude-3-sonnet",
			BudgetUSD:         2.0,
			Effort:            "standard",
			ContextWindow:     200_000,
			MaxTokensPerStage: 8192,
			RequestsPerMinute: 60,
		},
	}
	applyDefaults(cfg)
	return cfg
}
