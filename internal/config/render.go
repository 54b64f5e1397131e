package config

// RenderConfig controls the deterministic post-processor and renderer.
// Agent definitions may override any subset; Merged layers those
// overrides over the defaults.
type RenderConfig struct {
	Title            string  `json:"title,omitempty" yaml:"title" mapstructure:"title"`
	CitationPattern  string  `json:"citation_pattern,omitempty" yaml:"citation_pattern" mapstructure:"citation_pattern"`
	HighThreshold    float64 `json:"high_threshold,omitempty" yaml:"high_threshold" mapstructure:"high_threshold"`
	MediumThreshold  float64 `json:"medium_threshold,omitempty" yaml:"medium_threshold" mapstructure:"medium_threshold"`
	MaxSourceChars   int     `json:"max_source_chars,omitempty" yaml:"max_source_chars" mapstructure:"max_source_chars"`
	EntityWeight     float64 `json:"entity_weight,omitempty" yaml:"entity_weight" mapstructure:"entity_weight"`
	CitationWeight   float64 `json:"citation_weight,omitempty" yaml:"citation_weight" mapstructure:"citation_weight"`
	RelationWeight   float64 `json:"relation_weight,omitempty" yaml:"relation_weight" mapstructure:"relation_weight"`
	ContradictWeight float64 `json:"contradict_weight,omitempty" yaml:"contradict_weight" mapstructure:"contradict_weight"`
}

// DefaultRenderConfig returns the stock rendering parameters. The
// citation pattern matches inline references like [315.12] or
// [ISA 315.12(a)] as well as plain numeric markers like [3].
func DefaultRenderConfig() RenderConfig {
	return RenderConfig{
		Title:            "Research Report",
		CitationPattern:  `\[(?:ISA ?)?\d+(?:\.[0-9A-Za-z().]+)?\]`,
		HighThreshold:    0.85,
		MediumThreshold:  0.65,
		MaxSourceChars:   600,
		EntityWeight:     0.25,
		CitationWeight:   0.35,
		RelationWeight:   0.2,
		ContradictWeight: 0.2,
	}
}

// Merged layers non-zero override fields over the receiver.
func (rc RenderConfig) Merged(override *RenderConfig) RenderConfig {
	if override == nil {
		return rc
	}
	out := rc
	if override.Title != "" {
		out.Title = override.Title
	}
	if override.CitationPattern != "" {
		out.CitationPattern = override.CitationPattern
	}
	if override.HighThreshold > 0 {
		out.HighThreshold = override.HighThreshold
	}
	if override.MediumThreshold > 0 {
		out.MediumThreshold = override.MediumThreshold
	}
	if override.MaxSourceChars > 0 {
		out.MaxSourceChars = override.MaxSourceChars
	}
	if override.EntityWeight > 0 {
		out.EntityWeight = override.EntityWeight
	}
	if override.CitationWeight > 0 {
		out.CitationWeight = override.CitationWeight
	}
	if override.RelationWeight > 0 {
		out.RelationWeight = override.RelationWeight
	}
	if override.ContradictWeight > 0 {
		out.ContradictWeight = override.ContradictWeight
	}
	return out
}
