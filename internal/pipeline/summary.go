package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/verityaudit/deepresearch/internal/util"
)

// synthesisExcerptLen bounds the narrative embedded in a summary.
const synthesisExcerptLen = 800

// Summary is a lossy, size-bounded projection of State. It re-injects
// prior-run context into a new turn when replaying the full state would
// blow the token budget.
type Summary struct {
	SessionID          string             `json:"session_id"`
	AgentSlug          string             `json:"agent_slug"`
	OriginalQuery      string             `json:"original_query"`
	SubQueries         []string           `json:"sub_queries,omitempty"`
	Synthesis          string             `json:"synthesis,omitempty"`
	CitationCount      int                `json:"citation_count"`
	Confidence         float64            `json:"confidence,omitempty"`
	VerificationScores map[string]float64 `json:"verification_scores,omitempty"`
	RepairTriggered    bool               `json:"repair_triggered,omitempty"`
	CompletedStages    []int              `json:"completed_stages"`
	WasPartial         bool               `json:"was_partial"`
	ExitReason         string             `json:"exit_reason,omitempty"`
	OutputPath         string             `json:"output_path,omitempty"`
	GeneratedAt        time.Time          `json:"generated_at"`
}

// GenerateSummary derives a Summary from the run's stage outputs and
// event log. totalStages is the configured stage count; exitReason is
// recorded whenever the run stopped short of completing all stages.
func (s *State) GenerateSummary(totalStages int, exitReason string) *Summary {
	sum := &Summary{
		SessionID:       s.SessionID,
		AgentSlug:       s.AgentSlug,
		OriginalQuery:   "Unknown query",
		CompletedStages: s.CompletedStages(),
		GeneratedAt:     time.Now().UTC(),
	}

	if analyze, ok := s.StageOutputs[StageAnalyze]; ok {
		if q := stringField(analyze.Data, "original_query", "query"); q != "" {
			sum.OriginalQuery = q
		}
		sum.SubQueries = subQueryTexts(analyze.Data)
	}

	if synth, ok := s.StageOutputs[StageSynthesize]; ok {
		sum.Synthesis = util.TruncateWithMarker(synth.Text, synthesisExcerptLen)
		if cites, ok := synth.Data["citations"].([]interface{}); ok {
			sum.CitationCount = len(cites)
		}
		if c, ok := synth.Data["confidence"].(float64); ok {
			sum.Confidence = c
		}
	}

	if verify, ok := s.StageOutputs[StageVerify]; ok {
		sum.VerificationScores = floatMap(verify.Data["scores"])
		if b, ok := verify.Data["repair_triggered"].(bool); ok {
			sum.RepairTriggered = b
		}
	}

	if render, ok := s.StageOutputs[StageRender]; ok {
		sum.OutputPath = stringField(render.Data, "output_path")
	}

	if len(sum.CompletedStages) < totalStages {
		sum.WasPartial = true
		sum.ExitReason = exitReason
	} else {
		sum.ExitReason = exitReason
	}
	return sum
}

// subQueryTexts accepts either of the two equivalent sub-query shapes the
// generation backends produce: items keyed by "text" or by "query".
func subQueryTexts(data map[string]interface{}) []string {
	raw, ok := data["sub_queries"].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		switch v := item.(type) {
		case string:
			out = append(out, v)
		case map[string]interface{}:
			if t := stringField(v, "text", "query"); t != "" {
				out = append(out, t)
			}
		}
	}
	return out
}

func stringField(data map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if v, ok := data[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func floatMap(v interface{}) map[string]float64 {
	raw, ok := v.(map[string]interface{})
	if !ok {
		// Already typed when set in-process rather than via JSON round-trip.
		if typed, ok := v.(map[string]float64); ok {
			return typed
		}
		return nil
	}
	out := make(map[string]float64, len(raw))
	for k, val := range raw {
		if f, ok := val.(float64); ok {
			out[k] = f
		}
	}
	return out
}

// SaveTo persists the summary next to the run's state file.
func (sum *Summary) SaveTo(path string) error {
	data, err := json.MarshalIndent(sum, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// LoadSummary reads a persisted summary; missing or malformed files are
// treated as absence.
func LoadSummary(path string) *Summary {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var sum Summary
	if err := json.Unmarshal(data, &sum); err != nil {
		return nil
	}
	if sum.SessionID == "" {
		return nil
	}
	return &sum
}

// ContextMode identifies which projection backed a rendered context block.
type ContextMode string

const (
	// ContextModeFull means the block was derived directly from State.
	ContextModeFull ContextMode = "full"
	// ContextModeCompact means the block fell back to the persisted Summary.
	ContextModeCompact ContextMode = "compact"
)

// RenderContext produces the prior-run context block for a follow-up
// turn. It prefers the full projection when the state is available and
// the block fits budgetChars, otherwise it falls back to the compact
// persisted summary. The returned mode tells the caller which was used.
func RenderContext(state *State, persisted *Summary, budgetChars int) (string, ContextMode) {
	if state != nil {
		full := renderFullContext(state)
		if len(full) <= budgetChars {
			return full, ContextModeFull
		}
	}
	if persisted == nil && state != nil {
		persisted = state.GenerateSummary(StageRender+1, "")
	}
	if persisted == nil {
		return "", ContextModeCompact
	}
	return renderCompactContext(persisted), ContextModeCompact
}

func renderFullContext(state *State) string {
	var b strings.Builder
	b.WriteString("## Prior research session\n\n")
	sum := state.GenerateSummary(StageRender+1, "")
	fmt.Fprintf(&b, "Original question: %s\n", sum.OriginalQuery)
	for id := 0; id <= StageRender; id++ {
		out, ok := state.StageOutputs[id]
		if !ok {
			continue
		}
		if out.Summary != "" {
			fmt.Fprintf(&b, "\n### Stage %d\n%s\n", id, out.Summary)
		} else if out.Text != "" {
			fmt.Fprintf(&b, "\n### Stage %d\n%s\n", id, out.Text)
		}
	}
	return b.String()
}

func renderCompactContext(sum *Summary) string {
	var b strings.Builder
	b.WriteString("## Prior research session (condensed)\n\n")
	fmt.Fprintf(&b, "Original question: %s\n", sum.OriginalQuery)
	if len(sum.SubQueries) > 0 {
		b.WriteString("Sub-queries explored:\n")
		for _, q := range sum.SubQueries {
			fmt.Fprintf(&b, "- %s\n", q)
		}
	}
	if sum.Synthesis != "" {
		fmt.Fprintf(&b, "\nFindings excerpt:\n%s\n", sum.Synthesis)
	}
	if sum.CitationCount > 0 {
		fmt.Fprintf(&b, "\nCitations: %d\n", sum.CitationCount)
	}
	if sum.WasPartial {
		fmt.Fprintf(&b, "Run ended early (%s) after stages %v.\n", sum.ExitReason, sum.CompletedStages)
	}
	return b.String()
}
