package render

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/verityaudit/deepresearch/internal/config"
	"github.com/verityaudit/deepresearch/internal/toolbridge"
)

func testDocument() Document {
	return Document{
		AgentSlug:     "isa-research",
		SessionID:     "sess-42",
		OriginalQuery: "What are the auditor's responsibilities for fraud?",
		Synthesis:     "Fraud responsibilities rest with the auditor [240.5].",
		SubQueries:    []string{"fraud definition", "auditor responsibilities"},
		Citations: []toolbridge.Citation{
			{Reference: "240.5", Claim: "Fraud responsibilities rest with the auditor."},
		},
		SourceTexts: map[string]string{"240.5": "The auditor is responsible for obtaining reasonable assurance."},
		Scores: map[string]float64{
			toolbridge.AxisEntity:        0.9,
			toolbridge.AxisCitation:      0.9,
			toolbridge.AxisRelation:      0.9,
			toolbridge.AxisContradiction: 1.0,
		},
		GeneratedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestRenderSectionOrder(t *testing.T) {
	r := NewRenderer(config.DefaultRenderConfig(), zap.NewNop())
	doc := testDocument()
	doc.WebReferences = []WebReference{{URL: "https://example.org", Insight: "Guidance"}}
	doc.PriorReferences = []PriorReference{{ID: "prev:1", Heading: "Background", Excerpt: "Earlier findings."}}
	doc.OutOfScopeNotes = []string{"Tax advisory questions"}

	out := r.Render(doc)

	order := []string{
		"# Research Report",
		"## Original Question",
		"confidence",
		"## Findings",
		"## Out of Scope",
		"## Verification",
		"## Citations",
		"## External References",
		"## Prior Research",
		"<details>",
	}
	last := -1
	for _, marker := range order {
		idx := strings.Index(out, marker)
		require.GreaterOrEqual(t, idx, 0, "missing section %q", marker)
		assert.Greater(t, idx, last, "section %q out of order", marker)
		last = idx
	}

	assert.Contains(t, out, "- [W1] Guidance - https://example.org")
}

func TestRenderInjectsSourceBlocks(t *testing.T) {
	r := NewRenderer(config.DefaultRenderConfig(), zap.NewNop())

	out := r.Render(testDocument())

	assert.Contains(t, out, "> Source [240.5]:")
	assert.Contains(t, out, "reasonable assurance")
}

func TestConfidenceWeighting(t *testing.T) {
	cfg := config.DefaultRenderConfig()
	r := NewRenderer(cfg, zap.NewNop())

	// All axes perfect.
	all := map[string]float64{
		toolbridge.AxisEntity:        1.0,
		toolbridge.AxisCitation:      1.0,
		toolbridge.AxisRelation:      1.0,
		toolbridge.AxisContradiction: 1.0,
	}
	assert.InDelta(t, 1.0, r.Confidence(all), 1e-9)

	// Missing axes are excluded from the denominator, not scored zero.
	partial := map[string]float64{toolbridge.AxisEntity: 0.8}
	assert.InDelta(t, 0.8, r.Confidence(partial), 1e-9)

	assert.Equal(t, 0.0, r.Confidence(nil))
}

func TestQualifierThresholds(t *testing.T) {
	cfg := config.DefaultRenderConfig()
	r := NewRenderer(cfg, zap.NewNop())

	assert.Equal(t, "High confidence", r.Qualifier(cfg.HighThreshold))
	assert.Equal(t, "Moderate confidence", r.Qualifier(cfg.MediumThreshold))
	assert.Equal(t, "Low confidence", r.Qualifier(cfg.MediumThreshold-0.01))
}

func TestRenderDeterministic(t *testing.T) {
	r := NewRenderer(config.DefaultRenderConfig(), zap.NewNop())
	doc := testDocument()

	assert.Equal(t, r.Render(doc), r.Render(doc))
}

func TestWriteDocument(t *testing.T) {
	r := NewRenderer(config.DefaultRenderConfig(), zap.NewNop())
	path := filepath.Join(t.TempDir(), "sessions", "sess-42", "research_report.md")

	written, err := r.WriteDocument(path, testDocument())
	require.NoError(t, err)
	assert.Equal(t, path, written)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "# Research Report")
}

func TestRenderEmptyQueryFallback(t *testing.T) {
	r := NewRenderer(config.DefaultRenderConfig(), zap.NewNop())
	doc := Document{SessionID: "s", AgentSlug: "a"}

	out := r.Render(doc)

	assert.Contains(t, out, "Unknown query")
	assert.NotContains(t, out, "## Verification")
	assert.NotContains(t, out, "## Citations")
}
