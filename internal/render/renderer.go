package render

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/verityaudit/deepresearch/internal/config"
	"github.com/verityaudit/deepresearch/internal/toolbridge"
	"github.com/verityaudit/deepresearch/internal/util"
)

// Document is everything the renderer needs to produce the final
// research report.
type Document struct {
	AgentSlug       string
	SessionID       string
	OriginalQuery   string
	Synthesis       string
	SubQueries      []string
	Citations       []toolbridge.Citation
	SourceTexts     map[string]string
	Scores          map[string]float64
	WebReferences   []WebReference
	PriorReferences []PriorReference
	OutOfScopeNotes []string
	DepthMode       string
	FollowUpNumber  int
	RepairTriggered bool
	GeneratedAt     time.Time
}

// Renderer assembles the final markdown report. Section order is fixed;
// rendering the same Document twice produces byte-identical output
// apart from the generation timestamp it is given.
type Renderer struct {
	cfg    config.RenderConfig
	logger *zap.Logger
}

func NewRenderer(cfg config.RenderConfig, logger *zap.Logger) *Renderer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Renderer{cfg: cfg, logger: logger}
}

// Confidence folds the four verification axes into a single weighted
// score. Missing axes contribute nothing to either side of the ratio.
func (r *Renderer) Confidence(scores map[string]float64) float64 {
	weights := map[string]float64{
		toolbridge.AxisEntity:        r.cfg.EntityWeight,
		toolbridge.AxisCitation:      r.cfg.CitationWeight,
		toolbridge.AxisRelation:      r.cfg.RelationWeight,
		toolbridge.AxisContradiction: r.cfg.ContradictWeight,
	}
	var sum, total float64
	for axis, weight := range weights {
		score, ok := scores[axis]
		if !ok {
			continue
		}
		sum += weight * score
		total += weight
	}
	if total == 0 {
		return 0
	}
	return sum / total
}

// Qualifier maps a weighted confidence onto the report's three-level
// wording.
func (r *Renderer) Qualifier(confidence float64) string {
	switch {
	case confidence >= r.cfg.HighThreshold:
		return "High confidence"
	case confidence >= r.cfg.MediumThreshold:
		return "Moderate confidence"
	default:
		return "Low confidence"
	}
}

// Render produces the full report. The synthesis body is passed through
// the post-processor first, so citation source blocks and reference
// markers are guaranteed regardless of what the model emitted.
func (r *Renderer) Render(doc Document) string {
	body := PostProcess(doc.Synthesis, r.cfg, doc.SourceTexts, doc.WebReferences, doc.PriorReferences)
	confidence := r.Confidence(doc.Scores)

	var b strings.Builder
	r.writeHeader(&b, doc)
	r.writeQuestion(&b, doc)
	fmt.Fprintf(&b, "**%s** (weighted verification score %.2f)\n\n", r.Qualifier(confidence), confidence)
	b.WriteString("## Findings\n\n")
	b.WriteString(strings.TrimRight(body, "\n"))
	b.WriteString("\n\n")
	r.writeOutOfScope(&b, doc)
	r.writeVerification(&b, doc)
	r.writeCitations(&b, doc)
	r.writeWebReferences(&b, doc)
	r.writePriorReferences(&b, doc)
	r.writeDecomposition(&b, doc)
	return b.String()
}

// WriteDocument renders and persists the report, returning the path it
// was written to.
func (r *Renderer) WriteDocument(path string, doc Document) (string, error) {
	content := r.Render(doc)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create report directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	r.logger.Info("Report written",
		zap.String("session_id", doc.SessionID),
		zap.String("path", path),
	)
	return path, nil
}

func (r *Renderer) writeHeader(b *strings.Builder, doc Document) {
	title := r.cfg.Title
	if title == "" {
		title = "Research Report"
	}
	fmt.Fprintf(b, "# %s\n\n", title)
	fmt.Fprintf(b, "- Agent: %s\n", doc.AgentSlug)
	fmt.Fprintf(b, "- Session: %s\n", doc.SessionID)
	if doc.DepthMode != "" {
		fmt.Fprintf(b, "- Depth: %s\n", doc.DepthMode)
	}
	if doc.FollowUpNumber > 0 {
		fmt.Fprintf(b, "- Follow-up: #%d\n", doc.FollowUpNumber)
	}
	if doc.RepairTriggered {
		b.WriteString("- Verification repair: applied\n")
	}
	if !doc.GeneratedAt.IsZero() {
		fmt.Fprintf(b, "- Generated: %s\n", doc.GeneratedAt.UTC().Format(time.RFC3339))
	}
	b.WriteString("\n")
}

func (r *Renderer) writeQuestion(b *strings.Builder, doc Document) {
	b.WriteString("## Original Question\n\n")
	query := doc.OriginalQuery
	if query == "" {
		query = "Unknown query"
	}
	fmt.Fprintf(b, "%s\n\n", query)
}

func (r *Renderer) writeOutOfScope(b *strings.Builder, doc Document) {
	if len(doc.OutOfScopeNotes) == 0 {
		return
	}
	b.WriteString("## Out of Scope\n\n")
	for _, note := range doc.OutOfScopeNotes {
		fmt.Fprintf(b, "- %s\n", note)
	}
	b.WriteString("\n")
}

func (r *Renderer) writeVerification(b *strings.Builder, doc Document) {
	if len(doc.Scores) == 0 {
		return
	}
	b.WriteString("## Verification\n\n")
	b.WriteString("| Axis | Score |\n|------|-------|\n")
	axes := make([]string, 0, len(doc.Scores))
	for axis := range doc.Scores {
		axes = append(axes, axis)
	}
	sort.Strings(axes)
	for _, axis := range axes {
		fmt.Fprintf(b, "| %s | %.2f |\n", axis, doc.Scores[axis])
	}
	b.WriteString("\n")
}

func (r *Renderer) writeCitations(b *strings.Builder, doc Document) {
	if len(doc.Citations) == 0 {
		return
	}
	b.WriteString("## Citations\n\n")
	b.WriteString("| Reference | Claim |\n|-----------|-------|\n")
	for _, c := range doc.Citations {
		fmt.Fprintf(b, "| %s | %s |\n", c.Reference, util.TruncateString(c.Claim, 160, true))
	}
	b.WriteString("\n")
}

func (r *Renderer) writeWebReferences(b *strings.Builder, doc Document) {
	if len(doc.WebReferences) == 0 {
		return
	}
	b.WriteString("## External References\n\n")
	for i, ref := range doc.WebReferences {
		fmt.Fprintf(b, "- [W%d] %s - %s\n", i+1, ref.Insight, ref.URL)
	}
	b.WriteString("\n")
}

func (r *Renderer) writePriorReferences(b *strings.Builder, doc Document) {
	if len(doc.PriorReferences) == 0 {
		return
	}
	b.WriteString("## Prior Research\n\n")
	for i, ref := range doc.PriorReferences {
		fmt.Fprintf(b, "- [P%d] %s (%s)\n", i+1, ref.Heading, ref.ID)
	}
	b.WriteString("\n")
}

func (r *Renderer) writeDecomposition(b *strings.Builder, doc Document) {
	if len(doc.SubQueries) == 0 {
		return
	}
	b.WriteString("<details>\n<summary>Research decomposition</summary>\n\n")
	for i, q := range doc.SubQueries {
		fmt.Fprintf(b, "%d. %s\n", i+1, q)
	}
	b.WriteString("\n</details>\n")
}
