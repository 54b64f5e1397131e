// Package toolbridge exposes the retrieval/verification capabilities the
// pipeline needs as one narrow interface, backed by an external MCP tool
// server. External responses are dynamically shaped; every call site
// normalizes them into the canonical types below before anything else
// sees them.
package toolbridge

import "context"

// ScoredParagraph is the canonical retrieval unit: one knowledge-base
// paragraph with a relevance score.
type ScoredParagraph struct {
	ID        string  `json:"id"`
	Text      string  `json:"text"`
	Source    string  `json:"source"`
	Reference string  `json:"reference,omitempty"`
	Score     float64 `json:"score"`
	HopDepth  int     `json:"hop_depth,omitempty"`
}

// SearchOptions tune a knowledge-base search.
type SearchOptions struct {
	MaxResults     int    `json:"max_results,omitempty"`
	StandardFilter string `json:"standard_filter,omitempty"`
	SearchType     string `json:"search_type,omitempty"` // hybrid, keyword, or vector
}

// HopOptions tune graph-hop retrieval from a seed paragraph.
type HopOptions struct {
	MaxHops    int     `json:"max_hops,omitempty"`
	Decay      float64 `json:"decay,omitempty"`
	MinScore   float64 `json:"min_score,omitempty"`
	MaxResults int     `json:"max_results,omitempty"`
}

// WebResult is one external web search hit.
type WebResult struct {
	Title     string  `json:"title"`
	URL       string  `json:"url"`
	Snippet   string  `json:"snippet"`
	Relevance float64 `json:"relevance,omitempty"`
}

// WebSearchReport is the canonical web search response.
type WebSearchReport struct {
	Query           string      `json:"query"`
	Results         []WebResult `json:"results"`
	AnalysisHints   []string    `json:"analysis_hints,omitempty"`
	QueriesExecuted int         `json:"queries_executed"`
	Warnings        []string    `json:"warnings,omitempty"`
}

// Citation pairs a paragraph reference with the claim it backs.
type Citation struct {
	Reference string `json:"reference"`
	Claim     string `json:"claim"`
}

// VerifyInput carries everything the verification axes inspect.
type VerifyInput struct {
	Report    string     `json:"report"`
	Citations []Citation `json:"citations"`
	Entities  []string   `json:"entities,omitempty"`
}

// Verification axis names.
const (
	AxisEntity        = "entity"
	AxisCitation      = "citation"
	AxisRelation      = "relation"
	AxisContradiction = "contradiction"
)

// VerificationReport aggregates the four verification axes.
type VerificationReport struct {
	Scores  map[string]float64       `json:"scores"`
	Passed  bool                     `json:"passed"`
	Details []map[string]interface{} `json:"details,omitempty"`
}

// Bridge is the capability interface the pipeline consumes. All methods
// degrade gracefully on odd response shapes; only transport failures
// surface as errors.
type Bridge interface {
	KBSearch(ctx context.Context, query string, opts SearchOptions) ([]ScoredParagraph, error)
	HopRetrieve(ctx context.Context, paragraphID string, opts HopOptions) ([]ScoredParagraph, error)
	WebSearch(ctx context.Context, queries []string) (*WebSearchReport, error)
	CitationVerify(ctx context.Context, input VerifyInput) (*VerificationReport, error)
	GenerateStructured(ctx context.Context, prompt string, schemaJSON []byte) (map[string]interface{}, error)
}
