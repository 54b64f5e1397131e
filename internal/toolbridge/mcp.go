package toolbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"
)

// Tool names exposed by the knowledge-base server.
const (
	toolHybridSearch       = "isa_hybrid_search"
	toolHopRetrieve        = "isa_hop_retrieve"
	toolWebSearch          = "isa_web_search"
	toolEntityVerify       = "isa_entity_verify"
	toolCitationVerify     = "isa_citation_verify"
	toolRelationVerify     = "isa_relation_verify"
	toolContradictionCheck = "isa_contradiction_check"
	toolStructuredGenerate = "structured_generate"
)

// ToolCaller is the slice of the MCP client the bridge needs. The full
// client satisfies it; tests substitute canned responses.
type ToolCaller interface {
	CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
}

// MCPBridge implements Bridge over an MCP tool connection.
type MCPBridge struct {
	caller ToolCaller
	logger *zap.Logger
}

// NewMCPBridge wraps an MCP client (or any ToolCaller) as a Bridge.
func NewMCPBridge(caller ToolCaller, logger *zap.Logger) *MCPBridge {
	return &MCPBridge{caller: caller, logger: logger}
}

// KBSearch runs a hybrid keyword+vector search over the knowledge base.
func (b *MCPBridge) KBSearch(ctx context.Context, query string, opts SearchOptions) ([]ScoredParagraph, error) {
	args := map[string]interface{}{"query": query}
	if opts.MaxResults > 0 {
		args["max_results"] = opts.MaxResults
	}
	if opts.StandardFilter != "" {
		args["isa_filter"] = opts.StandardFilter
	}
	if opts.SearchType != "" {
		args["search_type"] = opts.SearchType
	}
	raw, err := b.callJSON(ctx, toolHybridSearch, args)
	if err != nil {
		return nil, err
	}
	return normalizeParagraphs(raw), nil
}

// HopRetrieve expands from a seed paragraph along knowledge-graph edges.
func (b *MCPBridge) HopRetrieve(ctx context.Context, paragraphID string, opts HopOptions) ([]ScoredParagraph, error) {
	args := map[string]interface{}{"paragraph_id": paragraphID}
	if opts.MaxHops > 0 {
		args["max_hops"] = opts.MaxHops
	}
	if opts.Decay > 0 {
		args["decay"] = opts.Decay
	}
	if opts.MinScore > 0 {
		args["min_score"] = opts.MinScore
	}
	if opts.MaxResults > 0 {
		args["max_results"] = opts.MaxResults
	}
	raw, err := b.callJSON(ctx, toolHopRetrieve, args)
	if err != nil {
		return nil, err
	}
	return normalizeParagraphs(raw), nil
}

// WebSearch runs external web searches for the supplied queries.
func (b *MCPBridge) WebSearch(ctx context.Context, queries []string) (*WebSearchReport, error) {
	raw, err := b.callJSON(ctx, toolWebSearch, map[string]interface{}{"queries": queries})
	if err != nil {
		return nil, err
	}
	return normalizeWebReport(strings.Join(queries, "; "), raw), nil
}

// CitationVerify runs the four verification axes and aggregates them.
// The contradiction axis reports a raw count (0 is best); it is folded
// into a 0..1 score so the axes average cleanly.
func (b *MCPBridge) CitationVerify(ctx context.Context, input VerifyInput) (*VerificationReport, error) {
	report := &VerificationReport{Scores: map[string]float64{}, Passed: true}

	citations := make([]map[string]interface{}, 0, len(input.Citations))
	for _, c := range input.Citations {
		citations = append(citations, map[string]interface{}{
			"paragraph_id": c.Reference,
			"claim":        c.Claim,
		})
	}

	axes := []struct {
		name string
		tool string
		args map[string]interface{}
	}{
		{AxisEntity, toolEntityVerify, map[string]interface{}{"report": input.Report, "entities": input.Entities}},
		{AxisCitation, toolCitationVerify, map[string]interface{}{"citations": citations}},
		{AxisRelation, toolRelationVerify, map[string]interface{}{"report": input.Report}},
		{AxisContradiction, toolContradictionCheck, map[string]interface{}{"report": input.Report}},
	}

	for _, axis := range axes {
		raw, err := b.callJSON(ctx, axis.tool, axis.args)
		if err != nil {
			return nil, fmt.Errorf("%s axis: %w", axis.name, err)
		}
		score, passed, details := normalizeAxis(raw)
		if axis.name == AxisContradiction {
			score = contradictionScore(score)
		}
		report.Scores[axis.name] = score
		report.Passed = report.Passed && passed
		report.Details = append(report.Details, details...)
	}
	return report, nil
}

// contradictionScore maps a contradiction count onto 0..1, where zero
// contradictions scores 1.0 and each finding costs a quarter.
func contradictionScore(count float64) float64 {
	return math.Max(0, 1-0.25*count)
}

// GenerateStructured asks the tool server for schema-constrained output.
func (b *MCPBridge) GenerateStructured(ctx context.Context, prompt string, schemaJSON []byte) (map[string]interface{}, error) {
	var schema interface{}
	if err := json.Unmarshal(schemaJSON, &schema); err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	raw, err := b.callJSON(ctx, toolStructuredGenerate, map[string]interface{}{
		"prompt": prompt,
		"schema": schema,
	})
	if err != nil {
		return nil, err
	}
	obj, ok := raw.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("structured generation returned non-object")
	}
	return obj, nil
}

// callJSON invokes one tool and decodes its first text content as JSON.
func (b *MCPBridge) callJSON(ctx context.Context, tool string, args map[string]interface{}) (interface{}, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = tool
	req.Params.Arguments = args

	result, err := b.caller.CallTool(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("tool %s: %w", tool, err)
	}
	if result.IsError {
		return nil, fmt.Errorf("tool %s reported an error: %s", tool, firstText(result))
	}
	text := firstText(result)
	if text == "" {
		return nil, fmt.Errorf("tool %s returned no text content", tool)
	}
	var decoded interface{}
	if err := json.Unmarshal([]byte(text), &decoded); err != nil {
		return nil, fmt.Errorf("tool %s returned unparseable payload: %w", tool, err)
	}
	b.logger.Debug("Tool call completed", zap.String("tool", tool))
	return decoded, nil
}

func firstText(result *mcp.CallToolResult) string {
	for _, content := range result.Content {
		if tc, ok := content.(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}
