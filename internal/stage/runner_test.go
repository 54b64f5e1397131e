package stage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/verityaudit/deepresearch/internal/config"
	"github.com/verityaudit/deepresearch/internal/llm"
	"github.com/verityaudit/deepresearch/internal/pipeline"
	"github.com/verityaudit/deepresearch/internal/render"
	"github.com/verityaudit/deepresearch/internal/toolbridge"
)

// fakeLLM answers Complete calls from a queue and records prompts.
type fakeLLM struct {
	responses []string
	prompts   []llm.Request
	err       error
}

func (f *fakeLLM) Complete(_ context.Context, req llm.Request) (*llm.Completion, error) {
	f.prompts = append(f.prompts, req)
	if f.err != nil {
		return nil, f.err
	}
	text := "{}"
	if len(f.responses) > 0 {
		text = f.responses[0]
		f.responses = f.responses[1:]
	}
	return &llm.Completion{Text: text, Usage: llm.Usage{InputTokens: 100, OutputTokens: 50}}, nil
}

// typedLLM adds a typed generation path over fakeLLM.
type typedLLM struct {
	fakeLLM
	typedResponse string
	typedErr      error
	typedCalls    int
}

func (f *typedLLM) GenerateStructured(_ context.Context, _ llm.Request, _ []byte) (*llm.Completion, error) {
	f.typedCalls++
	if f.typedErr != nil {
		return nil, f.typedErr
	}
	return &llm.Completion{Text: f.typedResponse, Usage: llm.Usage{InputTokens: 80, OutputTokens: 40}}, nil
}

// fakeBridge implements toolbridge.Bridge with canned data.
type fakeBridge struct {
	searchResults map[string][]toolbridge.ScoredParagraph
	hopResults    []toolbridge.ScoredParagraph
	webReport     *toolbridge.WebSearchReport
	webErr        error
	verifyReport  *toolbridge.VerificationReport
	verifyErr     error
	searchCalls   []string
}

func (f *fakeBridge) KBSearch(_ context.Context, query string, _ toolbridge.SearchOptions) ([]toolbridge.ScoredParagraph, error) {
	f.searchCalls = append(f.searchCalls, query)
	return f.searchResults[query], nil
}

func (f *fakeBridge) HopRetrieve(_ context.Context, _ string, _ toolbridge.HopOptions) ([]toolbridge.ScoredParagraph, error) {
	return f.hopResults, nil
}

func (f *fakeBridge) WebSearch(_ context.Context, _ []string) (*toolbridge.WebSearchReport, error) {
	if f.webErr != nil {
		return nil, f.webErr
	}
	return f.webReport, nil
}

func (f *fakeBridge) CitationVerify(_ context.Context, _ toolbridge.VerifyInput) (*toolbridge.VerificationReport, error) {
	if f.verifyErr != nil {
		return nil, f.verifyErr
	}
	return f.verifyReport, nil
}

func (f *fakeBridge) GenerateStructured(_ context.Context, _ string, _ []byte) (map[string]interface{}, error) {
	return nil, errors.New("not implemented")
}

const analyzeJSON = `{"analysis": "two angles", "sub_queries": [{"text": "fraud definition"}, {"text": "auditor duties"}], "entities": ["auditor"], "out_of_scope": ["tax advice"]}`

func newTestRunner(t *testing.T, client llm.Client, bridge toolbridge.Bridge) *Runner {
	t.Helper()
	cfg := config.DefaultAgentConfig("test-agent")
	renderer := render.NewRenderer(config.DefaultRenderConfig(), zap.NewNop())
	r, err := NewRunner(client, bridge, cfg, renderer, nil, zap.NewNop())
	require.NoError(t, err)
	return r
}

func stateWithAnalyze(t *testing.T) *pipeline.State {
	t.Helper()
	st := pipeline.New("sess-1", "test-agent", "")
	return st.SetStageOutput(pipeline.StageAnalyze, pipeline.StageResult{
		Data: map[string]interface{}{
			"original_query": "What about fraud?",
			"sub_queries": []interface{}{
				map[string]interface{}{"text": "fraud definition"},
				map[string]interface{}{"query": "auditor duties"},
			},
			"entities": []interface{}{"auditor"},
		},
	})
}

func TestAnalyzeTypedFastPath(t *testing.T) {
	client := &typedLLM{typedResponse: analyzeJSON}
	r := newTestRunner(t, client, nil)
	st := pipeline.New("sess-1", "test-agent", "")

	result, err := r.Run(context.Background(), st, pipeline.StageAnalyze, RunOptions{Query: "What about fraud?"})
	require.NoError(t, err)

	assert.Equal(t, 1, client.typedCalls)
	assert.Empty(t, client.prompts, "completion path must not run when typed succeeds")
	assert.Equal(t, "What about fraud?", result.Data["original_query"])
	assert.Len(t, result.Data["sub_queries"], 2)
	assert.Equal(t, 80, result.Usage.InputTokens)
}

func TestAnalyzeSilentFallback(t *testing.T) {
	client := &typedLLM{typedErr: llm.ErrTypedGenerationUnsupported}
	client.responses = []string{"Here is the plan:\n```json\n" + analyzeJSON + "\n```"}
	r := newTestRunner(t, client, nil)
	st := pipeline.New("sess-1", "test-agent", "")

	result, err := r.Run(context.Background(), st, pipeline.StageAnalyze, RunOptions{Query: "What about fraud?"})
	require.NoError(t, err)

	assert.Equal(t, 1, client.typedCalls)
	require.Len(t, client.prompts, 1)
	assert.Len(t, result.Data["sub_queries"], 2)
}

func TestAnalyzeFollowUpContext(t *testing.T) {
	client := &fakeLLM{responses: []string{analyzeJSON}}
	r := newTestRunner(t, client, nil)
	st := pipeline.New("sess-2", "test-agent", "sess-1")

	_, err := r.Run(context.Background(), st, pipeline.StageAnalyze, RunOptions{
		Query:        "And what about going concern?",
		PriorContext: "## Prior research session\n\nOriginal question: What about fraud?",
	})
	require.NoError(t, err)

	require.Len(t, client.prompts, 1)
	assert.Contains(t, client.prompts[0].User, "Prior research session")
	assert.Contains(t, client.prompts[0].User, "do not repeat sub-queries")
}

func TestWebCalibrateSkipStates(t *testing.T) {
	st := stateWithAnalyze(t)

	t.Run("user declined", func(t *testing.T) {
		r := newTestRunner(t, &fakeLLM{}, &fakeBridge{})
		result, err := r.Run(context.Background(), st, pipeline.StageCalibrate, RunOptions{SkipWebSearch: true})
		require.NoError(t, err)
		assert.Equal(t, CalibrationUserDeclined, result.Data["skip_state"])
	})

	t.Run("no bridge", func(t *testing.T) {
		r := newTestRunner(t, &fakeLLM{}, nil)
		result, err := r.Run(context.Background(), st, pipeline.StageCalibrate, RunOptions{})
		require.NoError(t, err)
		assert.Equal(t, CalibrationToolUnavailable, result.Data["skip_state"])
	})

	t.Run("tool failure is not fatal", func(t *testing.T) {
		r := newTestRunner(t, &fakeLLM{}, &fakeBridge{webErr: errors.New("boom")})
		result, err := r.Run(context.Background(), st, pipeline.StageCalibrate, RunOptions{})
		require.NoError(t, err)
		assert.Equal(t, CalibrationToolUnavailable, result.Data["skip_state"])
	})

	t.Run("empty results", func(t *testing.T) {
		r := newTestRunner(t, &fakeLLM{}, &fakeBridge{webReport: &toolbridge.WebSearchReport{}})
		result, err := r.Run(context.Background(), st, pipeline.StageCalibrate, RunOptions{})
		require.NoError(t, err)
		assert.Equal(t, CalibrationNoResults, result.Data["skip_state"])
	})

	t.Run("calibrated", func(t *testing.T) {
		bridge := &fakeBridge{webReport: &toolbridge.WebSearchReport{
			Results:         []toolbridge.WebResult{{Title: "Guidance", URL: "https://example.org", Snippet: "Fraud indicators"}},
			AnalysisHints:   []string{"focus on management override"},
			QueriesExecuted: 2,
		}}
		r := newTestRunner(t, &fakeLLM{}, bridge)
		result, err := r.Run(context.Background(), st, pipeline.StageCalibrate, RunOptions{})
		require.NoError(t, err)
		assert.Equal(t, CalibrationDone, result.Data["skip_state"])
		assert.Len(t, result.Data["web_references"], 1)
		assert.Len(t, result.Data["analysis_hints"], 1)
	})
}

func TestRetrieveMergesAndDedups(t *testing.T) {
	bridge := &fakeBridge{
		searchResults: map[string][]toolbridge.ScoredParagraph{
			"fraud definition": {
				{ID: "p1", Text: "Fraud is intentional.", Source: "240", Reference: "240.2", Score: 0.9},
				{ID: "p2", Text: "Error is unintentional.", Source: "240", Reference: "240.3", Score: 0.7},
			},
			"auditor duties": {
				{ID: "p1", Text: "Fraud is intentional.", Source: "240", Reference: "240.2", Score: 0.5},
			},
		},
		hopResults: []toolbridge.ScoredParagraph{
			{ID: "p3", Text: "Management override risk.", Source: "240", Reference: "240.31", Score: 0.6, HopDepth: 1},
		},
	}
	r := newTestRunner(t, &fakeLLM{}, bridge)

	result, err := r.Run(context.Background(), stateWithAnalyze(t), pipeline.StageRetrieve, RunOptions{})
	require.NoError(t, err)

	paragraphs := result.Data["paragraphs"].([]interface{})
	assert.Len(t, paragraphs, 3, "p1 deduplicated across queries")
	// Sorted by score descending; duplicate p1 kept at its higher score.
	first := paragraphs[0].(map[string]interface{})
	assert.Equal(t, "p1", first["id"])
	assert.Equal(t, 0.9, first["score"])

	sources := result.Data["source_texts"].(map[string]interface{})
	assert.Equal(t, "Management override risk.", sources["240.31"])
	assert.ElementsMatch(t, []string{"fraud definition", "auditor duties"}, bridge.searchCalls)
}

func TestSynthesizeCitationsAndRepairFeedback(t *testing.T) {
	client := &fakeLLM{responses: []string{"Fraud is intentional deception [240.2]. Override risk matters [240.31]."}}
	r := newTestRunner(t, client, &fakeBridge{})

	st := stateWithAnalyze(t).SetStageOutput(pipeline.StageRetrieve, pipeline.StageResult{
		Data: map[string]interface{}{
			"paragraphs": []interface{}{
				map[string]interface{}{"id": "p1", "text": "Fraud is intentional.", "source": "240", "reference": "240.2", "score": 0.9},
			},
			"source_texts": map[string]interface{}{"240.2": "Fraud is intentional."},
		},
	})

	result, err := r.Run(context.Background(), st, pipeline.StageSynthesize, RunOptions{RepairFeedback: "citation score 0.50 is below 0.75"})
	require.NoError(t, err)

	require.Len(t, client.prompts, 1)
	assert.Contains(t, client.prompts[0].User, "failed verification")
	assert.Contains(t, client.prompts[0].User, "citation score 0.50")

	citations := result.Data["citations"].([]interface{})
	require.Len(t, citations, 2)
	assert.Equal(t, true, result.Data["repair_triggered"])
}

func TestSynthesizeRequiresParagraphs(t *testing.T) {
	r := newTestRunner(t, &fakeLLM{}, &fakeBridge{})

	_, err := r.Run(context.Background(), stateWithAnalyze(t), pipeline.StageSynthesize, RunOptions{})
	assert.Error(t, err)
}

func TestVerifyThresholdFeedback(t *testing.T) {
	bridge := &fakeBridge{verifyReport: &toolbridge.VerificationReport{
		Scores: map[string]float64{
			toolbridge.AxisEntity:        0.9,
			toolbridge.AxisCitation:      0.5,
			toolbridge.AxisRelation:      0.9,
			toolbridge.AxisContradiction: 1.0,
		},
		Passed: true,
	}}
	r := newTestRunner(t, &fakeLLM{}, bridge)

	st := stateWithAnalyze(t).SetStageOutput(pipeline.StageSynthesize, pipeline.StageResult{
		Text: "Report [240.2].",
		Data: map[string]interface{}{
			"citations": []interface{}{map[string]interface{}{"reference": "240.2", "claim": "Report."}},
		},
	})

	result, err := r.Run(context.Background(), st, pipeline.StageVerify, RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, false, result.Data["passed"], "per-axis threshold overrides the tool's own passed flag")
	feedback := result.Data["feedback"].(string)
	assert.Contains(t, feedback, "citation score 0.50 is below 0.75")
}

func TestVerifyPasses(t *testing.T) {
	bridge := &fakeBridge{verifyReport: &toolbridge.VerificationReport{
		Scores: map[string]float64{
			toolbridge.AxisEntity:        0.9,
			toolbridge.AxisCitation:      0.9,
			toolbridge.AxisRelation:      0.9,
			toolbridge.AxisContradiction: 1.0,
		},
		Passed: true,
	}}
	r := newTestRunner(t, &fakeLLM{}, bridge)

	st := stateWithAnalyze(t).SetStageOutput(pipeline.StageSynthesize, pipeline.StageResult{Text: "Report."})

	result, err := r.Run(context.Background(), st, pipeline.StageVerify, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, true, result.Data["passed"])
	_, hasFeedback := result.Data["feedback"]
	assert.False(t, hasFeedback)
}

func TestRenderStageWritesReport(t *testing.T) {
	r := newTestRunner(t, &fakeLLM{}, &fakeBridge{})

	st := stateWithAnalyze(t).
		SetStageOutput(pipeline.StageRetrieve, pipeline.StageResult{
			Data: map[string]interface{}{
				"source_texts": map[string]interface{}{"240.2": "Fraud is intentional."},
			},
		}).
		SetStageOutput(pipeline.StageSynthesize, pipeline.StageResult{
			Text: "Fraud is intentional deception [240.2].",
			Data: map[string]interface{}{
				"citations": []interface{}{map[string]interface{}{"reference": "240.2", "claim": "Fraud is intentional deception."}},
			},
		}).
		SetStageOutput(pipeline.StageVerify, pipeline.StageResult{
			Data: map[string]interface{}{
				"scores": map[string]interface{}{
					toolbridge.AxisEntity:        0.9,
					toolbridge.AxisCitation:      0.9,
					toolbridge.AxisRelation:      0.9,
					toolbridge.AxisContradiction: 1.0,
				},
			},
		})

	path := filepath.Join(t.TempDir(), "research_report.md")
	result, err := r.Run(context.Background(), st, pipeline.StageRender, RunOptions{OutputPath: path})
	require.NoError(t, err)

	assert.Equal(t, path, result.Data["output_path"])
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "> Source [240.2]:")
	assert.Contains(t, string(data), "## Verification")
}

func TestRunRejectsUndeclaredStage(t *testing.T) {
	r := newTestRunner(t, &fakeLLM{}, nil)
	st := pipeline.New("sess-1", "test-agent", "")

	_, err := r.Run(context.Background(), st, 99, RunOptions{})
	assert.Error(t, err)

	_, err = r.Run(context.Background(), st, -1, RunOptions{})
	assert.Error(t, err)
}

func TestSubQueriesAcceptBothShapes(t *testing.T) {
	r := newTestRunner(t, &fakeLLM{}, nil)
	queries := r.subQueries(stateWithAnalyze(t))
	assert.Equal(t, []string{"fraud definition", "auditor duties"}, queries)
}

func TestRetrieveCapsParagraphs(t *testing.T) {
	var many []toolbridge.ScoredParagraph
	for i := 0; i < maxParagraphsTotal+10; i++ {
		many = append(many, toolbridge.ScoredParagraph{
			ID:    fmt.Sprintf("p%02d", i),
			Text:  "text",
			Score: float64(i) / 100,
		})
	}
	bridge := &fakeBridge{searchResults: map[string][]toolbridge.ScoredParagraph{"fraud definition": many, "auditor duties": nil}}
	r := newTestRunner(t, &fakeLLM{}, bridge)

	result, err := r.Run(context.Background(), stateWithAnalyze(t), pipeline.StageRetrieve, RunOptions{})
	require.NoError(t, err)

	paragraphs := result.Data["paragraphs"].([]interface{})
	assert.Len(t, paragraphs, maxParagraphsTotal)
	top := paragraphs[0].(map[string]interface{})["score"].(float64)
	assert.True(t, strings.HasPrefix(paragraphs[0].(map[string]interface{})["id"].(string), "p"))
	assert.InDelta(t, float64(maxParagraphsTotal+9)/100, top, 1e-9)
}
