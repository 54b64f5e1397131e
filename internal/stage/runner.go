// Package stage executes the individual pipeline stages. The runner owns
// stage semantics only; sequencing, pauses, repair loops and budget
// enforcement belong to the orchestrator.
package stage

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"

	"github.com/verityaudit/deepresearch/internal/config"
	"github.com/verityaudit/deepresearch/internal/extract"
	"github.com/verityaudit/deepresearch/internal/llm"
	"github.com/verityaudit/deepresearch/internal/pipeline"
	"github.com/verityaudit/deepresearch/internal/render"
	"github.com/verityaudit/deepresearch/internal/streaming"
	"github.com/verityaudit/deepresearch/internal/toolbridge"
	"github.com/verityaudit/deepresearch/internal/util"
)

// Retrieval knobs. Values match the tool server's own defaults.
const (
	maxResultsPerQuery = 5
	maxParagraphsTotal = 24
	hopMaxHops         = 2
	hopDecay           = 0.7
	hopMinScore        = 0.35
	hopMaxResults      = 10
)

// Verification axis thresholds; a failing axis generates repair feedback.
var axisThresholds = map[string]float64{
	toolbridge.AxisEntity:        0.80,
	toolbridge.AxisCitation:      0.75,
	toolbridge.AxisRelation:      0.70,
	toolbridge.AxisContradiction: 0.75,
}

// Web-calibration skip states recorded in the stage output.
const (
	CalibrationDone            = "calibrated"
	CalibrationNoResults       = "skipped_no_results"
	CalibrationUserDeclined    = "skipped_by_user_choice"
	CalibrationToolUnavailable = "skipped_unavailable"
)

// RunOptions carries per-invocation inputs that are not part of the
// persisted state.
type RunOptions struct {
	Query          string
	PriorContext   string // prior-session block for follow-up runs
	RepairFeedback string // verifier feedback for a repair iteration
	SkipWebSearch  bool   // user declined calibration at the pause
	OutputPath     string // final document destination (render stage)
}

// Runner executes one stage at a time against the shared dependencies.
type Runner struct {
	llm           llm.Client
	bridge        toolbridge.Bridge
	cfg           *config.AgentConfig
	renderer      *render.Renderer
	stream        *streaming.Manager
	logger        *zap.Logger
	analyzeSchema *gojsonschema.Schema
	citationRE    *regexp.Regexp
}

// NewRunner wires a runner. The streaming manager may be nil when no
// host is listening.
func NewRunner(client llm.Client, bridge toolbridge.Bridge, cfg *config.AgentConfig, renderer *render.Renderer, stream *streaming.Manager, logger *zap.Logger) (*Runner, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	schema, err := extract.CompileSchema([]byte(analyzeSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("compile analyze schema: %w", err)
	}
	renderCfg := config.DefaultRenderConfig().Merged(cfg.Render)
	pattern, err := regexp.Compile(renderCfg.CitationPattern)
	if err != nil {
		return nil, fmt.Errorf("compile citation pattern: %w", err)
	}
	return &Runner{
		llm:           client,
		bridge:        bridge,
		cfg:           cfg,
		renderer:      renderer,
		stream:        stream,
		logger:        logger,
		analyzeSchema: schema,
		citationRE:    pattern,
	}, nil
}

// Run executes the stage identified by stageID. The returned result is
// the caller's to record; Run never mutates state.
func (r *Runner) Run(ctx context.Context, state *pipeline.State, stageID int, opts RunOptions) (pipeline.StageResult, error) {
	if stageID < 0 || stageID >= len(r.cfg.Stages) {
		return pipeline.StageResult{}, fmt.Errorf("stage %d not declared", stageID)
	}
	switch r.cfg.Stages[stageID].Name {
	case "analyze":
		return r.runAnalyze(ctx, state, opts)
	case "web_calibrate":
		return r.runWebCalibrate(ctx, state, opts)
	case "retrieve":
		return r.runRetrieve(ctx, state, opts)
	case "synthesize":
		return r.runSynthesize(ctx, state, opts)
	case "verify":
		return r.runVerify(ctx, state, opts)
	case "render":
		return r.runRender(ctx, state, opts)
	default:
		return pipeline.StageResult{}, fmt.Errorf("unknown stage %q", r.cfg.Stages[stageID].Name)
	}
}

func (r *Runner) runAnalyze(ctx context.Context, state *pipeline.State, opts RunOptions) (pipeline.StageResult, error) {
	req := llm.Request{
		System:    analyzeSystemPrompt,
		User:      buildAnalyzePrompt(opts.Query, opts.PriorContext),
		Model:     r.cfg.Orchestrator.Model,
		MaxTokens: r.cfg.Orchestrator.MaxTokensPerStage,
	}

	parsed, completion, err := r.structuredCall(ctx, state.SessionID, pipeline.StageAnalyze, req)
	if err != nil {
		return pipeline.StageResult{}, fmt.Errorf("analyze: %w", err)
	}

	subQueries, _ := parsed["sub_queries"].([]interface{})
	data := map[string]interface{}{
		"original_query": opts.Query,
		"sub_queries":    subQueries,
	}
	if v, ok := parsed["entities"]; ok {
		data["entities"] = v
	}
	if v, ok := parsed["out_of_scope"]; ok {
		data["out_of_scope"] = v
	}
	if v, ok := parsed["analysis"].(string); ok && v != "" {
		data["analysis"] = v
	}

	return pipeline.StageResult{
		Text:    completion.Text,
		Summary: fmt.Sprintf("Decomposed into %d sub-queries", len(subQueries)),
		Usage:   pipeline.Usage{InputTokens: completion.Usage.InputTokens, OutputTokens: completion.Usage.OutputTokens},
		Data:    data,
	}, nil
}

// structuredCall tries the typed generation fast path and falls back to
// free-text completion plus extraction. The fallback is silent: typed
// generation failing is an expected condition, not an error.
func (r *Runner) structuredCall(ctx context.Context, sessionID string, stageID int, req llm.Request) (map[string]interface{}, *llm.Completion, error) {
	if typed, ok := r.llm.(llm.TypedGenerator); ok {
		r.substep(sessionID, stageID, streaming.SubstepLLMStart, "typed generation")
		completion, err := typed.GenerateStructured(ctx, req, []byte(analyzeSchemaJSON))
		if err == nil {
			if parsed, perr := extract.JSONObject(completion.Text, r.analyzeSchema); perr == nil {
				r.substep(sessionID, stageID, streaming.SubstepLLMComplete, "typed generation")
				return parsed, completion, nil
			}
		}
		r.logger.Debug("Typed generation unavailable, using completion path",
			zap.String("session_id", sessionID),
			zap.Int("stage", stageID),
		)
	}

	r.substep(sessionID, stageID, streaming.SubstepLLMStart, "completion")
	completion, err := r.llm.Complete(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	r.substep(sessionID, stageID, streaming.SubstepLLMComplete, "completion")
	parsed, err := extract.JSONObject(completion.Text, r.analyzeSchema)
	if err != nil {
		return nil, nil, err
	}
	return parsed, completion, nil
}

func (r *Runner) runWebCalibrate(ctx context.Context, state *pipeline.State, opts RunOptions) (pipeline.StageResult, error) {
	skip := func(reason, detail string) pipeline.StageResult {
		return pipeline.StageResult{
			Summary: "Web calibration skipped: " + detail,
			Data:    map[string]interface{}{"skip_state": reason},
		}
	}

	if opts.SkipWebSearch {
		return skip(CalibrationUserDeclined, "declined at review pause"), nil
	}
	if r.bridge == nil {
		return skip(CalibrationToolUnavailable, "no tool connection"), nil
	}

	queries := r.subQueries(state)
	if len(queries) == 0 {
		queries = []string{opts.Query}
	}

	r.substep(state.SessionID, pipeline.StageCalibrate, streaming.SubstepMCPStart, "web search")
	report, err := r.bridge.WebSearch(ctx, queries)
	if err != nil {
		r.logger.Warn("Web search unavailable, continuing without calibration",
			zap.String("session_id", state.SessionID),
			zap.Error(err),
		)
		return skip(CalibrationToolUnavailable, "tool call failed"), nil
	}
	r.substep(state.SessionID, pipeline.StageCalibrate, streaming.SubstepMCPResult, "web search")
	if len(report.Results) == 0 {
		return skip(CalibrationNoResults, "no results returned"), nil
	}

	webRefs := make([]map[string]interface{}, 0, len(report.Results))
	for _, res := range report.Results {
		insight := res.Title
		if res.Snippet != "" {
			insight = res.Snippet
		}
		webRefs = append(webRefs, map[string]interface{}{
			"url":     res.URL,
			"insight": util.TruncateString(insight, 200, true),
		})
	}

	hints := make([]interface{}, 0, len(report.AnalysisHints))
	for _, h := range report.AnalysisHints {
		hints = append(hints, h)
	}

	return pipeline.StageResult{
		Summary: fmt.Sprintf("Calibrated against %d web results", len(report.Results)),
		Data: map[string]interface{}{
			"skip_state":       CalibrationDone,
			"analysis_hints":   hints,
			"web_references":   webRefs,
			"queries_executed": report.QueriesExecuted,
			"warnings":         report.Warnings,
		},
	}, nil
}

func (r *Runner) runRetrieve(ctx context.Context, state *pipeline.State, opts RunOptions) (pipeline.StageResult, error) {
	if r.bridge == nil {
		return pipeline.StageResult{}, fmt.Errorf("retrieve: no tool connection")
	}

	queries := r.subQueries(state)
	if len(queries) == 0 {
		queries = []string{opts.Query}
	}

	byID := map[string]toolbridge.ScoredParagraph{}
	for _, query := range queries {
		r.substep(state.SessionID, pipeline.StageRetrieve, streaming.SubstepMCPStart, "kb search: "+util.TruncateString(query, 60, true))
		paragraphs, err := r.bridge.KBSearch(ctx, query, toolbridge.SearchOptions{MaxResults: maxResultsPerQuery})
		if err != nil {
			return pipeline.StageResult{}, fmt.Errorf("retrieve: search %q: %w", query, err)
		}
		for _, p := range paragraphs {
			merge(byID, p)
		}

		// Graph-hop from the best hit to pull in connected paragraphs.
		if len(paragraphs) > 0 && paragraphs[0].ID != "" {
			hops, err := r.bridge.HopRetrieve(ctx, paragraphs[0].ID, toolbridge.HopOptions{
				MaxHops:    hopMaxHops,
				Decay:      hopDecay,
				MinScore:   hopMinScore,
				MaxResults: hopMaxResults,
			})
			if err != nil {
				r.logger.Warn("Hop retrieval failed, keeping direct hits",
					zap.String("seed", paragraphs[0].ID),
					zap.Error(err),
				)
			} else {
				for _, p := range hops {
					merge(byID, p)
				}
			}
		}
		r.substep(state.SessionID, pipeline.StageRetrieve, streaming.SubstepMCPResult, "kb search")
	}

	paragraphs := make([]toolbridge.ScoredParagraph, 0, len(byID))
	for _, p := range byID {
		paragraphs = append(paragraphs, p)
	}
	sort.Slice(paragraphs, func(i, j int) bool {
		if paragraphs[i].Score != paragraphs[j].Score {
			return paragraphs[i].Score > paragraphs[j].Score
		}
		return paragraphs[i].ID < paragraphs[j].ID
	})
	if len(paragraphs) > maxParagraphsTotal {
		paragraphs = paragraphs[:maxParagraphsTotal]
	}

	sourceTexts := map[string]interface{}{}
	encoded := make([]interface{}, 0, len(paragraphs))
	for _, p := range paragraphs {
		ref := p.Reference
		if ref == "" {
			ref = p.ID
		}
		sourceTexts[ref] = p.Text
		encoded = append(encoded, map[string]interface{}{
			"id":        p.ID,
			"text":      p.Text,
			"source":    p.Source,
			"reference": ref,
			"score":     p.Score,
			"hop_depth": p.HopDepth,
		})
	}

	return pipeline.StageResult{
		Summary: fmt.Sprintf("Retrieved %d paragraphs across %d sub-queries", len(paragraphs), len(queries)),
		Data: map[string]interface{}{
			"paragraphs":   encoded,
			"source_texts": sourceTexts,
		},
	}, nil
}

func merge(byID map[string]toolbridge.ScoredParagraph, p toolbridge.ScoredParagraph) {
	if p.ID == "" || p.Text == "" {
		return
	}
	if existing, ok := byID[p.ID]; ok && existing.Score >= p.Score {
		return
	}
	byID[p.ID] = p
}

func (r *Runner) runSynthesize(ctx context.Context, state *pipeline.State, opts RunOptions) (pipeline.StageResult, error) {
	paragraphs := r.retrievedParagraphs(state)
	if len(paragraphs) == 0 {
		return pipeline.StageResult{}, fmt.Errorf("synthesize: no retrieved paragraphs")
	}

	renderCfg := r.renderConfig()
	prompt := buildSynthesizePrompt(r.originalQuery(state, opts), paragraphs, r.analysisHints(state), opts.PriorContext, opts.RepairFeedback, renderCfg.MaxSourceChars)

	r.substep(state.SessionID, pipeline.StageSynthesize, streaming.SubstepLLMStart, "synthesis")
	completion, err := r.llm.Complete(ctx, llm.Request{
		System:    synthesizeSystemPrompt,
		User:      prompt,
		Model:     r.cfg.Orchestrator.Model,
		MaxTokens: r.cfg.Orchestrator.MaxTokensPerStage,
	})
	if err != nil {
		return pipeline.StageResult{}, fmt.Errorf("synthesize: %w", err)
	}
	r.substep(state.SessionID, pipeline.StageSynthesize, streaming.SubstepLLMComplete, "synthesis")

	citations := r.extractCitations(completion.Text)
	encodedCitations := make([]interface{}, 0, len(citations))
	for _, c := range citations {
		encodedCitations = append(encodedCitations, map[string]interface{}{
			"reference": c.Reference,
			"claim":     c.Claim,
		})
	}

	data := map[string]interface{}{
		"synthesis": completion.Text,
		"citations": encodedCitations,
	}
	if opts.RepairFeedback != "" {
		data["repair_triggered"] = true
	}

	return pipeline.StageResult{
		Text:    completion.Text,
		Summary: util.TruncateString(completion.Text, 400, true),
		Usage:   pipeline.Usage{InputTokens: completion.Usage.InputTokens, OutputTokens: completion.Usage.OutputTokens},
		Data:    data,
	}, nil
}

// extractCitations scans the synthesis for inline citation markers and
// pairs each with the sentence it appears in.
func (r *Runner) extractCitations(synthesis string) []toolbridge.Citation {
	var citations []toolbridge.Citation
	seen := map[string]bool{}
	for _, line := range strings.Split(synthesis, "\n") {
		for _, sentence := range strings.Split(line, ". ") {
			for _, marker := range r.citationRE.FindAllString(sentence, -1) {
				ref := strings.TrimSpace(strings.TrimPrefix(strings.Trim(marker, "[]"), "ISA "))
				if ref == "" || seen[ref] {
					continue
				}
				seen[ref] = true
				citations = append(citations, toolbridge.Citation{
					Reference: ref,
					Claim:     util.TruncateString(strings.TrimSpace(sentence), 240, true),
				})
			}
		}
	}
	return citations
}

func (r *Runner) runVerify(ctx context.Context, state *pipeline.State, opts RunOptions) (pipeline.StageResult, error) {
	if r.bridge == nil {
		return pipeline.StageResult{}, fmt.Errorf("verify: no tool connection")
	}
	synth, ok := state.StageOutputs[pipeline.StageSynthesize]
	if !ok {
		return pipeline.StageResult{}, fmt.Errorf("verify: no synthesis output")
	}

	input := toolbridge.VerifyInput{
		Report:    synth.Text,
		Citations: r.citations(state),
		Entities:  r.entities(state),
	}

	r.substep(state.SessionID, pipeline.StageVerify, streaming.SubstepMCPStart, "verification")
	report, err := r.bridge.CitationVerify(ctx, input)
	if err != nil {
		return pipeline.StageResult{}, fmt.Errorf("verify: %w", err)
	}
	r.substep(state.SessionID, pipeline.StageVerify, streaming.SubstepMCPResult, "verification")

	passed := report.Passed
	var failing []string
	for axis, threshold := range axisThresholds {
		score, ok := report.Scores[axis]
		if !ok {
			continue
		}
		if score < threshold {
			passed = false
			failing = append(failing, fmt.Sprintf("%s score %.2f is below %.2f", axis, score, threshold))
		}
	}
	sort.Strings(failing)

	scores := map[string]interface{}{}
	for axis, score := range report.Scores {
		scores[axis] = score
	}
	data := map[string]interface{}{
		"scores": scores,
		"passed": passed,
	}
	if !passed {
		feedback := "Verification failed: " + strings.Join(failing, "; ") +
			". Tighten citations so every claim is backed by a retrieved paragraph, and remove claims you cannot support."
		data["feedback"] = feedback
	}

	return pipeline.StageResult{
		Summary: fmt.Sprintf("Verification passed=%v across %d axes", passed, len(report.Scores)),
		Data:    data,
	}, nil
}

func (r *Runner) runRender(ctx context.Context, state *pipeline.State, opts RunOptions) (pipeline.StageResult, error) {
	_ = ctx
	synth, ok := state.StageOutputs[pipeline.StageSynthesize]
	if !ok {
		return pipeline.StageResult{}, fmt.Errorf("render: no synthesis output")
	}

	doc := render.Document{
		AgentSlug:       state.AgentSlug,
		SessionID:       state.SessionID,
		OriginalQuery:   r.originalQuery(state, opts),
		Synthesis:       synth.Text,
		SubQueries:      r.subQueries(state),
		Citations:       r.citations(state),
		SourceTexts:     r.sourceTexts(state),
		Scores:          r.verificationScores(state),
		WebReferences:   r.webReferences(state),
		PriorReferences: r.priorReferences(state),
		OutOfScopeNotes: r.outOfScope(state),
		DepthMode:       r.cfg.Orchestrator.Effort,
		RepairTriggered: r.repairTriggered(state),
	}
	if state.PreviousSessionID != "" {
		doc.FollowUpNumber = 1
	}

	path, err := r.renderer.WriteDocument(opts.OutputPath, doc)
	if err != nil {
		return pipeline.StageResult{}, fmt.Errorf("render: %w", err)
	}

	confidence := r.renderer.Confidence(doc.Scores)
	return pipeline.StageResult{
		Summary: fmt.Sprintf("Report written to %s", path),
		Data: map[string]interface{}{
			"output_path": path,
			"confidence":  confidence,
		},
	}, nil
}

// --- projections over prior stage outputs ---

func (r *Runner) renderConfig() config.RenderConfig {
	return config.DefaultRenderConfig().Merged(r.cfg.Render)
}

func (r *Runner) originalQuery(state *pipeline.State, opts RunOptions) string {
	if out, ok := state.StageOutputs[pipeline.StageAnalyze]; ok {
		if q, ok := out.Data["original_query"].(string); ok && q != "" {
			return q
		}
	}
	return opts.Query
}

// subQueries accepts both sub-query item shapes ("text" and "query").
func (r *Runner) subQueries(state *pipeline.State) []string {
	out, ok := state.StageOutputs[pipeline.StageAnalyze]
	if !ok {
		return nil
	}
	items, ok := out.Data["sub_queries"].([]interface{})
	if !ok {
		return nil
	}
	var queries []string
	for _, item := range items {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		if text, ok := m["text"].(string); ok && text != "" {
			queries = append(queries, text)
		} else if text, ok := m["query"].(string); ok && text != "" {
			queries = append(queries, text)
		}
	}
	return queries
}

func (r *Runner) entities(state *pipeline.State) []string {
	out, ok := state.StageOutputs[pipeline.StageAnalyze]
	if !ok {
		return nil
	}
	items, ok := out.Data["entities"].([]interface{})
	if !ok {
		return nil
	}
	var entities []string
	for _, item := range items {
		if s, ok := item.(string); ok {
			entities = append(entities, s)
		}
	}
	return entities
}

func (r *Runner) outOfScope(state *pipeline.State) []string {
	out, ok := state.StageOutputs[pipeline.StageAnalyze]
	if !ok {
		return nil
	}
	items, ok := out.Data["out_of_scope"].([]interface{})
	if !ok {
		return nil
	}
	var notes []string
	for _, item := range items {
		if s, ok := item.(string); ok {
			notes = append(notes, s)
		}
	}
	return notes
}

func (r *Runner) analysisHints(state *pipeline.State) []string {
	out, ok := state.StageOutputs[pipeline.StageCalibrate]
	if !ok {
		return nil
	}
	items, ok := out.Data["analysis_hints"].([]interface{})
	if !ok {
		return nil
	}
	var hints []string
	for _, item := range items {
		if s, ok := item.(string); ok {
			hints = append(hints, s)
		}
	}
	return hints
}

func (r *Runner) webReferences(state *pipeline.State) []render.WebReference {
	out, ok := state.StageOutputs[pipeline.StageCalibrate]
	if !ok {
		return nil
	}
	items, ok := out.Data["web_references"].([]interface{})
	if !ok {
		return nil
	}
	var refs []render.WebReference
	for _, item := range items {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		url, _ := m["url"].(string)
		insight, _ := m["insight"].(string)
		if url == "" {
			continue
		}
		refs = append(refs, render.WebReference{URL: url, Insight: insight})
	}
	return refs
}

func (r *Runner) retrievedParagraphs(state *pipeline.State) []toolbridge.ScoredParagraph {
	out, ok := state.StageOutputs[pipeline.StageRetrieve]
	if !ok {
		return nil
	}
	items, ok := out.Data["paragraphs"].([]interface{})
	if !ok {
		return nil
	}
	var paragraphs []toolbridge.ScoredParagraph
	for _, item := range items {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		p := toolbridge.ScoredParagraph{}
		p.ID, _ = m["id"].(string)
		p.Text, _ = m["text"].(string)
		p.Source, _ = m["source"].(string)
		p.Reference, _ = m["reference"].(string)
		if score, ok := m["score"].(float64); ok {
			p.Score = score
		}
		if depth, ok := m["hop_depth"].(float64); ok {
			p.HopDepth = int(depth)
		} else if depth, ok := m["hop_depth"].(int); ok {
			p.HopDepth = depth
		}
		if p.Text != "" {
			paragraphs = append(paragraphs, p)
		}
	}
	return paragraphs
}

func (r *Runner) sourceTexts(state *pipeline.State) map[string]string {
	out, ok := state.StageOutputs[pipeline.StageRetrieve]
	if !ok {
		return nil
	}
	raw, ok := out.Data["source_texts"].(map[string]interface{})
	if !ok {
		return nil
	}
	texts := make(map[string]string, len(raw))
	for ref, v := range raw {
		if s, ok := v.(string); ok {
			texts[ref] = s
		}
	}
	return texts
}

func (r *Runner) citations(state *pipeline.State) []toolbridge.Citation {
	out, ok := state.StageOutputs[pipeline.StageSynthesize]
	if !ok {
		return nil
	}
	items, ok := out.Data["citations"].([]interface{})
	if !ok {
		return nil
	}
	var citations []toolbridge.Citation
	for _, item := range items {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		ref, _ := m["reference"].(string)
		claim, _ := m["claim"].(string)
		if ref == "" {
			continue
		}
		citations = append(citations, toolbridge.Citation{Reference: ref, Claim: claim})
	}
	return citations
}

func (r *Runner) verificationScores(state *pipeline.State) map[string]float64 {
	out, ok := state.StageOutputs[pipeline.StageVerify]
	if !ok {
		return nil
	}
	raw, ok := out.Data["scores"].(map[string]interface{})
	if !ok {
		return nil
	}
	scores := make(map[string]float64, len(raw))
	for axis, v := range raw {
		if f, ok := v.(float64); ok {
			scores[axis] = f
		}
	}
	return scores
}

func (r *Runner) repairTriggered(state *pipeline.State) bool {
	out, ok := state.StageOutputs[pipeline.StageSynthesize]
	if !ok {
		return false
	}
	triggered, _ := out.Data["repair_triggered"].(bool)
	return triggered
}

// priorReferences exposes a prior session's sections to the renderer for
// follow-up runs. The compact block is carried in RunOptions context, so
// only the session linkage is rendered here.
func (r *Runner) priorReferences(state *pipeline.State) []render.PriorReference {
	if state.PreviousSessionID == "" {
		return nil
	}
	return []render.PriorReference{{
		ID:      state.PreviousSessionID,
		Heading: "Prior research session",
		Excerpt: "See the linked session's report for earlier findings.",
	}}
}

func (r *Runner) substep(sessionID string, stageID int, kind, message string) {
	if r.stream == nil {
		return
	}
	r.stream.Publish(streaming.Event{
		SessionID: sessionID,
		Type:      streaming.EventSubstep,
		Stage:     stageID,
		Substep:   kind,
		Message:   message,
	})
}
