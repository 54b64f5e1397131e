// Package orchestrator drives the research pipeline: stage sequencing,
// pauses, breakouts, the repair loop and budget enforcement. It owns no
// stage semantics; those live in the stage runner. Every state mutation
// is appended to the event log and persisted before the run proceeds,
// so a crash at any point leaves a resumable session on disk.
package orchestrator

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/verityaudit/deepresearch/internal/budget"
	"github.com/verityaudit/deepresearch/internal/config"
	"github.com/verityaudit/deepresearch/internal/metrics"
	"github.com/verityaudit/deepresearch/internal/pipeline"
	"github.com/verityaudit/deepresearch/internal/stage"
	"github.com/verityaudit/deepresearch/internal/streaming"
	"github.com/verityaudit/deepresearch/internal/util"
)

// Exit reasons recorded in the run summary.
const (
	ExitCompleted      = "completed"
	ExitPaused         = "paused"
	ExitBreakout       = "breakout"
	ExitBudgetExceeded = "budget_exceeded"
	ExitError          = "error"
)

// contextBudgetChars bounds the prior-session block injected into
// follow-up prompts before falling back to the compact summary.
const contextBudgetChars = 12000

// skipDirectiveRE matches a resume reply declining web calibration. It
// is consulted only when the resume re-enters at the calibration stage.
var skipDirectiveRE = regexp.MustCompile(`(?i)(^\s*(no|skip)\b|\bskip\b.*\b(web|search|calibrat)|\bwithout\b.*\bweb\b)`)

// StageRunner executes a single stage.
type StageRunner interface {
	Run(ctx context.Context, state *pipeline.State, stageID int, opts stage.RunOptions) (pipeline.StageResult, error)
}

// ToolSession is the external tool connection's lifecycle as the
// orchestrator sees it: released exactly once per run attempt, on every
// terminal transition except a pause.
type ToolSession interface {
	Close()
}

// RunRequest starts a fresh pipeline run.
type RunRequest struct {
	SessionID         string
	Query             string
	PreviousSessionID string
}

// Result is the outcome of one run attempt.
type Result struct {
	State      *pipeline.State
	Summary    *pipeline.Summary
	ExitReason string
}

// Orchestrator coordinates runs for one agent definition.
type Orchestrator struct {
	cfg     *config.AgentConfig
	runner  StageRunner
	session ToolSession
	stream  *streaming.Manager
	root    string
	logger  *zap.Logger
}

// New wires an orchestrator. session and stream may be nil; root is the
// directory session state is persisted under.
func New(cfg *config.AgentConfig, runner StageRunner, session ToolSession, stream *streaming.Manager, root string, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		cfg:     cfg,
		runner:  runner,
		session: session,
		stream:  stream,
		root:    root,
		logger:  logger,
	}
}

func (o *Orchestrator) paths(sessionID string) pipeline.Paths {
	return pipeline.Paths{Root: o.root, SessionID: sessionID}
}

// Run starts a fresh run from stage 0. A previous session id chains the
// run as a follow-up; its persisted context is injected into prompts.
func (o *Orchestrator) Run(ctx context.Context, req RunRequest) (*Result, error) {
	if req.Query == "" {
		return nil, fmt.Errorf("query is required")
	}
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	state := pipeline.New(sessionID, o.cfg.Slug, req.PreviousSessionID)
	env := &runEnv{
		query:   req.Query,
		tracker: budget.NewCostTracker(o.cfg.Orchestrator.BudgetUSD, o.logger),
	}
	if req.PreviousSessionID != "" {
		env.priorContext = o.loadPriorContext(req.PreviousSessionID)
	}

	o.logger.Info("Run started",
		zap.String("session_id", sessionID),
		zap.String("agent", o.cfg.Slug),
		zap.Bool("follow_up", req.PreviousSessionID != ""),
	)
	metrics.RunsStarted.WithLabelValues(o.cfg.Slug, "fresh").Inc()
	return o.advance(ctx, state, 0, env)
}

// Resume continues a paused run at the stage after the last completed
// one. The user's reply is pattern-matched for a web-calibration skip
// directive only when the resume re-enters at the calibration stage.
func (o *Orchestrator) Resume(ctx context.Context, sessionID, reply string) (*Result, error) {
	state := pipeline.LoadFrom(o.paths(sessionID).StateFile())
	if state == nil {
		return nil, fmt.Errorf("session %s: no persisted state", sessionID)
	}
	if !state.IsPaused() {
		return nil, fmt.Errorf("session %s is not paused", sessionID)
	}

	next := state.LastCompletedStageIndex() + 1
	env := &runEnv{
		query:   o.originalQuery(state),
		tracker: budget.NewCostTracker(o.cfg.Orchestrator.BudgetUSD, o.logger),
	}
	env.tracker.Restore(state.AccumulatedCostUSD())
	if state.PreviousSessionID != "" {
		env.priorContext = o.loadPriorContext(state.PreviousSessionID)
	}
	if next == pipeline.StageCalibrate && skipDirectiveRE.MatchString(reply) {
		env.skipWebSearch = true
	}

	state = o.record(state, pipeline.NewEvent(pipeline.EventResumed, next, map[string]interface{}{"reply": reply}))

	o.logger.Info("Run resumed",
		zap.String("session_id", sessionID),
		zap.Int("next_stage", next),
		zap.Bool("skip_web_search", env.skipWebSearch),
	)
	metrics.RunsStarted.WithLabelValues(o.cfg.Slug, "resume").Inc()
	return o.advance(ctx, state, next, env)
}

// NoteBreakoutPending records that the host signalled an imminent
// breakout while the run is paused. It mutates the log only; the
// breakout itself happens via Breakout.
func (o *Orchestrator) NoteBreakoutPending(sessionID string) error {
	return o.appendControlEvent(sessionID, pipeline.EventBreakoutPending)
}

// NoteBreakoutResumePending records that the host intends to resume a
// broken-out session.
func (o *Orchestrator) NoteBreakoutResumePending(sessionID string) error {
	return o.appendControlEvent(sessionID, pipeline.EventBreakoutResumePending)
}

func (o *Orchestrator) appendControlEvent(sessionID string, t pipeline.EventType) error {
	state := pipeline.LoadFrom(o.paths(sessionID).StateFile())
	if state == nil {
		return fmt.Errorf("session %s: no persisted state", sessionID)
	}
	state = state.AddEvent(pipeline.NewEvent(t, state.LastCompletedStageIndex(), nil))
	return state.SaveTo(o.paths(sessionID).StateFile())
}

// Breakout abandons a paused run: the pause is resolved, the partial
// state and summary are persisted, and the tool session is released.
// The session stays on disk so a later ResumeFromBreakout can pick the
// work back up.
func (o *Orchestrator) Breakout(ctx context.Context, sessionID string) (*Result, error) {
	_ = ctx
	state := pipeline.LoadFrom(o.paths(sessionID).StateFile())
	if state == nil {
		return nil, fmt.Errorf("session %s: no persisted state", sessionID)
	}
	if !state.IsPaused() {
		return nil, fmt.Errorf("session %s is not paused", sessionID)
	}

	state = o.record(state, pipeline.NewEvent(pipeline.EventBreakout, state.LastCompletedStageIndex(), nil))
	sum := o.writeSummary(state, ExitBreakout)
	o.publish(streaming.Event{SessionID: sessionID, Type: streaming.EventComplete, Message: ExitBreakout})
	metrics.RunsCompleted.WithLabelValues(o.cfg.Slug, ExitBreakout).Inc()
	o.releaseSession()

	o.logger.Info("Run broke out", zap.String("session_id", sessionID))
	return &Result{State: state, Summary: sum, ExitReason: ExitBreakout}, nil
}

// ResumeFromBreakout re-enters a broken-out session at fromStage,
// re-executing that stage and everything after it. fromStage may be at
// most one past the last completed stage.
func (o *Orchestrator) ResumeFromBreakout(ctx context.Context, sessionID string, fromStage int) (*Result, error) {
	state := pipeline.LoadFrom(o.paths(sessionID).StateFile())
	if state == nil {
		return nil, fmt.Errorf("session %s: no persisted state", sessionID)
	}
	if !state.IsResumableAfterBreakout() {
		return nil, fmt.Errorf("session %s is not resumable after breakout", sessionID)
	}
	if fromStage < 0 || fromStage > state.LastCompletedStageIndex()+1 {
		return nil, fmt.Errorf("session %s: cannot resume at stage %d (last completed %d)", sessionID, fromStage, state.LastCompletedStageIndex())
	}

	env := &runEnv{
		query:   o.originalQuery(state),
		tracker: budget.NewCostTracker(o.cfg.Orchestrator.BudgetUSD, o.logger),
	}
	env.tracker.Restore(state.AccumulatedCostUSD())
	if state.PreviousSessionID != "" {
		env.priorContext = o.loadPriorContext(state.PreviousSessionID)
	}

	state = o.record(state, pipeline.NewEvent(pipeline.EventResumeFromBreakout, fromStage, nil))

	o.logger.Info("Run resumed after breakout",
		zap.String("session_id", sessionID),
		zap.Int("from_stage", fromStage),
	)
	metrics.RunsStarted.WithLabelValues(o.cfg.Slug, "breakout_resume").Inc()
	return o.advance(ctx, state, fromStage, env)
}

// runEnv carries per-attempt inputs through the control loop.
type runEnv struct {
	query         string
	priorContext  string
	skipWebSearch bool
	tracker       *budget.CostTracker
	release       sync.Once
}

// advance is the control loop: it executes stages in order from start,
// honoring budget, repair units and pause points. It returns on the
// first terminal transition.
func (o *Orchestrator) advance(ctx context.Context, state *pipeline.State, start int, env *runEnv) (*Result, error) {
	metrics.ActiveRuns.Inc()
	defer metrics.ActiveRuns.Dec()

	for stageID := start; stageID < len(o.cfg.Stages); stageID++ {
		if env.tracker.Exceeded() {
			return o.finishBudget(state, env), nil
		}

		opts := stage.RunOptions{
			Query:        env.query,
			PriorContext: env.priorContext,
			OutputPath:   o.paths(state.SessionID).ReportFile(),
		}
		if stageID == pipeline.StageCalibrate && env.skipWebSearch {
			opts.SkipWebSearch = true
		}

		var result pipeline.StageResult
		var err error
		state, result, err = o.runStage(ctx, state, stageID, opts, env, 0)
		if err != nil {
			return o.finishError(state, stageID, err, env)
		}

		if unit, ok := o.cfg.RepairUnitForVerifier(stageID); ok && !stagePassed(result) {
			var failedStage int
			state, failedStage, err = o.repair(ctx, state, unit, opts, env)
			if err != nil {
				return o.finishError(state, failedStage, err, env)
			}
		}

		// Budget exhaustion dominates a pause point: a run that can no
		// longer afford its next stage must not sit waiting for input.
		if env.tracker.Exceeded() {
			return o.finishBudget(state, env), nil
		}

		if util.ContainsInt(o.cfg.PauseAfterStages, stageID) {
			return o.finishPaused(state, stageID), nil
		}
	}

	return o.finishCompleted(state, env), nil
}

// runStage executes one stage attempt, bracketing it with started and
// completed events and persisting after each.
func (o *Orchestrator) runStage(ctx context.Context, state *pipeline.State, stageID int, opts stage.RunOptions, env *runEnv, repairIteration int) (*pipeline.State, pipeline.StageResult, error) {
	startedData := map[string]interface{}{}
	if repairIteration > 0 {
		startedData["repair_iteration"] = repairIteration
	}
	state = o.record(state, pipeline.NewEvent(pipeline.EventStageStarted, stageID, startedData))
	o.publish(streaming.Event{SessionID: state.SessionID, Type: streaming.EventStageStart, Stage: stageID, Message: o.cfg.Stages[stageID].Name})

	began := time.Now()
	result, err := o.runner.Run(ctx, state, stageID, opts)
	metrics.StageDuration.WithLabelValues(o.cfg.Stages[stageID].Name).Observe(time.Since(began).Seconds())
	if err != nil {
		return state, pipeline.StageResult{}, err
	}

	cost := env.tracker.RecordUsage(stageID, o.cfg.Orchestrator.Model, result.Usage.InputTokens, result.Usage.OutputTokens)
	state = state.SetStageOutput(stageID, result)
	state = o.record(state, pipeline.NewEvent(pipeline.EventStageCompleted, stageID, map[string]interface{}{"cost_usd": cost}))
	o.publish(streaming.Event{SessionID: state.SessionID, Type: streaming.EventStageComplete, Stage: stageID, Message: result.Summary})
	return state, result, nil
}

// repair re-runs the producer/verifier pair with the verifier's
// feedback until verification passes or iterations are exhausted. The
// pipeline continues either way; an exhausted repair is recorded on the
// verifier output so the final document can qualify its confidence.
func (o *Orchestrator) repair(ctx context.Context, state *pipeline.State, unit config.RepairUnit, opts stage.RunOptions, env *runEnv) (*pipeline.State, int, error) {
	for i := 1; i <= unit.MaxIterations; i++ {
		if env.tracker.Exceeded() {
			return state, 0, nil
		}

		feedback, _ := state.StageOutputs[unit.Verifier()].Data[unit.FeedbackField].(string)
		metrics.RepairIterations.Inc()
		o.publish(streaming.Event{SessionID: state.SessionID, Type: streaming.EventRepairStart, Stage: unit.Producer(), Message: feedback})
		o.logger.Info("Repair iteration",
			zap.String("session_id", state.SessionID),
			zap.Int("iteration", i),
			zap.Int("producer", unit.Producer()),
		)

		producerOpts := opts
		producerOpts.RepairFeedback = feedback
		var err error
		state, _, err = o.runStage(ctx, state, unit.Producer(), producerOpts, env, i)
		if err != nil {
			return state, unit.Producer(), err
		}

		if env.tracker.Exceeded() {
			return state, 0, nil
		}

		var verdict pipeline.StageResult
		state, verdict, err = o.runStage(ctx, state, unit.Verifier(), opts, env, i)
		if err != nil {
			return state, unit.Verifier(), err
		}
		if stagePassed(verdict) {
			return state, 0, nil
		}
		if i == unit.MaxIterations {
			// Annotate a copy; the original map is aliased by earlier
			// state clones.
			data := make(map[string]interface{}, len(verdict.Data)+1)
			for k, v := range verdict.Data {
				data[k] = v
			}
			data["repair_exhausted"] = true
			verdict.Data = data
			state = state.SetStageOutput(unit.Verifier(), verdict)
			o.persist(state)
			o.logger.Warn("Repair exhausted, continuing with failing verification",
				zap.String("session_id", state.SessionID),
			)
		}
	}
	return state, 0, nil
}

func stagePassed(result pipeline.StageResult) bool {
	if result.Data == nil {
		return true
	}
	passed, ok := result.Data["passed"].(bool)
	if !ok {
		return true
	}
	return passed
}

// --- terminal transitions; each persists a summary exactly once ---

func (o *Orchestrator) finishCompleted(state *pipeline.State, env *runEnv) *Result {
	sum := o.writeSummary(state, ExitCompleted)
	o.publish(streaming.Event{SessionID: state.SessionID, Type: streaming.EventComplete, Message: ExitCompleted})
	metrics.RunsCompleted.WithLabelValues(o.cfg.Slug, ExitCompleted).Inc()
	metrics.RunCostUSD.Observe(env.tracker.TotalCostUSD())
	env.release.Do(o.releaseSession)

	o.logger.Info("Run completed",
		zap.String("session_id", state.SessionID),
		zap.Float64("cost_usd", env.tracker.TotalCostUSD()),
	)
	return &Result{State: state, Summary: sum, ExitReason: ExitCompleted}
}

func (o *Orchestrator) finishPaused(state *pipeline.State, stageID int) *Result {
	state = o.record(state, pipeline.NewEvent(pipeline.EventPauseRequested, stageID, nil))
	sum := o.writeSummary(state, ExitPaused)
	o.publish(streaming.Event{
		SessionID: state.SessionID,
		Type:      streaming.EventPause,
		Stage:     stageID,
		Message:   o.cfg.Stages[stageID].PauseInstructions,
	})
	metrics.RunsCompleted.WithLabelValues(o.cfg.Slug, ExitPaused).Inc()
	// The tool session stays open across a pause; only a terminal exit
	// releases it.

	o.logger.Info("Run paused",
		zap.String("session_id", state.SessionID),
		zap.Int("after_stage", stageID),
	)
	return &Result{State: state, Summary: sum, ExitReason: ExitPaused}
}

func (o *Orchestrator) finishBudget(state *pipeline.State, env *runEnv) *Result {
	sum := o.writeSummary(state, ExitBudgetExceeded)
	o.publish(streaming.Event{SessionID: state.SessionID, Type: streaming.EventBudgetExceeded, Message: fmt.Sprintf("spent %.4f of %.4f USD", env.tracker.TotalCostUSD(), env.tracker.BudgetUSD())})
	metrics.RunsCompleted.WithLabelValues(o.cfg.Slug, ExitBudgetExceeded).Inc()
	metrics.BudgetExceeded.Inc()
	metrics.RunCostUSD.Observe(env.tracker.TotalCostUSD())
	env.release.Do(o.releaseSession)

	o.logger.Warn("Run stopped by budget",
		zap.String("session_id", state.SessionID),
		zap.Float64("spent_usd", env.tracker.TotalCostUSD()),
		zap.Float64("budget_usd", env.tracker.BudgetUSD()),
	)
	return &Result{State: state, Summary: sum, ExitReason: ExitBudgetExceeded}
}

func (o *Orchestrator) finishError(state *pipeline.State, stageID int, err error, env *runEnv) (*Result, error) {
	state = o.record(state, pipeline.NewEvent(pipeline.EventStageFailed, stageID, map[string]interface{}{"error": err.Error()}))
	sum := o.writeSummary(state, ExitError)
	o.publish(streaming.Event{SessionID: state.SessionID, Type: streaming.EventError, Stage: stageID, Message: err.Error()})
	metrics.StageFailures.WithLabelValues(o.cfg.Stages[stageID].Name).Inc()
	metrics.RunsCompleted.WithLabelValues(o.cfg.Slug, ExitError).Inc()
	env.release.Do(o.releaseSession)

	o.logger.Error("Run failed",
		zap.String("session_id", state.SessionID),
		zap.Int("stage", stageID),
		zap.Error(err),
	)
	return &Result{State: state, Summary: sum, ExitReason: ExitError}, err
}

// --- persistence and plumbing ---

// record appends an event and persists the state file. Persistence
// failures are logged, not fatal: the in-memory run is still coherent
// and later saves retry with the full log.
func (o *Orchestrator) record(state *pipeline.State, evt pipeline.Event) *pipeline.State {
	state = state.AddEvent(evt)
	o.persist(state)
	return state
}

func (o *Orchestrator) persist(state *pipeline.State) {
	if err := state.SaveTo(o.paths(state.SessionID).StateFile()); err != nil {
		o.logger.Warn("State persistence failed",
			zap.String("session_id", state.SessionID),
			zap.Error(err),
		)
	}
}

func (o *Orchestrator) writeSummary(state *pipeline.State, exitReason string) *pipeline.Summary {
	sum := state.GenerateSummary(len(o.cfg.Stages), exitReason)
	if err := sum.SaveTo(o.paths(state.SessionID).SummaryFile()); err != nil {
		o.logger.Warn("Summary persistence failed",
			zap.String("session_id", state.SessionID),
			zap.Error(err),
		)
	}
	return sum
}

func (o *Orchestrator) loadPriorContext(previousSessionID string) string {
	prior := pipeline.LoadFrom(o.paths(previousSessionID).StateFile())
	sum := pipeline.LoadSummary(o.paths(previousSessionID).SummaryFile())
	if prior == nil && sum == nil {
		o.logger.Warn("No prior session context found", zap.String("previous_session_id", previousSessionID))
		return ""
	}
	block, mode := pipeline.RenderContext(prior, sum, contextBudgetChars)
	o.logger.Debug("Prior context loaded",
		zap.String("previous_session_id", previousSessionID),
		zap.String("mode", string(mode)),
	)
	return block
}

func (o *Orchestrator) originalQuery(state *pipeline.State) string {
	if out, ok := state.StageOutputs[pipeline.StageAnalyze]; ok {
		if q, ok := out.Data["original_query"].(string); ok {
			return q
		}
	}
	return ""
}

func (o *Orchestrator) releaseSession() {
	if o.session != nil {
		o.session.Close()
	}
}

func (o *Orchestrator) publish(evt streaming.Event) {
	if o.stream == nil {
		return
	}
	o.stream.Publish(evt)
}
