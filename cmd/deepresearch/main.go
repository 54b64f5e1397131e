package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/verityaudit/deepresearch/internal/config"
	"github.com/verityaudit/deepresearch/internal/health"
	"github.com/verityaudit/deepresearch/internal/llm"
	_ "github.com/verityaudit/deepresearch/internal/metrics" // register collectors
	"github.com/verityaudit/deepresearch/internal/orchestrator"
	"github.com/verityaudit/deepresearch/internal/render"
	"github.com/verityaudit/deepresearch/internal/stage"
	"github.com/verityaudit/deepresearch/internal/streaming"
	"github.com/verityaudit/deepresearch/internal/toolbridge"
)

func main() {
	var (
		configPath = flag.String("config", "", "agent definition YAML (or AGENT_CONFIG_PATH)")
		query      = flag.String("query", "", "research question for a fresh run")
		previous   = flag.String("previous", "", "prior session id for a follow-up run")
		session    = flag.String("session", "", "session id (required for resume/breakout)")
		resume     = flag.String("resume", "", "resume a paused session with this reply")
		breakout   = flag.Bool("breakout", false, "break out of a paused session")
		fromStage  = flag.Int("resume-from-breakout", -1, "re-enter a broken-out session at this stage")
		root       = flag.String("sessions-dir", "sessions", "directory session state is persisted under")
		initConfig = flag.String("init-config", "", "write the default agent definition to this path and exit")
	)
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	if *initConfig != "" {
		if err := config.WriteExample(*initConfig, "isa-research"); err != nil {
			logger.Fatal("Config scaffold failed", zap.Error(err))
		}
		fmt.Printf("wrote %s\n", *initConfig)
		return
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		logger.Fatal("Agent config load failed", zap.Error(err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sessionsRoot := *root
	if cfg.Output.Dir != "" {
		sessionsRoot = cfg.Output.Dir
	}

	hm := health.NewManager(logger)
	hm.Register(health.SessionsDirChecker{Dir: sessionsRoot})
	if base := os.Getenv("LLM_SERVICE_URL"); base != "" {
		hm.Register(health.HTTPChecker{CheckName: "llm_service", URL: base + "/health"})
	}
	startAdminServer(hm, logger)

	// LLM client, rate limited per the agent definition and wrapped in a
	// circuit breaker so a dead service fails runs fast.
	var client llm.Client = llm.NewHTTPClient("", logger)
	client = llm.NewRateLimited(client, cfg.Orchestrator.RequestsPerMinute)
	client = llm.NewBreaker(client, llm.DefaultBreakerConfig(), logger)

	// Tool server connection. A run can proceed without one; the stage
	// runner degrades retrieval-dependent stages accordingly.
	var bridge toolbridge.Bridge
	var toolSession orchestrator.ToolSession
	if cfg.Transport != nil {
		lifecycle := toolbridge.NewLifecycle(logger)
		mcpClient, err := lifecycle.Connect(ctx, *cfg.Transport)
		if err != nil {
			logger.Fatal("Tool server connection failed", zap.Error(err))
		}
		bridge = toolbridge.NewMCPBridge(mcpClient, logger)
		toolSession = lifecycle
	}

	stream := streaming.NewManager(getEnvOrDefaultInt("STREAMING_RING_CAPACITY", 256))

	renderCfg := config.DefaultRenderConfig().Merged(cfg.Render)
	renderer := render.NewRenderer(renderCfg, logger)
	runner, err := stage.NewRunner(client, bridge, cfg, renderer, stream, logger)
	if err != nil {
		logger.Fatal("Stage runner init failed", zap.Error(err))
	}

	orch := orchestrator.New(cfg, runner, toolSession, stream, sessionsRoot, logger)

	result, err := dispatch(ctx, orch, stream, *query, *previous, *session, *resume, *breakout, *fromStage)
	if err != nil {
		logger.Error("Run ended with error", zap.Error(err))
		os.Exit(1)
	}

	fmt.Printf("session: %s\n", result.State.SessionID)
	fmt.Printf("exit: %s\n", result.ExitReason)
	if result.Summary != nil && result.Summary.OutputPath != "" {
		fmt.Printf("report: %s\n", result.Summary.OutputPath)
	}
	if result.ExitReason == orchestrator.ExitPaused {
		next := result.State.LastCompletedStageIndex()
		fmt.Printf("paused after stage %d; resume with -session %s -resume \"<reply>\"\n", next, result.State.SessionID)
	}
}

func dispatch(ctx context.Context, orch *orchestrator.Orchestrator, stream *streaming.Manager, query, previous, session, resume string, breakout bool, fromStage int) (*orchestrator.Result, error) {
	switch {
	case breakout:
		if session == "" {
			return nil, fmt.Errorf("-breakout requires -session")
		}
		return orch.Breakout(ctx, session)
	case fromStage >= 0:
		if session == "" {
			return nil, fmt.Errorf("-resume-from-breakout requires -session")
		}
		echoProgress(stream, session)
		return orch.ResumeFromBreakout(ctx, session, fromStage)
	case resume != "":
		if session == "" {
			return nil, fmt.Errorf("-resume requires -session")
		}
		echoProgress(stream, session)
		return orch.Resume(ctx, session, resume)
	case query != "":
		if session == "" {
			echoAllProgress(stream)
		} else {
			echoProgress(stream, session)
		}
		return orch.Run(ctx, orchestrator.RunRequest{SessionID: session, Query: query, PreviousSessionID: previous})
	default:
		return nil, fmt.Errorf("one of -query, -resume, -breakout or -resume-from-breakout is required")
	}
}

// echoProgress mirrors the session's stream events to stdout while the
// run executes.
func echoProgress(stream *streaming.Manager, sessionID string) {
	ch := stream.Subscribe(sessionID, 64)
	go func() {
		for evt := range ch {
			printEvent(evt)
		}
	}()
}

// echoAllProgress is used for fresh runs where the session id is
// generated inside the orchestrator: the first event names it.
func echoAllProgress(stream *streaming.Manager) {
	ch := stream.Subscribe("", 64)
	go func() {
		for evt := range ch {
			printEvent(evt)
		}
	}()
}

func printEvent(evt streaming.Event) {
	switch evt.Type {
	case streaming.EventSubstep:
		fmt.Printf("  [%d] %s: %s\n", evt.Stage, evt.Substep, evt.Message)
	default:
		fmt.Printf("[%d] %s %s\n", evt.Stage, evt.Type, evt.Message)
	}
}

func loadConfig(path string) (*config.AgentConfig, error) {
	if path == "" && os.Getenv("AGENT_CONFIG_PATH") == "" {
		return config.DefaultAgentConfig("isa-research"), nil
	}
	return config.Load(path)
}

func startAdminServer(hm *health.Manager, logger *zap.Logger) {
	port := getEnvOrDefaultInt("METRICS_PORT", 2112)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	hm.RegisterRoutes(mux)
	go func() {
		server := &http.Server{
			Addr:         ":" + strconv.Itoa(port),
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		logger.Info("Admin HTTP server listening", zap.Int("port", port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("Admin HTTP server stopped", zap.Error(err))
		}
	}()
}

func getEnvOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
