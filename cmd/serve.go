package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/agentgate/internal/config"
	"github.com/nextlevelbuilder/agentgate/internal/gateway"
	httpapi "github.com/nextlevelbuilder/agentgate/internal/http"
	"github.com/nextlevelbuilder/agentgate/internal/mcp"
	"github.com/nextlevelbuilder/agentgate/internal/metrics"
	"github.com/nextlevelbuilder/agentgate/internal/providers"
	"github.com/nextlevelbuilder/agentgate/internal/runtime"
	"github.com/nextlevelbuilder/agentgate/internal/runtime/remote"
	"github.com/nextlevelbuilder/agentgate/internal/sandbox"
	"github.com/nextlevelbuilder/agentgate/internal/search"
	"github.com/nextlevelbuilder/agentgate/internal/sessions"
	"github.com/nextlevelbuilder/agentgate/internal/skills"
	"github.com/nextlevelbuilder/agentgate/internal/store"
	"github.com/nextlevelbuilder/agentgate/internal/store/lite"
	"github.com/nextlevelbuilder/agentgate/internal/store/pg"
	"github.com/nextlevelbuilder/agentgate/internal/telemetry"
	"github.com/nextlevelbuilder/agentgate/internal/tools"
	"github.com/nextlevelbuilder/agentgate/internal/trace"
	"github.com/nextlevelbuilder/agentgate/internal/turn"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the agent gateway",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func runServe() {
	// Setup structured logging
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	// Load config
	cfgPath := resolveConfigPath()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// No key means the runtime can't talk to the model. Point the user at
	// the wizard on a fresh install, at their env file otherwise.
	if cfg.Provider.APIKey == "" && cfg.Runtime.Transport != "websocket" {
		if _, statErr := os.Stat(cfgPath); statErr == nil {
			envPath := filepath.Join(filepath.Dir(cfgPath), ".env.local")
			fmt.Println("No Anthropic API key found.")
			fmt.Println()
			fmt.Printf("  Add ANTHROPIC_API_KEY=<key> to %s (loaded automatically),\n", envPath)
			fmt.Println("  export it in your shell, or re-run the setup wizard:")
			fmt.Println()
			fmt.Println("  ./agentgate onboard")
			os.Exit(1)
		}
		fmt.Println("No configuration found. Starting setup wizard...")
		fmt.Println()
		runOnboard()
		return
	}

	// Working directories
	traceDir := cfg.TraceDir()
	sandboxRoot := cfg.SandboxRoot()
	os.MkdirAll(traceDir, 0755)
	os.MkdirAll(sandboxRoot, 0755)

	// Sandbox policy engine
	policy, err := sandbox.New(cfg.Sandbox, cfg.WriteRoots())
	if err != nil {
		slog.Error("invalid sandbox policy", "error", err)
		os.Exit(1)
	}

	collector := metrics.NewCollector()
	sessionStore := sessions.NewStore()

	// Skills registry
	skillsReg := skills.NewRegistry(config.ExpandHome(cfg.Skills.Dir))
	if err := skillsReg.Load(); err != nil {
		slog.Warn("skills load failed", "dir", skillsReg.Dir(), "error", err)
	} else {
		slog.Info("skills loaded", "dir", skillsReg.Dir(), "count", skillsReg.Len())
	}

	searchClient := search.New(cfg.Search)
	if !searchClient.Configured() {
		slog.Info("search proxy disabled, no API key configured")
	}

	// Trace index: postgres in managed mode, sqlite beside the trace dir
	// otherwise. A broken standalone index degrades to directory scans.
	var index store.TraceIndex
	if cfg.IsManagedMode() {
		idx, openErr := pg.Open(cfg.Storage.PostgresDSN)
		if openErr != nil {
			slog.Error("managed mode: postgres trace index unavailable", "error", openErr)
			os.Exit(1)
		}
		index = idx
		slog.Info("trace index ready", "backend", "postgres")
	} else {
		path := cfg.Storage.SQLitePath
		if path == "" {
			path = filepath.Join(traceDir, "traces.db")
		}
		idx, openErr := lite.Open(path)
		if openErr != nil {
			slog.Warn("sqlite trace index unavailable, falling back to directory scans", "path", path, "error", openErr)
		} else {
			index = idx
			slog.Info("trace index ready", "backend", "sqlite", "path", path)
		}
	}
	if index != nil {
		defer index.Close()
	}

	// Graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("graceful shutdown initiated", "signal", sig)
		cancel()
	}()

	// OTel OTLP export: compiled via build tags. Build with 'go build -tags otel' to enable.
	telemetryShutdown, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		slog.Warn("telemetry init failed", "error", err)
	} else {
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			telemetryShutdown(shutdownCtx)
		}()
	}

	// MCP servers
	mcpMgr := mcp.NewManager(cfg.MCP.Servers)
	if err := mcpMgr.Start(ctx); err != nil {
		slog.Warn("mcp.startup_errors", "error", err)
	}
	defer mcpMgr.Close()
	if len(cfg.MCP.Servers) > 0 {
		slog.Info("MCP servers initialized", "configured", len(cfg.MCP.Servers), "tools", len(mcpMgr.AllowedToolNames()))
	}

	// Runtime transport: in-process engine by default, websocket client when
	// a remote runtime is configured.
	var transport runtime.Transport
	var toolNames []string
	var warm httpapi.WarmupFunc

	switch cfg.Runtime.Transport {
	case "websocket":
		transport = remote.New(cfg.Runtime.URL)
		toolNames = []string{"Read", "Write", "Edit", "Glob", "Grep", "Bash", "Task", "WebFetch"}
		slog.Info("runtime transport", "kind", "websocket", "url", cfg.Runtime.URL)
	default:
		provider := providers.NewAnthropicProvider(cfg.Provider.APIKey,
			providers.WithAnthropicModel(cfg.Runtime.Model),
			providers.WithAnthropicBaseURL(cfg.Provider.BaseURL),
			providers.WithAnthropicVersion(cfg.Provider.Version),
		)

		toolsReg := tools.NewRegistry()
		toolsReg.Register(tools.NewReadTool(sandboxRoot))
		toolsReg.Register(tools.NewWriteTool(sandboxRoot))
		toolsReg.Register(tools.NewEditTool(sandboxRoot))
		toolsReg.Register(tools.NewGlobTool(sandboxRoot))
		toolsReg.Register(tools.NewGrepTool(sandboxRoot))
		toolsReg.Register(tools.NewBashTool(sandboxRoot))
		toolsReg.Register(tools.NewWebFetchTool())

		engine := runtime.NewEngine(runtime.EngineConfig{
			Provider:  provider,
			Tools:     toolsReg,
			MCP:       mcpMgr,
			MaxTokens: cfg.Runtime.MaxTokens,
		})
		toolsReg.Register(tools.NewTaskTool(engine.Spawn))

		transport = engine
		toolNames = toolsReg.Names()
		warm = warmupProbe(provider)
		slog.Info("runtime transport", "kind", "inprocess", "model", cfg.Runtime.Model, "tools", len(toolNames))
	}

	// Monitor hub + turn pipeline
	hub := gateway.NewHub(cfg.Gateway.AllowedOrigins)

	coordinator := turn.NewCoordinator(turn.Deps{
		Transport:     transport,
		Policy:        policy,
		Metrics:       collector,
		Sessions:      sessionStore,
		Index:         index,
		MCP:           mcpMgr,
		Events:        hub,
		ToolNames:     toolNames,
		Runtime:       cfg.Runtime,
		MCPServers:    cfg.MCP.Servers,
		TraceDir:      traceDir,
		PublicBaseURL: publicBaseURL(cfg),
	})

	server := gateway.NewServer(cfg, hub, gateway.Handlers{
		Chat:     httpapi.NewChatHandler(coordinator),
		Traces:   httpapi.NewTracesHandler(traceDir, index),
		Metrics:  httpapi.NewMetricsHandler(collector),
		Skills:   httpapi.NewSkillsHandler(skillsReg),
		Search:   httpapi.NewSearchHandler(searchClient),
		Sessions: httpapi.NewSessionsHandler(sessionStore),
		System:   httpapi.NewSystemHandler(Version, warm),
	})

	// Skills directory watcher picks up new/removed/modified skills at
	// runtime. Watch blocks until ctx ends, so it gets its own goroutine;
	// a watcher failure degrades to load-at-startup skills.
	go func() {
		if err := skillsReg.Watch(ctx); err != nil {
			slog.Warn("skills watcher unavailable", "error", err)
		}
	}()

	janitor := &trace.Janitor{
		Dir:           traceDir,
		Schedule:      cfg.Trace.JanitorSchedule,
		RetentionDays: cfg.Trace.RetentionDays,
		Index:         index,
	}

	slog.Info("agentgate starting",
		"version", Version,
		"mode", cfg.Storage.Mode,
		"transport", cfg.Runtime.Transport,
		"addr", fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.Port),
	)

	// Tailscale listener: serve the same handler on a tailnet hostname.
	// Compiled via build tags: `go build -tags tsnet` to enable.
	tsCleanup := initTailscale(ctx, cfg, server.Handler())
	if tsCleanup != nil {
		defer tsCleanup()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Start(gctx) })
	g.Go(func() error { return janitor.Run(gctx) })
	if index != nil {
		// Backfill rows for trace files written while the index was
		// unavailable (or by an older build without one).
		g.Go(func() error {
			added, rerr := store.Reconcile(gctx, index, traceDir)
			switch {
			case rerr != nil && !errors.Is(rerr, context.Canceled):
				slog.Warn("index reconcile incomplete", "backfilled", added, "error", rerr)
			case added > 0:
				slog.Info("index reconcile complete", "backfilled", added)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("gateway error", "error", err)
		os.Exit(1)
	}
}

// warmupProbe returns the /api/warmup readiness check: a one-token model
// call through the same client the turns use, so a verified warmup means
// auth, endpoint and model name all resolve.
func warmupProbe(provider providers.Provider) httpapi.WarmupFunc {
	return func(ctx context.Context) error {
		_, err := provider.Chat(ctx, providers.ChatRequest{
			Messages:  []providers.Message{providers.UserText("hi")},
			MaxTokens: 1,
		})
		return err
	}
}

// publicBaseURL resolves the base for /sandbox artifact links. Wildcard
// bind addresses are useless in a URL, so they fall back to localhost.
func publicBaseURL(cfg *config.Config) string {
	if cfg.Gateway.PublicBaseURL != "" {
		return cfg.Gateway.PublicBaseURL
	}
	host := cfg.Gateway.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return fmt.Sprintf("http://%s:%d", host, cfg.Gateway.Port)
}
