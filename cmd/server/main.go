package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	agenticrag "github.com/changxeokSong/agentic-rag"
	"github.com/changxeokSong/agentic-rag/internal/adapters"
	"github.com/changxeokSong/agentic-rag/internal/automation"
	"github.com/changxeokSong/agentic-rag/internal/cache"
	"github.com/changxeokSong/agentic-rag/internal/eventbus"
	"github.com/changxeokSong/agentic-rag/internal/executor"
	"github.com/changxeokSong/agentic-rag/internal/forecast"
	"github.com/changxeokSong/agentic-rag/internal/hardware"
	"github.com/changxeokSong/agentic-rag/internal/prompt"
	"github.com/changxeokSong/agentic-rag/internal/storage"
	"github.com/changxeokSong/agentic-rag/internal/tools"
)

var (
	flagConfig      string
	flagDatabase    string
	flagGatewayAddr string
	flagWeatherURL  string
	flagArm         bool
)

func main() {
	root := &cobra.Command{
		Use:           "agentic-rag",
		Short:         "Tool-orchestrated assistant with autonomous water level control",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flagConfig, "config", "", "path to a YAML configuration file")
	root.PersistentFlags().StringVar(&flagDatabase, "db", "agentic-rag.db", "path to the SQLite database")
	root.PersistentFlags().StringVar(&flagGatewayAddr, "gateway-addr", "localhost:9600", "address of the sensor gateway")
	root.PersistentFlags().StringVar(&flagWeatherURL, "weather-url", "https://wttr.in", "base URL of the weather service")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run an interactive session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
	serveCmd.Flags().BoolVar(&flagArm, "arm", false, "arm the automation loop on startup")

	askCmd := &cobra.Command{
		Use:   "ask [query]",
		Short: "Answer a single request and exit",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd.Context(), strings.Join(args, " "))
		},
	}

	automationCmd := &cobra.Command{
		Use:   "automation [status|tick]",
		Short: "Inspect or single-step the control loop",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAutomation(cmd.Context(), args[0])
		},
	}

	root.AddCommand(serveCmd, askCmd, automationCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// runtime bundles everything a command needs after wiring.
type runtime struct {
	agent   *agenticrag.Agent
	manager *automation.Manager
	store   *storage.Store
	gateway hardware.Gateway
	log     zerolog.Logger
}

func (rt *runtime) Close() {
	_ = rt.manager.Disarm(context.Background())
	_ = rt.agent.Close()
	_ = rt.gateway.Close()
	_ = rt.store.Close()
}

func setup(ctx context.Context) (*runtime, error) {
	_ = godotenv.Load()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		With().Timestamp().Logger()

	cfg := agenticrag.DefaultConfig()
	if flagConfig != "" {
		loaded, err := agenticrag.LoadConfig(flagConfig)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if os.Getenv("GEMINI_API_KEY") == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY environment variable not set")
	}

	promptRegistry, err := prompt.NewRegistry(ctx,
		genkit.WithPlugins(&googlegenai.GoogleAI{}),
		genkit.WithDefaultModel("googleai/gemini-2.0-flash"),
	)
	if err != nil {
		return nil, err
	}
	g := promptRegistry.Genkit()

	store, err := storage.Open(flagDatabase, log)
	if err != nil {
		return nil, err
	}

	gateway := hardware.NewLineGateway(func(ctx context.Context) (io.ReadWriteCloser, error) {
		var d net.Dialer
		return d.DialContext(ctx, "tcp", flagGatewayAddr)
	}, log)

	bus := eventbus.NewChannelEventBus(eventbus.WithLogger(log))
	trendForecaster := forecast.NewTrendForecaster(forecast.DefaultWindow)

	dispatch := executor.NewExecutor(
		executor.WithMaxWorkers(cfg.MaxConcurrency),
		executor.WithToolTimeout(cfg.ToolTimeout),
		executor.WithLogger(log),
	)

	// The pump control tool reports manual commands to the manager, which is
	// created after the registry. The closure closes over the late-bound
	// pointer.
	var manager *automation.Manager
	recorder := func(site, pump string, on bool) {
		if manager != nil {
			manager.RecordManualActuation(site, pump, on)
		}
	}

	registry := agenticrag.NewRegistry()
	horizon := agenticrag.DefaultThresholds().ForecastHorizon
	if len(cfg.Automation.Sites) > 0 {
		horizon = cfg.Automation.Sites[0].Thresholds.ForecastHorizon
	}
	for _, tool := range []agenticrag.Tool{
		tools.NewCalculateTool(),
		tools.NewWeatherTool(flagWeatherURL, nil),
		tools.NewSearchDocumentsTool(store),
		tools.NewListFilesTool(store),
		tools.NewSaveDocumentTool(store),
		tools.NewReadLevelTool(gateway),
		tools.NewPumpControlTool(gateway, recorder),
		tools.NewForecastLevelTool(trendForecaster, store, horizon),
		tools.NewLevelHistoryTool(store),
	} {
		if err := registry.Register(tool); err != nil {
			return nil, err
		}
	}

	manager = automation.NewManager(cfg, dispatch, registry.Snapshot,
		automation.WithStore(store),
		automation.WithForecaster(trendForecaster),
		automation.WithEventBus(bus),
		automation.WithLogger(log),
	)
	if err := registry.Register(tools.NewAutomationControlTool(manager)); err != nil {
		return nil, err
	}

	analyzerFlow := genkit.DefineFlow(g, "analyzerFlow",
		func(ctx context.Context, input *agenticrag.AnalyzerInput) (*adapters.IntentEnvelope, error) {
			schemaJSON, err := json.MarshalIndent(input.ToolSchema, "", "  ")
			if err != nil {
				return nil, fmt.Errorf("rendering tool schema: %w", err)
			}
			resp, err := promptRegistry.ExecutePrompt(ctx, prompt.PromptAnalyzer, map[string]interface{}{
				"toolSchema": string(schemaJSON),
				"history":    renderHistory(input.History),
				"repairHint": input.RepairHint,
				"query":      input.Query,
			})
			if err != nil {
				return nil, err
			}
			return &adapters.IntentEnvelope{Raw: resp.Text()}, nil
		},
	)

	synthesizerFlow := genkit.DefineFlow(g, "synthesizerFlow",
		func(ctx context.Context, input *adapters.SynthesisInput) (string, error) {
			promptName := prompt.PromptSynthesizer
			if strings.HasPrefix(input.Digest, "No tools were used") {
				promptName = prompt.PromptConversational
			}
			resp, err := promptRegistry.ExecutePrompt(ctx, promptName, map[string]interface{}{
				"query":   input.Query,
				"history": renderHistory(input.History),
				"digest":  input.Digest,
			})
			if err != nil {
				return "", err
			}
			return resp.Text(), nil
		},
	)

	var analysisCache agenticrag.Cache
	if cfg.AnalysisCacheTTL > 0 {
		analysisCache = cache.NewInMemoryCache(cfg.AnalysisCacheTTL, cache.WithLogger(log))
	}

	agent, err := agenticrag.New(ctx,
		agenticrag.WithConfig(cfg),
		agenticrag.WithAnalyzer(adapters.NewGenkitAnalyzerAdapter(analyzerFlow, analysisCache, log)),
		agenticrag.WithExecutor(dispatch),
		agenticrag.WithSynthesizer(adapters.NewGenkitSynthesizerAdapter(synthesizerFlow)),
		agenticrag.WithRegistry(registry),
		agenticrag.WithEventBus(bus),
		agenticrag.WithLogger(log),
	)
	if err != nil {
		return nil, err
	}

	return &runtime{
		agent:   agent,
		manager: manager,
		store:   store,
		gateway: gateway,
		log:     log,
	}, nil
}

func runServe(ctx context.Context) error {
	rt, err := setup(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	if flagArm {
		if err := rt.manager.Arm(ctx); err != nil {
			return err
		}
	}

	fmt.Println("Ready. Type a request, or :quit to exit.")
	conv := &agenticrag.Conversation{}
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == ":quit" || line == ":q" {
			break
		}

		answer, err := rt.agent.Handle(ctx, line, conv)
		if err != nil {
			rt.log.Error().Err(err).Msg("request failed")
			fmt.Println("Sorry, that request could not be completed:", err)
			continue
		}
		fmt.Println(answer)
	}
	return scanner.Err()
}

func runAsk(ctx context.Context, query string) error {
	rt, err := setup(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	answer, err := rt.agent.Handle(ctx, query, nil)
	if err != nil {
		return err
	}
	fmt.Println(answer)
	return nil
}

func runAutomation(ctx context.Context, action string) error {
	rt, err := setup(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	switch action {
	case "tick":
		rt.manager.Tick(ctx)
	case "status":
	default:
		return fmt.Errorf("unknown automation action %q, want status or tick", action)
	}

	out, err := json.MarshalIndent(rt.manager.Status(), "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

// renderHistory flattens prior turns into prompt-ready text.
func renderHistory(history []agenticrag.Turn) string {
	if len(history) == 0 {
		return ""
	}
	var b strings.Builder
	for _, turn := range history {
		fmt.Fprintf(&b, "%s: %s\n", turn.Role, turn.Content)
	}
	return strings.TrimSpace(b.String())
}
