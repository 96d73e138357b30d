package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/Taoidle/plan-cascade/internal/agentdetect"
	"github.com/Taoidle/plan-cascade/internal/backend"
	"github.com/Taoidle/plan-cascade/internal/config"
	"github.com/Taoidle/plan-cascade/internal/gate"
	"github.com/Taoidle/plan-cascade/internal/logx"
	"github.com/Taoidle/plan-cascade/internal/metrics"
	"github.com/Taoidle/plan-cascade/internal/orchestrator"
	"github.com/Taoidle/plan-cascade/internal/pathstore"
	"github.com/Taoidle/plan-cascade/internal/plan"
	"github.com/Taoidle/plan-cascade/internal/retry"
	"github.com/Taoidle/plan-cascade/internal/strategy"
	"github.com/Taoidle/plan-cascade/internal/supervisor"
)

// checkDependencies verifies the binaries the engine itself shells out to
// (not the configured agent CLIs, which internal/agentdetect handles
// per-agent) are present before attempting a run.
func checkDependencies() error {
	var missing []string
	for _, bin := range []string{"git"} {
		if _, err := exec.LookPath(bin); err != nil {
			missing = append(missing, bin)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required binaries: %v", missing)
	}
	return nil
}

func main() {
	if len(os.Args) >= 2 && os.Args[1] == "classify" {
		handleClassify(os.Args[2:])
		return
	}
	if len(os.Args) >= 2 && os.Args[1] == "recover" {
		handleRecover(os.Args[2:])
		return
	}
	if len(os.Args) >= 2 && os.Args[1] == "secrets" {
		handleSecrets(os.Args[2:])
		return
	}

	var (
		projectDir   string
		mode         string
		maxIters     int
		metricsAddr  string
		agentOverride string
		backendCmd   string
		backendArgs  string
	)
	flag.StringVar(&projectDir, "projectdir", ".", "Project directory containing prd.json and cascade.yaml")
	flag.StringVar(&mode, "mode", "until_complete", "Iteration mode: until_complete | max_iterations | batch_complete")
	flag.IntVar(&maxIters, "max-iterations", 1, "Iteration cap when -mode=max_iterations")
	flag.StringVar(&metricsAddr, "metrics-addr", "", "If set, serve Prometheus metrics on this address (e.g. :9090)")
	flag.StringVar(&agentOverride, "agent", "", "Force every story to use this agent, bypassing the phase fallback chain")
	flag.StringVar(&backendCmd, "backend-command", "claude-code", "CLI binary the default backend launches")
	flag.StringVar(&backendArgs, "backend-args", "", "Space-separated argument template for the default backend")
	flag.Parse()

	fmt.Println("plan-cascade boot")

	if err := checkDependencies(); err != nil {
		fmt.Fprintln(os.Stderr, "dependency check failed:", err)
		os.Exit(1)
	}

	logger := logx.NewFromEnv("cascade", os.Stderr)

	cfg, err := config.Load(projectDir)
	if err != nil {
		logger.Error("loading config: %v", err)
		os.Exit(1)
	}

	store, err := pathstore.New(projectDir, logger)
	if err != nil {
		logger.Error("initializing state store: %v", err)
		os.Exit(1)
	}

	if status, err := orchestrator.DetectRecovery(projectDir, store); err == nil && status.NeedsRecovery {
		logger.Warn("recovery needed: mode=%s action=%s", status.Mode, status.ResumeAction)
	}

	sup := supervisor.New(store, logger)

	// The flag-configured backend is always registered under the
	// configured default agent's name, so it is reachable both as the
	// initial launch target and as the phase fallback chain's terminal
	// "always available" step (spec.md §4.7 step 7).
	sup.RegisterBackend(cfg.DefaultAgent, func() backend.Backend {
		return backend.NewExternalCLIBackend(config.AgentConfig{
			Type:       "cli",
			Command:    backendCmd,
			Args:       strings.Fields(backendArgs),
			TimeoutSec: int(cfg.DefaultGateTimeout / time.Second),
		}, logger)
	})

	// cascade.yaml's agents map (spec.md §6 agents.json) registers one
	// backend per named agent, so the Retry Manager's fallback chain
	// actually changes which backend executes a retry, not just which
	// name appears in its logs.
	for name, agentCfg := range cfg.Agents {
		agentCfg := agentCfg
		sup.RegisterBackend(name, func() backend.Backend {
			return backend.NewExternalCLIBackend(agentCfg, logger)
		})
	}

	detector := agentdetect.New(projectDir, cfg.AgentCacheTTL, logger)
	retryMgr := retry.NewManager(cfg.MaxRetryAttempts, detector, cfg.DefaultAgent)
	if agentOverride != "" {
		retryMgr.SetGlobalOverride(agentOverride)
	}
	retryMgr.ConfigurePhase(retry.PhaseImplementation, retry.PhaseAgents{
		Default:       cfg.DefaultAgent,
		FallbackChain: cfg.FallbackChain,
	})

	gateRunner := gate.NewRunner(logger)
	metricsRecorder := metrics.New()

	if metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metricsRecorder.Handler())
			logger.Info("serving metrics on %s", metricsAddr)
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				logger.Warn("metrics server stopped: %v", err)
			}
		}()
	}

	o := orchestrator.New(orchestrator.Options{
		Store:        store,
		Supervisor:   sup,
		Gates:        gateRunner,
		Retry:        retryMgr,
		Logger:       logger,
		Metrics:      metricsRecorder,
		BackendName:  cfg.DefaultAgent,
		Phase:        retry.PhaseImplementation,
		PollInterval: cfg.PollInterval,
		AgentTimeout: cfg.DefaultGateTimeout,
		WaitTimeout:  30 * time.Minute,
		GateProvider: orchestrator.GateConfigProviderFunc(defaultGatesFor),
		Prompter:     orchestrator.PrompterFunc(defaultPrompt),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Warn("signal received, requesting cooperative stop")
		o.Stop()
	}()

	go drainEvents(o, logger)

	if err := o.Run(ctx, orchestrator.Mode(mode), maxIters); err != nil {
		logger.Error("orchestrator run failed: %v", err)
		os.Exit(1)
	}
	logger.Info("run complete")
}

func drainEvents(o *orchestrator.Orchestrator, logger *logx.Logger) {
	for ev := range o.Events() {
		switch ev.Kind {
		case orchestrator.EventStoryStarted:
			logger.Info("story %s started with agent %s", ev.StoryID, ev.Agent)
		case orchestrator.EventStoryFinished:
			logger.Info("story %s finished success=%v", ev.StoryID, ev.Success)
		case orchestrator.EventGateResult:
			logger.Info("story %s gate %s passed=%v", ev.StoryID, ev.GateName, ev.Success)
		case orchestrator.EventRetryDecided:
			logger.Info("story %s retry decision: %s", ev.StoryID, ev.RetryInfo)
		}
	}
}

// defaultGatesFor returns the standard typecheck/test/lint trio, auto-
// detected, with typecheck and test required and lint optional, matching
// spec.md §4.6's default table.
func defaultGatesFor(s plan.Story) []gate.GateConfig {
	return []gate.GateConfig{
		{Name: "typecheck", Type: gate.GateTypecheck, Enabled: true, Required: true},
		{Name: "test", Type: gate.GateTest, Enabled: true, Required: true},
		{Name: "lint", Type: gate.GateLint, Enabled: true, Required: false},
	}
}

func defaultPrompt(s plan.Story) string {
	prompt := fmt.Sprintf("Story: %s\n\n%s\n\nAcceptance criteria:\n", s.Title, s.Description)
	for _, c := range s.AcceptanceCriteria {
		prompt += "- " + c + "\n"
	}
	return prompt
}

func handleClassify(args []string) {
	fs := flag.NewFlagSet("classify", flag.ExitOnError)
	description := fs.String("description", "", "Free-text task description to classify")
	_ = fs.Parse(args)

	if *description == "" {
		fmt.Fprintln(os.Stderr, "classify: -description is required")
		os.Exit(1)
	}

	decision := strategy.HeuristicClassify(*description)
	fmt.Printf("strategy: %s (confidence=%.2f)\nreasoning: %s\n", decision.Kind, decision.Confidence, decision.Reasoning)
}

func handleRecover(args []string) {
	fs := flag.NewFlagSet("recover", flag.ExitOnError)
	projectDir := fs.String("projectdir", ".", "Project directory")
	_ = fs.Parse(args)

	logger := logx.NewFromEnv("cascade", os.Stderr)
	store, err := pathstore.New(*projectDir, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, "recover:", err)
		os.Exit(1)
	}
	status, err := orchestrator.DetectRecovery(*projectDir, store)
	if err != nil {
		fmt.Fprintln(os.Stderr, "recover:", err)
		os.Exit(1)
	}
	fmt.Printf("mode=%s needs_recovery=%v action=%q\n", status.Mode, status.NeedsRecovery, status.ResumeAction)
}

// handleSecrets interactively seals a model's API key into cascade.yaml as
// EncryptedAPIKey, so credentials can be committed alongside the rest of the
// project config instead of living only in the environment.
func handleSecrets(args []string) {
	fs := flag.NewFlagSet("secrets", flag.ExitOnError)
	projectDir := fs.String("projectdir", ".", "Project directory")
	model := fs.String("model", "", "Model name to seal an api key for (required)")
	provider := fs.String("provider", "", "Provider for the model entry, if it doesn't already exist")
	_ = fs.Parse(args)

	if *model == "" {
		fmt.Fprintln(os.Stderr, "secrets: -model is required")
		os.Exit(1)
	}

	apiKey, err := promptHidden("Enter API key: ")
	if err != nil {
		fmt.Fprintln(os.Stderr, "secrets:", err)
		os.Exit(1)
	}
	password, err := promptHidden("Enter encryption password: ")
	if err != nil {
		fmt.Fprintln(os.Stderr, "secrets:", err)
		os.Exit(1)
	}

	if err := config.SetModelSecret(*projectDir, *model, *provider, apiKey, password); err != nil {
		fmt.Fprintln(os.Stderr, "secrets:", err)
		os.Exit(1)
	}
	fmt.Printf("encrypted api key for model %q written to cascade.yaml\n", *model)
}

// promptHidden prompts for a line of input without echoing it to the
// terminal, matching the teacher's secrets-password prompt.
func promptHidden(prompt string) (string, error) {
	fmt.Print(prompt)
	raw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("reading input: %w", err)
	}
	value := string(raw)
	for i := range raw {
		raw[i] = 0
	}
	return value, nil
}
