package commands

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/rahul/planpilot/cmd/planpilot/internal/clierr"
	"github.com/rahul/planpilot/internal/action"
	"github.com/rahul/planpilot/internal/agent"
	"github.com/rahul/planpilot/internal/governance"
	"github.com/rahul/planpilot/internal/observability"
	"github.com/rahul/planpilot/internal/plan"
	"github.com/rahul/planpilot/internal/store"
	"github.com/rahul/planpilot/internal/tools"
	"github.com/rahul/planpilot/pkg/config"
	"github.com/spf13/cobra"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// newModel is replaced in tests.
var newModel = func(cfg *config.Config) (llms.Model, error) {
	pName, pCfg := cfg.GetDefaultProvider()
	if pName == "" {
		return nil, clierr.New(clierr.ExitUsage, "no enabled provider found in config")
	}

	switch pName {
	case "openai", "openrouter":
		opts := []openai.Option{
			openai.WithToken(pCfg.APIKey),
			openai.WithModel(pCfg.Model),
		}
		if pCfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(pCfg.BaseURL))
		}
		return openai.New(opts...)
	default:
		return nil, clierr.Newf(clierr.ExitUsage, "provider %s is not supported", pName)
	}
}

// app holds the components shared by every command.
type app struct {
	cfg     *config.Config
	logger  *observability.Logger
	store   *store.Store
	prompts *agent.PromptManager
	model   llms.Model
}

func loadApp(cmd *cobra.Command, logOut io.Writer) (*app, error) {
	path, _ := cmd.Flags().GetString("config")
	quiet, _ := cmd.Flags().GetBool("quiet")

	var cfg *config.Config
	if path == "" {
		cfg = config.Default()
	} else {
		c, err := config.LoadConfig(path)
		if err != nil {
			return nil, clierr.Usage("cannot load config", err)
		}
		cfg = c
	}

	if quiet {
		logOut = io.Discard
	}
	a := &app{
		cfg:     cfg,
		logger:  observability.NewLogger().WithOutput(logOut).WithLLMLog(cfg.App.LLMLog),
		prompts: agent.NewPromptManager(cfg.App.PromptsDir),
	}

	if cfg.Memory.Type == "sqlite" {
		s, err := store.Open(cfg.Memory.Path)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		a.store = s
	}
	return a, nil
}

func (a *app) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			log.Printf("Warning: closing store: %v", err)
		}
	}
}

func (a *app) llm() (llms.Model, error) {
	if a.model != nil {
		return a.model, nil
	}
	m, err := newModel(a.cfg)
	if err != nil {
		return nil, err
	}
	a.model = m
	return m, nil
}

func (a *app) policy() (*governance.DefaultPolicyEngine, error) {
	gov := governance.NewDefaultPolicyEngine()
	if err := applyRules(&gov.Rules, a.cfg.Governance.GovernanceRules); err != nil {
		return nil, err
	}
	for id, rules := range a.cfg.Governance.Projects {
		if err := applyRules(gov.Project(id), rules); err != nil {
			return nil, err
		}
	}
	return gov, nil
}

func applyRules(dst *governance.Rules, src config.GovernanceRules) error {
	dst.MaxArgumentChars = src.MaxPromptChars
	for _, name := range src.DenyTools {
		dst.DenyTool(name)
	}
	for _, pattern := range src.DenyPatterns {
		if err := dst.DenyArguments(pattern); err != nil {
			return clierr.Usage(fmt.Sprintf("invalid deny pattern %q", pattern), err)
		}
	}
	return nil
}

// invoker builds the action backend chain: backend, optional HTML
// sanitising, then the policy guard in front of both.
func (a *app) invoker(policy governance.PolicyEngine) (plan.ActionInvoker, error) {
	var inv plan.ActionInvoker
	switch a.cfg.Actions.Backend {
	case "http":
		h, err := action.NewHTTPInvoker(a.cfg.Actions.FunctionURL, a.cfg.ActionTimeout(), a.cfg.Actions.Headers)
		if err != nil {
			return nil, clierr.Usage("invalid action backend", err)
		}
		inv = h
	case "llm":
		model, err := a.llm()
		if err != nil {
			return nil, err
		}
		registry := tools.NewRegistry()
		searchTool, err := tools.NewSearchTool(10)
		if err != nil {
			log.Printf("Warning: Failed to initialize search tool: %v", err)
		} else {
			registry.Register(searchTool)
		}
		registry.Register(tools.NewPageTool())
		inv = agent.NewWorker(model, registry, a.prompts, policy, a.logger)
	default:
		return nil, clierr.Newf(clierr.ExitUsage, "unknown action backend %q (want http or llm)", a.cfg.Actions.Backend)
	}

	if a.cfg.Actions.SanitizeHTML {
		inv = action.NewSanitizer(inv)
	}
	return governance.NewGuard(inv, policy), nil
}

func (a *app) runner(projectID string) (*plan.StepRunner, error) {
	policy, err := a.policy()
	if err != nil {
		return nil, err
	}
	inv, err := a.invoker(policy)
	if err != nil {
		return nil, err
	}
	model, err := a.llm()
	if err != nil {
		return nil, err
	}
	if projectID == "" {
		projectID = a.cfg.Execution.ProjectID
	}
	return plan.NewStepRunner(inv, agent.NewClassifier(model, a.prompts, a.logger), plan.WithProjectID(projectID))
}

func (a *app) planner() (*agent.Planner, error) {
	model, err := a.llm()
	if err != nil {
		return nil, err
	}
	var history agent.HistoryStore
	if a.store != nil {
		history = a.store
	}
	return agent.NewPlanner(model, history, a.prompts, a.logger), nil
}

// logSink sends session logs to the JSON logger and, when configured, the store.
func (a *app) logSink() plan.LogSink {
	sinks := plan.LogSinks{a.logger}
	if a.store != nil {
		sinks = append(sinks, a.store)
	}
	return sinks
}

func (a *app) defaultMode(flag string) (plan.Mode, error) {
	value := flag
	if value == "" {
		value = a.cfg.Execution.DefaultMode
	}
	m, err := plan.ParseMode(value)
	if err != nil {
		return "", clierr.Usage("invalid mode", err)
	}
	return m, nil
}

func stderr() io.Writer { return os.Stderr }
