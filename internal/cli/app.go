package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/harun/crew/internal/config"
	"github.com/harun/crew/internal/logger"
	"github.com/harun/crew/internal/observability"
	"github.com/harun/crew/internal/tracing"
	"github.com/harun/crew/pkg/agent"
	"github.com/harun/crew/pkg/orchestrator"
	"github.com/harun/crew/pkg/runerr"
	"github.com/harun/crew/pkg/search"
	"github.com/harun/crew/pkg/toolexecutor"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// defaultBuiltin is used when neither flags nor config name a team.
const defaultBuiltin = "company-research"

// app carries the per-invocation configuration and logger.
type app struct {
	cfg       *config.Config
	log       *logger.Logger
	traceFile *os.File
}

func newApp(cmd *cobra.Command, opts *rootOptions) (*app, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	lg, err := logger.New(logger.Config{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		Console:    cfg.Logging.Console,
		Pretty:     cfg.Logging.Pretty,
		Redaction:  cfg.Logging.Redaction,
		MaxSize:    cfg.Logging.MaxSize,
		MaxAge:     cfg.Logging.MaxAge,
		MaxBackups: cfg.Logging.MaxBackups,
		Compress:   cfg.Logging.Compress,
		Output:     cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	if cfg.Logging.Audit != "" {
		if err := observability.InitAuditLogger(cfg.Logging.Audit); err != nil {
			lg.Close()
			return nil, fmt.Errorf("failed to open audit log: %w", err)
		}
	}
	a := &app{cfg: cfg, log: lg}
	if cfg.Tracing.Enabled {
		if err := a.initTracing(cmd.ErrOrStderr()); err != nil {
			lg.Warn().Err(err).Msg("Tracing disabled")
		}
	}

	return a, nil
}

func (a *app) initTracing(stderr io.Writer) error {
	out := stderr
	if a.cfg.Tracing.File != "" {
		f, err := os.OpenFile(a.cfg.Tracing.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open trace file: %w", err)
		}
		a.traceFile = f
		out = f
	}
	return tracing.InitOpenTelemetry(tracing.Config{
		ServiceName:    a.cfg.Tracing.ServiceName,
		ServiceVersion: GetVersion(),
		Exporter:       a.cfg.Tracing.Exporter,
		Output:         out,
		SampleRatio:    a.cfg.Tracing.SampleRatio,
	})
}

func (a *app) logger(component string) zerolog.Logger {
	return a.log.With().Str("component", component).Logger()
}

func (a *app) Close() {
	if a.cfg.Tracing.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracing.ShutdownOpenTelemetry(ctx); err != nil {
			a.log.Warn().Err(err).Msg("Failed to flush traces")
		}
	}
	if a.traceFile != nil {
		_ = a.traceFile.Close()
	}
	if a.cfg.Logging.Audit != "" {
		_ = observability.GetAuditLogger().Close()
	}
	_ = a.log.Close()
}

// teamOptions selects the team a command works on.
type teamOptions struct {
	file    string
	builtin string
	inputs  []string
}

func addTeamFlags(cmd *cobra.Command, o *teamOptions) {
	cmd.Flags().StringVarP(&o.file, "team", "t", "", "team definition file (.yaml, .yml or .json)")
	cmd.Flags().StringVar(&o.builtin, "builtin", "", "built-in team name ("+strings.Join(orchestrator.BuiltinNames(), ", ")+")")
	cmd.Flags().StringArrayVarP(&o.inputs, "input", "i", nil, "input override as key=value (repeatable)")
}

// load resolves the team: --builtin, then --team, then team_file from the
// config, then the default built-in team. It also returns a description of
// where the team came from.
func (o teamOptions) load(cfg *config.Config) (orchestrator.Team, string, error) {
	if o.file != "" && o.builtin != "" {
		return orchestrator.Team{}, "", errors.New("--team and --builtin are mutually exclusive")
	}

	var (
		team   orchestrator.Team
		source string
		err    error
	)
	switch {
	case o.builtin != "":
		source = "builtin:" + o.builtin
		team, err = orchestrator.BuiltinTeam(o.builtin)
	case o.file != "":
		source = o.file
		team, err = orchestrator.LoadTeam(o.file)
	case cfg != nil && cfg.TeamFile != "":
		source = cfg.TeamFile
		team, err = orchestrator.LoadTeam(cfg.TeamFile)
	default:
		source = "builtin:" + defaultBuiltin
		team, err = orchestrator.BuiltinTeam(defaultBuiltin)
	}
	if err != nil {
		return orchestrator.Team{}, source, err
	}

	inputs, err := parseInputs(o.inputs)
	if err != nil {
		return orchestrator.Team{}, source, err
	}
	return team.WithInputs(inputs), source, nil
}

func parseInputs(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	inputs := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid input %q (expected key=value)", pair)
		}
		inputs[key] = value
	}
	return inputs, nil
}

// requiredEnv extends the team's declared credentials with the ones its
// tools and the configured model providers need.
func requiredEnv(team orchestrator.Team, creds config.Credentials, models config.ModelsConfig) []string {
	seen := make(map[string]bool)
	for _, key := range team.Env.Required {
		seen[key] = true
	}
	for _, a := range team.Agents {
		for _, tool := range a.Tools {
			if tool == search.ToolName {
				seen[config.TavilyKeyEnv] = true
			}
		}
	}
	if len(creds.Profiles(models)) == 0 && len(models.Providers) > 0 {
		if key := config.ProviderKeyEnv(models.Providers[0]); key != "" {
			seen[key] = true
		}
	}

	keys := make([]string, 0, len(seen))
	for key := range seen {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// knownTools is the catalog used for static validation, where no
// credentials are loaded and no provider is constructed.
type knownTools map[string]bool

func (k knownTools) HasTool(name string) bool { return k[name] }

func staticCatalog() knownTools {
	return knownTools{search.ToolName: true}
}

// newOrchestrator wires the search tool, the agent runner and the
// orchestrator for one team.
func (a *app) newOrchestrator(creds config.Credentials, policy orchestrator.Policy, store orchestrator.RunStore) (*orchestrator.Orchestrator, error) {
	executor := toolexecutor.New()
	if key := creds.Tavily(); key != "" {
		provider, err := search.NewTavilyProvider(a.cfg.TavilyConfig(key))
		if err != nil {
			return nil, err
		}
		if err := search.Register(executor, provider, a.cfg.Search.MaxResults); err != nil {
			return nil, err
		}
	}

	profiles := creds.Profiles(a.cfg.Models)
	if len(profiles) == 0 {
		return nil, fmt.Errorf("%w: one of %s, %s", runerr.ErrMissingCredential, config.OpenAIKeyEnv, config.AnthropicKeyEnv)
	}

	runner, err := agent.NewRunner(agent.Config{
		ToolExecutor: executor,
		Logger:       a.logger("agent"),
		AuthProfiles: profiles,
		Model:        a.cfg.ModelConfig(),
		Retry:        a.cfg.RetryPolicy(),
		ToolTimeout:  a.cfg.Agent.ToolTimeout,
		Cooldown:     a.cfg.Agent.Cooldown,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create agent runner: %w", err)
	}

	return orchestrator.New(runner,
		orchestrator.WithPolicy(policy),
		orchestrator.WithLogger(a.logger("orchestrator")),
		orchestrator.WithStore(store),
		orchestrator.WithTools(executor),
	)
}

func (a *app) openStore() (orchestrator.RunStore, error) {
	store, err := orchestrator.OpenStore(a.cfg.Store.Kind, a.cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open run store: %w", err)
	}
	return store, nil
}

// describeFailure renders a failed run for the terminal: the failing task,
// its agent and the error kind.
func describeFailure(runID string, err error) string {
	prefix := "run failed"
	if runID != "" {
		prefix = fmt.Sprintf("run %s failed", runID)
	}

	var te *runerr.TaskError
	if !errors.As(err, &te) {
		return fmt.Sprintf("%s: %s: %v", prefix, runerr.Kind(err), err)
	}
	if te.TaskID == "" {
		return fmt.Sprintf("%s: %s: %s", prefix, te.Kind, te.Cause())
	}
	return fmt.Sprintf("%s: task %q (agent %q): %s: %s", prefix, te.TaskID, te.Agent, te.Kind, te.Cause())
}
