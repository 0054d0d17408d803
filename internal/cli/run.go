package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/harun/crew/internal/config"
	"github.com/harun/crew/internal/observability"
	"github.com/harun/crew/pkg/cron"
	"github.com/harun/crew/pkg/orchestrator"
	"github.com/harun/crew/pkg/runerr"
	"github.com/harun/crew/pkg/taskgraph"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

type runOptions struct {
	team        teamOptions
	mode        string
	concurrency int
	onFail      string
	timeout     time.Duration
	output      string
	schedule    string
	maxRuns     int
	metricsAddr string
}

func newRunCmd(root *rootOptions) *cobra.Command {
	o := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a team and print the compiled report",
		Long: `Run a team: validate it, dispatch every task to its agent and print the
compiled report. On failure the failing task, its agent and the error kind
are printed and the command exits non-zero.

Credentials are read from the environment: OPENAI_API_KEY and/or
ANTHROPIC_API_KEY for the models, TAVILY_API_KEY for web search.`,
		Example: `  crew run --builtin company-research -i companyName=Acme -i companyWebsite=https://acme.test
  crew run -t team.yaml --mode dag --concurrency 3 --output report.md
  crew run -t team.yaml --schedule "0 9 * * 1-5"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, root, o)
		},
	}

	addTeamFlags(cmd, &o.team)
	cmd.Flags().StringVar(&o.mode, "mode", "", "execution mode override (sequential, dag)")
	cmd.Flags().IntVar(&o.concurrency, "concurrency", 0, "maximum concurrent tasks in dag mode")
	cmd.Flags().StringVar(&o.onFail, "on-fail", "", "dag failure strategy override (abort, drain)")
	cmd.Flags().DurationVar(&o.timeout, "timeout", 0, "per-task timeout override")
	cmd.Flags().StringVarP(&o.output, "output", "o", "", "also write the report to this file")
	cmd.Flags().StringVar(&o.schedule, "schedule", "", "run repeatedly: cron expression, @every DURATION or RFC 3339 time")
	cmd.Flags().IntVar(&o.maxRuns, "max-runs", 0, "stop a scheduled run after N runs (0 = unlimited)")
	cmd.Flags().StringVar(&o.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	return cmd
}

// policy applies flag overrides on top of the configured runtime policy.
func (o *runOptions) policy(cmd *cobra.Command, cfg *config.Config) (orchestrator.Policy, error) {
	p, err := cfg.Policy()
	if err != nil {
		return p, err
	}
	if cmd.Flags().Changed("mode") {
		if p.Mode, err = taskgraph.ParseMode(o.mode); err != nil {
			return p, err
		}
	}
	if cmd.Flags().Changed("concurrency") {
		p.MaxConcurrency = o.concurrency
	}
	if cmd.Flags().Changed("on-fail") {
		if p.OnFail, err = orchestrator.ParseOnFail(o.onFail); err != nil {
			return p, err
		}
	}
	if cmd.Flags().Changed("timeout") {
		p.TaskTimeout = o.timeout
	}
	return p, p.Validate()
}

func runRun(cmd *cobra.Command, root *rootOptions, o *runOptions) error {
	a, err := newApp(cmd, root)
	if err != nil {
		return err
	}
	defer a.Close()
	logger := a.logger("cli")

	team, source, err := o.team.load(a.cfg)
	if err != nil {
		return err
	}
	policy, err := o.policy(cmd, a.cfg)
	if err != nil {
		return err
	}

	creds, err := config.LoadCredentials()
	if err != nil {
		return err
	}
	team.Env = creds.Env(requiredEnv(team, creds, a.cfg.Models))
	if err := team.Env.Validate(); err != nil {
		return errors.New(describeFailure("", runerr.NewTaskError("", "", err)))
	}

	store, err := a.openStore()
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}

	orch, err := a.newOrchestrator(creds, policy, store)
	if err != nil {
		return err
	}
	if _, err := orch.Recover(); err != nil {
		logger.Warn().Err(err).Msg("Failed to recover interrupted runs")
	}

	if o.metricsAddr != "" {
		stop := serveMetrics(o.metricsAddr, logger)
		defer stop()
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Info().
		Str("team", team.Name).
		Str("source", source).
		Str("mode", string(policy.Mode)).
		Msg("Starting run")

	runOnce := func(ctx context.Context) error {
		run, err := orch.Run(ctx, team)
		return writeReport(cmd.OutOrStdout(), o.output, run, err)
	}

	if o.schedule == "" {
		return runOnce(ctx)
	}
	return runScheduled(ctx, o, runOnce, logger)
}

func runScheduled(ctx context.Context, o *runOptions, job cron.Job, logger zerolog.Logger) error {
	schedule, err := cron.ParseSchedule(o.schedule)
	if err != nil {
		return err
	}
	svc, err := cron.NewService(schedule, job,
		cron.WithLogger(logger.With().Str("schedule", schedule.String()).Logger()),
		cron.WithMaxRuns(o.maxRuns),
	)
	if err != nil {
		return err
	}
	if err := svc.Start(ctx); err != nil {
		return err
	}
	logger.Info().Time("next_run", svc.State().NextRunAt).Msg("Scheduler started")

	<-svc.Done()

	state := svc.State()
	if state.ConsecutiveErrors > 0 {
		return fmt.Errorf("last scheduled run failed: %s", state.LastError)
	}
	return nil
}

// writeReport prints the compiled report, or converts a failure into the
// command's error.
func writeReport(w io.Writer, outputPath string, run *orchestrator.Run, runErr error) error {
	if runErr != nil {
		id := ""
		if run != nil {
			id = run.ID
		}
		return errors.New(describeFailure(id, runErr))
	}

	if outputPath != "" {
		if err := os.WriteFile(outputPath, []byte(run.Output+"\n"), 0644); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
	}
	_, err := fmt.Fprintln(w, run.Output)
	return err
}

func serveMetrics(addr string, logger zerolog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.MetricsHandler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", addr).Msg("Serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("Metrics server failed")
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
