package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/harun/crew/internal/observability"
	"github.com/harun/crew/internal/tracing"
	"github.com/harun/crew/pkg/agent"
	"github.com/harun/crew/pkg/commandqueue"
	"github.com/harun/crew/pkg/runerr"
	"github.com/harun/crew/pkg/taskgraph"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "crew.orchestrator"

// TaskRunner runs one agent invocation. *agent.Runner implements it.
type TaskRunner interface {
	Run(ctx context.Context, params agent.RunParams) (agent.RunResult, error)
}

// Orchestrator executes teams: it validates a team, dispatches its tasks to
// agents in sequential or DAG order and compiles the final artifact.
type Orchestrator struct {
	runner TaskRunner
	policy Policy
	store  RunStore
	queue  *commandqueue.CommandQueue
	tools  ToolCatalog
	logger zerolog.Logger
}

// Option is a functional option for configuring the Orchestrator
type Option func(*Orchestrator)

// WithPolicy replaces the default policy
func WithPolicy(p Policy) Option {
	return func(o *Orchestrator) {
		o.policy = p
	}
}

// WithMaxConcurrent sets the DAG concurrency bound
func WithMaxConcurrent(max int) Option {
	return func(o *Orchestrator) {
		o.policy.MaxConcurrency = max
	}
}

// WithLogger sets the logger for the orchestrator
func WithLogger(logger zerolog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithStore persists every run transition to store
func WithStore(store RunStore) Option {
	return func(o *Orchestrator) {
		o.store = store
	}
}

// WithQueue sets the command queue used for DAG dispatch
func WithQueue(q *commandqueue.CommandQueue) Option {
	return func(o *Orchestrator) {
		o.queue = q
	}
}

// WithTools makes validation reject agents whose tools are not in catalog
func WithTools(catalog ToolCatalog) Option {
	return func(o *Orchestrator) {
		o.tools = catalog
	}
}

// New creates an Orchestrator that dispatches tasks to runner.
func New(runner TaskRunner, opts ...Option) (*Orchestrator, error) {
	if runner == nil {
		return nil, errors.New("task runner is required")
	}

	observability.EnsureRegistered()

	o := &Orchestrator{
		runner: runner,
		policy: DefaultPolicy(),
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(o)
	}

	mode, err := taskgraph.ParseMode(string(o.policy.Mode))
	if err != nil {
		return nil, err
	}
	o.policy.Mode = mode
	if o.policy.OnFail == "" {
		o.policy.OnFail = OnFailAbort
	}
	if err := o.policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}
	if o.queue == nil {
		o.queue = commandqueue.New(commandqueue.WithLogger(o.logger.With().Str("component", "queue").Logger()))
	}

	return o, nil
}

// Policy returns the orchestrator's policy.
func (o *Orchestrator) Policy() Policy {
	return o.policy
}

// Validate runs the init and validation phases only: credentials, agents and
// the task graph. It never calls an agent.
func (o *Orchestrator) Validate(team Team) (*taskgraph.Graph, error) {
	if err := team.Env.Validate(); err != nil {
		return nil, err
	}
	return team.Graph(o.policy.Mode, o.tools)
}

// Recover marks runs that a previous process left mid-flight as failed.
func (o *Orchestrator) Recover() (int, error) {
	if o.store == nil {
		return 0, nil
	}

	runs, err := o.store.List()
	if err != nil {
		return 0, fmt.Errorf("failed to list stored runs: %w", err)
	}

	recovered := 0
	for _, run := range runs {
		if run.State.Terminal() {
			continue
		}
		run.State = StateFailed
		if run.Failure == nil {
			run.Failure = runerr.NewTaskError("", "", errors.New("run interrupted"))
		}
		if run.FinishedAt.IsZero() {
			run.FinishedAt = time.Now()
		}
		if err := o.store.Save(run); err != nil {
			o.logger.Error().Err(err).Str("run_id", run.ID).Msg("Failed to mark interrupted run")
			continue
		}
		recovered++
	}

	if recovered > 0 {
		o.logger.Info().Int("count", recovered).Msg("Recovered interrupted runs")
	}
	return recovered, nil
}

// Run executes a team to completion. On failure the returned Run carries the
// partial results and the error is a *runerr.TaskError.
func (o *Orchestrator) Run(ctx context.Context, team Team) (*Run, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	runID := tracing.NewRunID()
	ctx = tracing.NewRunContext(ctx, runID)
	ctx, span := tracing.StartSpan(
		ctx,
		tracerName,
		"run",
		attribute.String("run.id", runID),
		attribute.String("team", team.Name),
		attribute.String("mode", string(o.policy.Mode)),
	)
	defer span.End()

	e := &execution{
		o:      o,
		team:   team,
		ec:     NewExecutionContext(team.Inputs),
		logger: tracing.LoggerFromContext(ctx, o.logger).With().Str("team", team.Name).Logger(),
		run: &Run{
			ID:        runID,
			Team:      team.Name,
			Mode:      o.policy.Mode,
			Inputs:    copyInputs(team.Inputs),
			Results:   []TaskResult{},
			StartedAt: time.Now(),
		},
	}

	observability.RecordRunStarted()
	e.transition(ctx, StateInit)

	if err := team.Env.Validate(); err != nil {
		return e.fail(ctx, span, runerr.NewTaskError("", "", err))
	}

	e.transition(ctx, StateValidating)
	graph, err := team.Graph(o.policy.Mode, o.tools)
	if err != nil {
		return e.fail(ctx, span, runerr.NewTaskError("", "", err))
	}
	e.graph = graph

	e.transition(ctx, StateExecuting)
	var failure *runerr.TaskError
	if o.policy.Mode == taskgraph.DAG {
		failure = e.runDAG(ctx)
	} else {
		failure = e.runSequential(ctx)
	}
	if failure != nil {
		return e.fail(ctx, span, failure)
	}

	e.enterCompiling(ctx)
	e.run.Output = compile(graph, e.ec)
	e.run.FinishedAt = time.Now()
	e.transition(ctx, StateDone)

	observability.RecordRunFinished(string(o.policy.Mode), string(StateDone), e.run.Duration())
	e.logger.Info().
		Int("tasks", len(e.run.Results)).
		Dur("duration", e.run.Duration()).
		Msg("Run completed")

	return e.run.clone(), nil
}

// execution is the state of one run. run and graph are only touched by the
// goroutine that called Orchestrator.Run.
type execution struct {
	o      *Orchestrator
	team   Team
	graph  *taskgraph.Graph
	ec     *ExecutionContext
	run    *Run
	logger zerolog.Logger
}

func (e *execution) transition(ctx context.Context, state State) {
	e.run.State = state
	e.logger.Debug().Str("state", string(state)).Msg("Run state changed")
	observability.RecordRunAudit(ctx, e.run.ID, string(state), "ok", nil)
	e.save()
}

func (e *execution) enterCompiling(ctx context.Context) {
	if e.run.State != StateCompiling {
		e.transition(ctx, StateCompiling)
	}
}

func (e *execution) save() {
	if e.o.store == nil {
		return
	}
	if err := e.o.store.Save(e.run.clone()); err != nil {
		e.logger.Warn().Err(err).Msg("Failed to persist run")
	}
}

func (e *execution) record(ctx context.Context, result TaskResult) {
	if err := e.ec.Record(result); err != nil {
		e.logger.Error().Err(err).Str("task_id", result.TaskID).Msg("Dropping duplicate result")
		return
	}
	e.run.Results = append(e.run.Results, result)
	observability.RecordTaskAudit(ctx, result.TaskID, result.Agent, "success", map[string]interface{}{
		"attempts": result.Attempts,
	})
	e.save()
}

func (e *execution) fail(ctx context.Context, span trace.Span, failure *runerr.TaskError) (*Run, error) {
	e.run.State = StateFailed
	e.run.Failure = failure
	e.run.FinishedAt = time.Now()

	span.RecordError(failure)
	span.SetStatus(codes.Error, failure.Error())

	observability.RecordRunFinished(string(e.o.policy.Mode), string(StateFailed), e.run.Duration())
	observability.RecordRunAudit(ctx, e.run.ID, string(StateFailed), "failure", map[string]interface{}{
		"task_id": failure.TaskID,
		"agent":   failure.Agent,
		"kind":    failure.Kind,
	})
	e.save()

	e.logger.Error().
		Str("task_id", failure.TaskID).
		Str("agent", failure.Agent).
		Str("kind", failure.Kind).
		Err(failure.Err).
		Int("completed", len(e.run.Results)).
		Msg("Run failed")

	return e.run.clone(), failure
}

// runSequential dispatches tasks one at a time in declaration order and stops
// at the first failure.
func (e *execution) runSequential(ctx context.Context) *runerr.TaskError {
	for _, id := range e.graph.Order() {
		task, _ := e.graph.Task(id)
		if err := ctx.Err(); err != nil {
			return runerr.NewTaskError(id, task.Agent, err)
		}
		if task.Compiler {
			e.enterCompiling(ctx)
		}

		result, err := e.executeTask(ctx, task, e.ec.Results())
		if err != nil {
			return runerr.NewTaskError(id, task.Agent, err)
		}
		e.record(ctx, result)
	}
	return nil
}

// visible returns the results a task may see in its prompt.
func (e *execution) visible(task taskgraph.Task) []TaskResult {
	if task.Compiler || e.graph.Mode() == taskgraph.Sequential {
		return e.ec.Results()
	}
	return e.ec.Select(e.graph.Ancestors(task.ID))
}

// executeTask resolves a task's description, builds its prompt and runs its
// agent, retrying invocations that hit the task timeout.
func (e *execution) executeTask(ctx context.Context, task taskgraph.Task, prior []TaskResult) (TaskResult, error) {
	a, ok := e.team.Agent(task.Agent)
	if !ok {
		return TaskResult{}, fmt.Errorf("%w: unknown agent %q", runerr.ErrInvalidGraph, task.Agent)
	}

	ctx = tracing.PropagateToTask(ctx, task.ID, a.Name)
	ctx, span := tracing.StartSpan(
		ctx,
		tracerName,
		"task",
		attribute.String("task.id", task.ID),
		attribute.String("agent", a.Name),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, e.o.logger)

	description, err := e.graph.Resolve(task.ID, e.ec.Inputs(), e.ec.Outputs())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return TaskResult{}, err
	}

	params := agent.RunParams{
		Agent:  a,
		Prompt: BuildPrompt(description, task.ExpectedOutput, prior),
		RunID:  e.run.ID,
		TaskID: task.ID,
	}

	startedAt := time.Now()
	for attempt := 1; ; attempt++ {
		logger.Info().Int("attempt", attempt).Msg("Dispatching task")

		res, err := e.o.invoke(ctx, params)
		if err == nil {
			observability.RecordTaskRun(a.Name, time.Since(startedAt), true)
			logger.Info().
				Dur("duration", time.Since(startedAt)).
				Int("output_chars", len(res.Response)).
				Msg("Task completed")
			return TaskResult{
				TaskID:     task.ID,
				Agent:      a.Name,
				Output:     res.Response,
				Attempts:   attempt,
				StartedAt:  startedAt,
				FinishedAt: time.Now(),
			}, nil
		}

		if errors.Is(err, runerr.ErrTaskTimeout) && attempt <= e.o.policy.TimeoutRetries {
			observability.RecordTaskTimeoutRetry(a.Name)
			logger.Warn().Err(err).Int("attempt", attempt).Msg("Task timed out, retrying")
			continue
		}

		observability.RecordTaskRun(a.Name, time.Since(startedAt), false)
		observability.RecordTaskAudit(ctx, task.ID, a.Name, "failure", map[string]interface{}{
			"kind":     runerr.Kind(err),
			"attempts": attempt,
		})
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error().Err(err).Str("kind", runerr.Kind(err)).Msg("Task failed")
		return TaskResult{}, err
	}
}

// invoke runs one agent call under the task timeout. Expiry of that timeout,
// as opposed to cancellation of ctx, is reported as ErrTaskTimeout.
func (o *Orchestrator) invoke(ctx context.Context, params agent.RunParams) (agent.RunResult, error) {
	tctx, cancel := context.WithTimeout(ctx, o.policy.TaskTimeout)
	defer cancel()

	res, err := o.runner.Run(tctx, params)
	if err == nil {
		return res, nil
	}
	if ctx.Err() == nil && errors.Is(tctx.Err(), context.DeadlineExceeded) {
		return res, fmt.Errorf("%w: agent %q exceeded %s: %v", runerr.ErrTaskTimeout, params.Agent.Name, o.policy.TaskTimeout, err)
	}
	return res, err
}

func copyInputs(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
