package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"

	"github.com/harun/crew/pkg/runerr"
	"github.com/harun/crew/pkg/taskgraph"
)

// errDispatchHalted is returned for queued tasks that never started because
// the run already failed.
var errDispatchHalted = errors.New("dispatch halted after failure")

type taskOutcome struct {
	id     string
	result TaskResult
	err    error
}

// runDAG dispatches every task whose dependencies have results, bounded by the
// policy's concurrency through a command queue lane named after the run.
//
// The first failure stops new dispatches. With OnFailAbort running tasks are
// cancelled; with OnFailDrain they finish and their results are recorded.
func (e *execution) runDAG(ctx context.Context) *runerr.TaskError {
	lane := e.run.ID
	queue := e.o.queue
	queue.SetConcurrency(lane, e.o.policy.MaxConcurrency)
	defer queue.RemoveLane(lane)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	order := e.graph.Order()
	remaining := make(map[string]int, len(order))
	var ready []string
	for _, id := range order {
		remaining[id] = len(e.graph.Dependencies(id))
		if remaining[id] == 0 {
			ready = append(ready, id)
		}
	}

	var halted atomic.Bool
	outcomes := make(chan taskOutcome)
	inflight := 0

	dispatch := func(task taskgraph.Task) {
		prior := e.visible(task)
		inflight++
		go func() {
			value, err := queue.EnqueueWithContext(runCtx, lane, func(qctx context.Context) (interface{}, error) {
				if halted.Load() {
					return nil, errDispatchHalted
				}
				return e.executeTask(qctx, task, prior)
			}, nil)
			out := taskOutcome{id: task.ID, err: err}
			if res, ok := value.(TaskResult); ok {
				out.result = res
			}
			outcomes <- out
		}()
	}

	var failure *runerr.TaskError
	for {
		if failure == nil {
			for _, id := range ready {
				task, _ := e.graph.Task(id)
				if task.Compiler {
					e.enterCompiling(ctx)
				}
				dispatch(task)
			}
		}
		ready = ready[:0]

		if inflight == 0 {
			break
		}

		out := <-outcomes
		inflight--
		task, _ := e.graph.Task(out.id)

		if out.err != nil {
			if failure != nil {
				e.logger.Debug().Err(out.err).Str("task_id", out.id).Msg("Task stopped after run failure")
				continue
			}
			failure = runerr.NewTaskError(out.id, task.Agent, out.err)
			halted.Store(true)
			queue.ClearLane(lane)
			if e.o.policy.OnFail == OnFailAbort {
				cancel()
			}
			e.logger.Warn().
				Str("task_id", out.id).
				Str("on_fail", string(e.o.policy.OnFail)).
				Int("in_flight", inflight).
				Msg("Task failed, halting dispatch")
			continue
		}

		if failure != nil && e.o.policy.OnFail == OnFailAbort {
			continue
		}
		e.record(ctx, out.result)
		if failure != nil {
			continue
		}

		for _, next := range e.graph.Dependents(out.id) {
			remaining[next]--
			if remaining[next] == 0 {
				ready = append(ready, next)
			}
		}
	}

	return failure
}

// compile joins the outputs of the compiler tasks in declaration order.
func compile(graph *taskgraph.Graph, ec *ExecutionContext) string {
	var parts []string
	for _, id := range graph.Compilers() {
		if res, ok := ec.Result(id); ok {
			parts = append(parts, strings.TrimSpace(res.Output))
		}
	}
	return strings.Join(parts, "\n\n")
}
