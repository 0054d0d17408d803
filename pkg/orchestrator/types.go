package orchestrator

import (
	"fmt"
	"time"

	"github.com/harun/crew/pkg/runerr"
	"github.com/harun/crew/pkg/taskgraph"
)

// State is a run's position in the orchestrator state machine:
// init -> validating -> executing -> compiling -> done | failed.
type State string

const (
	StateInit       State = "init"
	StateValidating State = "validating"
	StateExecuting  State = "executing"
	StateCompiling  State = "compiling"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// OnFail selects what happens to in-flight tasks when a DAG run fails
type OnFail string

const (
	// OnFailAbort cancels tasks that are still running.
	OnFailAbort OnFail = "abort"
	// OnFailDrain lets running tasks finish and records their results.
	OnFailDrain OnFail = "drain"
)

// ParseOnFail parses an on-fail strategy; the empty string means abort.
func ParseOnFail(s string) (OnFail, error) {
	switch OnFail(s) {
	case "", OnFailAbort:
		return OnFailAbort, nil
	case OnFailDrain:
		return OnFailDrain, nil
	default:
		return "", fmt.Errorf("invalid on-fail strategy: %s", s)
	}
}

// Policy controls scheduling, timeouts and failure handling for a run
type Policy struct {
	Mode           taskgraph.Mode `json:"mode" yaml:"mode"`
	MaxConcurrency int            `json:"max_concurrency" yaml:"max_concurrency"`
	TaskTimeout    time.Duration  `json:"task_timeout" yaml:"task_timeout"`
	TimeoutRetries int            `json:"timeout_retries" yaml:"timeout_retries"`
	OnFail         OnFail         `json:"on_fail" yaml:"on_fail"`
}

// DefaultPolicy returns the sequential policy used when none is configured.
func DefaultPolicy() Policy {
	return Policy{
		Mode:           taskgraph.Sequential,
		MaxConcurrency: 4,
		TaskTimeout:    5 * time.Minute,
		TimeoutRetries: 1,
		OnFail:         OnFailAbort,
	}
}

// Validate checks policy bounds
func (p Policy) Validate() error {
	if _, err := taskgraph.ParseMode(string(p.Mode)); err != nil {
		return err
	}
	if p.MaxConcurrency < 1 {
		return fmt.Errorf("max concurrency must be at least 1, got %d", p.MaxConcurrency)
	}
	if p.TaskTimeout <= 0 {
		return fmt.Errorf("task timeout must be positive, got %s", p.TaskTimeout)
	}
	if p.TimeoutRetries < 0 {
		return fmt.Errorf("timeout retries must not be negative, got %d", p.TimeoutRetries)
	}
	if _, err := ParseOnFail(string(p.OnFail)); err != nil {
		return err
	}
	return nil
}

// TaskResult is the recorded output of one completed task
type TaskResult struct {
	TaskID     string    `json:"task_id"`
	Agent      string    `json:"agent"`
	Output     string    `json:"output"`
	Attempts   int       `json:"attempts"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Run is the record of one team execution. Results are ordered by completion,
// which in sequential mode is also dispatch order. A failed run keeps the
// results of every task that finished before the failure.
type Run struct {
	ID         string            `json:"id"`
	Team       string            `json:"team"`
	Mode       taskgraph.Mode    `json:"mode"`
	State      State             `json:"state"`
	Inputs     map[string]string `json:"inputs,omitempty"`
	Output     string            `json:"output,omitempty"`
	Results    []TaskResult      `json:"results"`
	Failure    *runerr.TaskError `json:"failure,omitempty"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at,omitempty"`
}

// Result returns the recorded result of a task.
func (r *Run) Result(taskID string) (TaskResult, bool) {
	for _, res := range r.Results {
		if res.TaskID == taskID {
			return res, true
		}
	}
	return TaskResult{}, false
}

// Outputs returns task ID -> output for every recorded result.
func (r *Run) Outputs() map[string]string {
	out := make(map[string]string, len(r.Results))
	for _, res := range r.Results {
		out[res.TaskID] = res.Output
	}
	return out
}

// Duration is the wall time of a finished run.
func (r *Run) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

func (r *Run) clone() *Run {
	cp := *r
	cp.Results = make([]TaskResult, len(r.Results))
	copy(cp.Results, r.Results)
	if r.Inputs != nil {
		cp.Inputs = copyInputs(r.Inputs)
	}
	return &cp
}
