package orchestrator

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrResultRecorded is returned when a task's result is written twice.
var ErrResultRecorded = errors.New("result already recorded")

// ExecutionContext holds the inputs of a run and the results recorded so far.
// Each task's result is written once; readers get copies.
type ExecutionContext struct {
	inputs map[string]string

	mu      sync.RWMutex
	results map[string]TaskResult
	order   []string
}

// NewExecutionContext creates a context seeded with a copy of inputs.
func NewExecutionContext(inputs map[string]string) *ExecutionContext {
	return &ExecutionContext{
		inputs:  copyInputs(inputs),
		results: make(map[string]TaskResult),
	}
}

// Inputs returns a copy of the run inputs.
func (c *ExecutionContext) Inputs() map[string]string {
	return copyInputs(c.inputs)
}

// Record stores a task result. A second write for the same task fails.
func (c *ExecutionContext) Record(result TaskResult) error {
	if result.TaskID == "" {
		return fmt.Errorf("task id is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.results[result.TaskID]; exists {
		return fmt.Errorf("%w: %s", ErrResultRecorded, result.TaskID)
	}
	c.results[result.TaskID] = result
	c.order = append(c.order, result.TaskID)
	return nil
}

// Result returns the recorded result of a task.
func (c *ExecutionContext) Result(taskID string) (TaskResult, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	res, ok := c.results[taskID]
	return res, ok
}

// Outputs returns task ID -> output for every recorded result.
func (c *ExecutionContext) Outputs() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]string, len(c.results))
	for id, res := range c.results {
		out[id] = res.Output
	}
	return out
}

// Results returns recorded results in the order they were recorded.
func (c *ExecutionContext) Results() []TaskResult {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]TaskResult, len(c.order))
	for i, id := range c.order {
		out[i] = c.results[id]
	}
	return out
}

// Select returns the recorded results of ids, in the order given, skipping
// tasks without a result.
func (c *ExecutionContext) Select(ids []string) []TaskResult {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]TaskResult, 0, len(ids))
	for _, id := range ids {
		if res, ok := c.results[id]; ok {
			out = append(out, res)
		}
	}
	return out
}

// Len returns the number of recorded results.
func (c *ExecutionContext) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.order)
}

// BuildPrompt assembles the user prompt for a task from its resolved
// description, expected output and the results it is allowed to see.
func BuildPrompt(description, expectedOutput string, prior []TaskResult) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(description))
	if expectedOutput != "" {
		b.WriteString("\n\nExpected output: ")
		b.WriteString(strings.TrimSpace(expectedOutput))
	}
	if len(prior) > 0 {
		b.WriteString("\n\nContext from previous tasks:")
		for _, res := range prior {
			fmt.Fprintf(&b, "\n\n### %s (%s)\n%s", res.TaskID, res.Agent, strings.TrimSpace(res.Output))
		}
	}
	return b.String()
}
