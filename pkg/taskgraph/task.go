package taskgraph

import "fmt"

// Task is a unit of work bound to exactly one agent.
type Task struct {
	// ID defaults to task-<n>, n being the 1-based declaration index.
	ID             string `json:"id,omitempty" yaml:"id,omitempty"`
	Description    string `json:"description" yaml:"description"`
	ExpectedOutput string `json:"expected_output,omitempty" yaml:"expected_output,omitempty"`
	Agent          string `json:"agent" yaml:"agent"`
	// OutputKey is the placeholder name later tasks use to reference this
	// task's result. Defaults to ID.
	OutputKey string   `json:"output_key,omitempty" yaml:"output_key,omitempty"`
	DependsOn []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	// Compiler marks a task that synthesizes all prior results into the
	// run's final artifact.
	Compiler bool `json:"compiler,omitempty" yaml:"compiler,omitempty"`
}

// DefaultID returns the ID given to the task declared at index i.
func DefaultID(i int) string {
	return fmt.Sprintf("task-%d", i+1)
}

// Normalize fills defaulted fields for the task declared at index i.
func (t Task) Normalize(i int) Task {
	if t.ID == "" {
		t.ID = DefaultID(i)
	}
	if t.OutputKey == "" {
		t.OutputKey = t.ID
	}
	t.DependsOn = append([]string(nil), t.DependsOn...)
	return t
}

// Placeholders returns the distinct placeholder names in the description.
func (t Task) Placeholders() []string {
	return Placeholders(t.Description)
}
