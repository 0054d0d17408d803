package orchestrator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/harun/crew/pkg/agent"
	"github.com/harun/crew/pkg/runerr"
	"github.com/harun/crew/pkg/taskgraph"
)

// Team is a named set of agents, an ordered task list, run inputs and the
// credentials the run is allowed to use.
type Team struct {
	Name   string            `json:"name" yaml:"name"`
	Agents []agent.Agent     `json:"agents" yaml:"agents"`
	Tasks  []taskgraph.Task  `json:"tasks" yaml:"tasks"`
	Inputs map[string]string `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Env    Env               `json:"-" yaml:"-"`
}

// Env holds credentials passed explicitly to a run. Required lists the keys
// that must be present.
type Env struct {
	Values   map[string]string
	Required []string
}

// Validate reports every required key that is absent and every present key
// whose value is empty, as a single ErrMissingCredential.
func (e Env) Validate() error {
	missing := make(map[string]bool)
	for _, key := range e.Required {
		if strings.TrimSpace(e.Values[key]) == "" {
			missing[key] = true
		}
	}
	for key, value := range e.Values {
		if strings.TrimSpace(value) == "" {
			missing[key] = true
		}
	}
	if len(missing) == 0 {
		return nil
	}
	names := make([]string, 0, len(missing))
	for key := range missing {
		names = append(names, key)
	}
	sort.Strings(names)
	return fmt.Errorf("%w: %s", runerr.ErrMissingCredential, strings.Join(names, ", "))
}

// Get returns a credential value.
func (e Env) Get(key string) string {
	return e.Values[key]
}

// ToolCatalog answers whether a tool capability is registered.
type ToolCatalog interface {
	HasTool(name string) bool
}

// Agent looks up a team member by name.
func (t Team) Agent(name string) (agent.Agent, bool) {
	for _, a := range t.Agents {
		if a.Name == name {
			return a, true
		}
	}
	return agent.Agent{}, false
}

// WithInputs returns a copy of the team with overrides merged into its inputs.
func (t Team) WithInputs(overrides map[string]string) Team {
	merged := make(map[string]string, len(t.Inputs)+len(overrides))
	for k, v := range t.Inputs {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	t.Inputs = merged
	return t
}

// Validate checks the team's agents and that every task names one of them.
// tools may be nil, in which case agent capabilities are not checked.
func (t Team) Validate(tools ToolCatalog) error {
	if err := t.validateAgents(tools); err != nil {
		return err
	}
	for i, task := range t.Tasks {
		if _, ok := t.Agent(task.Agent); !ok {
			return &taskgraph.GraphError{
				Kind: runerr.ErrInvalidGraph,
				Msg:  fmt.Sprintf("task %s references unknown agent %q", task.Normalize(i).ID, task.Agent),
			}
		}
	}
	return nil
}

// Graph validates the team and builds its task graph for mode.
func (t Team) Graph(mode taskgraph.Mode, tools ToolCatalog) (*taskgraph.Graph, error) {
	if err := t.Validate(tools); err != nil {
		return nil, err
	}
	return taskgraph.New(t.Tasks, t.Inputs, mode)
}

func (t Team) validateAgents(tools ToolCatalog) error {
	if len(t.Agents) == 0 {
		return &taskgraph.GraphError{Kind: runerr.ErrInvalidGraph, Msg: "team has no agents"}
	}
	seen := make(map[string]bool, len(t.Agents))
	for _, a := range t.Agents {
		if err := a.Validate(); err != nil {
			return &taskgraph.GraphError{Kind: runerr.ErrInvalidGraph, Msg: err.Error()}
		}
		if seen[a.Name] {
			return &taskgraph.GraphError{
				Kind: runerr.ErrInvalidGraph,
				Msg:  fmt.Sprintf("duplicate agent name %q", a.Name),
			}
		}
		seen[a.Name] = true
		if tools == nil {
			continue
		}
		for _, name := range a.Tools {
			if !tools.HasTool(name) {
				return &taskgraph.GraphError{
					Kind: runerr.ErrInvalidGraph,
					Msg:  fmt.Sprintf("agent %q uses unregistered tool %q", a.Name, name),
				}
			}
		}
	}
	return nil
}
