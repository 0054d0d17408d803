package taskgraph

import (
	"container/heap"
	"fmt"
	"sort"
	"strings"
)

// Mode selects how tasks are scheduled.
type Mode string

const (
	// Sequential runs tasks strictly in declaration order.
	Sequential Mode = "sequential"
	// DAG runs a task as soon as all of its dependencies have results.
	DAG Mode = "dag"
)

// ParseMode parses a mode name; the empty string means Sequential.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", Sequential:
		return Sequential, nil
	case DAG:
		return DAG, nil
	default:
		return "", fmt.Errorf("unknown execution mode %q (want sequential or dag)", s)
	}
}

// Graph is an immutable, validated task graph.
//
// It is safe for concurrent read access.
type Graph struct {
	mode  Mode
	tasks []Task // declaration order, normalized

	index       map[string]int // task ID -> declaration index
	byOutputKey map[string]int // output key -> declaration index

	deps       [][]int // direct dependencies, ascending
	dependents [][]int // direct dependents, ascending
	order      []int
	compilers  []int
}

// New normalizes tasks and validates them against the run inputs.
//
// Validation rejects, without side effects:
//   - empty graphs, duplicate IDs or output keys, tasks without an agent
//   - depends_on entries naming unknown tasks
//   - placeholders naming neither an input nor an output key (ErrUnresolvedPlaceholder)
//   - output keys outside the placeholder name grammar
//   - in sequential mode, references to tasks declared at or after the referrer,
//     and compiler tasks declared before non-compiler tasks
//   - in DAG mode, any cycle (ErrCyclicDependency)
func New(tasks []Task, inputs map[string]string, mode Mode) (*Graph, error) {
	if mode == "" {
		mode = Sequential
	}
	if mode != Sequential && mode != DAG {
		return nil, invalidf("unknown mode %q", mode)
	}
	if len(tasks) == 0 {
		return nil, invalidf("no tasks")
	}

	g := &Graph{
		mode:        mode,
		tasks:       make([]Task, len(tasks)),
		index:       make(map[string]int, len(tasks)),
		byOutputKey: make(map[string]int, len(tasks)),
		deps:        make([][]int, len(tasks)),
		dependents:  make([][]int, len(tasks)),
	}

	for i, raw := range tasks {
		t := raw.Normalize(i)
		if strings.TrimSpace(t.Agent) == "" {
			return nil, invalidf("task %s: agent is required", t.ID)
		}
		if strings.TrimSpace(t.Description) == "" {
			return nil, invalidf("task %s: description is required", t.ID)
		}
		if _, exists := g.index[t.ID]; exists {
			return nil, invalidf("duplicate task id: %q", t.ID)
		}
		g.tasks[i] = t
		g.index[t.ID] = i
	}

	for i, t := range g.tasks {
		if prev, exists := g.byOutputKey[t.OutputKey]; exists {
			return nil, invalidf("task %s: output key %q already used by task %s", t.ID, t.OutputKey, g.tasks[prev].ID)
		}
		if j, isID := g.index[t.OutputKey]; isID && j != i {
			return nil, invalidf("task %s: output key %q collides with another task id", t.ID, t.OutputKey)
		}
		if !ValidName(t.OutputKey) {
			return nil, invalidf("task %s: output key %q cannot be referenced as a placeholder", t.ID, t.OutputKey)
		}
		g.byOutputKey[t.OutputKey] = i
	}

	g.markCompilers()

	if err := g.linkDependencies(inputs); err != nil {
		return nil, err
	}

	switch mode {
	case Sequential:
		if err := g.validateSequential(); err != nil {
			return nil, err
		}
		g.order = make([]int, len(g.tasks))
		for i := range g.order {
			g.order[i] = i
		}
	case DAG:
		order := g.topoOrderIndices()
		if len(order) != len(g.tasks) {
			return nil, cycleError(g.findCycleDeterministic())
		}
		g.order = order
	}

	return g, nil
}

func (g *Graph) markCompilers() {
	for i, t := range g.tasks {
		if t.Compiler {
			g.compilers = append(g.compilers, i)
		}
	}
	if len(g.compilers) == 0 {
		last := len(g.tasks) - 1
		g.tasks[last].Compiler = true
		g.compilers = []int{last}
	}
}

// lookupRef resolves a task reference by ID or output key.
func (g *Graph) lookupRef(ref string) (int, bool) {
	if i, ok := g.index[ref]; ok {
		return i, true
	}
	i, ok := g.byOutputKey[ref]
	return i, ok
}

func (g *Graph) linkDependencies(inputs map[string]string) error {
	sets := make([]map[int]bool, len(g.tasks))
	for i := range sets {
		sets[i] = map[int]bool{}
	}

	for i, t := range g.tasks {
		for _, ref := range t.DependsOn {
			j, ok := g.lookupRef(ref)
			if !ok {
				return invalidf("task %s: depends on unknown task %q", t.ID, ref)
			}
			sets[i][j] = true
		}

		var unresolved []string
		for _, name := range t.Placeholders() {
			if _, ok := inputs[name]; ok {
				continue
			}
			if j, ok := g.byOutputKey[name]; ok {
				sets[i][j] = true
				continue
			}
			unresolved = append(unresolved, name)
		}
		if len(unresolved) > 0 {
			return unresolvedError(t.ID, unresolved)
		}
	}

	if g.mode == DAG {
		for _, c := range g.compilers {
			for j, t := range g.tasks {
				if !t.Compiler {
					sets[c][j] = true
				}
			}
		}
	}

	for i, set := range sets {
		for j := range set {
			g.deps[i] = append(g.deps[i], j)
			g.dependents[j] = append(g.dependents[j], i)
		}
	}
	for i := range g.deps {
		sort.Ints(g.deps[i])
		sort.Ints(g.dependents[i])
	}
	return nil
}

func (g *Graph) validateSequential() error {
	seenCompiler := false
	for i, t := range g.tasks {
		if t.Compiler {
			seenCompiler = true
		} else if seenCompiler {
			return invalidf("task %s: declared after a compiler task; compiler tasks must come last in sequential mode", t.ID)
		}
		for _, j := range g.deps[i] {
			if j >= i {
				return invalidf("task %s: references task %s, which has not run yet in sequential mode", t.ID, g.tasks[j].ID)
			}
		}
	}
	return nil
}

type intMinHeap []int

func (h intMinHeap) Len() int           { return len(h) }
func (h intMinHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h intMinHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *intMinHeap) Push(x any)        { *h = append(*h, x.(int)) }
func (h *intMinHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// topoOrderIndices returns a deterministic topological ordering.
// The ready queue is a min-heap by declaration index.
func (g *Graph) topoOrderIndices() []int {
	indeg := make([]int, len(g.tasks))
	for i := range g.deps {
		indeg[i] = len(g.deps[i])
	}

	ready := &intMinHeap{}
	for i := range indeg {
		if indeg[i] == 0 {
			heap.Push(ready, i)
		}
	}

	out := make([]int, 0, len(indeg))
	for ready.Len() > 0 {
		n := heap.Pop(ready).(int)
		out = append(out, n)
		for _, m := range g.dependents[n] {
			indeg[m]--
			if indeg[m] == 0 {
				heap.Push(ready, m)
			}
		}
	}
	return out
}

// findCycleDeterministic returns one cycle as task IDs in dependency order,
// with the first task repeated at the end.
func (g *Graph) findCycleDeterministic() []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)

	color := make([]int, len(g.tasks))
	var stack []int
	var cycle []int

	var dfs func(u int) bool
	dfs = func(u int) bool {
		color[u] = gray
		stack = append(stack, u)
		for _, v := range g.deps[u] {
			switch color[v] {
			case white:
				if dfs(v) {
					return true
				}
			case gray:
				start := 0
				for k := len(stack) - 1; k >= 0; k-- {
					if stack[k] == v {
						start = k
						break
					}
				}
				cycle = append(append(cycle, stack[start:]...), v)
				return true
			}
		}
		stack = stack[:len(stack)-1]
		color[u] = black
		return false
	}

	for i := range g.tasks {
		if color[i] == white && dfs(i) {
			break
		}
	}

	out := make([]string, 0, len(cycle))
	for _, idx := range cycle {
		out = append(out, g.tasks[idx].ID)
	}
	return out
}

// Mode returns the scheduling mode the graph was validated for.
func (g *Graph) Mode() Mode { return g.mode }

// Len returns the number of tasks.
func (g *Graph) Len() int { return len(g.tasks) }

// Tasks returns the normalized tasks in declaration order.
func (g *Graph) Tasks() []Task {
	out := make([]Task, len(g.tasks))
	copy(out, g.tasks)
	return out
}

// Task returns a task by ID.
func (g *Graph) Task(id string) (Task, bool) {
	i, ok := g.index[id]
	if !ok {
		return Task{}, false
	}
	return g.tasks[i], true
}

// Order returns task IDs in execution order.
func (g *Graph) Order() []string {
	return g.ids(g.order)
}

// Dependencies returns the IDs of the task's direct dependencies in
// declaration order.
func (g *Graph) Dependencies(id string) []string {
	i, ok := g.index[id]
	if !ok {
		return nil
	}
	return g.ids(g.deps[i])
}

// Dependents returns the IDs of tasks that directly depend on id.
func (g *Graph) Dependents(id string) []string {
	i, ok := g.index[id]
	if !ok {
		return nil
	}
	return g.ids(g.dependents[i])
}

// Ancestors returns the IDs of all transitive dependencies of id in
// declaration order.
func (g *Graph) Ancestors(id string) []string {
	i, ok := g.index[id]
	if !ok {
		return nil
	}
	seen := make([]bool, len(g.tasks))
	var walk func(n int)
	walk = func(n int) {
		for _, d := range g.deps[n] {
			if !seen[d] {
				seen[d] = true
				walk(d)
			}
		}
	}
	walk(i)

	var out []int
	for n, ok := range seen {
		if ok {
			out = append(out, n)
		}
	}
	return g.ids(out)
}

// Compilers returns the IDs of compiler tasks in declaration order.
func (g *Graph) Compilers() []string {
	return g.ids(g.compilers)
}

// Resolve renders a task's description. Placeholders are looked up in
// inputs first, then in results (keyed by task ID) via output keys.
func (g *Graph) Resolve(id string, inputs, results map[string]string) (string, error) {
	i, ok := g.index[id]
	if !ok {
		return "", invalidf("unknown task %q", id)
	}
	t := g.tasks[i]
	return Render(t.ID, t.Description, func(name string) (string, bool) {
		if v, ok := inputs[name]; ok {
			return v, true
		}
		if j, ok := g.byOutputKey[name]; ok {
			v, done := results[g.tasks[j].ID]
			return v, done
		}
		return "", false
	})
}

func (g *Graph) ids(indices []int) []string {
	out := make([]string, len(indices))
	for k, i := range indices {
		out[k] = g.tasks[i].ID
	}
	return out
}
