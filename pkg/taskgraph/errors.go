package taskgraph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/harun/crew/pkg/runerr"
)

// GraphError wraps deterministic graph validation failures.
//
// Every GraphError matches runerr.ErrInvalidGraph; cycles and unresolved
// placeholders additionally match their own kind.
type GraphError struct {
	Kind error
	Msg  string
}

func (e *GraphError) Error() string {
	if e == nil {
		return ""
	}
	if e.Msg == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Msg)
}

func (e *GraphError) Unwrap() []error {
	if e.Kind == runerr.ErrInvalidGraph {
		return []error{e.Kind}
	}
	return []error{e.Kind, runerr.ErrInvalidGraph}
}

func invalidf(format string, args ...any) error {
	return &GraphError{Kind: runerr.ErrInvalidGraph, Msg: fmt.Sprintf(format, args...)}
}

func cycleError(path []string) error {
	msg := "cycle"
	if len(path) > 0 {
		msg = "cycle: " + strings.Join(path, " -> ")
	}
	return &GraphError{Kind: runerr.ErrCyclicDependency, Msg: msg}
}

func unresolvedError(taskID string, names []string) error {
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	quoted := make([]string, len(sorted))
	for i, n := range sorted {
		quoted[i] = "{" + n + "}"
	}
	return &GraphError{
		Kind: runerr.ErrUnresolvedPlaceholder,
		Msg:  fmt.Sprintf("task %s: %s", taskID, strings.Join(quoted, ", ")),
	}
}
