package runerr

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrMissingCredential     = errors.New("missing credential")
	ErrInvalidGraph          = errors.New("invalid graph")
	ErrUnresolvedPlaceholder = errors.New("unresolved placeholder")
	ErrToolUnavailable       = errors.New("tool unavailable")
	ErrToolQuotaExceeded     = errors.New("tool quota exceeded")
	ErrModelUnavailable      = errors.New("model unavailable")
	ErrTaskTimeout           = errors.New("task timeout")
	ErrCyclicDependency      = errors.New("cyclic dependency")
)

// kinds is ordered from most to least specific so Kind reports the
// narrowest classification when a chain matches several sentinels.
var kinds = []struct {
	err  error
	name string
}{
	{ErrCyclicDependency, "CyclicDependency"},
	{ErrUnresolvedPlaceholder, "UnresolvedPlaceholder"},
	{ErrMissingCredential, "MissingCredential"},
	{ErrInvalidGraph, "InvalidGraph"},
	{ErrToolQuotaExceeded, "ToolQuotaExceeded"},
	{ErrToolUnavailable, "ToolUnavailable"},
	{ErrModelUnavailable, "ModelUnavailable"},
	{ErrTaskTimeout, "TaskTimeout"},
}

// Kind returns the taxonomy name for err, or "Unknown" when err carries none.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "Unknown"
}

// IsValidation reports whether err is a configuration error detected before
// any external call is made.
func IsValidation(err error) bool {
	return errors.Is(err, ErrMissingCredential) ||
		errors.Is(err, ErrInvalidGraph) ||
		errors.Is(err, ErrCyclicDependency) ||
		errors.Is(err, ErrUnresolvedPlaceholder)
}

// IsTransient reports whether err may succeed on a later attempt.
func IsTransient(err error) bool {
	return errors.Is(err, ErrToolUnavailable) ||
		errors.Is(err, ErrToolQuotaExceeded) ||
		errors.Is(err, ErrModelUnavailable) ||
		errors.Is(err, ErrTaskTimeout)
}

// TaskError is the failure reported by a run: which task failed, on which
// agent, and why.
type TaskError struct {
	TaskID string
	Agent  string
	Kind   string
	Err    error
}

// NewTaskError builds a TaskError, deriving Kind from the cause.
func NewTaskError(taskID, agent string, err error) *TaskError {
	return &TaskError{
		TaskID: taskID,
		Agent:  agent,
		Kind:   Kind(err),
		Err:    err,
	}
}

func (e *TaskError) Error() string {
	if e == nil {
		return ""
	}
	if e.TaskID == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("task %s failed on agent %q (%s): %v", e.TaskID, e.Agent, e.Kind, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }

// Cause returns the human-readable cause string without the task prefix.
func (e *TaskError) Cause() string {
	if e == nil || e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

type taskErrorJSON struct {
	TaskID string `json:"task_id,omitempty"`
	Agent  string `json:"agent,omitempty"`
	Kind   string `json:"kind"`
	Error  string `json:"error"`
}

// MarshalJSON encodes the failure with its cause flattened to a string.
func (e *TaskError) MarshalJSON() ([]byte, error) {
	return json.Marshal(taskErrorJSON{
		TaskID: e.TaskID,
		Agent:  e.Agent,
		Kind:   e.Kind,
		Error:  e.Cause(),
	})
}

// UnmarshalJSON restores a persisted failure. The restored cause still
// matches its taxonomy sentinel with errors.Is.
func (e *TaskError) UnmarshalJSON(data []byte) error {
	var raw taskErrorJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	e.TaskID = raw.TaskID
	e.Agent = raw.Agent
	e.Kind = raw.Kind
	e.Err = &restoredError{sentinel: sentinelFor(raw.Kind), msg: raw.Error}
	return nil
}

type restoredError struct {
	sentinel error
	msg      string
}

func (r *restoredError) Error() string { return r.msg }
func (r *restoredError) Unwrap() error { return r.sentinel }

func sentinelFor(kind string) error {
	for _, k := range kinds {
		if k.name == kind {
			return k.err
		}
	}
	return nil
}

// RetryAfter extracts a provider-suggested wait from err, if any error in the
// chain exposes one.
func RetryAfter(err error) (time.Duration, bool) {
	var hinted interface{ RetryAfter() time.Duration }
	if errors.As(err, &hinted) {
		if d := hinted.RetryAfter(); d > 0 {
			return d, true
		}
	}
	return 0, false
}
