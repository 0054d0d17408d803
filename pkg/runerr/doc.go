// Package runerr defines the error taxonomy shared by every stage of a crew run.
//
// Validation-phase kinds (MissingCredential, InvalidGraph, CyclicDependency,
// UnresolvedPlaceholder) are configuration errors and are never retried.
// Execution-phase kinds (ToolUnavailable, ToolQuotaExceeded, ModelUnavailable,
// TaskTimeout) are transient and retried a bounded number of times before they
// surface as a TaskError.
//
// Usage:
//
//	if errors.Is(err, runerr.ErrToolQuotaExceeded) {
//		// back off
//	}
//	var taskErr *runerr.TaskError
//	if errors.As(err, &taskErr) {
//		fmt.Println(taskErr.TaskID, taskErr.Agent, taskErr.Kind)
//	}
package runerr
