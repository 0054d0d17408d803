// Package toolexecutor registers and executes the structured tools an agent's
// language model may call.
//
// Invariants:
// - Tool names are unique.
// - Parameters are schema-validated before execution.
// - A call is only executed when the calling agent's ToolPolicy allows it.
// - Failures keep their typed cause in ToolResult.Err.
//
// Usage:
//
//	exec := toolexecutor.New()
//	_ = exec.RegisterTool(toolexecutor.ToolDefinition{
//		Name: "echo",
//		Description: "Echo input",
//		Parameters: []toolexecutor.ToolParameter{{Name: "text", Type: "string", Description: "text", Required: true}},
//		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) { return params["text"], nil },
//	})
package toolexecutor
