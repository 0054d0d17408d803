package toolexecutor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/harun/crew/internal/observability"
	"github.com/harun/crew/internal/tracing"
	"github.com/harun/crew/pkg/runerr"
	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// DefaultTimeout bounds a single tool call when the caller sets none.
const DefaultTimeout = 30 * time.Second

// ErrToolNotAllowed is returned when an agent calls a tool outside its capabilities.
var ErrToolNotAllowed = errors.New("tool not allowed")

// ToolPolicy defines which tools an agent can use
type ToolPolicy struct {
	Allow []string `json:"allow"` // List of allowed tools (* for all)
	Deny  []string `json:"deny"`  // List of denied tools (overrides allow)
}

// AllowOnly builds a policy that permits exactly the named tools.
func AllowOnly(names ...string) *ToolPolicy {
	return &ToolPolicy{Allow: append([]string{}, names...)}
}

// IsToolAllowed checks if a tool is allowed by the policy
func (tp *ToolPolicy) IsToolAllowed(toolName string) bool {
	if tp == nil {
		return true
	}

	for _, denied := range tp.Deny {
		if denied == toolName || denied == "*" {
			return false
		}
	}

	for _, allowed := range tp.Allow {
		if allowed == toolName || allowed == "*" {
			return true
		}
	}

	return false
}

// ToolParameter defines a parameter for a tool
type ToolParameter struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Description string      `json:"description"`
	Required    bool        `json:"required"`
	Default     interface{} `json:"default,omitempty"`
}

// ToolDefinition defines a tool's metadata and handler
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  []ToolParameter `json:"parameters"`
	Handler     ToolHandler     `json:"-"`
}

// InputSchema renders the parameters as a JSON schema object suitable for an
// LLM tool declaration.
func (d ToolDefinition) InputSchema() map[string]interface{} {
	properties := make(map[string]interface{}, len(d.Parameters))
	required := []string{}
	for _, param := range d.Parameters {
		properties[param.Name] = map[string]interface{}{
			"type":        param.Type,
			"description": param.Description,
		}
		if param.Required {
			required = append(required, param.Name)
		}
	}

	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// ToolHandler is the function signature for tool execution
type ToolHandler func(ctx context.Context, params map[string]interface{}) (interface{}, error)

// ExecutionContext provides runtime information for tool execution
type ExecutionContext struct {
	RunID      string
	TaskID     string
	AgentName  string
	Timeout    time.Duration
	ToolPolicy *ToolPolicy
}

// ToolResult represents the result of a tool execution
type ToolResult struct {
	Success   bool                   `json:"success"`
	Output    interface{}            `json:"output,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Truncated bool                   `json:"truncated,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`

	// Err keeps the typed cause so callers can classify failures with errors.Is.
	Err error `json:"-"`
}

// ToolExecutor manages and executes tools
type ToolExecutor struct {
	tools   map[string]*ToolDefinition
	schemas map[string]*gojsonschema.Schema
	maxSize int
	mu      sync.RWMutex
}

// New creates a new ToolExecutor
func New() *ToolExecutor {
	observability.EnsureRegistered()

	return &ToolExecutor{
		tools:   make(map[string]*ToolDefinition),
		schemas: make(map[string]*gojsonschema.Schema),
		maxSize: 10 * 1024,
	}
}

// RegisterTool registers a new tool
func (te *ToolExecutor) RegisterTool(def ToolDefinition) error {
	if err := te.validateToolDefinition(def); err != nil {
		return fmt.Errorf("invalid tool definition: %w", err)
	}

	schema, err := te.generateJSONSchema(def)
	if err != nil {
		return fmt.Errorf("failed to generate schema: %w", err)
	}

	te.mu.Lock()
	defer te.mu.Unlock()

	if _, exists := te.tools[def.Name]; exists {
		return fmt.Errorf("tool already registered: %s", def.Name)
	}

	te.tools[def.Name] = &def
	te.schemas[def.Name] = schema

	log.Debug().Str("tool", def.Name).Msg("Tool registered")

	return nil
}

// GetTool returns a tool definition by name
func (te *ToolExecutor) GetTool(name string) *ToolDefinition {
	te.mu.RLock()
	defer te.mu.RUnlock()

	return te.tools[name]
}

// HasTool reports whether a tool is registered under name.
func (te *ToolExecutor) HasTool(name string) bool {
	return te.GetTool(name) != nil
}

// ListTools returns all registered tool names in sorted order
func (te *ToolExecutor) ListTools() []string {
	te.mu.RLock()
	defer te.mu.RUnlock()

	tools := make([]string, 0, len(te.tools))
	for name := range te.tools {
		tools = append(tools, name)
	}
	sort.Strings(tools)

	return tools
}

// Definitions returns the definitions for names, failing on the first unknown tool.
func (te *ToolExecutor) Definitions(names []string) ([]ToolDefinition, error) {
	te.mu.RLock()
	defer te.mu.RUnlock()

	defs := make([]ToolDefinition, 0, len(names))
	for _, name := range names {
		def, ok := te.tools[name]
		if !ok {
			return nil, fmt.Errorf("tool not found: %s", name)
		}
		defs = append(defs, *def)
	}
	return defs, nil
}

// Execute executes a tool with the given parameters
func (te *ToolExecutor) Execute(ctx context.Context, toolName string, params map[string]interface{}, execCtx *ExecutionContext) ToolResult {
	startTime := time.Now()

	ctx, span := tracing.StartSpan(ctx, "crew.toolexecutor", "tool.execute", attribute.String("tool", toolName))
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, log.Logger).With().Str("tool", toolName).Logger()

	fail := func(err error) ToolResult {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		kind := runerr.Kind(err)
		observability.RecordToolExecution(toolName, time.Since(startTime), false, kind)
		observability.RecordToolAudit(ctx, toolName, agentName(execCtx), "failure", map[string]interface{}{"kind": kind})
		return ToolResult{
			Success: false,
			Error:   err.Error(),
			Err:     err,
			Metadata: map[string]interface{}{
				"duration": time.Since(startTime).Milliseconds(),
			},
		}
	}

	if execCtx != nil && !execCtx.ToolPolicy.IsToolAllowed(toolName) {
		logger.Warn().Str("agent", execCtx.AgentName).Msg("Tool execution blocked by policy")
		return fail(fmt.Errorf("%w: %s is not a capability of agent %q", ErrToolNotAllowed, toolName, execCtx.AgentName))
	}

	te.mu.RLock()
	tool := te.tools[toolName]
	schema := te.schemas[toolName]
	te.mu.RUnlock()

	if tool == nil {
		logger.Error().Msg("Tool not found")
		return fail(fmt.Errorf("tool not found: %s", toolName))
	}

	if err := te.validateParameters(schema, params); err != nil {
		logger.Error().Err(err).Msg("Parameter validation failed")
		return fail(fmt.Errorf("parameter validation failed: %w", err))
	}

	timeout := DefaultTimeout
	if execCtx != nil && execCtx.Timeout > 0 {
		timeout = execCtx.Timeout
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resultChan := make(chan interface{}, 1)
	errChan := make(chan error, 1)

	go func() {
		result, err := tool.Handler(ContextWithExecContext(timeoutCtx, execCtx), params)
		if err != nil {
			errChan <- err
		} else {
			resultChan <- result
		}
	}()

	select {
	case result := <-resultChan:
		duration := time.Since(startTime)
		output, truncated := te.truncateOutput(result)

		logger.Debug().
			Dur("duration", duration).
			Bool("truncated", truncated).
			Msg("Tool execution completed")
		observability.RecordToolExecution(toolName, duration, true, "")
		observability.RecordToolAudit(ctx, toolName, agentName(execCtx), "success", map[string]interface{}{"truncated": truncated})

		return ToolResult{
			Success:   true,
			Output:    output,
			Truncated: truncated,
			Metadata: map[string]interface{}{
				"duration": duration.Milliseconds(),
			},
		}

	case err := <-errChan:
		if timeoutCtx.Err() != nil {
			return fail(timeoutError(ctx, toolName, timeout))
		}
		logger.Warn().Dur("duration", time.Since(startTime)).Err(err).Msg("Tool execution failed")
		return fail(err)

	case <-timeoutCtx.Done():
		logger.Warn().Dur("timeout", timeout).Msg("Tool execution timeout")
		return fail(timeoutError(ctx, toolName, timeout))
	}
}

func agentName(execCtx *ExecutionContext) string {
	if execCtx == nil {
		return ""
	}
	return execCtx.AgentName
}

// timeoutError keeps the caller's own cancellation intact; only the per-tool
// bound maps to ToolUnavailable.
func timeoutError(parent context.Context, toolName string, timeout time.Duration) error {
	if err := parent.Err(); err != nil {
		return err
	}
	return fmt.Errorf("%w: %s timed out after %v", runerr.ErrToolUnavailable, toolName, timeout)
}

// validateToolDefinition validates a tool definition
func (te *ToolExecutor) validateToolDefinition(def ToolDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if def.Description == "" {
		return fmt.Errorf("tool description cannot be empty")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool handler cannot be nil")
	}

	validTypes := map[string]bool{
		"string": true, "number": true, "boolean": true,
		"object": true, "array": true, "integer": true,
	}
	for _, param := range def.Parameters {
		if param.Name == "" {
			return fmt.Errorf("parameter name cannot be empty")
		}
		if param.Type == "" {
			return fmt.Errorf("parameter type cannot be empty for %s", param.Name)
		}
		if param.Description == "" {
			return fmt.Errorf("parameter description cannot be empty for %s", param.Name)
		}
		if !validTypes[param.Type] {
			return fmt.Errorf("invalid parameter type %s for %s", param.Type, param.Name)
		}
	}

	return nil
}

// generateJSONSchema generates a JSON Schema from tool parameters
func (te *ToolExecutor) generateJSONSchema(def ToolDefinition) (*gojsonschema.Schema, error) {
	schemaMap := def.InputSchema()
	schemaMap["additionalProperties"] = false

	for _, param := range def.Parameters {
		if param.Default == nil {
			continue
		}
		prop := schemaMap["properties"].(map[string]interface{})[param.Name].(map[string]interface{})
		prop["default"] = param.Default
	}

	return gojsonschema.NewSchema(gojsonschema.NewGoLoader(schemaMap))
}

// validateParameters validates parameters against a JSON Schema
func (te *ToolExecutor) validateParameters(schema *gojsonschema.Schema, params map[string]interface{}) error {
	if schema == nil {
		return nil
	}
	if params == nil {
		params = map[string]interface{}{}
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(params))
	if err != nil {
		return err
	}

	if !result.Valid() {
		errs := []string{}
		for _, err := range result.Errors() {
			errs = append(errs, err.String())
		}
		return fmt.Errorf("validation errors: %v", errs)
	}

	return nil
}

// truncateOutput truncates output if it exceeds the size limit
func (te *ToolExecutor) truncateOutput(output interface{}) (interface{}, bool) {
	str := fmt.Sprintf("%v", output)

	if len(str) <= te.maxSize {
		return output, false
	}

	log.Warn().
		Int("original", len(str)).
		Int("truncated", te.maxSize).
		Msg("Output truncated")

	return str[:te.maxSize] + "\n... [output truncated]", true
}
