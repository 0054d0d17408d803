package agent

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Agent is a named role with a goal and a set of tool capabilities.
type Agent struct {
	Name  string   `json:"name" yaml:"name"`
	Role  string   `json:"role" yaml:"role"`
	Goal  string   `json:"goal" yaml:"goal"`
	Tools []string `json:"tools,omitempty" yaml:"tools,omitempty"`
	Model string   `json:"model,omitempty" yaml:"model,omitempty"`
}

// New creates an Agent. Tool names are de-duplicated and copied so the
// caller's slice can be reused.
func New(name, role, goal string, tools ...string) (Agent, error) {
	a := Agent{
		Name: name,
		Role: role,
		Goal: goal,
	}
	seen := make(map[string]bool, len(tools))
	for _, tool := range tools {
		if tool == "" || seen[tool] {
			continue
		}
		seen[tool] = true
		a.Tools = append(a.Tools, tool)
	}
	if err := a.Validate(); err != nil {
		return Agent{}, err
	}
	return a, nil
}

// Validate checks the agent's required fields.
func (a Agent) Validate() error {
	if strings.TrimSpace(a.Name) == "" {
		return errors.New("agent name is required")
	}
	if strings.TrimSpace(a.Role) == "" {
		return fmt.Errorf("agent %q: role is required", a.Name)
	}
	return nil
}

// Capabilities returns a copy of the agent's tool names.
func (a Agent) Capabilities() []string {
	return append([]string(nil), a.Tools...)
}

// SystemPrompt formats the agent's identity for the language model.
func (a Agent) SystemPrompt() string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s.\n", a.Name)
	fmt.Fprintf(&b, "Role: %s\n", a.Role)
	if a.Goal != "" {
		fmt.Fprintf(&b, "Goal: %s\n", a.Goal)
	}
	if len(a.Tools) > 0 {
		fmt.Fprintf(&b, "\nYou may call these tools when they help: %s.\n", strings.Join(a.Tools, ", "))
		b.WriteString("Cite the URLs of sources you rely on.\n")
	}
	b.WriteString("\nAnswer with the final deliverable only, as plain prose.")
	return b.String()
}

// RunParams contains input parameters for one agent invocation
type RunParams struct {
	Agent  Agent  `json:"agent"`
	Prompt string `json:"prompt"`
	RunID  string `json:"run_id,omitempty"`
	TaskID string `json:"task_id,omitempty"`
}

// RunResult contains output from agent execution
type RunResult struct {
	Response  string      `json:"response"`
	ToolCalls []ToolCall  `json:"tool_calls,omitempty"`
	Usage     *TokenUsage `json:"usage,omitempty"`
	Provider  string      `json:"provider,omitempty"`
}

// ModelConfig configures model calls
type ModelConfig struct {
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}

// RetryPolicy bounds retries inside one agent invocation
type RetryPolicy struct {
	MaxTurns     int           `json:"max_turns"`
	ModelRetries int           `json:"model_retries"`
	ToolRetries  int           `json:"tool_retries"`
	Backoff      time.Duration `json:"backoff"`
	QuotaBackoff time.Duration `json:"quota_backoff"`
}

// ToolCall represents a tool invocation requested by the model
type ToolCall struct {
	ID         string                 `json:"id"`
	Name       string                 `json:"name"`
	Parameters map[string]interface{} `json:"parameters"`
}

// TokenUsage tracks token consumption
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

func (u *TokenUsage) add(other *TokenUsage) *TokenUsage {
	if other == nil {
		return u
	}
	if u == nil {
		u = &TokenUsage{}
	}
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	return u
}

// AuthProfile represents authentication credentials for LLM providers
type AuthProfile struct {
	ID            string `json:"id"`
	Provider      string `json:"provider"` // "openai", "anthropic"
	APIKey        string `json:"api_key"`
	Model         string `json:"model,omitempty"`
	CooldownUntil *int64 `json:"cooldown_until,omitempty"`
	FailureCount  int    `json:"failure_count"`
	Priority      int    `json:"priority"`
}

// AgentMessage represents a message in the conversation
type AgentMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// DefaultModelConfig returns default model settings
func DefaultModelConfig() ModelConfig {
	return ModelConfig{
		Model:       "gpt-4o-mini",
		Temperature: 0.7,
		MaxTokens:   4096,
	}
}

// DefaultRetryPolicy returns the bounded retry defaults
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxTurns:     10,
		ModelRetries: 2,
		ToolRetries:  2,
		Backoff:      time.Second,
		QuotaBackoff: 2 * time.Second,
	}
}

// EstimateTokens provides a rough token count estimation
func EstimateTokens(messages []AgentMessage) int {
	totalChars := 0
	for _, msg := range messages {
		totalChars += len(msg.Content)
	}
	// Rough estimation: 1 token ≈ 4 characters
	return (totalChars + 3) / 4
}
