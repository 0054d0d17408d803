// Package agent runs a single role-bound agent against a language model with a
// tool-call loop, bounded retries and provider failover.
//
// Invariants:
// - An Agent is immutable after New; the same Agent may serve many tasks.
// - Tool calls route through toolexecutor only and are limited to the agent's capabilities.
// - ModelUnavailable is retried with exponential back-off, then the next auth profile is tried.
// - ToolUnavailable is retried up to RetryPolicy.ToolRetries; ToolQuotaExceeded waits before retrying.
//
// Usage:
//
//	researcher, _ := agent.New("Funding Specialist", "Research Funding and Growth", "Gather funding data.", search.ToolName)
//	runner, _ := agent.NewRunner(agent.Config{ToolExecutor: tools, AuthProfiles: profiles})
//	result, _ := runner.Run(ctx, agent.RunParams{Agent: researcher, Prompt: "..."})
//	_ = result.Response
package agent
