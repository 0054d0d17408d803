package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/harun/crew/internal/observability"
	"github.com/harun/crew/internal/tracing"
	"github.com/harun/crew/pkg/runerr"
	"github.com/harun/crew/pkg/toolexecutor"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const tracerName = "crew.agent"

// ErrMaxTurns is returned when the model keeps requesting tools past the turn limit.
var ErrMaxTurns = errors.New("maximum tool turns exceeded")

// Runner executes agents against language models
type Runner struct {
	toolExecutor    *toolexecutor.ToolExecutor
	logger          zerolog.Logger
	providerFactory ProviderCreator
	model           ModelConfig
	retry           RetryPolicy
	toolTimeout     time.Duration
	cooldown        time.Duration

	// Auth profiles
	authProfiles []AuthProfile
	authMu       sync.RWMutex
}

// Config holds runner configuration
type Config struct {
	ToolExecutor    *toolexecutor.ToolExecutor
	Logger          zerolog.Logger
	AuthProfiles    []AuthProfile
	ProviderFactory ProviderCreator
	Model           ModelConfig
	Retry           RetryPolicy
	ToolTimeout     time.Duration
	// Cooldown is multiplied by a profile's consecutive failure count.
	Cooldown time.Duration
}

// NewRunner creates a new agent runner
func NewRunner(cfg Config) (*Runner, error) {
	observability.EnsureRegistered()

	if cfg.ToolExecutor == nil {
		return nil, fmt.Errorf("tool executor is required")
	}
	if len(cfg.AuthProfiles) == 0 {
		return nil, fmt.Errorf("at least one auth profile is required")
	}
	if err := validateModelConfig(cfg.Model); err != nil {
		return nil, fmt.Errorf("invalid model configuration: %w", err)
	}
	if cfg.Retry.ModelRetries < 0 || cfg.Retry.ToolRetries < 0 || cfg.Retry.MaxTurns < 0 {
		return nil, fmt.Errorf("retry bounds cannot be negative")
	}

	providerFactory := cfg.ProviderFactory
	if providerFactory == nil {
		providerFactory = &ProviderFactory{}
	}

	model := cfg.Model
	if model.Model == "" {
		model.Model = DefaultModelConfig().Model
	}
	retry := cfg.Retry
	if retry.MaxTurns == 0 {
		retry.MaxTurns = DefaultRetryPolicy().MaxTurns
	}
	toolTimeout := cfg.ToolTimeout
	if toolTimeout <= 0 {
		toolTimeout = toolexecutor.DefaultTimeout
	}
	cooldown := cfg.Cooldown
	if cooldown <= 0 {
		cooldown = time.Minute
	}

	profiles := make([]AuthProfile, len(cfg.AuthProfiles))
	copy(profiles, cfg.AuthProfiles)

	return &Runner{
		toolExecutor:    cfg.ToolExecutor,
		logger:          cfg.Logger,
		providerFactory: providerFactory,
		model:           model,
		retry:           retry,
		toolTimeout:     toolTimeout,
		cooldown:        cooldown,
		authProfiles:    profiles,
	}, nil
}

func validateModelConfig(config ModelConfig) error {
	if config.Temperature < 0 || config.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2")
	}
	if config.MaxTokens < 0 {
		return fmt.Errorf("max tokens cannot be negative")
	}
	return nil
}

// Run executes one agent invocation: the model is prompted with the agent's
// identity and params.Prompt, tool calls are served until it answers.
func (r *Runner) Run(ctx context.Context, params RunParams) (RunResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if tracing.GetTraceID(ctx) == "" {
		ctx = tracing.NewRequestContext(ctx)
	}
	ctx = tracing.WithAgent(ctx, params.Agent.Name)
	ctx, span := tracing.StartSpan(
		ctx,
		tracerName,
		"agent.run",
		attribute.String("agent", params.Agent.Name),
		attribute.String("task_id", params.TaskID),
	)
	defer span.End()

	result, err := r.run(ctx, params)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return result, err
}

func (r *Runner) run(ctx context.Context, params RunParams) (RunResult, error) {
	if err := params.Agent.Validate(); err != nil {
		return RunResult{}, err
	}
	if strings.TrimSpace(params.Prompt) == "" {
		return RunResult{}, fmt.Errorf("agent %q: prompt is empty", params.Agent.Name)
	}

	tools, err := r.buildTools(params.Agent.Tools)
	if err != nil {
		return RunResult{}, fmt.Errorf("failed to build tools: %w", err)
	}

	messages := []AgentMessage{{
		Role:    "user",
		Content: params.Prompt,
	}}

	return r.executeWithFailover(ctx, messages, tools, params)
}

// buildTools converts capability names to tool declarations for the model
func (r *Runner) buildTools(toolNames []string) ([]ToolSpec, error) {
	if len(toolNames) == 0 {
		return nil, nil
	}

	defs, err := r.toolExecutor.Definitions(toolNames)
	if err != nil {
		return nil, err
	}

	tools := make([]ToolSpec, 0, len(defs))
	for _, def := range defs {
		tools = append(tools, ToolSpec{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: def.InputSchema(),
		})
	}
	return tools, nil
}

// executeWithFailover executes with auth profile failover
func (r *Runner) executeWithFailover(ctx context.Context, messages []AgentMessage, tools []ToolSpec, params RunParams) (RunResult, error) {
	r.authMu.RLock()
	profiles := make([]AuthProfile, len(r.authProfiles))
	copy(profiles, r.authProfiles)
	r.authMu.RUnlock()
	logger := tracing.LoggerFromContext(ctx, r.logger)

	sortProfilesByPriority(profiles)

	var lastErr error

	for _, profile := range profiles {
		profileStart := time.Now()
		if profile.CooldownUntil != nil && time.Now().UnixMilli() < *profile.CooldownUntil {
			observability.SetProviderCooldown(profile.Provider, true)
			logger.Debug().
				Str("profileId", profile.ID).
				Msg("Skipping profile in cooldown")
			continue
		}

		observability.SetProviderCooldown(profile.Provider, false)
		logger.Debug().Str("profileId", profile.ID).Msg("Trying auth profile")

		provider, err := r.providerFactory.NewProvider(profile)
		if err != nil {
			observability.RecordAgentRun(profile.Provider, time.Since(profileStart), false)
			logger.Warn().
				Str("profileId", profile.ID).
				Err(err).
				Msg("Failed to create provider")
			continue
		}

		result, err := r.executeWithTools(ctx, provider, r.modelFor(params.Agent, profile), messages, tools, params)
		if err == nil {
			r.updateProfileSuccess(profile.ID)
			observability.RecordAgentRun(profile.Provider, time.Since(profileStart), true)
			result.Provider = provider.Provider()
			return result, nil
		}

		lastErr = err
		observability.RecordAgentRun(profile.Provider, time.Since(profileStart), false)

		// Only an unavailable model justifies another profile; tool failures,
		// timeouts and cancellation belong to the task.
		if !errors.Is(err, runerr.ErrModelUnavailable) || ctx.Err() != nil {
			return RunResult{}, err
		}

		logger.Warn().
			Str("profileId", profile.ID).
			Err(err).
			Msg("Auth profile failed")
		r.updateProfileFailure(profile.ID)
	}

	if lastErr == nil {
		return RunResult{}, fmt.Errorf("%w: no auth profile available", runerr.ErrModelUnavailable)
	}
	logger.Error().Err(lastErr).Msg("All auth profiles failed")
	return RunResult{}, fmt.Errorf("all auth profiles failed: %w", lastErr)
}

// modelFor picks the model: agent override, then profile, then runner default.
func (r *Runner) modelFor(a Agent, profile AuthProfile) string {
	switch {
	case a.Model != "":
		return a.Model
	case profile.Model != "":
		return profile.Model
	default:
		return r.model.Model
	}
}

// executeWithTools handles the tool execution loop
func (r *Runner) executeWithTools(ctx context.Context, provider LLMProvider, model string, messages []AgentMessage, tools []ToolSpec, params RunParams) (RunResult, error) {
	currentMessages := append([]AgentMessage(nil), messages...)
	allToolCalls := []ToolCall{}
	var usage *TokenUsage

	execCtx := &toolexecutor.ExecutionContext{
		RunID:      params.RunID,
		TaskID:     params.TaskID,
		AgentName:  params.Agent.Name,
		Timeout:    r.toolTimeout,
		ToolPolicy: toolexecutor.AllowOnly(params.Agent.Tools...),
	}

	request := LLMRequest{
		Model:        model,
		Tools:        tools,
		Temperature:  r.model.Temperature,
		MaxTokens:    r.model.MaxTokens,
		SystemPrompt: params.Agent.SystemPrompt(),
	}

	for turn := 0; turn < r.retry.MaxTurns; turn++ {
		if err := ctx.Err(); err != nil {
			return RunResult{}, err
		}

		request.Messages = currentMessages
		response, err := r.callLLMWithRetry(ctx, provider, request)
		if err != nil {
			return RunResult{}, err
		}
		usage = usage.add(response.Usage)

		if len(response.ToolCalls) == 0 {
			if strings.TrimSpace(response.Content) == "" {
				return RunResult{}, fmt.Errorf("%s returned an empty response", provider.Provider())
			}
			return RunResult{
				Response:  response.Content,
				ToolCalls: allToolCalls,
				Usage:     usage,
			}, nil
		}

		currentMessages = append(currentMessages, AgentMessage{
			Role:      "assistant",
			Content:   response.Content,
			ToolCalls: response.ToolCalls,
		})

		for _, toolCall := range response.ToolCalls {
			content, err := r.executeToolWithRetry(ctx, toolCall, execCtx)
			if err != nil {
				return RunResult{}, err
			}
			currentMessages = append(currentMessages, AgentMessage{
				Role:       "tool",
				Content:    content,
				ToolCallID: toolCall.ID,
			})
		}

		allToolCalls = append(allToolCalls, response.ToolCalls...)
	}

	return RunResult{}, fmt.Errorf("%w (%d)", ErrMaxTurns, r.retry.MaxTurns)
}

// executeToolWithRetry runs one tool call. Transient failures are retried
// within the policy bounds and surface as errors once exhausted; any other
// failure is returned to the model as the tool's output.
func (r *Runner) executeToolWithRetry(ctx context.Context, call ToolCall, execCtx *toolexecutor.ExecutionContext) (string, error) {
	logger := tracing.LoggerFromContext(ctx, r.logger).With().Str("tool", call.Name).Logger()
	quotaWait := r.retry.QuotaBackoff

	for attempt := 0; ; attempt++ {
		result := r.toolExecutor.Execute(ctx, call.Name, call.Parameters, execCtx)
		if result.Success {
			return fmt.Sprintf("%v", result.Output), nil
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}

		err := result.Err
		if err == nil {
			err = errors.New(result.Error)
		}
		quota := errors.Is(err, runerr.ErrToolQuotaExceeded)
		if !quota && !errors.Is(err, runerr.ErrToolUnavailable) {
			return "Error: " + result.Error, nil
		}
		if attempt >= r.retry.ToolRetries {
			return "", fmt.Errorf("tool %s failed after %d attempts: %w", call.Name, attempt+1, err)
		}

		delay := backoff(r.retry.Backoff, attempt)
		if quota {
			delay = quotaWait
			quotaWait *= 2
			if hint, ok := runerr.RetryAfter(err); ok && hint > delay {
				delay = hint
			}
		}

		kind := runerr.Kind(err)
		observability.RecordToolRetry(call.Name, kind)
		logger.Info().
			Int("attempt", attempt+1).
			Str("kind", kind).
			Dur("delay", delay).
			Msg("Retrying tool call")

		if err := sleep(ctx, delay); err != nil {
			return "", err
		}
	}
}

// callLLMWithRetry calls the model with exponential backoff on ModelUnavailable
func (r *Runner) callLLMWithRetry(ctx context.Context, provider LLMProvider, request LLMRequest) (*LLMResponse, error) {
	var lastErr error

	for attempt := 0; attempt <= r.retry.ModelRetries; attempt++ {
		response, err := provider.Call(ctx, request)
		if err == nil {
			return response, nil
		}

		lastErr = err

		if !errors.Is(err, runerr.ErrModelUnavailable) || ctx.Err() != nil {
			return nil, err
		}

		if attempt == r.retry.ModelRetries {
			break
		}

		delay := backoff(r.retry.Backoff, attempt)
		observability.RecordModelRetry(provider.Provider())
		r.logger.Info().
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Msg("Retrying after error")

		if err := sleep(ctx, delay); err != nil {
			return nil, err
		}
	}

	return nil, fmt.Errorf("max retries (%d) exceeded: %w", r.retry.ModelRetries, lastErr)
}

// backoff returns base * 2^attempt.
func backoff(base time.Duration, attempt int) time.Duration {
	return base * time.Duration(1<<attempt)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Profiles returns a snapshot of the auth profiles with their failure state.
func (r *Runner) Profiles() []AuthProfile {
	r.authMu.RLock()
	defer r.authMu.RUnlock()
	profiles := make([]AuthProfile, len(r.authProfiles))
	copy(profiles, r.authProfiles)
	return profiles
}

// updateProfileSuccess resets failure count for a profile
func (r *Runner) updateProfileSuccess(profileID string) {
	r.authMu.Lock()
	defer r.authMu.Unlock()

	for i := range r.authProfiles {
		if r.authProfiles[i].ID == profileID {
			r.authProfiles[i].FailureCount = 0
			r.authProfiles[i].CooldownUntil = nil
			observability.SetProviderCooldown(r.authProfiles[i].Provider, false)
			break
		}
	}
}

// updateProfileFailure marks a profile as failed
func (r *Runner) updateProfileFailure(profileID string) {
	r.authMu.Lock()
	defer r.authMu.Unlock()

	for i := range r.authProfiles {
		if r.authProfiles[i].ID == profileID {
			r.authProfiles[i].FailureCount++
			cooldownMs := time.Now().Add(r.cooldown * time.Duration(r.authProfiles[i].FailureCount)).UnixMilli()
			r.authProfiles[i].CooldownUntil = &cooldownMs
			observability.SetProviderCooldown(r.authProfiles[i].Provider, true)
			break
		}
	}
}

// sortProfilesByPriority sorts profiles by priority (lower = higher priority)
func sortProfilesByPriority(profiles []AuthProfile) {
	for i := 0; i < len(profiles)-1; i++ {
		for j := i + 1; j < len(profiles); j++ {
			if profiles[j].Priority < profiles[i].Priority {
				profiles[i], profiles[j] = profiles[j], profiles[i]
			}
		}
	}
}
