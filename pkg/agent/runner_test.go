package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/harun/crew/pkg/runerr"
	"github.com/harun/crew/pkg/toolexecutor"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockProvider struct {
	mock.Mock
	name string
}

func (m *mockProvider) Call(ctx context.Context, request LLMRequest) (*LLMResponse, error) {
	args := m.Called(ctx, request)
	resp, _ := args.Get(0).(*LLMResponse)
	return resp, args.Error(1)
}

func (m *mockProvider) Provider() string {
	return m.name
}

type mockFactory struct {
	providers map[string]LLMProvider
}

func (f *mockFactory) NewProvider(profile AuthProfile) (LLMProvider, error) {
	p, ok := f.providers[profile.ID]
	if !ok {
		return nil, fmt.Errorf("no provider for %s", profile.ID)
	}
	return p, nil
}

type quotaErr struct{ wait time.Duration }

func (e quotaErr) Error() string              { return "plan limit reached" }
func (e quotaErr) Unwrap() error              { return runerr.ErrToolQuotaExceeded }
func (e quotaErr) RetryAfter() time.Duration { return e.wait }

func testRetry() RetryPolicy {
	return RetryPolicy{
		MaxTurns:     4,
		ModelRetries: 2,
		ToolRetries:  2,
		Backoff:      time.Millisecond,
		QuotaBackoff: 5 * time.Millisecond,
	}
}

func setupTestRunner(t *testing.T, handler toolexecutor.ToolHandler, providers ...*mockProvider) *Runner {
	t.Helper()

	te := toolexecutor.New()
	if handler == nil {
		handler = func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			return "test result", nil
		}
	}
	require.NoError(t, te.RegisterTool(toolexecutor.ToolDefinition{
		Name:        "test_tool",
		Description: "A test tool",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "input", Type: "string", Description: "Test input", Required: true},
		},
		Handler: handler,
	}))
	require.NoError(t, te.RegisterTool(toolexecutor.ToolDefinition{
		Name:        "other_tool",
		Description: "Not granted to the test agent",
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			return "should not run", nil
		},
	}))

	factory := &mockFactory{providers: map[string]LLMProvider{}}
	profiles := []AuthProfile{}
	for i, p := range providers {
		id := fmt.Sprintf("profile-%d", i)
		factory.providers[id] = p
		profiles = append(profiles, AuthProfile{ID: id, Provider: p.name, APIKey: "k", Priority: i})
	}

	runner, err := NewRunner(Config{
		ToolExecutor:    te,
		Logger:          zerolog.Nop(),
		AuthProfiles:    profiles,
		ProviderFactory: factory,
		Model:           DefaultModelConfig(),
		Retry:           testRetry(),
	})
	require.NoError(t, err)
	return runner
}

func testAgent(t *testing.T) Agent {
	t.Helper()
	a, err := New("Market Analyst", "Analyze Market Position", "Evaluate the competitive landscape.", "test_tool")
	require.NoError(t, err)
	return a
}

func toolCallResponse(id string, params map[string]interface{}) *LLMResponse {
	return &LLMResponse{ToolCalls: []ToolCall{{ID: id, Name: "test_tool", Parameters: params}}}
}

func TestNewRunner(t *testing.T) {
	te := toolexecutor.New()
	profiles := []AuthProfile{{ID: "p", Provider: "openai", APIKey: "k"}}

	t.Run("should create runner with valid config", func(t *testing.T) {
		runner, err := NewRunner(Config{ToolExecutor: te, AuthProfiles: profiles})
		require.NoError(t, err)
		assert.Equal(t, DefaultModelConfig().Model, runner.model.Model)
		assert.Equal(t, 10, runner.retry.MaxTurns)
	})

	t.Run("should fail without tool executor", func(t *testing.T) {
		_, err := NewRunner(Config{AuthProfiles: profiles})
		assert.ErrorContains(t, err, "tool executor is required")
	})

	t.Run("should fail without auth profiles", func(t *testing.T) {
		_, err := NewRunner(Config{ToolExecutor: te})
		assert.ErrorContains(t, err, "at least one auth profile")
	})

	t.Run("should reject invalid temperature", func(t *testing.T) {
		_, err := NewRunner(Config{ToolExecutor: te, AuthProfiles: profiles, Model: ModelConfig{Temperature: 3}})
		assert.ErrorContains(t, err, "temperature")
	})

	t.Run("should reject negative retry bounds", func(t *testing.T) {
		_, err := NewRunner(Config{ToolExecutor: te, AuthProfiles: profiles, Retry: RetryPolicy{ToolRetries: -1}})
		assert.Error(t, err)
	})
}

func TestAgent(t *testing.T) {
	t.Run("should deduplicate tools", func(t *testing.T) {
		a, err := New("Funding Specialist", "Research Funding", "Gather data", "web_search", "web_search", "")
		require.NoError(t, err)
		assert.Equal(t, []string{"web_search"}, a.Capabilities())
	})

	t.Run("should require name and role", func(t *testing.T) {
		_, err := New("", "role", "goal")
		assert.Error(t, err)
		_, err = New("Name", " ", "goal")
		assert.Error(t, err)
	})

	t.Run("should describe role goal and tools in the system prompt", func(t *testing.T) {
		a := testAgent(t)
		prompt := a.SystemPrompt()
		assert.Contains(t, prompt, "You are Market Analyst.")
		assert.Contains(t, prompt, "Role: Analyze Market Position")
		assert.Contains(t, prompt, "Goal: Evaluate the competitive landscape.")
		assert.Contains(t, prompt, "test_tool")
	})

	t.Run("should omit tool guidance for tool-less agents", func(t *testing.T) {
		a, err := New("Report Compiler", "Compile Report", "Synthesize")
		require.NoError(t, err)
		assert.NotContains(t, a.SystemPrompt(), "tools")
	})
}

func TestRunnerRun(t *testing.T) {
	ctx := context.Background()

	t.Run("should return final answer without tools", func(t *testing.T) {
		p := &mockProvider{name: "openai"}
		p.On("Call", mock.Anything, mock.MatchedBy(func(req LLMRequest) bool {
			return req.Model == "gpt-4o-mini" && len(req.Tools) == 1 && strings.Contains(req.SystemPrompt, "Market Analyst")
		})).Return(&LLMResponse{Content: "analysis", Usage: &TokenUsage{InputTokens: 10, OutputTokens: 5}}, nil).Once()

		runner := setupTestRunner(t, nil, p)
		result, err := runner.Run(ctx, RunParams{Agent: testAgent(t), Prompt: "Analyze Acme"})
		require.NoError(t, err)
		assert.Equal(t, "analysis", result.Response)
		assert.Equal(t, "openai", result.Provider)
		assert.Equal(t, 15, result.Usage.InputTokens+result.Usage.OutputTokens)
		p.AssertExpectations(t)
	})

	t.Run("should use agent model override", func(t *testing.T) {
		p := &mockProvider{name: "openai"}
		p.On("Call", mock.Anything, mock.MatchedBy(func(req LLMRequest) bool {
			return req.Model == "gpt-4o"
		})).Return(&LLMResponse{Content: "ok"}, nil).Once()

		a := testAgent(t)
		a.Model = "gpt-4o"
		runner := setupTestRunner(t, nil, p)
		_, err := runner.Run(ctx, RunParams{Agent: a, Prompt: "x"})
		require.NoError(t, err)
		p.AssertExpectations(t)
	})

	t.Run("should feed tool output back to the model", func(t *testing.T) {
		p := &mockProvider{name: "openai"}
		p.On("Call", mock.Anything, mock.MatchedBy(func(req LLMRequest) bool {
			return len(req.Messages) == 1
		})).Return(toolCallResponse("call-1", map[string]interface{}{"input": "acme"}), nil).Once()
		p.On("Call", mock.Anything, mock.MatchedBy(func(req LLMRequest) bool {
			return len(req.Messages) == 3 &&
				req.Messages[1].Role == "assistant" &&
				req.Messages[2].Role == "tool" &&
				req.Messages[2].ToolCallID == "call-1" &&
				req.Messages[2].Content == "test result"
		})).Return(&LLMResponse{Content: "done"}, nil).Once()

		runner := setupTestRunner(t, nil, p)
		result, err := runner.Run(ctx, RunParams{Agent: testAgent(t), Prompt: "Analyze"})
		require.NoError(t, err)
		assert.Equal(t, "done", result.Response)
		require.Len(t, result.ToolCalls, 1)
		assert.Equal(t, "test_tool", result.ToolCalls[0].Name)
		p.AssertExpectations(t)
	})

	t.Run("should return tool outside capabilities to the model as an error", func(t *testing.T) {
		p := &mockProvider{name: "openai"}
		p.On("Call", mock.Anything, mock.MatchedBy(func(req LLMRequest) bool {
			return len(req.Messages) == 1
		})).Return(&LLMResponse{ToolCalls: []ToolCall{{ID: "c", Name: "other_tool", Parameters: map[string]interface{}{}}}}, nil).Once()
		p.On("Call", mock.Anything, mock.MatchedBy(func(req LLMRequest) bool {
			return len(req.Messages) == 3 && strings.HasPrefix(req.Messages[2].Content, "Error:")
		})).Return(&LLMResponse{Content: "recovered"}, nil).Once()

		runner := setupTestRunner(t, nil, p)
		result, err := runner.Run(ctx, RunParams{Agent: testAgent(t), Prompt: "x"})
		require.NoError(t, err)
		assert.Equal(t, "recovered", result.Response)
		p.AssertExpectations(t)
	})

	t.Run("should reject empty prompt", func(t *testing.T) {
		p := &mockProvider{name: "openai"}
		runner := setupTestRunner(t, nil, p)
		_, err := runner.Run(ctx, RunParams{Agent: testAgent(t), Prompt: "  "})
		assert.Error(t, err)
		p.AssertNotCalled(t, "Call", mock.Anything, mock.Anything)
	})

	t.Run("should fail when the model keeps calling tools", func(t *testing.T) {
		p := &mockProvider{name: "openai"}
		p.On("Call", mock.Anything, mock.Anything).
			Return(toolCallResponse("loop", map[string]interface{}{"input": "again"}), nil)

		runner := setupTestRunner(t, nil, p)
		_, err := runner.Run(ctx, RunParams{Agent: testAgent(t), Prompt: "x"})
		assert.ErrorIs(t, err, ErrMaxTurns)
		p.AssertNumberOfCalls(t, "Call", 4)
	})

	t.Run("should stop on cancelled context", func(t *testing.T) {
		p := &mockProvider{name: "openai"}
		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		runner := setupTestRunner(t, nil, p)
		_, err := runner.Run(cancelled, RunParams{Agent: testAgent(t), Prompt: "x"})
		assert.ErrorIs(t, err, context.Canceled)
		p.AssertNotCalled(t, "Call", mock.Anything, mock.Anything)
	})
}

func TestRunnerModelRetries(t *testing.T) {
	ctx := context.Background()
	unavailable := fmt.Errorf("%w: openai: 503", runerr.ErrModelUnavailable)

	t.Run("should retry model unavailable then succeed", func(t *testing.T) {
		p := &mockProvider{name: "openai"}
		p.On("Call", mock.Anything, mock.Anything).Return(nil, unavailable).Twice()
		p.On("Call", mock.Anything, mock.Anything).Return(&LLMResponse{Content: "ok"}, nil).Once()

		runner := setupTestRunner(t, nil, p)
		result, err := runner.Run(ctx, RunParams{Agent: testAgent(t), Prompt: "x"})
		require.NoError(t, err)
		assert.Equal(t, "ok", result.Response)
		p.AssertNumberOfCalls(t, "Call", 3)
	})

	t.Run("should fail over to the next profile after retries are exhausted", func(t *testing.T) {
		primary := &mockProvider{name: "openai"}
		primary.On("Call", mock.Anything, mock.Anything).Return(nil, unavailable)
		secondary := &mockProvider{name: "anthropic"}
		secondary.On("Call", mock.Anything, mock.Anything).Return(&LLMResponse{Content: "from fallback"}, nil).Once()

		runner := setupTestRunner(t, nil, primary, secondary)
		result, err := runner.Run(ctx, RunParams{Agent: testAgent(t), Prompt: "x"})
		require.NoError(t, err)
		assert.Equal(t, "from fallback", result.Response)
		assert.Equal(t, "anthropic", result.Provider)
		primary.AssertNumberOfCalls(t, "Call", 3)

		profiles := runner.Profiles()
		assert.Equal(t, 1, profiles[0].FailureCount)
		assert.NotNil(t, profiles[0].CooldownUntil)
		assert.Equal(t, 0, profiles[1].FailureCount)
	})

	t.Run("should surface model unavailable when every profile fails", func(t *testing.T) {
		p := &mockProvider{name: "openai"}
		p.On("Call", mock.Anything, mock.Anything).Return(nil, unavailable)

		runner := setupTestRunner(t, nil, p)
		_, err := runner.Run(ctx, RunParams{Agent: testAgent(t), Prompt: "x"})
		assert.ErrorIs(t, err, runerr.ErrModelUnavailable)

		_, err = runner.Run(ctx, RunParams{Agent: testAgent(t), Prompt: "x"})
		assert.ErrorIs(t, err, runerr.ErrModelUnavailable)
		assert.ErrorContains(t, err, "no auth profile available")
	})

	t.Run("should not retry or fail over on permanent errors", func(t *testing.T) {
		primary := &mockProvider{name: "openai"}
		primary.On("Call", mock.Anything, mock.Anything).Return(nil, errors.New("openai: 400 bad request")).Once()
		secondary := &mockProvider{name: "anthropic"}

		runner := setupTestRunner(t, nil, primary, secondary)
		_, err := runner.Run(ctx, RunParams{Agent: testAgent(t), Prompt: "x"})
		assert.ErrorContains(t, err, "400")
		primary.AssertNumberOfCalls(t, "Call", 1)
		secondary.AssertNotCalled(t, "Call", mock.Anything, mock.Anything)
	})
}

func TestRunnerToolRetries(t *testing.T) {
	ctx := context.Background()
	params := map[string]interface{}{"input": "acme"}

	t.Run("should surface tool unavailable after bounded retries", func(t *testing.T) {
		var calls int32
		handler := func(ctx context.Context, p map[string]interface{}) (interface{}, error) {
			atomic.AddInt32(&calls, 1)
			return nil, fmt.Errorf("%w: connection refused", runerr.ErrToolUnavailable)
		}
		p := &mockProvider{name: "openai"}
		p.On("Call", mock.Anything, mock.Anything).Return(toolCallResponse("c", params), nil).Once()

		runner := setupTestRunner(t, handler, p)
		_, err := runner.Run(ctx, RunParams{Agent: testAgent(t), Prompt: "x"})
		assert.ErrorIs(t, err, runerr.ErrToolUnavailable)
		assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
		p.AssertNumberOfCalls(t, "Call", 1)
	})

	t.Run("should back off on quota before retrying", func(t *testing.T) {
		var calls int32
		handler := func(ctx context.Context, p map[string]interface{}) (interface{}, error) {
			if atomic.AddInt32(&calls, 1) == 1 {
				return nil, quotaErr{wait: 30 * time.Millisecond}
			}
			return "fresh results", nil
		}
		p := &mockProvider{name: "openai"}
		p.On("Call", mock.Anything, mock.MatchedBy(func(req LLMRequest) bool {
			return len(req.Messages) == 1
		})).Return(toolCallResponse("c", params), nil).Once()
		p.On("Call", mock.Anything, mock.MatchedBy(func(req LLMRequest) bool {
			return len(req.Messages) == 3 && req.Messages[2].Content == "fresh results"
		})).Return(&LLMResponse{Content: "done"}, nil).Once()

		runner := setupTestRunner(t, handler, p)
		start := time.Now()
		result, err := runner.Run(ctx, RunParams{Agent: testAgent(t), Prompt: "x"})
		require.NoError(t, err)
		assert.Equal(t, "done", result.Response)
		assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
		assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	})

	t.Run("should surface quota exceeded when it persists", func(t *testing.T) {
		handler := func(ctx context.Context, p map[string]interface{}) (interface{}, error) {
			return nil, quotaErr{}
		}
		p := &mockProvider{name: "openai"}
		p.On("Call", mock.Anything, mock.Anything).Return(toolCallResponse("c", params), nil).Once()

		runner := setupTestRunner(t, handler, p)
		_, err := runner.Run(ctx, RunParams{Agent: testAgent(t), Prompt: "x"})
		assert.ErrorIs(t, err, runerr.ErrToolQuotaExceeded)
		assert.Equal(t, "ToolQuotaExceeded", runerr.Kind(err))
	})

	t.Run("should hand plain tool errors back to the model", func(t *testing.T) {
		handler := func(ctx context.Context, p map[string]interface{}) (interface{}, error) {
			return nil, errors.New("tavily: 400 bad query")
		}
		p := &mockProvider{name: "openai"}
		p.On("Call", mock.Anything, mock.MatchedBy(func(req LLMRequest) bool {
			return len(req.Messages) == 1
		})).Return(toolCallResponse("c", params), nil).Once()
		p.On("Call", mock.Anything, mock.MatchedBy(func(req LLMRequest) bool {
			return len(req.Messages) == 3 && strings.Contains(req.Messages[2].Content, "400 bad query")
		})).Return(&LLMResponse{Content: "worked around it"}, nil).Once()

		runner := setupTestRunner(t, handler, p)
		result, err := runner.Run(ctx, RunParams{Agent: testAgent(t), Prompt: "x"})
		require.NoError(t, err)
		assert.Equal(t, "worked around it", result.Response)
	})
}

func TestSortProfilesByPriority(t *testing.T) {
	profiles := []AuthProfile{{ID: "c", Priority: 3}, {ID: "a", Priority: 1}, {ID: "b", Priority: 2}}
	sortProfilesByPriority(profiles)
	assert.Equal(t, "a", profiles[0].ID)
	assert.Equal(t, "b", profiles[1].ID)
	assert.Equal(t, "c", profiles[2].ID)
}

func TestClassifyAPIError(t *testing.T) {
	ctx := context.Background()
	cause := errors.New("boom")

	assert.ErrorIs(t, classifyAPIError(ctx, "openai", 0, cause), runerr.ErrModelUnavailable)
	assert.ErrorIs(t, classifyAPIError(ctx, "openai", 429, cause), runerr.ErrModelUnavailable)
	assert.ErrorIs(t, classifyAPIError(ctx, "anthropic", 529, cause), runerr.ErrModelUnavailable)
	assert.NotErrorIs(t, classifyAPIError(ctx, "openai", 401, cause), runerr.ErrModelUnavailable)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, classifyAPIError(cancelled, "openai", 0, cause), context.Canceled)
}
