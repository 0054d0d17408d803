package config

import (
	"fmt"
	"strings"

	"github.com/harun/crew/pkg/search"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

func oneOf(value, what string, valid ...string) error {
	for _, v := range valid {
		if value == v {
			return nil
		}
	}
	return fmt.Errorf("invalid %s: %s (must be one of: %s)", what, value, strings.Join(valid, ", "))
}

// ValidateAPIKey validates an API key format
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", provider)
	}

	switch provider {
	case "anthropic":
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case "openai":
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	case "tavily":
		if !strings.HasPrefix(key, "tvly-") {
			return fmt.Errorf("invalid Tavily API key format (should start with tvly-)")
		}
	}

	return nil
}

// ValidateModel validates a model name
func (v *Validator) ValidateModel(model string) error {
	if strings.TrimSpace(model) == "" {
		return fmt.Errorf("model name cannot be empty")
	}
	return nil
}

// ValidateProviders validates the failover provider list
func (v *Validator) ValidateProviders(providers []string) error {
	if len(providers) == 0 {
		return fmt.Errorf("at least one model provider is required")
	}
	seen := make(map[string]bool, len(providers))
	for _, p := range providers {
		if err := oneOf(p, "model provider", "openai", "anthropic"); err != nil {
			return err
		}
		if seen[p] {
			return fmt.Errorf("duplicate model provider: %s", p)
		}
		seen[p] = true
	}
	return nil
}

// ValidateTemperature validates temperature value
func (v *Validator) ValidateTemperature(temp float64) error {
	if temp < 0 || temp > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %f", temp)
	}
	return nil
}

// ValidateMaxTokens validates max tokens value
func (v *Validator) ValidateMaxTokens(tokens int) error {
	if tokens <= 0 {
		return fmt.Errorf("max tokens must be positive, got %d", tokens)
	}
	if tokens > 200000 {
		return fmt.Errorf("max tokens too large (max 200000), got %d", tokens)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	return oneOf(level, "log level", "debug", "info", "warn", "error")
}

// ValidateMode validates the execution mode
func (v *Validator) ValidateMode(mode string) error {
	return oneOf(mode, "runtime mode", "sequential", "dag")
}

// ValidateOnFail validates the DAG failure strategy
func (v *Validator) ValidateOnFail(onFail string) error {
	return oneOf(onFail, "on_fail strategy", "abort", "drain")
}

// ValidateStoreKind validates the run store kind
func (v *Validator) ValidateStoreKind(kind string) error {
	return oneOf(kind, "store kind", "none", "file", "sqlite")
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error
	add := func(err error) {
		if err != nil {
			errors = append(errors, err)
		}
	}

	// Models
	add(v.ValidateModel(cfg.Models.Default))
	add(v.ValidateProviders(cfg.Models.Providers))
	for _, p := range cfg.Models.Providers {
		if p == "anthropic" {
			add(v.ValidateModel(cfg.Models.Anthropic))
		}
	}

	// Runtime
	add(v.ValidateMode(cfg.Runtime.Mode))
	add(v.ValidateOnFail(cfg.Runtime.OnFail))
	if cfg.Runtime.MaxConcurrency < 1 {
		add(fmt.Errorf("runtime.max_concurrency must be >= 1"))
	}
	if cfg.Runtime.TaskTimeout <= 0 {
		add(fmt.Errorf("runtime.task_timeout must be positive"))
	}
	if cfg.Runtime.TimeoutRetries < 0 {
		add(fmt.Errorf("runtime.timeout_retries must be >= 0"))
	}

	// Agent
	if cfg.Agent.MaxTurns < 1 {
		add(fmt.Errorf("agent.max_turns must be >= 1"))
	}
	if cfg.Agent.ModelRetries < 0 {
		add(fmt.Errorf("agent.model_retries must be >= 0"))
	}
	if cfg.Agent.ToolRetries < 0 {
		add(fmt.Errorf("agent.tool_retries must be >= 0"))
	}
	if cfg.Agent.Backoff < 0 || cfg.Agent.QuotaBackoff < 0 {
		add(fmt.Errorf("agent back-off durations must be >= 0"))
	}
	add(v.ValidateTemperature(cfg.Agent.Temperature))
	add(v.ValidateMaxTokens(cfg.Agent.MaxTokens))

	// Search
	add(oneOf(cfg.Search.Provider, "search provider", "tavily"))
	if cfg.Search.MaxResults < 1 || cfg.Search.MaxResults > search.HardMaxResults {
		add(fmt.Errorf("search.max_results must be between 1 and %d, got %d", search.HardMaxResults, cfg.Search.MaxResults))
	}
	if cfg.Search.RatePerSecond < 0 {
		add(fmt.Errorf("search.rate_per_second must be >= 0"))
	}

	// Store
	add(v.ValidateStoreKind(cfg.Store.Kind))

	// Validate logging
	add(v.ValidateLogLevel(cfg.Logging.Level))
	if cfg.Logging.MaxSize < 0 || cfg.Logging.MaxAge < 0 || cfg.Logging.MaxBackups < 0 {
		add(fmt.Errorf("logging rotation limits must be >= 0"))
	}

	// Tracing
	add(oneOf(cfg.Tracing.Exporter, "trace exporter", "stdout", "none"))
	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
		add(fmt.Errorf("tracing.sample_ratio must be between 0 and 1, got %g", cfg.Tracing.SampleRatio))
	}

	return errors
}
