package config

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/harun/crew/pkg/agent"
	"github.com/harun/crew/pkg/orchestrator"
	"github.com/harun/crew/pkg/search"
	"github.com/harun/crew/pkg/taskgraph"
)

// Config represents the main crew configuration. Credentials are not part
// of it; see LoadCredentials.
type Config struct {
	// Team definition used when no --team/--builtin flag is given
	TeamFile string `json:"team_file" mapstructure:"team_file"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	Models  ModelsConfig  `json:"models" mapstructure:"models"`
	Runtime RuntimeConfig `json:"runtime" mapstructure:"runtime"`
	Agent   AgentConfig   `json:"agent" mapstructure:"agent"`
	Search  SearchConfig  `json:"search" mapstructure:"search"`
	Store   StoreConfig   `json:"store" mapstructure:"store"`
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`
	Metrics MetricsConfig `json:"metrics" mapstructure:"metrics"`
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`
}

// ModelsConfig holds model configuration
type ModelsConfig struct {
	Default string `json:"default" mapstructure:"default"`
	// Anthropic is the model used when failing over to an Anthropic profile
	Anthropic string `json:"anthropic" mapstructure:"anthropic"`
	// Providers lists providers in failover order
	Providers []string `json:"providers" mapstructure:"providers"`
}

// RuntimeConfig holds orchestrator policy
type RuntimeConfig struct {
	Mode           string        `json:"mode" mapstructure:"mode"` // sequential, dag
	MaxConcurrency int           `json:"max_concurrency" mapstructure:"max_concurrency"`
	TaskTimeout    time.Duration `json:"task_timeout" mapstructure:"task_timeout"`
	TimeoutRetries int           `json:"timeout_retries" mapstructure:"timeout_retries"`
	OnFail         string        `json:"on_fail" mapstructure:"on_fail"` // abort, drain
}

// AgentConfig holds agent runner limits
type AgentConfig struct {
	MaxTurns     int           `json:"max_turns" mapstructure:"max_turns"`
	ModelRetries int           `json:"model_retries" mapstructure:"model_retries"`
	ToolRetries  int           `json:"tool_retries" mapstructure:"tool_retries"`
	Backoff      time.Duration `json:"backoff" mapstructure:"backoff"`
	QuotaBackoff time.Duration `json:"quota_backoff" mapstructure:"quota_backoff"`
	ToolTimeout  time.Duration `json:"tool_timeout" mapstructure:"tool_timeout"`
	Cooldown     time.Duration `json:"cooldown" mapstructure:"cooldown"`
	Temperature  float64       `json:"temperature" mapstructure:"temperature"`
	MaxTokens    int           `json:"max_tokens" mapstructure:"max_tokens"`
}

// SearchConfig holds web search provider settings
type SearchConfig struct {
	Provider      string        `json:"provider" mapstructure:"provider"` // tavily
	BaseURL       string        `json:"base_url" mapstructure:"base_url"`
	MaxResults    int           `json:"max_results" mapstructure:"max_results"`
	RatePerSecond float64       `json:"rate_per_second" mapstructure:"rate_per_second"`
	Burst         int           `json:"burst" mapstructure:"burst"`
	Timeout       time.Duration `json:"timeout" mapstructure:"timeout"`
}

// StoreConfig selects where run records are kept
type StoreConfig struct {
	Kind string `json:"kind" mapstructure:"kind"` // none, file, sqlite
	Path string `json:"path" mapstructure:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `json:"level" mapstructure:"level"`
	File       string `json:"file" mapstructure:"file"`
	Console    bool   `json:"console" mapstructure:"console"`
	Pretty     bool   `json:"pretty" mapstructure:"pretty"`
	MaxSize    int    `json:"max_size" mapstructure:"max_size"`       // MB
	MaxAge     int    `json:"max_age" mapstructure:"max_age"`         // days
	MaxBackups int    `json:"max_backups" mapstructure:"max_backups"` // 0 keeps all
	Compress   bool   `json:"compress" mapstructure:"compress"`
	Redaction  bool   `json:"redaction" mapstructure:"redaction"`
	Audit      string `json:"audit" mapstructure:"audit"`
}

// MetricsConfig holds the Prometheus listener
type MetricsConfig struct {
	Addr string `json:"addr" mapstructure:"addr"`
}

// TracingConfig holds OpenTelemetry settings
type TracingConfig struct {
	Enabled     bool    `json:"enabled" mapstructure:"enabled"`
	ServiceName string  `json:"service_name" mapstructure:"service_name"`
	Exporter    string  `json:"exporter" mapstructure:"exporter"` // stdout, none
	File        string  `json:"file" mapstructure:"file"`         // stdout exporter target, stderr when empty
	SampleRatio float64 `json:"sample_ratio" mapstructure:"sample_ratio"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	model := agent.DefaultModelConfig()
	retry := agent.DefaultRetryPolicy()
	policy := orchestrator.DefaultPolicy()

	return &Config{
		Models: ModelsConfig{
			Default:   model.Model,
			Anthropic: "claude-sonnet-4-20250514",
			Providers: []string{"openai", "anthropic"},
		},
		Runtime: RuntimeConfig{
			Mode:           string(policy.Mode),
			MaxConcurrency: policy.MaxConcurrency,
			TaskTimeout:    policy.TaskTimeout,
			TimeoutRetries: policy.TimeoutRetries,
			OnFail:         string(policy.OnFail),
		},
		Agent: AgentConfig{
			MaxTurns:     retry.MaxTurns,
			ModelRetries: retry.ModelRetries,
			ToolRetries:  retry.ToolRetries,
			Backoff:      retry.Backoff,
			QuotaBackoff: retry.QuotaBackoff,
			ToolTimeout:  30 * time.Second,
			Cooldown:     time.Minute,
			Temperature:  model.Temperature,
			MaxTokens:    model.MaxTokens,
		},
		Search: SearchConfig{
			Provider:   "tavily",
			BaseURL:    search.DefaultTavilyURL,
			MaxResults: search.DefaultMaxResults,
			Burst:      1,
			Timeout:    20 * time.Second,
		},
		Store: StoreConfig{
			Kind: "file",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Console:    true,
			Pretty:     true,
			MaxSize:    100,
			MaxAge:     7,
			MaxBackups: 5,
			Compress:   true,
			Redaction:  true,
		},
		Tracing: TracingConfig{
			ServiceName: "crew",
			Exporter:    "stdout",
			SampleRatio: 1,
		},
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	return errors.Join(NewValidator().ValidateConfig(c)...)
}

// Policy converts the runtime section into an orchestrator policy.
func (c *Config) Policy() (orchestrator.Policy, error) {
	mode, err := taskgraph.ParseMode(c.Runtime.Mode)
	if err != nil {
		return orchestrator.Policy{}, err
	}
	onFail, err := orchestrator.ParseOnFail(c.Runtime.OnFail)
	if err != nil {
		return orchestrator.Policy{}, err
	}
	p := orchestrator.Policy{
		Mode:           mode,
		MaxConcurrency: c.Runtime.MaxConcurrency,
		TaskTimeout:    c.Runtime.TaskTimeout,
		TimeoutRetries: c.Runtime.TimeoutRetries,
		OnFail:         onFail,
	}
	return p, p.Validate()
}

// RetryPolicy converts the agent section into runner retry limits.
func (c *Config) RetryPolicy() agent.RetryPolicy {
	return agent.RetryPolicy{
		MaxTurns:     c.Agent.MaxTurns,
		ModelRetries: c.Agent.ModelRetries,
		ToolRetries:  c.Agent.ToolRetries,
		Backoff:      c.Agent.Backoff,
		QuotaBackoff: c.Agent.QuotaBackoff,
	}
}

// ModelConfig returns the default model settings for agent runs.
func (c *Config) ModelConfig() agent.ModelConfig {
	return agent.ModelConfig{
		Model:       c.Models.Default,
		Temperature: c.Agent.Temperature,
		MaxTokens:   c.Agent.MaxTokens,
	}
}

// TavilyConfig builds the search provider settings for apiKey.
func (c *Config) TavilyConfig(apiKey string) search.TavilyConfig {
	return search.TavilyConfig{
		APIKey:        apiKey,
		BaseURL:       c.Search.BaseURL,
		MaxResults:    c.Search.MaxResults,
		RatePerSecond: c.Search.RatePerSecond,
		Burst:         c.Search.Burst,
		Timeout:       c.Search.Timeout,
	}
}
