package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateAPIKey(t *testing.T) {
	v := NewValidator()

	t.Run("valid anthropic key", func(t *testing.T) {
		assert.NoError(t, v.ValidateAPIKey("sk-ant-test123", "anthropic"))
	})

	t.Run("invalid anthropic key", func(t *testing.T) {
		assert.Error(t, v.ValidateAPIKey("sk-test123", "anthropic"))
	})

	t.Run("valid openai key", func(t *testing.T) {
		assert.NoError(t, v.ValidateAPIKey("sk-test123", "openai"))
	})

	t.Run("invalid openai key", func(t *testing.T) {
		assert.Error(t, v.ValidateAPIKey("invalid-key", "openai"))
	})

	t.Run("valid tavily key", func(t *testing.T) {
		assert.NoError(t, v.ValidateAPIKey("tvly-abc", "tavily"))
	})

	t.Run("invalid tavily key", func(t *testing.T) {
		assert.Error(t, v.ValidateAPIKey("sk-abc", "tavily"))
	})

	t.Run("empty key", func(t *testing.T) {
		assert.Error(t, v.ValidateAPIKey("", "anthropic"))
	})
}

func TestValidateProviders(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateProviders([]string{"openai"}))
	assert.NoError(t, v.ValidateProviders([]string{"anthropic", "openai"}))
	assert.Error(t, v.ValidateProviders(nil))
	assert.Error(t, v.ValidateProviders([]string{"gemini"}))
	assert.Error(t, v.ValidateProviders([]string{"openai", "openai"}))
}

func TestValidateEnums(t *testing.T) {
	v := NewValidator()

	tests := []struct {
		name  string
		fn    func(string) error
		valid []string
	}{
		{"mode", v.ValidateMode, []string{"sequential", "dag"}},
		{"on_fail", v.ValidateOnFail, []string{"abort", "drain"}},
		{"store kind", v.ValidateStoreKind, []string{"none", "file", "sqlite"}},
		{"log level", v.ValidateLogLevel, []string{"debug", "info", "warn", "error"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, value := range tt.valid {
				assert.NoError(t, tt.fn(value), value)
			}
			err := tt.fn("bogus")
			assert.Error(t, err)
			assert.Contains(t, err.Error(), "bogus")
		})
	}
}

func TestValidateTemperature(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateTemperature(0))
	assert.NoError(t, v.ValidateTemperature(0.7))
	assert.NoError(t, v.ValidateTemperature(2))
	assert.Error(t, v.ValidateTemperature(-0.1))
	assert.Error(t, v.ValidateTemperature(2.1))
}

func TestValidateMaxTokens(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateMaxTokens(4096))
	assert.Error(t, v.ValidateMaxTokens(0))
	assert.Error(t, v.ValidateMaxTokens(200001))
}

func TestValidateConfig(t *testing.T) {
	v := NewValidator()

	t.Run("defaults are valid", func(t *testing.T) {
		assert.Empty(t, v.ValidateConfig(DefaultConfig()))
	})

	t.Run("collects every problem", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Runtime.Mode = "parallel"
		cfg.Runtime.MaxConcurrency = 0
		cfg.Search.MaxResults = 50
		cfg.Logging.Level = "trace"

		errs := v.ValidateConfig(cfg)
		assert.Len(t, errs, 4)
	})

	t.Run("anthropic model required only when anthropic is a provider", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Models.Anthropic = ""
		cfg.Models.Providers = []string{"openai"}
		assert.Empty(t, v.ValidateConfig(cfg))

		cfg.Models.Providers = []string{"openai", "anthropic"}
		assert.Len(t, v.ValidateConfig(cfg), 1)
	})

	t.Run("tracing exporter and sample ratio", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Tracing.Exporter = "none"
		assert.Empty(t, v.ValidateConfig(cfg))

		cfg.Tracing.Exporter = "jaeger"
		cfg.Tracing.SampleRatio = 1.5
		assert.Len(t, v.ValidateConfig(cfg), 2)
	})

	t.Run("negative retries rejected", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Runtime.TimeoutRetries = -1
		cfg.Agent.ToolRetries = -1
		assert.Len(t, v.ValidateConfig(cfg), 2)
	})
}
