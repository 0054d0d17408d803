package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to environment overrides, e.g. CREW_RUNTIME_MODE.
const EnvPrefix = "CREW"

// Loader handles configuration loading
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// DefaultConfigPath returns $HOME/.crew/crew.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".crew", "crew.yaml")
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	if l.configPath != "" {
		return l.configPath
	}
	return DefaultConfigPath()
}

func configType(path string) (string, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		return "json", nil
	case ".yaml", ".yml":
		return "yaml", nil
	default:
		return "", fmt.Errorf("unsupported config file format: %s (supported: .json, .yaml, .yml)", ext)
	}
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, DefaultConfig())
	return v
}

// setDefaults registers every key so CREW_* overrides apply even when the
// key is absent from the file.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("team_file", cfg.TeamFile)
	v.SetDefault("data_dir", cfg.DataDir)

	v.SetDefault("models.default", cfg.Models.Default)
	v.SetDefault("models.anthropic", cfg.Models.Anthropic)
	v.SetDefault("models.providers", cfg.Models.Providers)

	v.SetDefault("runtime.mode", cfg.Runtime.Mode)
	v.SetDefault("runtime.max_concurrency", cfg.Runtime.MaxConcurrency)
	v.SetDefault("runtime.task_timeout", cfg.Runtime.TaskTimeout)
	v.SetDefault("runtime.timeout_retries", cfg.Runtime.TimeoutRetries)
	v.SetDefault("runtime.on_fail", cfg.Runtime.OnFail)

	v.SetDefault("agent.max_turns", cfg.Agent.MaxTurns)
	v.SetDefault("agent.model_retries", cfg.Agent.ModelRetries)
	v.SetDefault("agent.tool_retries", cfg.Agent.ToolRetries)
	v.SetDefault("agent.backoff", cfg.Agent.Backoff)
	v.SetDefault("agent.quota_backoff", cfg.Agent.QuotaBackoff)
	v.SetDefault("agent.tool_timeout", cfg.Agent.ToolTimeout)
	v.SetDefault("agent.cooldown", cfg.Agent.Cooldown)
	v.SetDefault("agent.temperature", cfg.Agent.Temperature)
	v.SetDefault("agent.max_tokens", cfg.Agent.MaxTokens)

	v.SetDefault("search.provider", cfg.Search.Provider)
	v.SetDefault("search.base_url", cfg.Search.BaseURL)
	v.SetDefault("search.max_results", cfg.Search.MaxResults)
	v.SetDefault("search.rate_per_second", cfg.Search.RatePerSecond)
	v.SetDefault("search.burst", cfg.Search.Burst)
	v.SetDefault("search.timeout", cfg.Search.Timeout)

	v.SetDefault("store.kind", cfg.Store.Kind)
	v.SetDefault("store.path", cfg.Store.Path)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.file", cfg.Logging.File)
	v.SetDefault("logging.console", cfg.Logging.Console)
	v.SetDefault("logging.pretty", cfg.Logging.Pretty)
	v.SetDefault("logging.max_size", cfg.Logging.MaxSize)
	v.SetDefault("logging.max_age", cfg.Logging.MaxAge)
	v.SetDefault("logging.max_backups", cfg.Logging.MaxBackups)
	v.SetDefault("logging.compress", cfg.Logging.Compress)
	v.SetDefault("logging.redaction", cfg.Logging.Redaction)
	v.SetDefault("logging.audit", cfg.Logging.Audit)

	v.SetDefault("metrics.addr", cfg.Metrics.Addr)

	v.SetDefault("tracing.enabled", cfg.Tracing.Enabled)
	v.SetDefault("tracing.service_name", cfg.Tracing.ServiceName)
	v.SetDefault("tracing.exporter", cfg.Tracing.Exporter)
	v.SetDefault("tracing.file", cfg.Tracing.File)
	v.SetDefault("tracing.sample_ratio", cfg.Tracing.SampleRatio)
}

// Load loads the configuration from file. A missing file yields the defaults
// with environment overrides applied.
func (l *Loader) Load() (*Config, error) {
	configPath := l.GetConfigPath()
	v := newViper()

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			kind, err := configType(configPath)
			if err != nil {
				return nil, err
			}
			v.SetConfigFile(configPath)
			v.SetConfigType(kind)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.applyPathDefaults(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyPathDefaults() error {
	// Set data directory if not specified
	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		c.DataDir = filepath.Join(home, ".crew")
	}

	if c.Store.Path == "" {
		switch c.Store.Kind {
		case "file":
			c.Store.Path = filepath.Join(c.DataDir, "runs")
		case "sqlite":
			c.Store.Path = filepath.Join(c.DataDir, "runs.db")
		}
	}
	return nil
}

// Save writes the configuration to the loader's path
func (l *Loader) Save(cfg *Config) error {
	configPath := l.GetConfigPath()
	if configPath == "" {
		return fmt.Errorf("no config path")
	}
	kind, err := configType(configPath)
	if err != nil {
		return err
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType(kind)
	setDefaults(v, cfg)

	if err := v.WriteConfigAs(configPath); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	return NewLoader(configPath).Load()
}
