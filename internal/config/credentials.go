package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/harun/crew/pkg/agent"
	"github.com/harun/crew/pkg/orchestrator"
)

// Credential names understood by crew.
const (
	OpenAIKeyEnv    = "OPENAI_API_KEY"
	AnthropicKeyEnv = "ANTHROPIC_API_KEY"
	TavilyKeyEnv    = "TAVILY_API_KEY"
)

// Credentials are read from the process environment, never from the config file.
type Credentials struct {
	OpenAIKey       string `env:"OPENAI_API_KEY"`
	OpenAIKeyPublic string `env:"NEXT_PUBLIC_OPENAI_API_KEY"`
	AnthropicKey    string `env:"ANTHROPIC_API_KEY"`
	TavilyKey       string `env:"TAVILY_API_KEY"`
	TavilyKeyPublic string `env:"NEXT_PUBLIC_TAVILY_API_KEY"`
}

// LoadCredentials parses credentials from the process environment.
func LoadCredentials() (Credentials, error) {
	var c Credentials
	if err := env.Parse(&c); err != nil {
		return Credentials{}, fmt.Errorf("failed to parse credentials: %w", err)
	}
	return c, nil
}

// LoadCredentialsFrom parses credentials from an explicit environment map.
func LoadCredentialsFrom(environ map[string]string) (Credentials, error) {
	var c Credentials
	if err := env.ParseWithOptions(&c, env.Options{Environment: environ}); err != nil {
		return Credentials{}, fmt.Errorf("failed to parse credentials: %w", err)
	}
	return c, nil
}

// OpenAI returns the OpenAI key, falling back to the NEXT_PUBLIC_ variant.
func (c Credentials) OpenAI() string {
	if c.OpenAIKey != "" {
		return c.OpenAIKey
	}
	return c.OpenAIKeyPublic
}

// Tavily returns the Tavily key, falling back to the NEXT_PUBLIC_ variant.
func (c Credentials) Tavily() string {
	if c.TavilyKey != "" {
		return c.TavilyKey
	}
	return c.TavilyKeyPublic
}

// Env builds the explicit credential set handed to the orchestrator. Only
// credentials that are set are included.
func (c Credentials) Env(required []string) orchestrator.Env {
	values := make(map[string]string)
	for name, value := range map[string]string{
		OpenAIKeyEnv:    c.OpenAI(),
		AnthropicKeyEnv: c.AnthropicKey,
		TavilyKeyEnv:    c.Tavily(),
	} {
		if value != "" {
			values[name] = value
		}
	}
	return orchestrator.Env{
		Values:   values,
		Required: append([]string(nil), required...),
	}
}

// Profiles returns one auth profile per configured model provider, in the
// failover order given by models.Providers.
func (c Credentials) Profiles(models ModelsConfig) []agent.AuthProfile {
	var profiles []agent.AuthProfile
	for i, provider := range models.Providers {
		var key, model string
		switch provider {
		case "openai":
			key, model = c.OpenAI(), models.Default
		case "anthropic":
			key, model = c.AnthropicKey, models.Anthropic
		default:
			continue
		}
		if key == "" {
			continue
		}
		profiles = append(profiles, agent.AuthProfile{
			ID:       provider,
			Provider: provider,
			APIKey:   key,
			Model:    model,
			Priority: i + 1,
		})
	}
	return profiles
}

// ProviderKeyEnv names the credential a model provider needs.
func ProviderKeyEnv(provider string) string {
	switch provider {
	case "anthropic":
		return AnthropicKeyEnv
	case "openai":
		return OpenAIKeyEnv
	default:
		return ""
	}
}
