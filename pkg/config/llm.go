package config

import (
	"fmt"
	"sort"
)

// LLMType identifies the LLM provider adapter for an endpoint.
type LLMType string

const (
	LLMTypeOpenAI    LLMType = "openai"
	LLMTypeAnthropic LLMType = "anthropic"
	LLMTypeGemini    LLMType = "gemini"
	LLMTypeOllama    LLMType = "ollama"
)

// LLMConfig is the contents of config_llm.yaml.
type LLMConfig struct {
	// PreferredEndpoint names the endpoint used when no override applies.
	PreferredEndpoint string `yaml:"preferred_endpoint"`

	Endpoints map[string]LLMEndpointConfig `yaml:"endpoints"`
}

// LLMEndpointConfig configures one named LLM endpoint.
type LLMEndpointConfig struct {
	LLMType LLMType `yaml:"llm_type"`

	// APIKeyEnv and APIEndpointEnv may carry either the literal value or
	// the name of an environment variable (see ResolveEnvRef).
	APIKeyEnv      string `yaml:"api_key_env"`
	APIEndpointEnv string `yaml:"api_endpoint_env"`
	APIVersionEnv  string `yaml:"api_version_env"`

	Models LLMModels `yaml:"models"`
}

// LLMModels maps capability tiers to model names.
type LLMModels struct {
	High string `yaml:"high"`
	Low  string `yaml:"low"`
}

// APIKey resolves the endpoint's API key.
func (e *LLMEndpointConfig) APIKey() string {
	return ResolveEnvRef(e.APIKeyEnv)
}

// APIEndpoint resolves the endpoint's base URL.
func (e *LLMEndpointConfig) APIEndpoint() string {
	return ResolveEnvRef(e.APIEndpointEnv)
}

// APIVersion resolves the endpoint's API version, if any.
func (e *LLMEndpointConfig) APIVersion() string {
	return ResolveEnvRef(e.APIVersionEnv)
}

func (c *LLMConfig) SetDefaults() {
	for name, ep := range c.Endpoints {
		if ep.Models.Low == "" {
			ep.Models.Low = ep.Models.High
		}
		if ep.Models.High == "" {
			ep.Models.High = ep.Models.Low
		}
		c.Endpoints[name] = ep
	}
	if c.PreferredEndpoint == "" && len(c.Endpoints) == 1 {
		for name := range c.Endpoints {
			c.PreferredEndpoint = name
		}
	}
}

func (c *LLMConfig) Validate() error {
	if len(c.Endpoints) == 0 {
		return nil
	}
	if c.PreferredEndpoint == "" {
		return fmt.Errorf("preferred_endpoint is required when multiple endpoints are configured")
	}
	if _, ok := c.Endpoints[c.PreferredEndpoint]; !ok {
		return fmt.Errorf("preferred_endpoint %q is not a configured endpoint", c.PreferredEndpoint)
	}
	for name, ep := range c.Endpoints {
		switch ep.LLMType {
		case LLMTypeOpenAI, LLMTypeAnthropic, LLMTypeGemini, LLMTypeOllama:
		default:
			return fmt.Errorf("endpoint %q: unsupported llm_type %q", name, ep.LLMType)
		}
	}
	return nil
}

// Preferred returns the preferred endpoint's name and config.
func (c *LLMConfig) Preferred() (string, *LLMEndpointConfig, error) {
	return c.Endpoint(c.PreferredEndpoint)
}

// Endpoint returns a named endpoint config.
func (c *LLMConfig) Endpoint(name string) (string, *LLMEndpointConfig, error) {
	ep, ok := c.Endpoints[name]
	if !ok {
		return "", nil, fmt.Errorf("LLM endpoint %q not found", name)
	}
	return name, &ep, nil
}

// EndpointNames returns configured endpoint names in sorted order.
func (c *LLMConfig) EndpointNames() []string {
	names := make([]string, 0, len(c.Endpoints))
	for name := range c.Endpoints {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
