package config

// EmbeddingConfig is the contents of config_embedding.yaml.
type EmbeddingConfig struct {
	// PreferredProvider names the provider used for all embedding calls.
	PreferredProvider string `yaml:"preferred_provider"`

	Providers map[string]EmbeddingProviderConfig `yaml:"providers"`
}

// EmbeddingProviderConfig configures one embedding provider.
type EmbeddingProviderConfig struct {
	// Type selects the adapter (openai, ollama).
	Type string `yaml:"type"`

	Model string `yaml:"model"`

	APIKeyEnv      string `yaml:"api_key_env"`
	APIEndpointEnv string `yaml:"api_endpoint_env"`

	// Dimension of produced vectors. Zero lets the adapter pick the
	// model's default.
	Dimension int `yaml:"dimension"`

	// BatchSize caps inputs per EmbedBatch request.
	BatchSize int `yaml:"batch_size"`

	// TimeoutSeconds bounds a single embedding call.
	TimeoutSeconds int `yaml:"timeout"`
}

func (e *EmbeddingProviderConfig) APIKey() string {
	return ResolveEnvRef(e.APIKeyEnv)
}

func (e *EmbeddingProviderConfig) APIEndpoint() string {
	return ResolveEnvRef(e.APIEndpointEnv)
}

func (c *EmbeddingConfig) SetDefaults() {
	if c.PreferredProvider == "" && len(c.Providers) == 1 {
		for name := range c.Providers {
			c.PreferredProvider = name
		}
	}
}

// Preferred returns the preferred provider config, or nil when embeddings
// are not configured.
func (c *EmbeddingConfig) Preferred() *EmbeddingProviderConfig {
	if p, ok := c.Providers[c.PreferredProvider]; ok {
		return &p
	}
	return nil
}
