package config

import (
	"fmt"
	"sort"
)

// DBType identifies the retrieval backend adapter for an endpoint.
type DBType string

const (
	DBTypeQdrant   DBType = "qdrant"
	DBTypePinecone DBType = "pinecone"
	DBTypeChromem  DBType = "chromem"
	DBTypeMemory   DBType = "memory"
)

// RetrievalConfig is the contents of config_retrieval.yaml.
type RetrievalConfig struct {
	// WriteEndpoint names the endpoint used for uploads and deletes.
	WriteEndpoint string `yaml:"write_endpoint"`

	Endpoints map[string]RetrievalEndpointConfig `yaml:"endpoints"`
}

// RetrievalEndpointConfig configures one retrieval backend.
type RetrievalEndpointConfig struct {
	DBType  DBType `yaml:"db_type"`
	Enabled bool   `yaml:"enabled"`

	APIKeyEnv      string `yaml:"api_key_env"`
	APIEndpointEnv string `yaml:"api_endpoint_env"`

	// IndexName is the collection or index queried on the backend.
	IndexName string `yaml:"index_name"`

	// DatabasePath is used by embedded backends (chromem).
	DatabasePath string `yaml:"database_path"`

	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

func (e *RetrievalEndpointConfig) APIKey() string {
	return ResolveEnvRef(e.APIKeyEnv)
}

func (e *RetrievalEndpointConfig) APIEndpoint() string {
	return ResolveEnvRef(e.APIEndpointEnv)
}

func (c *RetrievalConfig) SetDefaults() {
	for name, ep := range c.Endpoints {
		if ep.IndexName == "" {
			ep.IndexName = "documents"
		}
		c.Endpoints[name] = ep
	}
}

func (c *RetrievalConfig) Validate() error {
	for name, ep := range c.Endpoints {
		switch ep.DBType {
		case DBTypeQdrant, DBTypePinecone, DBTypeChromem, DBTypeMemory:
		default:
			return fmt.Errorf("endpoint %q: unsupported db_type %q", name, ep.DBType)
		}
	}
	if c.WriteEndpoint != "" {
		if _, ok := c.Endpoints[c.WriteEndpoint]; !ok {
			return fmt.Errorf("write_endpoint %q is not a configured endpoint", c.WriteEndpoint)
		}
	}
	return nil
}

// EnabledEndpoints returns the names of enabled endpoints in sorted order.
// Sorted name order is the canonical endpoint order everywhere results are
// concatenated, so aggregation output is deterministic.
func (c *RetrievalConfig) EnabledEndpoints() []string {
	names := make([]string, 0, len(c.Endpoints))
	for name, ep := range c.Endpoints {
		if ep.Enabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Endpoint returns a named endpoint config.
func (c *RetrievalConfig) Endpoint(name string) (*RetrievalEndpointConfig, error) {
	ep, ok := c.Endpoints[name]
	if !ok {
		return nil, fmt.Errorf("retrieval endpoint %q not found", name)
	}
	return &ep, nil
}
