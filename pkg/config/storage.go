package config

import "fmt"

// StorageConfig is the contents of config_conversation.yaml. It selects
// the conversation storage backing store.
type StorageConfig struct {
	// Type selects the store implementation (memory, sqlite).
	Type string `yaml:"type"`

	// Path is the database file for sqlite.
	Path string `yaml:"path"`

	// Enabled turns conversation persistence on. When disabled, requests
	// are answered without recording history.
	Enabled bool `yaml:"enabled"`
}

func (c *StorageConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = "memory"
	}
	if c.Type == "sqlite" && c.Path == "" {
		c.Path = "conversations.db"
	}
}

func (c *StorageConfig) Validate() error {
	switch c.Type {
	case "memory", "sqlite":
		return nil
	default:
		return fmt.Errorf("unsupported conversation storage type %q", c.Type)
	}
}
