// Copyright 2025 The schemaseek Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads the process-wide configuration from a directory of
// YAML files. Configuration is loaded once at startup; lookups afterwards
// are read-only.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// Mode selects runtime behavior for failure handling and overrides.
type Mode string

const (
	ModeDevelopment Mode = "development"
	ModeProduction  Mode = "production"
	ModeTesting     Mode = "testing"
)

// Config is the process-wide configuration registry.
type Config struct {
	App       AppConfig       `yaml:"app"`
	LLM       LLMConfig       `yaml:"llm"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Storage   StorageConfig   `yaml:"storage"`
	Server    ServerConfig    `yaml:"server"`
	OAuth     OAuthConfig     `yaml:"oauth"`
	Ranking   RankingConfig   `yaml:"ranking"`

	// Directory the config was loaded from; prompts.xml and tools.xml are
	// resolved relative to it.
	Dir string `yaml:"-"`
}

// AppConfig holds site-level settings from config_nlweb.yaml.
type AppConfig struct {
	Mode Mode `yaml:"mode"`

	// AllowedSites limits which site names may be queried. Empty means any.
	AllowedSites []string `yaml:"allowed_sites"`

	// Precheck step gates. A disabled step completes immediately with a
	// safe default that never aborts the fast track.
	Prechecks PrecheckConfig `yaml:"prechecks"`
}

// PrecheckConfig gates individual precheck steps.
type PrecheckConfig struct {
	DetectItemType     *bool `yaml:"detect_item_type"`
	DetectMultiType    *bool `yaml:"detect_multi_type"`
	DetectQueryType    *bool `yaml:"detect_query_type"`
	Decontextualize    *bool `yaml:"decontextualize"`
	Relevance          *bool `yaml:"relevance"`
	Memory             *bool `yaml:"memory"`
	RequiredInfo       *bool `yaml:"required_info"`
	QueryRewrite       *bool `yaml:"query_rewrite"`
	ToolRouting        *bool `yaml:"tool_routing"`
	FastTrack          *bool `yaml:"fast_track"`
}

// RankingConfig carries tunable ranking thresholds.
type RankingConfig struct {
	// EarlySendThreshold is the score above which an item is streamed as
	// soon as it is scored (list mode).
	EarlySendThreshold int `yaml:"early_send_threshold"`

	// GenerateEarlySendThreshold is the early-send score in generate mode.
	GenerateEarlySendThreshold int `yaml:"generate_early_send_threshold"`

	// MinScore is the exclusive lower bound for final answers.
	MinScore int `yaml:"min_score"`

	// MaxResults caps the number of streamed results per request.
	MaxResults int `yaml:"max_results"`
}

// filenames inside the config directory, one concern per file.
var sectionFiles = map[string]string{
	"app":       "config_nlweb.yaml",
	"llm":       "config_llm.yaml",
	"embedding": "config_embedding.yaml",
	"retrieval": "config_retrieval.yaml",
	"storage":   "config_conversation.yaml",
	"server":    "config_webserver.yaml",
	"oauth":     "config_oauth.yaml",
}

// Load reads all configuration files from dir, expands environment
// references, applies defaults, and validates. Missing optional files
// leave their section at defaults; an unreadable or unparsable file is a
// startup failure.
func Load(dir string) (*Config, error) {
	raw := make(map[string]any)

	for section, filename := range sectionFiles {
		path := filepath.Join(dir, filename)
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}

		var sectionMap map[string]any
		if err := yaml.Unmarshal(data, &sectionMap); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		raw[section] = expandEnvVars(sectionMap)
	}

	cfg := &Config{Dir: dir}
	if err := decodeConfig(raw, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// SetDefaults applies defaults to all sections.
func (c *Config) SetDefaults() {
	if c.App.Mode == "" {
		c.App.Mode = ModeProduction
	}
	c.LLM.SetDefaults()
	c.Embedding.SetDefaults()
	c.Retrieval.SetDefaults()
	c.Storage.SetDefaults()
	c.Server.SetDefaults()

	if c.Ranking.EarlySendThreshold == 0 {
		c.Ranking.EarlySendThreshold = 59
	}
	if c.Ranking.GenerateEarlySendThreshold == 0 {
		c.Ranking.GenerateEarlySendThreshold = 55
	}
	if c.Ranking.MinScore == 0 {
		c.Ranking.MinScore = 51
	}
	if c.Ranking.MaxResults == 0 {
		c.Ranking.MaxResults = 10
	}
}

// Validate checks the whole configuration. Called once at startup; a
// failure here aborts the process.
func (c *Config) Validate() error {
	switch c.App.Mode {
	case ModeDevelopment, ModeProduction, ModeTesting:
	default:
		return fmt.Errorf("invalid mode %q (valid: development, production, testing)", c.App.Mode)
	}
	if err := c.LLM.Validate(); err != nil {
		return fmt.Errorf("llm: %w", err)
	}
	if err := c.Retrieval.Validate(); err != nil {
		return fmt.Errorf("retrieval: %w", err)
	}
	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	return nil
}

// IsDevelopment reports whether per-request provider overrides are honored.
func (c *Config) IsDevelopment() bool {
	return c.App.Mode == ModeDevelopment
}

// ShouldRaiseExceptions reports whether LLM and prompt failures propagate
// instead of degrading to defaults. True only in testing mode.
func (c *Config) ShouldRaiseExceptions() bool {
	return c.App.Mode == ModeTesting
}

// PrecheckEnabled resolves a precheck gate, defaulting to enabled.
func PrecheckEnabled(gate *bool) bool {
	return gate == nil || *gate
}

// decodeConfig decodes a map into a Config struct using mapstructure.
func decodeConfig(input map[string]any, output *Config) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           output,
		TagName:          "yaml",
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}

	if err := decoder.Decode(input); err != nil {
		return fmt.Errorf("failed to decode: %w", err)
	}

	return nil
}
