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

// Package llms exposes the structured-ask LLM capability: a prompt plus a
// JSON schema in, a parsed JSON object out. Provider adapters are keyed by
// llm_type and lazy-initialized on first use.
package llms

import (
	"context"
	"time"
)

// Tier selects the model class for a call.
type Tier string

const (
	TierLow  Tier = "low"
	TierHigh Tier = "high"
)

// Default per-call timeouts. Callers with long prompts raise the high-tier
// timeout per call, up to MaxHighTimeout.
const (
	DefaultLowTimeout  = 8 * time.Second
	DefaultHighTimeout = 20 * time.Second
	MaxHighTimeout     = 100 * time.Second
)

// AskOptions tunes a single structured ask.
type AskOptions struct {
	Tier      Tier
	Timeout   time.Duration
	MaxTokens int

	// Endpoint and Model override the configured endpoint selection.
	// Honored only in development mode.
	Endpoint string
	Model    string
}

func (o AskOptions) timeout() time.Duration {
	if o.Timeout > 0 {
		if o.Timeout > MaxHighTimeout {
			return MaxHighTimeout
		}
		return o.Timeout
	}
	if o.Tier == TierHigh {
		return DefaultHighTimeout
	}
	return DefaultLowTimeout
}

// Provider is one configured LLM endpoint.
type Provider interface {
	// Ask sends the prompt and returns the model's JSON object response
	// conforming (best effort) to schema. A nil schema requests free-form
	// JSON.
	Ask(ctx context.Context, prompt string, schema map[string]any, opts AskOptions) (map[string]any, error)

	// ModelName returns the model used for a tier.
	ModelName(tier Tier) string

	Close() error
}
