// Copyright 2025 The schemaseek Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"

	"github.com/schemaseek/schemaseek/pkg/llms"
	"github.com/schemaseek/schemaseek/pkg/metrics"
)

// meteredAsker counts every structured ask. An empty map is the degraded
// no-response outcome, not a success.
type meteredAsker struct {
	svc *llms.Service
}

func (m meteredAsker) Ask(ctx context.Context, prompt string, schema map[string]any, opts llms.AskOptions) (map[string]any, error) {
	obj, err := m.svc.Ask(ctx, prompt, schema, opts)

	outcome := "ok"
	switch {
	case err != nil:
		outcome = "error"
	case len(obj) == 0:
		outcome = "empty"
	}
	metrics.LLMCalls.WithLabelValues(string(opts.Tier), outcome).Inc()

	return obj, err
}
