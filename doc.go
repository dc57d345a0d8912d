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

// Package schemaseek answers natural-language questions over
// schema.org-annotated content.
//
// A question arrives at the HTTP server, runs through a set of concurrent
// pre-checks (relevance, decontextualization, tool routing), retrieves
// candidate items from the configured vector backends, ranks them with an
// LLM, and streams results back over SSE as they clear the score
// thresholds. The same pipeline is reachable as an MCP tool.
//
// Packages under pkg/ hold the implementation; cmd/schemaseek is the CLI.
package schemaseek
