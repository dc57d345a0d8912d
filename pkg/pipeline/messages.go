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

// Package pipeline runs the query pipeline for one request: prechecks,
// fast track, tool routing, ranking, method handlers and post-ranking.
package pipeline

import (
	"log/slog"
	"sync"

	"github.com/schemaseek/schemaseek/pkg/state"
)

// Message is one streamed event. Every message carries message_type and
// query_id.
type Message map[string]any

// Message type values emitted by the pipeline.
const (
	MsgAskingSites           = "asking_sites"
	MsgDecontextualizedQuery = "decontextualized_query"
	MsgToolSelection         = "tool_selection"
	MsgQueryRewrite          = "query_rewrite"
	MsgRemember              = "remember"
	MsgAskUser               = "ask_user"
	MsgSiteIrrelevant        = "site_is_irrelevant_to_query"
	MsgResultBatch           = "result_batch"
	MsgItemDetails           = "item_details"
	MsgCompareItems          = "compare_items"
	MsgSubstitution          = "substitution_suggestions"
	MsgNLWS                  = "nlws"
	MsgSummary               = "summary"
	MsgResultsMap            = "results_map"
	MsgIntermediate          = "intermediate_message"
	MsgNoResults             = "no_results"
	MsgError                 = "error"
)

// NewMessage builds a message of the given type for a request.
func NewMessage(messageType, queryID string) Message {
	return Message{
		"message_type": messageType,
		"query_id":     queryID,
	}
}

// Emitter delivers messages to the client. The SSE and JSON writers in
// the server implement it.
type Emitter interface {
	Send(msg Message) error
}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(msg Message) error

func (f EmitterFunc) Send(msg Message) error { return f(msg) }

// sender serializes message delivery for one request. A transport error
// latches the connection as closed; later sends are dropped silently.
type sender struct {
	st      *state.RequestState
	emitter Emitter
	mu      sync.Mutex
}

func newSender(st *state.RequestState, emitter Emitter) *sender {
	return &sender{st: st, emitter: emitter}
}

// Send delivers one message. Returns false when the message was dropped
// because the connection is gone.
func (s *sender) Send(msg Message) bool {
	if !s.st.ConnectionAlive() {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.st.ConnectionAlive() {
		return false
	}
	if err := s.emitter.Send(msg); err != nil {
		slog.Debug("client connection lost", "error", err)
		s.st.MarkConnectionClosed()
		return false
	}
	return true
}
