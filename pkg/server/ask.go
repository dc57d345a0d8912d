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

package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/schemaseek/schemaseek/pkg/metrics"
	"github.com/schemaseek/schemaseek/pkg/retrieval"
	"github.com/schemaseek/schemaseek/pkg/state"
)

// anonymousUser is the identity conversations are stored under when the
// request carries no user_id.
const anonymousUser = "anonymous"

// handleAsk runs the pipeline for one question. Responses stream as SSE
// by default; streaming=false collects every message into one JSON body.
func (s *Server) handleAsk(w http.ResponseWriter, req *http.Request) {
	params, err := askParams(req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	askReq, err := s.buildRequest(params)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	mode := string(askReq.GenerateMode)
	metrics.AskRequests.WithLabelValues(mode).Inc()
	start := time.Now()
	defer func() {
		metrics.AskDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
	}()

	st := state.New(askReq)

	if askReq.Streaming {
		emitter, err := newSSEEmitter(w)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		defer emitter.Close()

		// The request context ends when the client disconnects.
		ctx, cancel := context.WithCancel(req.Context())
		defer cancel()
		go func() {
			<-ctx.Done()
			st.MarkConnectionClosed()
		}()

		s.pipeline.Run(ctx, st, emitter)
		s.storeConversation(st, params.Get("user_id"))
		return
	}

	collector := &collectEmitter{}
	s.pipeline.Run(req.Context(), st, collector)
	s.storeConversation(st, params.Get("user_id"))

	writeJSON(w, http.StatusOK, map[string]any{
		"query_id": askReq.QueryID,
		"messages": collector.messages(),
	})
}

// askParams merges query string and form parameters. POST form values
// take precedence over duplicated query parameters.
func askParams(req *http.Request) (url.Values, error) {
	if err := req.ParseForm(); err != nil {
		return nil, fmt.Errorf("failed to parse request parameters: %w", err)
	}
	return req.Form, nil
}

// buildRequest validates parameters into an immutable request. Dev-only
// overrides are dropped outside development mode.
func (s *Server) buildRequest(params url.Values) (state.Request, error) {
	query := params.Get("query")
	if query == "" {
		query = params.Get("q")
	}
	if query == "" {
		return state.Request{}, fmt.Errorf("query parameter required")
	}

	site := retrieval.NormalizeSite(params.Get("site"))
	if allowed := s.cfg.App.AllowedSites; len(allowed) > 0 && site != retrieval.SiteAll {
		found := false
		for _, a := range allowed {
			if a == site {
				found = true
				break
			}
		}
		if !found {
			return state.Request{}, fmt.Errorf("site %q is not served here", site)
		}
	}

	mode := state.GenerateMode(params.Get("generate_mode"))
	switch mode {
	case "":
		mode = state.ModeList
	case state.ModeNone, state.ModeList, state.ModeSummarize, state.ModeGenerate:
	default:
		return state.Request{}, fmt.Errorf("invalid generate_mode %q", mode)
	}

	queryID := params.Get("query_id")
	if queryID == "" {
		queryID = uuid.NewString()
	}

	req := state.Request{
		Query:                 query,
		PrevQueries:           parsePrev(params["prev"]),
		Site:                  site,
		Streaming:             parseStreaming(params.Get("streaming")),
		GenerateMode:          mode,
		QueryID:               queryID,
		ContextURL:            params.Get("context_url"),
		ContextDescription:    params.Get("context_description"),
		DecontextualizedQuery: params.Get("decontextualized_query"),
	}

	if s.cfg.IsDevelopment() {
		req.Model = params.Get("model")
		req.DB = params.Get("db")
		req.LLMProvider = params.Get("llm_provider")
		req.LLMLevel = params.Get("llm_level")
	}

	return req, nil
}

// parsePrev flattens repeated prev parameters, each possibly holding a
// comma-separated list.
func parsePrev(values []string) []string {
	var prev []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				prev = append(prev, part)
			}
		}
	}
	return prev
}

// parseStreaming defaults to true; only explicit false, False, or 0
// disable streaming.
func parseStreaming(value string) bool {
	switch value {
	case "false", "False", "0":
		return false
	default:
		return true
	}
}

// storeConversation persists the completed turn when storage is enabled.
// The stream has already ended, so failures are only logged.
func (s *Server) storeConversation(st *state.RequestState, userID string) {
	if s.storage == nil || !s.cfg.Storage.Enabled {
		return
	}
	if userID == "" {
		userID = anonymousUser
	}

	answers := st.FinalRankedAnswers()
	var summary strings.Builder
	for _, a := range answers {
		if a.Ranking.Description == "" {
			fmt.Fprintf(&summary, "%s (%s)\n", a.Name, a.URL)
		} else {
			fmt.Fprintf(&summary, "%s (%s): %s\n", a.Name, a.URL, a.Ranking.Description)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := s.storage.AddConversation(ctx, userID, st.Site, "", st.Query, summary.String()); err != nil {
		slog.Warn("failed to store conversation", "query_id", st.QueryID, "error", err)
		return
	}
	metrics.ConversationsStored.Inc()
}
