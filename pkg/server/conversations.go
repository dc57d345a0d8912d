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
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/schemaseek/schemaseek/pkg/conversation"
	"github.com/schemaseek/schemaseek/pkg/metrics"
)

// requireStorage guards the conversation API when storage is disabled.
func (s *Server) requireStorage(w http.ResponseWriter) bool {
	if s.storage == nil || !s.cfg.Storage.Enabled {
		http.Error(w, "conversation storage is not enabled", http.StatusNotFound)
		return false
	}
	return true
}

// requestUser resolves the caller's identity from the user_id parameter.
func requestUser(req *http.Request) string {
	if id := req.URL.Query().Get("user_id"); id != "" {
		return id
	}
	return anonymousUser
}

func (s *Server) handleGetConversations(w http.ResponseWriter, req *http.Request) {
	if !s.requireStorage(w) {
		return
	}

	userID := requestUser(req)
	site := req.URL.Query().Get("site")
	if site == "" {
		site = conversation.SiteAll
	}
	limit := 0
	if raw := req.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit parameter", http.StatusBadRequest)
			return
		}
		limit = n
	}

	if query := req.URL.Query().Get("query"); query != "" {
		entries, err := s.storage.SearchConversations(req.Context(), query, userID, site, limit)
		if err != nil {
			http.Error(w, "conversation search failed", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"conversations": entries})
		return
	}

	threads, err := s.storage.GetRecentConversations(req.Context(), userID, site, limit)
	if err != nil {
		http.Error(w, "failed to load conversations", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"threads": threads})
}

func (s *Server) handleAddConversation(w http.ResponseWriter, req *http.Request) {
	if !s.requireStorage(w) {
		return
	}

	var body struct {
		UserID     string `json:"user_id"`
		Site       string `json:"site"`
		ThreadID   string `json:"thread_id"`
		UserPrompt string `json:"user_prompt"`
		Response   string `json:"response"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.UserPrompt == "" {
		http.Error(w, "user_prompt is required", http.StatusBadRequest)
		return
	}
	if body.UserID == "" {
		body.UserID = anonymousUser
	}

	entry, err := s.storage.AddConversation(req.Context(), body.UserID, body.Site, body.ThreadID, body.UserPrompt, body.Response)
	if err != nil {
		http.Error(w, "failed to store conversation", http.StatusInternalServerError)
		return
	}
	metrics.ConversationsStored.Inc()
	writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, req *http.Request) {
	if !s.requireStorage(w) {
		return
	}

	conversationID := chi.URLParam(req, "conversationID")
	deleted, err := s.storage.DeleteConversation(req.Context(), conversationID, requestUser(req))
	if err != nil {
		http.Error(w, "failed to delete conversation", http.StatusInternalServerError)
		return
	}
	if !deleted {
		http.Error(w, "conversation not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}
