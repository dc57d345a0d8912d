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

// Package conversation persists (user prompt, response) pairs grouped
// into threads, with embeddings for semantic search over past turns.
package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/schemaseek/schemaseek/pkg/config"
	"github.com/schemaseek/schemaseek/pkg/embedders"
)

// SiteAll disables site filtering on reads.
const SiteAll = "all"

// Entry is one stored conversation turn.
type Entry struct {
	ConversationID string    `json:"conversation_id"`
	ThreadID       string    `json:"thread_id"`
	UserID         string    `json:"user_id"`
	Site           string    `json:"site"`
	UserPrompt     string    `json:"user_prompt"`
	Response       string    `json:"response"`
	Time           time.Time `json:"time"`
	Embedding      []float32 `json:"-"`
}

// Thread groups entries sharing a thread id, oldest turn first.
type Thread struct {
	ThreadID      string  `json:"thread_id"`
	Site          string  `json:"site"`
	Conversations []Entry `json:"conversations"`
}

// Storage is the conversation persistence capability.
type Storage interface {
	// AddConversation stores one turn. An empty threadID starts a new
	// thread with a generated id.
	AddConversation(ctx context.Context, userID, site, threadID, userPrompt, response string) (*Entry, error)

	// GetRecentConversations returns threads for a user, most recently
	// active thread first. site == "all" disables site filtering.
	GetRecentConversations(ctx context.Context, userID, site string, limit int) ([]Thread, error)

	// DeleteConversation removes one entry. Idempotent; false when the
	// entry did not exist (or belongs to another user).
	DeleteConversation(ctx context.Context, conversationID, userID string) (bool, error)

	// SearchConversations finds past turns matching the query, by text
	// overlap and, when embeddings are available, vector similarity.
	SearchConversations(ctx context.Context, query, userID, site string, limit int) ([]Entry, error)

	Close() error
}

// New constructs the configured storage backend.
func New(cfg *config.StorageConfig, embedder embedders.Embedder) (Storage, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryStorage(embedder), nil
	case "sqlite":
		return NewSQLiteStorage(cfg.Path, embedder)
	default:
		return nil, fmt.Errorf("unsupported conversation storage type %q", cfg.Type)
	}
}

// newEntry fills in the generated fields shared by all backends.
func newEntry(ctx context.Context, embedder embedders.Embedder, userID, site, threadID, userPrompt, response string) Entry {
	if threadID == "" {
		threadID = uuid.NewString()
	}
	entry := Entry{
		ConversationID: uuid.NewString(),
		ThreadID:       threadID,
		UserID:         userID,
		Site:           site,
		UserPrompt:     userPrompt,
		Response:       response,
		Time:           time.Now().UTC(),
	}
	if embedder != nil {
		text := fmt.Sprintf("User: %s\nAssistant: %s", userPrompt, response)
		vector, err := embedder.Embed(ctx, text)
		if err != nil {
			slog.Warn("failed to embed conversation, storing without vector", "error", err)
		} else {
			entry.Embedding = vector
		}
	}
	return entry
}

// groupThreads turns a flat entry list into the thread shape the API
// returns: entries oldest-first inside a thread, threads ordered by their
// most recent entry descending.
func groupThreads(entries []Entry) []Thread {
	byThread := make(map[string][]Entry)
	for _, e := range entries {
		byThread[e.ThreadID] = append(byThread[e.ThreadID], e)
	}

	threads := make([]Thread, 0, len(byThread))
	for id, group := range byThread {
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].Time.Before(group[j].Time)
		})
		threads = append(threads, Thread{
			ThreadID:      id,
			Site:          group[0].Site,
			Conversations: group,
		})
	}

	sort.SliceStable(threads, func(i, j int) bool {
		li := threads[i].Conversations[len(threads[i].Conversations)-1].Time
		lj := threads[j].Conversations[len(threads[j].Conversations)-1].Time
		return li.After(lj)
	})
	return threads
}

// scoreEntry combines keyword overlap with cosine similarity when both
// sides carry a vector.
func scoreEntry(entry Entry, query string, queryVector []float32) float64 {
	score := 0.0
	haystack := strings.ToLower(entry.UserPrompt + " " + entry.Response)
	for _, term := range strings.Fields(strings.ToLower(query)) {
		if strings.Contains(haystack, term) {
			score++
		}
	}
	if len(queryVector) > 0 && len(entry.Embedding) == len(queryVector) {
		score += cosine(queryVector, entry.Embedding) * 10
	}
	return score
}

func cosine(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
