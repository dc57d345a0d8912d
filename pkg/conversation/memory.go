package conversation

import (
	"context"
	"sort"
	"sync"

	"github.com/schemaseek/schemaseek/pkg/embedders"
)

// MemoryStorage keeps conversations in process memory. Used in tests and
// for deployments that do not need persistence.
type MemoryStorage struct {
	embedder embedders.Embedder

	mu      sync.RWMutex
	entries []Entry
}

func NewMemoryStorage(embedder embedders.Embedder) *MemoryStorage {
	return &MemoryStorage{embedder: embedder}
}

func (s *MemoryStorage) AddConversation(ctx context.Context, userID, site, threadID, userPrompt, response string) (*Entry, error) {
	entry := newEntry(ctx, s.embedder, userID, site, threadID, userPrompt, response)

	s.mu.Lock()
	s.entries = append(s.entries, entry)
	s.mu.Unlock()

	return &entry, nil
}

func (s *MemoryStorage) GetRecentConversations(ctx context.Context, userID, site string, limit int) ([]Thread, error) {
	s.mu.RLock()
	var matched []Entry
	for _, e := range s.entries {
		if e.UserID != userID {
			continue
		}
		if site != SiteAll && site != "" && e.Site != site {
			continue
		}
		matched = append(matched, e)
	}
	s.mu.RUnlock()

	// Keep only the most recent turns before grouping.
	if limit > 0 && len(matched) > limit {
		sort.SliceStable(matched, func(i, j int) bool {
			return matched[i].Time.After(matched[j].Time)
		})
		matched = matched[:limit]
	}

	return groupThreads(matched), nil
}

func (s *MemoryStorage) DeleteConversation(ctx context.Context, conversationID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, e := range s.entries {
		if e.ConversationID != conversationID {
			continue
		}
		if userID != "" && e.UserID != userID {
			return false, nil
		}
		s.entries = append(s.entries[:i], s.entries[i+1:]...)
		return true, nil
	}
	return false, nil
}

func (s *MemoryStorage) SearchConversations(ctx context.Context, query, userID, site string, limit int) ([]Entry, error) {
	var queryVector []float32
	if s.embedder != nil {
		if v, err := s.embedder.Embed(ctx, query); err == nil {
			queryVector = v
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	type scored struct {
		entry Entry
		score float64
	}
	var matches []scored
	for _, e := range s.entries {
		if userID != "" && e.UserID != userID {
			continue
		}
		if site != "" && site != SiteAll && e.Site != site {
			continue
		}
		if score := scoreEntry(e, query, queryVector); score > 0 {
			matches = append(matches, scored{entry: e, score: score})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].score > matches[j].score
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}

	out := make([]Entry, 0, len(matches))
	for _, m := range matches {
		out = append(out, m.entry)
	}
	return out, nil
}

func (s *MemoryStorage) Close() error {
	return nil
}

var _ Storage = (*MemoryStorage)(nil)
