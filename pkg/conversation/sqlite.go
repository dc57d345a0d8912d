package conversation

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/schemaseek/schemaseek/pkg/embedders"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS conversations (
	conversation_id TEXT PRIMARY KEY,
	thread_id       TEXT NOT NULL,
	user_id         TEXT NOT NULL DEFAULT '',
	site            TEXT NOT NULL DEFAULT '',
	user_prompt     TEXT NOT NULL,
	response        TEXT NOT NULL,
	created_at      TIMESTAMP NOT NULL,
	embedding       TEXT
);
CREATE INDEX IF NOT EXISTS idx_conversations_user_site ON conversations(user_id, site);
CREATE INDEX IF NOT EXISTS idx_conversations_thread ON conversations(thread_id);
`

// SQLiteStorage persists conversations in a local SQLite database.
// Embeddings are stored as JSON arrays; similarity scoring happens in
// process after a text pre-filter.
type SQLiteStorage struct {
	db       *sql.DB
	embedder embedders.Embedder
}

func NewSQLiteStorage(path string, embedder embedders.Embedder) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open conversation database: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize conversation schema: %w", err)
	}
	return &SQLiteStorage{db: db, embedder: embedder}, nil
}

func (s *SQLiteStorage) AddConversation(ctx context.Context, userID, site, threadID, userPrompt, response string) (*Entry, error) {
	entry := newEntry(ctx, s.embedder, userID, site, threadID, userPrompt, response)

	var embeddingJSON any
	if len(entry.Embedding) > 0 {
		raw, err := json.Marshal(entry.Embedding)
		if err != nil {
			return nil, fmt.Errorf("failed to encode embedding: %w", err)
		}
		embeddingJSON = string(raw)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations
			(conversation_id, thread_id, user_id, site, user_prompt, response, created_at, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ConversationID, entry.ThreadID, entry.UserID, entry.Site,
		entry.UserPrompt, entry.Response, entry.Time, embeddingJSON)
	if err != nil {
		return nil, fmt.Errorf("failed to store conversation: %w", err)
	}
	return &entry, nil
}

func (s *SQLiteStorage) GetRecentConversations(ctx context.Context, userID, site string, limit int) ([]Thread, error) {
	query := `SELECT conversation_id, thread_id, user_id, site, user_prompt, response, created_at, embedding
		FROM conversations WHERE user_id = ?`
	args := []any{userID}
	if site != SiteAll && site != "" {
		query += ` AND site = ?`
		args = append(args, site)
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	entries, err := s.queryEntries(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return groupThreads(entries), nil
}

func (s *SQLiteStorage) DeleteConversation(ctx context.Context, conversationID, userID string) (bool, error) {
	query := `DELETE FROM conversations WHERE conversation_id = ?`
	args := []any{conversationID}
	if userID != "" {
		query += ` AND user_id = ?`
		args = append(args, userID)
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to delete conversation: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *SQLiteStorage) SearchConversations(ctx context.Context, query, userID, site string, limit int) ([]Entry, error) {
	var queryVector []float32
	if s.embedder != nil {
		if v, err := s.embedder.Embed(ctx, query); err == nil {
			queryVector = v
		}
	}

	sqlQuery := `SELECT conversation_id, thread_id, user_id, site, user_prompt, response, created_at, embedding
		FROM conversations WHERE 1=1`
	var args []any
	if userID != "" {
		sqlQuery += ` AND user_id = ?`
		args = append(args, userID)
	}
	if site != "" && site != SiteAll {
		sqlQuery += ` AND site = ?`
		args = append(args, site)
	}

	entries, err := s.queryEntries(ctx, sqlQuery, args...)
	if err != nil {
		return nil, err
	}

	type scored struct {
		entry Entry
		score float64
	}
	var matches []scored
	for _, e := range entries {
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

func (s *SQLiteStorage) queryEntries(ctx context.Context, query string, args ...any) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("conversation query failed: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var createdAt time.Time
		var embedding sql.NullString
		if err := rows.Scan(&e.ConversationID, &e.ThreadID, &e.UserID, &e.Site,
			&e.UserPrompt, &e.Response, &createdAt, &embedding); err != nil {
			return nil, fmt.Errorf("failed to scan conversation row: %w", err)
		}
		e.Time = createdAt.UTC()
		if embedding.Valid && embedding.String != "" {
			// A corrupt embedding only disables vector scoring for the row.
			_ = json.Unmarshal([]byte(embedding.String), &e.Embedding)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

var _ Storage = (*SQLiteStorage)(nil)
