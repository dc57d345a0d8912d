package retrieval

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/philippgille/chromem-go"

	"github.com/schemaseek/schemaseek/pkg/config"
	"github.com/schemaseek/schemaseek/pkg/embedders"
	"github.com/schemaseek/schemaseek/pkg/schemaorg"
)

// ChromemBackend implements Backend over chromem-go for embedded,
// zero-service deployments. All vectors live in process memory with
// optional file persistence.
type ChromemBackend struct {
	db          *chromem.DB
	persistPath string
	embedder    embedders.Embedder

	mu         sync.Mutex
	collection *chromem.Collection
	// count tracks documents in the collection; chromem caps a query's
	// topK at the collection size.
	count int
}

func NewChromemBackend(cfg *config.RetrievalEndpointConfig, embedder embedders.Embedder) (*ChromemBackend, error) {
	if embedder == nil {
		return nil, fmt.Errorf("chromem backend requires an embedding provider")
	}

	var db *chromem.DB
	persistPath := ""
	if cfg.DatabasePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		var err error
		db, err = chromem.NewPersistentDB(cfg.DatabasePath, false)
		if err != nil {
			return nil, fmt.Errorf("failed to open chromem database: %w", err)
		}
		persistPath = cfg.DatabasePath
	} else {
		db = chromem.NewDB()
	}

	// Pre-computed vectors only; chromem must never embed on its own.
	identityEmbed := func(ctx context.Context, text string) ([]float32, error) {
		return nil, fmt.Errorf("embedding function called but vectors are pre-computed")
	}

	col, err := db.GetOrCreateCollection(cfg.IndexName, nil, identityEmbed)
	if err != nil {
		return nil, fmt.Errorf("failed to open collection %q: %w", cfg.IndexName, err)
	}

	return &ChromemBackend{
		db:          db,
		persistPath: persistPath,
		embedder:    embedder,
		collection:  col,
		count:       col.Count(),
	}, nil
}

func (b *ChromemBackend) Search(ctx context.Context, query, site string, limit int) ([]schemaorg.RetrievedItem, error) {
	b.mu.Lock()
	count := b.count
	b.mu.Unlock()
	if count == 0 {
		return nil, nil
	}
	if limit > count {
		limit = count
	}

	vector, err := b.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	var where map[string]string
	if NormalizeSite(site) != SiteAll {
		where = map[string]string{"site": site}
	}

	results, err := b.collection.QueryEmbedding(ctx, vector, limit, where, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query failed: %w", err)
	}

	items := make([]schemaorg.RetrievedItem, 0, len(results))
	for _, r := range results {
		payload := make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			payload[k] = v
		}
		items = append(items, itemFromPayload(r.ID, payload))
	}
	return items, nil
}

func (b *ChromemBackend) SearchByURL(ctx context.Context, url string) (*schemaorg.RetrievedItem, error) {
	doc, err := b.collection.GetByID(ctx, url)
	if err != nil {
		// chromem reports a missing id as an error; treat it as no hit.
		return nil, nil
	}

	payload := make(map[string]any, len(doc.Metadata))
	for k, v := range doc.Metadata {
		payload[k] = v
	}
	item := itemFromPayload(url, payload)
	return &item, nil
}

// GetSites is not supported: chromem has no metadata-value enumeration.
func (b *ChromemBackend) GetSites(ctx context.Context) ([]string, error) {
	return nil, ErrUnsupported
}

func (b *ChromemBackend) UploadDocuments(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	texts := make([]string, len(docs))
	for i, doc := range docs {
		texts[i] = doc.Text
	}
	vectors, err := b.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("failed to embed documents: %w", err)
	}

	chromemDocs := make([]chromem.Document, 0, len(docs))
	for i, doc := range docs {
		chromemDocs = append(chromemDocs, chromem.Document{
			ID:      doc.URL,
			Content: doc.Text,
			Metadata: map[string]string{
				"url":         doc.URL,
				"site":        doc.Site,
				"name":        doc.Name,
				"schema_json": string(doc.Schema),
			},
			Embedding: vectors[i],
		})
	}

	if err := b.collection.AddDocuments(ctx, chromemDocs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to add documents: %w", err)
	}

	b.mu.Lock()
	b.count = b.collection.Count()
	b.mu.Unlock()

	return nil
}

func (b *ChromemBackend) DeleteDocumentsBySite(ctx context.Context, site string) error {
	if err := b.collection.Delete(ctx, map[string]string{"site": site}, nil); err != nil {
		return fmt.Errorf("failed to delete by site: %w", err)
	}

	b.mu.Lock()
	b.count = b.collection.Count()
	b.mu.Unlock()

	return nil
}

func (b *ChromemBackend) Close() error {
	return nil
}

var _ Backend = (*ChromemBackend)(nil)
