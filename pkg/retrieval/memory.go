package retrieval

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/schemaseek/schemaseek/pkg/schemaorg"
)

// MemoryBackend is an in-process backend for tests and development. It
// scores documents by keyword overlap rather than vectors, which keeps it
// dependency-free while preserving the Backend contract.
type MemoryBackend struct {
	mu   sync.RWMutex
	docs []Document
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

func (b *MemoryBackend) Search(ctx context.Context, query, site string, limit int) ([]schemaorg.RetrievedItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	site = NormalizeSite(site)
	terms := strings.Fields(strings.ToLower(query))

	type scored struct {
		doc   Document
		score int
		order int
	}
	var matches []scored

	for i, doc := range b.docs {
		if site != SiteAll && doc.Site != site {
			continue
		}
		haystack := strings.ToLower(doc.Name + " " + doc.Text)
		score := 0
		for _, term := range terms {
			if strings.Contains(haystack, term) {
				score++
			}
		}
		if score > 0 || len(terms) == 0 {
			matches = append(matches, scored{doc: doc, score: score, order: i})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		return matches[i].order < matches[j].order
	})

	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}

	items := make([]schemaorg.RetrievedItem, 0, len(matches))
	for _, m := range matches {
		items = append(items, schemaorg.RetrievedItem{
			URL:    m.doc.URL,
			Site:   m.doc.Site,
			Name:   m.doc.Name,
			Schema: m.doc.Schema,
		})
	}
	return items, nil
}

func (b *MemoryBackend) SearchByURL(ctx context.Context, url string) (*schemaorg.RetrievedItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, doc := range b.docs {
		if doc.URL == url {
			return &schemaorg.RetrievedItem{
				URL:    doc.URL,
				Site:   doc.Site,
				Name:   doc.Name,
				Schema: doc.Schema,
			}, nil
		}
	}
	return nil, nil
}

func (b *MemoryBackend) GetSites(ctx context.Context) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	siteSet := make(map[string]bool)
	for _, doc := range b.docs {
		if doc.Site != "" {
			siteSet[doc.Site] = true
		}
	}

	sites := make([]string, 0, len(siteSet))
	for s := range siteSet {
		sites = append(sites, s)
	}
	sort.Strings(sites)
	return sites, nil
}

func (b *MemoryBackend) UploadDocuments(ctx context.Context, docs []Document) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	// Replace by URL, append otherwise.
	for _, doc := range docs {
		replaced := false
		for i := range b.docs {
			if b.docs[i].URL == doc.URL {
				b.docs[i] = doc
				replaced = true
				break
			}
		}
		if !replaced {
			b.docs = append(b.docs, doc)
		}
	}
	return nil
}

func (b *MemoryBackend) DeleteDocumentsBySite(ctx context.Context, site string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	kept := b.docs[:0]
	for _, doc := range b.docs {
		if doc.Site != site {
			kept = append(kept, doc)
		}
	}
	b.docs = kept
	return nil
}

func (b *MemoryBackend) Close() error {
	return nil
}

var _ Backend = (*MemoryBackend)(nil)
