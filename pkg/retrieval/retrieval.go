// Copyright 2025 The schemaseek Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package retrieval presents a uniform search surface over the configured
// vector backends. A query fans out to every enabled endpoint in parallel;
// per-endpoint failures are isolated and results are deduplicated by URL.
package retrieval

import (
	"context"
	"errors"
	"fmt"

	"github.com/schemaseek/schemaseek/pkg/config"
	"github.com/schemaseek/schemaseek/pkg/embedders"
	"github.com/schemaseek/schemaseek/pkg/schemaorg"
)

// SiteAll is the normalized cross-site marker. The legacy value "nlws" is
// accepted on input and normalized to this.
const SiteAll = "all"

// DefaultLimit is the per-endpoint result cap when the caller passes 0.
const DefaultLimit = 50

// ErrUnsupported is returned by backends for operations they cannot serve
// (e.g. site enumeration on Pinecone). The aggregator treats it as "no
// contribution", not as a failure.
var ErrUnsupported = errors.New("operation not supported by backend")

// Document is an item to upload to a backend. Text is what gets embedded.
type Document struct {
	URL    string
	Site   string
	Name   string
	Schema []byte
	Text   string
}

// Backend is one retrieval endpoint. Implementations own their connection
// pools and must be safe for concurrent use.
type Backend interface {
	// Search returns up to limit items matching the query. A site of
	// SiteAll (or empty) searches across sites.
	Search(ctx context.Context, query, site string, limit int) ([]schemaorg.RetrievedItem, error)

	// SearchByURL returns the item with the given URL, or nil when the
	// backend has no record of it.
	SearchByURL(ctx context.Context, url string) (*schemaorg.RetrievedItem, error)

	// GetSites enumerates the site names present on the backend. Backends
	// that cannot enumerate return ErrUnsupported.
	GetSites(ctx context.Context) ([]string, error)

	UploadDocuments(ctx context.Context, docs []Document) error
	DeleteDocumentsBySite(ctx context.Context, site string) error

	Close() error
}

// NormalizeSite maps the accepted cross-site spellings to SiteAll.
func NormalizeSite(site string) string {
	switch site {
	case "", SiteAll, "nlws":
		return SiteAll
	default:
		return site
	}
}

// NewBackend constructs the adapter for one configured endpoint.
func NewBackend(cfg *config.RetrievalEndpointConfig, embedder embedders.Embedder) (Backend, error) {
	switch cfg.DBType {
	case config.DBTypeQdrant:
		return NewQdrantBackend(cfg, embedder)
	case config.DBTypePinecone:
		return NewPineconeBackend(cfg, embedder)
	case config.DBTypeChromem:
		return NewChromemBackend(cfg, embedder)
	case config.DBTypeMemory:
		return NewMemoryBackend(), nil
	default:
		return nil, fmt.Errorf("unsupported db_type: %s", cfg.DBType)
	}
}

// itemFromPayload rebuilds a RetrievedItem from backend metadata.
func itemFromPayload(url string, payload map[string]any) schemaorg.RetrievedItem {
	item := schemaorg.RetrievedItem{URL: url}
	if s, ok := payload["site"].(string); ok {
		item.Site = s
	}
	if s, ok := payload["name"].(string); ok {
		item.Name = s
	}
	if s, ok := payload["schema_json"].(string); ok && s != "" {
		item.Schema = []byte(s)
	}
	if u, ok := payload["url"].(string); ok && u != "" {
		item.URL = u
	}
	return item
}
