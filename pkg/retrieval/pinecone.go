package retrieval

import (
	"context"
	"fmt"

	"github.com/pinecone-io/go-pinecone/pinecone"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/schemaseek/schemaseek/pkg/config"
	"github.com/schemaseek/schemaseek/pkg/embedders"
	"github.com/schemaseek/schemaseek/pkg/schemaorg"
)

// PineconeBackend implements Backend over a Pinecone index. Vector ids are
// the item URLs themselves, which makes SearchByURL a fetch.
type PineconeBackend struct {
	client    *pinecone.Client
	indexName string
	embedder  embedders.Embedder
}

func NewPineconeBackend(cfg *config.RetrievalEndpointConfig, embedder embedders.Embedder) (*PineconeBackend, error) {
	if embedder == nil {
		return nil, fmt.Errorf("pinecone backend requires an embedding provider")
	}

	apiKey := cfg.APIKey()
	if apiKey == "" {
		return nil, fmt.Errorf("API key is required for Pinecone")
	}

	params := pinecone.NewClientParams{ApiKey: apiKey}
	if host := cfg.APIEndpoint(); host != "" {
		params.Host = host
	}

	client, err := pinecone.NewClient(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create Pinecone client: %w", err)
	}

	return &PineconeBackend{
		client:    client,
		indexName: cfg.IndexName,
		embedder:  embedder,
	}, nil
}

func (b *PineconeBackend) indexConnection(ctx context.Context) (*pinecone.IndexConnection, error) {
	index, err := b.client.DescribeIndex(ctx, b.indexName)
	if err != nil {
		return nil, fmt.Errorf("failed to describe index %s: %w", b.indexName, err)
	}

	conn, err := b.client.Index(pinecone.NewIndexConnParams{Host: index.Host})
	if err != nil {
		return nil, fmt.Errorf("failed to create index connection: %w", err)
	}
	return conn, nil
}

func (b *PineconeBackend) Search(ctx context.Context, query, site string, limit int) ([]schemaorg.RetrievedItem, error) {
	vector, err := b.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	conn, err := b.indexConnection(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	var filter *pinecone.MetadataFilter
	if NormalizeSite(site) != SiteAll {
		filter, err = structpb.NewStruct(map[string]any{"site": site})
		if err != nil {
			return nil, fmt.Errorf("failed to build filter: %w", err)
		}
	}

	resp, err := conn.QueryByVectorValues(ctx, &pinecone.QueryByVectorValuesRequest{
		Vector:          vector,
		TopK:            uint32(limit),
		MetadataFilter:  filter,
		IncludeMetadata: true,
	})
	if err != nil {
		return nil, fmt.Errorf("pinecone query failed: %w", err)
	}

	items := make([]schemaorg.RetrievedItem, 0, len(resp.Matches))
	for _, match := range resp.Matches {
		if match.Vector == nil {
			continue
		}
		metadata := map[string]any{}
		if match.Vector.Metadata != nil {
			metadata = match.Vector.Metadata.AsMap()
		}
		items = append(items, itemFromPayload(match.Vector.Id, metadata))
	}
	return items, nil
}

func (b *PineconeBackend) SearchByURL(ctx context.Context, url string) (*schemaorg.RetrievedItem, error) {
	conn, err := b.indexConnection(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	resp, err := conn.FetchVectors(ctx, []string{url})
	if err != nil {
		return nil, fmt.Errorf("pinecone fetch failed: %w", err)
	}

	vec, ok := resp.Vectors[url]
	if !ok || vec == nil {
		return nil, nil
	}

	metadata := map[string]any{}
	if vec.Metadata != nil {
		metadata = vec.Metadata.AsMap()
	}
	item := itemFromPayload(url, metadata)
	return &item, nil
}

// GetSites is not supported: Pinecone has no metadata-value enumeration.
func (b *PineconeBackend) GetSites(ctx context.Context) ([]string, error) {
	return nil, ErrUnsupported
}

func (b *PineconeBackend) UploadDocuments(ctx context.Context, docs []Document) error {
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

	conn, err := b.indexConnection(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	pineconeVectors := make([]*pinecone.Vector, 0, len(docs))
	for i, doc := range docs {
		metadata, err := structpb.NewStruct(map[string]any{
			"url":         doc.URL,
			"site":        doc.Site,
			"name":        doc.Name,
			"schema_json": string(doc.Schema),
		})
		if err != nil {
			return fmt.Errorf("failed to convert metadata: %w", err)
		}
		pineconeVectors = append(pineconeVectors, &pinecone.Vector{
			Id:       doc.URL,
			Values:   vectors[i],
			Metadata: metadata,
		})
	}

	if _, err := conn.UpsertVectors(ctx, pineconeVectors); err != nil {
		return fmt.Errorf("failed to upsert vectors: %w", err)
	}
	return nil
}

func (b *PineconeBackend) DeleteDocumentsBySite(ctx context.Context, site string) error {
	conn, err := b.indexConnection(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	filter, err := structpb.NewStruct(map[string]any{"site": site})
	if err != nil {
		return fmt.Errorf("failed to build filter: %w", err)
	}

	if err := conn.DeleteVectorsByFilter(ctx, filter); err != nil {
		return fmt.Errorf("failed to delete by site: %w", err)
	}
	return nil
}

func (b *PineconeBackend) Close() error {
	return nil
}

var _ Backend = (*PineconeBackend)(nil)
