package retrieval

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/schemaseek/schemaseek/pkg/config"
	"github.com/schemaseek/schemaseek/pkg/embedders"
	"github.com/schemaseek/schemaseek/pkg/schemaorg"
)

// QdrantBackend implements Backend over a Qdrant collection. Point ids are
// UUIDv5 hashes of the item URL so uploads are idempotent.
type QdrantBackend struct {
	client     *qdrant.Client
	collection string
	embedder   embedders.Embedder
}

func NewQdrantBackend(cfg *config.RetrievalEndpointConfig, embedder embedders.Embedder) (*QdrantBackend, error) {
	if embedder == nil {
		return nil, fmt.Errorf("qdrant backend requires an embedding provider")
	}

	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	port := cfg.Port
	if port == 0 {
		port = 6334 // Qdrant gRPC port
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Qdrant client for %s:%d: %w", host, port, err)
	}

	return &QdrantBackend{
		client:     client,
		collection: cfg.IndexName,
		embedder:   embedder,
	}, nil
}

func (b *QdrantBackend) Search(ctx context.Context, query, site string, limit int) ([]schemaorg.RetrievedItem, error) {
	vector, err := b.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	req := &qdrant.SearchPoints{
		CollectionName: b.collection,
		Vector:         vector,
		Limit:          uint64(limit),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if NormalizeSite(site) != SiteAll {
		req.Filter = siteFilter(site)
	}

	resp, err := b.client.GetPointsClient().Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("qdrant search failed: %w", err)
	}

	items := make([]schemaorg.RetrievedItem, 0, len(resp.Result))
	for _, point := range resp.Result {
		items = append(items, itemFromPayload("", payloadToMap(point.Payload)))
	}
	return items, nil
}

func (b *QdrantBackend) SearchByURL(ctx context.Context, url string) (*schemaorg.RetrievedItem, error) {
	id := pointIDForURL(url)
	resp, err := b.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: b.collection,
		Ids:            []*qdrant.PointId{qdrant.NewID(id)},
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant get failed: %w", err)
	}
	if len(resp) == 0 {
		return nil, nil
	}

	item := itemFromPayload(url, payloadToMap(resp[0].Payload))
	return &item, nil
}

// GetSites is not supported: Qdrant has no cheap payload-value
// enumeration at this client version.
func (b *QdrantBackend) GetSites(ctx context.Context) ([]string, error) {
	return nil, ErrUnsupported
}

func (b *QdrantBackend) UploadDocuments(ctx context.Context, docs []Document) error {
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
	if len(vectors) != len(docs) {
		return fmt.Errorf("embedding count mismatch: %d vectors for %d documents", len(vectors), len(docs))
	}

	if err := b.ensureCollection(ctx, len(vectors[0])); err != nil {
		return err
	}

	points := make([]*qdrant.PointStruct, 0, len(docs))
	for i, doc := range docs {
		payload := map[string]*qdrant.Value{
			"url":         qdrant.NewValueString(doc.URL),
			"site":        qdrant.NewValueString(doc.Site),
			"name":        qdrant.NewValueString(doc.Name),
			"schema_json": qdrant.NewValueString(string(doc.Schema)),
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewID(pointIDForURL(doc.URL)),
			Vectors: qdrant.NewVectors(vectors[i]...),
			Payload: payload,
		})
	}

	_, err = b.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: b.collection,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert points: %w", err)
	}
	return nil
}

func (b *QdrantBackend) DeleteDocumentsBySite(ctx context.Context, site string) error {
	_, err := b.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: b.collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: siteFilter(site),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete by site: %w", err)
	}
	return nil
}

func (b *QdrantBackend) ensureCollection(ctx context.Context, dimension int) error {
	exists, err := b.client.CollectionExists(ctx, b.collection)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if exists {
		return nil
	}

	err = b.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: b.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	return nil
}

func (b *QdrantBackend) Close() error {
	return b.client.Close()
}

func pointIDForURL(url string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(url)).String()
}

func siteFilter(site string) *qdrant.Filter {
	return &qdrant.Filter{
		Must: []*qdrant.Condition{
			qdrant.NewMatch("site", site),
		},
	}
}

func payloadToMap(payload map[string]*qdrant.Value) map[string]any {
	out := make(map[string]any, len(payload))
	for key, value := range payload {
		switch v := value.Kind.(type) {
		case *qdrant.Value_StringValue:
			out[key] = v.StringValue
		case *qdrant.Value_IntegerValue:
			out[key] = v.IntegerValue
		case *qdrant.Value_DoubleValue:
			out[key] = v.DoubleValue
		case *qdrant.Value_BoolValue:
			out[key] = v.BoolValue
		default:
			out[key] = value
		}
	}
	return out
}

var _ Backend = (*QdrantBackend)(nil)
