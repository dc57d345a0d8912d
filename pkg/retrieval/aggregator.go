package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/schemaseek/schemaseek/pkg/config"
	"github.com/schemaseek/schemaseek/pkg/embedders"
	"github.com/schemaseek/schemaseek/pkg/schemaorg"
)

// endpoint pairs a backend with its configured name.
type endpoint struct {
	name    string
	backend Backend
}

// Aggregator fans queries out over all enabled backends.
type Aggregator struct {
	endpoints     []endpoint // in canonical (sorted-name) config order
	writeEndpoint string
}

// NewAggregator builds backends for every enabled endpoint. A backend that
// fails to construct is a startup error, not a runtime one.
func NewAggregator(cfg *config.RetrievalConfig, embedder embedders.Embedder) (*Aggregator, error) {
	agg := &Aggregator{writeEndpoint: cfg.WriteEndpoint}

	for _, name := range cfg.EnabledEndpoints() {
		epCfg, err := cfg.Endpoint(name)
		if err != nil {
			return nil, err
		}
		backend, err := NewBackend(epCfg, embedder)
		if err != nil {
			return nil, fmt.Errorf("endpoint %q: %w", name, err)
		}
		agg.endpoints = append(agg.endpoints, endpoint{name: name, backend: backend})
	}

	return agg, nil
}

// NewAggregatorFromBackends wires pre-built backends; used by tests and by
// callers that manage backend lifecycle themselves.
func NewAggregatorFromBackends(writeEndpoint string, named map[string]Backend, order []string) *Aggregator {
	agg := &Aggregator{writeEndpoint: writeEndpoint}
	for _, name := range order {
		if b, ok := named[name]; ok {
			agg.endpoints = append(agg.endpoints, endpoint{name: name, backend: b})
		}
	}
	return agg
}

// Search queries every enabled backend in parallel and returns the
// URL-deduplicated union. Per-endpoint failures are logged and excluded; a
// total failure returns an empty list, not an error.
func (a *Aggregator) Search(ctx context.Context, query, site string, limit int) []schemaorg.RetrievedItem {
	if limit <= 0 {
		limit = DefaultLimit
	}
	site = NormalizeSite(site)

	perEndpoint := make([][]schemaorg.RetrievedItem, len(a.endpoints))

	g, gctx := errgroup.WithContext(ctx)
	for i, ep := range a.endpoints {
		g.Go(func() error {
			items, err := ep.backend.Search(gctx, query, site, limit)
			if err != nil {
				slog.Warn("retrieval endpoint failed", "endpoint", ep.name, "error", err)
				return nil
			}
			perEndpoint[i] = items
			return nil
		})
	}
	_ = g.Wait()

	// Concatenate in endpoint order, first URL occurrence wins.
	seen := make(map[string]bool)
	var out []schemaorg.RetrievedItem
	for _, items := range perEndpoint {
		for _, item := range items {
			if item.URL == "" || seen[item.URL] {
				continue
			}
			seen[item.URL] = true
			out = append(out, item)
		}
	}

	return out
}

// SearchEndpoint scopes a query to one named backend. An empty name or an
// unknown name falls back to the full fan-out, so a stale override cannot
// blank out a request.
func (a *Aggregator) SearchEndpoint(ctx context.Context, query, site string, limit int, endpointName string) []schemaorg.RetrievedItem {
	if endpointName == "" {
		return a.Search(ctx, query, site, limit)
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	for _, ep := range a.endpoints {
		if ep.name != endpointName {
			continue
		}
		items, err := ep.backend.Search(ctx, query, NormalizeSite(site), limit)
		if err != nil {
			slog.Warn("retrieval endpoint failed", "endpoint", ep.name, "error", err)
			return nil
		}
		seen := make(map[string]bool)
		var out []schemaorg.RetrievedItem
		for _, item := range items {
			if item.URL == "" || seen[item.URL] {
				continue
			}
			seen[item.URL] = true
			out = append(out, item)
		}
		return out
	}

	slog.Warn("retrieval endpoint not found, using all endpoints", "endpoint", endpointName)
	return a.Search(ctx, query, site, limit)
}

// SearchAllSites is Search with cross-site scope.
func (a *Aggregator) SearchAllSites(ctx context.Context, query string, limit int) []schemaorg.RetrievedItem {
	return a.Search(ctx, query, SiteAll, limit)
}

// SearchByURL queries the write endpoint first, then the remaining
// endpoints until one returns a hit. Returns nil when no backend knows the
// URL.
func (a *Aggregator) SearchByURL(ctx context.Context, url string) *schemaorg.RetrievedItem {
	for _, ep := range a.orderedForLookup() {
		item, err := ep.backend.SearchByURL(ctx, url)
		if err != nil {
			slog.Warn("search_by_url failed on endpoint", "endpoint", ep.name, "error", err)
			continue
		}
		if item != nil {
			return item
		}
	}
	return nil
}

// orderedForLookup moves the write endpoint to the front.
func (a *Aggregator) orderedForLookup() []endpoint {
	if a.writeEndpoint == "" {
		return a.endpoints
	}
	ordered := make([]endpoint, 0, len(a.endpoints))
	for _, ep := range a.endpoints {
		if ep.name == a.writeEndpoint {
			ordered = append(ordered, ep)
		}
	}
	for _, ep := range a.endpoints {
		if ep.name != a.writeEndpoint {
			ordered = append(ordered, ep)
		}
	}
	return ordered
}

// GetSites returns the sorted union of sites reported by each backend.
// Backends without enumeration support contribute nothing.
func (a *Aggregator) GetSites(ctx context.Context) []string {
	siteSet := make(map[string]bool)
	results := make([][]string, len(a.endpoints))

	g, gctx := errgroup.WithContext(ctx)
	for i, ep := range a.endpoints {
		g.Go(func() error {
			sites, err := ep.backend.GetSites(gctx)
			if err != nil {
				if err != ErrUnsupported {
					slog.Warn("get_sites failed on endpoint", "endpoint", ep.name, "error", err)
				}
				return nil
			}
			results[i] = sites
			return nil
		})
	}
	_ = g.Wait()

	for _, sites := range results {
		for _, s := range sites {
			siteSet[s] = true
		}
	}

	sites := make([]string, 0, len(siteSet))
	for s := range siteSet {
		sites = append(sites, s)
	}
	sort.Strings(sites)
	return sites
}

// UploadDocuments writes documents to the named endpoint, defaulting to
// the configured write endpoint.
func (a *Aggregator) UploadDocuments(ctx context.Context, docs []Document, endpointName string) error {
	ep, err := a.resolveWriteTarget(endpointName)
	if err != nil {
		return err
	}
	return ep.backend.UploadDocuments(ctx, docs)
}

// DeleteDocumentsBySite removes a site's documents from the named
// endpoint, defaulting to the configured write endpoint.
func (a *Aggregator) DeleteDocumentsBySite(ctx context.Context, site, endpointName string) error {
	ep, err := a.resolveWriteTarget(endpointName)
	if err != nil {
		return err
	}
	return ep.backend.DeleteDocumentsBySite(ctx, site)
}

func (a *Aggregator) resolveWriteTarget(name string) (*endpoint, error) {
	if name == "" {
		name = a.writeEndpoint
	}
	if name == "" {
		return nil, fmt.Errorf("no write endpoint configured")
	}
	for i := range a.endpoints {
		if a.endpoints[i].name == name {
			return &a.endpoints[i], nil
		}
	}
	return nil, fmt.Errorf("retrieval endpoint %q not found or not enabled", name)
}

// Close closes all backends.
func (a *Aggregator) Close() error {
	for _, ep := range a.endpoints {
		if err := ep.backend.Close(); err != nil {
			slog.Warn("failed to close retrieval backend", "endpoint", ep.name, "error", err)
		}
	}
	return nil
}
