// Package schemaorg carries the data model shared across the query
// pipeline: retrieved schema.org records, ranked answers, and helpers for
// working with schema.org class names and address fields.
package schemaorg

import "encoding/json"

// Namespace prefixes schema.org class names used for item types.
const Namespace = "http://schema.org/"

// BaseItemType is the root of the item-type hierarchy; prompts and tools
// registered against it apply to every type.
const BaseItemType = Namespace + "Item"

// RetrievedItem is a schema.org record returned by a retrieval backend.
// The URL is the item's identity across backends.
type RetrievedItem struct {
	URL string `json:"url"`

	// Schema is the raw schema.org JSON for the item. Handlers that need
	// fields parse it on demand.
	Schema json.RawMessage `json:"schema_object"`

	Name string `json:"name"`
	Site string `json:"site"`
}

// SchemaMap parses the item's schema object into a map. Returns nil when
// the schema is absent or malformed.
func (it *RetrievedItem) SchemaMap() map[string]any {
	if len(it.Schema) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(it.Schema, &m); err != nil {
		return nil
	}
	return m
}

// Ranking is the LLM's judgment of one item against the query.
type Ranking struct {
	Score       int    `json:"score"`
	Description string `json:"description"`
}

// RankedItem is a retrieved item with its ranking attached. Sent tracks
// whether the streaming ranker already transmitted the item this request.
type RankedItem struct {
	URL     string          `json:"url"`
	Site    string          `json:"site"`
	Name    string          `json:"name"`
	Ranking Ranking         `json:"ranking"`
	Schema  json.RawMessage `json:"schema_object"`
	Sent    bool            `json:"sent"`
}
