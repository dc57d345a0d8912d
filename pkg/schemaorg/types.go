package schemaorg

import "strings"

// typeParents maps schema.org class names to their parent class, as far as
// the pipeline needs. Anything unknown falls back to Item directly.
var typeParents = map[string]string{
	"Recipe":        "Item",
	"Movie":         "Item",
	"TVSeries":      "Item",
	"Product":       "Item",
	"Restaurant":    "LocalBusiness",
	"LocalBusiness": "Place",
	"Place":         "Item",
	"Event":         "Item",
	"Podcast":       "Item",
	"Book":          "Item",
	"Course":        "Item",
	"Item":          "",
}

// QualifyType returns the namespaced form of a schema.org class name.
// Already-qualified names pass through unchanged.
func QualifyType(name string) string {
	if name == "" {
		return BaseItemType
	}
	if strings.Contains(name, "://") {
		return name
	}
	return Namespace + name
}

// LocalType strips the namespace from a qualified type name.
func LocalType(qualified string) string {
	if idx := strings.LastIndex(qualified, "/"); idx != -1 {
		return qualified[idx+1:]
	}
	return qualified
}

// TypeHierarchy returns the type and its ancestors, most specific first,
// always ending in the base Item type. Names may be namespaced or bare.
func TypeHierarchy(itemType string) []string {
	local := LocalType(itemType)
	if local == "" {
		local = "Item"
	}

	chain := []string{QualifyType(local)}
	seen := map[string]bool{local: true}

	for local != "Item" {
		parent, ok := typeParents[local]
		if !ok || parent == "" {
			parent = "Item"
		}
		if seen[parent] {
			break
		}
		seen[parent] = true
		chain = append(chain, QualifyType(parent))
		local = parent
	}

	return chain
}
