package schemaorg

import (
	"fmt"
	"strings"
)

// addressKeys are the schema-object fields that may carry an address.
var addressKeys = []string{"address", "location", "streetAddress", "postalAddress"}

// ExtractAddress returns a flattened address string from a schema object,
// or "" when the object carries none. Structured PostalAddress objects are
// flattened to a comma-separated string.
func ExtractAddress(schema map[string]any) string {
	if schema == nil {
		return ""
	}
	for _, key := range addressKeys {
		if addr := flattenAddress(schema[key]); addr != "" {
			return addr
		}
	}
	return ""
}

func flattenAddress(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case map[string]any:
		// A location object may nest its address one level down.
		if nested := flattenAddress(val["address"]); nested != "" {
			return nested
		}
		parts := make([]string, 0, 4)
		for _, key := range []string{"streetAddress", "addressLocality", "addressRegion", "postalCode", "addressCountry"} {
			if s, ok := val[key].(string); ok && s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	case []any:
		for _, item := range val {
			if addr := flattenAddress(item); addr != "" {
				return addr
			}
		}
		return ""
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", val))
	}
}
