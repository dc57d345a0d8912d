package prompts

import (
	"log/slog"
	"strings"
)

// Vars carries the values templates may reference. Callers populate it
// from the current request before expansion.
type Vars struct {
	Query              string
	Site               string
	ItemType           string
	PreviousQueries    []string
	ContextURL         string
	ContextDescription string
	Answers            []string
	PrevAnswers        []string
	ToolDescription    string
	ToolsDescription   string
	TopK               string
	ItemName           string
	DetailsRequested   string
	ItemDescription    string
}

// Expand replaces {namespace.field} tokens with values from vars. The
// token set is a closed enum; anything else expands to the empty string
// with a warning so a typo in a template surfaces in logs rather than in
// an LLM answer.
func Expand(template string, vars Vars) string {
	var b strings.Builder
	b.Grow(len(template))

	for {
		start := strings.IndexByte(template, '{')
		if start < 0 {
			b.WriteString(template)
			break
		}
		end := strings.IndexByte(template[start:], '}')
		if end < 0 {
			b.WriteString(template)
			break
		}
		end += start

		token := template[start+1 : end]
		b.WriteString(template[:start])

		if value, ok := resolve(token, vars); ok {
			b.WriteString(value)
		} else {
			slog.Warn("unknown prompt variable", "token", token)
		}

		template = template[end+1:]
	}

	return b.String()
}

func resolve(token string, vars Vars) (string, bool) {
	switch token {
	case "request.query":
		return vars.Query, true
	case "request.site":
		return vars.Site, true
	case "site.itemType":
		return vars.ItemType, true
	case "request.previousQueries":
		return strings.Join(vars.PreviousQueries, ", "), true
	case "request.contextUrl":
		return vars.ContextURL, true
	case "request.contextDescription":
		return vars.ContextDescription, true
	case "request.answers":
		return strings.Join(vars.Answers, "\n"), true
	case "request.prevAnswers":
		return strings.Join(vars.PrevAnswers, "\n"), true
	case "tool.description":
		return vars.ToolDescription, true
	case "tools.description":
		return vars.ToolsDescription, true
	case "request.top_k":
		return vars.TopK, true
	case "request.item_name":
		return vars.ItemName, true
	case "request.details_requested":
		return vars.DetailsRequested, true
	case "item.description":
		return vars.ItemDescription, true
	}
	return "", false
}
