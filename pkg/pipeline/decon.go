package pipeline

import (
	"context"
	"log/slog"

	"github.com/schemaseek/schemaseek/pkg/llms"
	"github.com/schemaseek/schemaseek/pkg/prompts"
	"github.com/schemaseek/schemaseek/pkg/state"
)

// Decontextualizer selects how a follow-up query is rewritten into a
// standalone one.
type Decontextualizer int

const (
	DeconNoOp Decontextualizer = iota
	DeconPrevQueries
	DeconContextURL
	DeconFull
)

// Prompt names per variant.
const (
	promptDeconPrev    = "PrevQueryDecontextualizePrompt"
	promptDeconContext = "DecontextualizeContextPrompt"
	promptDeconFull    = "FullDecontextualizePrompt"
)

// SelectDecontextualizer is a pure function of the request inputs.
func SelectDecontextualizer(prevQueries []string, contextURL, providedDecon string) Decontextualizer {
	if providedDecon != "" {
		return DeconNoOp
	}
	switch {
	case len(prevQueries) == 0 && contextURL == "":
		return DeconNoOp
	case contextURL == "":
		return DeconPrevQueries
	case len(prevQueries) == 0:
		return DeconContextURL
	default:
		return DeconFull
	}
}

// decontextualize runs the selected variant and records the outcome on
// the request state. It never fails the request: a missing prompt or an
// empty LLM response degrades to "no rewrite needed".
func (p *Pipeline) decontextualize(ctx context.Context, st *state.RequestState, snd *sender) {
	variant := SelectDecontextualizer(st.PrevQueries, st.ContextURL, st.Request.DecontextualizedQuery)

	if variant == DeconNoOp {
		st.SetDecontextualization(st.Request.DecontextualizedQuery, false)
		return
	}

	vars := p.baseVars(st)
	vars.Query = st.Query

	var promptName string
	switch variant {
	case DeconPrevQueries:
		promptName = promptDeconPrev
	case DeconContextURL:
		promptName = promptDeconContext
		p.fillContextFromURL(ctx, st, &vars)
	case DeconFull:
		promptName = promptDeconFull
		p.fillContextFromURL(ctx, st, &vars)
	}

	prompt, err := p.prompts.Find(st.Site, st.ItemType(), promptName)
	if err != nil || prompt == nil {
		slog.Warn("decontextualization prompt not found, using raw query", "prompt", promptName)
		st.SetDecontextualization("", false)
		return
	}

	resp, err := p.llm.Ask(ctx, prompts.Expand(prompt.Template, vars), prompt.Schema,
		p.askOptions(st, llms.TierHigh))
	if err != nil || len(resp) == 0 {
		st.SetDecontextualization("", false)
		return
	}

	required, _ := llms.Bool(resp, "requires_decontextualization")
	rewritten := llms.Str(resp, "decontextualized_query")
	if rewritten == "" {
		required = false
	}
	st.SetDecontextualization(rewritten, required)

	if required {
		msg := NewMessage(MsgDecontextualizedQuery, st.QueryID)
		msg["decontextualized_query"] = rewritten
		snd.Send(msg)
	}
}

// fillContextFromURL fetches the context item and exposes its schema as
// the context description for the prompt.
func (p *Pipeline) fillContextFromURL(ctx context.Context, st *state.RequestState, vars *prompts.Vars) {
	if vars.ContextDescription != "" {
		return
	}
	item := p.retriever.SearchByURL(ctx, st.ContextURL)
	if item == nil {
		slog.Warn("context item not found", "url", st.ContextURL)
		return
	}
	vars.ContextDescription = string(item.Schema)
}
