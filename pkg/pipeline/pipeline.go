package pipeline

import (
	"context"

	"github.com/schemaseek/schemaseek/pkg/config"
	"github.com/schemaseek/schemaseek/pkg/llms"
	"github.com/schemaseek/schemaseek/pkg/prompts"
	"github.com/schemaseek/schemaseek/pkg/schemaorg"
	"github.com/schemaseek/schemaseek/pkg/state"
	"github.com/schemaseek/schemaseek/pkg/tooldefs"
)

// Asker is the structured LLM capability the pipeline depends on.
// *llms.Service implements it; tests substitute fakes.
type Asker interface {
	Ask(ctx context.Context, prompt string, schema map[string]any, opts llms.AskOptions) (map[string]any, error)
}

// Retriever is the slice of the aggregator surface the pipeline uses.
type Retriever interface {
	Search(ctx context.Context, query, site string, limit int) []schemaorg.RetrievedItem
	SearchByURL(ctx context.Context, url string) *schemaorg.RetrievedItem
}

// EndpointSearcher is the optional retriever capability behind the
// development-mode db override: scoping a query to one named backend.
type EndpointSearcher interface {
	SearchEndpoint(ctx context.Context, query, site string, limit int, endpoint string) []schemaorg.RetrievedItem
}

// Pipeline holds the process-global collaborators shared by all
// requests.
type Pipeline struct {
	cfg       *config.Config
	prompts   *prompts.Registry
	tools     *tooldefs.Registry
	llm       Asker
	retriever Retriever
}

func New(cfg *config.Config, promptReg *prompts.Registry, toolReg *tooldefs.Registry, llm Asker, retriever Retriever) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		prompts:   promptReg,
		tools:     toolReg,
		llm:       llm,
		retriever: retriever,
	}
}

// Run executes the full pipeline for one request and blocks until every
// message has been emitted. The caller closes the stream afterwards.
func (p *Pipeline) Run(ctx context.Context, st *state.RequestState, emitter Emitter) {
	snd := newSender(st, emitter)
	rk := newRanker(p, st, snd)

	p.runPrechecks(ctx, st, snd, rk)

	if !st.PreCheckApproval(ctx) {
		return
	}

	ranked := p.dispatch(ctx, st, snd, rk)
	p.postRank(ctx, st, snd, ranked)
}

// search runs a retrieval for the request, honoring the development-mode
// db override when the retriever supports endpoint-scoped queries.
func (p *Pipeline) search(ctx context.Context, st *state.RequestState, query string, limit int) []schemaorg.RetrievedItem {
	if st.DB != "" {
		if es, ok := p.retriever.(EndpointSearcher); ok {
			return es.SearchEndpoint(ctx, query, st.Site, limit, st.DB)
		}
	}
	return p.retriever.Search(ctx, query, st.Site, limit)
}

// askOptions builds per-call options carrying any development-mode
// overrides from the request. An llm_level override replaces the tier
// the caller selected.
func (p *Pipeline) askOptions(st *state.RequestState, tier llms.Tier) llms.AskOptions {
	switch st.LLMLevel {
	case string(llms.TierLow):
		tier = llms.TierLow
	case string(llms.TierHigh):
		tier = llms.TierHigh
	}
	return llms.AskOptions{
		Tier:     tier,
		Endpoint: st.LLMProvider,
		Model:    st.Model,
	}
}

// baseVars seeds prompt variables from the request state.
func (p *Pipeline) baseVars(st *state.RequestState) prompts.Vars {
	return prompts.Vars{
		Query:              st.EffectiveQuery(),
		Site:               st.Site,
		ItemType:           st.ItemType(),
		PreviousQueries:    st.PrevQueries,
		ContextURL:         st.ContextURL,
		ContextDescription: st.ContextDescription,
	}
}
