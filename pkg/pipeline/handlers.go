package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/schemaseek/schemaseek/pkg/llms"
	"github.com/schemaseek/schemaseek/pkg/prompts"
	"github.com/schemaseek/schemaseek/pkg/retrieval"
	"github.com/schemaseek/schemaseek/pkg/schemaorg"
	"github.com/schemaseek/schemaseek/pkg/state"
)

// Item-matching thresholds for the item_details handler.
const (
	itemMatchImmediate = 75 // strictly above: send right away
	itemMatchBuffered  = 60 // 60..75 inclusive: hold as fallback
)

// Handler prompt names.
const (
	promptItemMatching       = "ItemMatchingPrompt"
	promptCompareItems       = "CompareItemsPrompt"
	promptCompareItemDetails = "CompareItemDetailsPrompt"
	promptSubstitution       = "RecipeSubstitutionPrompt"
)

// dispatch routes the request to the handler chosen by the tool router
// and reports whether the ranking path ran (post-ranking only applies to
// ranked answers). Summarize and generate modes skip routing and always
// search.
func (p *Pipeline) dispatch(ctx context.Context, st *state.RequestState, snd *sender, rk *ranker) bool {
	name := searchToolName
	var params map[string]any

	if st.GenerateMode != state.ModeSummarize && st.GenerateMode != state.ModeGenerate {
		if err := st.WaitForToolRouting(ctx); err != nil {
			return false
		}
		if results := st.ToolRoutingResults(); len(results) > 0 && results[0].Tool != nil {
			name = results[0].Tool.Name
			params = results[0].Result
		}
	}

	switch name {
	case "item_details":
		p.handleItemDetails(ctx, st, snd, params)
		return false
	case "compare_items":
		p.handleCompareItems(ctx, st, snd, params)
		return false
	case "recipe_substitution":
		p.handleRecipeSubstitution(ctx, st, snd, params)
		return false
	case "accompaniment":
		p.handleAccompaniment(ctx, st, rk, params)
		return true
	case searchToolName:
		p.handleSearch(ctx, st, rk)
		return true
	default:
		slog.Warn("unknown tool, falling back to search", "tool", name)
		p.handleSearch(ctx, st, rk)
		return true
	}
}

// handleSearch runs the regular-track ranker. When the fast track
// already streamed results this pass is a no-op for the sent items, and
// a full no-op when nothing new is retrievable.
func (p *Pipeline) handleSearch(ctx context.Context, st *state.RequestState, rk *ranker) {
	if st.FastTrackWorked() {
		return
	}
	if st.WaitForDecontextualization(ctx) != nil {
		return
	}

	query := st.EffectiveQuery()
	items := st.FinalRetrievedItems()
	if len(items) == 0 || st.RequiresDecontextualization() {
		items = p.search(ctx, st, query, retrieval.DefaultLimit)
		st.SetFinalRetrievedItems(items)
	}

	rk.Run(ctx, state.TrackRegular, items, query)
}

// handleItemDetails finds the single item the user asked about and sends
// its details. Exactly one item_details message goes out: the first
// match above the immediate threshold, or failing that the best buffered
// candidate.
func (p *Pipeline) handleItemDetails(ctx context.Context, st *state.RequestState, snd *sender, params map[string]any) {
	itemName := llms.Str(params, "item_name")
	itemURL := llms.Str(params, "item_url")
	detailsRequested := llms.Str(params, "details_requested")

	var candidates []schemaorg.RetrievedItem
	if itemURL != "" {
		if item := p.retriever.SearchByURL(ctx, itemURL); item != nil {
			candidates = []schemaorg.RetrievedItem{*item}
		}
	} else {
		query := itemName
		if query == "" {
			query = st.EffectiveQuery()
		}
		candidates = p.search(ctx, st, query, retrieval.DefaultLimit)
	}
	if len(candidates) == 0 {
		snd.Send(NewMessage(MsgNoResults, st.QueryID))
		return
	}

	prompt, err := p.prompts.Find(st.Site, st.ItemType(), promptItemMatching)
	if err != nil || prompt == nil {
		slog.Warn("item matching prompt not found, skipping handler")
		return
	}

	matchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type match struct {
		item    schemaorg.RetrievedItem
		score   int
		details string
	}

	var (
		mu       sync.Mutex
		sent     bool
		buffered []match
	)

	sendDetails := func(m match) {
		msg := NewMessage(MsgItemDetails, st.QueryID)
		msg["url"] = m.item.URL
		msg["name"] = m.item.Name
		msg["site"] = m.item.Site
		msg["details"] = m.details
		msg["schema_object"] = m.item.Schema
		snd.Send(msg)
	}

	var wg sync.WaitGroup
	for _, candidate := range candidates {
		wg.Add(1)
		go func(candidate schemaorg.RetrievedItem) {
			defer wg.Done()

			vars := p.baseVars(st)
			vars.ItemName = itemName
			vars.DetailsRequested = detailsRequested
			vars.ItemDescription = string(candidate.Schema)

			resp, err := p.llm.Ask(matchCtx, prompts.Expand(prompt.Template, vars), prompt.Schema,
				p.askOptions(st, llms.TierLow))
			if err != nil || len(resp) == 0 {
				return
			}
			score, ok := llms.Int(resp, "score")
			if !ok {
				return
			}

			m := match{item: candidate, score: score, details: llms.Str(resp, "description")}

			if score > itemMatchImmediate {
				mu.Lock()
				first := !sent
				sent = true
				mu.Unlock()
				if first {
					sendDetails(m)
					cancel()
				}
				return
			}
			if score >= itemMatchBuffered {
				mu.Lock()
				buffered = append(buffered, m)
				mu.Unlock()
			}
		}(candidate)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if sent || len(buffered) == 0 {
		return
	}
	best := buffered[0]
	for _, m := range buffered[1:] {
		if m.score > best.score {
			best = m
		}
	}
	sendDetails(best)
}

// handleCompareItems resolves two items and emits one comparison.
func (p *Pipeline) handleCompareItems(ctx context.Context, st *state.RequestState, snd *sender, params map[string]any) {
	detailsRequested := llms.Str(params, "details_requested")

	var item1, item2 *schemaorg.RetrievedItem
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		item1 = p.resolveItem(ctx, st, llms.Str(params, "item1_name"), llms.Str(params, "item1_url"))
	}()
	go func() {
		defer wg.Done()
		item2 = p.resolveItem(ctx, st, llms.Str(params, "item2_name"), llms.Str(params, "item2_url"))
	}()
	wg.Wait()

	if item1 == nil || item2 == nil {
		snd.Send(NewMessage(MsgNoResults, st.QueryID))
		return
	}

	promptName := promptCompareItems
	if detailsRequested != "" {
		promptName = promptCompareItemDetails
	}
	prompt, err := p.prompts.Find(st.Site, st.ItemType(), promptName)
	if err != nil || prompt == nil {
		slog.Warn("comparison prompt not found, skipping handler", "prompt", promptName)
		return
	}

	vars := p.baseVars(st)
	vars.DetailsRequested = detailsRequested
	vars.ItemDescription = fmt.Sprintf("Item 1: %s\n\nItem 2: %s", item1.Schema, item2.Schema)

	resp, err := p.llm.Ask(ctx, prompts.Expand(prompt.Template, vars), prompt.Schema,
		p.askOptions(st, llms.TierHigh))
	if err != nil || len(resp) == 0 {
		return
	}

	msg := NewMessage(MsgCompareItems, st.QueryID)
	msg["comparison"] = llms.Str(resp, "comparison")
	msg["item1"] = map[string]any{"url": item1.URL, "name": item1.Name, "site": item1.Site}
	msg["item2"] = map[string]any{"url": item2.URL, "name": item2.Name, "site": item2.Site}
	snd.Send(msg)
}

// resolveItem fetches by URL when one is given, otherwise searches by
// name and picks the best LLM match above the buffered threshold.
func (p *Pipeline) resolveItem(ctx context.Context, st *state.RequestState, name, url string) *schemaorg.RetrievedItem {
	if url != "" {
		return p.retriever.SearchByURL(ctx, url)
	}
	if name == "" {
		return nil
	}

	candidates := p.search(ctx, st, name, retrieval.DefaultLimit)
	if len(candidates) == 0 {
		return nil
	}

	prompt, err := p.prompts.Find(st.Site, st.ItemType(), promptItemMatching)
	if err != nil || prompt == nil {
		// Without a matching prompt, trust the retriever's top hit.
		return &candidates[0]
	}

	type match struct {
		item  schemaorg.RetrievedItem
		score int
	}
	results := make([]match, len(candidates))

	var wg sync.WaitGroup
	for i, candidate := range candidates {
		wg.Add(1)
		go func(i int, candidate schemaorg.RetrievedItem) {
			defer wg.Done()

			vars := p.baseVars(st)
			vars.ItemName = name
			vars.ItemDescription = string(candidate.Schema)

			resp, err := p.llm.Ask(ctx, prompts.Expand(prompt.Template, vars), prompt.Schema,
				p.askOptions(st, llms.TierLow))
			if err != nil || len(resp) == 0 {
				return
			}
			if score, ok := llms.Int(resp, "score"); ok {
				results[i] = match{item: candidate, score: score}
			}
		}(i, candidate)
	}
	wg.Wait()

	best := match{score: itemMatchBuffered - 1}
	found := false
	for _, m := range results {
		if m.score > best.score {
			best = m
			found = true
		}
	}
	if !found {
		return nil
	}
	return &best.item
}

// handleAccompaniment ranks items that pair well with the named item by
// substituting the ranking query.
func (p *Pipeline) handleAccompaniment(ctx context.Context, st *state.RequestState, rk *ranker, params map[string]any) {
	mainItem := llms.Str(params, "item_name")
	searchQuery := llms.Str(params, "search_query")
	if searchQuery == "" {
		searchQuery = st.EffectiveQuery()
	}

	query := searchQuery
	if mainItem != "" {
		query = fmt.Sprintf("%s that would go well with %s", searchQuery, mainItem)
	}

	items := p.search(ctx, st, query, retrieval.DefaultLimit)
	st.SetFinalRetrievedItems(items)
	rk.Run(ctx, state.TrackRegular, items, query)
}

// handleRecipeSubstitution searches for matching recipes and asks the
// LLM whether each needs substitutions for the stated constraint.
func (p *Pipeline) handleRecipeSubstitution(ctx context.Context, st *state.RequestState, snd *sender, params map[string]any) {
	constraint := llms.Str(params, "dietary_need")
	if constraint == "" {
		constraint = llms.Str(params, "unavailable_ingredient")
	}

	recipes := p.search(ctx, st, st.EffectiveQuery(), retrieval.DefaultLimit)
	if len(recipes) == 0 {
		snd.Send(NewMessage(MsgNoResults, st.QueryID))
		return
	}
	if len(recipes) > 5 {
		recipes = recipes[:5]
	}

	prompt, err := p.prompts.Find(st.Site, st.ItemType(), promptSubstitution)
	if err != nil || prompt == nil {
		slog.Warn("substitution prompt not found, skipping handler")
		return
	}

	type suggestion struct {
		item schemaorg.RetrievedItem
		subs []string
	}
	results := make([]*suggestion, len(recipes))

	var wg sync.WaitGroup
	for i, recipe := range recipes {
		wg.Add(1)
		go func(i int, recipe schemaorg.RetrievedItem) {
			defer wg.Done()

			vars := p.baseVars(st)
			vars.DetailsRequested = constraint
			vars.ItemDescription = string(recipe.Schema)

			resp, err := p.llm.Ask(ctx, prompts.Expand(prompt.Template, vars), prompt.Schema,
				p.askOptions(st, llms.TierHigh))
			if err != nil || len(resp) == 0 {
				return
			}
			if needs, ok := llms.Bool(resp, "needs_substitution"); ok && needs {
				results[i] = &suggestion{item: recipe, subs: llms.StrSlice(resp, "substitutions")}
			}
		}(i, recipe)
	}
	wg.Wait()

	var suggestions []map[string]any
	for _, s := range results {
		if s == nil {
			continue
		}
		suggestions = append(suggestions, map[string]any{
			"url":           s.item.URL,
			"name":          s.item.Name,
			"site":          s.item.Site,
			"substitutions": s.subs,
		})
	}

	msg := NewMessage(MsgSubstitution, st.QueryID)
	if len(suggestions) > 0 {
		msg["suggestions"] = suggestions
	} else {
		msg["no_substitution_needed"] = true
		var items []map[string]any
		for _, recipe := range recipes {
			items = append(items, map[string]any{
				"url": recipe.URL, "name": recipe.Name, "site": recipe.Site,
			})
		}
		msg["items"] = items
	}
	snd.Send(msg)
}
