package pipeline

import (
	"context"
	"log/slog"
	"sync"

	"github.com/schemaseek/schemaseek/pkg/config"
	"github.com/schemaseek/schemaseek/pkg/llms"
	"github.com/schemaseek/schemaseek/pkg/prompts"
	"github.com/schemaseek/schemaseek/pkg/retrieval"
	"github.com/schemaseek/schemaseek/pkg/state"
)

// Precheck prompt names.
const (
	promptDetectItemType  = "DetectItemTypePrompt"
	promptDetectMultiType = "DetectMultiItemTypeQueryPrompt"
	promptDetectQueryType = "DetectQueryTypePrompt"
	promptIrrelevance     = "DetectIrrelevantQueryPrompt"
	promptMemory          = "DetectMemoryRequestPrompt"
	promptRequiredInfo    = "RequiredInfoPrompt"
	promptQueryRewrite    = "QueryRewritePrompt"
)

// runPrechecks launches every enabled precheck step concurrently and
// waits for all of them. A step failure is logged and the step completes
// with its safe default; it never fails the request.
func (p *Pipeline) runPrechecks(ctx context.Context, st *state.RequestState, snd *sender, rk *ranker) {
	gates := p.cfg.App.Prechecks
	steps := []struct {
		name string
		gate *bool
		fn   func(context.Context)
	}{
		{state.StepDetectItemType, gates.DetectItemType, func(ctx context.Context) { p.detectItemType(ctx, st) }},
		{state.StepDetectMultiItemTypeQuery, gates.DetectMultiType, func(ctx context.Context) { p.detectMultiType(ctx, st) }},
		{state.StepDetectQueryType, gates.DetectQueryType, func(ctx context.Context) { p.detectQueryType(ctx, st) }},
		{state.StepDecon, gates.Decontextualize, func(ctx context.Context) { p.decontextualize(ctx, st, snd) }},
		{state.StepRelevance, gates.Relevance, func(ctx context.Context) { p.checkRelevance(ctx, st, snd) }},
		{state.StepMemory, gates.Memory, func(ctx context.Context) { p.checkMemory(ctx, st, snd) }},
		{state.StepRequiredInfo, gates.RequiredInfo, func(ctx context.Context) { p.checkRequiredInfo(ctx, st, snd) }},
		{state.StepQueryRewrite, gates.QueryRewrite, func(ctx context.Context) { p.rewriteQuery(ctx, st, snd) }},
		{state.StepToolSelector, gates.ToolRouting, func(ctx context.Context) { p.routeTools(ctx, st, snd) }},
		{state.StepFastTrack, gates.FastTrack, func(ctx context.Context) { p.runFastTrack(ctx, st, rk) }},
	}

	// Register every step before launching any, so the pre-checks-done
	// event cannot fire while later steps are still unstarted.
	var enabled []int
	for i, step := range steps {
		if !config.PrecheckEnabled(step.gate) {
			continue
		}
		st.StartStep(step.name)
		enabled = append(enabled, i)
	}

	if len(enabled) == 0 {
		st.PreChecksDone.Set()
		st.DeconDone.Set()
		st.ToolRouterDone.Set()
		return
	}

	// A disabled Decon or ToolSelector must not strand their waiters.
	if !config.PrecheckEnabled(gates.Decontextualize) {
		st.SetDecontextualization(st.Request.DecontextualizedQuery, false)
		st.DeconDone.Set()
	}
	if !config.PrecheckEnabled(gates.ToolRouting) ||
		st.GenerateMode == state.ModeSummarize || st.GenerateMode == state.ModeGenerate {
		st.ToolRouterDone.Set()
	}

	var wg sync.WaitGroup
	for _, i := range enabled {
		step := steps[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					slog.Error("precheck step panicked", "step", step.name, "panic", rec)
				}
				st.FinishStep(step.name)
				st.AbortFastTrackIfNeeded()
			}()
			step.fn(ctx)
		}()
	}
	wg.Wait()
}

// askPrompt resolves and runs a named prompt, returning nil when the
// prompt is missing or the call produced nothing.
func (p *Pipeline) askPrompt(ctx context.Context, st *state.RequestState, name string, vars prompts.Vars, tier llms.Tier) map[string]any {
	prompt, err := p.prompts.Find(st.Site, st.ItemType(), name)
	if err != nil || prompt == nil {
		slog.Warn("prompt not found, skipping step", "prompt", name)
		return nil
	}

	resp, err := p.llm.Ask(ctx, prompts.Expand(prompt.Template, vars), prompt.Schema,
		p.askOptions(st, tier))
	if err != nil || len(resp) == 0 {
		return nil
	}
	return resp
}

func (p *Pipeline) detectItemType(ctx context.Context, st *state.RequestState) {
	resp := p.askPrompt(ctx, st, promptDetectItemType, p.baseVars(st), llms.TierLow)
	if resp == nil {
		return
	}
	if itemType := llms.Str(resp, "item_type"); itemType != "" {
		st.SetItemType(itemType)
	}
}

func (p *Pipeline) detectMultiType(ctx context.Context, st *state.RequestState) {
	resp := p.askPrompt(ctx, st, promptDetectMultiType, p.baseVars(st), llms.TierLow)
	if resp == nil {
		return
	}
	if multi, ok := llms.Bool(resp, "is_multi_item_type_query"); ok && multi {
		slog.Debug("query spans multiple item types", "query", st.Query)
	}
}

func (p *Pipeline) detectQueryType(ctx context.Context, st *state.RequestState) {
	resp := p.askPrompt(ctx, st, promptDetectQueryType, p.baseVars(st), llms.TierLow)
	if resp == nil {
		return
	}
	if qt := llms.Str(resp, "query_type"); qt != "" {
		slog.Debug("query type detected", "query_type", qt)
	}
}

// checkRelevance decides whether the query is on-topic for the site. An
// irrelevant query ends the request after one explanatory message.
func (p *Pipeline) checkRelevance(ctx context.Context, st *state.RequestState, snd *sender) {
	resp := p.askPrompt(ctx, st, promptIrrelevance, p.baseVars(st), llms.TierLow)
	if resp == nil {
		return
	}

	irrelevant, ok := llms.Bool(resp, "site_is_irrelevant_to_query")
	if !ok || !irrelevant {
		return
	}

	msg := NewMessage(MsgSiteIrrelevant, st.QueryID)
	msg["message"] = llms.Str(resp, "explanation_for_irrelevance")
	snd.Send(msg)

	st.SetQueryIsIrrelevant(true)
	st.MarkQueryDone()
}

func (p *Pipeline) checkMemory(ctx context.Context, st *state.RequestState, snd *sender) {
	resp := p.askPrompt(ctx, st, promptMemory, p.baseVars(st), llms.TierLow)
	if resp == nil {
		return
	}

	if isMemory, ok := llms.Bool(resp, "is_memory_request"); ok && isMemory {
		msg := NewMessage(MsgRemember, st.QueryID)
		msg["item_to_remember"] = llms.Str(resp, "memory_request")
		snd.Send(msg)
	}
}

// checkRequiredInfo verifies the query carries enough information to be
// answerable; when it does not, the user gets one clarifying question
// and the request ends.
func (p *Pipeline) checkRequiredInfo(ctx context.Context, st *state.RequestState, snd *sender) {
	resp := p.askPrompt(ctx, st, promptRequiredInfo, p.baseVars(st), llms.TierLow)
	if resp == nil {
		return
	}

	found, ok := llms.Bool(resp, "required_info_found")
	if !ok || found {
		return
	}

	msg := NewMessage(MsgAskUser, st.QueryID)
	msg["message"] = llms.Str(resp, "user_question")
	snd.Send(msg)

	st.SetRequiredInfoFound(false)
	st.MarkQueryDone()
}

func (p *Pipeline) rewriteQuery(ctx context.Context, st *state.RequestState, snd *sender) {
	resp := p.askPrompt(ctx, st, promptQueryRewrite, p.baseVars(st), llms.TierLow)
	if resp == nil {
		return
	}

	rewrites := llms.StrSlice(resp, "rewritten_queries")
	if len(rewrites) == 0 {
		return
	}
	st.SetRewrittenQueries(rewrites)

	msg := NewMessage(MsgQueryRewrite, st.QueryID)
	msg["rewritten_queries"] = st.RewrittenQueries()
	snd.Send(msg)
}

// runFastTrack retrieves for the raw query in parallel with the other
// precheck steps and starts ranking before they all finish, as long as
// nothing disqualifies the shortcut.
func (p *Pipeline) runFastTrack(ctx context.Context, st *state.RequestState, rk *ranker) {
	if !st.FastTrackEligible() {
		return
	}

	items := p.search(ctx, st, st.Query, retrieval.DefaultLimit)
	if len(items) == 0 {
		return
	}
	st.SetFinalRetrievedItems(items)

	// Decide the track from how far decontextualization has come.
	track := state.TrackFastTrack
	if st.DeconDone.IsSet() {
		if st.RequiresDecontextualization() {
			st.AbortFastTrack.Set()
			return
		}
		track = state.TrackPostDecontextualization
	}

	if st.AbortFastTrackIfNeeded() {
		return
	}

	rk.Run(ctx, track, items, st.Query)
}
