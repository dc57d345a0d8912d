package pipeline

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/schemaseek/schemaseek/pkg/llms"
	"github.com/schemaseek/schemaseek/pkg/prompts"
	"github.com/schemaseek/schemaseek/pkg/retrieval"
	"github.com/schemaseek/schemaseek/pkg/schemaorg"
	"github.com/schemaseek/schemaseek/pkg/state"
)

const promptRanking = "RankingPrompt"

// scoredItem pairs a ranked item with its completion sequence number,
// which breaks score ties (first completed wins).
type scoredItem struct {
	item schemaorg.RankedItem
	seq  int
}

// ranker streams scored items for one request. A single instance is
// shared between the fast track and the regular track so the sent
// bookkeeping spans both passes.
type ranker struct {
	p   *Pipeline
	st  *state.RequestState
	snd *sender

	mu              sync.Mutex
	scored          []scoredItem
	scoredURLs      map[string]bool
	sentURLs        map[string]bool
	sentScores      []int
	askingSitesSent bool
	seq             int
}

func newRanker(p *Pipeline, st *state.RequestState, snd *sender) *ranker {
	return &ranker{
		p:          p,
		st:         st,
		snd:        snd,
		scoredURLs: make(map[string]bool),
		sentURLs:   make(map[string]bool),
	}
}

// Run scores items against the query in parallel, streaming high scorers
// early, then flushes the final top results. The fast-track variants
// honor the abort event before every send; the regular track gates on
// the pre-checks-done event instead.
func (r *ranker) Run(ctx context.Context, track state.Track, items []schemaorg.RetrievedItem, query string) {
	if len(items) == 0 {
		return
	}

	r.maybeSendAskingSites(items)

	prompt, err := r.p.prompts.Find(r.st.Site, r.st.ItemType(), r.rankingPromptName())
	if err != nil || prompt == nil {
		slog.Warn("ranking prompt not found, skipping ranking", "prompt", r.rankingPromptName())
		return
	}

	tier := llms.TierLow
	if r.st.GenerateMode == state.ModeSummarize {
		tier = llms.TierHigh
	}

	var wg sync.WaitGroup
	for _, item := range items {
		if r.alreadyScored(item.URL) {
			continue
		}
		wg.Add(1)
		go func(item schemaorg.RetrievedItem) {
			defer wg.Done()
			r.scoreOne(ctx, track, prompt, tier, item, query)
		}(item)
	}
	wg.Wait()

	r.flush(ctx, track)
}

func (r *ranker) rankingPromptName() string {
	if r.st.GenerateMode == state.ModeGenerate {
		return "RankingPromptForGenerate"
	}
	return promptRanking
}

func (r *ranker) alreadyScored(url string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.scoredURLs[url] {
		return true
	}
	r.scoredURLs[url] = true
	return false
}

func (r *ranker) scoreOne(ctx context.Context, track state.Track, prompt *prompts.Prompt, tier llms.Tier, item schemaorg.RetrievedItem, query string) {
	vars := r.p.baseVars(r.st)
	vars.Query = query
	vars.ItemDescription = string(item.Schema)

	resp, err := r.p.llm.Ask(ctx, prompts.Expand(prompt.Template, vars), prompt.Schema,
		r.p.askOptions(r.st, tier))
	if err != nil || len(resp) == 0 {
		slog.Debug("ranking call yielded no result, skipping item", "url", item.URL)
		return
	}

	score, ok := llms.Int(resp, "score")
	if !ok {
		return
	}

	ranked := schemaorg.RankedItem{
		URL:    item.URL,
		Site:   item.Site,
		Name:   item.Name,
		Schema: item.Schema,
		Ranking: schemaorg.Ranking{
			Score:       score,
			Description: llms.Str(resp, "description"),
		},
	}

	r.mu.Lock()
	r.seq++
	r.scored = append(r.scored, scoredItem{item: ranked, seq: r.seq})
	earlySend := score > r.earlySendThreshold()
	r.mu.Unlock()

	if earlySend {
		r.trySend(ctx, track, []schemaorg.RankedItem{ranked})
	}
}

func (r *ranker) earlySendThreshold() int {
	if r.st.GenerateMode == state.ModeGenerate {
		return r.p.cfg.Ranking.GenerateEarlySendThreshold
	}
	return r.p.cfg.Ranking.EarlySendThreshold
}

// trySend applies the emission gates and streams a result batch. Items
// already sent or beaten by the cap rule are filtered out.
func (r *ranker) trySend(ctx context.Context, track state.Track, batch []schemaorg.RankedItem) {
	if track == state.TrackRegular {
		select {
		case <-r.st.PreChecksDone.Done():
		case <-ctx.Done():
			return
		}
		if r.st.QueryDone() {
			return
		}
	} else {
		// Fast-track sends bypass the precheck gate but honor the abort
		// event, re-checked at every send.
		if r.st.AbortFastTrackIfNeeded() {
			return
		}
	}

	r.mu.Lock()
	var toSend []schemaorg.RankedItem
	for _, item := range batch {
		if r.sentURLs[item.URL] {
			continue
		}
		if !r.capAllows(item.Ranking.Score) {
			continue
		}
		item.Sent = true
		r.sentURLs[item.URL] = true
		r.sentScores = append(r.sentScores, item.Ranking.Score)
		toSend = append(toSend, item)
	}
	r.mu.Unlock()

	if len(toSend) == 0 {
		return
	}

	msg := NewMessage(MsgResultBatch, r.st.QueryID)
	msg["results"] = resultPayload(toSend)
	if !r.snd.Send(msg) {
		return
	}

	if track == state.TrackFastTrack || track == state.TrackPostDecontextualization {
		r.st.SetFastTrackWorked()
	}
}

// capAllows enforces the send cap: once MaxResults have been streamed, a
// new item goes out only when it beats an already-sent score. Callers
// hold r.mu.
func (r *ranker) capAllows(score int) bool {
	limit := r.p.cfg.Ranking.MaxResults
	if len(r.sentScores) < limit {
		return true
	}
	for _, sent := range r.sentScores {
		if score > sent {
			return true
		}
	}
	return false
}

// flush computes the final answers and force-sends any not yet streamed.
func (r *ranker) flush(ctx context.Context, track state.Track) {
	if track != state.TrackRegular && r.st.AbortFastTrackIfNeeded() {
		// Aborted fast-track work is discarded silently; the regular
		// track redoes the ranking.
		return
	}

	r.mu.Lock()
	eligible := make([]scoredItem, 0, len(r.scored))
	for _, s := range r.scored {
		if s.item.Ranking.Score > r.p.cfg.Ranking.MinScore {
			eligible = append(eligible, s)
		}
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		if eligible[i].item.Ranking.Score != eligible[j].item.Ranking.Score {
			return eligible[i].item.Ranking.Score > eligible[j].item.Ranking.Score
		}
		return eligible[i].seq < eligible[j].seq
	})
	if len(eligible) > r.p.cfg.Ranking.MaxResults {
		eligible = eligible[:r.p.cfg.Ranking.MaxResults]
	}

	var unsent []schemaorg.RankedItem
	for _, s := range eligible {
		if !r.sentURLs[s.item.URL] {
			unsent = append(unsent, s.item)
		}
	}
	r.mu.Unlock()

	if len(unsent) > 0 {
		r.forceSend(ctx, track, unsent)
	}

	// Flags are read back after the force-send so the stored answers
	// reflect what was actually transmitted.
	final := make([]schemaorg.RankedItem, 0, len(eligible))
	r.mu.Lock()
	for _, s := range eligible {
		item := s.item
		item.Sent = r.sentURLs[item.URL]
		final = append(final, item)
	}
	r.mu.Unlock()

	r.st.SetFinalRankedAnswers(final)
}

// forceSend streams the final flush batch, bypassing the cap rule (the
// batch is already truncated to the top results).
func (r *ranker) forceSend(ctx context.Context, track state.Track, batch []schemaorg.RankedItem) {
	if track == state.TrackRegular {
		select {
		case <-r.st.PreChecksDone.Done():
		case <-ctx.Done():
			return
		}
		if r.st.QueryDone() {
			return
		}
	} else if r.st.AbortFastTrackIfNeeded() {
		return
	}

	r.mu.Lock()
	var toSend []schemaorg.RankedItem
	for _, item := range batch {
		if r.sentURLs[item.URL] {
			continue
		}
		item.Sent = true
		r.sentURLs[item.URL] = true
		r.sentScores = append(r.sentScores, item.Ranking.Score)
		toSend = append(toSend, item)
	}
	r.mu.Unlock()

	if len(toSend) == 0 {
		return
	}

	msg := NewMessage(MsgResultBatch, r.st.QueryID)
	msg["results"] = resultPayload(toSend)
	if r.snd.Send(msg) && track != state.TrackRegular {
		r.st.SetFastTrackWorked()
	}
}

// maybeSendAskingSites emits the informational cross-site message once
// per request, listing the three most common sites in the retrieved set.
func (r *ranker) maybeSendAskingSites(items []schemaorg.RetrievedItem) {
	if retrieval.NormalizeSite(r.st.Site) != retrieval.SiteAll {
		return
	}

	r.mu.Lock()
	if r.askingSitesSent {
		r.mu.Unlock()
		return
	}
	r.askingSitesSent = true
	r.mu.Unlock()

	counts := make(map[string]int)
	for _, item := range items {
		if item.Site != "" {
			counts[item.Site]++
		}
	}
	sites := make([]string, 0, len(counts))
	for site := range counts {
		sites = append(sites, site)
	}
	sort.Slice(sites, func(i, j int) bool {
		if counts[sites[i]] != counts[sites[j]] {
			return counts[sites[i]] > counts[sites[j]]
		}
		return sites[i] < sites[j]
	})
	if len(sites) > 3 {
		sites = sites[:3]
	}
	if len(sites) == 0 {
		return
	}

	msg := NewMessage(MsgAskingSites, r.st.QueryID)
	msg["sites"] = sites
	r.snd.Send(msg)
}

// resultPayload renders ranked items in the result_batch wire shape.
func resultPayload(items []schemaorg.RankedItem) []map[string]any {
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		out = append(out, map[string]any{
			"url":           item.URL,
			"name":          item.Name,
			"site":          item.Site,
			"siteUrl":       item.Site,
			"score":         item.Ranking.Score,
			"description":   item.Ranking.Description,
			"schema_object": item.Schema,
		})
	}
	return out
}
