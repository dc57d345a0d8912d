package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schemaseek/schemaseek/pkg/config"
	"github.com/schemaseek/schemaseek/pkg/llms"
	"github.com/schemaseek/schemaseek/pkg/prompts"
	"github.com/schemaseek/schemaseek/pkg/schemaorg"
	"github.com/schemaseek/schemaseek/pkg/state"
	"github.com/schemaseek/schemaseek/pkg/tooldefs"
)

// fakeAsker routes structured asks through a test-provided function.
type fakeAsker struct {
	fn func(ctx context.Context, prompt string) map[string]any
}

func (f *fakeAsker) Ask(ctx context.Context, prompt string, schema map[string]any, opts llms.AskOptions) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		// Mirrors the production degrade-to-empty policy.
		return map[string]any{}, nil
	}
	resp := f.fn(ctx, prompt)
	if resp == nil {
		return map[string]any{}, nil
	}
	return resp, nil
}

// fakeRetriever serves canned items and records the queries it saw.
type fakeRetriever struct {
	mu      sync.Mutex
	items   []schemaorg.RetrievedItem
	byURL   map[string]schemaorg.RetrievedItem
	queries []string
}

func (f *fakeRetriever) Search(ctx context.Context, query, site string, limit int) []schemaorg.RetrievedItem {
	f.mu.Lock()
	f.queries = append(f.queries, query)
	f.mu.Unlock()
	return f.items
}

func (f *fakeRetriever) SearchByURL(ctx context.Context, url string) *schemaorg.RetrievedItem {
	if item, ok := f.byURL[url]; ok {
		return &item
	}
	return nil
}

func (f *fakeRetriever) seenQueries() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.queries...)
}

// captureEmitter collects every emitted message in order.
type captureEmitter struct {
	mu   sync.Mutex
	msgs []Message
}

func (c *captureEmitter) Send(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *captureEmitter) all() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.msgs...)
}

func (c *captureEmitter) byType(messageType string) []Message {
	var out []Message
	for _, msg := range c.all() {
		if msg["message_type"] == messageType {
			out = append(out, msg)
		}
	}
	return out
}

func (c *captureEmitter) sentURLs() []string {
	var urls []string
	for _, msg := range c.byType(MsgResultBatch) {
		results, _ := msg["results"].([]map[string]any)
		for _, r := range results {
			urls = append(urls, r["url"].(string))
		}
	}
	return urls
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.SetDefaults()
	return cfg
}

func boolPtr(v bool) *bool { return &v }

func configAllDisabled() config.PrecheckConfig {
	off := boolPtr(false)
	return config.PrecheckConfig{
		DetectItemType:  off,
		DetectMultiType: off,
		DetectQueryType: off,
		Decontextualize: off,
		Relevance:       off,
		Memory:          off,
		RequiredInfo:    off,
		QueryRewrite:    off,
		ToolRouting:     off,
		FastTrack:       off,
	}
}

const testPromptsXML = `<Prompts>
  <SchemaType name="Item">
    <Prompt ref="RankingPrompt">
      <promptString>RANK item {item.description} for {request.query}</promptString>
      <returnStruc>{"score": "integer", "description": "string"}</returnStruc>
    </Prompt>
    <Prompt ref="RankingPromptForGenerate">
      <promptString>RANKGEN item {item.description} for {request.query}</promptString>
      <returnStruc>{"score": "integer", "description": "string"}</returnStruc>
    </Prompt>
    <Prompt ref="ItemMatchingPrompt">
      <promptString>MATCH {request.item_name} against {item.description}</promptString>
      <returnStruc>{"score": "integer", "description": "string"}</returnStruc>
    </Prompt>
    <Prompt ref="DetectIrrelevantQueryPrompt">
      <promptString>IRRELEVANT? {request.query}</promptString>
      <returnStruc>{"site_is_irrelevant_to_query": "boolean", "explanation_for_irrelevance": "string"}</returnStruc>
    </Prompt>
    <Prompt ref="PrevQueryDecontextualizePrompt">
      <promptString>DECON {request.query} given {request.previousQueries}</promptString>
      <returnStruc>{"requires_decontextualization": "boolean", "decontextualized_query": "string"}</returnStruc>
    </Prompt>
    <Prompt ref="SummarizeResultsPrompt">
      <promptString>SUMMARIZE {request.answers}</promptString>
      <returnStruc>{"summary": "string"}</returnStruc>
    </Prompt>
    <Prompt ref="SynthesizePromptForGenerate">
      <promptString>SYNTH {request.answers}</promptString>
      <returnStruc>{"answer": "string"}</returnStruc>
    </Prompt>
    <Prompt ref="DescriptionPromptForGenerate">
      <promptString>DESCRIBE {item.description}</promptString>
      <returnStruc>{"description": "string"}</returnStruc>
    </Prompt>
    <Prompt ref="CompareItemsPrompt">
      <promptString>COMPARE {item.description}</promptString>
      <returnStruc>{"comparison": "string"}</returnStruc>
    </Prompt>
    <Prompt ref="RecipeSubstitutionPrompt">
      <promptString>SUBSTITUTE {request.details_requested} in {item.description}</promptString>
      <returnStruc>{"needs_substitution": "boolean", "substitutions": ["string"]}</returnStruc>
    </Prompt>
  </SchemaType>
</Prompts>`

const testToolsXML = `<Tools>
  <Item>
    <Tool name="search" enabled="true">
      <prompt>TOOL search {request.query}</prompt>
      <returnStruc>{"score": "integer"}</returnStruc>
      <handler>Search</handler>
    </Tool>
    <Tool name="item_details" enabled="true">
      <prompt>TOOL item_details {request.query}</prompt>
      <returnStruc>{"score": "integer", "item_name": "string"}</returnStruc>
      <handler>ItemDetails</handler>
    </Tool>
    <Tool name="compare_items" enabled="true">
      <prompt>TOOL compare_items {request.query}</prompt>
      <returnStruc>{"score": "integer"}</returnStruc>
      <handler>CompareItems</handler>
    </Tool>
  </Item>
</Tools>`

func testRegistries(t *testing.T) (*prompts.Registry, *tooldefs.Registry) {
	t.Helper()
	promptReg, err := prompts.Parse([]byte(testPromptsXML))
	require.NoError(t, err)
	toolReg, err := tooldefs.Parse([]byte(testToolsXML))
	require.NoError(t, err)
	return promptReg, toolReg
}

// testItem builds a retrieved item whose schema carries a marker the fake
// asker can recognize inside expanded prompts.
func testItem(url, site string) schemaorg.RetrievedItem {
	schema, _ := json.Marshal(map[string]string{"@type": "Thing", "url": url})
	return schemaorg.RetrievedItem{
		URL:    url,
		Site:   site,
		Name:   "item " + url,
		Schema: schema,
	}
}

// scoreByMarker answers RANK/MATCH prompts with the score configured for
// the item URL embedded in the prompt.
func scoreByMarker(scores map[string]int) func(ctx context.Context, prompt string) map[string]any {
	return func(ctx context.Context, prompt string) map[string]any {
		for url, score := range scores {
			if strings.Contains(prompt, fmt.Sprintf("%q", url)) {
				return map[string]any{
					"score":       float64(score),
					"description": "about " + url,
				}
			}
		}
		return nil
	}
}

func newTestPipeline(t *testing.T, asker *fakeAsker, retriever *fakeRetriever) *Pipeline {
	t.Helper()
	promptReg, toolReg := testRegistries(t)
	if retriever == nil {
		retriever = &fakeRetriever{}
	}
	return New(testConfig(), promptReg, toolReg, asker, retriever)
}

func newTestState(query string) *state.RequestState {
	return state.New(state.Request{
		Query:        query,
		Site:         "example.com",
		Streaming:    true,
		GenerateMode: state.ModeList,
		QueryID:      "test-query-id",
	})
}

func TestRunIrrelevantQueryEndsRequest(t *testing.T) {
	items := []schemaorg.RetrievedItem{testItem("u1", "example.com")}
	asker := &fakeAsker{fn: func(ctx context.Context, prompt string) map[string]any {
		switch {
		case strings.HasPrefix(prompt, "IRRELEVANT?"):
			return map[string]any{
				"site_is_irrelevant_to_query": true,
				"explanation_for_irrelevance": "off topic",
			}
		case strings.HasPrefix(prompt, "RANK"):
			return map[string]any{"score": float64(90), "description": "d"}
		case strings.HasPrefix(prompt, "TOOL search"):
			return map[string]any{"score": float64(80)}
		}
		return nil
	}}
	retriever := &fakeRetriever{items: items}
	p := newTestPipeline(t, asker, retriever)
	p.cfg.App.Prechecks.FastTrack = boolPtr(false)

	st := newTestState("what is the weather")
	emitter := &captureEmitter{}
	p.Run(context.Background(), st, emitter)

	require.Len(t, emitter.byType(MsgSiteIrrelevant), 1)
	assert.Empty(t, emitter.byType(MsgResultBatch), "no results after query_done")
	assert.True(t, st.QueryDone())
}

func TestRunSearchFlowEmitsToolSelectionBeforeResults(t *testing.T) {
	items := []schemaorg.RetrievedItem{
		testItem("u1", "example.com"),
		testItem("u2", "example.com"),
	}
	scores := scoreByMarker(map[string]int{"u1": 80, "u2": 30})
	asker := &fakeAsker{fn: func(ctx context.Context, prompt string) map[string]any {
		switch {
		case strings.HasPrefix(prompt, "RANK"):
			return scores(ctx, prompt)
		case strings.HasPrefix(prompt, "TOOL search"):
			return map[string]any{"score": float64(85)}
		case strings.HasPrefix(prompt, "TOOL"):
			return map[string]any{"score": float64(10)}
		}
		return nil
	}}
	retriever := &fakeRetriever{items: items}
	p := newTestPipeline(t, asker, retriever)
	p.cfg.App.Prechecks.FastTrack = boolPtr(false)

	st := newTestState("find me things")
	emitter := &captureEmitter{}
	p.Run(context.Background(), st, emitter)

	selections := emitter.byType(MsgToolSelection)
	require.Len(t, selections, 1)
	assert.Equal(t, "search", selections[0]["selected_tool"])

	urls := emitter.sentURLs()
	assert.Contains(t, urls, "u1")
	assert.NotContains(t, urls, "u2", "score 30 is below the final threshold")

	// tool_selection precedes any result batch.
	var sawSelection bool
	for _, msg := range emitter.all() {
		switch msg["message_type"] {
		case MsgToolSelection:
			sawSelection = true
		case MsgResultBatch:
			assert.True(t, sawSelection, "result_batch before tool_selection")
		}
	}

	final := st.FinalRankedAnswers()
	require.Len(t, final, 1)
	assert.Equal(t, "u1", final[0].URL)
	assert.True(t, final[0].Sent)
}

func TestRunGenerateModeSkipsToolRouting(t *testing.T) {
	items := []schemaorg.RetrievedItem{testItem("u1", "example.com")}
	scores := scoreByMarker(map[string]int{"u1": 80})
	asker := &fakeAsker{fn: func(ctx context.Context, prompt string) map[string]any {
		switch {
		case strings.HasPrefix(prompt, "RANKGEN"), strings.HasPrefix(prompt, "RANK"):
			return scores(ctx, prompt)
		case strings.HasPrefix(prompt, "SYNTH"):
			return map[string]any{"answer": "generated answer"}
		case strings.HasPrefix(prompt, "DESCRIBE"):
			return map[string]any{"description": "item description"}
		case strings.HasPrefix(prompt, "TOOL"):
			t.Error("tool routing must be skipped in generate mode")
		}
		return nil
	}}
	retriever := &fakeRetriever{items: items}
	p := newTestPipeline(t, asker, retriever)

	st := newTestState("tell me about things")
	st.GenerateMode = state.ModeGenerate
	emitter := &captureEmitter{}
	p.Run(context.Background(), st, emitter)

	assert.Empty(t, emitter.byType(MsgToolSelection))

	nlws := emitter.byType(MsgNLWS)
	require.Len(t, nlws, 1)
	assert.Equal(t, "generated answer", nlws[0]["answer"])
	items2, ok := nlws[0]["items"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, items2, 1)
	assert.Equal(t, "item description", items2[0]["description"])
}

func TestRunItemDetailsEndsWithoutNoResults(t *testing.T) {
	items := []schemaorg.RetrievedItem{testItem("u1", "example.com")}
	matches := scoreByMarker(map[string]int{"u1": 90})
	asker := &fakeAsker{fn: func(ctx context.Context, prompt string) map[string]any {
		switch {
		case strings.HasPrefix(prompt, "TOOL item_details"):
			return map[string]any{"score": float64(85), "item_name": "item u1"}
		case strings.HasPrefix(prompt, "TOOL"):
			return map[string]any{"score": float64(10)}
		case strings.HasPrefix(prompt, "MATCH"):
			return matches(ctx, prompt)
		}
		return nil
	}}
	retriever := &fakeRetriever{items: items}
	p := newTestPipeline(t, asker, retriever)
	p.cfg.App.Prechecks.FastTrack = boolPtr(false)

	st := newTestState("tell me about item u1")
	emitter := &captureEmitter{}
	p.Run(context.Background(), st, emitter)

	require.Len(t, emitter.byType(MsgItemDetails), 1)
	// The handler answered the request; an empty ranked set must not be
	// reported as a miss on top of it.
	assert.Empty(t, emitter.byType(MsgNoResults))
	assert.Empty(t, emitter.byType(MsgResultBatch))
}

// endpointRetriever records endpoint-scoped searches next to the plain ones.
type endpointRetriever struct {
	fakeRetriever
	mu        sync.Mutex
	endpoints []string
}

func (f *endpointRetriever) SearchEndpoint(ctx context.Context, query, site string, limit int, endpoint string) []schemaorg.RetrievedItem {
	f.mu.Lock()
	f.endpoints = append(f.endpoints, endpoint)
	f.mu.Unlock()
	return f.items
}

func TestSearchHonorsEndpointOverride(t *testing.T) {
	promptReg, toolReg := testRegistries(t)
	asker := &fakeAsker{fn: func(ctx context.Context, prompt string) map[string]any { return nil }}
	retriever := &endpointRetriever{
		fakeRetriever: fakeRetriever{items: []schemaorg.RetrievedItem{testItem("u1", "example.com")}},
	}
	p := New(testConfig(), promptReg, toolReg, asker, retriever)

	st := newTestState("pasta")
	st.DB = "qdrant_local"
	items := p.search(context.Background(), st, st.Query, 10)
	require.Len(t, items, 1)
	assert.Equal(t, []string{"qdrant_local"}, retriever.endpoints)
	assert.Empty(t, retriever.seenQueries(), "override must not fan out")

	// Without the override the regular fan-out runs.
	st.DB = ""
	p.search(context.Background(), st, st.Query, 10)
	assert.Equal(t, []string{"pasta"}, retriever.seenQueries())
	assert.Len(t, retriever.endpoints, 1)
}

func TestAskOptionsLLMLevelOverride(t *testing.T) {
	asker := &fakeAsker{fn: func(ctx context.Context, prompt string) map[string]any { return nil }}
	p := newTestPipeline(t, asker, nil)

	st := newTestState("q")
	st.LLMProvider = "openai"
	st.Model = "gpt-test"

	opts := p.askOptions(st, llms.TierHigh)
	assert.Equal(t, llms.TierHigh, opts.Tier)
	assert.Equal(t, "openai", opts.Endpoint)
	assert.Equal(t, "gpt-test", opts.Model)

	st.LLMLevel = string(llms.TierLow)
	assert.Equal(t, llms.TierLow, p.askOptions(st, llms.TierHigh).Tier)

	st.LLMLevel = string(llms.TierHigh)
	assert.Equal(t, llms.TierHigh, p.askOptions(st, llms.TierLow).Tier)

	st.LLMLevel = "bogus"
	assert.Equal(t, llms.TierLow, p.askOptions(st, llms.TierLow).Tier)
}

func TestRunNoResults(t *testing.T) {
	asker := &fakeAsker{fn: func(ctx context.Context, prompt string) map[string]any {
		if strings.HasPrefix(prompt, "TOOL search") {
			return map[string]any{"score": float64(80)}
		}
		return nil
	}}
	p := newTestPipeline(t, asker, &fakeRetriever{})

	st := newTestState("anything at all")
	emitter := &captureEmitter{}
	p.Run(context.Background(), st, emitter)

	assert.Empty(t, emitter.byType(MsgResultBatch))
	assert.Len(t, emitter.byType(MsgNoResults), 1)
}
