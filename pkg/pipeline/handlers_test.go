package pipeline

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schemaseek/schemaseek/pkg/schemaorg"
)

func TestItemDetailsImmediateSend(t *testing.T) {
	items := []schemaorg.RetrievedItem{
		testItem("u1", "a.com"), testItem("u2", "a.com"), testItem("u3", "a.com"),
	}
	asker := &fakeAsker{fn: scoreByMarker(map[string]int{"u1": 40, "u2": 92, "u3": 65})}
	retriever := &fakeRetriever{items: items}
	p := newTestPipeline(t, asker, retriever)

	st := newTestState("tell me about the second thing")
	emitter := &captureEmitter{}
	p.handleItemDetails(context.Background(), st, newSender(st, emitter),
		map[string]any{"item_name": "second thing"})

	details := emitter.byType(MsgItemDetails)
	require.Len(t, details, 1, "exactly one item_details message")
	assert.Equal(t, "u2", details[0]["url"])
}

func TestItemDetailsBufferedFallback(t *testing.T) {
	items := []schemaorg.RetrievedItem{
		testItem("u1", "a.com"), testItem("u2", "a.com"), testItem("u3", "a.com"),
	}
	asker := &fakeAsker{fn: scoreByMarker(map[string]int{"u1": 62, "u2": 71, "u3": 30})}
	retriever := &fakeRetriever{items: items}
	p := newTestPipeline(t, asker, retriever)

	st := newTestState("tell me about it")
	emitter := &captureEmitter{}
	p.handleItemDetails(context.Background(), st, newSender(st, emitter),
		map[string]any{"item_name": "it"})

	details := emitter.byType(MsgItemDetails)
	require.Len(t, details, 1)
	assert.Equal(t, "u2", details[0]["url"], "highest buffered candidate wins")
}

func TestItemDetailsNoMatchSendsNothing(t *testing.T) {
	items := []schemaorg.RetrievedItem{testItem("u1", "a.com")}
	asker := &fakeAsker{fn: scoreByMarker(map[string]int{"u1": 20})}
	retriever := &fakeRetriever{items: items}
	p := newTestPipeline(t, asker, retriever)

	st := newTestState("tell me about something else")
	emitter := &captureEmitter{}
	p.handleItemDetails(context.Background(), st, newSender(st, emitter),
		map[string]any{"item_name": "something else"})

	assert.Empty(t, emitter.byType(MsgItemDetails))
}

func TestItemDetailsByURL(t *testing.T) {
	item := testItem("https://a.com/x", "a.com")
	asker := &fakeAsker{fn: scoreByMarker(map[string]int{"https://a.com/x": 90})}
	retriever := &fakeRetriever{byURL: map[string]schemaorg.RetrievedItem{item.URL: item}}
	p := newTestPipeline(t, asker, retriever)

	st := newTestState("details for that url")
	emitter := &captureEmitter{}
	p.handleItemDetails(context.Background(), st, newSender(st, emitter),
		map[string]any{"item_url": item.URL})

	details := emitter.byType(MsgItemDetails)
	require.Len(t, details, 1)
	assert.Equal(t, item.URL, details[0]["url"])
	// No search happened; the URL was fetched directly.
	assert.Empty(t, retriever.seenQueries())
}

func TestCompareItems(t *testing.T) {
	item1 := testItem("https://a.com/1", "a.com")
	item2 := testItem("https://a.com/2", "a.com")
	asker := &fakeAsker{fn: func(ctx context.Context, prompt string) map[string]any {
		if strings.HasPrefix(prompt, "COMPARE") {
			return map[string]any{"comparison": "the first is spicier"}
		}
		return nil
	}}
	retriever := &fakeRetriever{byURL: map[string]schemaorg.RetrievedItem{
		item1.URL: item1,
		item2.URL: item2,
	}}
	p := newTestPipeline(t, asker, retriever)

	st := newTestState("compare these")
	emitter := &captureEmitter{}
	p.handleCompareItems(context.Background(), st, newSender(st, emitter), map[string]any{
		"item1_url": item1.URL,
		"item2_url": item2.URL,
	})

	msgs := emitter.byType(MsgCompareItems)
	require.Len(t, msgs, 1)
	assert.Equal(t, "the first is spicier", msgs[0]["comparison"])
}

func TestCompareItemsUnresolvedSendsNoResults(t *testing.T) {
	asker := &fakeAsker{fn: func(ctx context.Context, prompt string) map[string]any { return nil }}
	p := newTestPipeline(t, asker, &fakeRetriever{})

	st := newTestState("compare these")
	emitter := &captureEmitter{}
	p.handleCompareItems(context.Background(), st, newSender(st, emitter), map[string]any{
		"item1_url": "https://nowhere/1",
		"item2_url": "https://nowhere/2",
	})

	assert.Empty(t, emitter.byType(MsgCompareItems))
	assert.Len(t, emitter.byType(MsgNoResults), 1)
}

func TestAccompanimentSubstitutesQuery(t *testing.T) {
	items := []schemaorg.RetrievedItem{testItem("u1", "a.com")}
	asker := &fakeAsker{fn: scoreByMarker(map[string]int{"u1": 80})}
	retriever := &fakeRetriever{items: items}
	p := newTestPipeline(t, asker, retriever)

	st := newTestState("what wine goes with this")
	st.PreChecksDone.Set()
	emitter := &captureEmitter{}
	rk := newRanker(p, st, newSender(st, emitter))

	p.handleAccompaniment(context.Background(), st, rk, map[string]any{
		"search_query": "wine",
		"item_name":    "grilled salmon",
	})

	queries := retriever.seenQueries()
	require.Len(t, queries, 1)
	assert.Equal(t, "wine that would go well with grilled salmon", queries[0])

	assert.Contains(t, emitter.sentURLs(), "u1")
}

func TestRecipeSubstitutionSuggestions(t *testing.T) {
	items := []schemaorg.RetrievedItem{testItem("u1", "a.com"), testItem("u2", "a.com")}
	asker := &fakeAsker{fn: func(ctx context.Context, prompt string) map[string]any {
		if !strings.HasPrefix(prompt, "SUBSTITUTE") {
			return nil
		}
		if strings.Contains(prompt, `"u1"`) {
			return map[string]any{
				"needs_substitution": true,
				"substitutions":      []any{"use oat milk instead of cream"},
			}
		}
		return map[string]any{"needs_substitution": false}
	}}
	retriever := &fakeRetriever{items: items}
	p := newTestPipeline(t, asker, retriever)

	st := newTestState("dairy free lasagna")
	emitter := &captureEmitter{}
	p.handleRecipeSubstitution(context.Background(), st, newSender(st, emitter),
		map[string]any{"dietary_need": "dairy free"})

	msgs := emitter.byType(MsgSubstitution)
	require.Len(t, msgs, 1)
	suggestions, ok := msgs[0]["suggestions"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, suggestions, 1)
	assert.Equal(t, "u1", suggestions[0]["url"])
}

func TestRecipeSubstitutionNoneNeeded(t *testing.T) {
	items := []schemaorg.RetrievedItem{testItem("u1", "a.com")}
	asker := &fakeAsker{fn: func(ctx context.Context, prompt string) map[string]any {
		if strings.HasPrefix(prompt, "SUBSTITUTE") {
			return map[string]any{"needs_substitution": false}
		}
		return nil
	}}
	retriever := &fakeRetriever{items: items}
	p := newTestPipeline(t, asker, retriever)

	st := newTestState("vegan curry")
	emitter := &captureEmitter{}
	p.handleRecipeSubstitution(context.Background(), st, newSender(st, emitter),
		map[string]any{"dietary_need": "vegan"})

	msgs := emitter.byType(MsgSubstitution)
	require.Len(t, msgs, 1)
	assert.Equal(t, true, msgs[0]["no_substitution_needed"])
}
