package pipeline

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schemaseek/schemaseek/pkg/schemaorg"
	"github.com/schemaseek/schemaseek/pkg/state"
)

func rankedAnswer(url, name string, score int, schema map[string]any) schemaorg.RankedItem {
	raw, _ := json.Marshal(schema)
	return schemaorg.RankedItem{
		URL:     url,
		Name:    name,
		Site:    "a.com",
		Schema:  raw,
		Ranking: schemaorg.Ranking{Score: score, Description: "desc " + url},
		Sent:    true,
	}
}

func TestResultsMapSentWhenHalfHaveAddresses(t *testing.T) {
	answers := []schemaorg.RankedItem{
		rankedAnswer("u1", "Cafe One", 90, map[string]any{"address": "1 Main St, Springfield"}),
		rankedAnswer("u2", "Cafe Two", 85, map[string]any{
			"location": map[string]any{"address": map[string]any{
				"streetAddress": "2 Side St", "addressLocality": "Springfield",
			}},
		}),
		rankedAnswer("u3", "Article", 80, map[string]any{"headline": "no address here"}),
		rankedAnswer("u4", "Other", 75, map[string]any{}),
	}

	asker := &fakeAsker{fn: func(ctx context.Context, prompt string) map[string]any { return nil }}
	p := newTestPipeline(t, asker, nil)

	st := newTestState("cafes near me")
	st.SetFinalRankedAnswers(answers)
	emitter := &captureEmitter{}

	p.postRank(context.Background(), st, newSender(st, emitter), true)

	maps := emitter.byType(MsgResultsMap)
	require.Len(t, maps, 1)
}

func TestResultsMapSkippedBelowThreshold(t *testing.T) {
	answers := []schemaorg.RankedItem{
		rankedAnswer("u1", "Cafe One", 90, map[string]any{"address": "1 Main St"}),
		rankedAnswer("u2", "Article A", 85, map[string]any{}),
		rankedAnswer("u3", "Article B", 80, map[string]any{}),
	}

	asker := &fakeAsker{fn: func(ctx context.Context, prompt string) map[string]any { return nil }}
	p := newTestPipeline(t, asker, nil)

	st := newTestState("reading list")
	st.SetFinalRankedAnswers(answers)
	emitter := &captureEmitter{}

	p.postRank(context.Background(), st, newSender(st, emitter), true)

	assert.Empty(t, emitter.byType(MsgResultsMap))
}

func TestSummaryUsesTopThree(t *testing.T) {
	answers := []schemaorg.RankedItem{
		rankedAnswer("u1", "First", 95, map[string]any{}),
		rankedAnswer("u2", "Second", 90, map[string]any{}),
		rankedAnswer("u3", "Third", 85, map[string]any{}),
		rankedAnswer("u4", "Fourth", 80, map[string]any{}),
	}

	var summarized string
	asker := &fakeAsker{fn: func(ctx context.Context, prompt string) map[string]any {
		if strings.HasPrefix(prompt, "SUMMARIZE") {
			summarized = prompt
			return map[string]any{"summary": "three great options"}
		}
		return nil
	}}
	p := newTestPipeline(t, asker, nil)

	st := newTestState("what should I pick")
	st.GenerateMode = state.ModeSummarize
	st.SetFinalRankedAnswers(answers)
	emitter := &captureEmitter{}

	p.postRank(context.Background(), st, newSender(st, emitter), true)

	msgs := emitter.byType(MsgSummary)
	require.Len(t, msgs, 1)
	assert.Equal(t, "three great options", msgs[0]["message"])

	assert.Contains(t, summarized, "u3")
	assert.NotContains(t, summarized, "u4", "summary input is capped at the top three")
}

func TestGenerateEmitsSingleNLWS(t *testing.T) {
	answers := []schemaorg.RankedItem{
		rankedAnswer("u1", "First", 95, map[string]any{}),
		rankedAnswer("u2", "Second", 90, map[string]any{}),
	}

	asker := &fakeAsker{fn: func(ctx context.Context, prompt string) map[string]any {
		switch {
		case strings.HasPrefix(prompt, "SYNTH"):
			return map[string]any{"answer": "the direct answer"}
		case strings.HasPrefix(prompt, "DESCRIBE"):
			return map[string]any{"description": "generated description"}
		}
		return nil
	}}
	p := newTestPipeline(t, asker, nil)

	st := newTestState("answer me directly")
	st.GenerateMode = state.ModeGenerate
	st.SetFinalRankedAnswers(answers)
	emitter := &captureEmitter{}

	p.postRank(context.Background(), st, newSender(st, emitter), true)

	msgs := emitter.byType(MsgNLWS)
	require.Len(t, msgs, 1)
	assert.Equal(t, "the direct answer", msgs[0]["answer"])

	items, ok := msgs[0]["items"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, items, 2)
	for _, item := range items {
		assert.Equal(t, "generated description", item["description"])
	}
}

func TestPostRankNoAnswersEmitsNoResults(t *testing.T) {
	asker := &fakeAsker{fn: func(ctx context.Context, prompt string) map[string]any { return nil }}
	p := newTestPipeline(t, asker, nil)

	st := newTestState("nothing matched")
	emitter := &captureEmitter{}

	p.postRank(context.Background(), st, newSender(st, emitter), true)

	assert.Len(t, emitter.byType(MsgNoResults), 1)
}

func TestPostRankSkippedForUnrankedRequests(t *testing.T) {
	asker := &fakeAsker{fn: func(ctx context.Context, prompt string) map[string]any { return nil }}
	p := newTestPipeline(t, asker, nil)

	// A request answered by a message-only handler has no ranked answers;
	// that must not read as an empty result set.
	st := newTestState("tell me about this item")
	emitter := &captureEmitter{}

	p.postRank(context.Background(), st, newSender(st, emitter), false)

	assert.Empty(t, emitter.all())
}

func TestPostRankQueryDoneStaysSilent(t *testing.T) {
	asker := &fakeAsker{fn: func(ctx context.Context, prompt string) map[string]any { return nil }}
	p := newTestPipeline(t, asker, nil)

	st := newTestState("irrelevant query")
	st.MarkQueryDone()
	emitter := &captureEmitter{}

	p.postRank(context.Background(), st, newSender(st, emitter), true)

	assert.Empty(t, emitter.all())
}
