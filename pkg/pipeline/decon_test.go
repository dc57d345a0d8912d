package pipeline

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectDecontextualizer(t *testing.T) {
	tests := []struct {
		name     string
		prev     []string
		ctxURL   string
		provided string
		want     Decontextualizer
	}{
		{"no context at all", nil, "", "", DeconNoOp},
		{"already decontextualized", []string{"earlier"}, "https://x", "standalone", DeconNoOp},
		{"prev queries only", []string{"earlier"}, "", "", DeconPrevQueries},
		{"context url only", nil, "https://x", "", DeconContextURL},
		{"both", []string{"earlier"}, "https://x", "", DeconFull},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SelectDecontextualizer(tt.prev, tt.ctxURL, tt.provided))
		})
	}
}

func TestDecontextualizeRewrite(t *testing.T) {
	asker := &fakeAsker{fn: func(ctx context.Context, prompt string) map[string]any {
		if strings.HasPrefix(prompt, "DECON") {
			return map[string]any{
				"requires_decontextualization": true,
				"decontextualized_query":       "spicy korean snacks",
			}
		}
		return nil
	}}
	p := newTestPipeline(t, asker, nil)

	st := newTestState("what about spicy ones")
	st.PrevQueries = []string{"korean snacks"}
	emitter := &captureEmitter{}

	p.decontextualize(context.Background(), st, newSender(st, emitter))

	assert.True(t, st.RequiresDecontextualization())
	assert.Equal(t, "spicy korean snacks", st.EffectiveQuery())

	msgs := emitter.byType(MsgDecontextualizedQuery)
	require.Len(t, msgs, 1)
	assert.Equal(t, "spicy korean snacks", msgs[0]["decontextualized_query"])
}

func TestDecontextualizeNoOpKeepsRawQuery(t *testing.T) {
	asker := &fakeAsker{fn: func(ctx context.Context, prompt string) map[string]any {
		t.Error("no LLM call expected for the no-op variant")
		return nil
	}}
	p := newTestPipeline(t, asker, nil)

	st := newTestState("standalone question")
	emitter := &captureEmitter{}

	p.decontextualize(context.Background(), st, newSender(st, emitter))

	assert.False(t, st.RequiresDecontextualization())
	assert.Equal(t, "standalone question", st.EffectiveQuery())
	assert.Empty(t, emitter.all())
}

func TestDecontextualizeMissingPromptDegrades(t *testing.T) {
	asker := &fakeAsker{fn: func(ctx context.Context, prompt string) map[string]any { return nil }}
	p := newTestPipeline(t, asker, &fakeRetriever{})

	// context_url variant; DecontextualizeContextPrompt is not in the
	// test registry.
	st := newTestState("what about this one")
	st.ContextURL = "https://example.com/thing"
	emitter := &captureEmitter{}

	p.decontextualize(context.Background(), st, newSender(st, emitter))

	assert.False(t, st.RequiresDecontextualization())
	assert.Equal(t, "what about this one", st.EffectiveQuery())
}

func TestDecontextualizeProvidedQueryUsedDirectly(t *testing.T) {
	asker := &fakeAsker{fn: func(ctx context.Context, prompt string) map[string]any {
		t.Error("no LLM call expected when the query is pre-decontextualized")
		return nil
	}}
	p := newTestPipeline(t, asker, nil)

	st := newTestState("follow-up")
	st.Request.DecontextualizedQuery = "full standalone question"
	st.PrevQueries = []string{"earlier turn"}
	emitter := &captureEmitter{}

	p.decontextualize(context.Background(), st, newSender(st, emitter))

	assert.False(t, st.RequiresDecontextualization())
	assert.Equal(t, "full standalone question", st.EffectiveQuery())
}

func TestPrecheckDisabledStepsUseSafeDefaults(t *testing.T) {
	asker := &fakeAsker{fn: func(ctx context.Context, prompt string) map[string]any { return nil }}
	p := newTestPipeline(t, asker, &fakeRetriever{})
	p.cfg.App.Prechecks = configAllDisabled()

	st := newTestState("anything")
	emitter := &captureEmitter{}
	rk := newRanker(p, st, newSender(st, emitter))

	p.runPrechecks(context.Background(), st, newSender(st, emitter), rk)

	assert.True(t, st.PreChecksDone.IsSet())
	assert.True(t, st.DeconDone.IsSet())
	assert.True(t, st.ToolRouterDone.IsSet())
	assert.False(t, st.ShouldAbortFastTrack())
}
