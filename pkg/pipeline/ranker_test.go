package pipeline

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schemaseek/schemaseek/pkg/schemaorg"
	"github.com/schemaseek/schemaseek/pkg/state"
)

func rankerUnderTest(t *testing.T, scores map[string]int) (*ranker, *state.RequestState, *captureEmitter) {
	t.Helper()
	asker := &fakeAsker{fn: scoreByMarker(scores)}
	p := newTestPipeline(t, asker, nil)

	st := newTestState("ranked query")
	st.PreChecksDone.Set()

	emitter := &captureEmitter{}
	return newRanker(p, st, newSender(st, emitter)), st, emitter
}

func TestRankerStreamsHighScorersAndFlushes(t *testing.T) {
	scores := map[string]int{"u1": 90, "u2": 70, "u3": 40, "u4": 55}
	rk, st, emitter := rankerUnderTest(t, scores)

	items := []schemaorg.RetrievedItem{
		testItem("u1", "a.com"), testItem("u2", "b.com"),
		testItem("u3", "c.com"), testItem("u4", "d.com"),
	}
	rk.Run(context.Background(), state.TrackRegular, items, "ranked query")

	urls := emitter.sentURLs()
	assert.Contains(t, urls, "u1")
	assert.Contains(t, urls, "u2")
	assert.Contains(t, urls, "u4", "55 > 51 belongs in the final flush")
	assert.NotContains(t, urls, "u3", "40 is below the final threshold")

	final := st.FinalRankedAnswers()
	require.Len(t, final, 3)
	assert.Equal(t, "u1", final[0].URL)
	for _, item := range final {
		assert.Greater(t, item.Ranking.Score, 51)
		assert.True(t, item.Sent)
	}
}

func TestRankerFlushStoresUnsentFlagsWhenQueryDone(t *testing.T) {
	// Mid-range scores stay below the early-send threshold, so everything
	// rides on the final flush. With the query already done, the flush
	// transmits nothing and the stored answers must say so.
	scores := map[string]int{"u1": 58, "u2": 55}
	rk, st, emitter := rankerUnderTest(t, scores)
	st.MarkQueryDone()

	items := []schemaorg.RetrievedItem{testItem("u1", "a.com"), testItem("u2", "a.com")}
	rk.Run(context.Background(), state.TrackRegular, items, "q")

	assert.Empty(t, emitter.byType(MsgResultBatch))

	final := st.FinalRankedAnswers()
	require.Len(t, final, 2)
	for _, item := range final {
		assert.False(t, item.Sent, "url %s was never transmitted", item.URL)
	}
}

func TestRankerNeverSendsAnItemTwice(t *testing.T) {
	scores := map[string]int{"u1": 95, "u2": 80}
	rk, _, emitter := rankerUnderTest(t, scores)

	items := []schemaorg.RetrievedItem{testItem("u1", "a.com"), testItem("u2", "a.com")}
	rk.Run(context.Background(), state.TrackRegular, items, "q")
	// Second pass over the same items is a no-op.
	rk.Run(context.Background(), state.TrackRegular, items, "q")

	counts := make(map[string]int)
	for _, url := range emitter.sentURLs() {
		counts[url]++
	}
	for url, n := range counts {
		assert.Equal(t, 1, n, "url %s sent %d times", url, n)
	}
}

func TestRankerCapsFinalAnswersAtMax(t *testing.T) {
	scores := make(map[string]int)
	var items []schemaorg.RetrievedItem
	for i := 0; i < 15; i++ {
		url := fmt.Sprintf("u%02d", i)
		scores[url] = 60 + i
		items = append(items, testItem(url, "a.com"))
	}
	rk, st, _ := rankerUnderTest(t, scores)

	rk.Run(context.Background(), state.TrackRegular, items, "q")

	final := st.FinalRankedAnswers()
	require.Len(t, final, 10)
	for i := 1; i < len(final); i++ {
		assert.GreaterOrEqual(t, final[i-1].Ranking.Score, final[i].Ranking.Score)
	}
	assert.Equal(t, 74, final[0].Ranking.Score)
}

func TestRankerFastTrackAbortDiscardsSilently(t *testing.T) {
	scores := map[string]int{"u1": 95}
	rk, st, emitter := rankerUnderTest(t, scores)
	st.AbortFastTrack.Set()
	st.SetQueryIsIrrelevant(true)

	rk.Run(context.Background(), state.TrackFastTrack,
		[]schemaorg.RetrievedItem{testItem("u1", "a.com")}, "q")

	assert.Empty(t, emitter.byType(MsgResultBatch))
	assert.Empty(t, st.FinalRankedAnswers())
}

func TestRankerFastTrackSendsWithoutPrecheckGate(t *testing.T) {
	scores := map[string]int{"u1": 95}
	asker := &fakeAsker{fn: scoreByMarker(scores)}
	p := newTestPipeline(t, asker, nil)

	// Pre-checks deliberately NOT done.
	st := newTestState("q")
	emitter := &captureEmitter{}
	rk := newRanker(p, st, newSender(st, emitter))

	rk.Run(context.Background(), state.TrackFastTrack,
		[]schemaorg.RetrievedItem{testItem("u1", "a.com")}, "q")

	require.NotEmpty(t, emitter.byType(MsgResultBatch))
	assert.True(t, st.FastTrackWorked())
}

func TestRankerAskingSitesOncePerRequest(t *testing.T) {
	scores := map[string]int{"u1": 90, "u2": 90, "u3": 90}
	rk, st, emitter := rankerUnderTest(t, scores)
	st.Site = "all"

	items := []schemaorg.RetrievedItem{
		testItem("u1", "a.com"), testItem("u2", "a.com"), testItem("u3", "b.com"),
	}
	rk.Run(context.Background(), state.TrackRegular, items, "q")
	rk.Run(context.Background(), state.TrackRegular, items, "q")

	asking := emitter.byType(MsgAskingSites)
	require.Len(t, asking, 1)
	sites, ok := asking[0]["sites"].([]string)
	require.True(t, ok)
	assert.Equal(t, []string{"a.com", "b.com"}, sites)
}

func TestRankerNoAskingSitesForSpecificSite(t *testing.T) {
	scores := map[string]int{"u1": 90}
	rk, _, emitter := rankerUnderTest(t, scores)

	rk.Run(context.Background(), state.TrackRegular,
		[]schemaorg.RetrievedItem{testItem("u1", "a.com")}, "q")

	assert.Empty(t, emitter.byType(MsgAskingSites))
}

func TestRankerEmptyInputEmitsNothing(t *testing.T) {
	rk, st, emitter := rankerUnderTest(t, nil)

	rk.Run(context.Background(), state.TrackRegular, nil, "q")

	assert.Empty(t, emitter.all())
	assert.Empty(t, st.FinalRankedAnswers())
}

func TestRankerSkipsItemsWithNoLLMResult(t *testing.T) {
	// u2 has no configured score: the fake returns nothing for it, which
	// mirrors an LLM timeout degrading to {}.
	scores := map[string]int{"u1": 80}
	rk, st, _ := rankerUnderTest(t, scores)

	items := []schemaorg.RetrievedItem{testItem("u1", "a.com"), testItem("u2", "a.com")}
	rk.Run(context.Background(), state.TrackRegular, items, "q")

	final := st.FinalRankedAnswers()
	require.Len(t, final, 1)
	assert.Equal(t, "u1", final[0].URL)
}

func TestRankerDropsSendsAfterConnectionClosed(t *testing.T) {
	scores := map[string]int{"u1": 90}
	rk, st, emitter := rankerUnderTest(t, scores)
	st.MarkConnectionClosed()

	rk.Run(context.Background(), state.TrackRegular,
		[]schemaorg.RetrievedItem{testItem("u1", "a.com")}, "q")

	assert.Empty(t, emitter.all())
}
