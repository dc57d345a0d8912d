package state

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schemaseek/schemaseek/pkg/tooldefs"
)

func TestEventSetIdempotent(t *testing.T) {
	e := NewEvent()
	assert.False(t, e.IsSet())
	e.Set()
	e.Set()
	assert.True(t, e.IsSet())

	select {
	case <-e.Done():
	default:
		t.Fatal("Done channel not closed after Set")
	}
}

func TestPreChecksDoneFiresWhenAllStartedStepsFinish(t *testing.T) {
	s := New(Request{Query: "q"})

	s.StartStep(StepDetectItemType)
	s.StartStep(StepDecon)

	s.FinishStep(StepDetectItemType)
	assert.False(t, s.PreChecksDone.IsSet())

	s.FinishStep(StepDecon)
	assert.True(t, s.PreChecksDone.IsSet())
	assert.True(t, s.DeconDone.IsSet())
}

func TestWaitForDecontextualization(t *testing.T) {
	s := New(Request{Query: "q"})
	s.StartStep(StepDecon)

	go func() {
		time.Sleep(10 * time.Millisecond)
		s.SetDecontextualization("rewritten", false)
		s.FinishStep(StepDecon)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.WaitForDecontextualization(ctx))
	assert.Equal(t, "rewritten", s.EffectiveQuery())
}

func TestWaitForDecontextualizationContextCancel(t *testing.T) {
	s := New(Request{Query: "q"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, s.WaitForDecontextualization(ctx))
}

func TestPreCheckApproval(t *testing.T) {
	s := New(Request{Query: "q"})
	s.StartStep(StepRelevance)
	s.FinishStep(StepRelevance)

	assert.True(t, s.PreCheckApproval(context.Background()))

	s.MarkQueryDone()
	assert.False(t, s.PreCheckApproval(context.Background()))
}

func TestPreCheckApprovalConnectionClosed(t *testing.T) {
	s := New(Request{Query: "q"})
	s.StartStep(StepRelevance)
	s.FinishStep(StepRelevance)
	s.MarkConnectionClosed()

	assert.False(t, s.PreCheckApproval(context.Background()))
}

func TestShouldAbortFastTrack(t *testing.T) {
	searchTool := &tooldefs.Tool{Name: "search"}
	detailsTool := &tooldefs.Tool{Name: "item_details"}

	tests := []struct {
		name  string
		setup func(*RequestState)
		want  bool
	}{
		{"clean state", func(s *RequestState) {}, false},
		{"query done", func(s *RequestState) { s.MarkQueryDone() }, true},
		{"irrelevant", func(s *RequestState) { s.SetQueryIsIrrelevant(true) }, true},
		{"missing info", func(s *RequestState) { s.SetRequiredInfoFound(false) }, true},
		{"needs decon", func(s *RequestState) { s.SetDecontextualization("x", true) }, true},
		{"connection closed", func(s *RequestState) { s.MarkConnectionClosed() }, true},
		{"top tool is search", func(s *RequestState) {
			s.SetToolRoutingResults([]ToolRoutingResult{{Tool: searchTool, Score: 85}})
		}, false},
		{"top tool not search", func(s *RequestState) {
			s.SetToolRoutingResults([]ToolRoutingResult{
				{Tool: detailsTool, Score: 90},
				{Tool: searchTool, Score: 80},
			})
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(Request{Query: "q"})
			tt.setup(s)
			assert.Equal(t, tt.want, s.ShouldAbortFastTrack())
		})
	}
}

func TestAbortFastTrackIfNeededLatches(t *testing.T) {
	s := New(Request{Query: "q"})
	assert.False(t, s.AbortFastTrackIfNeeded())
	assert.False(t, s.AbortFastTrack.IsSet())

	s.SetQueryIsIrrelevant(true)
	assert.True(t, s.AbortFastTrackIfNeeded())
	assert.True(t, s.AbortFastTrack.IsSet())

	// Monotone: the event stays set even if the condition clears.
	s.SetQueryIsIrrelevant(false)
	assert.True(t, s.AbortFastTrack.IsSet())
}

func TestFastTrackEligible(t *testing.T) {
	assert.True(t, New(Request{Query: "q"}).FastTrackEligible())
	assert.False(t, New(Request{Query: "q", ContextURL: "https://x"}).FastTrackEligible())
	assert.False(t, New(Request{Query: "q", PrevQueries: []string{"earlier"}}).FastTrackEligible())
}

func TestSetRewrittenQueriesCapsAtFive(t *testing.T) {
	s := New(Request{Query: "q"})
	s.SetRewrittenQueries([]string{"a", "b", "c", "d", "e", "f", "g"})
	assert.Len(t, s.RewrittenQueries(), 5)
}

func TestItemTypeDefaultsAndQualifies(t *testing.T) {
	s := New(Request{Query: "q"})
	assert.Equal(t, "http://schema.org/Item", s.ItemType())

	s.SetItemType("Recipe")
	assert.Equal(t, "http://schema.org/Recipe", s.ItemType())
}

func TestEffectiveQueryFallsBackToRaw(t *testing.T) {
	s := New(Request{Query: "raw question"})
	assert.Equal(t, "raw question", s.EffectiveQuery())
}
