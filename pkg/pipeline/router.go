package pipeline

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/schemaseek/schemaseek/pkg/llms"
	"github.com/schemaseek/schemaseek/pkg/prompts"
	"github.com/schemaseek/schemaseek/pkg/state"
	"github.com/schemaseek/schemaseek/pkg/tooldefs"
)

const (
	// earlyTerminationScore ends routing as soon as one tool scores this
	// high; remaining evaluations are cancelled.
	earlyTerminationScore = 90

	// minToolScore drops tools below it after scoring.
	minToolScore = 70

	// maxSelectedTools caps the routing result list.
	maxSelectedTools = 3

	searchToolName = "search"
)

// routeTools scores every applicable tool against the query in parallel
// and records the top candidates on the request state. Skipped entirely
// in summarize and generate modes.
func (p *Pipeline) routeTools(ctx context.Context, st *state.RequestState, snd *sender) {
	if st.GenerateMode == state.ModeSummarize || st.GenerateMode == state.ModeGenerate {
		return
	}

	started := time.Now()
	applicable := p.tools.ToolsForType(st.ItemType())
	if len(applicable) == 0 {
		return
	}

	var allDescriptions []string
	for _, tool := range applicable {
		allDescriptions = append(allDescriptions, tool.Description())
	}
	toolsDescription := strings.Join(allDescriptions, "\n")

	evalCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type evaluation struct {
		result state.ToolRoutingResult
		order  int
		ok     bool
	}
	evals := make([]evaluation, len(applicable))

	var (
		winnerMu sync.Mutex
		winner   *state.ToolRoutingResult
	)

	var wg sync.WaitGroup
	for i, tool := range applicable {
		wg.Add(1)
		go func(i int, tool *tooldefs.Tool) {
			defer wg.Done()

			result, ok := p.evaluateTool(evalCtx, st, tool, toolsDescription)
			if !ok {
				return
			}
			evals[i] = evaluation{result: result, order: i, ok: true}

			if result.Score >= earlyTerminationScore {
				winnerMu.Lock()
				if winner == nil {
					winner = &result
					cancel()
				}
				winnerMu.Unlock()
			}
		}(i, tool)
	}
	wg.Wait()

	var results []state.ToolRoutingResult
	if winner != nil {
		results = []state.ToolRoutingResult{*winner}
	} else {
		var kept []evaluation
		for _, ev := range evals {
			if ev.ok && ev.result.Score >= minToolScore {
				kept = append(kept, ev)
			}
		}
		sort.SliceStable(kept, func(i, j int) bool {
			if kept[i].result.Score != kept[j].result.Score {
				return kept[i].result.Score > kept[j].result.Score
			}
			return kept[i].order < kept[j].order
		})
		for _, ev := range kept {
			results = append(results, ev.result)
		}
		if len(results) == 0 {
			results = []state.ToolRoutingResult{p.searchFallback(st)}
		}
		if len(results) > maxSelectedTools {
			results = results[:maxSelectedTools]
		}
	}

	st.SetToolRoutingResults(results)

	top := results[0]
	if top.Tool != nil && top.Tool.Name != searchToolName {
		st.AbortFastTrack.Set()
	}

	msg := NewMessage(MsgToolSelection, st.QueryID)
	msg["selected_tool"] = top.Tool.Name
	msg["score"] = top.Score
	msg["parameters"] = top.Result
	msg["time_elapsed"] = time.Since(started).Seconds()
	snd.Send(msg)
}

// evaluateTool asks the LLM to score one tool for the query. A missing
// prompt or empty response drops the tool from consideration.
func (p *Pipeline) evaluateTool(ctx context.Context, st *state.RequestState, tool *tooldefs.Tool, toolsDescription string) (state.ToolRoutingResult, bool) {
	if tool.Prompt == "" {
		return state.ToolRoutingResult{}, false
	}

	vars := p.baseVars(st)
	vars.ToolDescription = tool.Description()
	vars.ToolsDescription = toolsDescription

	resp, err := p.llm.Ask(ctx, prompts.Expand(tool.Prompt, vars), tool.ReturnStruc,
		p.askOptions(st, llms.TierHigh))
	if err != nil || len(resp) == 0 {
		if ctx.Err() == nil {
			slog.Debug("tool evaluation yielded no result", "tool", tool.Name)
		}
		return state.ToolRoutingResult{}, false
	}

	score, ok := llms.Int(resp, "score")
	if !ok {
		return state.ToolRoutingResult{}, false
	}

	return state.ToolRoutingResult{Tool: tool, Score: score, Result: resp}, true
}

// searchFallback is used when every tool scores below threshold.
func (p *Pipeline) searchFallback(st *state.RequestState) state.ToolRoutingResult {
	tool := p.tools.Find(st.ItemType(), searchToolName)
	if tool == nil {
		tool = &tooldefs.Tool{Name: searchToolName}
	}
	return state.ToolRoutingResult{Tool: tool, Score: 0, Result: map[string]any{}}
}
