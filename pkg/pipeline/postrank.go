package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/schemaseek/schemaseek/pkg/llms"
	"github.com/schemaseek/schemaseek/pkg/prompts"
	"github.com/schemaseek/schemaseek/pkg/schemaorg"
	"github.com/schemaseek/schemaseek/pkg/state"
)

// Post-ranking prompt names.
const (
	promptSummarize   = "SummarizeResultsPrompt"
	promptSynthesize  = "SynthesizePromptForGenerate"
	promptDescription = "DescriptionPromptForGenerate"
)

// summarizeTopN caps how many answers feed the summary prompt.
const summarizeTopN = 3

// postRank runs after the ranking path has flushed: the results map,
// the summary, or the generated answer, depending on mode. Requests
// answered by a non-ranking handler (item details, comparisons,
// substitutions) skip it; those handlers emit their own terminal
// message.
func (p *Pipeline) postRank(ctx context.Context, st *state.RequestState, snd *sender, ranked bool) {
	if !ranked {
		return
	}

	answers := st.FinalRankedAnswers()
	if len(answers) == 0 {
		if !st.QueryDone() {
			snd.Send(NewMessage(MsgNoResults, st.QueryID))
		}
		return
	}

	p.maybeSendResultsMap(st, snd, answers)

	switch st.GenerateMode {
	case state.ModeSummarize:
		p.sendSummary(ctx, st, snd, answers)
	case state.ModeGenerate:
		p.sendGenerated(ctx, st, snd, answers)
	}
}

// maybeSendResultsMap emits a map message when at least half the answers
// carry a usable address.
func (p *Pipeline) maybeSendResultsMap(st *state.RequestState, snd *sender, answers []schemaorg.RankedItem) {
	type location struct {
		Title   string `json:"title"`
		Address string `json:"address"`
	}
	var locations []location

	for _, answer := range answers {
		item := schemaorg.RetrievedItem{URL: answer.URL, Schema: answer.Schema, Name: answer.Name, Site: answer.Site}
		if addr := schemaorg.ExtractAddress(item.SchemaMap()); addr != "" {
			locations = append(locations, location{Title: answer.Name, Address: addr})
		}
	}

	if len(locations)*2 < len(answers) {
		return
	}

	msg := NewMessage(MsgResultsMap, st.QueryID)
	msg["locations"] = locations
	snd.Send(msg)
}

// sendSummary runs the summarize prompt over the top answers.
func (p *Pipeline) sendSummary(ctx context.Context, st *state.RequestState, snd *sender, answers []schemaorg.RankedItem) {
	if len(answers) > summarizeTopN {
		answers = answers[:summarizeTopN]
	}

	vars := p.baseVars(st)
	vars.Answers = answerDigests(answers)

	resp := p.askPrompt(ctx, st, promptSummarize, vars, llms.TierHigh)
	if resp == nil {
		return
	}
	summary := llms.Str(resp, "summary")
	if summary == "" {
		summary = llms.Str(resp, "answer")
	}
	if summary == "" {
		return
	}

	msg := NewMessage(MsgSummary, st.QueryID)
	msg["message"] = summary
	snd.Send(msg)
}

// sendGenerated synthesizes a direct answer over the ranked items and
// attaches a per-item description produced in parallel.
func (p *Pipeline) sendGenerated(ctx context.Context, st *state.RequestState, snd *sender, answers []schemaorg.RankedItem) {
	vars := p.baseVars(st)
	vars.Answers = answerDigests(answers)

	resp := p.askPrompt(ctx, st, promptSynthesize, vars, llms.TierHigh)
	if resp == nil {
		return
	}
	answer := llms.Str(resp, "answer")
	if answer == "" {
		return
	}

	descPrompt, err := p.prompts.Find(st.Site, st.ItemType(), promptDescription)
	descriptions := make([]string, len(answers))
	if err == nil && descPrompt != nil {
		var wg sync.WaitGroup
		for i, item := range answers {
			wg.Add(1)
			go func(i int, item schemaorg.RankedItem) {
				defer wg.Done()

				itemVars := p.baseVars(st)
				itemVars.ItemDescription = string(item.Schema)

				resp, err := p.llm.Ask(ctx, prompts.Expand(descPrompt.Template, itemVars), descPrompt.Schema,
					p.askOptions(st, llms.TierHigh))
				if err != nil || len(resp) == 0 {
					return
				}
				descriptions[i] = llms.Str(resp, "description")
			}(i, item)
		}
		wg.Wait()
	}

	items := make([]map[string]any, 0, len(answers))
	for i, item := range answers {
		description := descriptions[i]
		if description == "" {
			description = item.Ranking.Description
		}
		items = append(items, map[string]any{
			"url":         item.URL,
			"name":        item.Name,
			"site":        item.Site,
			"description": description,
		})
	}

	msg := NewMessage(MsgNLWS, st.QueryID)
	msg["answer"] = answer
	msg["items"] = items
	snd.Send(msg)
}

// answerDigests renders ranked answers as prompt-ready one-liners.
func answerDigests(answers []schemaorg.RankedItem) []string {
	digests := make([]string, 0, len(answers))
	for _, a := range answers {
		var b strings.Builder
		fmt.Fprintf(&b, "%s (%s)", a.Name, a.URL)
		if a.Ranking.Description != "" {
			b.WriteString(": ")
			b.WriteString(a.Ranking.Description)
		}
		digests = append(digests, b.String())
	}
	return digests
}
