// Copyright 2025 The schemaseek Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package state holds the per-request mutable state shared by the
// precheck, ranking and post-ranking stages, plus the events they
// coordinate on.
package state

import (
	"context"
	"sync"

	"github.com/schemaseek/schemaseek/pkg/schemaorg"
	"github.com/schemaseek/schemaseek/pkg/tooldefs"
)

// GenerateMode selects the response style of a request.
type GenerateMode string

const (
	ModeNone      GenerateMode = "none"
	ModeList      GenerateMode = "list"
	ModeSummarize GenerateMode = "summarize"
	ModeGenerate  GenerateMode = "generate"
)

// Track identifies which ranking pass is running.
type Track string

const (
	TrackFastTrack               Track = "FAST_TRACK"
	TrackPostDecontextualization Track = "POST_DECONTEXTUALIZATION"
	TrackRegular                 Track = "REGULAR_TRACK"
)

// Precheck step names.
const (
	StepDetectItemType           = "DetectItemType"
	StepDetectMultiItemTypeQuery = "DetectMultiItemTypeQuery"
	StepDetectQueryType          = "DetectQueryType"
	StepDecon                    = "Decon"
	StepRelevance                = "Relevance"
	StepMemory                   = "Memory"
	StepRequiredInfo             = "RequiredInfo"
	StepQueryRewrite             = "QueryRewrite"
	StepToolSelector             = "ToolSelector"
	StepFastTrack                = "FastTrack"
)

// ToolRoutingResult is one scored tool from the router, sorted by score
// descending in RequestState.
type ToolRoutingResult struct {
	Tool   *tooldefs.Tool
	Score  int
	Result map[string]any
}

// Request carries the parsed inputs of one /ask call. These fields are
// immutable once the request starts.
type Request struct {
	Query                 string
	PrevQueries           []string
	Site                  string
	Streaming             bool
	GenerateMode          GenerateMode
	QueryID               string
	ContextURL            string
	ContextDescription    string
	DecontextualizedQuery string

	// Development-mode overrides, zeroed outside development.
	Model       string
	DB          string
	LLMProvider string
	LLMLevel    string
}

// RequestState is created on request arrival and dropped when the
// response ends. Precheck tasks mutate it concurrently, so all access to
// mutable fields goes through the methods.
type RequestState struct {
	Request

	PreChecksDone  *Event
	DeconDone      *Event
	ToolRouterDone *Event
	AbortFastTrack *Event

	// connClosed inverts the "connection alive" flag: it starts unset
	// and fires once when the client goes away.
	connClosed *Event

	mu sync.Mutex

	itemType string

	decontextualizedQuery       string
	requiresDecontextualization bool
	queryIsIrrelevant           bool
	requiredInfoFound           bool
	rewrittenQueries            []string
	toolRoutingResults          []ToolRoutingResult

	finalRetrievedItems []schemaorg.RetrievedItem
	finalRankedAnswers  []schemaorg.RankedItem

	queryDone       bool
	fastTrackWorked bool

	stepsStarted map[string]bool
	stepsDone    map[string]bool
}

// New builds the state for one request with safe defaults.
func New(req Request) *RequestState {
	return &RequestState{
		Request:           req,
		PreChecksDone:     NewEvent(),
		DeconDone:         NewEvent(),
		ToolRouterDone:    NewEvent(),
		AbortFastTrack:    NewEvent(),
		connClosed:        NewEvent(),
		itemType:          schemaorg.BaseItemType,
		requiredInfoFound: true,
		stepsStarted:      make(map[string]bool),
		stepsDone:         make(map[string]bool),
	}
}

// StartStep registers a precheck step as running.
func (s *RequestState) StartStep(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stepsStarted[name] = true
}

// FinishStep marks a step DONE. When every started step is done the
// pre-checks-done event fires. Finishing Decon or ToolSelector fires
// their dedicated events too.
func (s *RequestState) FinishStep(name string) {
	s.mu.Lock()
	s.stepsDone[name] = true
	allDone := true
	for step := range s.stepsStarted {
		if !s.stepsDone[step] {
			allDone = false
			break
		}
	}
	s.mu.Unlock()

	switch name {
	case StepDecon:
		s.DeconDone.Set()
	case StepToolSelector:
		s.ToolRouterDone.Set()
	}
	if allDone {
		s.PreChecksDone.Set()
	}
}

// WaitForDecontextualization blocks until the Decon step completes.
func (s *RequestState) WaitForDecontextualization(ctx context.Context) error {
	select {
	case <-s.DeconDone.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitForToolRouting blocks until the ToolSelector step completes.
func (s *RequestState) WaitForToolRouting(ctx context.Context) error {
	select {
	case <-s.ToolRouterDone.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PreCheckApproval blocks until all started precheck steps are DONE and
// reports whether the request should proceed to ranking.
func (s *RequestState) PreCheckApproval(ctx context.Context) bool {
	select {
	case <-s.PreChecksDone.Done():
	case <-ctx.Done():
		return false
	}
	return !s.QueryDone() && s.ConnectionAlive()
}

// ShouldAbortFastTrack evaluates every abort condition.
func (s *RequestState) ShouldAbortFastTrack() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.queryDone || s.queryIsIrrelevant || !s.requiredInfoFound || s.requiresDecontextualization {
		return true
	}
	if s.connClosed.IsSet() {
		return true
	}
	if len(s.toolRoutingResults) > 0 {
		if top := s.toolRoutingResults[0]; top.Tool != nil && top.Tool.Name != "search" {
			return true
		}
	}
	return false
}

// AbortFastTrackIfNeeded evaluates the abort conditions and latches the
// abort event when any holds. Callers re-check after every wait.
func (s *RequestState) AbortFastTrackIfNeeded() bool {
	if s.ShouldAbortFastTrack() {
		s.AbortFastTrack.Set()
		return true
	}
	return false
}

// MarkQueryDone latches query_done; no further user-visible messages may
// be produced after this.
func (s *RequestState) MarkQueryDone() {
	s.mu.Lock()
	s.queryDone = true
	s.mu.Unlock()
}

func (s *RequestState) QueryDone() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queryDone
}

// MarkConnectionClosed records that the client went away.
func (s *RequestState) MarkConnectionClosed() {
	s.connClosed.Set()
}

func (s *RequestState) ConnectionAlive() bool {
	return !s.connClosed.IsSet()
}

// SetItemType stores a namespaced schema.org type.
func (s *RequestState) SetItemType(itemType string) {
	s.mu.Lock()
	s.itemType = schemaorg.QualifyType(itemType)
	s.mu.Unlock()
}

func (s *RequestState) ItemType() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.itemType
}

// SetDecontextualization records the decontextualizer's outcome.
func (s *RequestState) SetDecontextualization(query string, required bool) {
	s.mu.Lock()
	s.decontextualizedQuery = query
	s.requiresDecontextualization = required
	s.mu.Unlock()
}

// EffectiveQuery is the decontextualized query when one exists, the raw
// query otherwise.
func (s *RequestState) EffectiveQuery() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.decontextualizedQuery != "" {
		return s.decontextualizedQuery
	}
	return s.Query
}

func (s *RequestState) RequiresDecontextualization() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requiresDecontextualization
}

func (s *RequestState) DecontextualizedQueryResult() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.decontextualizedQuery
}

func (s *RequestState) SetQueryIsIrrelevant(v bool) {
	s.mu.Lock()
	s.queryIsIrrelevant = v
	s.mu.Unlock()
}

func (s *RequestState) QueryIsIrrelevant() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queryIsIrrelevant
}

func (s *RequestState) SetRequiredInfoFound(v bool) {
	s.mu.Lock()
	s.requiredInfoFound = v
	s.mu.Unlock()
}

func (s *RequestState) RequiredInfoFound() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requiredInfoFound
}

// SetRewrittenQueries keeps at most five keyword rewrites.
func (s *RequestState) SetRewrittenQueries(queries []string) {
	if len(queries) > 5 {
		queries = queries[:5]
	}
	s.mu.Lock()
	s.rewrittenQueries = queries
	s.mu.Unlock()
}

func (s *RequestState) RewrittenQueries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rewrittenQueries
}

// SetToolRoutingResults stores the router's scored tools, expected sorted
// by score descending.
func (s *RequestState) SetToolRoutingResults(results []ToolRoutingResult) {
	s.mu.Lock()
	s.toolRoutingResults = results
	s.mu.Unlock()
}

func (s *RequestState) ToolRoutingResults() []ToolRoutingResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.toolRoutingResults
}

// TopTool returns the highest-scoring routed tool, or nil before routing.
func (s *RequestState) TopTool() *tooldefs.Tool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.toolRoutingResults) == 0 {
		return nil
	}
	return s.toolRoutingResults[0].Tool
}

func (s *RequestState) SetFinalRetrievedItems(items []schemaorg.RetrievedItem) {
	s.mu.Lock()
	s.finalRetrievedItems = items
	s.mu.Unlock()
}

func (s *RequestState) FinalRetrievedItems() []schemaorg.RetrievedItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finalRetrievedItems
}

func (s *RequestState) SetFinalRankedAnswers(answers []schemaorg.RankedItem) {
	s.mu.Lock()
	s.finalRankedAnswers = answers
	s.mu.Unlock()
}

func (s *RequestState) FinalRankedAnswers() []schemaorg.RankedItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finalRankedAnswers
}

// SetFastTrackWorked latches the flag; the regular ranking pass becomes a
// no-op for items the fast track already sent.
func (s *RequestState) SetFastTrackWorked() {
	s.mu.Lock()
	s.fastTrackWorked = true
	s.mu.Unlock()
}

func (s *RequestState) FastTrackWorked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fastTrackWorked
}

// FastTrackEligible reports whether the fast track may run at all.
func (s *RequestState) FastTrackEligible() bool {
	return s.ContextURL == "" && len(s.PrevQueries) == 0
}
