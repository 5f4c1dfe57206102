package model

import (
	"strings"

	"github.com/cloudwego/eino/schema"
)

// Mode controls whether a run may escalate to live web search.
type Mode string

const (
	ModeInternal Mode = "INTERNAL"
	ModeExternal Mode = "EXTERNAL"
)

// ParseMode maps user input onto a Mode; anything but EXTERNAL is INTERNAL.
func ParseMode(v string) Mode {
	if strings.EqualFold(strings.TrimSpace(v), string(ModeExternal)) {
		return ModeExternal
	}
	return ModeInternal
}

// Decode implements envconfig.Decoder.
func (m *Mode) Decode(value string) error {
	*m = ParseMode(value)
	return nil
}

// Action is the decision Generate makes about what the run does next.
type Action string

const (
	ActionUnset              Action = ""
	ActionAnswer             Action = "answer"
	ActionWebSearch          Action = "web_search"
	ActionDocumentSummarizer Action = "document_summarizer"
	ActionGlobalSummarizer   Action = "global_summarizer"
	ActionFailure            Action = "failure"
)

// Actions lists every known action, unset included.
var Actions = []Action{
	ActionUnset,
	ActionAnswer,
	ActionWebSearch,
	ActionDocumentSummarizer,
	ActionGlobalSummarizer,
	ActionFailure,
}

// AfterSummary is what a summarizer node asks SummaryRouter to do next.
type AfterSummary string

const (
	AfterSummaryUnset    AfterSummary = ""
	AfterSummaryAnswer   AfterSummary = "answer"
	AfterSummaryGenerate AfterSummary = "generate"
)

// AfterSummaries lists every known after-summary value, unset included.
var AfterSummaries = []AfterSummary{
	AfterSummaryUnset,
	AfterSummaryAnswer,
	AfterSummaryGenerate,
}

// Endpoint selects the model and base URL an LLM call goes to.
type Endpoint struct {
	Model   string `json:"model"`
	BaseURL string `json:"base_url,omitempty"`
}

// InitialSearch is web context gathered before a run starts (EXTERNAL only).
type InitialSearch struct {
	Answer  string         `json:"answer"`
	Results []SearchResult `json:"results"`
}

// RunState is the mutable context of exactly one graph run. It is created per
// sub-query and never shared between runs.
type RunState struct {
	RunID    string
	UserID   string
	ThreadID string

	OriginalQuery string
	ResolvedQuery string
	Query         string

	// History is append-only within a run.
	History []*schema.Message

	// Chunks is replaced on every retrieval.
	Chunks []Chunk

	WebSearch        bool
	WebSearchQueries []string
	WebSearchResults []SearchResponse
	InitialSearch    *InitialSearch

	DocumentID   string
	Summary      string
	AfterSummary AfterSummary

	Action     Action
	Answer     string
	ChunksUsed []ChunkCitation

	// Counters only ever grow within a run.
	Attempts          int
	WebSearchAttempts int
	SummaryVisits     int

	Mode     Mode
	Endpoint Endpoint
}

// EffectiveQuery returns the first non-empty of Query, ResolvedQuery and OriginalQuery.
func (s *RunState) EffectiveQuery() string {
	for _, q := range []string{s.Query, s.ResolvedQuery, s.OriginalQuery} {
		if strings.TrimSpace(q) != "" {
			return q
		}
	}
	return ""
}

// AppendHistory appends messages, skipping nils.
func (s *RunState) AppendHistory(msgs ...*schema.Message) {
	for _, m := range msgs {
		if m != nil {
			s.History = append(s.History, m)
		}
	}
}

// CloneHistory copies the message slice and every message in it so a run can
// append without touching the caller's history.
func CloneHistory(msgs []*schema.Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(msgs))
	for _, m := range msgs {
		if m == nil {
			continue
		}
		c := *m
		out = append(out, &c)
	}
	return out
}
