package prompts

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"github.com/threadsage/server/internal/agent/graph/conversations"
	"github.com/threadsage/server/internal/agent/model"
	logx "github.com/threadsage/server/pkg/logger"
)

// MaxSubQueries caps how many sub-questions decomposition may produce.
const MaxSubQueries = 10

var (
	//go:embed template/generate_system.tmpl
	generateSystemTpl string
	//go:embed template/generate_question.tmpl
	generateQuestionTpl string
	//go:embed template/decomposition_system.tmpl
	decompositionSystemTpl string
	//go:embed template/decomposition_question.tmpl
	decompositionQuestionTpl string
	//go:embed template/combination_system.tmpl
	combinationSystemTpl string
	//go:embed template/combination_question.tmpl
	combinationQuestionTpl string
)

// Builder renders the messages of every prompt through eino prompt templates,
// so prompt callbacks fire for each render.
type Builder struct {
	historyTurns int
	chunkBudget  int
	counter      TokenCounter
}

func NewBuilder(historyTurns, chunkTokenBudget int) *Builder {
	counter, err := DefaultCounter()
	if err != nil {
		logx.Warn().Err(err).Msg("tiktoken unavailable, estimating chunk tokens from length")
		counter = approxCounter{}
	}
	return &Builder{historyTurns: historyTurns, chunkBudget: chunkTokenBudget, counter: counter}
}

// Generate renders the decision prompt for s: instructions, retrieved chunks,
// prior web context, recent history, running summary, web results, question.
func (b *Builder) Generate(ctx context.Context, s *model.RunState) ([]*schema.Message, error) {
	external := s.Mode == model.ModeExternal
	chunks := FitChunks(s.Chunks, b.chunkBudget, b.counter)

	var contextMsgs []*schema.Message
	if len(chunks) > 0 {
		contextMsgs = append(contextMsgs, schema.SystemMessage("**Document Chunks (Context):**\n"+formatChunks(chunks)))
	}
	if external && s.InitialSearch != nil {
		if s.InitialSearch.Answer != "" {
			contextMsgs = append(contextMsgs, schema.SystemMessage("**Initial Web Search Answer:**\n"+s.InitialSearch.Answer))
		}
		if len(s.InitialSearch.Results) > 0 {
			contextMsgs = append(contextMsgs, schema.SystemMessage("**Initial External Knowledge Sources:**\n"+formatResults(s.InitialSearch.Results)))
		}
	}

	var followup []*schema.Message
	if s.Summary != "" {
		followup = append(followup, schema.SystemMessage("**Summary Reference:**\n"+s.Summary))
	}
	if len(s.WebSearchResults) > 0 {
		var sb strings.Builder
		for _, r := range s.WebSearchResults {
			fmt.Fprintf(&sb, "Query: %s\n", r.Query)
			if r.Answer != "" {
				fmt.Fprintf(&sb, "Answer: %s\n", r.Answer)
			}
			sb.WriteString(formatResults(r.Results))
			sb.WriteString("\n")
		}
		followup = append(followup, schema.SystemMessage("**Web Search Results:**\n"+strings.TrimSpace(sb.String())))
	}

	tpl := prompt.FromMessages(
		schema.GoTemplate,
		schema.SystemMessage(generateSystemTpl),
		schema.MessagesPlaceholder("context", true),
		schema.MessagesPlaceholder("history", true),
		schema.MessagesPlaceholder("followup", true),
		schema.UserMessage(generateQuestionTpl),
	)
	msgs, err := tpl.Format(promptContext(ctx, "generate"), map[string]any{
		"External": external,
		"Question": s.EffectiveQuery(),
		"context":  contextMsgs,
		"history":  conversations.RecentHistory(s.History, b.historyTurns),
		"followup": followup,
	})
	if err != nil {
		return nil, fmt.Errorf("generate prompt render: %w", err)
	}
	return msgs, nil
}

// Decomposition renders the decomposition prompt over the recent history.
func (b *Builder) Decomposition(ctx context.Context, question string, history []*schema.Message) ([]*schema.Message, error) {
	tpl := prompt.FromMessages(
		schema.GoTemplate,
		schema.SystemMessage(decompositionSystemTpl),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage(decompositionQuestionTpl),
	)
	msgs, err := tpl.Format(promptContext(ctx, "decomposition"), map[string]any{
		"MaxSubQueries": MaxSubQueries,
		"Question":      question,
		"history":       conversations.RecentHistory(history, b.historyTurns),
	})
	if err != nil {
		return nil, fmt.Errorf("decomposition prompt render: %w", err)
	}
	return msgs, nil
}

type subAnswerView struct {
	N         int
	SubQuery  string
	SubAnswer string
}

// Combination renders the prompt that merges ordered sub-answers.
func (b *Builder) Combination(ctx context.Context, question string, subAnswers []model.SubAnswer) ([]*schema.Message, error) {
	views := make([]subAnswerView, len(subAnswers))
	for i, sa := range subAnswers {
		views[i] = subAnswerView{N: i + 1, SubQuery: sa.SubQuery, SubAnswer: strings.TrimSpace(sa.SubAnswer)}
	}

	tpl := prompt.FromMessages(
		schema.GoTemplate,
		schema.SystemMessage(combinationSystemTpl),
		schema.UserMessage(combinationQuestionTpl),
	)
	msgs, err := tpl.Format(promptContext(ctx, "combination"), map[string]any{
		"Question":   question,
		"SubAnswers": views,
	})
	if err != nil {
		return nil, fmt.Errorf("combination prompt render: %w", err)
	}
	return msgs, nil
}

func formatChunks(chunks []model.Chunk) string {
	var sb strings.Builder
	for i, c := range chunks {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "[%d] document_id: %s | page_no: %d | chunk_index: %d | title: %s\n%s",
			i+1, c.Metadata.DocumentID, c.Metadata.PageNo, c.Metadata.ChunkIndex, c.Metadata.Title, strings.TrimSpace(c.Text))
	}
	return sb.String()
}

func formatResults(results []model.SearchResult) string {
	var sb strings.Builder
	for i, r := range results {
		fmt.Fprintf(&sb, "%d. %s (%s)\n%s\n", i+1, r.Title, r.URL, strings.TrimSpace(r.Content))
	}
	return strings.TrimSpace(sb.String())
}

func promptContext(ctx context.Context, name string) context.Context {
	return callbacks.ReuseHandlers(ctx, &callbacks.RunInfo{
		Name:      name,
		Type:      "GoTemplate",
		Component: components.ComponentOfPrompt,
	})
}
