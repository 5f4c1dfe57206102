package pipeline

import (
	"context"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/threadsage/server/internal/agent/graph/prompts"
	"github.com/threadsage/server/internal/agent/llm"
	"github.com/threadsage/server/internal/agent/model"
	logx "github.com/threadsage/server/pkg/logger"
)

// Plan is how a question is split into graph runs.
type Plan struct {
	ResolvedQuery string
	SubQueries    []string
	Decomposed    bool
}

// Queries returns the effective question of every run, in order.
func (p Plan) Queries() []string {
	if p.Decomposed {
		return p.SubQueries
	}
	return []string{p.ResolvedQuery}
}

// NormalizeDecomposition turns the model output into a Plan. A blank resolved
// query falls back to question. Sub-queries are trimmed, de-duplicated and
// capped; fewer than two downgrades the plan to a single run.
func NormalizeDecomposition(out model.DecompositionOutput, question string) Plan {
	resolved := strings.TrimSpace(out.ResolvedQuery)
	if resolved == "" {
		resolved = strings.TrimSpace(question)
	}
	plan := Plan{ResolvedQuery: resolved, SubQueries: []string{}}
	if !out.RequiresDecomposition {
		return plan
	}

	seen := make(map[string]struct{}, len(out.SubQueries))
	for _, q := range out.SubQueries {
		q = strings.TrimSpace(q)
		if q == "" {
			continue
		}
		key := strings.ToLower(q)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		plan.SubQueries = append(plan.SubQueries, q)
		if len(plan.SubQueries) == prompts.MaxSubQueries {
			break
		}
	}
	if len(plan.SubQueries) < 2 {
		plan.SubQueries = []string{}
		return plan
	}
	plan.Decomposed = true
	return plan
}

// Decompose asks the model whether the question needs splitting. Gateway
// errors are returned as is.
func (p *Pipeline) Decompose(ctx context.Context, question string, history []*schema.Message) (Plan, error) {
	var out model.DecompositionOutput
	err := p.observe(ctx, "decomposition", func(ctx context.Context) error {
		msgs, err := p.prompts.Decomposition(ctx, question, history)
		if err != nil {
			return err
		}
		return p.gateway.Invoke(ctx, llm.Request{
			Name:     "decomposition",
			Messages: msgs,
			Schema:   llm.DecompositionSchema,
			Endpoint: p.decompositionEndpoint,
		}, &out)
	})
	if err != nil {
		return Plan{}, err
	}

	plan := NormalizeDecomposition(out, question)
	logx.Debug().
		Bool("decomposed", plan.Decomposed).
		Str("resolved_query", plan.ResolvedQuery).
		Strs("sub_queries", plan.SubQueries).
		Msg("Question decomposed")
	return plan, nil
}

// Combine merges ordered sub-answers into one answer. Errors are returned as is.
func (p *Pipeline) Combine(ctx context.Context, question string, subAnswers []model.SubAnswer) (string, error) {
	var out model.CombinationOutput
	err := p.observe(ctx, "combination", func(ctx context.Context) error {
		msgs, err := p.prompts.Combination(ctx, question, subAnswers)
		if err != nil {
			return err
		}
		return p.gateway.Invoke(ctx, llm.Request{
			Name:     "combination",
			Messages: msgs,
			Schema:   llm.CombinationSchema,
			Endpoint: p.combinationEndpoint,
		}, &out)
	})
	if err != nil {
		return "", err
	}
	return out.Answer, nil
}
