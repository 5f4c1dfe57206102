package nodes

import (
	"context"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/threadsage/server/internal/agent/graph/prompts"
	"github.com/threadsage/server/internal/agent/llm"
	"github.com/threadsage/server/internal/agent/model"
	"github.com/threadsage/server/internal/agent/retry"
	"github.com/threadsage/server/internal/agent/telemetry"
	errx "github.com/threadsage/server/internal/core/error"
	logx "github.com/threadsage/server/pkg/logger"
)

const (
	// GenerateFailedAnswer is the answer left when every generation attempt failed.
	GenerateFailedAnswer = "An error occurred while generating the answer. Please try again later."
	// FailureAnswer is the apology set by the Failure node.
	FailureAnswer = "I am unable to answer your question at this time. Please try rephrasing or asking a different question."
)

// NewRetrieverNode loads the top-K chunks for the effective question. Errors
// abort the run.
func NewRetrieverNode(index model.VectorIndex, topK int) NodeFunc {
	return func(ctx context.Context, s *model.RunState) (*model.RunState, error) {
		q := model.RetrievalQuery{
			Text:       strings.TrimSpace(s.EffectiveQuery()),
			UserID:     s.UserID,
			ThreadID:   s.ThreadID,
			DocumentID: s.DocumentID,
			TopK:       topK,
		}
		chunks, err := index.Search(ctx, q)
		if err != nil {
			logx.Error().
				Str("run_id", s.RunID).
				Str("thread_id", s.ThreadID).
				Err(err).
				Msg("Retrieval failed")
			return nil, errx.Retrieval("nodes.retriever", err)
		}

		s.Chunks = chunks
		logx.Debug().
			Str("run_id", s.RunID).
			Int("chunks", len(chunks)).
			Msg("Chunks retrieved")
		return s, nil
	}
}

// GenerateDeps is what the Generate node needs.
type GenerateDeps struct {
	Gateway llm.Gateway
	Prompts *prompts.Builder
	Policy  retry.Policy
	Metrics *telemetry.Metrics
}

// NewGenerateNode asks the model for the next action. Every failure is retried
// under the policy; when the attempts run out the run gets a fixed apology and
// the failure action instead of an error.
func NewGenerateNode(deps GenerateDeps) NodeFunc {
	return func(ctx context.Context, s *model.RunState) (*model.RunState, error) {
		var out model.GenerateOutput
		attempts, err := retry.Do(ctx, deps.Policy, func(ctx context.Context, _ int) error {
			out = model.GenerateOutput{}
			msgs, err := deps.Prompts.Generate(ctx, s)
			if err != nil {
				return err
			}
			return deps.Gateway.Invoke(ctx, llm.Request{
				Name:     "generate",
				Messages: msgs,
				Schema:   llm.GenerateSchema(s.Mode),
				Endpoint: s.Endpoint,
			}, &out)
		}, func(attempt int, err error, wait time.Duration) {
			deps.Metrics.ObserveRetry("generate")
			logx.Warn().
				Str("run_id", s.RunID).
				Int("attempt", attempt).
				Dur("wait", wait).
				Err(err).
				Msg("Generate attempt failed - retrying")
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logx.Error().
				Str("run_id", s.RunID).
				Int("attempts", attempts).
				Err(err).
				Msg("Generate exhausted all attempts")
			s.Answer = GenerateFailedAnswer
			s.Action = model.ActionFailure
			return s, nil
		}

		s.AppendHistory(
			schema.UserMessage(s.EffectiveQuery()),
			schema.AssistantMessage(out.Answer, nil),
		)
		s.Action = out.Action
		s.Answer = out.Answer
		s.ChunksUsed = out.ChunksUsed
		s.WebSearchQueries = cleanQueries(out.WebSearchQueries)
		s.Attempts++
		if out.Action == model.ActionDocumentSummarizer {
			s.DocumentID = strings.TrimSpace(out.DocumentID)
		} else {
			s.DocumentID = ""
		}

		logx.Debug().
			Str("run_id", s.RunID).
			Str("action", string(s.Action)).
			Int("attempts", s.Attempts).
			Msg("Generate decided")
		return s, nil
	}
}

// NewFailureNode ends the run with a fixed apology.
func NewFailureNode() NodeFunc {
	return func(ctx context.Context, s *model.RunState) (*model.RunState, error) {
		logx.Warn().
			Str("run_id", s.RunID).
			Int("web_search_attempts", s.WebSearchAttempts).
			Msg("Run ended in failure")
		s.AppendHistory(schema.AssistantMessage(FailureAnswer, nil))
		s.Answer = FailureAnswer
		s.Action = model.ActionFailure
		return s, nil
	}
}
