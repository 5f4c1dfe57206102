package nodes

import (
	"context"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
	"golang.org/x/sync/errgroup"

	"github.com/threadsage/server/internal/agent/model"
	"github.com/threadsage/server/internal/agent/retry"
	"github.com/threadsage/server/internal/agent/telemetry"
	errx "github.com/threadsage/server/internal/core/error"
	logx "github.com/threadsage/server/pkg/logger"
)

// WebSearchFailedNote is appended to history when every fan-out attempt failed.
const WebSearchFailedNote = "Web search failed. Please try again later."

// WebSearchDeps is what the WebSearch node needs.
type WebSearchDeps struct {
	// Search may be nil when no provider is configured; every visit then fails.
	Search  model.SearchTool
	Policy  retry.Policy
	Metrics *telemetry.Metrics
}

// NewWebSearchNode runs one search per proposed query concurrently and waits
// for all of them. The whole fan-out is the retry unit. Failure is recorded in
// the state and never returned.
func NewWebSearchNode(deps WebSearchDeps) NodeFunc {
	return func(ctx context.Context, s *model.RunState) (*model.RunState, error) {
		s.WebSearchAttempts++
		queries := cleanQueries(s.WebSearchQueries)

		var results []model.SearchResponse
		_, err := retry.Do(ctx, deps.Policy, func(ctx context.Context, _ int) error {
			if deps.Search == nil {
				return retry.Permanent(errx.New(errx.KindConfig, "nodes.web_search", nil, "no search provider configured"))
			}
			if len(queries) == 0 {
				return retry.Permanent(errx.New(errx.KindSearch, "nodes.web_search", nil, "no web search queries"))
			}
			res, err := searchAll(ctx, deps.Search, queries)
			if err != nil {
				return err
			}
			results = res
			return nil
		}, func(attempt int, err error, wait time.Duration) {
			deps.Metrics.ObserveRetry("web_search")
			logx.Warn().
				Str("run_id", s.RunID).
				Int("attempt", attempt).
				Dur("wait", wait).
				Err(err).
				Msg("Web search attempt failed - retrying")
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logx.Error().
				Str("run_id", s.RunID).
				Strs("queries", queries).
				Err(err).
				Msg("Web search failed")
			s.WebSearch = false
			s.WebSearchResults = nil
			s.AppendHistory(schema.AssistantMessage(WebSearchFailedNote, nil))
			return s, nil
		}

		s.WebSearch = true
		s.WebSearchResults = results
		s.AppendHistory(schema.UserMessage("Web search initiated for queries: " + strings.Join(queries, ", ")))
		logx.Debug().
			Str("run_id", s.RunID).
			Strs("queries", queries).
			Int("web_search_attempts", s.WebSearchAttempts).
			Msg("Web search completed")
		return s, nil
	}
}

// searchAll issues every query at once and joins on all of them. A failing
// query does not cancel the others.
func searchAll(ctx context.Context, search model.SearchTool, queries []string) ([]model.SearchResponse, error) {
	out := make([]model.SearchResponse, len(queries))
	var g errgroup.Group
	for i, q := range queries {
		i, q := i, q
		g.Go(func() error {
			res, err := search.Search(ctx, q)
			if err != nil {
				return err
			}
			if res == nil {
				res = &model.SearchResponse{Query: q}
			}
			out[i] = *res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
