package nodes

import (
	"github.com/threadsage/server/internal/agent/model"
	logx "github.com/threadsage/server/pkg/logger"
)

// Route picks the node after Generate from the decided action.
func Route(s *model.RunState, limits model.LimitsConfig) Node {
	switch s.Action {
	case model.ActionAnswer:
		return NodeAnswer
	case model.ActionWebSearch:
		if s.WebSearchAttempts < limits.MaxWebSearch {
			return NodeWebSearch
		}
		logx.Debug().
			Str("run_id", s.RunID).
			Int("web_search_attempts", s.WebSearchAttempts).
			Msg("Web search limit reached - routing to failure")
		return NodeFailure
	case model.ActionDocumentSummarizer:
		if s.SummaryVisits < limits.MaxSummaryVisits {
			return NodeDocumentSummarizer
		}
	case model.ActionGlobalSummarizer:
		if s.SummaryVisits < limits.MaxSummaryVisits {
			return NodeGlobalSummarizer
		}
	default:
		return NodeAnswer
	}

	logx.Debug().
		Str("run_id", s.RunID).
		Int("summary_visits", s.SummaryVisits).
		Msg("Summary limit reached - ending with current answer")
	return NodeAnswer
}

// RouteSummary picks the node after a summarizer.
func RouteSummary(s *model.RunState) Node {
	if s.AfterSummary == model.AfterSummaryGenerate {
		return NodeGenerate
	}
	return NodeAnswer
}
