package graph

import (
	"fmt"

	"github.com/threadsage/server/internal/agent/graph/nodes"
	"github.com/threadsage/server/internal/agent/model"
)

// RouteFunc picks the next node from the state of a run.
type RouteFunc func(s *model.RunState, limits model.LimitsConfig) nodes.Node

// Transition lists where a node may go next. A transition with one target is
// a plain edge; more targets need a router.
type Transition struct {
	Router string
	Route  RouteFunc
	To     []nodes.Node
}

// Transitions is the control flow of one run.
var Transitions = map[nodes.Node]Transition{
	nodes.NodeRetriever: {To: []nodes.Node{nodes.NodeGenerate}},
	nodes.NodeGenerate: {
		Router: "router",
		Route:  nodes.Route,
		To: []nodes.Node{
			nodes.NodeAnswer,
			nodes.NodeWebSearch,
			nodes.NodeDocumentSummarizer,
			nodes.NodeGlobalSummarizer,
			nodes.NodeFailure,
		},
	},
	nodes.NodeWebSearch: {To: []nodes.Node{nodes.NodeGenerate}},
	nodes.NodeDocumentSummarizer: {
		Router: "summary_router",
		Route:  routeSummary,
		To:     []nodes.Node{nodes.NodeAnswer, nodes.NodeGenerate},
	},
	nodes.NodeGlobalSummarizer: {
		Router: "summary_router",
		Route:  routeSummary,
		To:     []nodes.Node{nodes.NodeAnswer, nodes.NodeGenerate},
	},
	nodes.NodeFailure: {To: []nodes.Node{nodes.NodeAnswer}},
}

func routeSummary(s *model.RunState, _ model.LimitsConfig) nodes.Node {
	return nodes.RouteSummary(s)
}

// ValidateTransitions checks the table is complete and that every router, for
// every action, after-summary value and counter boundary, only picks one of its
// declared targets.
func ValidateTransitions(table map[nodes.Node]Transition, limits model.LimitsConfig) error {
	known := make(map[nodes.Node]bool, len(nodes.Nodes))
	for _, n := range nodes.Nodes {
		known[n] = true
	}

	for _, n := range nodes.Nodes {
		t, ok := table[n]
		if n == nodes.NodeAnswer {
			if ok {
				return fmt.Errorf("terminal node %s has outgoing transitions", n)
			}
			continue
		}
		if !ok || len(t.To) == 0 {
			return fmt.Errorf("node %s has no transitions", n)
		}
		for _, to := range t.To {
			if !known[to] {
				return fmt.Errorf("node %s targets unknown node %s", n, to)
			}
		}
		if len(t.To) > 1 && t.Route == nil {
			return fmt.Errorf("node %s has %d targets but no router", n, len(t.To))
		}
		if len(t.To) == 1 && t.Route != nil {
			return fmt.Errorf("node %s has a router but a single target", n)
		}
	}
	for n := range table {
		if !known[n] {
			return fmt.Errorf("transition from unknown node %s", n)
		}
	}

	if err := checkReachable(table); err != nil {
		return err
	}

	for _, n := range nodes.Nodes {
		t := table[n]
		if t.Route == nil {
			continue
		}
		allowed := make(map[nodes.Node]bool, len(t.To))
		for _, to := range t.To {
			allowed[to] = true
		}
		for _, s := range routerProbes(limits) {
			s := s
			if got := t.Route(&s, limits); !allowed[got] {
				return fmt.Errorf("router of %s sends action %q after_summary %q to undeclared node %s",
					n, s.Action, s.AfterSummary, got)
			}
		}
	}
	return nil
}

func checkReachable(table map[nodes.Node]Transition) error {
	seen := map[nodes.Node]bool{nodes.NodeRetriever: true}
	queue := []nodes.Node{nodes.NodeRetriever}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		for _, to := range table[n].To {
			if !seen[to] {
				seen[to] = true
				queue = append(queue, to)
			}
		}
	}
	for _, n := range nodes.Nodes {
		if !seen[n] {
			return fmt.Errorf("node %s is unreachable", n)
		}
	}
	return nil
}

// routerProbes enumerates states around every limit boundary.
func routerProbes(limits model.LimitsConfig) []model.RunState {
	webSearch := []int{0, limits.MaxWebSearch - 1, limits.MaxWebSearch, limits.MaxWebSearch + 1}
	summaries := []int{0, limits.MaxSummaryVisits - 1, limits.MaxSummaryVisits, limits.MaxSummaryVisits + 1}
	actions := append(append([]model.Action{}, model.Actions...), model.Action("unknown"))
	afters := append(append([]model.AfterSummary{}, model.AfterSummaries...), model.AfterSummary("unknown"))

	var out []model.RunState
	for _, a := range actions {
		for _, as := range afters {
			for _, w := range webSearch {
				for _, v := range summaries {
					out = append(out, model.RunState{
						Action:            a,
						AfterSummary:      as,
						WebSearchAttempts: w,
						SummaryVisits:     v,
					})
				}
			}
		}
	}
	return out
}
