package graph

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/compose"

	"github.com/threadsage/server/internal/agent/graph/nodes"
	"github.com/threadsage/server/internal/agent/graph/prompts"
	"github.com/threadsage/server/internal/agent/llm"
	"github.com/threadsage/server/internal/agent/model"
	"github.com/threadsage/server/internal/agent/retry"
	"github.com/threadsage/server/internal/agent/telemetry"
	logx "github.com/threadsage/server/pkg/logger"
)

const graphName = "threadsage_run"

// Runner executes one run of the compiled graph.
type Runner interface {
	Run(ctx context.Context, s *model.RunState) (*model.RunState, error)
}

// Config holds everything the graph nodes depend on.
type Config struct {
	Index     model.VectorIndex
	Gateway   llm.Gateway
	Search    model.SearchTool
	Artifacts model.ArtifactStore
	Prompts   *prompts.Builder
	Limits    model.LimitsConfig
	TopK      int
	Metrics   *telemetry.Metrics
	// Handlers are attached to every run.
	Handlers []callbacks.Handler
}

// GraphBuilder handles the construction of the per-query graph
type GraphBuilder struct {
	config *Config
	limits model.LimitsConfig
	graph  *compose.Graph[*model.RunState, *model.RunState]
}

type graphRunner struct {
	runnable compose.Runnable[*model.RunState, *model.RunState]
	handlers []callbacks.Handler
}

func (r *graphRunner) Run(ctx context.Context, s *model.RunState) (*model.RunState, error) {
	var opts []compose.Option
	if len(r.handlers) > 0 {
		opts = append(opts, compose.WithCallbacks(r.handlers...))
	}
	out, err := r.runnable.Invoke(ctx, s, opts...)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return s, nil
	}
	return out, nil
}

// NewRunner builds and compiles the graph and returns a Runner over it.
func NewRunner(ctx context.Context, config *Config) (Runner, error) {
	runnable, err := BuildGraph(ctx, config)
	if err != nil {
		return nil, err
	}
	logx.Debug().Msg("Run graph built successfully")
	return &graphRunner{runnable: runnable, handlers: config.Handlers}, nil
}

// BuildGraph constructs and returns the compiled per-query graph
func BuildGraph(ctx context.Context, config *Config) (compose.Runnable[*model.RunState, *model.RunState], error) {
	if config == nil {
		return nil, errors.New("graph config is nil")
	}
	if config.Index == nil {
		return nil, errors.New("vector index is nil")
	}
	if config.Gateway == nil {
		return nil, errors.New("llm gateway is nil")
	}
	if config.Prompts == nil {
		return nil, errors.New("prompt builder is nil")
	}

	limits := config.Limits.Normalize()
	if err := ValidateTransitions(Transitions, limits); err != nil {
		return nil, fmt.Errorf("invalid transitions: %w", err)
	}

	builder := &GraphBuilder{
		config: config,
		limits: limits,
		graph:  compose.NewGraph[*model.RunState, *model.RunState](),
	}

	if err := builder.addNodes(); err != nil {
		return nil, err
	}
	if err := builder.addTransitions(); err != nil {
		return nil, err
	}
	return builder.compile(ctx)
}

func (b *GraphBuilder) nodeFuncs() map[nodes.Node]nodes.NodeFunc {
	return map[nodes.Node]nodes.NodeFunc{
		nodes.NodeRetriever: nodes.NewRetrieverNode(b.config.Index, b.config.TopK),
		nodes.NodeGenerate: nodes.NewGenerateNode(nodes.GenerateDeps{
			Gateway: b.config.Gateway,
			Prompts: b.config.Prompts,
			Policy:  retry.Policy{Attempts: b.limits.GenerateMaxAttempts, Backoff: b.limits.GenerateBackoff},
			Metrics: b.config.Metrics,
		}),
		nodes.NodeWebSearch: nodes.NewWebSearchNode(nodes.WebSearchDeps{
			Search:  b.config.Search,
			Policy:  retry.Policy{Attempts: b.limits.WebSearchMaxAttempts, Backoff: b.limits.WebSearchBackoff},
			Metrics: b.config.Metrics,
		}),
		nodes.NodeDocumentSummarizer: nodes.NewDocumentSummarizerNode(b.config.Artifacts),
		nodes.NodeGlobalSummarizer:   nodes.NewGlobalSummarizerNode(b.config.Artifacts),
		nodes.NodeFailure:            nodes.NewFailureNode(),
	}
}

// addNodes adds all processing nodes to the graph
func (b *GraphBuilder) addNodes() error {
	funcs := b.nodeFuncs()
	for _, n := range nodes.Nodes {
		if n == nodes.NodeAnswer {
			continue
		}
		fn, ok := funcs[n]
		if !ok {
			return fmt.Errorf("no implementation for node %s", n)
		}
		if err := b.graph.AddLambdaNode(n.Key(), nodes.Lambda(fn), compose.WithNodeName(string(n))); err != nil {
			logx.Error().Err(err).Str("node", string(n)).Msg("Error adding node")
			return fmt.Errorf("error adding node %s: %w", n, err)
		}
	}
	return nil
}

// addTransitions wires START and every entry of the transition table
func (b *GraphBuilder) addTransitions() error {
	if err := b.graph.AddEdge(compose.START, nodes.NodeRetriever.Key()); err != nil {
		return fmt.Errorf("error adding start edge: %w", err)
	}

	for _, from := range nodes.Nodes {
		t, ok := Transitions[from]
		if !ok {
			continue
		}
		if t.Route == nil {
			if err := b.graph.AddEdge(from.Key(), t.To[0].Key()); err != nil {
				logx.Error().Err(err).Str("from", string(from)).Msg("Error adding edge")
				return fmt.Errorf("error adding edge %s -> %s: %w", from, t.To[0], err)
			}
			continue
		}

		ends := make(map[string]bool, len(t.To))
		for _, to := range t.To {
			ends[to.Key()] = true
		}
		branch := compose.NewGraphBranch(b.condition(t), ends)
		if err := b.graph.AddBranch(from.Key(), branch); err != nil {
			logx.Error().Err(err).Str("from", string(from)).Msg("Error adding branch")
			return fmt.Errorf("error adding branch from %s: %w", from, err)
		}
	}
	return nil
}

func (b *GraphBuilder) condition(t Transition) func(context.Context, *model.RunState) (string, error) {
	return func(ctx context.Context, s *model.RunState) (string, error) {
		to := t.Route(s, b.limits)
		b.config.Metrics.ObserveRoute(t.Router, string(to))
		logx.Debug().
			Str("run_id", s.RunID).
			Str("router", t.Router).
			Str("action", string(s.Action)).
			Str("to", string(to)).
			Msg("Routing")
		return to.Key(), nil
	}
}

// compile finalizes and compiles the graph
func (b *GraphBuilder) compile(ctx context.Context) (compose.Runnable[*model.RunState, *model.RunState], error) {
	// Every loop is bounded; this only guards against a wiring mistake.
	maxSteps := 10 + 4*(b.limits.MaxWebSearch+b.limits.MaxSummaryVisits)
	if maxSteps < 20 {
		maxSteps = 20
	}

	runnable, err := b.graph.Compile(ctx,
		compose.WithGraphName(graphName),
		compose.WithMaxRunSteps(maxSteps),
	)
	if err != nil {
		logx.Error().Err(err).Msg("Error compiling graph")
		return nil, fmt.Errorf("error compiling graph: %w", err)
	}

	logx.Debug().Msg("Graph compiled successfully")
	return runnable, nil
}
