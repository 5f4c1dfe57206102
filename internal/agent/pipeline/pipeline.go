package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/threadsage/server/internal/agent/graph"
	"github.com/threadsage/server/internal/agent/graph/conversations"
	"github.com/threadsage/server/internal/agent/graph/prompts"
	"github.com/threadsage/server/internal/agent/llm"
	"github.com/threadsage/server/internal/agent/model"
	"github.com/threadsage/server/internal/agent/telemetry"
	logx "github.com/threadsage/server/pkg/logger"
)

// initialSearchConcurrency bounds the pre-run web searches of one query.
const initialSearchConcurrency = 4

// Request is one user question.
type Request struct {
	UserID   string     `json:"user_id"`
	ThreadID string     `json:"thread_id"`
	Question string     `json:"question"`
	Mode     model.Mode `json:"mode"`
}

// Response is the answer to a Request.
type Response struct {
	RunID         string        `json:"run_id"`
	Answer        string        `json:"answer"`
	Sources       model.Sources `json:"sources"`
	ResolvedQuery string        `json:"resolved_query"`
	Decomposed    bool          `json:"decomposed"`
	SubQueries    []string      `json:"sub_queries"`
	CostUSD       float64       `json:"cost_usd"`
}

// Config wires a Pipeline.
type Config struct {
	Runner   graph.Runner
	Gateway  llm.Gateway
	Prompts  *prompts.Builder
	Messages *conversations.MessagesManager
	// Search seeds EXTERNAL runs with an initial web search. Optional.
	Search model.SearchTool
	// Recorder keeps a log of answered queries. Optional.
	Recorder model.RunRecorder
	Metrics  *telemetry.Metrics
	Handlers []callbacks.Handler

	Policy                model.PipelineConfig
	QueryEndpoints        []model.Endpoint
	DecompositionEndpoint model.Endpoint
	CombinationEndpoint   model.Endpoint
}

// Pipeline answers questions: decomposition, one graph run per sub-question,
// then combination.
type Pipeline struct {
	runner   graph.Runner
	gateway  llm.Gateway
	prompts  *prompts.Builder
	messages *conversations.MessagesManager
	search   model.SearchTool
	recorder model.RunRecorder
	metrics  *telemetry.Metrics
	handlers []callbacks.Handler

	policy                model.PipelineConfig
	queryEndpoints        []model.Endpoint
	decompositionEndpoint model.Endpoint
	combinationEndpoint   model.Endpoint
}

func New(cfg Config) (*Pipeline, error) {
	if cfg.Runner == nil {
		return nil, errors.New("graph runner is nil")
	}
	if cfg.Gateway == nil {
		return nil, errors.New("llm gateway is nil")
	}
	if cfg.Prompts == nil {
		return nil, errors.New("prompt builder is nil")
	}
	if cfg.Messages == nil {
		return nil, errors.New("messages manager is nil")
	}
	if len(cfg.QueryEndpoints) == 0 {
		return nil, errors.New("no query endpoints configured")
	}
	if cfg.Policy.SubqueryConcurrency <= 0 {
		cfg.Policy.SubqueryConcurrency = 1
	}

	return &Pipeline{
		runner:                cfg.Runner,
		gateway:               cfg.Gateway,
		prompts:               cfg.Prompts,
		messages:              cfg.Messages,
		search:                cfg.Search,
		recorder:              cfg.Recorder,
		metrics:               cfg.Metrics,
		handlers:              cfg.Handlers,
		policy:                cfg.Policy,
		queryEndpoints:        cfg.QueryEndpoints,
		decompositionEndpoint: cfg.DecompositionEndpoint,
		combinationEndpoint:   cfg.CombinationEndpoint,
	}, nil
}

// Answer runs the whole question flow and persists the turn.
func (p *Pipeline) Answer(ctx context.Context, req Request) (resp *Response, err error) {
	started := time.Now()
	req.Question = strings.TrimSpace(req.Question)
	if req.Question == "" {
		return nil, errors.New("question is empty")
	}
	if err := model.ValidateID("user id", req.UserID); err != nil {
		return nil, err
	}
	if err := model.ValidateID("thread id", req.ThreadID); err != nil {
		return nil, err
	}
	if req.Mode == "" {
		req.Mode = p.policy.DefaultMode
	}
	req.Mode = model.ParseMode(string(req.Mode))

	runID := uuid.NewString()
	ledger := model.NewCostLedger()
	ctx = model.WithCostLedger(ctx, ledger)

	ctx, span := telemetry.Tracer().Start(ctx, "pipeline.answer")
	span.SetAttributes(
		attribute.String("run_id", runID),
		attribute.String("mode", string(req.Mode)),
	)
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		p.metrics.ObserveQuery(string(req.Mode), outcome, time.Since(started))
	}()

	log := logx.With("run_id", runID, "user_id", req.UserID, "thread_id", req.ThreadID)

	history, err := p.messages.LoadHistory(ctx, req.UserID, req.ThreadID)
	if err != nil {
		log.Warn().Err(err).Msg("Could not load conversation history - continuing without it")
		history = nil
	}

	plan, err := p.plan(ctx, req.Question, history)
	if err != nil {
		return nil, err
	}

	runs, err := p.runAll(ctx, runID, req, plan, history)
	if err != nil {
		return nil, err
	}

	answer := runs[0].Answer
	if len(runs) > 1 {
		subAnswers := make([]model.SubAnswer, len(runs))
		for i, s := range runs {
			subAnswers[i] = model.SubAnswer{SubQuery: s.Query, SubAnswer: s.Answer}
		}
		answer, err = p.Combine(ctx, plan.ResolvedQuery, subAnswers)
		if err != nil {
			return nil, err
		}
	}

	resp = &Response{
		RunID:         runID,
		Answer:        answer,
		Sources:       CollectSources(runs),
		ResolvedQuery: plan.ResolvedQuery,
		Decomposed:    plan.Decomposed,
		SubQueries:    plan.SubQueries,
		CostUSD:       ledger.Total(),
	}

	if err := p.messages.SaveTurn(ctx, req.UserID, req.ThreadID, req.Question, answer); err != nil {
		log.Error().Err(err).Msg("Error saving conversation turn")
	}
	p.record(ctx, req, resp, time.Since(started))

	log.Info().
		Bool("decomposed", resp.Decomposed).
		Int("runs", len(runs)).
		Float64("cost_usd", resp.CostUSD).
		Dur("duration", time.Since(started)).
		Msg("Query answered")
	return resp, nil
}

// plan applies the decomposition switch and fallback policy.
func (p *Pipeline) plan(ctx context.Context, question string, history []*schema.Message) (Plan, error) {
	if !p.policy.DecompositionEnabled {
		return Plan{ResolvedQuery: question, SubQueries: []string{}}, nil
	}
	plan, err := p.Decompose(ctx, question, history)
	if err == nil {
		return plan, nil
	}
	if !p.policy.DecompositionFallback {
		return Plan{}, err
	}
	logx.Warn().Err(err).Msg("Decomposition failed - answering the original question")
	return Plan{ResolvedQuery: question, SubQueries: []string{}}, nil
}

// runAll executes one graph run per planned query on a bounded pool. Results
// keep the plan's order. The first run error cancels the others.
func (p *Pipeline) runAll(ctx context.Context, runID string, req Request, plan Plan, history []*schema.Message) ([]*model.RunState, error) {
	queries := plan.Queries()
	states := make([]*model.RunState, len(queries))
	for i, q := range queries {
		s := &model.RunState{
			RunID:         fmt.Sprintf("%s-%d", runID, i),
			UserID:        req.UserID,
			ThreadID:      req.ThreadID,
			OriginalQuery: req.Question,
			ResolvedQuery: plan.ResolvedQuery,
			History:       model.CloneHistory(history),
			Mode:          req.Mode,
			Endpoint:      p.queryEndpoints[i%len(p.queryEndpoints)],
		}
		if plan.Decomposed {
			s.Query = q
		}
		states[i] = s
	}

	if req.Mode == model.ModeExternal {
		p.seedInitialSearch(ctx, states)
	}

	results := make([]*model.RunState, len(states))
	workers := pool.New().
		WithErrors().
		WithContext(ctx).
		WithCancelOnError().
		WithFirstError().
		WithMaxGoroutines(p.policy.SubqueryConcurrency)
	for i, s := range states {
		i, s := i, s
		workers.Go(func(ctx context.Context) error {
			out, err := p.runner.Run(ctx, s)
			if err != nil {
				return fmt.Errorf("run %s: %w", s.RunID, err)
			}
			results[i] = out
			return nil
		})
	}
	if err := workers.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// seedInitialSearch gives every EXTERNAL run the web results for its own
// question before it starts. Failed searches leave the run unseeded.
func (p *Pipeline) seedInitialSearch(ctx context.Context, states []*model.RunState) {
	if p.search == nil {
		return
	}
	var g errgroup.Group
	g.SetLimit(initialSearchConcurrency)
	for _, s := range states {
		s := s
		g.Go(func() error {
			q := s.EffectiveQuery()
			res, err := p.search.Search(ctx, q)
			if err != nil {
				logx.Warn().Str("run_id", s.RunID).Str("query", q).Err(err).Msg("Initial web search failed")
				return nil
			}
			if res != nil {
				s.InitialSearch = &model.InitialSearch{Answer: res.Answer, Results: res.Results}
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (p *Pipeline) record(ctx context.Context, req Request, resp *Response, d time.Duration) {
	if p.recorder == nil {
		return
	}
	err := p.recorder.Record(ctx, model.RunRecord{
		RunID:         resp.RunID,
		UserID:        req.UserID,
		ThreadID:      req.ThreadID,
		Mode:          req.Mode,
		Question:      req.Question,
		ResolvedQuery: resp.ResolvedQuery,
		SubQueries:    resp.SubQueries,
		Decomposed:    resp.Decomposed,
		Answer:        resp.Answer,
		Sources:       resp.Sources,
		CostUSD:       resp.CostUSD,
		Duration:      d,
		CreatedAt:     time.Now().UTC(),
	})
	if err != nil {
		logx.Error().Str("run_id", resp.RunID).Err(err).Msg("Error recording run")
	}
}

// observe reports a pipeline step to the callback handlers as a lambda node.
func (p *Pipeline) observe(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	if len(p.handlers) == 0 {
		return fn(ctx)
	}
	ctx = callbacks.InitCallbacks(ctx, &callbacks.RunInfo{
		Name:      name,
		Type:      "Pipeline",
		Component: compose.ComponentOfLambda,
	}, p.handlers...)
	ctx = callbacks.OnStart(ctx, name)
	if err := fn(ctx); err != nil {
		callbacks.OnError(ctx, err)
		return err
	}
	callbacks.OnEnd(ctx, name)
	return nil
}
