package graph

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadsage/server/internal/agent/graph/nodes"
	"github.com/threadsage/server/internal/agent/graph/observers"
	"github.com/threadsage/server/internal/agent/graph/prompts"
	"github.com/threadsage/server/internal/agent/llm"
	"github.com/threadsage/server/internal/agent/model"
	"github.com/threadsage/server/internal/agent/telemetry"
	errx "github.com/threadsage/server/internal/core/error"
)

// scriptedGateway answers Generate calls from a script; the last entry repeats.
type scriptedGateway struct {
	calls  int32
	script []model.GenerateOutput
	err    error
}

func (g *scriptedGateway) Invoke(_ context.Context, _ llm.Request, out any) error {
	n := int(atomic.AddInt32(&g.calls, 1))
	if g.err != nil {
		return g.err
	}
	i := n - 1
	if i >= len(g.script) {
		i = len(g.script) - 1
	}
	b, err := json.Marshal(g.script[i])
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

type staticIndex struct {
	chunks []model.Chunk
	err    error
}

func (i staticIndex) Search(context.Context, model.RetrievalQuery) ([]model.Chunk, error) {
	return i.chunks, i.err
}

type countingSearch struct{ calls int32 }

func (s *countingSearch) Search(_ context.Context, q string) (*model.SearchResponse, error) {
	atomic.AddInt32(&s.calls, 1)
	return &model.SearchResponse{Query: q}, nil
}

type missingArtifacts struct{}

func (missingArtifacts) Load(_ context.Context, key model.ArtifactKey) (*model.Artifact, error) {
	return nil, errx.NotFound(errx.KindArtifact, "test.load", key.FileName)
}

func fastLimits() model.LimitsConfig {
	l := model.DefaultLimits()
	l.GenerateBackoff = time.Millisecond
	l.WebSearchBackoff = time.Millisecond
	return l
}

func newTestRunner(t *testing.T, cfg *Config) Runner {
	t.Helper()
	if cfg.Prompts == nil {
		cfg.Prompts = prompts.NewBuilder(5, 0)
	}
	if cfg.Limits == (model.LimitsConfig{}) {
		cfg.Limits = fastLimits()
	}
	r, err := NewRunner(context.Background(), cfg)
	require.NoError(t, err)
	return r
}

func TestValidateTransitions(t *testing.T) {
	require.NoError(t, ValidateTransitions(Transitions, model.DefaultLimits()))
}

func TestValidateTransitions_RejectsBrokenTables(t *testing.T) {
	copyTable := func() map[nodes.Node]Transition {
		out := make(map[nodes.Node]Transition, len(Transitions))
		for k, v := range Transitions {
			out[k] = v
		}
		return out
	}

	missing := copyTable()
	delete(missing, nodes.NodeFailure)
	assert.Error(t, ValidateTransitions(missing, model.DefaultLimits()))

	narrowed := copyTable()
	gen := narrowed[nodes.NodeGenerate]
	gen.To = []nodes.Node{nodes.NodeAnswer, nodes.NodeWebSearch, nodes.NodeDocumentSummarizer, nodes.NodeGlobalSummarizer}
	narrowed[nodes.NodeGenerate] = gen
	assert.Error(t, ValidateTransitions(narrowed, model.DefaultLimits()))

	noRouter := copyTable()
	sum := noRouter[nodes.NodeGlobalSummarizer]
	sum.Route = nil
	noRouter[nodes.NodeGlobalSummarizer] = sum
	assert.Error(t, ValidateTransitions(noRouter, model.DefaultLimits()))
}

func TestRunner_AnswersDirectly(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)
	gw := &scriptedGateway{script: []model.GenerateOutput{{Answer: "42", Action: model.ActionAnswer}}}
	r := newTestRunner(t, &Config{
		Index:    staticIndex{chunks: []model.Chunk{{Text: "the answer is 42"}}},
		Gateway:  gw,
		Metrics:  metrics,
		Handlers: observers.NewAllCallbacks(metrics),
	})

	out, err := r.Run(context.Background(), &model.RunState{RunID: "r", UserID: "u", ThreadID: "t", OriginalQuery: "answer?"})
	require.NoError(t, err)
	assert.Equal(t, "42", out.Answer)
	assert.Equal(t, model.ActionAnswer, out.Action)
	assert.EqualValues(t, 1, gw.calls)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Routes.WithLabelValues("router", string(nodes.NodeAnswer))))
	assert.Positive(t, testutil.CollectAndCount(metrics.NodeDuration))
}

func TestRunner_UnresolvableDocumentIsNoop(t *testing.T) {
	gw := &scriptedGateway{script: []model.GenerateOutput{{
		Answer:     "Let me summarize D123.",
		Action:     model.ActionDocumentSummarizer,
		DocumentID: "D123",
	}}}
	r := newTestRunner(t, &Config{
		Index: staticIndex{chunks: []model.Chunk{{
			Text:     "unrelated",
			Metadata: model.ChunkMetadata{DocumentID: "D1", FileName: "d1.pdf"},
		}}},
		Gateway:   gw,
		Artifacts: missingArtifacts{},
	})

	out, err := r.Run(context.Background(), &model.RunState{UserID: "u", ThreadID: "t", OriginalQuery: "Summarize document D123"})
	require.NoError(t, err)
	assert.Equal(t, "Let me summarize D123.", out.Answer)
	assert.Equal(t, model.AfterSummaryUnset, out.AfterSummary)
	assert.Equal(t, 1, out.SummaryVisits)
	assert.EqualValues(t, 1, gw.calls)
}

func TestRunner_RepeatedWebSearchEndsInFailure(t *testing.T) {
	gw := &scriptedGateway{script: []model.GenerateOutput{{
		Answer:           "searching",
		Action:           model.ActionWebSearch,
		WebSearchQueries: []string{"X", "Y"},
	}}}
	search := &countingSearch{}
	r := newTestRunner(t, &Config{
		Index:   staticIndex{},
		Gateway: gw,
		Search:  search,
	})

	out, err := r.Run(context.Background(), &model.RunState{
		UserID:        "u",
		ThreadID:      "t",
		OriginalQuery: "latest news",
		Mode:          model.ModeExternal,
	})
	require.NoError(t, err)
	assert.Equal(t, nodes.FailureAnswer, out.Answer)
	assert.Equal(t, model.ActionFailure, out.Action)
	assert.Equal(t, 2, out.WebSearchAttempts)
	assert.Equal(t, 3, out.Attempts)
	assert.EqualValues(t, 3, gw.calls)
	assert.EqualValues(t, 4, search.calls)
	assert.True(t, out.WebSearch)
}

func TestRunner_MissingSummaryLoopsBackToGenerate(t *testing.T) {
	gw := &scriptedGateway{script: []model.GenerateOutput{
		{Answer: "need overview", Action: model.ActionGlobalSummarizer},
		{Answer: "final", Action: model.ActionAnswer},
	}}
	r := newTestRunner(t, &Config{Index: staticIndex{}, Gateway: gw, Artifacts: missingArtifacts{}})

	out, err := r.Run(context.Background(), &model.RunState{UserID: "u", ThreadID: "t", OriginalQuery: "overview?"})
	require.NoError(t, err)
	assert.Equal(t, "final", out.Answer)
	assert.Equal(t, nodes.GlobalSummaryMissing, out.Summary)
	assert.EqualValues(t, 2, gw.calls)
}

func TestRunner_SummaryLoopIsCapped(t *testing.T) {
	gw := &scriptedGateway{script: []model.GenerateOutput{{Answer: "again", Action: model.ActionGlobalSummarizer}}}
	r := newTestRunner(t, &Config{Index: staticIndex{}, Gateway: gw, Artifacts: missingArtifacts{}})

	out, err := r.Run(context.Background(), &model.RunState{UserID: "u", ThreadID: "t", OriginalQuery: "overview?"})
	require.NoError(t, err)
	assert.Equal(t, 2, out.SummaryVisits)
	assert.EqualValues(t, 3, gw.calls)
	assert.Equal(t, "again", out.Answer)
}

func TestRunner_GenerateExhaustionEndsRun(t *testing.T) {
	gw := &scriptedGateway{err: errors.New("model unavailable")}
	r := newTestRunner(t, &Config{Index: staticIndex{}, Gateway: gw})

	out, err := r.Run(context.Background(), &model.RunState{UserID: "u", ThreadID: "t", OriginalQuery: "q"})
	require.NoError(t, err)
	assert.Equal(t, nodes.GenerateFailedAnswer, out.Answer)
	assert.Equal(t, model.ActionFailure, out.Action)
	assert.EqualValues(t, 8, gw.calls)
}

func TestRunner_RetrievalErrorAborts(t *testing.T) {
	gw := &scriptedGateway{script: []model.GenerateOutput{{Answer: "x", Action: model.ActionAnswer}}}
	r := newTestRunner(t, &Config{Index: staticIndex{err: errors.New("qdrant down")}, Gateway: gw})

	_, err := r.Run(context.Background(), &model.RunState{UserID: "u", ThreadID: "t", OriginalQuery: "q"})
	require.Error(t, err)
	assert.True(t, errx.IsKind(err, errx.KindRetrieval))
	assert.Zero(t, gw.calls)
}

func TestBuildGraph_RequiresDependencies(t *testing.T) {
	_, err := BuildGraph(context.Background(), nil)
	assert.Error(t, err)
	_, err = BuildGraph(context.Background(), &Config{Gateway: &scriptedGateway{}})
	assert.Error(t, err)
}
