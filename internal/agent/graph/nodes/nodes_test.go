package nodes

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadsage/server/internal/agent/graph/prompts"
	"github.com/threadsage/server/internal/agent/llm"
	"github.com/threadsage/server/internal/agent/model"
	"github.com/threadsage/server/internal/agent/repo"
	"github.com/threadsage/server/internal/agent/retry"
	errx "github.com/threadsage/server/internal/core/error"
)

type gatewayFunc func(ctx context.Context, req llm.Request, out any) error

func (f gatewayFunc) Invoke(ctx context.Context, req llm.Request, out any) error {
	return f(ctx, req, out)
}

func respondWith(v any) gatewayFunc {
	return func(_ context.Context, _ llm.Request, out any) error {
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return json.Unmarshal(b, out)
	}
}

type indexFunc func(ctx context.Context, q model.RetrievalQuery) ([]model.Chunk, error)

func (f indexFunc) Search(ctx context.Context, q model.RetrievalQuery) ([]model.Chunk, error) {
	return f(ctx, q)
}

type searchFunc func(ctx context.Context, query string) (*model.SearchResponse, error)

func (f searchFunc) Search(ctx context.Context, query string) (*model.SearchResponse, error) {
	return f(ctx, query)
}

type memArtifacts struct {
	mu    sync.Mutex
	items map[model.ArtifactKey]*model.Artifact
	err   error
	loads []model.ArtifactKey
}

func (m *memArtifacts) Load(_ context.Context, key model.ArtifactKey) (*model.Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loads = append(m.loads, key)
	if m.err != nil {
		return nil, m.err
	}
	if a, ok := m.items[key]; ok {
		return a, nil
	}
	return nil, errx.NotFound(errx.KindArtifact, "test.load", key.FileName)
}

func newState() *model.RunState {
	return &model.RunState{
		RunID:         "run-1",
		UserID:        "u1",
		ThreadID:      "t1",
		OriginalQuery: "What does the contract say about renewals?",
		Mode:          model.ModeExternal,
		Endpoint:      model.Endpoint{Model: "gemini-2.5-flash"},
	}
}

func fastPolicy(attempts int) retry.Policy {
	return retry.Policy{Attempts: attempts, Backoff: time.Millisecond}
}

func TestRoute(t *testing.T) {
	limits := model.DefaultLimits()
	tests := []struct {
		name   string
		state  model.RunState
		expect Node
	}{
		{"answer", model.RunState{Action: model.ActionAnswer}, NodeAnswer},
		{"first web search", model.RunState{Action: model.ActionWebSearch}, NodeWebSearch},
		{"second web search", model.RunState{Action: model.ActionWebSearch, WebSearchAttempts: 1}, NodeWebSearch},
		{"third web search fails", model.RunState{Action: model.ActionWebSearch, WebSearchAttempts: 2}, NodeFailure},
		{"document summarizer", model.RunState{Action: model.ActionDocumentSummarizer}, NodeDocumentSummarizer},
		{"global summarizer", model.RunState{Action: model.ActionGlobalSummarizer, SummaryVisits: 1}, NodeGlobalSummarizer},
		{"summarizer cap", model.RunState{Action: model.ActionDocumentSummarizer, SummaryVisits: 2}, NodeAnswer},
		{"failure action ends", model.RunState{Action: model.ActionFailure}, NodeAnswer},
		{"unset ends", model.RunState{}, NodeAnswer},
		{"unknown ends", model.RunState{Action: "dance"}, NodeAnswer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := tt.state
			assert.Equal(t, tt.expect, Route(&s, limits))
		})
	}
}

func TestRouteSummary(t *testing.T) {
	assert.Equal(t, NodeAnswer, RouteSummary(&model.RunState{AfterSummary: model.AfterSummaryAnswer}))
	assert.Equal(t, NodeGenerate, RouteSummary(&model.RunState{AfterSummary: model.AfterSummaryGenerate}))
	assert.Equal(t, NodeAnswer, RouteSummary(&model.RunState{}))
}

func TestNodeKey(t *testing.T) {
	assert.Equal(t, "Generate", NodeGenerate.Key())
	assert.NotEqual(t, "Answer", NodeAnswer.Key())
}

func TestRetrieverNode(t *testing.T) {
	var got model.RetrievalQuery
	node := NewRetrieverNode(indexFunc(func(_ context.Context, q model.RetrievalQuery) ([]model.Chunk, error) {
		got = q
		return []model.Chunk{{ID: "c1", Text: "renewal is automatic"}}, nil
	}), 12)

	s := newState()
	s.ResolvedQuery = "resolved question"
	s.DocumentID = "D1"
	out, err := node(context.Background(), s)
	require.NoError(t, err)

	assert.Equal(t, "resolved question", got.Text)
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, "t1", got.ThreadID)
	assert.Equal(t, "D1", got.DocumentID)
	assert.Equal(t, 12, got.TopK)
	assert.Len(t, out.Chunks, 1)
}

func TestRetrieverNode_ErrorAbortsRun(t *testing.T) {
	node := NewRetrieverNode(indexFunc(func(context.Context, model.RetrievalQuery) ([]model.Chunk, error) {
		return nil, errors.New("index down")
	}), 12)

	_, err := node(context.Background(), newState())
	require.Error(t, err)
	assert.True(t, errx.IsKind(err, errx.KindRetrieval))
}

func TestGenerateNode_Success(t *testing.T) {
	var req llm.Request
	gw := func(ctx context.Context, r llm.Request, out any) error {
		req = r
		return respondWith(model.GenerateOutput{
			Answer:     "Renewal is automatic.",
			Action:     model.ActionAnswer,
			ChunksUsed: []model.ChunkCitation{{DocumentID: "D1", PageNo: 3}},
		})(ctx, r, out)
	}
	node := NewGenerateNode(GenerateDeps{
		Gateway: gatewayFunc(gw),
		Prompts: prompts.NewBuilder(5, 0),
		Policy:  fastPolicy(8),
	})

	s := newState()
	s.DocumentID = "stale"
	out, err := node(context.Background(), s)
	require.NoError(t, err)

	assert.Equal(t, model.ActionAnswer, out.Action)
	assert.Equal(t, "Renewal is automatic.", out.Answer)
	assert.Equal(t, 1, out.Attempts)
	assert.Empty(t, out.DocumentID)
	require.Len(t, out.ChunksUsed, 1)
	require.Len(t, out.History, 2)
	assert.Equal(t, s.OriginalQuery, out.History[0].Content)
	assert.Equal(t, "Renewal is automatic.", out.History[1].Content)

	assert.Equal(t, "generate", req.Name)
	assert.Same(t, llm.GenerateExternalSchema, req.Schema)
	assert.Equal(t, "gemini-2.5-flash", req.Endpoint.Model)
}

func TestGenerateNode_KeepsDocumentIDForSummarizer(t *testing.T) {
	node := NewGenerateNode(GenerateDeps{
		Gateway: respondWith(model.GenerateOutput{
			Answer:     "Looking at the document.",
			Action:     model.ActionDocumentSummarizer,
			DocumentID: " D123 ",
		}),
		Prompts: prompts.NewBuilder(5, 0),
		Policy:  fastPolicy(8),
	})

	out, err := node(context.Background(), newState())
	require.NoError(t, err)
	assert.Equal(t, "D123", out.DocumentID)
}

func TestGenerateNode_RetriesThenSucceeds(t *testing.T) {
	var calls int32
	gw := func(ctx context.Context, r llm.Request, out any) error {
		if atomic.AddInt32(&calls, 1) < 3 {
			return errx.New(errx.KindSchema, "test", nil, "bad json")
		}
		return respondWith(model.GenerateOutput{Answer: "ok", Action: model.ActionAnswer})(ctx, r, out)
	}
	node := NewGenerateNode(GenerateDeps{Gateway: gatewayFunc(gw), Prompts: prompts.NewBuilder(5, 0), Policy: fastPolicy(8)})

	out, err := node(context.Background(), newState())
	require.NoError(t, err)
	assert.EqualValues(t, 3, calls)
	assert.Equal(t, "ok", out.Answer)
	assert.Equal(t, 1, out.Attempts)
}

func TestGenerateNode_ExhaustionAfterEightAttempts(t *testing.T) {
	var calls int32
	gw := func(context.Context, llm.Request, any) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("transport down")
	}
	node := NewGenerateNode(GenerateDeps{Gateway: gatewayFunc(gw), Prompts: prompts.NewBuilder(5, 0), Policy: fastPolicy(8)})

	out, err := node(context.Background(), newState())
	require.NoError(t, err)
	assert.EqualValues(t, 8, calls)
	assert.Equal(t, model.ActionFailure, out.Action)
	assert.Equal(t, GenerateFailedAnswer, out.Answer)
	assert.Zero(t, out.Attempts)
	assert.Empty(t, out.History)
}

func TestWebSearchNode_Success(t *testing.T) {
	search := searchFunc(func(_ context.Context, q string) (*model.SearchResponse, error) {
		return &model.SearchResponse{Query: q, Results: []model.SearchResult{{Title: q, URL: "https://example.com/" + q}}}, nil
	})
	node := NewWebSearchNode(WebSearchDeps{Search: search, Policy: fastPolicy(3)})

	s := newState()
	s.WebSearchQueries = []string{"X", " Y ", "X", ""}
	out, err := node(context.Background(), s)
	require.NoError(t, err)

	assert.True(t, out.WebSearch)
	assert.Equal(t, 1, out.WebSearchAttempts)
	require.Len(t, out.WebSearchResults, 2)
	assert.Equal(t, "X", out.WebSearchResults[0].Query)
	assert.Equal(t, "Y", out.WebSearchResults[1].Query)
	require.Len(t, out.History, 1)
	assert.Equal(t, "Web search initiated for queries: X, Y", out.History[0].Content)
}

func TestWebSearchNode_ExhaustionClearsResults(t *testing.T) {
	var calls int32
	search := searchFunc(func(_ context.Context, q string) (*model.SearchResponse, error) {
		atomic.AddInt32(&calls, 1)
		if q == "Y" {
			return nil, errors.New("rate limited")
		}
		return &model.SearchResponse{Query: q}, nil
	})
	node := NewWebSearchNode(WebSearchDeps{Search: search, Policy: fastPolicy(3)})

	s := newState()
	s.WebSearchQueries = []string{"X", "Y"}
	s.WebSearchResults = []model.SearchResponse{{Query: "old"}}
	out, err := node(context.Background(), s)
	require.NoError(t, err)

	assert.EqualValues(t, 6, calls)
	assert.False(t, out.WebSearch)
	assert.Empty(t, out.WebSearchResults)
	assert.Equal(t, 1, out.WebSearchAttempts)
	require.Len(t, out.History, 1)
	assert.Equal(t, WebSearchFailedNote, out.History[0].Content)
}

func TestWebSearchNode_NoProvider(t *testing.T) {
	node := NewWebSearchNode(WebSearchDeps{Policy: fastPolicy(3)})

	s := newState()
	s.WebSearchQueries = []string{"X"}
	out, err := node(context.Background(), s)
	require.NoError(t, err)
	assert.False(t, out.WebSearch)
	assert.Equal(t, 1, out.WebSearchAttempts)
}

func chunksFor(docID, fileName string) []model.Chunk {
	return []model.Chunk{
		{ID: "a", Metadata: model.ChunkMetadata{DocumentID: "other", FileName: "other.pdf"}},
		{ID: "b", Metadata: model.ChunkMetadata{DocumentID: docID}},
		{ID: "c", Metadata: model.ChunkMetadata{DocumentID: docID, FileName: fileName, Title: "Service contract"}},
	}
}

func TestDocumentSummarizerNode_Hit(t *testing.T) {
	store := &memArtifacts{items: map[model.ArtifactKey]*model.Artifact{
		{UserID: "u1", ThreadID: "t1", FileName: "contract.pdf"}: {Summary: "X"},
	}}
	s := newState()
	s.DocumentID = "D1"
	s.Chunks = chunksFor("D1", "contract.pdf")

	out, err := NewDocumentSummarizerNode(store)(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, model.AfterSummaryAnswer, out.AfterSummary)
	assert.Equal(t, "Summary: \n X", out.Answer)
	assert.Equal(t, "Summary for document D1, title: Service contract, summary: X", out.Summary)
	assert.Equal(t, 1, out.SummaryVisits)
	require.Len(t, out.History, 1)
	assert.Equal(t, "Summarizing document with ID: D1", out.History[0].Content)
}

func TestDocumentSummarizerNode_ReadsIngestedFile(t *testing.T) {
	root := t.TempDir()
	parsed := filepath.Join(root, "u1", "threads", "t1", "parsed")
	require.NoError(t, os.MkdirAll(parsed, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(parsed, "contract.json"), []byte(`{"summary":"X"}`), 0o644))

	s := newState()
	s.DocumentID = "D1"
	s.Chunks = chunksFor("D1", "contract.pdf")

	out, err := NewDocumentSummarizerNode(repo.NewFileArtifactStore(root))(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, model.AfterSummaryAnswer, out.AfterSummary)
	assert.Equal(t, "Summary: \n X", out.Answer)
}

func TestDocumentSummarizerNode_Miss(t *testing.T) {
	store := &memArtifacts{}
	s := newState()
	s.DocumentID = "D1"
	s.Chunks = chunksFor("D1", "contract.pdf")

	out, err := NewDocumentSummarizerNode(store)(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, model.AfterSummaryGenerate, out.AfterSummary)
	assert.Empty(t, out.Answer)
	assert.Equal(t, DocumentSummaryMissing, out.Summary)
	require.Len(t, store.loads, 1)
	assert.Equal(t, "contract.pdf", store.loads[0].FileName)
}

func TestDocumentSummarizerNode_EmptySummaryIsMiss(t *testing.T) {
	store := &memArtifacts{items: map[model.ArtifactKey]*model.Artifact{
		{UserID: "u1", ThreadID: "t1", FileName: "contract.pdf"}: {Summary: "   "},
	}}
	s := newState()
	s.DocumentID = "D1"
	s.Chunks = chunksFor("D1", "contract.pdf")

	out, err := NewDocumentSummarizerNode(store)(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, model.AfterSummaryGenerate, out.AfterSummary)
}

func TestDocumentSummarizerNode_NoDocumentID(t *testing.T) {
	s := newState()
	s.AfterSummary = model.AfterSummaryUnset

	out, err := NewDocumentSummarizerNode(&memArtifacts{})(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, NoDocumentSummary, out.Summary)
	assert.Equal(t, model.AfterSummaryUnset, out.AfterSummary)
	assert.Empty(t, out.History)
}

func TestDocumentSummarizerNode_UnknownDocumentIsNoop(t *testing.T) {
	store := &memArtifacts{}
	s := newState()
	s.DocumentID = "D123"
	s.Answer = "previous answer"
	s.Chunks = chunksFor("D1", "contract.pdf")

	out, err := NewDocumentSummarizerNode(store)(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, "previous answer", out.Answer)
	assert.Empty(t, out.Summary)
	assert.Equal(t, model.AfterSummaryUnset, out.AfterSummary)
	assert.Empty(t, store.loads)
}

func TestGlobalSummarizerNode(t *testing.T) {
	t.Run("hit", func(t *testing.T) {
		store := &memArtifacts{items: map[model.ArtifactKey]*model.Artifact{
			{UserID: "u1", ThreadID: "t1"}: {Summary: "X"},
		}}
		out, err := NewGlobalSummarizerNode(store)(context.Background(), newState())
		require.NoError(t, err)
		assert.Equal(t, model.AfterSummaryAnswer, out.AfterSummary)
		assert.Equal(t, "X", out.Answer)
		assert.Equal(t, "Global summary of all the documents: X", out.Summary)
	})

	t.Run("miss", func(t *testing.T) {
		out, err := NewGlobalSummarizerNode(&memArtifacts{})(context.Background(), newState())
		require.NoError(t, err)
		assert.Equal(t, model.AfterSummaryGenerate, out.AfterSummary)
		assert.Equal(t, GlobalSummaryMissing, out.Summary)
		assert.Empty(t, out.Answer)
	})

	t.Run("store error reads as missing", func(t *testing.T) {
		store := &memArtifacts{err: errors.New("disk on fire")}
		out, err := NewGlobalSummarizerNode(store)(context.Background(), newState())
		require.NoError(t, err)
		assert.Equal(t, model.AfterSummaryGenerate, out.AfterSummary)
	})
}

func TestFailureNode(t *testing.T) {
	s := newState()
	s.Answer = "partial"
	s.AppendHistory(nil)

	out, err := NewFailureNode()(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, FailureAnswer, out.Answer)
	assert.Equal(t, model.ActionFailure, out.Action)
	require.Len(t, out.History, 1)
	assert.Equal(t, FailureAnswer, out.History[0].Content)
}
