package llm

import (
	"context"
	"errors"
	"testing"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadsage/server/internal/agent/model"
	"github.com/threadsage/server/internal/agent/telemetry"
	errx "github.com/threadsage/server/internal/core/error"
)

type fakeChatModel struct {
	reply *schema.Message
	err   error
	seen  []*schema.Message
}

func (f *fakeChatModel) Generate(_ context.Context, in []*schema.Message, _ ...einomodel.Option) (*schema.Message, error) {
	f.seen = in
	return f.reply, f.err
}

func (f *fakeChatModel) Stream(context.Context, []*schema.Message, ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not supported")
}

type staticProvider struct{ cm einomodel.BaseChatModel }

func (p staticProvider) ChatModel(context.Context, model.Endpoint) (einomodel.BaseChatModel, error) {
	return p.cm, nil
}

func TestChatGateway_DecodesFencedJSON(t *testing.T) {
	cm := &fakeChatModel{reply: &schema.Message{
		Role:    schema.Assistant,
		Content: "```json\n{\"answer\":\"42\",\"action\":\"answer\",\"chunks_used\":[{\"document_id\":\"d1\",\"page_no\":3,\"chunk_index\":1}]}\n```",
		ResponseMeta: &schema.ResponseMeta{Usage: &schema.TokenUsage{
			PromptTokens: 1000, CompletionTokens: 100, TotalTokens: 1100,
		}},
	}}
	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)
	gw := NewChatGateway(staticProvider{cm}, metrics)

	ledger := model.NewCostLedger()
	ctx := model.WithCostLedger(context.Background(), ledger)

	var out model.GenerateOutput
	err := gw.Invoke(ctx, Request{
		Name:     "generate",
		Messages: []*schema.Message{schema.UserMessage("q")},
		Schema:   GenerateInternalSchema,
		Endpoint: model.Endpoint{Model: "gemini-2.5-flash"},
	}, &out)

	require.NoError(t, err)
	assert.Equal(t, "42", out.Answer)
	assert.Equal(t, model.ActionAnswer, out.Action)
	assert.Equal(t, []model.ChunkCitation{{DocumentID: "d1", PageNo: 3, ChunkIndex: 1}}, out.ChunksUsed)

	require.Len(t, cm.seen, 2)
	assert.Equal(t, schema.System, cm.seen[0].Role)
	assert.Contains(t, cm.seen[0].Content, "\"chunks_used\"")

	assert.Greater(t, ledger.Total(), 0.0)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.LLMCalls.WithLabelValues("gemini-2.5-flash", "ok")))
}

func TestChatGateway_RejectsWebSearchInInternalMode(t *testing.T) {
	cm := &fakeChatModel{reply: schema.AssistantMessage(`{"answer":"","action":"web_search","web_search_queries":["x"]}`, nil)}
	gw := NewChatGateway(staticProvider{cm}, nil)

	var out model.GenerateOutput
	err := gw.Invoke(context.Background(), Request{Name: "generate", Schema: GenerateSchema(model.ModeInternal)}, &out)

	require.Error(t, err)
	assert.True(t, errx.IsKind(err, errx.KindSchema))

	err = gw.Invoke(context.Background(), Request{Name: "generate", Schema: GenerateSchema(model.ModeExternal)}, &out)
	require.NoError(t, err)
	assert.Equal(t, model.ActionWebSearch, out.Action)
	assert.Equal(t, []string{"x"}, out.WebSearchQueries)
}

func TestChatGateway_WebSearchNeedsQueries(t *testing.T) {
	cm := &fakeChatModel{reply: schema.AssistantMessage(`{"answer":"","action":"web_search","web_search_queries":[]}`, nil)}
	gw := NewChatGateway(staticProvider{cm}, nil)

	var out model.GenerateOutput
	err := gw.Invoke(context.Background(), Request{Name: "generate", Schema: GenerateExternalSchema}, &out)
	assert.True(t, errx.IsKind(err, errx.KindSchema))
}

func TestChatGateway_TransportError(t *testing.T) {
	boom := errors.New("503")
	gw := NewChatGateway(staticProvider{&fakeChatModel{err: boom}}, nil)

	var out model.CombinationOutput
	err := gw.Invoke(context.Background(), Request{Name: "combination", Schema: CombinationSchema}, &out)

	assert.ErrorIs(t, err, boom)
	assert.True(t, errx.IsKind(err, errx.KindGateway))
}

func TestChatGateway_MalformedJSON(t *testing.T) {
	gw := NewChatGateway(staticProvider{&fakeChatModel{reply: schema.AssistantMessage("sorry, no json", nil)}}, nil)

	var out model.DecompositionOutput
	err := gw.Invoke(context.Background(), Request{Name: "decomposition", Schema: DecompositionSchema}, &out)
	assert.True(t, errx.IsKind(err, errx.KindSchema))
}

func TestChatGateway_MissingSchema(t *testing.T) {
	gw := NewChatGateway(staticProvider{&fakeChatModel{}}, nil)
	err := gw.Invoke(context.Background(), Request{Name: "x"}, &struct{}{})
	assert.True(t, errx.IsKind(err, errx.KindConfig))
}

func TestExtractJSON(t *testing.T) {
	assert.Equal(t, `{"a":1}`, extractJSON("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, extractJSON("Here you go: {\"a\":1} thanks"))
	assert.Equal(t, "plain", extractJSON(" plain "))
}

func TestDecompositionSchema(t *testing.T) {
	assert.NoError(t, DecompositionSchema.Validate([]byte(`{"requires_decomposition":false,"resolved_query":"q","sub_queries":[]}`)))
	assert.Error(t, DecompositionSchema.Validate([]byte(`{"requires_decomposition":false,"resolved_query":"","sub_queries":[]}`)))
	assert.Error(t, DecompositionSchema.Validate([]byte(`{"resolved_query":"q"}`)))
}
