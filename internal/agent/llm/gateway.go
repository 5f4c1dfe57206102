package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/threadsage/server/internal/agent/model"
	"github.com/threadsage/server/internal/agent/telemetry"
	errx "github.com/threadsage/server/internal/core/error"
	logx "github.com/threadsage/server/pkg/logger"
)

// Request is one structured LLM call.
type Request struct {
	// Name labels the call in logs, e.g. "generate".
	Name     string
	Messages []*schema.Message
	Schema   *Schema
	Endpoint model.Endpoint
}

// Gateway invokes a model and decodes a schema-valid response into out.
// Transport, JSON and schema failures are all returned as errors.
type Gateway interface {
	Invoke(ctx context.Context, req Request, out any) error
}

// ModelProvider resolves the chat model serving an endpoint.
type ModelProvider interface {
	ChatModel(ctx context.Context, ep model.Endpoint) (einomodel.BaseChatModel, error)
}

// ChatGateway implements Gateway on top of eino chat models.
type ChatGateway struct {
	models  ModelProvider
	metrics *telemetry.Metrics
}

func NewChatGateway(models ModelProvider, metrics *telemetry.Metrics) *ChatGateway {
	return &ChatGateway{models: models, metrics: metrics}
}

const schemaInstruction = "Respond with exactly one JSON object and nothing else. " +
	"It must validate against this JSON Schema:\n%s"

func (g *ChatGateway) Invoke(ctx context.Context, req Request, out any) error {
	if req.Schema == nil {
		return errx.New(errx.KindConfig, "llm."+req.Name, nil, "request has no schema")
	}
	cm, err := g.models.ChatModel(ctx, req.Endpoint)
	if err != nil {
		return errx.New(errx.KindGateway, "llm."+req.Name, err, "resolve chat model")
	}

	msgs := make([]*schema.Message, 0, len(req.Messages)+1)
	msgs = append(msgs, schema.SystemMessage(fmt.Sprintf(schemaInstruction, req.Schema.Doc)))
	msgs = append(msgs, req.Messages...)

	ctx = callbacks.ReuseHandlers(ctx, &callbacks.RunInfo{
		Name:      req.Name,
		Type:      "Gemini",
		Component: components.ComponentOfChatModel,
	})
	resp, err := cm.Generate(ctx, msgs)
	g.recordUsage(ctx, req, resp, err)
	if err != nil {
		return errx.New(errx.KindGateway, "llm."+req.Name, err, "model call failed")
	}
	if resp == nil {
		return errx.New(errx.KindGateway, "llm."+req.Name, nil, "model returned no message")
	}

	raw := []byte(extractJSON(resp.Content))
	if err := req.Schema.Validate(raw); err != nil {
		logx.Debug().
			Str("call", req.Name).
			Str("model", req.Endpoint.Model).
			Err(err).
			Msg("LLM response rejected")
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errx.New(errx.KindSchema, "llm."+req.Name, err, "decode response")
	}
	return nil
}

func (g *ChatGateway) recordUsage(ctx context.Context, req Request, resp *schema.Message, callErr error) {
	var usage *schema.TokenUsage
	if resp != nil && resp.ResponseMeta != nil {
		usage = resp.ResponseMeta.Usage
	}
	if usage == nil {
		g.metrics.ObserveLLMCall(req.Endpoint.Model, callErr, 0, 0, 0)
		return
	}

	inC, outC, totalC := model.ComputeCost(usage, model.ResolvePricing(req.Endpoint.Model))
	model.CostLedgerFrom(ctx).Add(req.Endpoint.Model, totalC)
	g.metrics.ObserveLLMCall(req.Endpoint.Model, callErr, usage.PromptTokens, usage.CompletionTokens, totalC)

	logx.Debug().
		Str("call", req.Name).
		Str("model", req.Endpoint.Model).
		Int("prompt_tokens", usage.PromptTokens).
		Int("completion_tokens", usage.CompletionTokens).
		Int("total_tokens", usage.TotalTokens).
		Float64("input_cost_usd", inC).
		Float64("output_cost_usd", outC).
		Float64("total_cost_usd", totalC).
		Msg("LLM usage")
}

var _ Gateway = (*ChatGateway)(nil)
