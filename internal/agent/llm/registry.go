package llm

import (
	"context"
	"fmt"
	"sync"

	"github.com/cloudwego/eino-ext/components/model/gemini"
	einomodel "github.com/cloudwego/eino/components/model"
	"google.golang.org/genai"

	"github.com/threadsage/server/internal/agent/model"
	logx "github.com/threadsage/server/pkg/logger"
)

// GeminiRegistry lazily creates one Gemini chat model per endpoint and shares
// one genai client per base URL.
type GeminiRegistry struct {
	cfg model.LLMConfig

	mu      sync.Mutex
	clients map[string]*genai.Client
	models  map[model.Endpoint]*gemini.ChatModel
}

func NewGeminiRegistry(cfg model.LLMConfig) *GeminiRegistry {
	return &GeminiRegistry{
		cfg:     cfg,
		clients: map[string]*genai.Client{},
		models:  map[model.Endpoint]*gemini.ChatModel{},
	}
}

// Client returns the genai client for baseURL, creating it on first use.
func (r *GeminiRegistry) Client(ctx context.Context, baseURL string) (*genai.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clientLocked(ctx, baseURL)
}

func (r *GeminiRegistry) clientLocked(ctx context.Context, baseURL string) (*genai.Client, error) {
	if c, ok := r.clients[baseURL]; ok {
		return c, nil
	}
	clientCfg := &genai.ClientConfig{
		APIKey:  r.cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		clientCfg.HTTPOptions.BaseURL = baseURL
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		logx.Error().Err(err).Msg("Error creating Gemini client")
		return nil, fmt.Errorf("error creating Gemini client: %w", err)
	}
	r.clients[baseURL] = client
	return client, nil
}

func (r *GeminiRegistry) ChatModel(ctx context.Context, ep model.Endpoint) (einomodel.BaseChatModel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cm, ok := r.models[ep]; ok {
		return cm, nil
	}
	client, err := r.clientLocked(ctx, ep.BaseURL)
	if err != nil {
		return nil, err
	}

	temperature := r.cfg.Temperature
	maxTokens := r.cfg.MaxTokens
	cfg := &gemini.Config{
		Client:      client,
		Model:       ep.Model,
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
	}
	if r.cfg.ThinkingBudget > 0 {
		cfg.ThinkingConfig = &genai.ThinkingConfig{
			IncludeThoughts: false,
			ThinkingBudget:  genai.Ptr(r.cfg.ThinkingBudget),
		}
	}
	cm, err := gemini.NewChatModel(ctx, cfg)
	if err != nil {
		logx.Error().Err(err).Str("model", ep.Model).Msg("Error creating chat model")
		return nil, fmt.Errorf("error creating chat model %s: %w", ep.Model, err)
	}
	r.models[ep] = cm
	logx.Debug().Str("model", ep.Model).Str("base_url", ep.BaseURL).Msg("Chat model ready")
	return cm, nil
}

var _ ModelProvider = (*GeminiRegistry)(nil)
