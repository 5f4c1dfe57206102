package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/threadsage/server/internal/agent/graph"
	"github.com/threadsage/server/internal/agent/graph/conversations"
	"github.com/threadsage/server/internal/agent/graph/observers"
	"github.com/threadsage/server/internal/agent/graph/prompts"
	"github.com/threadsage/server/internal/agent/llm"
	"github.com/threadsage/server/internal/agent/model"
	"github.com/threadsage/server/internal/agent/pipeline"
	"github.com/threadsage/server/internal/agent/repo"
	"github.com/threadsage/server/internal/agent/retrieval"
	"github.com/threadsage/server/internal/agent/telemetry"
	"github.com/threadsage/server/internal/agent/tools"
	logx "github.com/threadsage/server/pkg/logger"
)

// App is the fully wired service.
type App struct {
	Pipeline *pipeline.Pipeline
	Messages *conversations.MessagesManager
	// RunLog is nil when the run log is disabled.
	RunLog  *repo.SQLiteRunLog
	Metrics http.Handler

	closers []io.Closer
}

// Close releases every connection the app opened.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// BuildApp connects every backend and composes the pipeline.
func BuildApp(ctx context.Context, cfg AppConfig) (app *App, err error) {
	app = &App{}
	defer func() {
		if err != nil {
			_ = app.Close()
			app = nil
		}
	}()

	rdb, err := cfg.Redis.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialise redis: %w", err)
	}
	app.closers = append(app.closers, rdb)
	logx.Debug().Msg("Connected to Redis successfully")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := telemetry.NewMetrics(reg)
	if cfg.Server.MetricsEnabled {
		app.Metrics = promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
	}

	models := llm.NewGeminiRegistry(cfg.LLM)
	client, err := models.Client(ctx, cfg.LLM.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("initialise gemini client: %w", err)
	}

	index, indexCloser, err := retrieval.NewIndex(ctx, cfg.Retrieval, retrieval.NewGeminiEmbedder(client, cfg.Retrieval.EmbeddingModel))
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, indexCloser)

	artifacts, err := repo.NewArtifactStore(cfg.Artifacts, rdb)
	if err != nil {
		return nil, err
	}

	search, err := newSearch(cfg.Search)
	if err != nil {
		return nil, err
	}

	if cfg.RunLog.Enabled {
		runLog, err := repo.OpenRunLog(ctx, cfg.RunLog.Path)
		if err != nil {
			return nil, err
		}
		app.RunLog = runLog
		app.closers = append(app.closers, runLog)
	}

	app.Messages = conversations.NewMessagesManager(
		repo.NewRedisConversationRepository(rdb, cfg.Conversation.TTL),
		cfg.Conversation,
	)

	gateway := llm.NewChatGateway(models, metrics)
	builder := prompts.NewBuilder(app.Messages.HistoryTurns(), cfg.Retrieval.ChunkTokenBudget)
	handlers := observers.NewAllCallbacks(metrics)

	runner, err := graph.NewRunner(ctx, &graph.Config{
		Index:     index,
		Gateway:   gateway,
		Search:    search,
		Artifacts: artifacts,
		Prompts:   builder,
		Limits:    cfg.Limits,
		TopK:      cfg.Retrieval.ChunkCount,
		Metrics:   metrics,
		Handlers:  handlers,
	})
	if err != nil {
		return nil, err
	}

	pcfg := pipeline.Config{
		Runner:                runner,
		Gateway:               gateway,
		Prompts:               builder,
		Messages:              app.Messages,
		Search:                search,
		Metrics:               metrics,
		Handlers:              handlers,
		Policy:                cfg.Pipeline,
		QueryEndpoints:        cfg.LLM.QueryEndpoints(),
		DecompositionEndpoint: cfg.LLM.DecompositionEndpoint(),
		CombinationEndpoint:   cfg.LLM.CombinationEndpoint(),
	}
	if app.RunLog != nil {
		pcfg.Recorder = app.RunLog
	}
	app.Pipeline, err = pipeline.New(pcfg)
	if err != nil {
		return nil, err
	}

	logx.Debug().Msg("Pipeline built successfully")
	return app, nil
}

// newSearch returns nil when the configured provider has no API key, which
// keeps EXTERNAL runs working without live search.
func newSearch(cfg model.SearchConfig) (model.SearchTool, error) {
	var key string
	switch strings.ToLower(cfg.Provider) {
	case "", "tavily":
		key = cfg.TavilyAPIKey
	case "serper":
		key = cfg.SerperAPIKey
	}
	tool, err := tools.NewSearchTool(cfg)
	if err != nil {
		return nil, err
	}
	if key == "" {
		logx.Warn().Str("provider", cfg.Provider).Msg("No search API key configured - web search disabled")
		return nil, nil
	}
	return tool, nil
}
