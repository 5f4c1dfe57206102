package model

import (
	"strings"
	"time"
)

// ================ Config ================

// LimitsConfig bounds every loop and retry inside a graph run.
type LimitsConfig struct {
	MaxWebSearch         int           `envconfig:"AGENT_MAX_WEB_SEARCH" default:"2"`
	GenerateMaxAttempts  int           `envconfig:"AGENT_GENERATE_MAX_ATTEMPTS" default:"8"`
	GenerateBackoff      time.Duration `envconfig:"AGENT_GENERATE_BACKOFF" default:"1s"`
	WebSearchMaxAttempts int           `envconfig:"AGENT_WEB_SEARCH_MAX_ATTEMPTS" default:"3"`
	WebSearchBackoff     time.Duration `envconfig:"AGENT_WEB_SEARCH_BACKOFF" default:"500ms"`
	MaxSummaryVisits     int           `envconfig:"AGENT_MAX_SUMMARY_VISITS" default:"2"`
}

// DefaultLimits returns the limits used when nothing is configured.
func DefaultLimits() LimitsConfig {
	return LimitsConfig{
		MaxWebSearch:         2,
		GenerateMaxAttempts:  8,
		GenerateBackoff:      time.Second,
		WebSearchMaxAttempts: 3,
		WebSearchBackoff:     500 * time.Millisecond,
		MaxSummaryVisits:     2,
	}
}

// Normalize replaces non-positive values with the defaults. Zero backoffs are kept.
func (c LimitsConfig) Normalize() LimitsConfig {
	d := DefaultLimits()
	if c.MaxWebSearch <= 0 {
		c.MaxWebSearch = d.MaxWebSearch
	}
	if c.GenerateMaxAttempts <= 0 {
		c.GenerateMaxAttempts = d.GenerateMaxAttempts
	}
	if c.GenerateBackoff < 0 {
		c.GenerateBackoff = d.GenerateBackoff
	}
	if c.WebSearchMaxAttempts <= 0 {
		c.WebSearchMaxAttempts = d.WebSearchMaxAttempts
	}
	if c.WebSearchBackoff < 0 {
		c.WebSearchBackoff = d.WebSearchBackoff
	}
	if c.MaxSummaryVisits <= 0 {
		c.MaxSummaryVisits = d.MaxSummaryVisits
	}
	return c
}

// LLMConfig configures the Gemini endpoints used by each prompt.
type LLMConfig struct {
	APIKey  string `envconfig:"GEMINI_API_KEY" required:"true"`
	BaseURL string `envconfig:"GEMINI_BASE_URL"`

	// QueryModels are rotated across sub-query runs.
	QueryModels        []string `envconfig:"LLM_QUERY_MODELS" default:"gemini-2.5-flash"`
	DecompositionModel string   `envconfig:"LLM_DECOMPOSITION_MODEL" default:"gemini-2.5-flash-lite"`
	CombinationModel   string   `envconfig:"LLM_COMBINATION_MODEL" default:"gemini-2.5-flash"`

	Temperature    float32 `envconfig:"LLM_TEMPERATURE" default:"0.2"`
	MaxTokens      int     `envconfig:"LLM_MAX_TOKENS" default:"4096"`
	ThinkingBudget int32   `envconfig:"LLM_THINKING_BUDGET" default:"1024"`
}

// QueryEndpoints returns one endpoint per configured query model.
func (c LLMConfig) QueryEndpoints() []Endpoint {
	var out []Endpoint
	for _, m := range c.QueryModels {
		if m = strings.TrimSpace(m); m != "" {
			out = append(out, Endpoint{Model: m, BaseURL: c.BaseURL})
		}
	}
	return out
}

func (c LLMConfig) DecompositionEndpoint() Endpoint {
	return Endpoint{Model: c.DecompositionModel, BaseURL: c.BaseURL}
}

func (c LLMConfig) CombinationEndpoint() Endpoint {
	return Endpoint{Model: c.CombinationModel, BaseURL: c.BaseURL}
}

// RetrievalConfig selects and configures the vector index.
type RetrievalConfig struct {
	ChunkCount       int    `envconfig:"AGENT_CHUNK_COUNT" default:"12"`
	ChunkTokenBudget int    `envconfig:"AGENT_CHUNK_TOKEN_BUDGET" default:"6000"`
	Backend          string `envconfig:"VECTOR_BACKEND" default:"qdrant"`
	EmbeddingModel   string `envconfig:"EMBEDDING_MODEL" default:"text-embedding-004"`

	QdrantHost       string `envconfig:"QDRANT_HOST" default:"localhost"`
	QdrantPort       int    `envconfig:"QDRANT_PORT" default:"6334"`
	QdrantAPIKey     string `envconfig:"QDRANT_API_KEY"`
	QdrantUseTLS     bool   `envconfig:"QDRANT_USE_TLS" default:"false"`
	QdrantCollection string `envconfig:"QDRANT_COLLECTION" default:"chunks"`

	PostgresDSN   string `envconfig:"PGVECTOR_DSN"`
	PostgresTable string `envconfig:"PGVECTOR_TABLE" default:"chunks"`
}

// SearchConfig configures the web search provider.
type SearchConfig struct {
	Provider      string        `envconfig:"SEARCH_PROVIDER" default:"tavily"`
	TavilyAPIKey  string        `envconfig:"TAVILY_API_KEY"`
	TavilyBaseURL string        `envconfig:"TAVILY_BASE_URL" default:"https://api.tavily.com"`
	SerperAPIKey  string        `envconfig:"SERPER_API_KEY"`
	SerperBaseURL string        `envconfig:"SERPER_BASE_URL" default:"https://google.serper.dev"`
	MaxResults    int           `envconfig:"SEARCH_MAX_RESULTS" default:"5"`
	Timeout       time.Duration `envconfig:"SEARCH_TIMEOUT" default:"20s"`
}

// ArtifactConfig selects where summary artifacts are read from.
type ArtifactConfig struct {
	Backend string `envconfig:"ARTIFACT_BACKEND" default:"file"`
	DataDir string `envconfig:"ARTIFACT_DATA_DIR" default:"data"`
}

type ConversationConfig struct {
	TTL          time.Duration `envconfig:"CONVERSATION_TTL" default:"720h"`
	HistoryTurns int           `envconfig:"AGENT_HISTORY_TURNS" default:"5"`
}

// PipelineConfig holds the decomposition and fan-out policy.
type PipelineConfig struct {
	DecompositionEnabled  bool `envconfig:"AGENT_DECOMPOSITION_ENABLED" default:"true"`
	DecompositionFallback bool `envconfig:"DECOMPOSITION_FALLBACK" default:"true"`
	SubqueryConcurrency   int  `envconfig:"SUBQUERY_CONCURRENCY" default:"1"`
	DefaultMode           Mode `envconfig:"AGENT_DEFAULT_MODE" default:"INTERNAL"`
}

type RunLogConfig struct {
	Enabled bool   `envconfig:"RUNLOG_ENABLED" default:"true"`
	Path    string `envconfig:"RUNLOG_PATH" default:"threadsage.db"`
}

type ServerConfig struct {
	Addr           string        `envconfig:"HTTP_ADDR" default:":8080"`
	RequestTimeout time.Duration `envconfig:"HTTP_REQUEST_TIMEOUT" default:"5m"`
	MetricsEnabled bool          `envconfig:"METRICS_ENABLED" default:"true"`
}
