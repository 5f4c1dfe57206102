package cmd

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/threadsage/server/internal/agent/model"
	"github.com/threadsage/server/internal/core"
	logx "github.com/threadsage/server/pkg/logger"
	pkgredis "github.com/threadsage/server/pkg/redis"
)

// AppConfig defines all configurable parameters of the service, sourced from
// environment variables (loaded from .env for local runs).
type AppConfig struct {
	Environment core.Environment `envconfig:"ENVIRONMENT" default:"development"`

	// Infrastructure
	Redis pkgredis.Config

	// LLM provider
	LLM model.LLMConfig

	// Agent configs
	Limits       model.LimitsConfig
	Retrieval    model.RetrievalConfig
	Search       model.SearchConfig
	Artifacts    model.ArtifactConfig
	Conversation model.ConversationConfig
	Pipeline     model.PipelineConfig
	RunLog       model.RunLogConfig
	Server       model.ServerConfig
}

// LoadConfig reads envFile when present, then the environment.
func LoadConfig(envFile string) (AppConfig, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			logx.Warn().Str("file", envFile).Err(err).Msg("Could not load env file")
		}
	}

	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("process environment config: %w", err)
	}
	cfg.Limits = cfg.Limits.Normalize()
	return cfg, nil
}
