package retrieval

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/qdrant/go-client/qdrant"

	"github.com/threadsage/server/internal/agent/model"
	errx "github.com/threadsage/server/internal/core/error"
)

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// NewIndex connects the configured vector backend. The returned closer releases
// the connection.
func NewIndex(ctx context.Context, cfg model.RetrievalConfig, embedder Embedder) (model.VectorIndex, io.Closer, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "qdrant":
		client, err := qdrant.NewClient(&qdrant.Config{
			Host:   cfg.QdrantHost,
			Port:   cfg.QdrantPort,
			APIKey: cfg.QdrantAPIKey,
			UseTLS: cfg.QdrantUseTLS,
		})
		if err != nil {
			return nil, nil, errx.Retrieval("qdrant.connect", err)
		}
		return NewQdrantIndex(client, cfg.QdrantCollection, embedder), client, nil
	case "pgvector", "postgres":
		pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, errx.Retrieval("pgvector.connect", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, errx.Retrieval("pgvector.ping", err)
		}
		return NewPgVectorIndex(pool, cfg.PostgresTable, embedder), closerFunc(func() error {
			pool.Close()
			return nil
		}), nil
	default:
		return nil, nil, errx.New(errx.KindConfig, "retrieval.new", nil, fmt.Sprintf("unknown vector backend %q", cfg.Backend))
	}
}
