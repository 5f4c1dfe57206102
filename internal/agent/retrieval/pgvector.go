package retrieval

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/threadsage/server/internal/agent/model"
	errx "github.com/threadsage/server/internal/core/error"
	logx "github.com/threadsage/server/pkg/logger"
)

type rowQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PgVectorIndex searches chunks stored in a Postgres table with a pgvector column.
type PgVectorIndex struct {
	db       rowQuerier
	table    string
	embedder Embedder
}

func NewPgVectorIndex(db rowQuerier, table string, embedder Embedder) *PgVectorIndex {
	return &PgVectorIndex{db: db, table: table, embedder: embedder}
}

// searchSQL returns the nearest-neighbour query and its arguments. The
// embedding is always $1.
func (p *PgVectorIndex) searchSQL(rq model.RetrievalQuery, vec []float32) (string, []any) {
	args := []any{pgvector.NewVector(vec), rq.UserID, rq.ThreadID}
	where := "user_id = $2 AND thread_id = $3"
	if rq.DocumentID != "" {
		args = append(args, rq.DocumentID)
		where += fmt.Sprintf(" AND document_id = $%d", len(args))
	}
	args = append(args, rq.TopK)
	sql := fmt.Sprintf(
		"SELECT id, content, document_id, page_no, chunk_index, file_name, title, 1 - (embedding <=> $1) AS score "+
			"FROM %s WHERE %s ORDER BY embedding <=> $1 LIMIT $%d",
		pgx.Identifier{p.table}.Sanitize(), where, len(args),
	)
	return sql, args
}

func (p *PgVectorIndex) Search(ctx context.Context, rq model.RetrievalQuery) ([]model.Chunk, error) {
	vec, err := p.embedder.Embed(ctx, rq.Text)
	if err != nil {
		return nil, errx.Retrieval("pgvector.embed", err)
	}

	sql, args := p.searchSQL(rq, vec)
	rows, err := p.db.Query(ctx, sql, args...)
	if err != nil {
		logx.Error().Err(err).Str("table", p.table).Msg("Failed to query pgvector")
		return nil, errx.Retrieval("pgvector.query", err)
	}
	defer rows.Close()

	var chunks []model.Chunk
	for rows.Next() {
		var c model.Chunk
		var score float64
		if err := rows.Scan(&c.ID, &c.Text, &c.Metadata.DocumentID, &c.Metadata.PageNo,
			&c.Metadata.ChunkIndex, &c.Metadata.FileName, &c.Metadata.Title, &score); err != nil {
			return nil, errx.Retrieval("pgvector.scan", err)
		}
		c.Score = float32(score)
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, errx.Retrieval("pgvector.rows", err)
	}
	return chunks, nil
}
