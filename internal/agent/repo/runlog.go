package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/threadsage/server/internal/agent/model"
	errx "github.com/threadsage/server/internal/core/error"
)

const runLogSchema = `
CREATE TABLE IF NOT EXISTS runs (
	id             TEXT PRIMARY KEY,
	user_id        TEXT NOT NULL,
	thread_id      TEXT NOT NULL,
	mode           TEXT NOT NULL,
	question       TEXT NOT NULL,
	resolved_query TEXT NOT NULL,
	sub_queries    TEXT NOT NULL,
	decomposed     INTEGER NOT NULL,
	answer         TEXT NOT NULL,
	sources        TEXT NOT NULL,
	cost_usd       REAL NOT NULL,
	duration_ms    INTEGER NOT NULL,
	created_at     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_thread ON runs (user_id, thread_id, created_at);
`

// SQLiteRunLog records answered queries in a local SQLite database.
type SQLiteRunLog struct {
	db *sql.DB
}

// OpenRunLog opens (and migrates) the run log at path.
func OpenRunLog(ctx context.Context, path string) (*SQLiteRunLog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errx.New(errx.KindStorage, "runlog.open", err, "open run log")
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, runLogSchema); err != nil {
		db.Close()
		return nil, errx.New(errx.KindStorage, "runlog.migrate", err, "migrate run log")
	}
	return &SQLiteRunLog{db: db}, nil
}

func (l *SQLiteRunLog) Close() error {
	return l.db.Close()
}

func (l *SQLiteRunLog) Record(ctx context.Context, rec model.RunRecord) error {
	subQueries, err := json.Marshal(rec.SubQueries)
	if err != nil {
		return fmt.Errorf("marshal sub queries: %w", err)
	}
	sources, err := json.Marshal(rec.Sources)
	if err != nil {
		return fmt.Errorf("marshal sources: %w", err)
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err = l.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs
		(id, user_id, thread_id, mode, question, resolved_query, sub_queries, decomposed, answer, sources, cost_usd, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.UserID, rec.ThreadID, string(rec.Mode), rec.Question, rec.ResolvedQuery,
		string(subQueries), rec.Decomposed, rec.Answer, string(sources), rec.CostUSD,
		rec.Duration.Milliseconds(), createdAt.UnixMilli(),
	)
	if err != nil {
		return errx.New(errx.KindStorage, "runlog.record", err, "record run")
	}
	return nil
}

// Recent returns the latest runs of a thread, newest first.
func (l *SQLiteRunLog) Recent(ctx context.Context, userID, threadID string, limit int) ([]model.RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, user_id, thread_id, mode, question, resolved_query, sub_queries, decomposed, answer, sources, cost_usd, duration_ms, created_at
		FROM runs
		WHERE user_id = ? AND thread_id = ?
		ORDER BY created_at DESC
		LIMIT ?`, userID, threadID, limit)
	if err != nil {
		return nil, errx.New(errx.KindStorage, "runlog.recent", err, "query runs")
	}
	defer rows.Close()

	var out []model.RunRecord
	for rows.Next() {
		var (
			rec                   model.RunRecord
			mode                  string
			subQueries, sources   string
			durationMs, createdMs int64
		)
		if err := rows.Scan(&rec.RunID, &rec.UserID, &rec.ThreadID, &mode, &rec.Question, &rec.ResolvedQuery,
			&subQueries, &rec.Decomposed, &rec.Answer, &sources, &rec.CostUSD, &durationMs, &createdMs); err != nil {
			return nil, errx.New(errx.KindStorage, "runlog.scan", err, "scan run")
		}
		rec.Mode = model.Mode(mode)
		rec.Duration = time.Duration(durationMs) * time.Millisecond
		rec.CreatedAt = time.UnixMilli(createdMs)
		if err := json.Unmarshal([]byte(subQueries), &rec.SubQueries); err != nil {
			return nil, fmt.Errorf("unmarshal sub queries: %w", err)
		}
		if err := json.Unmarshal([]byte(sources), &rec.Sources); err != nil {
			return nil, fmt.Errorf("unmarshal sources: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

var _ model.RunRecorder = (*SQLiteRunLog)(nil)
