package model

import (
	"context"
	"time"
)

// VectorIndex returns the chunks most relevant to a query.
type VectorIndex interface {
	Search(ctx context.Context, q RetrievalQuery) ([]Chunk, error)
}

// SearchTool runs one web search.
type SearchTool interface {
	Search(ctx context.Context, query string) (*SearchResponse, error)
}

// ArtifactKey addresses a persisted summary. An empty FileName means the
// thread-wide summary.
type ArtifactKey struct {
	UserID   string
	ThreadID string
	FileName string
}

// IsGlobal reports whether the key addresses the thread-wide summary.
func (k ArtifactKey) IsGlobal() bool {
	return k.FileName == ""
}

// Artifact is a persisted summary blob. Only Summary is interpreted.
type Artifact struct {
	Summary string         `json:"summary"`
	Title   string         `json:"title,omitempty"`
	Extra   map[string]any `json:"-"`
}

// ArtifactStore reads summary artifacts. Missing artifacts return an error
// matching errx.ErrNotFound.
type ArtifactStore interface {
	Load(ctx context.Context, key ArtifactKey) (*Artifact, error)
}

// RunRecord is what the run log keeps for every answered query.
type RunRecord struct {
	RunID         string
	UserID        string
	ThreadID      string
	Mode          Mode
	Question      string
	ResolvedQuery string
	SubQueries    []string
	Decomposed    bool
	Answer        string
	Sources       Sources
	CostUSD       float64
	Duration      time.Duration
	CreatedAt     time.Time
}

// RunRecorder persists run records.
type RunRecorder interface {
	Record(ctx context.Context, rec RunRecord) error
}
