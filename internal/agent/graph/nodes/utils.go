package nodes

import (
	"strings"

	"github.com/threadsage/server/internal/agent/model"
)

// cleanQueries trims queries and drops blanks and repeats, keeping order.
func cleanQueries(queries []string) []string {
	seen := make(map[string]struct{}, len(queries))
	out := make([]string, 0, len(queries))
	for _, q := range queries {
		q = strings.TrimSpace(q)
		if q == "" {
			continue
		}
		if _, ok := seen[q]; ok {
			continue
		}
		seen[q] = struct{}{}
		out = append(out, q)
	}
	return out
}

// documentFor returns the metadata of the first retrieved chunk of the
// document that names its source file.
func documentFor(chunks []model.Chunk, documentID string) (model.ChunkMetadata, bool) {
	for _, c := range chunks {
		if c.Metadata.DocumentID == documentID && c.Metadata.FileName != "" {
			return c.Metadata, true
		}
	}
	return model.ChunkMetadata{}, false
}
