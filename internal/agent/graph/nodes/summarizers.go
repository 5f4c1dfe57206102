package nodes

import (
	"context"
	"errors"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/threadsage/server/internal/agent/model"
	errx "github.com/threadsage/server/internal/core/error"
	logx "github.com/threadsage/server/pkg/logger"
)

const (
	NoDocumentSummary      = "No summary available for this document."
	DocumentSummaryMissing = "No summary available for this document. " +
		"Use your own knowledge and context to provide an answer."
	GlobalSummaryMissing   = "No global summary available for the documents. " +
		"Use your own knowledge and context to provide an answer."
)

// NewDocumentSummarizerNode loads the stored summary of the document Generate
// asked for. Without a document id it only sets a placeholder summary and
// leaves after_summary as it was.
func NewDocumentSummarizerNode(store model.ArtifactStore) NodeFunc {
	return func(ctx context.Context, s *model.RunState) (*model.RunState, error) {
		s.SummaryVisits++
		docID := strings.TrimSpace(s.DocumentID)
		if docID == "" {
			s.Summary = NoDocumentSummary
			return s, nil
		}

		s.AppendHistory(schema.UserMessage("Summarizing document with ID: " + docID))

		meta, ok := documentFor(s.Chunks, docID)
		if !ok {
			logx.Debug().
				Str("run_id", s.RunID).
				Str("document_id", docID).
				Msg("Document not among retrieved chunks - skipping summary")
			return s, nil
		}

		summary := loadSummary(ctx, store, model.ArtifactKey{
			UserID:   s.UserID,
			ThreadID: s.ThreadID,
			FileName: meta.FileName,
		})
		if summary == "" {
			s.Summary = DocumentSummaryMissing
			s.AfterSummary = model.AfterSummaryGenerate
			return s, nil
		}

		title := meta.Title
		if title == "" {
			title = meta.FileName
		}
		s.Answer = "Summary: \n " + summary
		s.Summary = "Summary for document " + docID + ", title: " + title + ", summary: " + summary
		s.AfterSummary = model.AfterSummaryAnswer
		return s, nil
	}
}

// NewGlobalSummarizerNode loads the summary of every document in the thread.
func NewGlobalSummarizerNode(store model.ArtifactStore) NodeFunc {
	return func(ctx context.Context, s *model.RunState) (*model.RunState, error) {
		s.SummaryVisits++
		summary := loadSummary(ctx, store, model.ArtifactKey{
			UserID:   s.UserID,
			ThreadID: s.ThreadID,
		})
		if summary == "" {
			s.Summary = GlobalSummaryMissing
			s.AfterSummary = model.AfterSummaryGenerate
			return s, nil
		}

		s.Answer = summary
		s.Summary = "Global summary of all the documents: " + summary
		s.AfterSummary = model.AfterSummaryAnswer
		return s, nil
	}
}

// loadSummary returns the trimmed stored summary, or "" when there is none.
// Store errors other than not-found are logged and read as missing.
func loadSummary(ctx context.Context, store model.ArtifactStore, key model.ArtifactKey) string {
	if store == nil {
		return ""
	}
	art, err := store.Load(ctx, key)
	if err != nil {
		if !errors.Is(err, errx.ErrNotFound) {
			logx.Warn().
				Str("user_id", key.UserID).
				Str("thread_id", key.ThreadID).
				Str("file_name", key.FileName).
				Err(err).
				Msg("Artifact load failed - treating as missing")
		}
		return ""
	}
	if art == nil {
		return ""
	}
	return strings.TrimSpace(art.Summary)
}
