package retrieval

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"

	"github.com/threadsage/server/internal/agent/model"
	errx "github.com/threadsage/server/internal/core/error"
	logx "github.com/threadsage/server/pkg/logger"
)

// Payload keys written by the ingestion pipeline.
const (
	payloadText       = "text"
	payloadUserID     = "user_id"
	payloadThreadID   = "thread_id"
	payloadDocumentID = "document_id"
	payloadPageNo     = "page_no"
	payloadChunkIndex = "chunk_index"
	payloadFileName   = "file_name"
	payloadTitle      = "title"
)

type pointQuerier interface {
	Query(ctx context.Context, request *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
}

// QdrantIndex searches chunks stored in a Qdrant collection.
type QdrantIndex struct {
	client     pointQuerier
	collection string
	embedder   Embedder
}

func NewQdrantIndex(client pointQuerier, collection string, embedder Embedder) *QdrantIndex {
	return &QdrantIndex{client: client, collection: collection, embedder: embedder}
}

func (q *QdrantIndex) Search(ctx context.Context, rq model.RetrievalQuery) ([]model.Chunk, error) {
	vec, err := q.embedder.Embed(ctx, rq.Text)
	if err != nil {
		return nil, errx.Retrieval("qdrant.embed", err)
	}

	limit := uint64(rq.TopK)
	hits, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQuery(vec...),
		Limit:          &limit,
		Filter:         scopeFilter(rq),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		logx.Error().Err(err).Str("collection", q.collection).Msg("Failed to query qdrant")
		return nil, errx.Retrieval("qdrant.query", err)
	}

	chunks := make([]model.Chunk, 0, len(hits))
	for _, hit := range hits {
		if c, ok := hitToChunk(hit); ok {
			chunks = append(chunks, c)
		}
	}
	return chunks, nil
}

func scopeFilter(rq model.RetrievalQuery) *qdrant.Filter {
	must := []*qdrant.Condition{
		qdrant.NewMatch(payloadUserID, rq.UserID),
		qdrant.NewMatch(payloadThreadID, rq.ThreadID),
	}
	if rq.DocumentID != "" {
		must = append(must, qdrant.NewMatch(payloadDocumentID, rq.DocumentID))
	}
	return &qdrant.Filter{Must: must}
}

func hitToChunk(hit *qdrant.ScoredPoint) (model.Chunk, bool) {
	payload := hit.GetPayload()
	if payload == nil {
		return model.Chunk{}, false
	}
	c := model.Chunk{
		ID:    pointID(hit.GetId()),
		Text:  stringValue(payload[payloadText]),
		Score: hit.GetScore(),
		Metadata: model.ChunkMetadata{
			DocumentID: stringValue(payload[payloadDocumentID]),
			PageNo:     int(intValue(payload[payloadPageNo])),
			ChunkIndex: int(intValue(payload[payloadChunkIndex])),
			FileName:   stringValue(payload[payloadFileName]),
			Title:      stringValue(payload[payloadTitle]),
		},
	}
	return c, c.Text != ""
}

func pointID(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	if u := id.GetUuid(); u != "" {
		return u
	}
	return fmt.Sprintf("%d", id.GetNum())
}

func stringValue(val *qdrant.Value) string {
	if val == nil {
		return ""
	}
	return val.GetStringValue()
}

func intValue(val *qdrant.Value) int64 {
	if val == nil {
		return 0
	}
	if i := val.GetIntegerValue(); i != 0 {
		return i
	}
	return int64(val.GetDoubleValue())
}
