package model

// ChunkMetadata is the source information stored next to every indexed chunk.
type ChunkMetadata struct {
	DocumentID string `json:"document_id"`
	PageNo     int    `json:"page_no"`
	ChunkIndex int    `json:"chunk_index"`
	FileName   string `json:"file_name"`
	Title      string `json:"title"`
}

// Chunk is one retrieved fragment of document text.
type Chunk struct {
	ID       string        `json:"id"`
	Text     string        `json:"text"`
	Score    float32       `json:"score"`
	Metadata ChunkMetadata `json:"metadata"`
}

// RetrievalQuery scopes a vector search to one user's thread and optionally a document.
type RetrievalQuery struct {
	Text       string
	UserID     string
	ThreadID   string
	DocumentID string
	TopK       int
}
