package model

// ChunkCitation points at one retrieved chunk the answer relied on.
type ChunkCitation struct {
	DocumentID string `json:"document_id"`
	PageNo     int    `json:"page_no"`
	ChunkIndex int    `json:"chunk_index"`
}

// GenerateOutput is the structured decision returned by the Generate prompt.
type GenerateOutput struct {
	Answer           string          `json:"answer"`
	Action           Action          `json:"action"`
	ChunksUsed       []ChunkCitation `json:"chunks_used"`
	WebSearchQueries []string        `json:"web_search_queries,omitempty"`
	DocumentID       string          `json:"document_id,omitempty"`
}

// DecompositionOutput is the structured result of the decomposition prompt.
type DecompositionOutput struct {
	RequiresDecomposition bool     `json:"requires_decomposition"`
	ResolvedQuery         string   `json:"resolved_query"`
	SubQueries            []string `json:"sub_queries"`
}

// CombinationOutput is the merged answer over all sub-answers.
type CombinationOutput struct {
	Answer string `json:"answer"`
}

// SubAnswer pairs a sub-query with the answer its run produced.
type SubAnswer struct {
	SubQuery  string `json:"sub_query"`
	SubAnswer string `json:"sub_answer"`
}

// DocumentSource is a resolved citation returned to the caller.
type DocumentSource struct {
	Title      string `json:"title"`
	DocumentID string `json:"document_id"`
	PageNo     int    `json:"page_no"`
}

// WebSource is a web page the answer may have drawn from.
type WebSource struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Favicon string `json:"favicon,omitempty"`
}

// Sources groups everything cited by one answer.
type Sources struct {
	Documents []DocumentSource `json:"documents_used"`
	Web       []WebSource      `json:"web_sources"`
}
