package model

// SearchResult is one ranked hit from the web search tool.
type SearchResult struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Favicon string  `json:"favicon,omitempty"`
	Score   float64 `json:"score"`
}

// SearchResponse is the search tool's answer for one query.
type SearchResponse struct {
	Query   string         `json:"query"`
	Answer  string         `json:"answer,omitempty"`
	Results []SearchResult `json:"results"`
}
