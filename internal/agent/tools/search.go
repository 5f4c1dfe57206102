package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/threadsage/server/internal/agent/model"
	errx "github.com/threadsage/server/internal/core/error"
)

// Doer is the subset of *http.Client the search clients need.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// TavilySearch calls the Tavily search API.
type TavilySearch struct {
	APIKey     string
	BaseURL    string
	MaxResults int
	Client     Doer
}

type tavilyRequest struct {
	Query          string `json:"query"`
	SearchDepth    string `json:"search_depth"`
	MaxResults     int    `json:"max_results"`
	IncludeAnswer  string `json:"include_answer"`
	IncludeFavicon bool   `json:"include_favicon"`
}

type tavilyResponse struct {
	Query   string `json:"query"`
	Answer  string `json:"answer"`
	Results []struct {
		Title   string  `json:"title"`
		URL     string  `json:"url"`
		Content string  `json:"content"`
		Favicon string  `json:"favicon"`
		Score   float64 `json:"score"`
	} `json:"results"`
}

func (t *TavilySearch) Search(ctx context.Context, query string) (*model.SearchResponse, error) {
	var raw tavilyResponse
	err := postJSON(ctx, t.Client, strings.TrimRight(t.BaseURL, "/")+"/search", map[string]string{
		"Authorization": "Bearer " + t.APIKey,
	}, tavilyRequest{
		Query:          query,
		SearchDepth:    "advanced",
		MaxResults:     maxResults(t.MaxResults),
		IncludeAnswer:  "advanced",
		IncludeFavicon: true,
	}, &raw)
	if err != nil {
		return nil, errx.New(errx.KindSearch, "tavily.search", err, "web search failed")
	}

	out := &model.SearchResponse{Query: query, Answer: raw.Answer}
	for _, r := range raw.Results {
		out.Results = append(out.Results, model.SearchResult{
			Title:   r.Title,
			URL:     r.URL,
			Content: r.Content,
			Favicon: r.Favicon,
			Score:   r.Score,
		})
	}
	return out, nil
}

// SerperSearch calls the Serper Google search API.
type SerperSearch struct {
	APIKey     string
	BaseURL    string
	MaxResults int
	Client     Doer
}

type serperResponse struct {
	AnswerBox *struct {
		Answer  string `json:"answer"`
		Snippet string `json:"snippet"`
	} `json:"answerBox"`
	Organic []struct {
		Title    string `json:"title"`
		Link     string `json:"link"`
		Snippet  string `json:"snippet"`
		Position int    `json:"position"`
	} `json:"organic"`
}

func (s *SerperSearch) Search(ctx context.Context, query string) (*model.SearchResponse, error) {
	k := maxResults(s.MaxResults)
	var raw serperResponse
	err := postJSON(ctx, s.Client, strings.TrimRight(s.BaseURL, "/")+"/search", map[string]string{
		"X-API-KEY": s.APIKey,
	}, map[string]any{"q": query, "num": k}, &raw)
	if err != nil {
		return nil, errx.New(errx.KindSearch, "serper.search", err, "web search failed")
	}

	out := &model.SearchResponse{Query: query}
	if raw.AnswerBox != nil {
		out.Answer = raw.AnswerBox.Answer
		if out.Answer == "" {
			out.Answer = raw.AnswerBox.Snippet
		}
	}
	for i, r := range raw.Organic {
		if i >= k {
			break
		}
		out.Results = append(out.Results, model.SearchResult{
			Title:   r.Title,
			URL:     r.Link,
			Content: r.Snippet,
			Score:   1 / float64(i+1),
		})
	}
	return out, nil
}

func maxResults(n int) int {
	if n <= 0 {
		return 5
	}
	return n
}

func postJSON(ctx context.Context, client Doer, url string, headers map[string]string, body, out any) error {
	if client == nil {
		client = http.DefaultClient
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// NewSearchTool builds the configured provider.
func NewSearchTool(cfg model.SearchConfig) (model.SearchTool, error) {
	client := &http.Client{Timeout: cfg.Timeout}
	switch strings.ToLower(cfg.Provider) {
	case "", "tavily":
		return &TavilySearch{APIKey: cfg.TavilyAPIKey, BaseURL: cfg.TavilyBaseURL, MaxResults: cfg.MaxResults, Client: client}, nil
	case "serper":
		return &SerperSearch{APIKey: cfg.SerperAPIKey, BaseURL: cfg.SerperBaseURL, MaxResults: cfg.MaxResults, Client: client}, nil
	default:
		return nil, errx.New(errx.KindConfig, "tools.search", nil, fmt.Sprintf("unknown search provider %q", cfg.Provider))
	}
}

var (
	_ model.SearchTool = (*TavilySearch)(nil)
	_ model.SearchTool = (*SerperSearch)(nil)
)
