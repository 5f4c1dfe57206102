package prompts

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"

	"github.com/threadsage/server/internal/agent/model"
)

func init() {
	tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
}

// TokenCounter counts the tokens of a text.
type TokenCounter interface {
	Count(text string) int
}

type tiktokenCounter struct {
	mu  sync.Mutex
	enc *tiktoken.Tiktoken
}

func (c *tiktokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.enc.Encode(text, nil, nil))
}

// approxCounter assumes four characters per token.
type approxCounter struct{}

func (approxCounter) Count(text string) int {
	return (len(text) + 3) / 4
}

var (
	counterOnce    sync.Once
	defaultCounter TokenCounter
	counterErr     error
)

// DefaultCounter returns the shared cl100k_base counter.
func DefaultCounter() (TokenCounter, error) {
	counterOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			counterErr = err
			return
		}
		defaultCounter = &tiktokenCounter{enc: enc}
	})
	return defaultCounter, counterErr
}

// FitChunks keeps chunks in rank order until their text would exceed budget
// tokens. The first chunk is always kept. A non-positive budget keeps all.
func FitChunks(chunks []model.Chunk, budget int, counter TokenCounter) []model.Chunk {
	if budget <= 0 || counter == nil {
		return chunks
	}
	used := 0
	for i, c := range chunks {
		used += counter.Count(c.Text)
		if used > budget && i > 0 {
			return chunks[:i]
		}
	}
	return chunks
}
