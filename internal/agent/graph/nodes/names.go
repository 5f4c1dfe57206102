package nodes

import (
	"context"

	"github.com/cloudwego/eino/compose"

	"github.com/threadsage/server/internal/agent/model"
)

// Node names a step of the per-query graph.
type Node string

const (
	NodeRetriever          Node = "Retriever"
	NodeGenerate           Node = "Generate"
	NodeWebSearch          Node = "WebSearch"
	NodeDocumentSummarizer Node = "DocumentSummarizer"
	NodeGlobalSummarizer   Node = "GlobalSummarizer"
	NodeFailure            Node = "Failure"
	// NodeAnswer is the terminal of a run. It maps onto compose.END.
	NodeAnswer Node = "Answer"
)

// Nodes lists every node, the terminal included.
var Nodes = []Node{
	NodeRetriever,
	NodeGenerate,
	NodeWebSearch,
	NodeDocumentSummarizer,
	NodeGlobalSummarizer,
	NodeFailure,
	NodeAnswer,
}

// Key is the eino graph key of the node.
func (n Node) Key() string {
	if n == NodeAnswer {
		return compose.END
	}
	return string(n)
}

// NodeFunc is one step of a run. It mutates and returns the run's state.
type NodeFunc func(ctx context.Context, s *model.RunState) (*model.RunState, error)

// Lambda wraps fn as an eino lambda node.
func Lambda(fn NodeFunc) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, s *model.RunState) (*model.RunState, error) {
		return fn(ctx, s)
	})
}
