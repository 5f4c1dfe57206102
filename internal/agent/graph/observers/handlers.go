package observers

import (
	einocb "github.com/cloudwego/eino/callbacks"
	callbackHelper "github.com/cloudwego/eino/utils/callbacks"

	"github.com/threadsage/server/internal/agent/telemetry"
)

// NewAllCallbacks aggregates the model, prompt and node observers.
func NewAllCallbacks(metrics *telemetry.Metrics) []einocb.Handler {
	components := callbackHelper.NewHandlerHelper().
		ChatModel(newModelHandler()).
		Prompt(newPromptHandler()).
		Handler()

	return []einocb.Handler{components, newNodeHandler(metrics)}
}
