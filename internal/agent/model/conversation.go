package model

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"
)

type ConversationRepository interface {
	// AddMessage appends messages to the thread history in order
	AddMessage(ctx context.Context, threadKey string, messages ...*schema.Message) error

	// LoadHistory retrieves the thread history
	LoadHistory(ctx context.Context, threadKey string) (*ConversationHistory, error)

	// ClearHistory removes all history for a thread
	ClearHistory(ctx context.Context, threadKey string) error

	// GetMessageCount returns the number of messages stored for a thread
	GetMessageCount(ctx context.Context, threadKey string) (int, error)
}

// ConversationHistory represents loaded thread messages.
type ConversationHistory struct {
	ThreadKey string
	Messages  []*schema.Message
}

// ThreadKey scopes conversation storage to one user's thread.
func ThreadKey(userID, threadID string) string {
	return userID + ":" + threadID
}

// ValidateID rejects ids that cannot be used as a single storage segment:
// blanks, dot segments, path separators and the thread key delimiter.
func ValidateID(field, id string) error {
	switch {
	case strings.TrimSpace(id) == "":
		return fmt.Errorf("%s is required", field)
	case id == "." || id == "..":
		return fmt.Errorf("%s %q is not allowed", field, id)
	case strings.ContainsAny(id, "/\\:\x00"):
		return fmt.Errorf("%s %q contains a reserved character", field, id)
	}
	return nil
}
