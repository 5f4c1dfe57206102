package conversations

import (
	"context"

	"github.com/cloudwego/eino/schema"

	"github.com/threadsage/server/internal/agent/model"
)

const DefaultHistoryTurns = 5

type MessagesManager struct {
	conversationRepo model.ConversationRepository
	historyTurns     int
}

func NewMessagesManager(conversationRepo model.ConversationRepository, config model.ConversationConfig) *MessagesManager {
	return &MessagesManager{
		conversationRepo: conversationRepo,
		historyTurns:     normalizeTurns(config.HistoryTurns),
	}
}

// HistoryTurns is the number of user/assistant pairs prompts may see.
func (cm *MessagesManager) HistoryTurns() int {
	return cm.historyTurns
}

// LoadHistory returns the stored thread history, oldest first.
func (cm *MessagesManager) LoadHistory(ctx context.Context, userID, threadID string) ([]*schema.Message, error) {
	history, err := cm.conversationRepo.LoadHistory(ctx, model.ThreadKey(userID, threadID))
	if err != nil {
		return nil, err
	}
	return history.Messages, nil
}

// SaveTurn appends the user question and the final answer to the thread.
func (cm *MessagesManager) SaveTurn(ctx context.Context, userID, threadID, question, answer string) error {
	return cm.conversationRepo.AddMessage(ctx, model.ThreadKey(userID, threadID),
		schema.UserMessage(question),
		schema.AssistantMessage(answer, nil),
	)
}

// ClearHistory drops every stored message of the thread.
func (cm *MessagesManager) ClearHistory(ctx context.Context, userID, threadID string) error {
	return cm.conversationRepo.ClearHistory(ctx, model.ThreadKey(userID, threadID))
}

// MessageCount returns how many messages the thread has stored.
func (cm *MessagesManager) MessageCount(ctx context.Context, userID, threadID string) (int, error) {
	return cm.conversationRepo.GetMessageCount(ctx, model.ThreadKey(userID, threadID))
}

// ====================== Helper function ======================

// RecentHistory returns a copy of the last turns*2 user/assistant messages.
func RecentHistory(messages []*schema.Message, turns int) []*schema.Message {
	turns = normalizeTurns(turns)
	conversational := make([]*schema.Message, 0, len(messages))
	for _, m := range messages {
		if m == nil || m.Content == "" {
			continue
		}
		if m.Role == schema.User || m.Role == schema.Assistant {
			conversational = append(conversational, m)
		}
	}
	return trimTail(conversational, turns*2)
}

func trimTail(messages []*schema.Message, max int) []*schema.Message {
	if len(messages) > max {
		messages = messages[len(messages)-max:]
	}
	result := make([]*schema.Message, len(messages))
	copy(result, messages)
	return result
}

func normalizeTurns(n int) int {
	if n <= 0 {
		return DefaultHistoryTurns
	}
	return n
}
