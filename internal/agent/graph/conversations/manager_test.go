package conversations

import (
	"context"
	"fmt"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadsage/server/internal/agent/model"
)

type memRepo struct {
	threads map[string][]*schema.Message
}

func (m *memRepo) AddMessage(_ context.Context, key string, msgs ...*schema.Message) error {
	m.threads[key] = append(m.threads[key], msgs...)
	return nil
}

func (m *memRepo) LoadHistory(_ context.Context, key string) (*model.ConversationHistory, error) {
	return &model.ConversationHistory{ThreadKey: key, Messages: m.threads[key]}, nil
}

func (m *memRepo) ClearHistory(_ context.Context, key string) error {
	delete(m.threads, key)
	return nil
}

func (m *memRepo) GetMessageCount(_ context.Context, key string) (int, error) {
	return len(m.threads[key]), nil
}

func TestRecentHistory_LastFiveTurns(t *testing.T) {
	var msgs []*schema.Message
	for i := 0; i < 8; i++ {
		msgs = append(msgs, schema.UserMessage(fmt.Sprintf("q%d", i)), schema.AssistantMessage(fmt.Sprintf("a%d", i), nil))
	}
	msgs = append(msgs, schema.SystemMessage("ignored"), nil)

	got := RecentHistory(msgs, 5)
	require.Len(t, got, 10)
	assert.Equal(t, "q3", got[0].Content)
	assert.Equal(t, "a7", got[9].Content)
}

func TestRecentHistory_FewerThanLimit(t *testing.T) {
	msgs := []*schema.Message{schema.UserMessage("only")}
	got := RecentHistory(msgs, 5)
	assert.Len(t, got, 1)

	got[0] = schema.UserMessage("replaced")
	assert.Equal(t, "only", msgs[0].Content)
}

func TestMessagesManager_SaveAndLoad(t *testing.T) {
	repo := &memRepo{threads: map[string][]*schema.Message{}}
	mm := NewMessagesManager(repo, model.ConversationConfig{})
	assert.Equal(t, DefaultHistoryTurns, mm.HistoryTurns())

	require.NoError(t, mm.SaveTurn(context.Background(), "u", "t", "question", "answer"))
	msgs, err := mm.LoadHistory(context.Background(), "u", "t")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, schema.User, msgs[0].Role)
	assert.Equal(t, schema.Assistant, msgs[1].Role)
	assert.Contains(t, repo.threads, "u:t")
}

func TestMessagesManager_CountAndClear(t *testing.T) {
	repo := &memRepo{threads: map[string][]*schema.Message{}}
	mm := NewMessagesManager(repo, model.ConversationConfig{HistoryTurns: 3})
	assert.Equal(t, 3, mm.HistoryTurns())
	ctx := context.Background()

	require.NoError(t, mm.SaveTurn(ctx, "u", "t", "q1", "a1"))
	require.NoError(t, mm.SaveTurn(ctx, "u", "t", "q2", "a2"))
	require.NoError(t, mm.SaveTurn(ctx, "u", "other", "q", "a"))

	n, err := mm.MessageCount(ctx, "u", "t")
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	require.NoError(t, mm.ClearHistory(ctx, "u", "t"))
	n, err = mm.MessageCount(ctx, "u", "t")
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = mm.MessageCount(ctx, "u", "other")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
