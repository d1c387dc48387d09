package conversation_test

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentoven/opsdesk/internal/conversation"
	"github.com/agentoven/opsdesk/pkg/models"
)

// stepClock advances one second per call so updatedAt ordering is strict.
func stepClock() func() time.Time {
	t := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func newStore(t *testing.T, opts conversation.Options) *conversation.Store {
	t.Helper()
	if opts.Clock == nil {
		opts.Clock = stepClock()
	}
	return conversation.New(opts)
}

func userMsg(content string) models.ConversationMessage {
	return models.ConversationMessage{Role: models.RoleUser, Content: content}
}

func TestCreate_BecomesCurrent(t *testing.T) {
	s := newStore(t, conversation.Options{})
	id := s.Create("u1", "s1")

	assert.Equal(t, id, s.Current())
	c, ok := s.Get(id)
	require.True(t, ok)
	assert.True(t, c.IsActive)
	assert.Equal(t, "u1", c.Metadata.UserID)
	assert.Empty(t, c.Messages)
}

func TestCreate_EvictsOldestBeyondCap(t *testing.T) {
	s := newStore(t, conversation.Options{MaxConversations: 3})
	first := s.Create("", "")
	second := s.Create("", "")
	s.Create("", "")
	require.NoError(t, s.AddMessageTo(first, userMsg("keep me fresh")))

	latest := s.Create("", "")

	assert.Equal(t, 3, s.Len())
	_, ok := s.Get(second)
	assert.False(t, ok, "least recently updated conversation is evicted")
	_, ok = s.Get(first)
	assert.True(t, ok)
	assert.Equal(t, latest, s.Current())
}

func TestAddMessage_TrimKeepsLifetimeCounters(t *testing.T) {
	const capacity = 10
	s := newStore(t, conversation.Options{MaxMessages: capacity})
	id := s.Create("", "")

	for i := 0; i < capacity+5; i++ {
		s.AddMessage(models.ConversationMessage{
			Role:      models.RoleAssistant,
			Content:   fmt.Sprintf("m%d", i),
			ToolCalls: []models.ToolCallRecord{{Name: "get_logs"}},
		})
	}

	c, _ := s.Get(id)
	assert.Len(t, c.Messages, capacity)
	assert.Equal(t, capacity+5, c.Metadata.MessageCount)
	assert.Equal(t, capacity+5, c.Metadata.ToolUsage["get_logs"])
	assert.Equal(t, "m5", c.Messages[0].Content)
}

func TestAddMessage_CountsErrorsAndTitles(t *testing.T) {
	s := newStore(t, conversation.Options{})
	long := strings.Repeat("x", 80)
	id := s.AddMessage(userMsg(long))
	s.AddMessage(models.ConversationMessage{
		Role:  models.RoleAssistant,
		Error: &models.MessageError{Code: "TOOL_EXECUTION_FAILED", Message: "boom"},
	})

	c, _ := s.Get(id)
	assert.Equal(t, 1, c.Metadata.ErrorCount)
	assert.Equal(t, strings.Repeat("x", 50)+"...", c.Title)
	assert.False(t, c.Messages[0].Timestamp.IsZero())
}

func TestAddMessageTo_Unknown(t *testing.T) {
	s := newStore(t, conversation.Options{})
	err := s.AddMessageTo("nope", userMsg("hi"))
	assert.True(t, errors.Is(err, conversation.ErrNotFound))
}

func TestGetHistoryWithSystem_Idempotent(t *testing.T) {
	s := newStore(t, conversation.Options{})
	id := s.Create("", "")
	s.AddMessage(userMsg("hello"))

	a := s.GetHistoryWithSystem("You are helpful.", id)
	b := s.GetHistoryWithSystem("You are helpful.", id)

	assert.Equal(t, a, b)
	require.Len(t, a, 2)
	assert.Equal(t, models.RoleSystem, a[0].Role)

	// Already prefixed with the same system message: not duplicated.
	other := s.Create("", "")
	require.NoError(t, s.AddMessageTo(other, models.ConversationMessage{Role: models.RoleSystem, Content: "sys"}))
	h := s.GetHistoryWithSystem("sys", other)
	assert.Len(t, h, 1)

	// A different system message is prepended.
	assert.Len(t, s.GetHistoryWithSystem("other", other), 2)
}

func TestClearAndDelete(t *testing.T) {
	s := newStore(t, conversation.Options{})
	id := s.Create("", "")
	s.AddMessage(userMsg("hi"))

	require.NoError(t, s.Clear(id))
	c, _ := s.Get(id)
	assert.Empty(t, c.Messages)
	assert.Equal(t, 1, c.Metadata.MessageCount)

	require.NoError(t, s.Delete(id))
	assert.Equal(t, "", s.Current())
	assert.ErrorIs(t, s.Delete(id), conversation.ErrNotFound)
}

func TestListSortedByUpdated(t *testing.T) {
	s := newStore(t, conversation.Options{})
	a := s.Create("", "")
	b := s.Create("", "")
	require.NoError(t, s.AddMessageTo(a, userMsg("bump")))

	list := s.List()
	require.Len(t, list, 2)
	assert.Equal(t, a, list[0].ID)
	assert.Equal(t, b, list[1].ID)

	require.NoError(t, s.SetCurrent(a))
	assert.Equal(t, a, s.Current())
	assert.Error(t, s.SetCurrent("missing"))
}

func TestExportImport_AssignsNewID(t *testing.T) {
	s := newStore(t, conversation.Options{})
	id := s.Create("u", "")
	s.AddMessage(userMsg("hello"))

	data, err := s.Export(id)
	require.NoError(t, err)

	newID, err := s.Import(data)
	require.NoError(t, err)
	assert.NotEqual(t, id, newID)

	c, ok := s.Get(newID)
	require.True(t, ok)
	assert.Len(t, c.Messages, 1)
	assert.Equal(t, "u", c.Metadata.UserID)
}

func TestImport_RejectsBadShape(t *testing.T) {
	s := newStore(t, conversation.Options{})
	for _, in := range []string{
		`not json`,
		`{"messages":[]}`,
		`{"id":"x"}`,
		`{"id":"x","messages":"nope"}`,
	} {
		_, err := s.Import([]byte(in))
		assert.ErrorIs(t, err, conversation.ErrInvalidImport, in)
	}
	assert.Equal(t, 0, s.Len())
}

func TestSummarize(t *testing.T) {
	s := newStore(t, conversation.Options{})
	id := s.Create("", "")
	s.AddMessage(userMsg("deploy please"))
	s.AddMessage(models.ConversationMessage{Role: models.RoleAssistant, ToolCalls: []models.ToolCallRecord{{Name: "deploy_service"}, {Name: "get_logs"}}})
	s.AddMessage(models.ConversationMessage{Role: models.RoleAssistant, ToolCalls: []models.ToolCallRecord{{Name: "get_logs"}}})

	sum, err := s.Summarize(id)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.MessageCount)
	assert.Equal(t, 1, sum.UserMessages)
	assert.Equal(t, 2, sum.AssistantMessages)
	assert.Equal(t, []string{"get_logs", "deploy_service"}, sum.TopTools)
	assert.Greater(t, sum.DurationSeconds, 0.0)

	_, err = s.Summarize("missing")
	assert.ErrorIs(t, err, conversation.ErrNotFound)
}

func TestPersistence_FileSlotRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conversations.json")
	slot, err := conversation.NewFileSlot(path)
	require.NoError(t, err)

	s := newStore(t, conversation.Options{Slot: slot})
	id := s.Create("u", "")
	s.AddMessage(userMsg("remember me"))

	restored := newStore(t, conversation.Options{Slot: slot})
	assert.Equal(t, id, restored.Current())
	c, ok := restored.Get(id)
	require.True(t, ok)
	assert.Equal(t, "remember me", c.Messages[0].Content)
}

func TestPersistence_CorruptDataStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conversations.json")
	require.NoError(t, os.WriteFile(path, []byte("{{{"), 0o644))
	slot, err := conversation.NewFileSlot(path)
	require.NoError(t, err)

	s := newStore(t, conversation.Options{Slot: slot})
	assert.Equal(t, 0, s.Len())
	assert.Equal(t, "", s.Current())

	bad := &conversation.MemorySlot{}
	require.NoError(t, bad.Save([]byte(`{"conversations":[["only-id"]]}`)))
	assert.Equal(t, 0, newStore(t, conversation.Options{Slot: bad}).Len())
}

func TestPersistence_BadgerSlot(t *testing.T) {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	slot := conversation.NewBadgerSlot(db, "")
	data, err := slot.Load()
	require.NoError(t, err)
	assert.Nil(t, data)

	s := newStore(t, conversation.Options{Slot: slot})
	id := s.Create("", "")
	s.AddMessage(userMsg("stored in badger"))

	restored := newStore(t, conversation.Options{Slot: slot})
	c, ok := restored.Get(id)
	require.True(t, ok)
	assert.Equal(t, "stored in badger", c.Messages[0].Content)
}
