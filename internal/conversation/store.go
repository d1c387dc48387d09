// Package conversation is the bounded multi-conversation message log.
//
// The Store is the only writer of ConversationState. Every mutation is
// written through to a Slot while the store lock is held, and the slot is
// re-read at construction; unreadable data starts the store empty.
package conversation

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/agentoven/opsdesk/internal/metrics"
	"github.com/agentoven/opsdesk/pkg/models"
)

const (
	DefaultMaxConversations = 50
	DefaultMaxMessages      = 100
	titleLength             = 50
)

var (
	ErrNotFound      = errors.New("conversation not found")
	ErrInvalidImport = errors.New("invalid conversation data")
)

// Options configures a Store. Zero values take the defaults.
type Options struct {
	MaxConversations int
	MaxMessages      int
	Slot             Slot
	Clock            func() time.Time
}

// Store holds conversations keyed by id.
type Store struct {
	mu            sync.Mutex
	conversations map[string]*models.ConversationState
	current       string

	maxConversations int
	maxMessages      int
	slot             Slot
	now              func() time.Time
}

// New creates a store and loads any previously saved state from the slot.
func New(opts Options) *Store {
	s := &Store{
		conversations:    make(map[string]*models.ConversationState),
		maxConversations: opts.MaxConversations,
		maxMessages:      opts.MaxMessages,
		slot:             opts.Slot,
		now:              opts.Clock,
	}
	if s.maxConversations <= 0 {
		s.maxConversations = DefaultMaxConversations
	}
	if s.maxMessages <= 0 {
		s.maxMessages = DefaultMaxMessages
	}
	if s.slot == nil {
		s.slot = &MemorySlot{}
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	s.load()
	return s
}

// ── Lifecycle ────────────────────────────────────────────────

// Create starts a new conversation and makes it current.
func (s *Store) Create(userID, sessionID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createLocked(userID, sessionID)
}

func (s *Store) createLocked(userID, sessionID string) string {
	now := s.now()
	id := "conv-" + uuid.NewString()
	s.conversations[id] = &models.ConversationState{
		ID:        id,
		Messages:  []models.ConversationMessage{},
		CreatedAt: now,
		UpdatedAt: now,
		IsActive:  true,
		Metadata: models.ConversationMetadata{
			UserID:    userID,
			SessionID: sessionID,
			ToolUsage: map[string]int{},
		},
	}
	s.current = id
	s.evictLocked()
	s.persistLocked()

	log.Debug().Str("conversation", id).Msg("Conversation created")
	return id
}

// Current returns the current conversation id, or "" if none.
func (s *Store) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// SetCurrent switches the current conversation.
func (s *Store) SetCurrent(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.current = id
	s.persistLocked()
	return nil
}

// Get returns a copy of the conversation.
func (s *Store) Get(id string) (*models.ConversationState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return nil, false
	}
	return c.Clone(), true
}

// List returns copies of every conversation, most recently updated first.
func (s *Store) List() []*models.ConversationState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.ConversationState, 0, len(s.conversations))
	for _, c := range s.sortedLocked() {
		out = append(out, c.Clone())
	}
	return out
}

// Len returns the number of stored conversations.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conversations)
}

// SetTitle renames a conversation.
func (s *Store) SetTitle(id, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	c.Title = title
	c.UpdatedAt = s.now()
	s.persistLocked()
	return nil
}

// Clear empties a conversation's messages. Lifetime counters are kept.
func (s *Store) Clear(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	c.Messages = []models.ConversationMessage{}
	c.UpdatedAt = s.now()
	s.persistLocked()
	return nil
}

// Delete removes a conversation. Deleting the current conversation leaves
// no current conversation.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(s.conversations, id)
	if s.current == id {
		s.current = ""
	}
	s.persistLocked()
	return nil
}

// ── Messages ─────────────────────────────────────────────────

// AddMessage appends to the current conversation, creating one if there
// is none. It returns the conversation id written to.
func (s *Store) AddMessage(msg models.ConversationMessage) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.current
	if _, ok := s.conversations[id]; !ok {
		id = s.createLocked("", "")
	}
	s.appendLocked(s.conversations[id], msg)
	return id
}

// AddMessageTo appends to the named conversation.
func (s *Store) AddMessageTo(id string, msg models.ConversationMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.appendLocked(c, msg)
	return nil
}

func (s *Store) appendLocked(c *models.ConversationState, msg models.ConversationMessage) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = s.now()
	}
	c.Messages = append(c.Messages, msg)
	c.UpdatedAt = s.now()
	c.Metadata.MessageCount++

	if c.Metadata.ToolUsage == nil {
		c.Metadata.ToolUsage = map[string]int{}
	}
	for _, tc := range msg.ToolCalls {
		c.Metadata.ToolUsage[tc.Name]++
	}
	if msg.Error != nil {
		c.Metadata.ErrorCount++
	}
	if c.Title == "" && msg.Role == models.RoleUser && msg.Content != "" {
		c.Title = autoTitle(msg.Content)
	}

	// Counters describe lifetime usage and survive trimming.
	if over := len(c.Messages) - s.maxMessages; over > 0 {
		c.Messages = append([]models.ConversationMessage(nil), c.Messages[over:]...)
	}
	s.persistLocked()
}

func autoTitle(content string) string {
	r := []rune(content)
	if len(r) <= titleLength {
		return content
	}
	return string(r[:titleLength]) + "..."
}

// GetHistoryWithSystem returns the history of id (or the current
// conversation when id is empty), prefixed with systemMessage unless the
// first stored message already is that exact system message. The stored
// conversation is not modified.
func (s *Store) GetHistoryWithSystem(systemMessage, id string) []models.ConversationMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id == "" {
		id = s.current
	}

	var stored []models.ConversationMessage
	if c, ok := s.conversations[id]; ok {
		stored = c.Messages
	}

	if len(stored) > 0 && stored[0].Role == models.RoleSystem && stored[0].Content == systemMessage {
		return append([]models.ConversationMessage(nil), stored...)
	}
	out := make([]models.ConversationMessage, 0, len(stored)+1)
	out = append(out, models.ConversationMessage{Role: models.RoleSystem, Content: systemMessage})
	return append(out, stored...)
}

// ── Export / Import ──────────────────────────────────────────

// Export serializes one conversation.
func (s *Store) Export(id string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return json.MarshalIndent(c, "", "  ")
}

// Import accepts an exported conversation. The data must carry an id and a
// messages array. The conversation is stored under a fresh id, which is
// returned.
func (s *Store) Import(data []byte) (string, error) {
	var shape struct {
		ID       *string          `json:"id"`
		Messages *json.RawMessage `json:"messages"`
	}
	if err := json.Unmarshal(data, &shape); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidImport, err)
	}
	if shape.ID == nil || *shape.ID == "" {
		return "", fmt.Errorf("%w: missing id", ErrInvalidImport)
	}
	if shape.Messages == nil {
		return "", fmt.Errorf("%w: missing messages", ErrInvalidImport)
	}
	var msgs []json.RawMessage
	if err := json.Unmarshal(*shape.Messages, &msgs); err != nil || msgs == nil {
		return "", fmt.Errorf("%w: messages must be an array", ErrInvalidImport)
	}

	var c models.ConversationState
	if err := json.Unmarshal(data, &c); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidImport, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	c.ID = "conv-" + uuid.NewString()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	if c.Metadata.ToolUsage == nil {
		c.Metadata.ToolUsage = map[string]int{}
	}
	if c.Metadata.MessageCount < len(c.Messages) {
		c.Metadata.MessageCount = len(c.Messages)
	}
	if over := len(c.Messages) - s.maxMessages; over > 0 {
		c.Messages = c.Messages[over:]
	}
	s.conversations[c.ID] = &c
	s.evictLocked()
	s.persistLocked()
	return c.ID, nil
}

// ── Summary ──────────────────────────────────────────────────

// Summary describes one conversation.
type Summary struct {
	ID                string         `json:"id"`
	Title             string         `json:"title,omitempty"`
	MessageCount      int            `json:"messageCount"`
	StoredMessages    int            `json:"storedMessages"`
	UserMessages      int            `json:"userMessages"`
	AssistantMessages int            `json:"assistantMessages"`
	ErrorCount        int            `json:"errorCount"`
	ToolUsage         map[string]int `json:"toolUsage"`
	TopTools          []string       `json:"topTools"`
	DurationSeconds   float64        `json:"durationSeconds"`
	CreatedAt         time.Time      `json:"createdAt"`
	UpdatedAt         time.Time      `json:"updatedAt"`
}

// Summarize reports counts and the most used tools for a conversation.
func (s *Store) Summarize(id string) (*Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	sum := &Summary{
		ID:              c.ID,
		Title:           c.Title,
		MessageCount:    c.Metadata.MessageCount,
		StoredMessages:  len(c.Messages),
		ErrorCount:      c.Metadata.ErrorCount,
		ToolUsage:       make(map[string]int, len(c.Metadata.ToolUsage)),
		DurationSeconds: c.UpdatedAt.Sub(c.CreatedAt).Seconds(),
		CreatedAt:       c.CreatedAt,
		UpdatedAt:       c.UpdatedAt,
	}
	for _, m := range c.Messages {
		switch m.Role {
		case models.RoleUser:
			sum.UserMessages++
		case models.RoleAssistant:
			sum.AssistantMessages++
		}
	}

	tools := make([]string, 0, len(c.Metadata.ToolUsage))
	for name, n := range c.Metadata.ToolUsage {
		sum.ToolUsage[name] = n
		tools = append(tools, name)
	}
	sort.Slice(tools, func(i, j int) bool {
		ni, nj := c.Metadata.ToolUsage[tools[i]], c.Metadata.ToolUsage[tools[j]]
		if ni != nj {
			return ni > nj
		}
		return tools[i] < tools[j]
	})
	if len(tools) > 3 {
		tools = tools[:3]
	}
	sum.TopTools = tools
	return sum, nil
}

// ── Internals ────────────────────────────────────────────────

func (s *Store) sortedLocked() []*models.ConversationState {
	list := make([]*models.ConversationState, 0, len(s.conversations))
	for _, c := range s.conversations {
		list = append(list, c)
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].UpdatedAt.Equal(list[j].UpdatedAt) {
			return list[i].UpdatedAt.After(list[j].UpdatedAt)
		}
		return list[i].ID < list[j].ID
	})
	return list
}

// evictLocked drops the least recently updated conversations beyond the
// cap. The current conversation is never evicted.
func (s *Store) evictLocked() {
	if len(s.conversations) <= s.maxConversations {
		return
	}
	list := s.sortedLocked()
	kept := 0
	for _, c := range list {
		if kept < s.maxConversations || c.ID == s.current {
			kept++
			continue
		}
		delete(s.conversations, c.ID)
		log.Debug().Str("conversation", c.ID).Msg("Conversation evicted")
	}
}

// persisted is the slot layout: conversations as [id, state] pairs.
type persisted struct {
	Conversations         [][]json.RawMessage `json:"conversations"`
	CurrentConversationID string              `json:"currentConversationId,omitempty"`
}

func (s *Store) persistLocked() {
	metrics.Conversations.Set(float64(len(s.conversations)))

	snap := persisted{
		Conversations:         make([][]json.RawMessage, 0, len(s.conversations)),
		CurrentConversationID: s.current,
	}
	for _, c := range s.sortedLocked() {
		id, _ := json.Marshal(c.ID)
		state, err := json.Marshal(c)
		if err != nil {
			log.Error().Err(err).Str("conversation", c.ID).Msg("Failed to marshal conversation")
			continue
		}
		snap.Conversations = append(snap.Conversations, []json.RawMessage{id, state})
	}
	data, err := json.Marshal(snap)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal conversation snapshot")
		return
	}
	if err := s.slot.Save(data); err != nil {
		log.Warn().Err(err).Msg("Failed to persist conversations")
	}
}

func (s *Store) load() {
	data, err := s.slot.Load()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to read conversations, starting fresh")
		return
	}
	if len(data) == 0 {
		return
	}

	var snap persisted
	if err := json.Unmarshal(data, &snap); err != nil {
		log.Warn().Err(err).Msg("Failed to parse conversations, starting fresh")
		return
	}

	loaded := make(map[string]*models.ConversationState, len(snap.Conversations))
	for _, pair := range snap.Conversations {
		if len(pair) != 2 {
			log.Warn().Msg("Malformed conversation entry, starting fresh")
			return
		}
		var id string
		var c models.ConversationState
		if err := json.Unmarshal(pair[0], &id); err != nil {
			log.Warn().Err(err).Msg("Malformed conversation id, starting fresh")
			return
		}
		if err := json.Unmarshal(pair[1], &c); err != nil {
			log.Warn().Err(err).Str("conversation", id).Msg("Malformed conversation, starting fresh")
			return
		}
		if c.Metadata.ToolUsage == nil {
			c.Metadata.ToolUsage = map[string]int{}
		}
		if c.Messages == nil {
			c.Messages = []models.ConversationMessage{}
		}
		c.ID = id
		loaded[id] = &c
	}

	s.conversations = loaded
	if _, ok := loaded[snap.CurrentConversationID]; ok {
		s.current = snap.CurrentConversationID
	}
	metrics.Conversations.Set(float64(len(loaded)))
	log.Info().Int("conversations", len(loaded)).Msg("Conversations restored")
}
