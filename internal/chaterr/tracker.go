package chaterr

import (
	"sync"
	"time"

	"github.com/agentoven/opsdesk/internal/metrics"
	"github.com/rs/zerolog/log"
)

// DefaultLogCapacity is the number of errors retained by a tracker.
const DefaultLogCapacity = 100

// Tracker creates ChatErrors and keeps the most recent ones in a bounded,
// append-only log. Oldest entries are evicted first.
type Tracker struct {
	mu       sync.RWMutex
	entries  []*ChatError
	capacity int
}

// NewTracker creates a tracker retaining up to capacity errors.
func NewTracker(capacity int) *Tracker {
	if capacity <= 0 {
		capacity = DefaultLogCapacity
	}
	return &Tracker{
		entries:  make([]*ChatError, 0, capacity),
		capacity: capacity,
	}
}

// Create classifies code and records the resulting error. Unknown codes
// degrade to UNKNOWN_ERROR; Create never fails.
func (t *Tracker) Create(code string, ctx Context, original error, customMessage string) *ChatError {
	def, ok := catalogue[code]
	if !ok {
		def = unknownDefinition
		code = CodeUnknown
	}

	if ctx.Timestamp.IsZero() {
		ctx.Timestamp = time.Now().UTC()
	}

	message := customMessage
	if message == "" && original != nil {
		message = original.Error()
	}
	if message == "" {
		message = def.UserMessage
	}

	e := &ChatError{
		Code:          code,
		Type:          def.Type,
		Severity:      def.Severity,
		Message:       message,
		UserMessage:   def.UserMessage,
		Context:       ctx,
		Retryable:     def.Retryable,
		RetryAfter:    def.RetryAfter,
		Suggestions:   append([]string(nil), def.Suggestions...),
		OriginalError: original,
	}

	t.record(e)
	return e
}

func (t *Tracker) record(e *ChatError) {
	t.mu.Lock()
	if len(t.entries) >= t.capacity {
		// Drop oldest entry
		copy(t.entries, t.entries[1:])
		t.entries = t.entries[:len(t.entries)-1]
	}
	t.entries = append(t.entries, e)
	t.mu.Unlock()

	metrics.ErrorsCreated.WithLabelValues(string(e.Type), string(e.Severity)).Inc()

	log.Debug().
		Str("code", e.Code).
		Str("type", string(e.Type)).
		Str("severity", string(e.Severity)).
		Str("tool", e.Context.ToolName).
		Str("conversation", e.Context.ConversationID).
		Msg(e.Message)
}

// Errors returns the retained errors, oldest first.
func (t *Tracker) Errors() []*ChatError {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*ChatError, len(t.entries))
	copy(out, t.entries)
	return out
}

// ByType returns retained errors of the given type.
func (t *Tracker) ByType(typ Type) []*ChatError {
	return t.filter(func(e *ChatError) bool { return e.Type == typ })
}

// BySeverity returns retained errors of the given severity.
func (t *Tracker) BySeverity(sev Severity) []*ChatError {
	return t.filter(func(e *ChatError) bool { return e.Severity == sev })
}

// Len returns the number of retained errors.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Clear drops all retained errors.
func (t *Tracker) Clear() {
	t.mu.Lock()
	t.entries = t.entries[:0]
	t.mu.Unlock()
}

func (t *Tracker) filter(keep func(*ChatError) bool) []*ChatError {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []*ChatError
	for _, e := range t.entries {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}
