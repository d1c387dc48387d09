package handlers

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/agentoven/opsdesk/internal/api/middleware"
	"github.com/agentoven/opsdesk/internal/chaterr"
	"github.com/agentoven/opsdesk/internal/conversation"
	"github.com/agentoven/opsdesk/pkg/models"
)

// ══════════════════════════════════════════════════════════════
// ── Conversation Handlers ────────────────────────────────────
// ══════════════════════════════════════════════════════════════

type conversationListItem struct {
	ID           string `json:"id"`
	Title        string `json:"title,omitempty"`
	MessageCount int    `json:"messageCount"`
	IsCurrent    bool   `json:"isCurrent"`
	UpdatedAt    string `json:"updatedAt"`
}

func (h *Handlers) ListConversations(w http.ResponseWriter, r *http.Request) {
	current := h.Conversations.Current()
	convs := h.Conversations.List()
	items := make([]conversationListItem, 0, len(convs))
	for _, c := range convs {
		items = append(items, conversationListItem{
			ID:           c.ID,
			Title:        c.Title,
			MessageCount: c.Metadata.MessageCount,
			IsCurrent:    c.ID == current,
			UpdatedAt:    c.UpdatedAt.Format("2006-01-02T15:04:05.000Z07:00"),
		})
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"conversations":         items,
		"currentConversationId": current,
	})
}

func (h *Handlers) CreateConversation(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetCaller(r.Context())
	id := h.Conversations.Create(caller.UserID, caller.SessionID)
	c, _ := h.Conversations.Get(id)
	respondJSON(w, http.StatusCreated, c)
}

func (h *Handlers) GetConversation(w http.ResponseWriter, r *http.Request) {
	c, ok := h.Conversations.Get(chi.URLParam(r, "id"))
	if !ok {
		respondError(w, http.StatusNotFound, "conversation not found")
		return
	}
	respondJSON(w, http.StatusOK, c)
}

func (h *Handlers) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	if err := h.Conversations.Delete(chi.URLParam(r, "id")); err != nil {
		respondConversationError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ClearConversation drops the messages but keeps the lifetime counters.
func (h *Handlers) ClearConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.Conversations.Clear(id); err != nil {
		respondConversationError(w, err)
		return
	}
	c, _ := h.Conversations.Get(id)
	respondJSON(w, http.StatusOK, c)
}

func (h *Handlers) SetConversationTitle(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Title string `json:"title"`
	}
	if err := decodeJSON(r, &body); err != nil || body.Title == "" {
		respondError(w, http.StatusBadRequest, "title is required")
		return
	}
	id := chi.URLParam(r, "id")
	if err := h.Conversations.SetTitle(id, body.Title); err != nil {
		respondConversationError(w, err)
		return
	}
	c, _ := h.Conversations.Get(id)
	respondJSON(w, http.StatusOK, c)
}

// SwitchConversation makes the conversation current.
func (h *Handlers) SwitchConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.Conversations.SetCurrent(id); err != nil {
		respondConversationError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"currentConversationId": id})
}

func (h *Handlers) ConversationSummary(w http.ResponseWriter, r *http.Request) {
	s, err := h.Conversations.Summarize(chi.URLParam(r, "id"))
	if err != nil {
		respondConversationError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s)
}

func (h *Handlers) ExportConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	data, err := h.Conversations.Export(id)
	if err != nil {
		respondConversationError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="`+id+`.json"`)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// ImportConversation stores an exported conversation under a new id.
// Rejected imports are recorded in the error log.
func (h *Handlers) ImportConversation(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	var id string
	if err == nil {
		id, err = h.Conversations.Import(data)
	}
	if err != nil {
		e := h.Errors.Create(chaterr.CodeConversationImport, chaterr.Context{
			UserID:    middleware.GetCaller(r.Context()).UserID,
			RequestID: chimw.GetReqID(r.Context()),
		}, err, err.Error())
		h.respondChatError(w, e, "", start)
		return
	}
	c, _ := h.Conversations.Get(id)
	respondJSON(w, http.StatusCreated, c)
}

// ConversationHistory returns the messages as the model would see them,
// preceded by an optional ?system= message.
func (h *Handlers) ConversationHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := h.Conversations.Get(id); !ok {
		respondError(w, http.StatusNotFound, "conversation not found")
		return
	}
	history := h.Conversations.GetHistoryWithSystem(r.URL.Query().Get("system"), id)
	if history == nil {
		history = []models.ConversationMessage{}
	}
	respondJSON(w, http.StatusOK, history)
}

func respondConversationError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, conversation.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}
