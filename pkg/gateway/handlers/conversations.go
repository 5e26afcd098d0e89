package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/vango-go/vai-jarvis/pkg/core"
	"github.com/vango-go/vai-jarvis/pkg/core/types"
)

// ConversationLister reads stored conversations.
type ConversationLister interface {
	Get(ctx context.Context, id string) (*types.Conversation, error)
	List(ctx context.Context, limit int) ([]types.Conversation, error)
}

type ConversationSummary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

const maxListLimit = 500

// ListConversationsHandler handles GET /v1/conversations, newest first.
type ListConversationsHandler struct {
	Store ConversationLister
}

func (h ListConversationsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxListLimit {
			writeErr(w, r, core.NewInvalidRequestError("limit must be between 1 and 500"))
			return
		}
		limit = n
	}

	convs, err := h.Store.List(r.Context(), limit)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	out := make([]ConversationSummary, len(convs))
	for i, c := range convs {
		out[i] = ConversationSummary{ID: c.ID, Title: c.Title, CreatedAt: c.CreatedAt, UpdatedAt: c.UpdatedAt}
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": out})
}

// GetConversationHandler handles GET /v1/conversations/{id}.
type GetConversationHandler struct {
	Store ConversationLister
}

func (h GetConversationHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conv, err := h.Store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

// MemoryHandler handles POST /v1/conversations/{id}/memory. It folds the
// conversation into the long-term memory notes and returns them.
type MemoryHandler struct {
	Turns    Turns
	Inflight *Inflight
}

func (h MemoryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	release, ok := h.Inflight.Acquire(id)
	if !ok {
		writeErr(w, r, core.NewError(core.ErrConflict, "a turn is already running on this conversation"))
		return
	}
	defer release()

	mem, err := h.Turns.RefreshMemory(r.Context(), id)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{types.PrefLongTermMemory: mem})
}
