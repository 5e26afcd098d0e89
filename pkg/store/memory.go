package store

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/vango-go/vai-jarvis/pkg/core"
	"github.com/vango-go/vai-jarvis/pkg/core/types"
)

// MemoryConversations keeps conversations in process memory.
type MemoryConversations struct {
	mu    sync.RWMutex
	convs map[string]types.Conversation
}

var _ Conversations = (*MemoryConversations)(nil)

func NewMemoryConversations() *MemoryConversations {
	return &MemoryConversations{convs: make(map[string]types.Conversation)}
}

func (m *MemoryConversations) Get(_ context.Context, id string) (*types.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.convs[id]
	if !ok {
		return nil, core.NewNotFoundError(fmt.Sprintf("conversation %q not found", id))
	}
	out := c.Clone()
	return &out, nil
}

func (m *MemoryConversations) Save(_ context.Context, c *types.Conversation) error {
	if c == nil || c.ID == "" {
		return core.NewInvalidRequestError("conversation id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.convs[c.ID] = c.Clone()
	return nil
}

func (m *MemoryConversations) List(_ context.Context, limit int) ([]types.Conversation, error) {
	m.mu.RLock()
	out := make([]types.Conversation, 0, len(m.convs))
	for _, c := range m.convs {
		c.Messages = nil
		out = append(out, c)
	}
	m.mu.RUnlock()

	slices.SortFunc(out, func(a, b types.Conversation) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		switch {
		case a.ID > b.ID:
			return -1
		case a.ID < b.ID:
			return 1
		}
		return 0
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MemoryPreferences keeps preferences in process memory.
type MemoryPreferences struct {
	mu sync.RWMutex
	kv map[string]string
}

var _ Preferences = (*MemoryPreferences)(nil)

func NewMemoryPreferences() *MemoryPreferences {
	return &MemoryPreferences{kv: make(map[string]string)}
}

func (m *MemoryPreferences) All(context.Context) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.kv), nil
}

func (m *MemoryPreferences) Load(ctx context.Context) (types.Preferences, error) {
	kv, _ := m.All(ctx)
	return types.PreferencesFromMap(kv), nil
}

func (m *MemoryPreferences) Save(_ context.Context, key, value string) error {
	if !types.IsPreferenceKey(key) {
		return core.NewInvalidRequestError(fmt.Sprintf("unknown preference %q", key))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kv[key] = value
	return nil
}
