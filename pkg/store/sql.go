package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vango-go/vai-jarvis/pkg/core"
	"github.com/vango-go/vai-jarvis/pkg/core/types"
)

// SQLConversations stores one row per conversation and one row per message.
type SQLConversations struct {
	q *queries
}

var _ Conversations = (*SQLConversations)(nil)

func (s *SQLConversations) Get(ctx context.Context, id string) (*types.Conversation, error) {
	var (
		c                types.Conversation
		created, updated int64
	)
	err := s.q.db.QueryRowContext(ctx,
		s.q.rebind(`SELECT id, title, created_at, updated_at FROM conversations WHERE id = ?`), id,
	).Scan(&c.ID, &c.Title, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.NewNotFoundError(fmt.Sprintf("conversation %q not found", id))
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation %s: %w", id, err)
	}
	c.CreatedAt = fromMillis(created)
	c.UpdatedAt = fromMillis(updated)

	rows, err := s.q.db.QueryContext(ctx,
		s.q.rebind(`SELECT id, sender, text, sources, image, actions FROM messages
		 WHERE conversation_id = ? ORDER BY position`), id,
	)
	if err != nil {
		return nil, fmt.Errorf("load messages of %s: %w", id, err)
	}
	defer rows.Close()

	c.Messages = []types.Message{}
	for rows.Next() {
		var (
			m                       types.Message
			sources, image, actions sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.Sender, &m.Text, &sources, &image, &actions); err != nil {
			return nil, err
		}
		if err := decodeColumn(sources, &m.Sources); err != nil {
			return nil, fmt.Errorf("message %s sources: %w", m.ID, err)
		}
		if err := decodeColumn(image, &m.Image); err != nil {
			return nil, fmt.Errorf("message %s image: %w", m.ID, err)
		}
		if err := decodeColumn(actions, &m.Actions); err != nil {
			return nil, fmt.Errorf("message %s actions: %w", m.ID, err)
		}
		c.Messages = append(c.Messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Save writes the conversation and replaces its messages in one transaction.
func (s *SQLConversations) Save(ctx context.Context, c *types.Conversation) error {
	if c == nil || c.ID == "" {
		return core.NewInvalidRequestError("conversation id is required")
	}
	tx, err := s.q.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, s.q.rebind(
		`INSERT INTO conversations (id, title, created_at, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET title = excluded.title, updated_at = excluded.updated_at`),
		c.ID, c.Title, toMillis(c.CreatedAt), toMillis(c.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("save conversation %s: %w", c.ID, err)
	}
	if _, err := tx.ExecContext(ctx, s.q.rebind(`DELETE FROM messages WHERE conversation_id = ?`), c.ID); err != nil {
		return fmt.Errorf("clear messages of %s: %w", c.ID, err)
	}

	insert := s.q.rebind(`INSERT INTO messages (conversation_id, position, id, sender, text, sources, image, actions)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	for i, m := range c.Messages {
		sources, err := encodeColumn(m.Sources, len(m.Sources) > 0)
		if err != nil {
			return err
		}
		image, err := encodeColumn(m.Image, m.Image != nil)
		if err != nil {
			return err
		}
		actions, err := encodeColumn(m.Actions, len(m.Actions) > 0)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, insert, c.ID, i, m.ID, string(m.Sender), m.Text, sources, image, actions); err != nil {
			return fmt.Errorf("save message %s: %w", m.ID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLConversations) List(ctx context.Context, limit int) ([]types.Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.q.db.QueryContext(ctx, s.q.rebind(
		`SELECT id, title, created_at, updated_at FROM conversations
		 ORDER BY updated_at DESC, id DESC LIMIT ?`), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	out := []types.Conversation{}
	for rows.Next() {
		var (
			c                types.Conversation
			created, updated int64
		)
		if err := rows.Scan(&c.ID, &c.Title, &created, &updated); err != nil {
			return nil, err
		}
		c.CreatedAt = fromMillis(created)
		c.UpdatedAt = fromMillis(updated)
		out = append(out, c)
	}
	return out, rows.Err()
}

// SQLPreferences stores preferences as key/value rows.
type SQLPreferences struct {
	q *queries
}

var _ Preferences = (*SQLPreferences)(nil)

func (s *SQLPreferences) All(ctx context.Context) (map[string]string, error) {
	rows, err := s.q.db.QueryContext(ctx, `SELECT key, value FROM preferences`)
	if err != nil {
		return nil, fmt.Errorf("load preferences: %w", err)
	}
	defer rows.Close()
	kv := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		kv[k] = v
	}
	return kv, rows.Err()
}

func (s *SQLPreferences) Load(ctx context.Context) (types.Preferences, error) {
	kv, err := s.All(ctx)
	if err != nil {
		return types.Preferences{}, err
	}
	return types.PreferencesFromMap(kv), nil
}

// Save upserts one preference. Unknown keys are rejected.
func (s *SQLPreferences) Save(ctx context.Context, key, value string) error {
	if !types.IsPreferenceKey(key) {
		return core.NewInvalidRequestError(fmt.Sprintf("unknown preference %q", key))
	}
	_, err := s.q.db.ExecContext(ctx, s.q.rebind(
		`INSERT INTO preferences (key, value) VALUES (?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value`), key, value)
	if err != nil {
		return fmt.Errorf("save preference %s: %w", key, err)
	}
	return nil
}

func encodeColumn(v any, present bool) (sql.NullString, error) {
	if !present {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func decodeColumn(col sql.NullString, dst any) error {
	if !col.Valid || col.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(col.String), dst)
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
