package types

import (
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// Sender identifies who authored a message.
type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// Image is an inline-encoded bitmap attached to a message.
type Image struct {
	MIMEType string `json:"mime_type"`
	Data     []byte `json:"data"` // base64 in JSON
}

// CitationKind tags the Citation union.
type CitationKind string

const (
	CitationWeb CitationKind = "web"
	CitationMap CitationKind = "map"
)

// Citation is a web or map source that grounded a reply.
type Citation struct {
	Kind          CitationKind `json:"kind"`
	URI           string       `json:"uri"`
	Title         string       `json:"title,omitempty"`
	ReviewSnippet string       `json:"review_snippet,omitempty"` // map sources only
}

// WebSource builds a web citation.
func WebSource(uri, title string) Citation {
	return Citation{Kind: CitationWeb, URI: uri, Title: title}
}

// MapSource builds a map citation.
func MapSource(uri, title, reviewSnippet string) Citation {
	return Citation{Kind: CitationMap, URI: uri, Title: title, ReviewSnippet: reviewSnippet}
}

// ToolInvocation records a tool the model asked to invoke.
type ToolInvocation struct {
	ID     string         `json:"id,omitempty"`
	Name   string         `json:"name"`
	Args   map[string]any `json:"args,omitempty"`
	Result string         `json:"result,omitempty"`
}

// Message is one entry of a conversation.
type Message struct {
	ID      string           `json:"id"`
	Sender  Sender           `json:"sender"`
	Text    string           `json:"text"`
	Sources []Citation       `json:"sources,omitempty"`
	Image   *Image           `json:"image,omitempty"`
	Actions []ToolInvocation `json:"actions,omitempty"`
}

// NewMessageID returns a fresh random message identifier.
func NewMessageID() string {
	return uuid.NewString()
}

// Clone returns a copy that shares no slices with m.
func (m Message) Clone() Message {
	out := m
	if m.Sources != nil {
		out.Sources = append([]Citation(nil), m.Sources...)
	}
	if m.Actions != nil {
		out.Actions = append([]ToolInvocation(nil), m.Actions...)
	}
	if m.Image != nil {
		img := *m.Image
		out.Image = &img
	}
	return out
}

// Conversation is an ordered list of messages with a frozen title.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewConversationID returns a time-sortable conversation identifier.
func NewConversationID() string {
	return ulid.Make().String()
}

const titleMaxRunes = 30

// TitleFromPrompt derives a conversation title from its first prompt.
func TitleFromPrompt(prompt string) string {
	if utf8.RuneCountInString(prompt) <= titleMaxRunes {
		return prompt
	}
	runes := []rune(prompt)
	return string(runes[:titleMaxRunes]) + "..."
}

// Clone returns a deep copy of the conversation's message list.
func (c Conversation) Clone() Conversation {
	out := c
	out.Messages = make([]Message, len(c.Messages))
	for i := range c.Messages {
		out.Messages[i] = c.Messages[i].Clone()
	}
	return out
}
