package types

// Fragment is one partial response delivered by a streamed reply.
// Any field may be empty.
type Fragment struct {
	Text          string         `json:"text,omitempty"`
	Citations     []Citation     `json:"citations,omitempty"`
	FunctionCalls []FunctionCall `json:"function_calls,omitempty"`
}

// FunctionCall is a tool invocation requested by the model.
type FunctionCall struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// FragmentStream is an iterator over streamed reply fragments.
type FragmentStream interface {
	// Next returns the next fragment. Returns io.EOF when the stream is done.
	Next() (Fragment, error)

	// Close releases resources.
	Close() error
}
