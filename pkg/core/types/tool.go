package types

// ParamType is the JSON type of a function parameter.
type ParamType string

const (
	ParamString  ParamType = "string"
	ParamBoolean ParamType = "boolean"
	ParamNumber  ParamType = "number"
)

// Parameter describes one argument of a function declaration.
type Parameter struct {
	Name        string    `json:"name"`
	Type        ParamType `json:"type"`
	Description string    `json:"description,omitempty"`
	Enum        []string  `json:"enum,omitempty"`
}

// FunctionDeclaration is a tool the model may call.
type FunctionDeclaration struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Parameters  []Parameter `json:"parameters,omitempty"`
	Required    []string    `json:"required,omitempty"`
}

// Location is a pair of WGS84 coordinates.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// ToolConfig selects the tools attached to a streamed reply.
type ToolConfig struct {
	WebSearch bool                  `json:"web_search,omitempty"`
	Maps      bool                  `json:"maps,omitempty"`
	Functions []FunctionDeclaration `json:"functions,omitempty"`

	// Location grounds map lookups; only set when coordinates were obtained.
	Location *Location `json:"location,omitempty"`
}
