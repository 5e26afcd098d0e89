package gemini

import (
	"google.golang.org/genai"

	"github.com/vango-go/vai-jarvis/pkg/core/types"
)

// buildContents converts role-tagged history into Gemini contents.
func buildContents(contents []types.Content) []*genai.Content {
	out := make([]*genai.Content, 0, len(contents))
	for _, c := range contents {
		role := genai.RoleUser
		if c.Role == types.RoleModel {
			role = genai.RoleModel
		}
		gc := &genai.Content{Role: string(role)}
		for _, part := range c.Parts {
			switch {
			case part.Image != nil:
				mime := part.Image.MIMEType
				if mime == "" {
					mime = "image/jpeg"
				}
				gc.Parts = append(gc.Parts, genai.NewPartFromBytes(part.Image.Data, mime))
			case part.Text != "":
				gc.Parts = append(gc.Parts, genai.NewPartFromText(part.Text))
			}
		}
		if len(gc.Parts) > 0 {
			out = append(out, gc)
		}
	}
	return out
}

// buildTools maps a tool selection to Gemini tools. Function declarations
// are sent alone; Gemini rejects them next to grounding tools.
func buildTools(cfg types.ToolConfig) []*genai.Tool {
	if len(cfg.Functions) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(cfg.Functions))
		for _, fn := range cfg.Functions {
			decls = append(decls, buildFunctionDeclaration(fn))
		}
		return []*genai.Tool{{FunctionDeclarations: decls}}
	}

	var tools []*genai.Tool
	if cfg.Maps {
		tools = append(tools, &genai.Tool{GoogleMaps: &genai.GoogleMaps{}})
	}
	if cfg.WebSearch {
		tools = append(tools, &genai.Tool{GoogleSearch: &genai.GoogleSearch{}})
	}
	return tools
}

// buildToolConfig attaches the user's coordinates to maps grounding.
func buildToolConfig(cfg types.ToolConfig) *genai.ToolConfig {
	if !cfg.Maps || cfg.Location == nil {
		return nil
	}
	return &genai.ToolConfig{
		RetrievalConfig: &genai.RetrievalConfig{
			LatLng: &genai.LatLng{
				Latitude:  genai.Ptr(cfg.Location.Latitude),
				Longitude: genai.Ptr(cfg.Location.Longitude),
			},
		},
	}
}

func buildFunctionDeclaration(fn types.FunctionDeclaration) *genai.FunctionDeclaration {
	decl := &genai.FunctionDeclaration{Name: fn.Name, Description: fn.Description}
	if len(fn.Parameters) == 0 {
		return decl
	}
	schema := &genai.Schema{
		Type:       genai.TypeObject,
		Properties: make(map[string]*genai.Schema, len(fn.Parameters)),
		Required:   fn.Required,
	}
	for _, param := range fn.Parameters {
		schema.Properties[param.Name] = &genai.Schema{
			Type:        schemaType(param.Type),
			Description: param.Description,
			Enum:        param.Enum,
		}
	}
	decl.Parameters = schema
	return decl
}

func schemaType(t types.ParamType) genai.Type {
	switch t {
	case types.ParamBoolean:
		return genai.TypeBoolean
	case types.ParamNumber:
		return genai.TypeNumber
	default:
		return genai.TypeString
	}
}
