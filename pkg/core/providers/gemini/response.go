package gemini

import (
	"strings"

	"google.golang.org/genai"

	"github.com/vango-go/vai-jarvis/pkg/core/types"
)

// fragmentFrom extracts the text, grounding sources and function calls of
// one streamed chunk. Only the first candidate is read.
func fragmentFrom(resp *genai.GenerateContentResponse) types.Fragment {
	var f types.Fragment
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return f
	}
	cand := resp.Candidates[0]

	if cand.Content != nil {
		var text strings.Builder
		for _, part := range cand.Content.Parts {
			if part == nil {
				continue
			}
			if part.Text != "" && !part.Thought {
				text.WriteString(part.Text)
			}
			if fc := part.FunctionCall; fc != nil {
				f.FunctionCalls = append(f.FunctionCalls, types.FunctionCall{ID: fc.ID, Name: fc.Name, Args: fc.Args})
			}
		}
		f.Text = text.String()
	}

	if gm := cand.GroundingMetadata; gm != nil {
		for _, chunk := range gm.GroundingChunks {
			if c, ok := citationFrom(chunk); ok {
				f.Citations = append(f.Citations, c)
			}
		}
	}
	return f
}

func citationFrom(chunk *genai.GroundingChunk) (types.Citation, bool) {
	switch {
	case chunk == nil:
		return types.Citation{}, false
	case chunk.Maps != nil && chunk.Maps.URI != "":
		return types.MapSource(chunk.Maps.URI, chunk.Maps.Title, ""), true
	case chunk.Web != nil && chunk.Web.URI != "":
		return types.WebSource(chunk.Web.URI, chunk.Web.Title), true
	default:
		return types.Citation{}, false
	}
}

// firstImage returns the first inline image of the first candidate.
func firstImage(resp *genai.GenerateContentResponse) *types.Image {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil || resp.Candidates[0].Content == nil {
		return nil
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
			continue
		}
		mime := part.InlineData.MIMEType
		if mime == "" {
			mime = "image/png"
		}
		return &types.Image{MIMEType: mime, Data: part.InlineData.Data}
	}
	return nil
}
