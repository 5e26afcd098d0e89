// Package stream folds streamed reply fragments into a growing message body.
package stream

import (
	"strings"

	"github.com/vango-go/vai-jarvis/pkg/core/types"
)

// Snapshot is the accumulated state after a fragment has been applied.
// Slices are copies and safe to hand to observers.
type Snapshot struct {
	Text          string
	Citations     []types.Citation
	FunctionCalls []types.FunctionCall
}

// Accumulator reconstructs a reply from ordered fragments. Text only grows
// and citations only accumulate, in arrival order, without deduplication.
type Accumulator struct {
	text      strings.Builder
	citations []types.Citation
	calls     []types.FunctionCall
}

func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

// Apply folds f into the accumulator and returns the new snapshot.
func (a *Accumulator) Apply(f types.Fragment) Snapshot {
	if f.Text != "" {
		a.text.WriteString(f.Text)
	}
	a.citations = append(a.citations, f.Citations...)
	a.calls = append(a.calls, f.FunctionCalls...)
	return a.Snapshot()
}

// Snapshot returns the current state without applying anything.
func (a *Accumulator) Snapshot() Snapshot {
	s := Snapshot{Text: a.text.String()}
	if len(a.citations) > 0 {
		s.Citations = append([]types.Citation(nil), a.citations...)
	}
	if len(a.calls) > 0 {
		s.FunctionCalls = append([]types.FunctionCall(nil), a.calls...)
	}
	return s
}

// Text returns the concatenated text so far.
func (a *Accumulator) Text() string {
	return a.text.String()
}
