package gemini

import (
	"context"
	"io"
	"iter"

	"google.golang.org/genai"

	"github.com/vango-go/vai-jarvis/pkg/core/types"
)

// fragmentStream implements types.FragmentStream over a genai response
// sequence.
type fragmentStream struct {
	next    func() (*genai.GenerateContentResponse, error, bool)
	stop    func()
	pending *types.Fragment
	err     error
}

// newFragmentStream pulls the first chunk before returning, so a failed
// request surfaces here rather than from the first Next.
func newFragmentStream(ctx context.Context, seq iter.Seq2[*genai.GenerateContentResponse, error]) (*fragmentStream, error) {
	next, stop := iter.Pull2(seq)
	s := &fragmentStream{next: next, stop: stop}

	resp, err, ok := next()
	switch {
	case !ok:
		s.err = io.EOF
	case err != nil:
		stop()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, mapError(err)
	default:
		f := fragmentFrom(resp)
		s.pending = &f
	}
	return s, nil
}

// Next returns the next fragment.
// Returns io.EOF when the stream is complete.
func (s *fragmentStream) Next() (types.Fragment, error) {
	if s.pending != nil {
		f := *s.pending
		s.pending = nil
		return f, nil
	}
	if s.err != nil {
		return types.Fragment{}, s.err
	}

	resp, err, ok := s.next()
	if !ok {
		s.err = io.EOF
		return types.Fragment{}, io.EOF
	}
	if err != nil {
		s.err = mapError(err)
		return types.Fragment{}, s.err
	}
	return fragmentFrom(resp), nil
}

// Close stops the underlying request.
func (s *fragmentStream) Close() error {
	s.stop()
	return nil
}
