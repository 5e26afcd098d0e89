package live

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vango-go/vai-jarvis/pkg/core"
	"github.com/vango-go/vai-jarvis/pkg/core/audio"
	"github.com/vango-go/vai-jarvis/pkg/core/types"
)

// Session is one real-time voice conversation. Only one session should be
// active on a host at a time; callers enforce that before Start.
type Session struct {
	cfg       Config
	deps      Dependencies
	logger    *slog.Logger
	afterFunc AfterFunc
	observers []Observer
	now       func() time.Time

	mu          sync.Mutex
	phase       Phase
	err         error
	muted       bool
	inputAmp    float64
	location    *types.Location
	startedAt   time.Time
	res         *resources
	sched       *PlaybackScheduler
	transcripts *Transcripts
	cancel      context.CancelFunc
	done        chan struct{}
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithObserver registers an observer for state snapshots.
func WithObserver(o Observer) Option {
	return func(s *Session) {
		if o != nil {
			s.observers = append(s.observers, o)
		}
	}
}

// WithAfterFunc replaces the timer used to clear captions.
func WithAfterFunc(f AfterFunc) Option {
	return func(s *Session) {
		if f != nil {
			s.afterFunc = f
		}
	}
}

// NewSession creates an idle session.
func NewSession(cfg Config, deps Dependencies, opts ...Option) *Session {
	s := &Session{
		cfg:       cfg.withDefaults(),
		deps:      deps,
		logger:    slog.Default(),
		afterFunc: realAfterFunc,
		now:       time.Now,
		phase:     PhaseIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type resources struct {
	mic     MicStream
	input   InputContext
	output  OutputContext
	channel Channel
	frames  <-chan []float32
}

// release closes everything in teardown order: channel, contexts, microphone.
func (r *resources) release() {
	if r == nil {
		return
	}
	if r.channel != nil {
		_ = r.channel.Close()
	}
	if r.input != nil {
		_ = r.input.Close()
	}
	if r.output != nil {
		_ = r.output.Close()
	}
	if r.mic != nil {
		_ = r.mic.Release()
	}
}

type playbackCommand struct {
	buf       *audio.Buffer
	interrupt bool
}

// Start acquires the devices, connects, and begins streaming. It is valid
// from IDLE and from ERROR. On failure the session is left in ERROR with
// every partially acquired resource released.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.phase != PhaseIdle && s.phase != PhaseError {
		phase := s.phase
		s.mu.Unlock()
		return core.NewError(core.ErrConflict, fmt.Sprintf("cannot start session in phase %s", phase))
	}
	connectCtx, cancel := context.WithCancel(ctx)
	s.phase = PhaseConnecting
	s.err = nil
	s.cancel = cancel
	s.mu.Unlock()
	s.notify()

	res, err := s.connect(connectCtx)
	cancel()
	if err != nil {
		s.mu.Lock()
		if s.phase != PhaseConnecting {
			s.mu.Unlock()
			return err
		}
		s.phase = PhaseError
		s.err = err
		s.cancel = nil
		s.mu.Unlock()

		s.logger.Warn("live session failed to start", "error", err)
		s.notify()
		return err
	}

	s.mu.Lock()
	if s.phase != PhaseConnecting {
		s.mu.Unlock()
		res.release()
		return core.NewError(core.ErrConflict, "session ended while connecting")
	}
	runCtx, runCancel := context.WithCancel(context.WithoutCancel(ctx))
	sched := NewPlaybackScheduler(res.output, s.notify)
	transcripts := NewTranscripts(s.cfg.TranscriptClearDelay, s.afterFunc, s.notify)
	done := make(chan struct{})
	s.res = res
	s.sched = sched
	s.transcripts = transcripts
	s.cancel = runCancel
	s.done = done
	s.phase = PhaseActive
	s.startedAt = s.now()
	s.mu.Unlock()

	if s.deps.Recorder != nil {
		s.deps.Recorder.LiveSessionStarted()
	}
	s.logger.Info("live session active", "model", s.cfg.Model, "voice", s.cfg.Voice)
	s.notify()

	go s.run(runCtx, res, sched, transcripts, done)
	return nil
}

func (s *Session) connect(ctx context.Context) (*resources, error) {
	if s.deps.Microphone == nil {
		return nil, core.NewError(core.ErrDeviceUnavailable, "no microphone configured")
	}
	if s.deps.Audio == nil {
		return nil, core.NewError(core.ErrAudioContext, "no audio backend configured")
	}
	if s.deps.Connector == nil {
		return nil, core.NewError(core.ErrTransport, "no live connector configured")
	}

	r := &resources{}
	mic, err := s.deps.Microphone.Acquire(ctx)
	if err != nil {
		return nil, core.Wrap(core.ErrDeviceUnavailable, "acquire microphone", err)
	}
	r.mic = mic

	if r.input, err = s.deps.Audio.OpenInput(audio.InputSampleRate); err != nil {
		r.release()
		return nil, core.Wrap(core.ErrAudioContext, "open input audio context", err)
	}
	if r.output, err = s.deps.Audio.OpenOutput(audio.OutputSampleRate); err != nil {
		r.release()
		return nil, core.Wrap(core.ErrAudioContext, "open output audio context", err)
	}

	loc := s.locate(ctx)
	s.mu.Lock()
	s.location = loc
	s.mu.Unlock()

	if r.channel, err = s.deps.Connector.Connect(ctx, newSetup(s.cfg, loc)); err != nil {
		r.release()
		return nil, core.Wrap(core.ErrTransport, "connect live channel", err)
	}
	if r.frames, err = r.input.Tap(mic, s.cfg.FrameSamples); err != nil {
		r.release()
		return nil, core.Wrap(core.ErrAudioContext, "tap microphone", err)
	}
	return r, nil
}

func (s *Session) locate(ctx context.Context) *types.Location {
	if s.deps.Geolocator == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.LocateTimeout)
	defer cancel()
	loc, err := s.deps.Geolocator.Locate(ctx)
	if err != nil {
		s.logger.Debug("location unavailable", "error", err)
		return nil
	}
	return loc
}

func (s *Session) run(ctx context.Context, res *resources, sched *PlaybackScheduler, tr *Transcripts, done chan struct{}) {
	defer close(done)

	ch, frames := res.channel, res.frames
	cmds := make(chan playbackCommand, s.cfg.CommandBuffer)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.capture(gctx, ch, frames) })
	g.Go(func() error { return s.receive(gctx, ch, tr, cmds) })
	g.Go(func() error { return s.playback(gctx, sched, cmds) })
	if s.deps.Visualizer != nil {
		g.Go(func() error { return s.visualize(gctx, sched) })
	}

	err := g.Wait()
	switch {
	case errors.Is(err, io.EOF):
		if s.teardown(PhaseEnded, nil) {
			s.logger.Info("live channel closed by remote")
		}
	case err != nil:
		var coreErr *core.Error
		if !errors.As(err, &coreErr) {
			err = core.Wrap(core.ErrTransport, "live session", err)
		}
		if s.teardown(PhaseError, err) {
			s.logger.Warn("live session failed", "error", err)
		}
	}
}

func (s *Session) capture(ctx context.Context, ch Channel, frames <-chan []float32) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame, ok := <-frames:
			if !ok {
				return core.NewError(core.ErrAudioContext, "microphone stream closed")
			}
			if len(frame) == 0 {
				continue
			}

			s.mu.Lock()
			muted := s.muted
			if muted {
				s.inputAmp = 0
			} else {
				s.inputAmp = audio.RMS(frame)
			}
			s.mu.Unlock()
			if muted {
				continue
			}

			if err := ch.SendAudio(ctx, audio.EncodeFrame(frame, audio.InputSampleRate)); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return core.Wrap(core.ErrTransport, "send audio", err)
			}
			if s.deps.Recorder != nil {
				s.deps.Recorder.LiveAudio("input", len(frame)*2)
			}
		}
	}
}

func (s *Session) receive(ctx context.Context, ch Channel, tr *Transcripts, cmds chan<- playbackCommand) error {
	for {
		ev, err := ch.Receive(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return io.EOF
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return core.Wrap(core.ErrTransport, "receive", err)
		}
		if ev == nil {
			continue
		}
		if err := s.handle(ctx, ch, tr, cmds, ev); err != nil {
			return err
		}
	}
}

// handle applies one server message: captions, turn completion, tool calls,
// audio, then interruption.
func (s *Session) handle(ctx context.Context, ch Channel, tr *Transcripts, cmds chan<- playbackCommand, ev *ServerEvent) error {
	tr.AppendInput(ev.InputTranscript)
	tr.AppendOutput(ev.OutputTranscript)
	if ev.TurnComplete {
		tr.TurnComplete()
	}

	if len(ev.ToolCalls) > 0 {
		if err := s.dispatchTools(ctx, ch, ev.ToolCalls); err != nil {
			return err
		}
	}

	for _, chunk := range ev.Audio {
		raw, err := audio.DecodeBase64(chunk)
		if err != nil {
			s.logger.Warn("dropping audio chunk", "error", err)
			continue
		}
		buf, err := audio.PCM16ToBuffer(raw, audio.OutputSampleRate, 1)
		if err != nil {
			s.logger.Warn("dropping audio chunk", "bytes", len(raw), "error", err)
			continue
		}
		if s.deps.Recorder != nil {
			s.deps.Recorder.LiveAudio("output", len(raw))
		}
		if err := enqueue(ctx, cmds, playbackCommand{buf: buf}); err != nil {
			return err
		}
	}

	if ev.Interrupted {
		return enqueue(ctx, cmds, playbackCommand{interrupt: true})
	}
	return nil
}

func enqueue(ctx context.Context, cmds chan<- playbackCommand, cmd playbackCommand) error {
	select {
	case cmds <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// MapSearchURL is the page opened for an openMap tool call.
func MapSearchURL(location string) string {
	return "https://www.google.com/maps/search/" + strings.ReplaceAll(url.QueryEscape(location), "+", "%20")
}

func (s *Session) dispatchTools(ctx context.Context, ch Channel, calls []types.FunctionCall) error {
	responses := make([]ToolResponse, 0, len(calls))
	for _, call := range calls {
		switch call.Name {
		case ToolOpenMap:
			location, _ := call.Args["location"].(string)
			link := MapSearchURL(location)
			if s.deps.Links != nil {
				if err := s.deps.Links.Open(link); err != nil {
					s.logger.Warn("open map failed", "url", link, "error", err)
				}
			}
			responses = append(responses, ToolResponse{ID: call.ID, Name: call.Name, Response: map[string]any{"result": "OK"}})
		default:
			s.logger.Warn("unknown live tool call", "name", call.Name)
			responses = append(responses, ToolResponse{ID: call.ID, Name: call.Name, Response: map[string]any{"error": "unknown tool"}})
		}
	}
	if err := ch.SendToolResponses(ctx, responses); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return core.Wrap(core.ErrTransport, "send tool responses", err)
	}
	return nil
}

func (s *Session) playback(ctx context.Context, sched *PlaybackScheduler, cmds <-chan playbackCommand) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd := <-cmds:
			if cmd.interrupt {
				sched.Interrupt()
				s.notify()
				continue
			}
			if _, err := sched.Schedule(cmd.buf); err != nil {
				return core.Wrap(core.ErrAudioContext, "schedule playback", err)
			}
			s.notify()
		}
	}
}

func (s *Session) visualize(ctx context.Context, sched *PlaybackScheduler) error {
	ticker := time.NewTicker(s.cfg.VisualizationInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.mu.Lock()
			in := s.inputAmp
			s.mu.Unlock()
			s.deps.Visualizer.Render(in, sched.Amplitude())
		}
	}
}

// SetMuted mutes or unmutes capture. Muted frames are not transmitted and
// report zero input amplitude; capture itself keeps running.
func (s *Session) SetMuted(muted bool) {
	s.mu.Lock()
	if s.muted == muted {
		s.mu.Unlock()
		return
	}
	s.muted = muted
	if muted {
		s.inputAmp = 0
	}
	s.mu.Unlock()
	s.notify()
}

// ToggleMute flips the mute state and returns the new value.
func (s *Session) ToggleMute() bool {
	s.mu.Lock()
	s.muted = !s.muted
	muted := s.muted
	if muted {
		s.inputAmp = 0
	}
	s.mu.Unlock()
	s.notify()
	return muted
}

// End stops the session. From ACTIVE, teardown is synchronous: when End
// returns, the channel is closed, playback stopped, both contexts closed and
// the microphone released. From CONNECTING, the pending connect is cancelled
// and whatever it acquired is released by Start before it returns. End is a
// no-op in IDLE and idempotent otherwise.
func (s *Session) End() error {
	s.mu.Lock()
	idle := s.phase == PhaseIdle
	s.mu.Unlock()
	if idle {
		return nil
	}
	s.teardown(PhaseEnded, nil)
	return nil
}

// teardown moves the session to phase and releases everything it holds.
// It reports whether it made the transition.
func (s *Session) teardown(phase Phase, err error) bool {
	s.mu.Lock()
	prev := s.phase
	if prev == PhaseEnded || (prev == PhaseError && phase == PhaseError) {
		s.mu.Unlock()
		return false
	}
	s.phase = phase
	s.err = err
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}

	res := s.res
	s.res = nil
	if s.sched != nil {
		s.sched.Close()
	}
	if s.transcripts != nil {
		s.transcripts.Stop()
		s.transcripts = nil
	}
	res.release()
	s.inputAmp = 0
	started := s.startedAt
	s.mu.Unlock()

	if prev == PhaseActive && s.deps.Recorder != nil {
		status := "ended"
		if phase == PhaseError {
			status = "error"
		}
		s.deps.Recorder.LiveSessionEnded(status, s.now().Sub(started).Seconds())
	}
	s.notify()
	return true
}

// Wait blocks until the running tasks have exited and returns the error
// that ended the session, if any. It returns immediately when nothing runs.
func (s *Session) Wait() error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		<-done
	}
	return s.State().Err
}

// State returns a snapshot of the session.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := State{
		Phase:           s.phase,
		InputAmplitude:  s.inputAmp,
		MicrophoneMuted: s.muted,
		Err:             s.err,
	}
	if s.location != nil {
		loc := *s.location
		st.Location = &loc
	}
	if s.sched != nil {
		st.OutputAmplitude = s.sched.Amplitude()
		st.ModelSpeaking = s.sched.Pending() > 0
	}
	if s.transcripts != nil {
		st.PendingInputTranscript, st.PendingOutputTranscript = s.transcripts.Pending()
	}
	return st
}

func (s *Session) notify() {
	if len(s.observers) == 0 {
		return
	}
	st := s.State()
	for _, o := range s.observers {
		o(st)
	}
}
