package devices

import (
	"log/slog"
	"sync"
	"time"

	"github.com/vango-go/vai-jarvis/pkg/core"
	"github.com/vango-go/vai-jarvis/pkg/core/audio"
	"github.com/vango-go/vai-jarvis/pkg/core/live"
)

// OutputContext schedules buffers onto a Sink against a wall clock that
// starts at zero when the context opens. A buffer is written to the sink
// when its start time arrives and counts as playing for its duration.
type OutputContext struct {
	sink      Sink
	afterFunc live.AfterFunc
	now       func() time.Time
	origin    time.Time
	logger    *slog.Logger

	mu        sync.Mutex
	closed    bool
	active    map[*playback]struct{}
	lastFlush time.Time
}

var _ live.OutputContext = (*OutputContext)(nil)

// NewOutputContext wraps sink. Nil afterFunc and now use the time package.
func NewOutputContext(sink Sink, afterFunc live.AfterFunc, now func() time.Time, logger *slog.Logger) *OutputContext {
	if afterFunc == nil {
		afterFunc = func(d time.Duration, f func()) live.Timer { return time.AfterFunc(d, f) }
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OutputContext{
		sink:      sink,
		afterFunc: afterFunc,
		now:       now,
		origin:    now(),
		logger:    logger,
		active:    make(map[*playback]struct{}),
	}
}

// CurrentTime is the number of seconds since the context opened.
func (c *OutputContext) CurrentTime() float64 {
	return c.now().Sub(c.origin).Seconds()
}

func (c *OutputContext) Play(buf *audio.Buffer, at float64) (live.Playback, error) {
	if buf == nil || buf.Frames() == 0 {
		return nil, core.NewInvalidRequestError("empty audio buffer")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, core.Wrap(core.ErrAudioContext, "play", errClosed)
	}

	p := &playback{ctx: c, done: make(chan struct{})}
	pcm := audio.FloatToPCM16(buf.Channel(0))
	dur := time.Duration(buf.Duration() * float64(time.Second))
	delay := time.Duration((at - c.CurrentTime()) * float64(time.Second))
	if delay < 0 {
		delay = 0
	}
	c.active[p] = struct{}{}
	p.timer = c.afterFunc(delay, func() { c.start(p, pcm, dur) })
	return p, nil
}

func (c *OutputContext) start(p *playback, pcm []byte, dur time.Duration) {
	c.mu.Lock()
	if c.closed || p.stopped {
		c.mu.Unlock()
		return
	}
	p.startedAt = c.now()
	p.timer = c.afterFunc(dur, func() { c.finish(p) })
	c.mu.Unlock()

	if err := c.sink.Write(pcm); err != nil {
		c.logger.Warn("audio sink write failed", "error", err)
	}
}

func (c *OutputContext) finish(p *playback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finishLocked(p)
}

func (c *OutputContext) finishLocked(p *playback) {
	if _, ok := c.active[p]; !ok {
		return
	}
	delete(c.active, p)
	close(p.done)
}

func (c *OutputContext) stop(p *playback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.active[p]; !ok {
		return
	}
	p.stopped = true
	if p.timer != nil {
		p.timer.Stop()
	}
	// One flush covers every buffer that was already handed to the sink.
	if !p.startedAt.IsZero() && !p.startedAt.Before(c.lastFlush) {
		if err := c.sink.Flush(); err != nil {
			c.logger.Warn("audio sink flush failed", "error", err)
		}
		c.lastFlush = c.now()
	}
	c.finishLocked(p)
}

// Close stops every playback and closes the sink.
func (c *OutputContext) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	for p := range c.active {
		if p.timer != nil {
			p.timer.Stop()
		}
		c.finishLocked(p)
	}
	c.mu.Unlock()
	return c.sink.Close()
}

type playback struct {
	ctx       *OutputContext
	done      chan struct{}
	timer     live.Timer
	startedAt time.Time
	stopped   bool
}

func (p *playback) Stop()                 { p.ctx.stop(p) }
func (p *playback) Done() <-chan struct{} { return p.done }

// Backend opens ffmpeg-fed input contexts and ffplay-backed output contexts.
type Backend struct {
	FFplayPath string
	Logger     *slog.Logger
}

var _ live.AudioBackend = (*Backend)(nil)

func (b *Backend) OpenInput(sampleRate int) (live.InputContext, error) {
	if sampleRate <= 0 {
		return nil, core.NewInvalidRequestError("sample rate must be positive")
	}
	return &InputContext{rate: sampleRate, done: make(chan struct{})}, nil
}

func (b *Backend) OpenOutput(sampleRate int) (live.OutputContext, error) {
	sink, err := NewFFplaySink(b.FFplayPath, sampleRate)
	if err != nil {
		return nil, core.Wrap(core.ErrAudioContext, "open output", err)
	}
	return NewOutputContext(sink, nil, nil, b.Logger), nil
}
