package live

import (
	"sync"

	"github.com/vango-go/vai-jarvis/pkg/core/audio"
)

// PlaybackScheduler queues decoded buffers back to back on an output
// context. Each buffer starts at max(watermark, now) and advances the
// watermark by its duration, so chunks play gaplessly in arrival order.
type PlaybackScheduler struct {
	out OutputContext

	mu        sync.Mutex
	watermark float64
	active    map[Playback]struct{}
	amplitude float64
	closed    bool
	onIdle    func()
}

// NewPlaybackScheduler schedules onto out. onIdle, if set, is called after
// the last outstanding playback finishes on its own.
func NewPlaybackScheduler(out OutputContext, onIdle func()) *PlaybackScheduler {
	return &PlaybackScheduler{
		out:    out,
		active: make(map[Playback]struct{}),
		onIdle: onIdle,
	}
}

// Schedule plays buf after everything already scheduled and returns its start
// time. The output amplitude becomes the RMS of channel 0 and holds until
// playback drains. Schedule is a no-op after Close.
func (p *PlaybackScheduler) Schedule(buf *audio.Buffer) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || buf == nil {
		return 0, nil
	}

	start := p.watermark
	if now := p.out.CurrentTime(); now > start {
		start = now
	}
	pb, err := p.out.Play(buf, start)
	if err != nil {
		return 0, err
	}
	p.watermark = start + buf.Duration()
	p.amplitude = audio.RMS(buf.Channel(0))
	p.active[pb] = struct{}{}

	go p.watch(pb)
	return start, nil
}

func (p *PlaybackScheduler) watch(pb Playback) {
	<-pb.Done()

	p.mu.Lock()
	if _, ok := p.active[pb]; !ok {
		p.mu.Unlock()
		return
	}
	delete(p.active, pb)
	idle := len(p.active) == 0
	if idle {
		p.amplitude = 0
	}
	onIdle := p.onIdle
	p.mu.Unlock()

	if idle && onIdle != nil {
		onIdle()
	}
}

// Interrupt stops every scheduled buffer, rewinds the watermark to 0 and
// zeroes the amplitude.
func (p *PlaybackScheduler) Interrupt() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopAllLocked()
}

// Close interrupts playback and rejects further Schedule calls.
func (p *PlaybackScheduler) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopAllLocked()
	p.closed = true
}

func (p *PlaybackScheduler) stopAllLocked() {
	for pb := range p.active {
		pb.Stop()
		delete(p.active, pb)
	}
	p.watermark = 0
	p.amplitude = 0
}

// Amplitude is the output level to visualize.
func (p *PlaybackScheduler) Amplitude() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.amplitude
}

// Watermark is the context time at which the next buffer would start if
// the clock were behind it.
func (p *PlaybackScheduler) Watermark() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.watermark
}

// Pending reports how many buffers are scheduled or playing.
func (p *PlaybackScheduler) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active)
}
