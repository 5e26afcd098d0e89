package live

import (
	"sync"
	"time"
)

// Timer is the part of *time.Timer the session uses.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f to run after d.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Transcripts holds the pending input and output captions. A completed turn
// arms a timer that clears both; a later completed turn re-arms it.
type Transcripts struct {
	delay     time.Duration
	afterFunc AfterFunc
	onChange  func()

	mu     sync.Mutex
	input  string
	output string
	timer  Timer
	gen    uint64
}

// NewTranscripts builds a caption buffer. onChange, if set, is called
// without the lock held whenever the captions change.
func NewTranscripts(delay time.Duration, afterFunc AfterFunc, onChange func()) *Transcripts {
	if afterFunc == nil {
		afterFunc = realAfterFunc
	}
	return &Transcripts{delay: delay, afterFunc: afterFunc, onChange: onChange}
}

// AppendInput appends recognized user speech.
func (t *Transcripts) AppendInput(text string) {
	if text == "" {
		return
	}
	t.mu.Lock()
	t.input += text
	t.mu.Unlock()
	t.changed()
}

// AppendOutput appends transcribed model speech.
func (t *Transcripts) AppendOutput(text string) {
	if text == "" {
		return
	}
	t.mu.Lock()
	t.output += text
	t.mu.Unlock()
	t.changed()
}

// TurnComplete schedules both captions to clear after the delay.
func (t *Transcripts) TurnComplete() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
	}
	t.gen++
	gen := t.gen
	t.timer = t.afterFunc(t.delay, func() { t.clear(gen) })
}

func (t *Transcripts) clear(gen uint64) {
	t.mu.Lock()
	if gen != t.gen {
		t.mu.Unlock()
		return
	}
	t.timer = nil
	t.input, t.output = "", ""
	t.mu.Unlock()
	t.changed()
}

// Stop cancels a pending clear.
func (t *Transcripts) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.gen++
}

// Pending returns the current input and output captions.
func (t *Transcripts) Pending() (input, output string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.input, t.output
}

func (t *Transcripts) changed() {
	if t.onChange != nil {
		t.onChange()
	}
}
