// Package lifecycle tracks whether the process is draining for shutdown.
package lifecycle

import "sync/atomic"

// Lifecycle is shared by the server and its handlers. The zero value is
// serving; a nil *Lifecycle is never draining.
type Lifecycle struct {
	draining atomic.Bool
}

// BeginDrain flips readiness off and makes new turns fail fast.
func (l *Lifecycle) BeginDrain() {
	if l == nil {
		return
	}
	l.draining.Store(true)
}

func (l *Lifecycle) Draining() bool {
	if l == nil {
		return false
	}
	return l.draining.Load()
}
