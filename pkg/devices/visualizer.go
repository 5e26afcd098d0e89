package devices

import (
	"fmt"
	"io"
	"math"
	"strings"
	"sync"
)

// MeterVisualizer draws two amplitude bars on one terminal line.
type MeterVisualizer struct {
	W     io.Writer
	Width int // bar width in cells; default 20

	mu   sync.Mutex
	last string
}

// Render redraws the line when it changed.
func (v *MeterVisualizer) Render(input, output float64) {
	line := fmt.Sprintf("\rmic %s  jarvis %s", bar(input, v.width()), bar(output, v.width()))
	v.mu.Lock()
	defer v.mu.Unlock()
	if line == v.last {
		return
	}
	v.last = line
	_, _ = io.WriteString(v.W, line)
}

func (v *MeterVisualizer) width() int {
	if v.Width <= 0 {
		return 20
	}
	return v.Width
}

// bar maps an RMS amplitude to filled cells. Speech RMS rarely exceeds 0.3,
// so the scale saturates there.
func bar(level float64, width int) string {
	n := int(math.Round(math.Min(level/0.3, 1) * float64(width)))
	if n < 0 {
		n = 0
	}
	return "[" + strings.Repeat("#", n) + strings.Repeat(" ", width-n) + "]"
}
