// Package indicator holds the rolling price window and the indicator
// snapshot derived from it on every tick.
package indicator

import "time"

// Observation is one market data point. OpenInterest is keyed by option
// strike and is optional.
type Observation struct {
	Timestamp    time.Time     `json:"timestamp"`
	Price        float64       `json:"price"`
	Volume       float64       `json:"volume"`
	OpenInterest map[int]int64 `json:"open_interest,omitempty"`
}

// Window is a fixed-capacity ring buffer of the most recent observations.
// It is owned by the tick loop and is not safe for concurrent use.
type Window struct {
	buf   []Observation
	start int
	n     int
}

func NewWindow(capacity int) *Window {
	if capacity < 2 {
		capacity = 2
	}
	return &Window{buf: make([]Observation, capacity)}
}

// Push appends obs, evicting the oldest observation once full.
func (w *Window) Push(obs Observation) {
	if w.n < len(w.buf) {
		w.buf[(w.start+w.n)%len(w.buf)] = obs
		w.n++
		return
	}
	w.buf[w.start] = obs
	w.start = (w.start + 1) % len(w.buf)
}

func (w *Window) Len() int { return w.n }

func (w *Window) Cap() int { return len(w.buf) }

// At returns the i-th retained observation, 0 being the oldest.
func (w *Window) At(i int) Observation {
	if i < 0 || i >= w.n {
		panic("indicator: window index out of range")
	}
	return w.buf[(w.start+i)%len(w.buf)]
}

func (w *Window) Latest() (Observation, bool) {
	if w.n == 0 {
		return Observation{}, false
	}
	return w.At(w.n - 1), true
}

// Prices returns retained prices oldest first.
func (w *Window) Prices() []float64 {
	out := make([]float64, w.n)
	for i := range out {
		out[i] = w.At(i).Price
	}
	return out
}

func (w *Window) Reset() {
	w.start, w.n = 0, 0
}
