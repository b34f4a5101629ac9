package detect

import "time"

type point struct {
	seq uint64
	at  time.Time
	dev float64
}

// window is a fixed size ring of the most recent deviations.
type window struct {
	buf  []point
	next int
	size int
}

func newWindow(capacity int) *window {
	return &window{buf: make([]point, capacity)}
}

func (w *window) push(p point) {
	w.buf[w.next] = p
	w.next = (w.next + 1) % len(w.buf)
	if w.size < len(w.buf) {
		w.size++
	}
}

// at returns the i-th most recent point, 0 being the newest.
func (w *window) at(i int) point {
	idx := (w.next - 1 - i + 2*len(w.buf)) % len(w.buf)
	return w.buf[idx]
}

// onset walks back from the point with sequence from to the earliest
// contiguous point whose deviation is at least threshold, never going
// before floor. It returns false if from is no longer in the window.
func (w *window) onset(from, floor uint64, threshold float64) (point, bool) {
	var (
		found bool
		best  point
	)
	for i := 0; i < w.size; i++ {
		p := w.at(i)
		if p.seq > from {
			continue
		}
		if p.seq < floor || p.dev < threshold {
			break
		}
		best, found = p, true
	}
	return best, found
}

func (w *window) reset() {
	w.next, w.size = 0, 0
}
