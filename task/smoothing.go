package task

// window is a moving average over the last n raw readings.
type window struct {
	values []float64
	index  int
	filled int
	sum    float64
}

func newWindow(n int) *window {
	return &window{values: make([]float64, n)}
}

func (w *window) add(v float64) float64 {
	w.sum = w.sum - w.values[w.index] + v
	w.values[w.index] = v
	w.index = (w.index + 1) % len(w.values)
	if w.filled < len(w.values) {
		w.filled++
	}
	return w.sum / float64(w.filled)
}

func (w *window) reset() {
	clear(w.values)
	w.index, w.filled, w.sum = 0, 0, 0
}
