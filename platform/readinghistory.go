package platform

import (
	"math"
	"slices"
	"sync"

	"github.com/gammazero/deque"
)

const maxReadingHistory = 500

type readingStats struct {
	count  int
	min    float64
	max    float64
	mean   float64
	median float64
	stdDev float64
}

// readingHistory keeps the last raw readings of every input for the
// statistics pane of the TUI.
type readingHistory struct {
	mu     sync.Mutex
	values map[string]*deque.Deque[float64]
}

func newReadingHistory() *readingHistory {
	return &readingHistory{values: make(map[string]*deque.Deque[float64])}
}

func (h *readingHistory) add(key string, v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	q, ok := h.values[key]
	if !ok {
		q = new(deque.Deque[float64])
		q.Grow(maxReadingHistory)
		h.values[key] = q
	}
	if q.Len() == maxReadingHistory {
		q.PopFront()
	}
	q.PushBack(v)
}

func (h *readingHistory) stats(key string) readingStats {
	h.mu.Lock()
	q, ok := h.values[key]
	var data []float64
	if ok {
		data = make([]float64, q.Len())
		for i := range q.Len() {
			data[i] = q.At(i)
		}
	}
	h.mu.Unlock()
	return calculateStats(data)
}

func calculateStats(data []float64) readingStats {
	if len(data) == 0 {
		return readingStats{}
	}

	minV, maxV := data[0], data[0]
	var sum float64
	for _, v := range data {
		minV = math.Min(minV, v)
		maxV = math.Max(maxV, v)
		sum += v
	}
	mean := sum / float64(len(data))

	sorted := slices.Clone(data)
	slices.Sort(sorted)
	mid := len(sorted) / 2
	median := sorted[mid]
	if len(sorted)%2 == 0 {
		median = (sorted[mid-1] + sorted[mid]) / 2
	}

	var sumOfSquares float64
	for _, v := range data {
		sumOfSquares += (v - mean) * (v - mean)
	}

	return readingStats{
		count:  len(data),
		min:    minV,
		max:    maxV,
		mean:   mean,
		median: median,
		stdDev: math.Sqrt(sumOfSquares / float64(len(data))),
	}
}
