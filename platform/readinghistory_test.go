package platform

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCalculateStats(t *testing.T) {
	stats := calculateStats([]float64{50, 10, 30, 20, 40})

	assert.Equal(t, 5, stats.count)
	assert.Equal(t, 10.0, stats.min)
	assert.Equal(t, 50.0, stats.max)
	assert.Equal(t, 30.0, stats.mean)
	assert.Equal(t, 30.0, stats.median)
	// sqrt((400+100+0+100+400)/5)
	assert.InDelta(t, math.Sqrt(200), stats.stdDev, 1e-9)
}

func TestCalculateStats_Empty(t *testing.T) {
	assert.Equal(t, readingStats{}, calculateStats(nil))
}

func TestCalculateStats_EvenLength(t *testing.T) {
	assert.Equal(t, 25.0, calculateStats([]float64{40, 10, 30, 20}).median)
}

func TestReadingHistoryIsBounded(t *testing.T) {
	h := newReadingHistory()
	for i := 0; i < maxReadingHistory+100; i++ {
		h.add("adc1", float64(i))
	}
	h.add("distance", 12)

	assert.Equal(t, 1, h.stats("distance").count)
	st := h.stats("adc1")
	assert.Equal(t, maxReadingHistory, st.count)
	assert.Equal(t, 100.0, st.min, "oldest readings are dropped")
	assert.Equal(t, float64(maxReadingHistory+99), st.max)
	assert.Equal(t, readingStats{}, h.stats("unknown"))
}
