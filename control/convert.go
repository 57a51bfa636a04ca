package control

import "math"

// Linear converts a raw reading into a physical value: Scale*raw + Offset,
// saturated to [Min, Max] when Min < Max.
type Linear struct {
	Scale  float64
	Offset float64
	Min    float64
	Max    float64
}

func (l Linear) Apply(raw float64) float64 {
	v := l.Scale*raw + l.Offset
	if l.Min < l.Max {
		v = math.Max(l.Min, math.Min(l.Max, v))
	}
	return v
}

// Identity passes raw values through unchanged.
var Identity = Linear{Scale: 1}
