package control

import (
	"fmt"
	"math/bits"
)

// Op is a comparison operator of a band or hysteresis condition. The empty
// Op matches every value and marks the catch-all band.
type Op string

const (
	Less         Op = "<"
	LessEqual    Op = "<="
	Greater      Op = ">"
	GreaterEqual Op = ">="
	Equal        Op = "=="
	NotEqual     Op = "!="
	Otherwise    Op = ""
)

// ParseOp checks s against the known operators.
func ParseOp(s string) (Op, error) {
	switch op := Op(s); op {
	case Less, LessEqual, Greater, GreaterEqual, Equal, NotEqual, Otherwise:
		return op, nil
	}
	return "", fmt.Errorf("unknown comparison operator %q", s)
}

// Condition compares a value against a fixed threshold.
type Condition struct {
	Op    Op
	Value float64
}

func (c Condition) Match(v float64) bool {
	switch c.Op {
	case Less:
		return v < c.Value
	case LessEqual:
		return v <= c.Value
	case Greater:
		return v > c.Value
	case GreaterEqual:
		return v >= c.Value
	case Equal:
		return v == c.Value
	case NotEqual:
		return v != c.Value
	case Otherwise:
		return true
	}
	return false
}

func (c Condition) String() string {
	if c.Op == Otherwise {
		return "otherwise"
	}
	return fmt.Sprintf("%s %g", c.Op, c.Value)
}

// LedMask is a bitmask of indicator LEDs, bit 0 being LED 1.
type LedMask uint32

// Leds builds a mask from 1-based LED numbers.
func Leds(leds ...int) LedMask {
	var m LedMask
	for _, l := range leds {
		if l >= 1 && l <= 32 {
			m |= 1 << (l - 1)
		}
	}
	return m
}

// Has reports whether 1-based LED l is lit.
func (m LedMask) Has(l int) bool {
	return l >= 1 && l <= 32 && m&(1<<(l-1)) != 0
}

// List returns the lit LEDs in ascending order.
func (m LedMask) List() []int {
	leds := make([]int, 0, bits.OnesCount32(uint32(m)))
	for l := 1; l <= 32; l++ {
		if m.Has(l) {
			leds = append(leds, l)
		}
	}
	return leds
}

// Band maps the values matching its condition to LEDs, outputs and a message.
// On outputs are switched on while the band is active, for at most Pulse
// consecutive cycles when Pulse > 0. Toggle outputs flip once per cycle.
type Band struct {
	Name string
	Condition
	Leds    LedMask
	On      []string
	Toggle  []string
	Pulse   int
	Message string
}

// Hysteresis switches Output on when On matches and off when Off matches.
// In between the output keeps its previous state.
type Hysteresis struct {
	Output string
	On     Condition
	Off    Condition
}

// Rule drives a set of outputs and LEDs from one channel, either through an
// ordered band table (first match wins) or through a hysteresis.
type Rule struct {
	Name       string
	Channel    string
	Bands      []Band
	Hysteresis *Hysteresis
}

// Band returns the index of the first band matching v, or -1 if none does.
// A table ending in an Otherwise band always matches.
func (r *Rule) Band(v float64) int {
	for i, b := range r.Bands {
		if b.Match(v) {
			return i
		}
	}
	return -1
}

// Exhaustive reports whether the band table ends in a catch-all band.
func (r *Rule) Exhaustive() bool {
	return r.Hysteresis != nil || (len(r.Bands) > 0 && r.Bands[len(r.Bands)-1].Op == Otherwise)
}

// Outputs lists every output the rule drives, each once.
func (r *Rule) Outputs() []string {
	if r.Hysteresis != nil {
		return []string{r.Hysteresis.Output}
	}
	seen := make(map[string]bool)
	var outs []string
	for _, b := range r.Bands {
		for _, list := range [][]string{b.On, b.Toggle} {
			for _, o := range list {
				if !seen[o] {
					seen[o] = true
					outs = append(outs, o)
				}
			}
		}
	}
	return outs
}
