package control

import (
	"maps"
	"slices"
	"time"
)

// Measurement is the latest state of one channel. Valid is false until the
// first successful sample.
type Measurement struct {
	Value float64 `json:"value"`
	Valid bool    `json:"valid"`
	Unit  string  `json:"unit"`
}

// Snapshot is an immutable MeasurementState published by the sampler.
type Snapshot struct {
	Seq      uint64                 `json:"seq"`
	At       time.Time              `json:"at"`
	Channels map[string]Measurement `json:"channels"`
}

// Get returns the measurement of a channel; unknown channels are invalid.
func (s Snapshot) Get(name string) Measurement {
	return s.Channels[name]
}

// ActuatorState is the result of one decision cycle. It is recomputed from
// scratch every cycle.
type ActuatorState struct {
	Enabled  bool              `json:"enabled"`
	Seq      uint64            `json:"seq"`
	Leds     LedMask           `json:"leds"`
	Outputs  map[string]bool   `json:"outputs"`
	Bands    map[string]string `json:"bands"`
	Messages []string          `json:"messages"`
}

func (a ActuatorState) On(output string) bool {
	return a.Outputs[output]
}

// Active returns the names of the outputs that are on, sorted.
func (a ActuatorState) Active() []string {
	var on []string
	for _, name := range slices.Sorted(maps.Keys(a.Outputs)) {
		if a.Outputs[name] {
			on = append(on, name)
		}
	}
	return on
}

// Decider maps snapshots to actuator states. It is pure apart from the
// memory toggle, pulse and hysteresis outputs need between cycles, and it is
// owned by exactly one goroutine.
type Decider struct {
	rules   []Rule
	outputs []string

	band    map[string]int // rule -> active band index
	toggle  map[string]bool
	pulses  map[string]int // rule -> cycles spent in the active band
	latched map[string]bool
}

// NewDecider creates a decider for rules. outputs names every actuator the
// deployment has, including ones no rule drives; all of them appear in each
// ActuatorState.
func NewDecider(rules []Rule, outputs []string) *Decider {
	d := &Decider{
		rules:   rules,
		outputs: slices.Clone(outputs),
	}
	d.reset()
	return d
}

func (d *Decider) reset() {
	d.band = make(map[string]int)
	d.toggle = make(map[string]bool)
	d.pulses = make(map[string]int)
	d.latched = make(map[string]bool)
}

func (d *Decider) Rules() []Rule {
	return d.rules
}

func (d *Decider) blank(enabled bool, seq uint64) ActuatorState {
	st := ActuatorState{
		Enabled: enabled,
		Seq:     seq,
		Outputs: make(map[string]bool, len(d.outputs)),
		Bands:   make(map[string]string, len(d.rules)),
	}
	for _, o := range d.outputs {
		st.Outputs[o] = false
	}
	return st
}

// Safe returns the state with every output off, no LEDs and no messages,
// and forgets all toggle, pulse and hysteresis memory.
func (d *Decider) Safe() ActuatorState {
	d.reset()
	return d.blank(false, 0)
}

// Decide evaluates every rule against s. A rule whose channel is invalid
// leaves its outputs off and its memory cleared.
func (d *Decider) Decide(s Snapshot) ActuatorState {
	st := d.blank(true, s.Seq)
	for i := range d.rules {
		r := &d.rules[i]
		m := s.Get(r.Channel)
		if !m.Valid {
			d.forget(r)
			continue
		}
		if r.Hysteresis != nil {
			d.decideHysteresis(r, m.Value, &st)
			continue
		}
		d.decideBands(r, m.Value, &st)
	}
	return st
}

func (d *Decider) forget(r *Rule) {
	delete(d.band, r.Name)
	delete(d.pulses, r.Name)
	for _, o := range r.Outputs() {
		delete(d.toggle, o)
		delete(d.latched, o)
	}
}

func (d *Decider) decideHysteresis(r *Rule, v float64, st *ActuatorState) {
	h := r.Hysteresis
	on := d.latched[h.Output]
	switch {
	case h.On.Match(v):
		on = true
	case h.Off.Match(v):
		on = false
	}
	d.latched[h.Output] = on
	st.Outputs[h.Output] = on
	if on {
		st.Bands[r.Name] = "on"
	} else {
		st.Bands[r.Name] = "off"
	}
}

func (d *Decider) decideBands(r *Rule, v float64, st *ActuatorState) {
	idx := r.Band(v)
	if prev, ok := d.band[r.Name]; !ok || prev != idx {
		d.band[r.Name] = idx
		d.pulses[r.Name] = 0
		for _, o := range r.Outputs() {
			d.toggle[o] = false
		}
	}
	if idx < 0 {
		return
	}
	b := r.Bands[idx]
	st.Bands[r.Name] = b.Name
	st.Leds |= b.Leds

	for _, o := range b.On {
		st.Outputs[o] = b.Pulse == 0 || d.pulses[r.Name] < b.Pulse
	}
	if b.Pulse > 0 && d.pulses[r.Name] < b.Pulse {
		d.pulses[r.Name]++
	}
	for _, o := range b.Toggle {
		d.toggle[o] = !d.toggle[o]
		st.Outputs[o] = d.toggle[o]
	}
	if b.Message != "" {
		st.Messages = append(st.Messages, b.Message)
	}
}
