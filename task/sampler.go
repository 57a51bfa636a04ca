package task

import (
	"fmt"
	"log/slog"
	"time"

	"lautenbacher.net/gomeasure/config"
	"lautenbacher.net/gomeasure/control"
	"lautenbacher.net/gomeasure/metrics"
	"lautenbacher.net/gomeasure/peripheral"
	"lautenbacher.net/gomeasure/util"
)

type channel struct {
	cfg    config.ChannelCfg
	conv   control.Linear
	smooth *window
}

type lastSample struct {
	value float64
	at    time.Time
}

// SamplerTask reads every configured channel on each wake and publishes the
// result as a new Snapshot. It is the only writer of the measurement cell.
// While the system is disabled it skips sampling and hands the cycle to the
// actuator, which then drives the safe state.
type SamplerTask struct {
	*AbstractTask
	input    peripheral.Input
	channels []*channel
	enable   *util.FlagReader
	state    *util.CellWriter[control.Snapshot]
	actuator *ActuatorTask
	chained  bool
	previous map[string]lastSample
	seq      uint64
	now      func() time.Time
}

// NewSamplerTask creates the sampler. With mode chained the actuator is woken
// after each cycle, otherwise its Step runs inline in the sampler goroutine.
func NewSamplerTask(uid string, channels []config.ChannelCfg, mode string, input peripheral.Input,
	enable *util.FlagReader, state *util.CellWriter[control.Snapshot], actuator *ActuatorTask,
) *SamplerTask {
	inst := &SamplerTask{
		AbstractTask: NewAbstractTask(uid),
		input:        input,
		enable:       enable,
		state:        state,
		actuator:     actuator,
		chained:      mode == config.ModeChained,
		previous:     make(map[string]lastSample),
		now:          time.Now,
	}
	for _, cfg := range channels {
		ch := &channel{cfg: cfg, conv: control.LinearFromConfig(cfg)}
		if cfg.Smoothing > 1 {
			ch.smooth = newWindow(cfg.Smoothing)
		}
		inst.channels = append(inst.channels, ch)
	}
	inst.cycle = inst.Sample
	return inst
}

// Sample runs one sampler cycle.
func (s *SamplerTask) Sample() {
	if s.enable.Get() {
		s.state.Store(s.read())
	} else {
		s.forget()
	}
	s.forward()
}

// forget drops rate and smoothing history so sampling after a disabled
// period starts fresh.
func (s *SamplerTask) forget() {
	clear(s.previous)
	for _, ch := range s.channels {
		if ch.smooth != nil {
			ch.smooth.reset()
		}
	}
}

func (s *SamplerTask) forward() {
	if s.actuator == nil {
		return
	}
	if s.chained {
		s.actuator.Wake().TrySend()
		return
	}
	s.actuator.Step()
}

func (s *SamplerTask) read() control.Snapshot {
	s.seq++
	at := s.now()
	snap := control.Snapshot{
		Seq:      s.seq,
		At:       at,
		Channels: make(map[string]control.Measurement, len(s.channels)),
	}
	for _, ch := range s.channels {
		m := control.Measurement{Unit: ch.cfg.Unit}
		raw, err := s.raw(ch, snap, at)
		if err != nil {
			slog.Debug("Channel not sampled", "uid", s.uid, "channel", ch.cfg.Name, "error", err)
			metrics.Samples.WithLabelValues(ch.cfg.Name, "error").Inc()
			if ch.smooth != nil {
				ch.smooth.reset()
			}
		} else {
			if ch.smooth != nil {
				raw = ch.smooth.add(raw)
			}
			m.Value = ch.conv.Apply(raw)
			m.Valid = true
			metrics.Samples.WithLabelValues(ch.cfg.Name, "ok").Inc()
			metrics.ChannelValue.WithLabelValues(ch.cfg.Name, ch.cfg.Unit).Set(m.Value)
		}
		snap.Channels[ch.cfg.Name] = m
	}
	return snap
}

func (s *SamplerTask) raw(ch *channel, snap control.Snapshot, at time.Time) (float64, error) {
	switch ch.cfg.Source {
	case config.SourceDistance:
		return s.input.ReadDistance()
	case config.SourceAnalog:
		return s.input.ReadAnalog(ch.cfg.Input)
	case config.SourceDigital:
		on, err := s.input.ReadDigital(ch.cfg.Input)
		if err != nil {
			return 0, err
		}
		if on {
			return 1, nil
		}
		return 0, nil
	case config.SourceSum:
		var sum float64
		for _, in := range ch.cfg.Inputs {
			m := snap.Get(in)
			if !m.Valid {
				return 0, fmt.Errorf("input %s is invalid", in)
			}
			sum += m.Value
		}
		return sum, nil
	case config.SourceRate:
		return s.rate(ch.cfg.Name, snap.Get(ch.cfg.Inputs[0]), at)
	}
	return 0, fmt.Errorf("unknown source %q", ch.cfg.Source)
}

// rate derives the change per second of a channel from its previous valid
// sample. The first sample only primes it, an invalid input unprimes it.
func (s *SamplerTask) rate(name string, m control.Measurement, at time.Time) (float64, error) {
	if !m.Valid {
		delete(s.previous, name)
		return 0, fmt.Errorf("input is invalid")
	}
	prev, ok := s.previous[name]
	s.previous[name] = lastSample{value: m.Value, at: at}
	if !ok {
		return 0, fmt.Errorf("no previous sample")
	}
	dt := at.Sub(prev.at).Seconds()
	if dt <= 0 {
		return 0, fmt.Errorf("no time elapsed since previous sample")
	}
	return (m.Value - prev.value) / dt, nil
}
