package task

import (
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"
	"sync"

	"lautenbacher.net/gomeasure/config"
	"lautenbacher.net/gomeasure/control"
	"lautenbacher.net/gomeasure/metrics"
	"lautenbacher.net/gomeasure/peripheral"
	"lautenbacher.net/gomeasure/util"
)

// Recorder keeps a history of reported states.
type Recorder interface {
	Record(snap control.Snapshot, st control.ActuatorState) error
}

// Report is what one reporter cycle emitted.
type Report struct {
	Enabled   bool            `json:"enabled"`
	Held      bool            `json:"held"`
	DisplayOn bool            `json:"displayOn"`
	Display   int             `json:"display"`
	Leds      control.LedMask `json:"leds"`
	Lines     []string        `json:"lines"`
	Messages  []string        `json:"messages"`
}

// ReporterTask writes the current state to the display, the line sinks, the
// notifier and the history on its own cadence. It never changes LEDs or
// actuator outputs.
type ReporterTask struct {
	*AbstractTask
	cfg          config.ReporterConfig
	channels     map[string]config.ChannelCfg
	enable       *util.FlagReader
	hold         *util.FlagReader
	measurements *util.CellReader[control.Snapshot]
	actuators    *util.CellReader[control.ActuatorState]
	out          peripheral.Output
	sinks        []peripheral.LineSink
	notifier     peripheral.Notifier
	recorder     Recorder

	// display latch, owned by the reporter goroutine
	shown      int
	hasShown   bool
	latched    bool
	latchValue int
	notified   []string

	lastMutex sync.Mutex
	last      Report
}

type ReporterOption func(*ReporterTask)

func WithLineSinks(sinks ...peripheral.LineSink) ReporterOption {
	return func(r *ReporterTask) {
		for _, s := range sinks {
			if s != nil {
				r.sinks = append(r.sinks, s)
			}
		}
	}
}

func WithNotifier(n peripheral.Notifier) ReporterOption {
	return func(r *ReporterTask) { r.notifier = n }
}

func WithRecorder(rec Recorder) ReporterOption {
	return func(r *ReporterTask) { r.recorder = rec }
}

func NewReporterTask(uid string, cfg config.ReporterConfig, channels []config.ChannelCfg, out peripheral.Output,
	enable, hold *util.FlagReader, measurements *util.CellReader[control.Snapshot],
	actuators *util.CellReader[control.ActuatorState], opts ...ReporterOption,
) *ReporterTask {
	inst := &ReporterTask{
		AbstractTask: NewAbstractTask(uid),
		cfg:          cfg,
		channels:     make(map[string]config.ChannelCfg, len(channels)),
		enable:       enable,
		hold:         hold,
		measurements: measurements,
		actuators:    actuators,
		out:          out,
	}
	for _, ch := range channels {
		inst.channels[ch.Name] = ch
	}
	for _, opt := range opts {
		opt(inst)
	}
	inst.cycle = func() { inst.Report() }
	return inst
}

// Last returns the report of the most recent cycle.
func (r *ReporterTask) Last() Report {
	r.lastMutex.Lock()
	defer r.lastMutex.Unlock()
	return r.last
}

// Report runs one reporter cycle and returns what it emitted.
func (r *ReporterTask) Report() Report {
	metrics.Reports.Inc()
	var rep Report
	if !r.enable.Get() {
		if err := r.out.DisplayOff(); err != nil {
			slog.Error("Failed to blank display", "uid", r.uid, "error", err)
		}
		r.notified = nil
	} else {
		rep = r.report()
	}

	r.lastMutex.Lock()
	r.last = rep
	r.lastMutex.Unlock()
	return rep
}

func (r *ReporterTask) report() Report {
	snap := r.measurements.Load()
	st := r.actuators.Load()
	rep := Report{
		Enabled:  true,
		Held:     r.hold.Get(),
		Leds:     st.Leds,
		Messages: st.Messages,
	}

	r.updateDisplay(&rep, snap)

	if len(r.cfg.Channels) > 0 {
		rep.Lines = append(rep.Lines, r.statusLine(snap))
	}
	for _, name := range st.Active() {
		if label, ok := r.cfg.OutputLabels[name]; ok {
			rep.Lines = append(rep.Lines, label)
		}
	}
	rep.Lines = append(rep.Lines, st.Messages...)

	for _, sink := range r.sinks {
		for _, line := range rep.Lines {
			if err := sink.SendLine(line); err != nil {
				metrics.SinkErrors.WithLabelValues("line").Inc()
				slog.Warn("Failed to send line", "uid", r.uid, "error", err)
				break
			}
		}
	}
	r.notify(st.Messages)
	if r.recorder != nil {
		if err := r.recorder.Record(snap, st); err != nil {
			metrics.SinkErrors.WithLabelValues("history").Inc()
			slog.Warn("Failed to record history", "uid", r.uid, "error", err)
		}
	}
	return rep
}

// updateDisplay shows the display channel, or the value latched when hold
// was set. Before anything was shown the first hold latches the current
// value.
func (r *ReporterTask) updateDisplay(rep *Report, snap control.Snapshot) {
	if r.cfg.Display == "" {
		return
	}
	m := snap.Get(r.cfg.Display)

	if !rep.Held {
		r.latched = false
		if !m.Valid {
			if err := r.out.DisplayOff(); err != nil {
				slog.Error("Failed to blank display", "uid", r.uid, "error", err)
			}
			return
		}
		r.show(rep, int(math.Round(m.Value)))
		return
	}

	if !r.latched {
		switch {
		case r.hasShown:
			r.latchValue = r.shown
		case m.Valid:
			r.latchValue = int(math.Round(m.Value))
		default:
			return
		}
		r.latched = true
	}
	r.show(rep, r.latchValue)
}

func (r *ReporterTask) show(rep *Report, v int) {
	if err := r.out.WriteDisplay(v); err != nil {
		slog.Error("Failed to write display", "uid", r.uid, "error", err)
		return
	}
	r.shown = v
	r.hasShown = true
	rep.DisplayOn = true
	rep.Display = v
}

func (r *ReporterTask) statusLine(snap control.Snapshot) string {
	parts := make([]string, 0, len(r.cfg.Channels))
	for _, name := range r.cfg.Channels {
		ch := r.channels[name]
		m := snap.Get(name)
		if !m.Valid {
			parts = append(parts, fmt.Sprintf("%s: --", ch.Label))
			continue
		}
		s := fmt.Sprintf("%s: %.*f", ch.Label, ch.Decimals, m.Value)
		if ch.Unit != "" {
			s += " " + ch.Unit
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, ", ")
}

// notify sends messages that were not active in the previous cycle.
func (r *ReporterTask) notify(messages []string) {
	if r.notifier != nil && r.cfg.Notify {
		for _, msg := range messages {
			if slices.Contains(r.notified, msg) {
				continue
			}
			if err := r.notifier.SendString(msg); err != nil {
				metrics.SinkErrors.WithLabelValues("notifier").Inc()
				slog.Warn("Failed to send notification", "uid", r.uid, "message", msg, "error", err)
			}
		}
	}
	r.notified = slices.Clone(messages)
}
