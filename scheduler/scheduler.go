// Package scheduler wires timers, shared state and tasks of one deployment
// together and owns the only writers of SystemEnable and HoldFlag.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"lautenbacher.net/gomeasure/config"
	"lautenbacher.net/gomeasure/control"
	"lautenbacher.net/gomeasure/metrics"
	"lautenbacher.net/gomeasure/peripheral"
	"lautenbacher.net/gomeasure/task"
	"lautenbacher.net/gomeasure/timer"
	"lautenbacher.net/gomeasure/util"
)

// Capabilities are the providers a scheduler drives. Lines, Notifier and
// Recorder are optional.
type Capabilities struct {
	Input    peripheral.Input
	Output   peripheral.Output
	Lines    []peripheral.LineSink
	Notifier peripheral.Notifier
	Recorder task.Recorder
}

// State is a point-in-time view for the HTTP API.
type State struct {
	Name      string                `json:"name"`
	Enabled   bool                  `json:"enabled"`
	Held      bool                  `json:"held"`
	Snapshot  control.Snapshot      `json:"snapshot"`
	Actuators control.ActuatorState `json:"actuators"`
	Report    task.Report           `json:"report"`
}

type Scheduler struct {
	conf   config.Config
	enable *util.FlagWriter
	hold   *util.FlagWriter

	measurements *util.CellReader[control.Snapshot]
	actuatorsR   *util.CellReader[control.ActuatorState]

	timers   map[string]*timer.Source
	sampler  *task.SamplerTask
	actuator *task.ActuatorTask
	reporter *task.ReporterTask
	waveform *task.WaveformTask

	mu      sync.Mutex
	running bool
}

// New builds the scheduler for a validated config.
func New(conf config.Config, caps Capabilities) (*Scheduler, error) {
	if caps.Input == nil || caps.Output == nil {
		return nil, fmt.Errorf("input and output capabilities are required")
	}
	decider, err := control.NewDeciderFromConfig(&conf)
	if err != nil {
		return nil, fmt.Errorf("can't build decision rules: %w", err)
	}

	s := &Scheduler{conf: conf, timers: make(map[string]*timer.Source)}
	enableW, enableR := util.NewFlag(conf.Enabled)
	holdW, holdR := util.NewFlag(false)
	s.enable, s.hold = enableW, holdW
	metrics.SystemEnabled.Set(metrics.Bool(conf.Enabled))

	snapW, snapR := util.NewCell(control.Snapshot{})
	stateW, stateR := util.NewCell(decider.Safe())
	s.measurements, s.actuatorsR = snapR, stateR

	for name, period := range conf.Timers {
		s.timers[name] = timer.New(name, period)
	}
	sampleTimer, ok := s.timers[conf.Tasks.SampleTimer]
	if !ok {
		return nil, fmt.Errorf("unknown sample timer %q", conf.Tasks.SampleTimer)
	}

	s.actuator = task.NewActuatorTask("actuator", caps.Output, decider, conf.Leds, conf.Outputs, enableR, snapR, stateW)
	s.sampler = task.NewSamplerTask("sampler", conf.Channels, conf.Tasks.Mode, caps.Input, enableR, snapW, s.actuator)
	sampleTimer.Attach(s.sampler.Wake())

	if conf.Reporter.Timer != "" {
		reportTimer, ok := s.timers[conf.Reporter.Timer]
		if !ok {
			return nil, fmt.Errorf("unknown report timer %q", conf.Reporter.Timer)
		}
		opts := []task.ReporterOption{task.WithLineSinks(caps.Lines...)}
		if caps.Notifier != nil {
			opts = append(opts, task.WithNotifier(caps.Notifier))
		}
		if caps.Recorder != nil {
			opts = append(opts, task.WithRecorder(caps.Recorder))
		}
		s.reporter = task.NewReporterTask("reporter", conf.Reporter, conf.Channels, caps.Output,
			enableR, holdR, snapR, stateR, opts...)
		reportTimer.Attach(s.reporter.Wake())
	}

	if conf.Waveform.Enabled {
		waveTimer, ok := s.timers[conf.Waveform.Timer]
		if !ok {
			return nil, fmt.Errorf("unknown waveform timer %q", conf.Waveform.Timer)
		}
		s.waveform = task.NewWaveformTask("waveform", conf.Waveform.Samples, caps.Output, enableR)
		waveTimer.Attach(s.waveform.Wake())
	}
	return s, nil
}

type runner interface {
	Start()
	Stop()
}

func (s *Scheduler) tasks() []runner {
	ts := []runner{s.sampler}
	if s.conf.Tasks.Mode == config.ModeChained {
		ts = append(ts, s.actuator)
	}
	if s.reporter != nil {
		ts = append(ts, s.reporter)
	}
	if s.waveform != nil {
		ts = append(ts, s.waveform)
	}
	return ts
}

// Start drives the initial safe state, then starts the tasks and after them
// the timers, so no fire finds a task that is not yet listening.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.actuator.ForceSafe()
	for _, t := range s.tasks() {
		t.Start()
	}
	for _, name := range s.timerNames() {
		s.timers[name].Start(ctx)
	}
	s.running = true
	slog.Info("Scheduler started", "name", s.conf.Name, "mode", s.conf.Tasks.Mode, "enabled", s.enable.Get())
}

// Stop stops the timers, then the tasks, and leaves every output in its safe
// state.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	for _, name := range s.timerNames() {
		s.timers[name].Stop()
	}
	for _, t := range s.tasks() {
		t.Stop()
	}
	s.actuator.ForceSafe()
	s.running = false
	slog.Info("Scheduler stopped", "name", s.conf.Name)
}

func (s *Scheduler) timerNames() []string {
	names := make([]string, 0, len(s.timers))
	for name := range s.timers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Apply performs an input action. It only flips flags; tasks see the change
// on their next wake.
func (s *Scheduler) Apply(action string) error {
	switch action {
	case config.ActionToggleEnable:
		s.setEnabled(s.enable.Toggle())
	case config.ActionEnable:
		s.enable.Set(true)
		s.setEnabled(true)
	case config.ActionDisable:
		s.enable.Set(false)
		s.setEnabled(false)
	case config.ActionToggleHold:
		held := s.hold.Toggle()
		slog.Info("Hold changed", "held", held)
	default:
		return fmt.Errorf("unknown action %q", action)
	}
	return nil
}

func (s *Scheduler) setEnabled(on bool) {
	metrics.SystemEnabled.Set(metrics.Bool(on))
	slog.Info("System enable changed", "enabled", on)
}

// HandleEdge maps a key or button edge to its configured action.
func (s *Scheduler) HandleEdge(e peripheral.Edge) {
	s.handle(e, s.conf.Inputs.Keys, "key")
}

// HandleCommand maps a serial command byte to its configured action.
func (s *Scheduler) HandleCommand(e peripheral.Edge) {
	s.handle(e, s.conf.Serial.Commands, "command")
}

func (s *Scheduler) handle(e peripheral.Edge, mapping map[string]string, kind string) {
	action, ok := mapping[e.Key]
	if !ok {
		slog.Debug("Ignoring unmapped input", "kind", kind, "key", e.Key)
		return
	}
	if err := s.Apply(action); err != nil {
		slog.Warn("Input action failed", "kind", kind, "key", e.Key, "error", err)
	}
}

// Listen feeds edges and serial commands to the handlers until ctx is done
// or both channels are closed. Either channel may be nil.
func (s *Scheduler) Listen(ctx context.Context, edges, commands <-chan peripheral.Edge) {
	for edges != nil || commands != nil {
		select {
		case e, ok := <-edges:
			if !ok {
				edges = nil
				continue
			}
			s.HandleEdge(e)
		case e, ok := <-commands:
			if !ok {
				commands = nil
				continue
			}
			s.HandleCommand(e)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) State() State {
	st := State{
		Name:      s.conf.Name,
		Enabled:   s.enable.Get(),
		Held:      s.hold.Get(),
		Snapshot:  s.measurements.Load(),
		Actuators: s.actuatorsR.Load(),
	}
	if s.reporter != nil {
		st.Report = s.reporter.Last()
	}
	return st
}

func (s *Scheduler) Config() config.Config {
	return s.conf
}
