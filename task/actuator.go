package task

import (
	"log/slog"
	"slices"
	"sync"

	"lautenbacher.net/gomeasure/config"
	"lautenbacher.net/gomeasure/control"
	"lautenbacher.net/gomeasure/metrics"
	"lautenbacher.net/gomeasure/peripheral"
	"lautenbacher.net/gomeasure/util"
)

// ActuatorTask turns the latest snapshot into an ActuatorState and writes it
// to the LEDs and outputs. It is the only task that changes physical outputs
// and the only writer of the actuator cell.
type ActuatorTask struct {
	*AbstractTask
	out          peripheral.Output
	decider      *control.Decider
	enable       *util.FlagReader
	measurements *util.CellReader[control.Snapshot]
	state        *util.CellWriter[control.ActuatorState]
	leds         []config.OutputCfg
	outputs      map[string]config.OutputCfg
	names        []string
	// Step runs in the sampler goroutine (inline mode), in the task
	// goroutine (chained mode) and from ForceSafe on shutdown.
	stepMutex sync.Mutex
}

func NewActuatorTask(uid string, out peripheral.Output, decider *control.Decider, leds []config.OutputCfg,
	outputs map[string]config.OutputCfg, enable *util.FlagReader,
	measurements *util.CellReader[control.Snapshot], state *util.CellWriter[control.ActuatorState],
) *ActuatorTask {
	inst := &ActuatorTask{
		AbstractTask: NewAbstractTask(uid),
		out:          out,
		decider:      decider,
		enable:       enable,
		measurements: measurements,
		state:        state,
		leds:         leds,
		outputs:      outputs,
	}
	for name := range outputs {
		inst.names = append(inst.names, name)
	}
	slices.Sort(inst.names)
	inst.cycle = func() { inst.Step() }
	return inst
}

// Step runs one decision cycle. When the system is disabled every output is
// driven to its OFF level regardless of the last measurement.
func (a *ActuatorTask) Step() control.ActuatorState {
	a.stepMutex.Lock()
	defer a.stepMutex.Unlock()

	var st control.ActuatorState
	if a.enable.Get() {
		st = a.decider.Decide(a.measurements.Load())
		metrics.Decisions.WithLabelValues("decide").Inc()
	} else {
		st = a.decider.Safe()
		metrics.Decisions.WithLabelValues("safe").Inc()
	}
	a.apply(st)
	return st
}

// ForceSafe drives the safe state independent of the enable flag.
func (a *ActuatorTask) ForceSafe() control.ActuatorState {
	a.stepMutex.Lock()
	defer a.stepMutex.Unlock()

	st := a.decider.Safe()
	metrics.Decisions.WithLabelValues("safe").Inc()
	a.apply(st)
	return st
}

func (a *ActuatorTask) apply(st control.ActuatorState) {
	for i, led := range a.leds {
		a.write("led", led, st.Leds.Has(i+1))
	}
	for _, name := range a.names {
		on := st.Outputs[name]
		a.write(name, a.outputs[name], on)
		metrics.OutputState.WithLabelValues(name).Set(metrics.Bool(on))
	}
	a.state.Store(st)
}

func (a *ActuatorTask) write(name string, cfg config.OutputCfg, on bool) {
	level := on != cfg.ActiveLow
	if err := a.out.SetDigitalOutput(cfg.Pin, level); err != nil {
		slog.Error("Failed to set output", "uid", a.uid, "output", name, "pin", cfg.Pin, "error", err)
	}
}
