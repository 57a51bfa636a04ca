package task

import (
	"log/slog"
	"slices"

	"lautenbacher.net/gomeasure/peripheral"
	"lautenbacher.net/gomeasure/util"
)

// WaveformTask plays a sample table on the analog output, one sample per
// wake. While disabled it holds the output at 0 and restarts the table.
type WaveformTask struct {
	*AbstractTask
	out     peripheral.Output
	samples []int
	enable  *util.FlagReader
	index   int
}

func NewWaveformTask(uid string, samples []int, out peripheral.Output, enable *util.FlagReader) *WaveformTask {
	inst := &WaveformTask{
		AbstractTask: NewAbstractTask(uid),
		out:          out,
		samples:      slices.Clone(samples),
		enable:       enable,
	}
	inst.cycle = func() { inst.Next() }
	return inst
}

// Next writes the next sample and returns it.
func (w *WaveformTask) Next() int {
	value := 0
	if w.enable.Get() && len(w.samples) > 0 {
		value = w.samples[w.index]
		w.index = (w.index + 1) % len(w.samples)
	} else {
		w.index = 0
	}
	if err := w.out.SetAnalogOutput(value); err != nil {
		slog.Error("Failed to set analog output", "uid", w.uid, "error", err)
	}
	return value
}
