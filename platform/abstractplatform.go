package platform

import (
	"log/slog"
	"maps"
	"sync"
	"time"

	"lautenbacher.net/gomeasure/config"
	"lautenbacher.net/gomeasure/peripheral"
)

const edgeBuffer = 16

// OutputView is a copy of the output levels a platform was last told to drive.
type OutputView struct {
	Pins      map[int]bool `json:"pins"`
	DisplayOn bool         `json:"displayOn"`
	Display   int          `json:"display"`
	Analog    int          `json:"analog"`
}

// AbstractPlatform keeps what every platform shares: the edge channel, the
// last driven output levels and the shutdown state. Concrete platforms
// embed it and call record* after they have driven the real output.
type AbstractPlatform struct {
	config *config.Config
	edges  chan peripheral.Edge

	outputMutex sync.RWMutex
	outputs     OutputView
	onChange    func()

	shutdownMutex  sync.RWMutex
	isShuttingDown bool
}

func newAbstractPlatform(conf *config.Config) *AbstractPlatform {
	return &AbstractPlatform{
		config:  conf,
		edges:   make(chan peripheral.Edge, edgeBuffer),
		outputs: OutputView{Pins: make(map[int]bool)},
	}
}

func (s *AbstractPlatform) Edges() <-chan peripheral.Edge {
	return s.edges
}

// emit posts an input edge without blocking. When the consumer lags behind
// and the buffer is full the edge is dropped.
func (s *AbstractPlatform) emit(key string) {
	s.shutdownMutex.RLock()
	defer s.shutdownMutex.RUnlock()
	if s.isShuttingDown {
		return
	}
	select {
	case s.edges <- peripheral.Edge{Key: key, At: time.Now()}:
	default:
		slog.Warn("Dropping input edge, consumer is busy", "key", key)
	}
}

func (s *AbstractPlatform) setInShutdown() {
	s.shutdownMutex.Lock()
	defer s.shutdownMutex.Unlock()
	if !s.isShuttingDown {
		s.isShuttingDown = true
		close(s.edges)
	}
}

func (s *AbstractPlatform) inShutdown() bool {
	s.shutdownMutex.RLock()
	defer s.shutdownMutex.RUnlock()
	return s.isShuttingDown
}

// Outputs returns a copy of the current output levels.
func (s *AbstractPlatform) Outputs() OutputView {
	s.outputMutex.RLock()
	defer s.outputMutex.RUnlock()
	v := s.outputs
	v.Pins = maps.Clone(s.outputs.Pins)
	return v
}

func (s *AbstractPlatform) record(update func(v *OutputView)) {
	s.outputMutex.Lock()
	update(&s.outputs)
	changed := s.onChange
	s.outputMutex.Unlock()
	if changed != nil {
		changed()
	}
}

func (s *AbstractPlatform) recordPin(pin int, level bool) {
	s.record(func(v *OutputView) { v.Pins[pin] = level })
}

func (s *AbstractPlatform) recordDisplay(on bool, value int) {
	s.record(func(v *OutputView) {
		v.DisplayOn = on
		if on {
			v.Display = value
		}
	})
}

func (s *AbstractPlatform) recordAnalog(value int) {
	s.record(func(v *OutputView) { v.Analog = value })
}
