package platform

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"lautenbacher.net/gomeasure/config"
)

// Raw input ranges of the simulated sensors.
const (
	maxDistanceCm = 400.0
	maxMillivolts = 3300.0
)

// SimPlatform is a headless platform with simulated inputs. Input values are
// set through SetDistance, SetAnalog and SetDigital, or drift randomly while
// Drive runs. Outputs are only recorded.
type SimPlatform struct {
	*AbstractPlatform
	inputMutex sync.RWMutex
	distance   float64
	analog     [8]float64
	digital    map[int]bool
	failing    map[string]bool
	onRead     func(source string, value float64)
	readyChan  chan bool
}

func NewSimPlatform(conf *config.Config) *SimPlatform {
	return &SimPlatform{
		AbstractPlatform: newAbstractPlatform(conf),
		distance:         maxDistanceCm,
		digital:          make(map[int]bool),
		failing:          make(map[string]bool),
		readyChan:        make(chan bool),
	}
}

// Ready is closed once Start has run.
func (s *SimPlatform) Ready() <-chan bool {
	return s.readyChan
}

func (s *SimPlatform) Start() error {
	slog.Info("Starting simulated platform", "name", s.config.Name)
	close(s.readyChan)
	return nil
}

func (s *SimPlatform) Stop() {
	s.setInShutdown()
}

func analogKey(ch int) string { return fmt.Sprintf("adc%d", ch) }
func digitalKey(pin int) string { return fmt.Sprintf("gpio%d", pin) }

func (s *SimPlatform) read(key string, value float64) (float64, error) {
	s.inputMutex.RLock()
	failing := s.failing[key]
	onRead := s.onRead
	s.inputMutex.RUnlock()
	if failing {
		return 0, fmt.Errorf("simulated %s failure", key)
	}
	if onRead != nil {
		onRead(key, value)
	}
	return value, nil
}

func (s *SimPlatform) ReadDistance() (float64, error) {
	s.inputMutex.RLock()
	v := s.distance
	s.inputMutex.RUnlock()
	return s.read("distance", v)
}

func (s *SimPlatform) ReadAnalog(ch int) (float64, error) {
	if ch < 0 || ch >= len(s.analog) {
		return 0, fmt.Errorf("no ADC channel %d", ch)
	}
	s.inputMutex.RLock()
	v := s.analog[ch]
	s.inputMutex.RUnlock()
	return s.read(analogKey(ch), v)
}

func (s *SimPlatform) ReadDigital(pin int) (bool, error) {
	s.inputMutex.RLock()
	on := s.digital[pin]
	s.inputMutex.RUnlock()
	v := 0.0
	if on {
		v = 1
	}
	if _, err := s.read(digitalKey(pin), v); err != nil {
		return false, err
	}
	return on, nil
}

func (s *SimPlatform) SetDigitalOutput(pin int, on bool) error {
	s.recordPin(pin, on)
	return nil
}

func (s *SimPlatform) WriteDisplay(value int) error {
	s.recordDisplay(true, value)
	return nil
}

func (s *SimPlatform) DisplayOff() error {
	s.recordDisplay(false, 0)
	return nil
}

func (s *SimPlatform) SetAnalogOutput(value int) error {
	s.recordAnalog(value)
	return nil
}

func (s *SimPlatform) SetDistance(cm float64) {
	s.inputMutex.Lock()
	defer s.inputMutex.Unlock()
	s.distance = clamp(cm, 0, maxDistanceCm)
}

func (s *SimPlatform) SetAnalog(ch int, mv float64) {
	if ch < 0 || ch >= len(s.analog) {
		return
	}
	s.inputMutex.Lock()
	defer s.inputMutex.Unlock()
	s.analog[ch] = clamp(mv, 0, maxMillivolts)
}

func (s *SimPlatform) SetDigital(pin int, on bool) {
	s.inputMutex.Lock()
	defer s.inputMutex.Unlock()
	s.digital[pin] = on
}

// SetFailing makes reads of an input fail, e.g. "distance", "adc1" or
// "gpio21".
func (s *SimPlatform) SetFailing(key string, failing bool) {
	s.inputMutex.Lock()
	defer s.inputMutex.Unlock()
	s.failing[key] = failing
}

// Press emits an input edge as if a button had been pressed.
func (s *SimPlatform) Press(key string) {
	s.emit(key)
}

// Drive lets every configured input drift in a random walk until ctx is
// done, so a headless run exercises all bands.
func (s *SimPlatform) Drive(ctx context.Context, period time.Duration) {
	rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.step(rnd)
		}
	}
}

func (s *SimPlatform) step(rnd *rand.Rand) {
	s.inputMutex.Lock()
	defer s.inputMutex.Unlock()
	for _, ch := range s.config.Channels {
		switch ch.Source {
		case config.SourceDistance:
			s.distance = clamp(s.distance+rnd.NormFloat64()*maxDistanceCm/40, 0, maxDistanceCm)
		case config.SourceAnalog:
			if ch.Input >= 0 && ch.Input < len(s.analog) {
				s.analog[ch.Input] = clamp(s.analog[ch.Input]+rnd.NormFloat64()*maxMillivolts/40, 0, maxMillivolts)
			}
		case config.SourceDigital:
			if rnd.Intn(10) == 0 {
				s.digital[ch.Input] = !s.digital[ch.Input]
			}
		}
	}
}

func clamp(v, lo, hi float64) float64 {
	return max(lo, min(hi, v))
}
