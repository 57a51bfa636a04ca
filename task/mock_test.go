package task

import (
	"errors"
	"sync"
)

type MockPlatform struct {
	mu       sync.Mutex
	distance []float64 // consumed one per read, last value repeats
	analog   map[int]float64
	digital  map[int]bool
	failing  bool

	pins      map[int]bool
	display   []int
	displayOn bool
	analogOut []int
}

func NewMockPlatform() *MockPlatform {
	return &MockPlatform{
		analog:  make(map[int]float64),
		digital: make(map[int]bool),
		pins:    make(map[int]bool),
	}
}

func (m *MockPlatform) ReadDistance() (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing || len(m.distance) == 0 {
		return 0, errors.New("no echo")
	}
	v := m.distance[0]
	if len(m.distance) > 1 {
		m.distance = m.distance[1:]
	}
	return v, nil
}

func (m *MockPlatform) ReadAnalog(ch int) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return 0, errors.New("adc failure")
	}
	return m.analog[ch], nil
}

func (m *MockPlatform) ReadDigital(pin int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.digital[pin], nil
}

func (m *MockPlatform) SetDigitalOutput(pin int, on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pins[pin] = on
	return nil
}

func (m *MockPlatform) WriteDisplay(value int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.display = append(m.display, value)
	m.displayOn = true
	return nil
}

func (m *MockPlatform) DisplayOff() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.displayOn = false
	return nil
}

func (m *MockPlatform) SetAnalogOutput(value int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.analogOut = append(m.analogOut, value)
	return nil
}

func (m *MockPlatform) SetDistance(values ...float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.distance = values
}

func (m *MockPlatform) SetAnalog(ch int, mv float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.analog[ch] = mv
}

func (m *MockPlatform) SetDigital(pin int, on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.digital[pin] = on
}

func (m *MockPlatform) SetFailing(failing bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failing = failing
}

func (m *MockPlatform) Pin(pin int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pins[pin]
}

func (m *MockPlatform) DisplayState() (on bool, last int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.display) > 0 {
		last = m.display[len(m.display)-1]
	}
	return m.displayOn, last
}

type recordingSink struct {
	mu    sync.Mutex
	lines []string
}

func (r *recordingSink) SendLine(text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, text)
	return nil
}

func (r *recordingSink) SendString(code string) error {
	return r.SendLine(code)
}

func (r *recordingSink) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...)
}
