package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lautenbacher.net/gomeasure/config"
	"lautenbacher.net/gomeasure/peripheral"
)

type MockPlatform struct {
	mu       sync.Mutex
	analog   map[int]float64
	distance float64
	pins     map[int]bool
	lines    []string
}

func newMockPlatform() *MockPlatform {
	return &MockPlatform{analog: map[int]float64{}, pins: map[int]bool{}}
}

func (m *MockPlatform) ReadDistance() (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.distance, nil
}

func (m *MockPlatform) ReadAnalog(ch int) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.analog[ch], nil
}

func (m *MockPlatform) ReadDigital(pin int) (bool, error) { return false, nil }

func (m *MockPlatform) SetDigitalOutput(pin int, on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pins[pin] = on
	return nil
}

func (m *MockPlatform) WriteDisplay(value int) error    { return nil }
func (m *MockPlatform) DisplayOff() error               { return nil }
func (m *MockPlatform) SetAnalogOutput(value int) error { return nil }

func (m *MockPlatform) SendLine(text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lines = append(m.lines, text)
	return nil
}

func (m *MockPlatform) Pin(pin int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pins[pin]
}

func (m *MockPlatform) LineCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.lines)
}

func testConfig() config.Config {
	return config.Config{
		Name:    "test",
		Enabled: true,
		Timers:  map[string]time.Duration{"sample": 2 * time.Millisecond, "report": 5 * time.Millisecond},
		Tasks:   config.TasksConfig{SampleTimer: "sample", Mode: config.ModeChained},
		Channels: []config.ChannelCfg{
			{Name: "ph", Source: config.SourceAnalog, Input: 1, Unit: "pH", Scale: 14.0 / 3000, Max: 14, Label: "pH", Decimals: 1},
		},
		Rules: []config.RuleCfg{{Name: "ph", Channel: "ph", Bands: []config.BandCfg{
			{Name: "low", When: "<", Value: 6, On: []string{"base-pump"}},
			{Name: "high", When: ">", Value: 6.7, On: []string{"acid-pump"}},
			{Name: "ok"},
		}}},
		Outputs: map[string]config.OutputCfg{"acid-pump": {Pin: 20}, "base-pump": {Pin: 16}},
		Reporter: config.ReporterConfig{Timer: "report", Channels: []string{"ph"}},
		Inputs:   config.InputsConfig{Keys: map[string]string{"1": config.ActionToggleEnable, "2": config.ActionToggleHold}},
		Serial:   config.SerialConfig{Commands: map[string]string{"o": config.ActionToggleEnable}},
	}
}

func TestNewRequiresCapabilities(t *testing.T) {
	_, err := New(testConfig(), Capabilities{})
	assert.Error(t, err)
}

func TestNewUnknownTimer(t *testing.T) {
	conf := testConfig()
	conf.Reporter.Timer = "missing"
	m := newMockPlatform()
	_, err := New(conf, Capabilities{Input: m, Output: m})
	assert.ErrorContains(t, err, `unknown report timer "missing"`)
}

func TestSchedulerRunsAndDisables(t *testing.T) {
	for _, mode := range []string{config.ModeInline, config.ModeChained} {
		t.Run(mode, func(t *testing.T) {
			conf := testConfig()
			conf.Tasks.Mode = mode
			m := newMockPlatform()
			m.analog[1] = 1200

			s, err := New(conf, Capabilities{Input: m, Output: m, Lines: []peripheral.LineSink{m}})
			require.NoError(t, err)
			s.Start(context.Background())
			defer s.Stop()

			assert.Eventually(t, func() bool { return m.Pin(16) }, time.Second, time.Millisecond, "base pump turns on")
			assert.Eventually(t, func() bool { return m.LineCount() > 0 }, time.Second, time.Millisecond, "reporter emits lines")
			assert.True(t, s.State().Actuators.On("base-pump"))

			require.NoError(t, s.Apply(config.ActionDisable))
			assert.Eventually(t, func() bool {
				st := s.State()
				return !st.Actuators.Enabled && !m.Pin(16) && !m.Pin(20)
			}, time.Second, time.Millisecond, "all pumps off within a cycle")

			require.NoError(t, s.Apply(config.ActionEnable))
			assert.Eventually(t, func() bool { return m.Pin(16) }, time.Second, time.Millisecond)
		})
	}
}

func TestStopLeavesSafeState(t *testing.T) {
	m := newMockPlatform()
	m.analog[1] = 1200
	s, err := New(testConfig(), Capabilities{Input: m, Output: m})
	require.NoError(t, err)

	s.Start(context.Background())
	assert.Eventually(t, func() bool { return m.Pin(16) }, time.Second, time.Millisecond)
	s.Stop()
	s.Stop()

	assert.False(t, m.Pin(16))
	assert.False(t, s.State().Actuators.On("base-pump"))
}

func TestApply(t *testing.T) {
	m := newMockPlatform()
	s, err := New(testConfig(), Capabilities{Input: m, Output: m})
	require.NoError(t, err)

	assert.True(t, s.State().Enabled)
	require.NoError(t, s.Apply(config.ActionToggleEnable))
	assert.False(t, s.State().Enabled)
	require.NoError(t, s.Apply(config.ActionToggleEnable))
	assert.True(t, s.State().Enabled)

	require.NoError(t, s.Apply(config.ActionToggleHold))
	assert.True(t, s.State().Held)

	assert.Error(t, s.Apply("explode"))
}

func TestListenMapsKeysAndCommands(t *testing.T) {
	m := newMockPlatform()
	s, err := New(testConfig(), Capabilities{Input: m, Output: m})
	require.NoError(t, err)

	edges := make(chan peripheral.Edge)
	commands := make(chan peripheral.Edge)
	done := make(chan struct{})
	go func() {
		s.Listen(context.Background(), edges, commands)
		close(done)
	}()

	edges <- peripheral.Edge{Key: "2", At: time.Now()}
	edges <- peripheral.Edge{Key: "x", At: time.Now()}
	commands <- peripheral.Edge{Key: "o", At: time.Now()}
	commands <- peripheral.Edge{Key: "2", At: time.Now()} // keys are not commands
	close(edges)
	close(commands)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Listen did not return after both channels closed")
	}
	assert.True(t, s.State().Held)
	assert.False(t, s.State().Enabled)
}

func TestInitialEnableFromConfig(t *testing.T) {
	conf := testConfig()
	conf.Enabled = false
	m := newMockPlatform()
	m.analog[1] = 1200
	s, err := New(conf, Capabilities{Input: m, Output: m})
	require.NoError(t, err)

	s.Start(context.Background())
	time.Sleep(20 * time.Millisecond)
	s.Stop()

	assert.False(t, m.Pin(16), "nothing is actuated while disabled")
	assert.Zero(t, s.State().Snapshot.Seq, "nothing is sampled while disabled")
}
