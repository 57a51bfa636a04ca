package platform

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lautenbacher.net/gomeasure/config"
)

func simConfig() *config.Config {
	return &config.Config{
		Name: "test",
		Channels: []config.ChannelCfg{
			{Name: "distance", Source: config.SourceDistance, Label: "Distance"},
			{Name: "ph", Source: config.SourceAnalog, Input: 1, Label: "pH"},
			{Name: "ph2", Source: config.SourceAnalog, Input: 1, Label: "pH again"},
			{Name: "humidity", Source: config.SourceDigital, Input: 21, Label: "Humidity"},
			{Name: "speed", Source: config.SourceRate, Inputs: []string{"distance"}},
		},
		Inputs: config.InputsConfig{Keys: map[string]string{"1": config.ActionToggleEnable}},
	}
}

func TestNew(t *testing.T) {
	sig := make(chan os.Signal, 1)
	for _, kind := range []string{KindSim, KindTUI, KindRPi} {
		p, err := New(kind, simConfig(), sig)
		require.NoError(t, err, kind)
		assert.NotNil(t, p, kind)
	}
	_, err := New("fpga", simConfig(), sig)
	assert.Error(t, err)
}

func TestSimReadsAndClamps(t *testing.T) {
	s := NewSimPlatform(simConfig())

	s.SetDistance(123)
	v, err := s.ReadDistance()
	require.NoError(t, err)
	assert.Equal(t, 123.0, v)

	s.SetDistance(-5)
	v, _ = s.ReadDistance()
	assert.Equal(t, 0.0, v)

	s.SetAnalog(1, 1200)
	v, err = s.ReadAnalog(1)
	require.NoError(t, err)
	assert.Equal(t, 1200.0, v)

	s.SetAnalog(1, 99999)
	v, _ = s.ReadAnalog(1)
	assert.Equal(t, maxMillivolts, v)

	_, err = s.ReadAnalog(8)
	assert.Error(t, err)

	s.SetDigital(21, true)
	on, err := s.ReadDigital(21)
	require.NoError(t, err)
	assert.True(t, on)
}

func TestSimFailingInput(t *testing.T) {
	s := NewSimPlatform(simConfig())
	s.SetFailing("adc1", true)
	_, err := s.ReadAnalog(1)
	assert.Error(t, err)
	_, err = s.ReadAnalog(2)
	assert.NoError(t, err)

	s.SetFailing("adc1", false)
	_, err = s.ReadAnalog(1)
	assert.NoError(t, err)
}

func TestSimRecordsOutputs(t *testing.T) {
	s := NewSimPlatform(simConfig())
	changes := 0
	s.onChange = func() { changes++ }

	require.NoError(t, s.SetDigitalOutput(17, true))
	require.NoError(t, s.WriteDisplay(42))
	require.NoError(t, s.SetAnalogOutput(128))

	out := s.Outputs()
	assert.True(t, out.Pins[17])
	assert.True(t, out.DisplayOn)
	assert.Equal(t, 42, out.Display)
	assert.Equal(t, 128, out.Analog)
	assert.Equal(t, 3, changes)

	// the view is a copy
	out.Pins[17] = false
	assert.True(t, s.Outputs().Pins[17])

	require.NoError(t, s.DisplayOff())
	out = s.Outputs()
	assert.False(t, out.DisplayOn)
	assert.Equal(t, 42, out.Display, "display off keeps the last value")
}

func TestSimEdges(t *testing.T) {
	s := NewSimPlatform(simConfig())
	require.NoError(t, s.Start())
	<-s.Ready()

	s.Press("1")
	e := <-s.Edges()
	assert.Equal(t, "1", e.Key)

	s.Stop()
	_, open := <-s.Edges()
	assert.False(t, open)

	// pressing after stop is a no-op
	s.Press("1")
}

func TestSimEdgesDropWhenFull(t *testing.T) {
	s := NewSimPlatform(simConfig())
	for i := 0; i < edgeBuffer+5; i++ {
		s.Press("1")
	}
	assert.Len(t, s.edges, edgeBuffer)
}

func TestSimDriveStaysInRange(t *testing.T) {
	s := NewSimPlatform(simConfig())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	s.Drive(ctx, time.Millisecond)

	d, _ := s.ReadDistance()
	assert.GreaterOrEqual(t, d, 0.0)
	assert.LessOrEqual(t, d, maxDistanceCm)
	a, _ := s.ReadAnalog(1)
	assert.GreaterOrEqual(t, a, 0.0)
	assert.LessOrEqual(t, a, maxMillivolts)
}

func TestSimReadHook(t *testing.T) {
	s := NewSimPlatform(simConfig())
	h := newReadingHistory()
	s.onRead = h.add

	s.SetAnalog(1, 100)
	_, _ = s.ReadAnalog(1)
	s.SetAnalog(1, 300)
	_, _ = s.ReadAnalog(1)

	st := h.stats("adc1")
	assert.Equal(t, 2, st.count)
	assert.Equal(t, 200.0, st.mean)
}

func TestSimInputsDeduplicates(t *testing.T) {
	inputs := simInputs(simConfig().Channels)
	var keys []string
	for _, in := range inputs {
		keys = append(keys, in.key)
	}
	assert.Equal(t, []string{"distance", "adc1", "gpio21"}, keys)
	assert.Equal(t, "pH", inputs[1].label)
}
