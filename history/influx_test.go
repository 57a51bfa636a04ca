package history

import (
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lautenbacher.net/gomeasure/control"
)

type fakeWriter struct {
	points  []*write.Point
	flushed int
}

func (f *fakeWriter) WritePoint(p *write.Point) { f.points = append(f.points, p) }
func (f *fakeWriter) Flush()                    { f.flushed++ }

func lines(pts []*write.Point) []string {
	var out []string
	for _, p := range pts {
		out = append(out, write.PointToLineProtocol(p, time.Second))
	}
	sort.Strings(out)
	return out
}

func testState() (control.Snapshot, control.ActuatorState) {
	at := time.Unix(1700000000, 0)
	snap := control.Snapshot{
		Seq: 7,
		At:  at,
		Channels: map[string]control.Measurement{
			"ph":       {Value: 5.6, Valid: true, Unit: "pH"},
			"humidity": {Valid: false},
		},
	}
	st := control.ActuatorState{
		Enabled: true,
		Leds:    control.Leds(1, 2),
		Outputs: map[string]bool{"base-pump": true, "acid-pump": false},
		Bands:   map[string]string{"ph": "low"},
	}
	return snap, st
}

func TestPoints(t *testing.T) {
	snap, st := testState()
	got := lines(points("hydroponics", snap, st))
	require.Len(t, got, 3)

	assert.True(t, strings.HasPrefix(got[0], "actuator,system=hydroponics "), got[0])
	for _, field := range []string{`band_ph="low"`, "enabled=true", "leds=3i", "out_acid-pump=false", "out_base-pump=true", "seq=7i"} {
		assert.Contains(t, got[0], field)
	}
	assert.Contains(t, got[0], " 1700000000")

	assert.True(t, strings.HasPrefix(got[1], "channel,channel=humidity,system=hydroponics valid=false "), got[1])
	assert.NotContains(t, got[1], "value=")

	assert.True(t, strings.HasPrefix(got[2], "channel,channel=ph,system=hydroponics,unit=pH "), got[2])
	assert.Contains(t, got[2], "valid=true")
	assert.Contains(t, got[2], "value=5.6")
}

func TestPointsWithoutTimestamp(t *testing.T) {
	snap, st := testState()
	snap.At = time.Time{}
	before := time.Now()
	for _, p := range points("x", snap, st) {
		assert.False(t, p.Time().Before(before.Add(-time.Second)))
	}
}

func TestRecorderWritesAllPoints(t *testing.T) {
	w := &fakeWriter{}
	r := &Recorder{system: "hydroponics", writer: w}
	snap, st := testState()

	require.NoError(t, r.Record(snap, st))
	assert.Len(t, w.points, 3)

	r.Close()
	assert.Equal(t, 1, w.flushed)
}
