// Package history stores reported states in InfluxDB.
package history

import (
	"log/slog"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"lautenbacher.net/gomeasure/config"
	"lautenbacher.net/gomeasure/control"
)

const (
	measurementChannel  = "channel"
	measurementActuator = "actuator"
	flushInterval       = 1000 // ms
)

type pointWriter interface {
	WritePoint(point *write.Point)
	Flush()
}

// Recorder writes one point per channel and one actuator point for every
// report. Writes are batched and asynchronous, so Record never blocks the
// reporter.
type Recorder struct {
	system string
	client influxdb2.Client
	writer pointWriter
}

// New connects to InfluxDB. Write errors are logged in the background.
func New(cfg config.InfluxConfig, system string) *Recorder {
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().SetFlushInterval(flushInterval))
	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)
	r := &Recorder{
		system: system,
		client: client,
		writer: writeAPI,
	}
	go func() {
		for err := range writeAPI.Errors() {
			slog.Warn("InfluxDB write failed", "url", cfg.URL, "bucket", cfg.Bucket, "error", err)
		}
	}()
	slog.Info("Recording history to InfluxDB", "url", cfg.URL, "org", cfg.Org, "bucket", cfg.Bucket)
	return r
}

func (r *Recorder) Record(snap control.Snapshot, st control.ActuatorState) error {
	for _, p := range points(r.system, snap, st) {
		r.writer.WritePoint(p)
	}
	return nil
}

// Close flushes pending points and closes the client.
func (r *Recorder) Close() {
	r.writer.Flush()
	if r.client != nil {
		r.client.Close()
	}
}

func points(system string, snap control.Snapshot, st control.ActuatorState) []*write.Point {
	at := snap.At
	if at.IsZero() {
		at = time.Now()
	}

	pts := make([]*write.Point, 0, len(snap.Channels)+1)
	for name, m := range snap.Channels {
		fields := map[string]interface{}{"valid": m.Valid}
		if m.Valid {
			fields["value"] = m.Value
		}
		tags := map[string]string{"system": system, "channel": name}
		if m.Unit != "" {
			tags["unit"] = m.Unit
		}
		pts = append(pts, influxdb2.NewPoint(measurementChannel, tags, fields, at))
	}

	fields := map[string]interface{}{
		"enabled": st.Enabled,
		"leds":    int64(st.Leds),
		"seq":     int64(snap.Seq),
	}
	for out, on := range st.Outputs {
		fields["out_"+out] = on
	}
	for rule, band := range st.Bands {
		fields["band_"+rule] = band
	}
	pts = append(pts, influxdb2.NewPoint(measurementActuator, map[string]string{"system": system}, fields, at))
	return pts
}
