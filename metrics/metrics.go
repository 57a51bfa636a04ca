// Package metrics holds the Prometheus collectors of the scheduler.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	TimerFires = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gomeasure",
		Name:      "timer_fires_total",
		Help:      "Number of timer fires.",
	}, []string{"timer"})

	WakesCoalesced = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gomeasure",
		Name:      "wakes_coalesced_total",
		Help:      "Wakes dropped because one was already pending for the task.",
	}, []string{"timer", "task"})

	Samples = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gomeasure",
		Name:      "samples_total",
		Help:      "Channel reads by result (ok, error).",
	}, []string{"channel", "result"})

	ChannelValue = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "gomeasure",
		Name:      "channel_value",
		Help:      "Last valid converted value of a channel.",
	}, []string{"channel", "unit"})

	Decisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gomeasure",
		Name:      "decisions_total",
		Help:      "Decision cycles by kind (decide, safe).",
	}, []string{"kind"})

	OutputState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "gomeasure",
		Name:      "output_on",
		Help:      "1 while an actuator output is on.",
	}, []string{"output"})

	Reports = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "gomeasure",
		Name:      "reports_total",
		Help:      "Reporter cycles.",
	})

	SinkErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gomeasure",
		Name:      "sink_errors_total",
		Help:      "Failed writes to lines, notifier or history.",
	}, []string{"sink"})

	SystemEnabled = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "gomeasure",
		Name:      "system_enabled",
		Help:      "1 while the system is enabled.",
	})
)

// Registry carries the gomeasure collectors plus the Go and process
// collectors. It is served on /metrics.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(
		TimerFires, WakesCoalesced, Samples, ChannelValue, Decisions,
		OutputState, Reports, SinkErrors, SystemEnabled,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Bool converts a switch state to a gauge value.
func Bool(on bool) float64 {
	if on {
		return 1
	}
	return 0
}
