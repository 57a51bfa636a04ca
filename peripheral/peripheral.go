// Package peripheral defines the narrow capability contracts the scheduler
// core consumes. Concrete providers live in the platform package.
package peripheral

import "time"

// Input reads physical input channels. Reads are synchronous and bounded in
// latency; a failed read returns an error and leaves the channel invalid for
// that cycle.
type Input interface {
	// ReadDistance returns the ultrasonic distance in centimetres.
	ReadDistance() (float64, error)
	// ReadAnalog returns the voltage of ADC channel ch in millivolts.
	ReadAnalog(ch int) (float64, error)
	ReadDigital(pin int) (bool, error)
}

// Output drives physical outputs. Only the actuator task and the reporter
// (display) write through it.
type Output interface {
	SetDigitalOutput(pin int, on bool) error
	WriteDisplay(value int) error
	DisplayOff() error
	SetAnalogOutput(value int) error
}

// LineSink receives human readable status lines. Implementations add the
// line terminator.
type LineSink interface {
	SendLine(text string) error
}

// Notifier sends short codes over a wireless channel, fire-and-forget.
type Notifier interface {
	SendString(code string) error
}

// Edge is an asynchronous input event: a button, a key or a command byte.
type Edge struct {
	Key string
	At  time.Time
}

// EdgeSource delivers edges on a channel that is closed when the source stops.
type EdgeSource interface {
	Edges() <-chan Edge
}

// Platform bundles the capabilities a concrete environment provides. Lines,
// notifications and edges may be nil when the environment has none.
type Platform interface {
	Input
	Output
	EdgeSource
	Start() error
	Stop()
}
