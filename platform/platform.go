// Package platform provides the concrete peripherals: a headless simulation,
// a simulation with a terminal UI, the Raspberry Pi board, the serial text
// channel and the MQTT notifier.
package platform

import (
	"fmt"
	"os"

	"lautenbacher.net/gomeasure/config"
	"lautenbacher.net/gomeasure/peripheral"
)

const (
	KindSim = "sim"
	KindTUI = "tui"
	KindRPi = "rpi"
)

// Platform is a peripheral.Platform that can also report when it is ready to
// take over logging and which outputs it currently drives.
type Platform interface {
	peripheral.Platform
	Ready() <-chan bool
	Outputs() OutputView
}

var (
	_ Platform = (*SimPlatform)(nil)
	_ Platform = (*TUIPlatform)(nil)
	_ Platform = (*RaspberryPiPlatform)(nil)
)

// New creates the platform of the given kind. The TUI sends os.Interrupt and
// SIGHUP on ossignal for quit and reload.
func New(kind string, conf *config.Config, ossignal chan os.Signal) (Platform, error) {
	switch kind {
	case KindSim:
		return NewSimPlatform(conf), nil
	case KindTUI:
		return NewTUIPlatform(conf, ossignal), nil
	case KindRPi:
		return NewRaspberryPiPlatform(conf), nil
	default:
		return nil, fmt.Errorf("unknown platform %q, want one of %s, %s, %s", kind, KindSim, KindTUI, KindRPi)
	}
}
