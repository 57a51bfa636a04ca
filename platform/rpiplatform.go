package platform

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/stianeikeland/go-rpio/v4"

	"lautenbacher.net/gomeasure/config"
)

const (
	adcMaxRaw      = 1023
	buttonPoll     = 10 * time.Millisecond
	triggerPulse   = 10 * time.Microsecond
	latchPulse     = 5 * time.Microsecond
	pwmCycleLength = 255
	pwmFrequency   = 64000 * pwmCycleLength
	// round trip of sound per centimetre
	echoPerCm = 58 * time.Microsecond
)

// RaspberryPiPlatform drives the real board: an HC-SR04 on two GPIOs, an
// MCP3008 on SPI0, digital inputs and outputs, a BCD display latched through
// select pins, a PWM analog output and buttons with edge detection.
type RaspberryPiPlatform struct {
	*AbstractPlatform
	spiMutex      sync.Mutex
	distanceMutex sync.Mutex
	displayMutex  sync.Mutex
	outputPins    []rpio.Pin
	buttons       map[string]rpio.Pin
	buttonWg      sync.WaitGroup
	buttonStop    chan bool
	readyChan     chan bool
}

func NewRaspberryPiPlatform(conf *config.Config) *RaspberryPiPlatform {
	return &RaspberryPiPlatform{
		AbstractPlatform: newAbstractPlatform(conf),
		buttons:          make(map[string]rpio.Pin),
		buttonStop:       make(chan bool),
		readyChan:        make(chan bool),
	}
}

func (s *RaspberryPiPlatform) Ready() <-chan bool {
	return s.readyChan
}

func (s *RaspberryPiPlatform) Start() error {
	hw := s.config.Hardware

	slog.Info("Initialise GPIO and Spi...")
	if err := rpio.Open(); err != nil {
		return fmt.Errorf("failed to open rpio: %w", err)
	}
	if s.usesSource(config.SourceAnalog) {
		if err := rpio.SpiBegin(rpio.Spi0); err != nil {
			return fmt.Errorf("failed to begin spi: %w", err)
		}
		rpio.SpiSpeed(hw.ADC.SPIFrequency)
		rpio.SpiChipSelect(0)
	}

	if s.usesSource(config.SourceDistance) {
		trigger := rpio.Pin(hw.Distance.TriggerPin)
		trigger.Output()
		trigger.Low()
		rpio.Pin(hw.Distance.EchoPin).Input()
	}
	for _, ch := range s.config.Channels {
		if ch.Source == config.SourceDigital {
			pin := rpio.Pin(ch.Input)
			pin.Input()
			pin.PullUp()
		}
	}

	for _, out := range s.config.Outputs {
		s.initOutput(out)
	}
	for _, led := range s.config.Leds {
		s.initOutput(led)
	}
	for _, p := range append(append([]int{}, hw.Display.DataPins...), hw.Display.SelectPins...) {
		pin := rpio.Pin(p)
		pin.Output()
		pin.Low()
		s.outputPins = append(s.outputPins, pin)
	}

	if s.config.Waveform.Enabled {
		pwm := rpio.Pin(hw.AnalogOutPin)
		pwm.Mode(rpio.Pwm)
		pwm.Freq(pwmFrequency)
		pwm.DutyCycle(0, pwmCycleLength)
	}

	for key, p := range hw.Buttons {
		pin := rpio.Pin(p)
		pin.Input()
		pin.PullUp()
		pin.Detect(rpio.FallEdge)
		s.buttons[key] = pin
	}
	s.buttonWg.Add(1)
	go s.buttonDriver()

	close(s.readyChan)
	return nil
}

func (s *RaspberryPiPlatform) initOutput(out config.OutputCfg) {
	pin := rpio.Pin(out.Pin)
	pin.Output()
	// start inactive
	if out.ActiveLow {
		pin.High()
	} else {
		pin.Low()
	}
	s.outputPins = append(s.outputPins, pin)
}

func (s *RaspberryPiPlatform) usesSource(source string) bool {
	for _, ch := range s.config.Channels {
		if ch.Source == source {
			return true
		}
	}
	return false
}

func (s *RaspberryPiPlatform) Stop() {
	if s.inShutdown() {
		return
	}
	s.setInShutdown()

	close(s.buttonStop)
	s.buttonWg.Wait()

	for _, pin := range s.buttons {
		pin.Detect(rpio.NoEdge)
	}
	if s.config.Waveform.Enabled {
		rpio.Pin(s.config.Hardware.AnalogOutPin).DutyCycle(0, pwmCycleLength)
	}
	if s.usesSource(config.SourceAnalog) {
		rpio.SpiEnd(rpio.Spi0)
	}
	if err := rpio.Close(); err != nil {
		slog.Error("Error closing rpio", "error", err)
	}
}

func (s *RaspberryPiPlatform) buttonDriver() {
	defer s.buttonWg.Done()
	ticker := time.NewTicker(buttonPoll)
	defer ticker.Stop()
	for {
		select {
		case <-s.buttonStop:
			slog.Info("Ending ButtonDriver go-routine (RPi)")
			return
		case <-ticker.C:
			for key, pin := range s.buttons {
				if pin.EdgeDetected() {
					slog.Debug("Button pressed", "key", key)
					s.emit(key)
				}
			}
		}
	}
}

// ReadDistance triggers the ultrasonic sensor and times the echo pulse.
func (s *RaspberryPiPlatform) ReadDistance() (float64, error) {
	s.distanceMutex.Lock()
	defer s.distanceMutex.Unlock()

	hw := s.config.Hardware.Distance
	trigger, echo := rpio.Pin(hw.TriggerPin), rpio.Pin(hw.EchoPin)

	trigger.High()
	time.Sleep(triggerPulse)
	trigger.Low()

	deadline := time.Now().Add(hw.Timeout)
	for echo.Read() == rpio.Low {
		if time.Now().After(deadline) {
			return 0, fmt.Errorf("no echo within %s", hw.Timeout)
		}
	}
	start := time.Now()
	for echo.Read() == rpio.High {
		if time.Now().After(deadline) {
			return 0, fmt.Errorf("echo longer than %s", hw.Timeout)
		}
	}
	return echoToCm(time.Since(start)), nil
}

func echoToCm(d time.Duration) float64 {
	return float64(d) / float64(echoPerCm)
}

func (s *RaspberryPiPlatform) ReadAnalog(ch int) (float64, error) {
	if ch < 0 || ch > 7 {
		return 0, fmt.Errorf("no ADC channel %d", ch)
	}
	frame := adcFrame(ch)
	s.spiMutex.Lock()
	rpio.SpiExchange(frame)
	s.spiMutex.Unlock()
	return rawToMillivolts(adcValue(frame), s.config.Hardware.ADC.VRefMillivolts), nil
}

// adcFrame is the MCP3008 single-ended read request for channel ch.
func adcFrame(ch int) []byte {
	return []byte{1, byte(8+ch) << 4, 0}
}

// adcValue extracts the 10 bit conversion result from an exchanged frame.
func adcValue(read []byte) int {
	return ((int(read[1]) & 3) << 8) + int(read[2])
}

func rawToMillivolts(raw int, vref float64) float64 {
	return float64(raw) * vref / adcMaxRaw
}

func (s *RaspberryPiPlatform) ReadDigital(pin int) (bool, error) {
	return rpio.Pin(pin).Read() == rpio.High, nil
}

func (s *RaspberryPiPlatform) SetDigitalOutput(pin int, on bool) error {
	if on {
		rpio.Pin(pin).High()
	} else {
		rpio.Pin(pin).Low()
	}
	s.recordPin(pin, on)
	return nil
}

// WriteDisplay latches one digit per select pin, most significant first.
func (s *RaspberryPiPlatform) WriteDisplay(value int) error {
	hw := s.config.Hardware.Display
	if len(hw.DataPins) != 4 || len(hw.SelectPins) == 0 {
		return fmt.Errorf("display needs 4 data pins and at least one select pin")
	}
	s.displayMutex.Lock()
	defer s.displayMutex.Unlock()
	for i, d := range digits(value, len(hw.SelectPins)) {
		for b, level := range bcd(d) {
			rpio.Pin(hw.DataPins[b]).Write(pinLevel(level))
		}
		sel := rpio.Pin(hw.SelectPins[i])
		sel.High()
		time.Sleep(latchPulse)
		sel.Low()
	}
	s.recordDisplay(true, value)
	return nil
}

// DisplayOff latches the blanking code into every digit.
func (s *RaspberryPiPlatform) DisplayOff() error {
	hw := s.config.Hardware.Display
	s.displayMutex.Lock()
	defer s.displayMutex.Unlock()
	for _, p := range hw.DataPins {
		rpio.Pin(p).High()
	}
	for _, p := range hw.SelectPins {
		sel := rpio.Pin(p)
		sel.High()
		time.Sleep(latchPulse)
		sel.Low()
	}
	s.recordDisplay(false, 0)
	return nil
}

func (s *RaspberryPiPlatform) SetAnalogOutput(value int) error {
	value = max(0, min(pwmCycleLength, value))
	rpio.Pin(s.config.Hardware.AnalogOutPin).DutyCycle(uint32(value), pwmCycleLength)
	s.recordAnalog(value)
	return nil
}

func pinLevel(on bool) rpio.State {
	if on {
		return rpio.High
	}
	return rpio.Low
}
