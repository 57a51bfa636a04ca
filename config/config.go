package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const CONFILE = "config.yml"

// Actions an input key, a button or a serial command byte can trigger.
const (
	ActionToggleEnable = "toggle-enable"
	ActionEnable       = "enable"
	ActionDisable      = "disable"
	ActionToggleHold   = "toggle-hold"
)

// Channel sources.
const (
	SourceDistance = "distance"
	SourceAnalog   = "analog"
	SourceDigital  = "digital"
	SourceSum      = "sum"
	SourceRate     = "rate"
)

// Task modes: the actuator either runs as a subroutine of the sampler or as
// its own task woken by the sampler after each publish.
const (
	ModeInline  = "inline"
	ModeChained = "chained"
)

type Config struct {
	Name     string                   `yaml:"Name"`
	Enabled  bool                     `yaml:"Enabled"`
	Timers   map[string]time.Duration `yaml:"Timers"`
	Tasks    TasksConfig              `yaml:"Tasks"`
	Channels []ChannelCfg             `yaml:"Channels"`
	Rules    []RuleCfg                `yaml:"Rules"`
	Outputs  map[string]OutputCfg     `yaml:"Outputs"`
	Leds     []OutputCfg              `yaml:"Leds"`
	Reporter ReporterConfig           `yaml:"Reporter"`
	Waveform WaveformConfig           `yaml:"Waveform"`
	Inputs   InputsConfig             `yaml:"Inputs"`
	Hardware HardwareConfig           `yaml:"Hardware"`
	Serial   SerialConfig             `yaml:"Serial"`
	MQTT     MQTTConfig               `yaml:"MQTT"`
	Influx   InfluxConfig             `yaml:"Influx"`
	HTTP     HTTPConfig               `yaml:"HTTP"`
	Logging  LoggingConfig            `yaml:"Logging"`
}

type TasksConfig struct {
	SampleTimer string `yaml:"SampleTimer" json:"SampleTimer"`
	Mode        string `yaml:"Mode" json:"Mode"`
}

type ChannelCfg struct {
	Name      string   `yaml:"Name" json:"Name"`
	Source    string   `yaml:"Source" json:"Source"`
	Input     int      `yaml:"Input" json:"Input"`
	Inputs    []string `yaml:"Inputs,flow" json:"Inputs"`
	Unit      string   `yaml:"Unit" json:"Unit"`
	Label     string   `yaml:"Label" json:"Label"`
	Decimals  int      `yaml:"Decimals" json:"Decimals"`
	Scale     float64  `yaml:"Scale" json:"Scale"`
	Offset    float64  `yaml:"Offset" json:"Offset"`
	Min       float64  `yaml:"Min" json:"Min"`
	Max       float64  `yaml:"Max" json:"Max"`
	Smoothing int      `yaml:"Smoothing" json:"Smoothing"`
}

type ConditionCfg struct {
	When  string  `yaml:"When" json:"When"`
	Value float64 `yaml:"Value" json:"Value"`
}

type BandCfg struct {
	Name    string   `yaml:"Name" json:"Name"`
	When    string   `yaml:"When" json:"When"`
	Value   float64  `yaml:"Value" json:"Value"`
	Leds    []int    `yaml:"Leds,flow" json:"Leds"`
	On      []string `yaml:"On,flow" json:"On"`
	Toggle  []string `yaml:"Toggle,flow" json:"Toggle"`
	Pulse   int      `yaml:"Pulse" json:"Pulse"`
	Message string   `yaml:"Message" json:"Message"`
}

type HysteresisCfg struct {
	Output string       `yaml:"Output" json:"Output"`
	On     ConditionCfg `yaml:"On" json:"On"`
	Off    ConditionCfg `yaml:"Off" json:"Off"`
}

type RuleCfg struct {
	Name       string         `yaml:"Name" json:"Name"`
	Channel    string         `yaml:"Channel" json:"Channel"`
	Bands      []BandCfg      `yaml:"Bands" json:"Bands"`
	Hysteresis *HysteresisCfg `yaml:"Hysteresis,omitempty" json:"Hysteresis,omitempty"`
}

type OutputCfg struct {
	Pin       int  `yaml:"Pin"`
	ActiveLow bool `yaml:"ActiveLow"`
}

type ReporterConfig struct {
	Timer        string            `yaml:"Timer" json:"Timer"`
	Channels     []string          `yaml:"Channels,flow" json:"Channels"`
	Display      string            `yaml:"Display" json:"Display"`
	OutputLabels map[string]string `yaml:"OutputLabels" json:"OutputLabels"`
	Notify       bool              `yaml:"Notify" json:"Notify"`
}

type WaveformConfig struct {
	Enabled bool   `yaml:"Enabled" json:"Enabled"`
	Timer   string `yaml:"Timer" json:"Timer"`
	Samples []int  `yaml:"Samples,flow" json:"Samples"`
}

type InputsConfig struct {
	Keys map[string]string `yaml:"Keys"`
}

type HardwareConfig struct {
	Distance struct {
		TriggerPin int           `yaml:"TriggerPin"`
		EchoPin    int           `yaml:"EchoPin"`
		Timeout    time.Duration `yaml:"Timeout"`
	} `yaml:"Distance"`
	ADC struct {
		SPIFrequency   int     `yaml:"SPIFrequency"`
		VRefMillivolts float64 `yaml:"VRefMillivolts"`
	} `yaml:"ADC"`
	Display struct {
		DataPins   []int `yaml:"DataPins,flow"`
		SelectPins []int `yaml:"SelectPins,flow"`
	} `yaml:"Display"`
	AnalogOutPin int            `yaml:"AnalogOutPin"`
	Buttons      map[string]int `yaml:"Buttons"`
}

type SerialConfig struct {
	Enabled  bool              `yaml:"Enabled"`
	Port     string            `yaml:"Port"`
	BaudRate int               `yaml:"BaudRate"`
	Commands map[string]string `yaml:"Commands"`
}

type MQTTConfig struct {
	Enabled  bool   `yaml:"Enabled"`
	Broker   string `yaml:"Broker"`
	ClientID string `yaml:"ClientID"`
	Username string `yaml:"Username"`
	Password string `yaml:"Password"`
	Topic    string `yaml:"Topic"`
}

type InfluxConfig struct {
	Enabled bool   `yaml:"Enabled"`
	URL     string `yaml:"URL"`
	Token   string `yaml:"Token"`
	Org     string `yaml:"Org"`
	Bucket  string `yaml:"Bucket"`
}

type HTTPConfig struct {
	Listen string `yaml:"Listen"`
}

type LogConfig struct {
	Level  string `yaml:"Level"`
	Format string `yaml:"Format"`
	File   string `yaml:"File"`
}

type LoggingConfig struct {
	TUI LogConfig `yaml:"TUI"`
	HW  LogConfig `yaml:"HW"`
}

// ReadConfig reads the config file, applies .env and environment overrides
// and validates the result.
func ReadConfig(cfile string) (Config, error) {
	conf, err := readFile(cfile)
	if err != nil {
		return Config{}, err
	}
	if err := applyEnv(&conf); err != nil {
		return Config{}, err
	}
	if err := conf.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config file %s: %w", cfile, err)
	}
	return conf, nil
}

// readFile decodes the config file as is, without environment overrides, and
// fills in defaults.
func readFile(cfile string) (Config, error) {
	data, err := os.ReadFile(cfile)
	if err != nil {
		return Config{}, fmt.Errorf("can't read config file %s: %w", cfile, err)
	}
	var conf Config
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&conf); err != nil {
		return Config{}, fmt.Errorf("can't decode config file %s: %w", cfile, err)
	}
	conf.applyDefaults()
	return conf, nil
}

func (c *Config) applyDefaults() {
	if c.Tasks.Mode == "" {
		c.Tasks.Mode = ModeInline
	}
	for i := range c.Channels {
		if c.Channels[i].Scale == 0 {
			c.Channels[i].Scale = 1
		}
		if c.Channels[i].Label == "" {
			c.Channels[i].Label = c.Channels[i].Name
		}
	}
	if c.Hardware.Distance.Timeout == 0 {
		c.Hardware.Distance.Timeout = 30 * time.Millisecond
	}
	if c.Hardware.ADC.VRefMillivolts == 0 {
		c.Hardware.ADC.VRefMillivolts = 3300
	}
	if c.Serial.BaudRate == 0 {
		c.Serial.BaudRate = 115200
	}
}

// Channel returns the channel config with the given name.
func (c *Config) Channel(name string) (ChannelCfg, bool) {
	for _, ch := range c.Channels {
		if ch.Name == name {
			return ch, true
		}
	}
	return ChannelCfg{}, false
}

// Validate checks the whole configuration and returns all problems found.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	for name, period := range c.Timers {
		if period <= 0 {
			add("Timers.%s: period must be positive, got %s", name, period)
		}
	}
	if c.Tasks.Mode != ModeInline && c.Tasks.Mode != ModeChained {
		add("Tasks.Mode: must be %q or %q, got %q", ModeInline, ModeChained, c.Tasks.Mode)
	}
	if _, ok := c.Timers[c.Tasks.SampleTimer]; !ok {
		add("Tasks.SampleTimer: unknown timer %q", c.Tasks.SampleTimer)
	}
	if len(c.Channels) == 0 {
		add("Channels: at least one channel must be configured")
	}

	seen := make(map[string]bool, len(c.Channels))
	for i, ch := range c.Channels {
		where := fmt.Sprintf("Channels[%d] (%s)", i, ch.Name)
		if ch.Name == "" {
			add("Channels[%d]: Name must not be empty", i)
		} else if seen[ch.Name] {
			add("%s: duplicate channel name", where)
		}
		switch ch.Source {
		case SourceDistance, SourceDigital:
		case SourceAnalog:
			if ch.Input < 0 || ch.Input > 7 {
				add("%s: Input must be between 0 and 7", where)
			}
		case SourceSum, SourceRate:
			if len(ch.Inputs) == 0 {
				add("%s: derived channel needs Inputs", where)
			}
			if ch.Source == SourceRate && len(ch.Inputs) != 1 {
				add("%s: rate channel takes exactly one input", where)
			}
			for _, in := range ch.Inputs {
				if !seen[in] {
					add("%s: input %q must be a channel defined before it", where, in)
				}
			}
		default:
			add("%s: unknown Source %q", where, ch.Source)
		}
		if ch.Min > ch.Max {
			add("%s: Min must not be greater than Max", where)
		}
		if ch.Smoothing < 0 {
			add("%s: Smoothing must be non-negative", where)
		}
		if ch.Decimals < 0 || ch.Decimals > 6 {
			add("%s: Decimals must be between 0 and 6", where)
		}
		seen[ch.Name] = true
	}

	for i, led := range c.Leds {
		if led.Pin < 0 {
			add("Leds[%d]: Pin must be non-negative", i)
		}
	}
	for name, out := range c.Outputs {
		if out.Pin < 0 {
			add("Outputs.%s: Pin must be non-negative", name)
		}
	}

	owner := make(map[string]string)
	ledOwner := make(map[int]string)
	for i, rule := range c.Rules {
		where := fmt.Sprintf("Rules[%d] (%s)", i, rule.Name)
		if !seen[rule.Channel] {
			add("%s: unknown channel %q", where, rule.Channel)
		}
		claim := func(out string) {
			if _, ok := c.Outputs[out]; !ok {
				add("%s: unknown output %q", where, out)
				return
			}
			if prev, ok := owner[out]; ok && prev != rule.Name {
				add("%s: output %q is already driven by rule %q", where, out, prev)
				return
			}
			owner[out] = rule.Name
		}
		if rule.Hysteresis != nil {
			if len(rule.Bands) > 0 {
				add("%s: a rule has either Bands or Hysteresis, not both", where)
			}
			claim(rule.Hysteresis.Output)
			for _, cond := range []ConditionCfg{rule.Hysteresis.On, rule.Hysteresis.Off} {
				if !validOp(cond.When) || cond.When == "" {
					add("%s: invalid hysteresis condition %q", where, cond.When)
				}
			}
			continue
		}
		if len(rule.Bands) == 0 {
			add("%s: needs Bands or Hysteresis", where)
			continue
		}
		for j, band := range rule.Bands {
			bwhere := fmt.Sprintf("%s band %d (%s)", where, j, band.Name)
			last := j == len(rule.Bands)-1
			if !validOp(band.When) {
				add("%s: invalid comparison %q", bwhere, band.When)
			}
			if last && band.When != "" {
				add("%s: the last band must have no When so every value maps to a band", bwhere)
			}
			if !last && band.When == "" {
				add("%s: only the last band may omit When", bwhere)
			}
			if band.Pulse < 0 {
				add("%s: Pulse must be non-negative", bwhere)
			}
			for _, out := range band.On {
				claim(out)
			}
			for _, out := range band.Toggle {
				claim(out)
			}
			for _, led := range band.Leds {
				if led < 1 || led > len(c.Leds) {
					add("%s: LED %d must be between 1 and %d", bwhere, led, len(c.Leds))
					continue
				}
				if prev, ok := ledOwner[led]; ok && prev != rule.Name {
					add("%s: LED %d is already driven by rule %q", bwhere, led, prev)
					continue
				}
				ledOwner[led] = rule.Name
			}
		}
	}

	if c.Reporter.Timer != "" {
		if _, ok := c.Timers[c.Reporter.Timer]; !ok {
			add("Reporter.Timer: unknown timer %q", c.Reporter.Timer)
		}
	}
	for _, name := range c.Reporter.Channels {
		if !seen[name] {
			add("Reporter.Channels: unknown channel %q", name)
		}
	}
	if c.Reporter.Display != "" && !seen[c.Reporter.Display] {
		add("Reporter.Display: unknown channel %q", c.Reporter.Display)
	}
	for name := range c.Reporter.OutputLabels {
		if _, ok := c.Outputs[name]; !ok {
			add("Reporter.OutputLabels: unknown output %q", name)
		}
	}

	if c.Waveform.Enabled {
		if _, ok := c.Timers[c.Waveform.Timer]; !ok {
			add("Waveform.Timer: unknown timer %q", c.Waveform.Timer)
		}
		if len(c.Waveform.Samples) == 0 {
			add("Waveform.Samples: at least one sample is required")
		}
		for i, s := range c.Waveform.Samples {
			if s < 0 || s > 255 {
				add("Waveform.Samples[%d]: must be between 0 and 255", i)
			}
		}
	}

	for key, action := range c.Inputs.Keys {
		if !validAction(action) {
			add("Inputs.Keys.%s: unknown action %q", key, action)
		}
	}
	for cmd, action := range c.Serial.Commands {
		if len(cmd) != 1 {
			add("Serial.Commands: command %q must be a single character", cmd)
		}
		if !validAction(action) {
			add("Serial.Commands.%s: unknown action %q", cmd, action)
		}
	}
	if c.Serial.Enabled && c.Serial.Port == "" {
		add("Serial.Port: must be set when Serial is enabled")
	}
	if c.MQTT.Enabled && (c.MQTT.Broker == "" || c.MQTT.Topic == "") {
		add("MQTT: Broker and Topic must be set when MQTT is enabled")
	}
	if c.Influx.Enabled && (c.Influx.URL == "" || c.Influx.Bucket == "") {
		add("Influx: URL and Bucket must be set when Influx is enabled")
	}

	return errors.Join(errs...)
}

func validOp(op string) bool {
	switch op {
	case "", "<", "<=", ">", ">=", "==", "!=":
		return true
	}
	return false
}

func validAction(action string) bool {
	switch action {
	case ActionToggleEnable, ActionEnable, ActionDisable, ActionToggleHold:
		return true
	}
	return false
}

// Local Variables:
// compile-command: "cd .. && go build"
// End:
