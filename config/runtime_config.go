package config

import "time"

// RuntimeConfig is the part of the configuration that may be changed while
// running through the web API: periods, thresholds and reporting. Pins,
// endpoints and credentials are not part of it.
type RuntimeConfig struct {
	Enabled  bool                     `yaml:"Enabled" json:"Enabled"`
	Timers   map[string]time.Duration `yaml:"Timers" json:"Timers"`
	Tasks    TasksConfig              `yaml:"Tasks" json:"Tasks"`
	Channels []ChannelCfg             `yaml:"Channels" json:"Channels"`
	Rules    []RuleCfg                `yaml:"Rules" json:"Rules"`
	Reporter ReporterConfig           `yaml:"Reporter" json:"Reporter"`
	Waveform WaveformConfig           `yaml:"Waveform" json:"Waveform"`
}

// Runtime extracts the runtime-modifiable settings.
func (c *Config) Runtime() RuntimeConfig {
	return RuntimeConfig{
		Enabled:  c.Enabled,
		Timers:   c.Timers,
		Tasks:    c.Tasks,
		Channels: c.Channels,
		Rules:    c.Rules,
		Reporter: c.Reporter,
		Waveform: c.Waveform,
	}
}

// Merge replaces the runtime-modifiable settings with rc.
func (c *Config) Merge(rc RuntimeConfig) {
	c.Enabled = rc.Enabled
	c.Timers = rc.Timers
	c.Tasks = rc.Tasks
	c.Channels = rc.Channels
	c.Rules = rc.Rules
	c.Reporter = rc.Reporter
	c.Waveform = rc.Waveform
	c.applyDefaults()
}
