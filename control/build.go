package control

import (
	"errors"
	"fmt"
	"slices"

	"lautenbacher.net/gomeasure/config"
)

// LinearFromConfig returns the conversion of a channel.
func LinearFromConfig(ch config.ChannelCfg) Linear {
	return Linear{Scale: ch.Scale, Offset: ch.Offset, Min: ch.Min, Max: ch.Max}
}

func conditionFromConfig(when string, value float64) (Condition, error) {
	op, err := ParseOp(when)
	if err != nil {
		return Condition{}, err
	}
	return Condition{Op: op, Value: value}, nil
}

// RulesFromConfig converts the configured rules. The config is expected to
// be validated; remaining problems are returned joined.
func RulesFromConfig(cfgs []config.RuleCfg) ([]Rule, error) {
	var errs []error
	rules := make([]Rule, 0, len(cfgs))
	for _, rc := range cfgs {
		r := Rule{Name: rc.Name, Channel: rc.Channel}
		if h := rc.Hysteresis; h != nil {
			on, err1 := conditionFromConfig(h.On.When, h.On.Value)
			off, err2 := conditionFromConfig(h.Off.When, h.Off.Value)
			if err := errors.Join(err1, err2); err != nil {
				errs = append(errs, fmt.Errorf("rule %s: %w", rc.Name, err))
				continue
			}
			r.Hysteresis = &Hysteresis{Output: h.Output, On: on, Off: off}
		}
		for _, bc := range rc.Bands {
			cond, err := conditionFromConfig(bc.When, bc.Value)
			if err != nil {
				errs = append(errs, fmt.Errorf("rule %s band %s: %w", rc.Name, bc.Name, err))
				continue
			}
			r.Bands = append(r.Bands, Band{
				Name:      bc.Name,
				Condition: cond,
				Leds:      Leds(bc.Leds...),
				On:        slices.Clone(bc.On),
				Toggle:    slices.Clone(bc.Toggle),
				Pulse:     bc.Pulse,
				Message:   bc.Message,
			})
		}
		if !r.Exhaustive() {
			errs = append(errs, fmt.Errorf("rule %s: band table has no catch-all band", rc.Name))
			continue
		}
		rules = append(rules, r)
	}
	return rules, errors.Join(errs...)
}

// NewDeciderFromConfig builds a decider for every rule and output of conf.
func NewDeciderFromConfig(conf *config.Config) (*Decider, error) {
	rules, err := RulesFromConfig(conf.Rules)
	if err != nil {
		return nil, err
	}
	outputs := make([]string, 0, len(conf.Outputs))
	for name := range conf.Outputs {
		outputs = append(outputs, name)
	}
	slices.Sort(outputs)
	return NewDecider(rules, outputs), nil
}
