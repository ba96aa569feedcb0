// Package detectors implements the built-in detection rules and the
// operator-defined expression rules.
package detectors

import (
	"fmt"

	"focuswatch/internal/rules/engine"
)

// Config holds the parameters of every built-in rule. Zero-valued sections
// are replaced by their defaults in Build.
type Config struct {
	ContextSwitch    ContextSwitch    `yaml:"context_switch"`
	Interruptions    Interruptions    `yaml:"interruptions"`
	RepeatedSequence RepeatedSequence `yaml:"repeated_sequence"`
	DeepWork         DeepWork         `yaml:"deep_work"`
	Anomaly          Anomaly          `yaml:"activity_anomaly"`
	Disabled         []string         `yaml:"disabled"`
}

func DefaultConfig() Config {
	return Config{
		ContextSwitch:    DefaultContextSwitch(),
		Interruptions:    DefaultInterruptions(),
		RepeatedSequence: DefaultRepeatedSequence(),
		DeepWork:         DefaultDeepWork(),
		Anomaly:          DefaultAnomaly(),
	}
}

// Build returns the built-in rules followed by the compiled expression rules,
// in registration order, skipping disabled IDs.
func Build(cfg Config, expressions []ExpressionSpec) ([]engine.Rule, error) {
	def := DefaultConfig()
	if cfg.ContextSwitch == (ContextSwitch{}) {
		cfg.ContextSwitch = def.ContextSwitch
	}
	if cfg.Interruptions == (Interruptions{}) {
		cfg.Interruptions = def.Interruptions
	}
	if cfg.RepeatedSequence == (RepeatedSequence{}) {
		cfg.RepeatedSequence = def.RepeatedSequence
	}
	if cfg.DeepWork == (DeepWork{}) {
		cfg.DeepWork = def.DeepWork
	}
	if cfg.Anomaly == (Anomaly{}) {
		cfg.Anomaly = def.Anomaly
	}
	if cfg.RepeatedSequence.MinLength > cfg.RepeatedSequence.MaxLength {
		return nil, fmt.Errorf("repeated_sequence: min_length %d exceeds max_length %d",
			cfg.RepeatedSequence.MinLength, cfg.RepeatedSequence.MaxLength)
	}

	disabled := make(map[string]bool, len(cfg.Disabled))
	for _, id := range cfg.Disabled {
		disabled[id] = true
	}

	candidates := []engine.Rule{
		cfg.ContextSwitch,
		cfg.Interruptions,
		cfg.RepeatedSequence,
		cfg.DeepWork,
		cfg.Anomaly,
	}
	for _, spec := range expressions {
		rule, err := CompileExpression(spec)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, rule)
	}

	rules := make([]engine.Rule, 0, len(candidates))
	for _, r := range candidates {
		if !disabled[r.ID()] {
			rules = append(rules, r)
		}
	}
	return rules, nil
}
