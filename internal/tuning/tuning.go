// Package tuning loads rule parameters, ranking weights and expression rules
// from an optional YAML file.
package tuning

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"focuswatch/internal/ranking"
	"focuswatch/internal/rules/detectors"
)

// Tuning is the decoded tuning file.
type Tuning struct {
	Rules       detectors.Config           `yaml:"rules"`
	Ranking     ranking.Config             `yaml:"ranking"`
	Expressions []detectors.ExpressionSpec `yaml:"expressions"`
}

// Defaults returns the built-in tuning used when no file is configured.
func Defaults() Tuning {
	return Tuning{
		Rules:   detectors.DefaultConfig(),
		Ranking: ranking.DefaultConfig(),
	}
}

// Load reads path. An empty path yields Defaults.
func Load(path string) (Tuning, error) {
	if path == "" {
		return Defaults(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Tuning{}, fmt.Errorf("read tuning file: %w", err)
	}
	t, err := Parse(data)
	if err != nil {
		return Tuning{}, fmt.Errorf("tuning file %s: %w", path, err)
	}
	return t, nil
}

// Parse decodes YAML on top of the defaults, so omitted keys keep their
// default values. Unknown keys are rejected.
func Parse(data []byte) (Tuning, error) {
	t := Defaults()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&t); err != nil && !errors.Is(err, io.EOF) {
		return Tuning{}, fmt.Errorf("decode: %w", err)
	}
	if err := t.Ranking.Validate(); err != nil {
		return Tuning{}, err
	}
	return t, nil
}
