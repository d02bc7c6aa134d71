package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type RiskFactorMode string

const (
	RiskFactorFixed          RiskFactorMode = "fixed"
	RiskFactorAdaptive       RiskFactorMode = "adaptive"
	RiskFactorSimpleAdaptive RiskFactorMode = "simple_adaptive"
)

// RiskFactor is either a fixed gamma or one of the learner modes. In YAML it
// is written as a bare number or as the mode name.
type RiskFactor struct {
	Mode  RiskFactorMode
	Value float64
}

func (r RiskFactor) Adaptive() bool {
	return r.Mode == RiskFactorAdaptive || r.Mode == RiskFactorSimpleAdaptive
}

func (r *RiskFactor) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("risk_factor: expected scalar at line %d", node.Line)
	}
	raw := strings.TrimSpace(node.Value)
	switch strings.ToLower(raw) {
	case string(RiskFactorAdaptive):
		*r = RiskFactor{Mode: RiskFactorAdaptive}
		return nil
	case string(RiskFactorSimpleAdaptive):
		*r = RiskFactor{Mode: RiskFactorSimpleAdaptive}
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("risk_factor: %q is neither a number nor a mode", raw)
	}
	*r = RiskFactor{Mode: RiskFactorFixed, Value: v}
	return nil
}

func (r RiskFactor) MarshalYAML() (any, error) {
	if r.Mode == RiskFactorFixed {
		return r.Value, nil
	}
	return string(r.Mode), nil
}

func (r RiskFactor) String() string {
	if r.Mode == RiskFactorFixed {
		return strconv.FormatFloat(r.Value, 'f', -1, 64)
	}
	return string(r.Mode)
}

func (r RiskFactor) validate() error {
	switch r.Mode {
	case RiskFactorFixed:
		if r.Value <= 0 {
			return errors.New("strategy.risk_factor must be > 0")
		}
	case RiskFactorAdaptive, RiskFactorSimpleAdaptive:
	default:
		return fmt.Errorf("strategy.risk_factor: unknown mode %q", r.Mode)
	}
	return nil
}
