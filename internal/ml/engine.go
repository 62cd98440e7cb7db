// Package ml classifies hive recordings into queen status classes.
//
// The Engine standardises a raw feature vector with a Scaler and scores it
// against a declarative RuleTable. Both can be replaced from YAML files
// without touching callers.
package ml

import (
	"fmt"

	"buzzhive/internal/features"
)

// Normalized is a standardised feature vector.
type Normalized [features.VectorLen]float64

// Prediction is the outcome of one classification.
type Prediction struct {
	Class  QueenStatus
	Score  float64
	Scores [NumClasses]float64
}

// Engine is immutable after construction and safe for concurrent use.
type Engine struct {
	scaler Scaler
	rules  RuleTable
}

// Option configures an Engine.
type Option func(*Engine)

// WithScaler replaces the identity scaler.
func WithScaler(s Scaler) Option {
	return func(e *Engine) {
		e.scaler = s
	}
}

// WithRules replaces the default rule table.
func WithRules(t RuleTable) Option {
	return func(e *Engine) {
		e.rules = t
	}
}

// NewEngine builds an engine with the identity scaler and DefaultRuleTable
// unless overridden.
func NewEngine(opts ...Option) (*Engine, error) {
	e := &Engine{
		scaler: IdentityScaler(),
		rules:  DefaultRuleTable(),
	}
	for _, opt := range opts {
		opt(e)
	}

	if err := e.scaler.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scaler: %w", err)
	}
	if err := e.rules.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rule table: %w", err)
	}
	return e, nil
}

// Load builds an engine from optional rule and scaler files. Empty paths
// keep the built-in defaults.
func Load(rulesPath, scalerPath string) (*Engine, error) {
	var opts []Option
	if rulesPath != "" {
		t, err := LoadRuleTable(rulesPath)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithRules(t))
	}
	if scalerPath != "" {
		s, err := LoadScaler(scalerPath)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithScaler(s))
	}
	return NewEngine(opts...)
}

// Normalize standardises raw.
func (e *Engine) Normalize(raw features.Vector) Normalized {
	var out Normalized
	for i, x := range raw {
		out[i] = (float64(x) - e.scaler.Mean[i]) / e.scaler.Scale[i]
	}
	return out
}

// Predict scores a normalized vector. The highest score wins; ties go to the
// lowest class id.
func (e *Engine) Predict(x Normalized) Prediction {
	scores := e.rules.Scores(&x)

	best := 0
	for c := 1; c < NumClasses; c++ {
		if scores[c] > scores[best] {
			best = c
		}
	}
	return Prediction{
		Class:  QueenStatus(best),
		Score:  scores[best],
		Scores: scores,
	}
}

// Classify normalizes raw and predicts its class.
func (e *Engine) Classify(raw features.Vector) Prediction {
	return e.Predict(e.Normalize(raw))
}
