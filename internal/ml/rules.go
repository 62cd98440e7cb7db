package ml

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"buzzhive/internal/features"
)

// Op is a threshold comparison.
type Op string

const (
	Greater      Op = ">"
	Less         Op = "<"
	GreaterEqual Op = ">="
	LessEqual    Op = "<="
)

func (op Op) apply(x, threshold float64) bool {
	switch op {
	case Greater:
		return x > threshold
	case Less:
		return x < threshold
	case GreaterEqual:
		return x >= threshold
	case LessEqual:
		return x <= threshold
	}
	return false
}

func (op Op) valid() bool {
	switch op {
	case Greater, Less, GreaterEqual, LessEqual:
		return true
	}
	return false
}

// Condition compares one normalized feature against a threshold.
type Condition struct {
	Feature   int     `yaml:"feature"`
	Op        Op      `yaml:"op"`
	Threshold float64 `yaml:"threshold"`
}

// Contribution adds Weight to the score of Class.
type Contribution struct {
	Class  QueenStatus `yaml:"class"`
	Weight float64     `yaml:"weight"`
}

// Branch fires when all of its conditions hold.
type Branch struct {
	When []Condition    `yaml:"when"`
	Add  []Contribution `yaml:"add"`
}

// Rule is an if/else-if chain: only the first matching branch contributes.
type Rule struct {
	Name     string   `yaml:"name"`
	Branches []Branch `yaml:"branches"`
}

// RuleTable is the scoring policy evaluated by the Engine. Bias is added
// unconditionally before the rules.
type RuleTable struct {
	Rules []Rule         `yaml:"rules"`
	Bias  []Contribution `yaml:"bias"`
}

// DefaultRuleTable returns the built-in simplified tree ensemble.
func DefaultRuleTable() RuleTable {
	mfccMean0 := features.Index(features.MFCCMean, 0)
	mfccMean1 := features.Index(features.MFCCMean, 1)
	mfccStd0 := features.Index(features.MFCCStd, 0)
	deltaMean0 := features.Index(features.DeltaMean, 0)

	return RuleTable{
		Rules: []Rule{
			{
				Name: "energy",
				Branches: []Branch{
					{
						When: []Condition{{Feature: mfccMean0, Op: Greater, Threshold: 0.5}},
						Add:  []Contribution{{QueenAccepted, 1.5}, {Queenright, 0.8}},
					},
					{
						When: []Condition{{Feature: mfccMean0, Op: Less, Threshold: -0.5}},
						Add:  []Contribution{{Queenless, 1.2}, {QueenHatched, 0.5}},
					},
				},
			},
			{
				Name: "energy_variability",
				Branches: []Branch{
					{
						When: []Condition{{Feature: mfccStd0, Op: Greater, Threshold: 1.0}},
						Add:  []Contribution{{Queenless, 0.8}, {QueenHatched, 0.6}},
					},
				},
			},
			{
				Name: "spectral_tilt",
				Branches: []Branch{
					{
						When: []Condition{
							{Feature: mfccMean1, Op: Greater, Threshold: 0.3},
							{Feature: mfccMean0, Op: Greater, Threshold: 0},
						},
						Add: []Contribution{{QueenAccepted, 1.0}},
					},
					{
						When: []Condition{{Feature: mfccMean1, Op: Less, Threshold: -0.3}},
						Add:  []Contribution{{Queenright, 0.7}},
					},
				},
			},
			{
				Name: "onset",
				Branches: []Branch{
					{
						When: []Condition{{Feature: deltaMean0, Op: Greater, Threshold: 0.5}},
						Add:  []Contribution{{QueenHatched, 0.9}},
					},
				},
			},
		},
		Bias: []Contribution{{QueenAccepted, 0.3}},
	}
}

// Validate checks feature indices, operators and class ids.
func (t *RuleTable) Validate() error {
	checkAdd := func(where string, add []Contribution) error {
		for _, c := range add {
			if !c.Class.Valid() {
				return fmt.Errorf("ml: %s: invalid class %d", where, c.Class)
			}
		}
		return nil
	}

	if err := checkAdd("bias", t.Bias); err != nil {
		return err
	}
	for i, r := range t.Rules {
		if len(r.Branches) == 0 {
			return fmt.Errorf("ml: rule %d (%s) has no branches", i, r.Name)
		}
		for j, b := range r.Branches {
			where := fmt.Sprintf("rule %d (%s) branch %d", i, r.Name, j)
			for _, c := range b.When {
				if c.Feature < 0 || c.Feature >= features.VectorLen {
					return fmt.Errorf("ml: %s: feature index %d out of range", where, c.Feature)
				}
				if !c.Op.valid() {
					return fmt.Errorf("ml: %s: unknown operator %q", where, c.Op)
				}
			}
			if err := checkAdd(where, b.Add); err != nil {
				return err
			}
		}
	}
	return nil
}

// Scores evaluates the table against a normalized vector.
func (t *RuleTable) Scores(x *Normalized) [NumClasses]float64 {
	var scores [NumClasses]float64
	add := func(cs []Contribution) {
		for _, c := range cs {
			scores[c.Class] += c.Weight
		}
	}

	for _, r := range t.Rules {
		for _, b := range r.Branches {
			if b.matches(x) {
				add(b.Add)
				break
			}
		}
	}
	add(t.Bias)
	return scores
}

func (b *Branch) matches(x *Normalized) bool {
	for _, c := range b.When {
		if !c.Op.apply(x[c.Feature], c.Threshold) {
			return false
		}
	}
	return true
}

// LoadRuleTable reads a rule table from a YAML file.
func LoadRuleTable(path string) (RuleTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RuleTable{}, fmt.Errorf("failed to read rule table: %w", err)
	}

	var t RuleTable
	if err := yaml.Unmarshal(data, &t); err != nil {
		return RuleTable{}, fmt.Errorf("failed to unmarshal rule table: %w", err)
	}
	if err := t.Validate(); err != nil {
		return RuleTable{}, err
	}
	return t, nil
}

// WriteRuleTable writes t to path as YAML, e.g. to seed a file from
// DefaultRuleTable for editing.
func WriteRuleTable(path string, t RuleTable) error {
	data, err := yaml.Marshal(&t)
	if err != nil {
		return fmt.Errorf("failed to marshal rule table: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write rule table: %w", err)
	}
	return nil
}
