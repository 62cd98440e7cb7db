package ml

import (
	"math"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"buzzhive/internal/features"
)

func newDefaultEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine()
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

func TestPredictDefaultTable(t *testing.T) {
	e := newDefaultEngine(t)

	tests := []struct {
		name   string
		set    map[int]float64
		want   QueenStatus
		scores [NumClasses]float64
	}{
		{
			name:   "neutral vector gets only the bias",
			want:   QueenAccepted,
			scores: [NumClasses]float64{0, 0, 0, 0.3},
		},
		{
			name:   "high energy",
			set:    map[int]float64{0: 1},
			want:   QueenAccepted,
			scores: [NumClasses]float64{0.8, 0, 0, 1.8},
		},
		{
			name:   "high energy with positive tilt",
			set:    map[int]float64{0: 1, 1: 0.5},
			want:   QueenAccepted,
			scores: [NumClasses]float64{0.8, 0, 0, 2.8},
		},
		{
			name:   "low energy and high variability",
			set:    map[int]float64{0: -1, 39: 2},
			want:   Queenless,
			scores: [NumClasses]float64{0, 2.0, 1.1, 0.3},
		},
		{
			name:   "negative tilt",
			set:    map[int]float64{1: -1},
			want:   Queenright,
			scores: [NumClasses]float64{0.7, 0, 0, 0.3},
		},
		{
			name:   "onset",
			set:    map[int]float64{13: 1},
			want:   QueenHatched,
			scores: [NumClasses]float64{0, 0, 0.9, 0.3},
		},
		{
			name:   "threshold itself does not fire a strict rule",
			set:    map[int]float64{0: 0.5, 13: 0.5},
			want:   QueenAccepted,
			scores: [NumClasses]float64{0, 0, 0, 0.3},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var x Normalized
			for i, v := range tt.set {
				x[i] = v
			}
			p := e.Predict(x)
			if p.Class != tt.want {
				t.Errorf("class = %s, want %s (scores %v)", p.Class, tt.want, p.Scores)
			}
			for c := range tt.scores {
				if math.Abs(p.Scores[c]-tt.scores[c]) > 1e-9 {
					t.Errorf("scores = %v, want %v", p.Scores, tt.scores)
					break
				}
			}
			if p.Score != p.Scores[p.Class] {
				t.Errorf("Score %v does not match winning class score %v", p.Score, p.Scores[p.Class])
			}
		})
	}
}

func TestPredictTieBreakLowestID(t *testing.T) {
	table := RuleTable{
		Bias: []Contribution{{QueenHatched, 1}, {Queenless, 1}, {QueenAccepted, 1}},
	}
	e, err := NewEngine(WithRules(table))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if got := e.Predict(Normalized{}).Class; got != Queenless {
		t.Errorf("tie resolved to %s, want Queenless", got)
	}

	// All-zero scores resolve to class 0.
	e, _ = NewEngine(WithRules(RuleTable{}))
	if got := e.Predict(Normalized{}).Class; got != Queenright {
		t.Errorf("empty table resolved to %s, want Queenright", got)
	}
}

func TestPredictDeterministic(t *testing.T) {
	e := newDefaultEngine(t)
	var x Normalized
	for i := range x {
		x[i] = math.Sin(float64(i))
	}
	first := e.Predict(x)
	for i := 0; i < 10; i++ {
		if got := e.Predict(x); got != first {
			t.Fatalf("prediction changed: %+v vs %+v", got, first)
		}
	}
}

func TestNormalize(t *testing.T) {
	s := IdentityScaler()
	s.Mean[0] = 10
	s.Scale[0] = 4
	s.Mean[77] = -1
	s.Scale[77] = 0.5

	e, err := NewEngine(WithScaler(s))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	var raw features.Vector
	raw[0] = 18
	raw[1] = 3
	raw[77] = 1

	x := e.Normalize(raw)
	if x[0] != 2 || x[1] != 3 || x[77] != 4 {
		t.Errorf("normalized = %v, %v, %v; want 2, 3, 4", x[0], x[1], x[77])
	}
}

func TestNewEngineRejectsZeroScale(t *testing.T) {
	s := IdentityScaler()
	s.Scale[5] = 0
	if _, err := NewEngine(WithScaler(s)); err == nil {
		t.Error("expected error for zero scale")
	}
}

func TestNewEngineRejectsBadRules(t *testing.T) {
	bad := []RuleTable{
		{Rules: []Rule{{Name: "empty"}}},
		{Rules: []Rule{{Branches: []Branch{{When: []Condition{{Feature: 78, Op: Greater}}}}}}},
		{Rules: []Rule{{Branches: []Branch{{When: []Condition{{Feature: 0, Op: "=="}}}}}}},
		{Bias: []Contribution{{Class: 9, Weight: 1}}},
	}
	for i, table := range bad {
		if _, err := NewEngine(WithRules(table)); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}
}

func TestSilenceClassifiesAsQueenless(t *testing.T) {
	x, err := features.NewExtractor(features.DefaultConfig(22050))
	if err != nil {
		t.Fatalf("NewExtractor: %v", err)
	}
	v, _, err := x.Extract(make([]int16, 22050*10))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	e := newDefaultEngine(t)
	p := e.Classify(v)

	// Silence puts feature 0 at 40*ln(1e-10), far below -0.5: the low energy
	// branch fires alongside the bias.
	if p.Class != Queenless {
		t.Fatalf("class = %s, want Queenless (scores %v)", p.Class, p.Scores)
	}
	want := [NumClasses]float64{0, 1.2, 0.5, 0.3}
	for c := range want {
		if math.Abs(p.Scores[c]-want[c]) > 1e-9 {
			t.Fatalf("scores = %v, want %v", p.Scores, want)
		}
	}
	if math.Abs(p.Score-1.2) > 1e-9 {
		t.Errorf("score = %v, want 1.2", p.Score)
	}
}

func TestRuleTableYAMLRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := WriteRuleTable(path, DefaultRuleTable()); err != nil {
		t.Fatalf("WriteRuleTable: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "Queen_Accepted") {
		t.Errorf("rule file should name classes, got:\n%s", data)
	}

	got, err := LoadRuleTable(path)
	if err != nil {
		t.Fatalf("LoadRuleTable: %v", err)
	}
	if !reflect.DeepEqual(got, DefaultRuleTable()) {
		t.Errorf("loaded table differs from default:\n%+v", got)
	}
}

func TestLoadRuleTableNumericClass(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	doc := `
rules:
  - name: loud
    branches:
      - when:
          - {feature: 0, op: ">=", threshold: 2}
        add:
          - {class: 2, weight: 5}
bias:
  - {class: Queenright, weight: 0.1}
`
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}

	table, err := LoadRuleTable(path)
	if err != nil {
		t.Fatalf("LoadRuleTable: %v", err)
	}
	e, err := NewEngine(WithRules(table))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if got := e.Predict(Normalized{0: 2}).Class; got != QueenHatched {
		t.Errorf("class = %s, want Queen_Hatched", got)
	}
	if got := e.Predict(Normalized{0: 1}).Class; got != Queenright {
		t.Errorf("class = %s, want Queenright", got)
	}
}

func TestLoadScaler(t *testing.T) {
	dir := t.TempDir()

	var b strings.Builder
	b.WriteString("mean:\n")
	for i := 0; i < features.VectorLen; i++ {
		b.WriteString("  - 1.5\n")
	}
	b.WriteString("scale:\n")
	for i := 0; i < features.VectorLen; i++ {
		b.WriteString("  - 2\n")
	}
	path := filepath.Join(dir, "scaler.yaml")
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		t.Fatal(err)
	}

	e, err := Load("", path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	var raw features.Vector
	raw[10] = 5.5
	if got := e.Normalize(raw)[10]; got != 2 {
		t.Errorf("normalized[10] = %v, want 2", got)
	}

	short := filepath.Join(dir, "short.yaml")
	os.WriteFile(short, []byte("mean: [1, 2]\nscale: [1, 2]\n"), 0644)
	if _, err := LoadScaler(short); err == nil {
		t.Error("expected error for short scaler arrays")
	}
}

func TestQueenStatusString(t *testing.T) {
	tests := map[QueenStatus]string{
		Queenright:       "Queenright",
		Queenless:        "Queenless",
		QueenHatched:     "Queen_Hatched",
		QueenAccepted:    "Queen_Accepted",
		QueenStatus(4):   "Unknown",
		QueenStatus(255): "Unknown",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("QueenStatus(%d).String() = %q, want %q", s, got, want)
		}
	}
}
