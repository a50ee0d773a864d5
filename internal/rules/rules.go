// Package rules evaluates indicator trigger conditions. The same condition
// shape is used by tier entry filters and by the strategy rule file.
package rules

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type Comparator string

const (
	Below Comparator = "below"
	Above Comparator = "above"
)

// Condition is one {indicator, comparator, threshold} trigger. Comparisons
// are strict: "below 30" does not match 30.
type Condition struct {
	Indicator  string     `yaml:"indicator" json:"indicator"`
	Comparator Comparator `yaml:"comparator" json:"comparator"`
	Threshold  float64    `yaml:"threshold" json:"threshold"`
}

func (c Condition) Validate() error {
	if strings.TrimSpace(c.Indicator) == "" {
		return fmt.Errorf("condition has no indicator")
	}
	switch c.Comparator {
	case Below, Above:
		return nil
	default:
		return fmt.Errorf("indicator %q: unknown comparator %q (want below|above)", c.Indicator, c.Comparator)
	}
}

// Holds reports whether the condition is satisfied by values. A missing
// indicator never satisfies a condition.
func (c Condition) Holds(values map[string]float64) bool {
	v, ok := lookup(values, c.Indicator)
	if !ok {
		return false
	}
	switch c.Comparator {
	case Below:
		return v < c.Threshold
	case Above:
		return v > c.Threshold
	}
	return false
}

func (c Condition) String() string {
	return fmt.Sprintf("%s %s %g", c.Indicator, c.Comparator, c.Threshold)
}

// Match is the AND of all conditions. An empty set matches.
func Match(conds []Condition, values map[string]float64) bool {
	for _, c := range conds {
		if !c.Holds(values) {
			return false
		}
	}
	return true
}

// aliases map rule-file spellings to the column names historical data uses
var aliases = map[string]string{
	"rsi":       "rsi",
	"iv_zscore": "iv_zscore",
	"ivzscore":  "iv_zscore",
	"oi_change": "oi_change",
	"oichange":  "oi_change",
}

func normalize(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	if a, ok := aliases[n]; ok {
		return a
	}
	return n
}

func lookup(values map[string]float64, name string) (float64, bool) {
	if v, ok := values[name]; ok {
		return v, true
	}
	want := normalize(name)
	for k, v := range values {
		if normalize(k) == want {
			return v, true
		}
	}
	return 0, false
}

type Status string

const (
	Active   Status = "active"
	Inactive Status = "inactive"
)

// Strategy is one entry of a rule file.
type Strategy struct {
	Name     string      `yaml:"name"`
	Status   Status      `yaml:"status"`
	Triggers []Condition `yaml:"triggers"`
}

// Parse decodes a YAML list of strategies and returns only the active ones,
// in file order. A missing status means active.
func Parse(data []byte) ([]Strategy, error) {
	var all []Strategy
	if err := yaml.Unmarshal(data, &all); err != nil {
		return nil, fmt.Errorf("decode rule file: %w", err)
	}
	seen := map[string]bool{}
	var active []Strategy
	for i, s := range all {
		if strings.TrimSpace(s.Name) == "" {
			return nil, fmt.Errorf("strategy %d: missing name", i)
		}
		if seen[s.Name] {
			return nil, fmt.Errorf("strategy %q: duplicate name", s.Name)
		}
		seen[s.Name] = true
		switch s.Status {
		case "":
			s.Status = Active
		case Active, Inactive:
		default:
			return nil, fmt.Errorf("strategy %q: unknown status %q", s.Name, s.Status)
		}
		if len(s.Triggers) == 0 {
			return nil, fmt.Errorf("strategy %q: no triggers", s.Name)
		}
		for _, c := range s.Triggers {
			if err := c.Validate(); err != nil {
				return nil, fmt.Errorf("strategy %q: %w", s.Name, err)
			}
		}
		if s.Status == Active {
			active = append(active, s)
		}
	}
	return active, nil
}

func LoadFile(path string) ([]Strategy, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}
