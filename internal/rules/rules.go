// Package rules holds the declarative rule configuration checked against the
// sales table.
//
// A RuleSet maps column names to inclusive numeric ranges and to categorical
// allow-lists, and declares which columns the missing-value check covers.
// A RuleSet is immutable once built: constructors copy their input and
// accessors return copies, so one RuleSet can be shared by any number of
// concurrent checks.
package rules

import (
	"errors"
	"fmt"
	"math"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/salesqa/salesqa/internal/schema"
)

// Range is an inclusive numeric bound.
type Range struct {
	Min float64 `yaml:"min" json:"min"`
	Max float64 `yaml:"max" json:"max"`
}

// Contains reports whether v lies within [Min, Max].
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// Config is the serializable form of a RuleSet.
type Config struct {
	NumericRanges     map[string]Range    `yaml:"numeric_ranges" json:"numeric_ranges"`
	CategoricalValues map[string][]string `yaml:"categorical_values" json:"categorical_values"`
	MissingValues     []string            `yaml:"missing_values,omitempty" json:"missing_values"`
}

// ValidationError describes one invalid rule.
type ValidationError struct {
	Column  string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("rule %s: %s", e.Column, e.Message)
}

// RuleSet is an immutable rule configuration.
type RuleSet struct {
	numeric     map[string]Range
	categorical map[string][]string
	missing     []string
}

// New validates cfg and returns a RuleSet holding a copy of it.
// An empty missing-value column list defaults to every sales column.
func New(cfg Config) (*RuleSet, error) {
	if err := Validate(cfg); err != nil {
		return nil, err
	}

	rs := &RuleSet{
		numeric:     make(map[string]Range, len(cfg.NumericRanges)),
		categorical: make(map[string][]string, len(cfg.CategoricalValues)),
	}
	for col, r := range cfg.NumericRanges {
		rs.numeric[col] = r
	}
	for col, allowed := range cfg.CategoricalValues {
		rs.categorical[col] = append([]string(nil), allowed...)
	}
	if len(cfg.MissingValues) > 0 {
		rs.missing = append([]string(nil), cfg.MissingValues...)
	} else {
		rs.missing = schema.Sales.Columns()
	}
	return rs, nil
}

// Validate checks cfg for rules that can never be evaluated meaningfully.
// All problems are reported together.
func Validate(cfg Config) error {
	var errs []error

	for _, col := range sortedKeys(cfg.NumericRanges) {
		r := cfg.NumericRanges[col]
		switch {
		case col == "":
			errs = append(errs, ValidationError{Column: "(empty)", Message: "column name is required"})
		case math.IsNaN(r.Min) || math.IsNaN(r.Max):
			errs = append(errs, ValidationError{Column: col, Message: "bounds must be numbers"})
		case r.Min > r.Max:
			errs = append(errs, ValidationError{Column: col, Message: fmt.Sprintf("min %v exceeds max %v", r.Min, r.Max)})
		}
	}

	for _, col := range sortedKeys(cfg.CategoricalValues) {
		switch {
		case col == "":
			errs = append(errs, ValidationError{Column: "(empty)", Message: "column name is required"})
		case len(cfg.CategoricalValues[col]) == 0:
			errs = append(errs, ValidationError{Column: col, Message: "allowed value list is empty"})
		}
	}

	seen := make(map[string]bool, len(cfg.MissingValues))
	for _, col := range cfg.MissingValues {
		if seen[col] {
			errs = append(errs, ValidationError{Column: col, Message: "listed twice for missing values"})
		}
		seen[col] = true
	}

	return errors.Join(errs...)
}

// Default returns the standard rules for the supermarket sales extract.
func Default() *RuleSet {
	rs, err := New(Config{
		NumericRanges: map[string]Range{
			"Unit_price":       {Min: 0, Max: 1000},
			"Quantity":         {Min: 0, Max: 100},
			"Rating":           {Min: 0, Max: 10},
			"gross_margin_pct": {Min: 0, Max: 100},
		},
		CategoricalValues: map[string][]string{
			"Branch":        {"A", "B", "C"},
			"Customer_type": {"Member", "Normal"},
			"Gender":        {"Male", "Female"},
			"Payment":       {"Cash", "Credit card", "Ewallet"},
		},
	})
	if err != nil {
		panic(fmt.Sprintf("default rules: %v", err))
	}
	return rs
}

// LoadFile reads a YAML rule file.
func LoadFile(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rules file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing rules YAML: %w", err)
	}

	rs, err := New(cfg)
	if err != nil {
		return nil, fmt.Errorf("invalid rules in %s: %w", path, err)
	}
	return rs, nil
}

// NumericRange returns the range configured for col.
func (rs *RuleSet) NumericRange(col string) (Range, bool) {
	r, ok := rs.numeric[col]
	return r, ok
}

// Allowed returns a copy of the allow-list configured for col.
func (rs *RuleSet) Allowed(col string) ([]string, bool) {
	allowed, ok := rs.categorical[col]
	if !ok {
		return nil, false
	}
	return append([]string(nil), allowed...), true
}

// NumericColumns returns the columns with a numeric range, sorted.
func (rs *RuleSet) NumericColumns() []string {
	return sortedKeys(rs.numeric)
}

// CategoricalColumns returns the columns with an allow-list, sorted.
func (rs *RuleSet) CategoricalColumns() []string {
	return sortedKeys(rs.categorical)
}

// MissingValueColumns returns the columns covered by the missing-value check.
func (rs *RuleSet) MissingValueColumns() []string {
	return append([]string(nil), rs.missing...)
}

// Config returns a copy of the rules in serializable form.
func (rs *RuleSet) Config() Config {
	cfg := Config{
		NumericRanges:     make(map[string]Range, len(rs.numeric)),
		CategoricalValues: make(map[string][]string, len(rs.categorical)),
		MissingValues:     rs.MissingValueColumns(),
	}
	for col, r := range rs.numeric {
		cfg.NumericRanges[col] = r
	}
	for col := range rs.categorical {
		cfg.CategoricalValues[col], _ = rs.Allowed(col)
	}
	return cfg
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
