package quality

import (
	"encoding/json"
	"time"

	"github.com/salesqa/salesqa/internal/datasource"
)

// Check categories, also the Report's JSON keys.
const (
	CategoryMissingValues     = "missing_values"
	CategoryNumericRanges     = "numeric_ranges"
	CategoryCategoricalValues = "categorical_values"
	CategoryConsistency       = "consistency_checks"
	CategorySummary           = "summary_statistics"
)

// Failure kinds.
const (
	KindConfiguration = "configuration"
	KindQuery         = "query"
)

// MissingValuesResult maps a column to its count of NULL entries.
type MissingValuesResult map[string]int64

// ColumnRange is the numeric-range result for one column.
//
// MinValue and MaxValue are the smallest and largest out-of-range values;
// both are nil when there are no outliers. Error is set when the check for
// this column could not run, which keeps a degraded column distinguishable
// from a clean one.
type ColumnRange struct {
	OutlierCount int64    `json:"outlier_count"`
	MinValue     *float64 `json:"min_value"`
	MaxValue     *float64 `json:"max_value"`
	Error        string   `json:"error,omitempty"`
}

// NumericRangeResult maps a column to its range result.
type NumericRangeResult map[string]ColumnRange

// CategoricalResult maps a column to the distinct values not in its allow-list.
type CategoricalResult map[string][]string

// ViolationSet holds the rows flagged by one consistency check.
type ViolationSet struct {
	Columns []string
	Rows    []datasource.Record
}

// Len returns the number of violations.
func (v ViolationSet) Len() int { return len(v.Rows) }

// MarshalJSON encodes the set as an array of records.
func (v ViolationSet) MarshalJSON() ([]byte, error) {
	if v.Rows == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(v.Rows)
}

// ConsistencyResult maps a check name to its violations.
type ConsistencyResult map[string]ViolationSet

// SummaryStatistics are read-only aggregates over the sales table.
type SummaryStatistics struct {
	TotalRecords   int64   `json:"total_records"`
	UniqueInvoices int64   `json:"unique_invoices"`
	UniqueProducts int64   `json:"unique_products"`
	AvgRating      float64 `json:"avg_rating"`
	AvgMargin      float64 `json:"avg_margin"`
}

// CheckFailure records a check that ran degraded.
type CheckFailure struct {
	Category string `json:"category"`
	Column   string `json:"column,omitempty"`
	Kind     string `json:"kind"`
	Error    string `json:"error"`
}

// Report is the merged result of one quality run. It is assembled only after
// every check has finished and is not modified afterwards.
type Report struct {
	RunID             string              `json:"run_id"`
	GeneratedAt       time.Time           `json:"generated_at"`
	MissingValues     MissingValuesResult `json:"missing_values"`
	NumericRanges     NumericRangeResult  `json:"numeric_ranges"`
	CategoricalValues CategoricalResult   `json:"categorical_values"`
	ConsistencyChecks ConsistencyResult   `json:"consistency_checks"`
	SummaryStatistics SummaryStatistics   `json:"summary_statistics"`
	Failures          []CheckFailure      `json:"failures"`
}

// Degraded reports whether any check fell back to its default.
func (r *Report) Degraded() bool {
	return len(r.Failures) > 0
}

// Issues counts flagged items per check category: missing cells,
// outliers, invalid categorical values and consistency violations.
func (r *Report) Issues() map[string]int64 {
	counts := map[string]int64{
		CategoryMissingValues:     0,
		CategoryNumericRanges:     0,
		CategoryCategoricalValues: 0,
		CategoryConsistency:       0,
	}
	for _, c := range r.MissingValues {
		counts[CategoryMissingValues] += c
	}
	for _, c := range r.NumericRanges {
		counts[CategoryNumericRanges] += c.OutlierCount
	}
	for _, vals := range r.CategoricalValues {
		counts[CategoryCategoricalValues] += int64(len(vals))
	}
	for _, v := range r.ConsistencyChecks {
		counts[CategoryConsistency] += int64(v.Len())
	}
	return counts
}

// IssueCount totals Issues.
func (r *Report) IssueCount() int64 {
	var n int64
	for _, c := range r.Issues() {
		n += c
	}
	return n
}
