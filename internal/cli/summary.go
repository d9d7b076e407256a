package cli

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/fatih/color"

	"github.com/salesqa/salesqa/internal/correct"
	"github.com/salesqa/salesqa/internal/pipeline"
	"github.com/salesqa/salesqa/internal/quality"
)

var (
	titleColor = color.New(color.FgCyan, color.Bold)
	labelColor = color.New(color.FgGreen)
	warnColor  = color.New(color.FgYellow)
	errColor   = color.New(color.FgRed, color.Bold)
)

// printSummary writes a human-readable summary of a run.
func printSummary(w io.Writer, res *pipeline.Result) {
	titleColor.Fprintf(w, "Run %s\n", res.RunID)

	for _, s := range res.Loaded {
		field(w, "Loaded "+s.Table, fmt.Sprintf("%d rows", s.Rows))
	}

	issues := res.Report.Issues()
	field(w, "Missing values", count(issues[quality.CategoryMissingValues]))
	field(w, "Outliers", count(issues[quality.CategoryNumericRanges]))
	field(w, "Invalid values", count(issues[quality.CategoryCategoricalValues]))
	field(w, "Inconsistent", count(issues[quality.CategoryConsistency]))

	d := res.Discrepancies
	field(w, "Duplicate pay", count(int64(len(d.DuplicatePayments))))
	field(w, "Amount diff", count(int64(len(d.AmountMismatch))))
	if len(d.UnmatchedInvoices) > 0 {
		field(w, "Unmatched", count(int64(len(d.UnmatchedInvoices))))
	}

	if res.Corrections != nil {
		names := make([]string, 0, len(res.Corrections))
		for name := range res.Corrections {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			n := res.Corrections[name]
			if n == correct.Failed {
				labelColor.Fprintf(w, "%-16s", name)
				errColor.Fprintln(w, "failed")
				continue
			}
			field(w, name, fmt.Sprintf("%d rows", n))
		}
	}

	for _, p := range res.Outputs {
		field(w, "Wrote", p)
	}
	field(w, "Duration", res.Duration.Round(time.Millisecond).String())

	if res.Report.Degraded() {
		errColor.Fprintf(w, "%d check(s) could not run:\n", len(res.Report.Failures))
		for _, f := range res.Report.Failures {
			fmt.Fprintf(w, "  %s %s: %s\n", f.Category, f.Column, f.Error)
		}
		return
	}
	labelColor.Fprintln(w, "All checks ran")
}

func field(w io.Writer, label, value string) {
	labelColor.Fprintf(w, "%-16s", label+":")
	fmt.Fprintln(w, value)
}

// count renders zero plainly and anything else highlighted.
func count(n int64) string {
	if n == 0 {
		return "0"
	}
	return warnColor.Sprint(n)
}
