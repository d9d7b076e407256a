package report

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
)

// CSVSink writes one CSV file per table. Consistency checks without
// violations produce no file.
type CSVSink struct {
	Dir string
}

func (s *CSVSink) Format() string { return FormatCSV }

func (s *CSVSink) Write(ctx context.Context, out Output) ([]string, error) {
	if err := ensureDir(s.Dir); err != nil {
		return nil, err
	}

	var paths []string
	write := func(prefix string, tables []Table) error {
		for _, t := range tables {
			if err := ctx.Err(); err != nil {
				return err
			}
			if t.skip() {
				continue
			}
			p := filepath.Join(s.Dir, fmt.Sprintf("%s_%s_%s.csv", prefix, out.Stamp(), t.Name))
			if err := writeCSV(p, t); err != nil {
				return err
			}
			paths = append(paths, p)
		}
		return nil
	}

	if out.Report != nil {
		if err := write("quality_report", QualityTables(out.Report)); err != nil {
			return paths, err
		}
	}
	if out.Discrepancies != nil {
		if err := write("payment_discrepancies", DiscrepancyTables(out.Discrepancies)); err != nil {
			return paths, err
		}
	}
	return paths, nil
}

func writeCSV(path string, t Table) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(t.Header); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	record := make([]string, len(t.Header))
	for _, row := range t.Rows {
		for i := range record {
			record[i] = cellText(row[i])
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("write %s: %w", filepath.Base(path), err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}
