// Package report renders quality reports and reconciliation results to
// files. Every sink writes into one directory and stamps its file names with
// the run time, so repeated runs never overwrite each other.
package report

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/salesqa/salesqa/internal/quality"
	"github.com/salesqa/salesqa/internal/reconcile"
)

// Output formats.
const (
	FormatJSON  = "json"
	FormatCSV   = "csv"
	FormatExcel = "excel"
	FormatHTML  = "html"
)

// StampLayout is the timestamp embedded in every file name.
const StampLayout = "20060102_150405"

// ErrUnknownFormat is returned by New for an unsupported format name.
var ErrUnknownFormat = errors.New("unknown report format")

// Output is what one run hands to the sinks.
type Output struct {
	Timestamp     time.Time
	Report        *quality.Report
	Discrepancies *reconcile.Discrepancies
}

// Stamp returns the file-name timestamp of the output.
func (o Output) Stamp() string {
	return o.Timestamp.Format(StampLayout)
}

// Sink renders an Output and returns the paths it wrote.
type Sink interface {
	Format() string
	Write(ctx context.Context, out Output) ([]string, error)
}

// New returns one sink per format, all writing into dir.
func New(dir string, formats []string) ([]Sink, error) {
	sinks := make([]Sink, 0, len(formats))
	seen := make(map[string]bool, len(formats))
	for _, f := range formats {
		f = strings.ToLower(strings.TrimSpace(f))
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true

		switch f {
		case FormatJSON:
			sinks = append(sinks, &JSONSink{Dir: dir})
		case FormatCSV:
			sinks = append(sinks, &CSVSink{Dir: dir})
		case FormatExcel, "xlsx":
			sinks = append(sinks, &ExcelSink{Dir: dir})
		case FormatHTML:
			sinks = append(sinks, &HTMLSink{Dir: dir})
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, f)
		}
	}
	return sinks, nil
}

func ensureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create report directory: %w", err)
	}
	return nil
}
