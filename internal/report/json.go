package report

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// JSONSink writes the report and the discrepancies as indented JSON files.
type JSONSink struct {
	Dir string
}

func (s *JSONSink) Format() string { return FormatJSON }

func (s *JSONSink) Write(_ context.Context, out Output) ([]string, error) {
	if err := ensureDir(s.Dir); err != nil {
		return nil, err
	}

	var paths []string
	if out.Report != nil {
		p := filepath.Join(s.Dir, fmt.Sprintf("quality_report_%s.json", out.Stamp()))
		if err := writeJSON(p, out.Report); err != nil {
			return paths, err
		}
		paths = append(paths, p)
	}
	if out.Discrepancies != nil {
		p := filepath.Join(s.Dir, fmt.Sprintf("payment_discrepancies_%s.json", out.Stamp()))
		if err := writeJSON(p, out.Discrepancies); err != nil {
			return paths, err
		}
		paths = append(paths, p)
	}
	return paths, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}
