package report

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/xuri/excelize/v2"
)

// maxSheetName is the spreadsheet limit on sheet name length.
const maxSheetName = 31

// ExcelSink writes a quality workbook and a discrepancies workbook, one
// sheet per table.
type ExcelSink struct {
	Dir string
}

func (s *ExcelSink) Format() string { return FormatExcel }

func (s *ExcelSink) Write(ctx context.Context, out Output) ([]string, error) {
	if err := ensureDir(s.Dir); err != nil {
		return nil, err
	}

	var paths []string
	if out.Report != nil {
		p := filepath.Join(s.Dir, fmt.Sprintf("data_quality_report_%s.xlsx", out.Stamp()))
		if err := writeWorkbook(ctx, p, QualityTables(out.Report)); err != nil {
			return paths, err
		}
		paths = append(paths, p)
	}
	if out.Discrepancies != nil {
		p := filepath.Join(s.Dir, fmt.Sprintf("payment_discrepancies_%s.xlsx", out.Stamp()))
		if err := writeWorkbook(ctx, p, DiscrepancyTables(out.Discrepancies)); err != nil {
			return paths, err
		}
		paths = append(paths, p)
	}
	return paths, nil
}

func writeWorkbook(ctx context.Context, path string, tables []Table) error {
	f := excelize.NewFile()
	defer f.Close()

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}

	first := true
	for _, t := range tables {
		if err := ctx.Err(); err != nil {
			return err
		}
		if t.skip() {
			continue
		}

		sheet := sheetName(t.Title)
		if first {
			if err := f.SetSheetName("Sheet1", sheet); err != nil {
				return fmt.Errorf("rename sheet %s: %w", sheet, err)
			}
			first = false
		} else if _, err := f.NewSheet(sheet); err != nil {
			return fmt.Errorf("create sheet %s: %w", sheet, err)
		}

		if err := writeSheet(f, sheet, t, bold); err != nil {
			return fmt.Errorf("sheet %s: %w", sheet, err)
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save %s: %w", filepath.Base(path), err)
	}
	return nil
}

func writeSheet(f *excelize.File, sheet string, t Table, headerStyle int) error {
	header := make([]any, len(t.Header))
	for i, h := range t.Header {
		header[i] = h
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return err
	}
	if len(t.Header) > 0 {
		last, err := excelize.CoordinatesToCellName(len(t.Header), 1)
		if err != nil {
			return err
		}
		if err := f.SetCellStyle(sheet, "A1", last, headerStyle); err != nil {
			return err
		}
	}

	for i, row := range t.Rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return err
		}
	}
	return nil
}

func sheetName(title string) string {
	r := []rune(title)
	if len(r) > maxSheetName {
		r = r[:maxSheetName]
	}
	return string(r)
}
