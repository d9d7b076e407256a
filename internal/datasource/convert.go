package datasource

// convert.go turns raw CSV cells into typed column values.
//
// Exports are hand-edited often enough that cells arrive with currency
// symbols, thousands separators, accounting negatives, or US-style dates.
// All ToPg* functions return Valid=false for empty or unparseable input so
// the stored value is NULL and the missing-value check reports it.

import (
	"database/sql/driver"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/salesqa/salesqa/internal/schema"
)

var numericPattern = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

// dateLayouts are tried in order. Month-first layouts come before ISO
// because the sales extract writes dates as 1/5/2019.
var dateLayouts = []string{
	"1/2/2006", "01/02/2006", "1-2-2006", "01-02-2006",
	"2006-01-02", "2006/01/02",
	"Jan 2, 2006", "2 Jan 2006",
}

// ToPgText converts a cell to pgtype.Text. Whitespace is preserved so the
// trim correction has something to fix; only all-blank cells become NULL.
func ToPgText(s string) pgtype.Text {
	if strings.TrimSpace(s) == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: s, Valid: true}
}

// ToPgDate converts a cell to pgtype.Date.
func ToPgDate(s string) pgtype.Date {
	s = strings.TrimSpace(s)
	if s == "" {
		return pgtype.Date{}
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return pgtype.Date{Time: t, Valid: true}
		}
	}
	return pgtype.Date{}
}

// ToPgNumeric converts a cell to pgtype.Numeric.
// Handles currency symbols, thousands separators and "(12.50)" negatives.
func ToPgNumeric(s string) pgtype.Numeric {
	s = cleanNumber(s)
	if s == "" || !numericPattern.MatchString(s) {
		return pgtype.Numeric{}
	}

	var n pgtype.Numeric
	if err := n.Scan(s); err != nil {
		return pgtype.Numeric{}
	}
	return n
}

// ToPgInt8 converts a cell to pgtype.Int8. Fractional input is rejected.
func ToPgInt8(s string) pgtype.Int8 {
	n := ToPgNumeric(s)
	if !n.Valid {
		return pgtype.Int8{}
	}
	v, err := n.Int64Value()
	if err != nil || !v.Valid {
		return pgtype.Int8{}
	}
	return v
}

func cleanNumber(s string) string {
	s = strings.TrimSpace(s)
	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}
	s = strings.NewReplacer("$", "", "€", "", "£", "", ",", "").Replace(s)
	s = strings.TrimSpace(s)
	if negative && s != "" {
		s = "-" + s
	}
	return s
}

// pgValue converts a cell into the pgtype value for a field type.
func pgValue(ft schema.FieldType, cell string) any {
	switch ft {
	case schema.FieldNumeric:
		return ToPgNumeric(cell)
	case schema.FieldInteger:
		return ToPgInt8(cell)
	case schema.FieldDate:
		return ToPgDate(cell)
	default:
		return ToPgText(cell)
	}
}

// driverValue converts a cell into a plain driver value for a field type.
// Invalid cells become nil.
func driverValue(ft schema.FieldType, cell string) driver.Value {
	switch v := pgValue(ft, cell).(type) {
	case pgtype.Numeric:
		f, err := v.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	case pgtype.Int8:
		if !v.Valid {
			return nil
		}
		return v.Int64
	case pgtype.Date:
		if !v.Valid {
			return nil
		}
		return v.Time
	case pgtype.Text:
		if !v.Valid {
			return nil
		}
		return v.String
	}
	return nil
}
