package datasource

// values.go normalizes driver-specific scalar values.
//
// DuckDB returns DECIMAL as duckdb.Decimal and HUGEINT as *big.Int, while
// pgx returns NUMERIC as pgtype.Numeric. Aggregate results are read through
// these helpers so callers never switch on driver types themselves.

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	duckdb "github.com/marcboeker/go-duckdb/v2"
)

// Float converts a scalar to float64. ok is false for NULL or non-numeric values.
func Float(v any) (float64, bool) {
	switch n := v.(type) {
	case nil:
		return 0, false
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case *big.Int:
		if n == nil {
			return 0, false
		}
		f, _ := new(big.Float).SetInt(n).Float64()
		return f, true
	case duckdb.Decimal:
		return n.Float64(), true
	case pgtype.Numeric:
		f, err := n.Float64Value()
		if err != nil || !f.Valid {
			return 0, false
		}
		return f.Float64, true
	case pgtype.Float8:
		return n.Float64, n.Valid
	case pgtype.Int8:
		return float64(n.Int64), n.Valid
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	case []byte:
		f, err := strconv.ParseFloat(strings.TrimSpace(string(n)), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// Int converts a scalar to int64, truncating fractional values.
func Int(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case *big.Int:
		if n == nil || !n.IsInt64() {
			return 0, false
		}
		return n.Int64(), true
	}
	f, ok := Float(v)
	if !ok {
		return 0, false
	}
	return int64(f), true
}

// String renders a scalar as text. ok is false for NULL.
func String(v any) (string, bool) {
	switch s := v.(type) {
	case nil:
		return "", false
	case string:
		return s, true
	case []byte:
		return string(s), true
	case pgtype.Text:
		return s.String, s.Valid
	case time.Time:
		return s.Format(time.DateOnly), true
	}
	if f, ok := Float(v); ok {
		return strconv.FormatFloat(f, 'f', -1, 64), true
	}
	return fmt.Sprint(v), true
}

// normalize converts driver values into plain Go values suitable for JSON.
func normalize(v any) any {
	switch n := v.(type) {
	case []byte:
		return string(n)
	case *big.Int, duckdb.Decimal, pgtype.Numeric:
		if f, ok := Float(n); ok {
			return f
		}
		return nil
	case pgtype.Date:
		if !n.Valid {
			return nil
		}
		return n.Time
	case pgtype.Time:
		if !n.Valid {
			return nil
		}
		return time.Duration(n.Microseconds * int64(time.Microsecond)).String()
	}
	return v
}
