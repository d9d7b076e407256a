package quality

import (
	"context"
	"fmt"

	"github.com/salesqa/salesqa/internal/datasource"
	"github.com/salesqa/salesqa/internal/rules"
)

// Each check opens its own connection on src and closes it before
// returning, so any number of checks may run against one Source at once.

// MissingValues counts NULL entries of column in table.
func MissingValues(ctx context.Context, src datasource.Source, table, column string) (int64, error) {
	q := fmt.Sprintf(`SELECT COUNT(*) - COUNT(%s) FROM %s`, datasource.Quote(column), datasource.Quote(table))

	res, err := datasource.Query(ctx, src, q)
	if err != nil {
		return 0, err
	}
	if res.Len() == 0 {
		return 0, nil
	}
	n, _ := datasource.Int(res.Rows[0][0])
	return n, nil
}

// NumericRange counts values of column strictly outside r and reports the
// extremes among them. Values equal to a bound are in range.
func NumericRange(ctx context.Context, src datasource.Source, table, column string, r rules.Range) (ColumnRange, error) {
	col := datasource.Quote(column)
	d := src.Dialect()
	q := fmt.Sprintf(`SELECT COUNT(*), MIN(%s), MAX(%s) FROM %s WHERE %s < %s OR %s > %s`,
		col, col, datasource.Quote(table), col, d.Placeholder(1), col, d.Placeholder(2))

	res, err := datasource.Query(ctx, src, q, r.Min, r.Max)
	if err != nil {
		return ColumnRange{}, err
	}

	var out ColumnRange
	if res.Len() == 0 {
		return out, nil
	}
	row := res.Rows[0]
	out.OutlierCount, _ = datasource.Int(row[0])
	if v, ok := datasource.Float(row[1]); ok {
		out.MinValue = &v
	}
	if v, ok := datasource.Float(row[2]); ok {
		out.MaxValue = &v
	}
	return out, nil
}

// Categorical returns the distinct non-NULL values of column that are not in
// allowed, in the order the engine produces them.
func Categorical(ctx context.Context, src datasource.Source, table, column string, allowed []string) ([]string, error) {
	col := datasource.Quote(column)
	q := fmt.Sprintf(`SELECT DISTINCT %s FROM %s WHERE %s IS NOT NULL`, col, datasource.Quote(table), col)

	args := make([]any, len(allowed))
	for i, v := range allowed {
		args[i] = v
	}
	if len(allowed) > 0 {
		q += fmt.Sprintf(` AND %s NOT IN (%s)`, col, src.Dialect().Placeholders(1, len(allowed)))
	}

	res, err := datasource.Query(ctx, src, q, args...)
	if err != nil {
		return nil, err
	}

	invalid := make([]string, 0, res.Len())
	for _, row := range res.Rows {
		if s, ok := datasource.String(row[0]); ok {
			invalid = append(invalid, s)
		}
	}
	return invalid, nil
}

// Consistency runs a consistency query; every returned row is a violation.
func Consistency(ctx context.Context, src datasource.Source, check ConsistencyCheck) (ViolationSet, error) {
	res, err := datasource.Query(ctx, src, check.Query)
	if err != nil {
		return ViolationSet{}, err
	}
	return ViolationSet{Columns: res.Columns, Rows: res.Records()}, nil
}
