package quality

import (
	"fmt"
	"strconv"

	"github.com/salesqa/salesqa/internal/datasource"
	"github.com/salesqa/salesqa/internal/schema"
)

// Default rates for the total calculation check.
const (
	DefaultTaxRate   = 0.05
	DefaultTolerance = 0.01
)

// Columns names the sales columns the built-in checks and the summary read.
type Columns struct {
	Key         string
	Total       string
	UnitPrice   string
	Quantity    string
	Date        string
	ProductLine string
	Rating      string
	Margin      string
}

// DefaultColumns returns the column names of the standard sales table.
func DefaultColumns() Columns {
	return Columns{
		Key:         schema.InvoiceKey,
		Total:       "Total",
		UnitPrice:   "Unit_price",
		Quantity:    "Quantity",
		Date:        "Date",
		ProductLine: "Product_line",
		Rating:      "Rating",
		Margin:      "gross_margin_pct",
	}
}

// merge fills the empty fields of c from d.
func (c Columns) merge(d Columns) Columns {
	pick := func(v, def string) string {
		if v == "" {
			return def
		}
		return v
	}
	return Columns{
		Key:         pick(c.Key, d.Key),
		Total:       pick(c.Total, d.Total),
		UnitPrice:   pick(c.UnitPrice, d.UnitPrice),
		Quantity:    pick(c.Quantity, d.Quantity),
		Date:        pick(c.Date, d.Date),
		ProductLine: pick(c.ProductLine, d.ProductLine),
		Rating:      pick(c.Rating, d.Rating),
		Margin:      pick(c.Margin, d.Margin),
	}
}

// Default consistency check names.
const (
	CheckTotalCalculation = "total_calculation"
	CheckFutureDates      = "future_dates"
)

// ConsistencyCheck is a named query whose result rows are violations.
// The query projects whatever columns identify and explain each violation.
type ConsistencyCheck struct {
	Name  string
	Query string
}

// TotalCalculation flags rows whose total differs from
// unit price × quantity × (1 + taxRate) by more than tolerance. The
// difference column is the absolute difference.
func TotalCalculation(table string, cols Columns, taxRate, tolerance float64) ConsistencyCheck {
	cols = cols.merge(DefaultColumns())
	key := datasource.Quote(cols.Key)
	total := datasource.Quote(cols.Total)
	calc := fmt.Sprintf("%s * %s * (1 + %s)",
		datasource.Quote(cols.UnitPrice), datasource.Quote(cols.Quantity), formatFloat(taxRate))

	return ConsistencyCheck{
		Name: CheckTotalCalculation,
		Query: fmt.Sprintf(`SELECT %s, %s, %s AS calculated_total, ABS(%s - %s) AS difference
FROM %s
WHERE ABS(%s - %s) > %s
ORDER BY %s`,
			key, total, calc, total, calc,
			datasource.Quote(table),
			total, calc, formatFloat(tolerance),
			key),
	}
}

// FutureDates flags rows dated after today.
func FutureDates(table string, cols Columns) ConsistencyCheck {
	cols = cols.merge(DefaultColumns())
	key := datasource.Quote(cols.Key)
	date := datasource.Quote(cols.Date)

	return ConsistencyCheck{
		Name: CheckFutureDates,
		Query: fmt.Sprintf(`SELECT %s, %s FROM %s WHERE %s > CURRENT_DATE ORDER BY %s`,
			key, date, datasource.Quote(table), date, key),
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
