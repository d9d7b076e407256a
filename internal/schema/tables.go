package schema

// Table names.
const (
	SalesTable    = "sales"
	PaymentsTable = "payments"
)

// InvoiceKey is the join column shared by both tables.
const InvoiceKey = "Invoice_ID"

// Sales is the supermarket sales extract.
var Sales = Table{
	Name: SalesTable,
	Key:  InvoiceKey,
	Fields: []FieldSpec{
		{Name: "Invoice_ID", Type: FieldText, Required: true},
		{Name: "Branch", Type: FieldText},
		{Name: "City", Type: FieldText},
		{Name: "Customer_type", Type: FieldText},
		{Name: "Gender", Type: FieldText},
		{Name: "Product_line", Type: FieldText},
		{Name: "Unit_price", Type: FieldNumeric, Required: true},
		{Name: "Quantity", Type: FieldInteger, Required: true},
		{Name: "Tax", Type: FieldNumeric},
		{Name: "Total", Type: FieldNumeric, Required: true},
		{Name: "Date", Type: FieldDate},
		{Name: "Time", Type: FieldText},
		{Name: "Payment", Type: FieldText},
		{Name: "cogs", Type: FieldNumeric},
		{Name: "gross_margin_pct", Type: FieldNumeric},
		{Name: "gross_income", Type: FieldNumeric},
		{Name: "Rating", Type: FieldNumeric},
	},
}

// Payments is the independently recorded payments extract.
var Payments = Table{
	Name: PaymentsTable,
	Key:  InvoiceKey,
	Fields: []FieldSpec{
		{Name: "Payment_ID", Type: FieldText},
		{Name: "Invoice_ID", Type: FieldText, Required: true},
		{Name: "Payment_date", Type: FieldDate},
		{Name: "Method", Type: FieldText},
		{Name: "Total", Type: FieldNumeric, Required: true},
	},
}

func init() {
	Register(Sales)
	Register(Payments)
}
