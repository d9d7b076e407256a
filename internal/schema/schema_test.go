package schema

import (
	"strings"
	"testing"
)

func TestLookup(t *testing.T) {
	for _, name := range []string{SalesTable, PaymentsTable} {
		tbl, ok := Lookup(name)
		if !ok {
			t.Fatalf("Lookup(%q) not found", name)
		}
		if tbl.Key != InvoiceKey {
			t.Errorf("%s key = %q, want %q", name, tbl.Key, InvoiceKey)
		}
	}

	if _, ok := Lookup("missing"); ok {
		t.Error("Lookup(missing) should fail")
	}
}

func TestNames(t *testing.T) {
	got := Names()
	if len(got) != 2 || got[0] != PaymentsTable || got[1] != SalesTable {
		t.Errorf("Names() = %v, want [payments sales]", got)
	}
}

func TestField_CaseInsensitive(t *testing.T) {
	f, ok := Sales.Field("unit_price")
	if !ok {
		t.Fatal("Field(unit_price) not found")
	}
	if f.Name != "Unit_price" || f.Type != FieldNumeric {
		t.Errorf("Field = %+v", f)
	}
}

func TestCreateSQL(t *testing.T) {
	ddl := Payments.CreateSQL()

	for _, want := range []string{
		`CREATE TABLE "payments"`,
		`"Invoice_ID" TEXT`,
		`"Total" NUMERIC`,
		`"Payment_date" DATE`,
	} {
		if !strings.Contains(ddl, want) {
			t.Errorf("CreateSQL() missing %q:\n%s", want, ddl)
		}
	}
}

func TestCreateSQLWith_DuckDB(t *testing.T) {
	ddl := Sales.CreateSQLWith(DuckDBType)

	for _, want := range []string{`"Unit_price" DOUBLE`, `"Quantity" BIGINT`, `"Branch" VARCHAR`} {
		if !strings.Contains(ddl, want) {
			t.Errorf("CreateSQLWith(DuckDBType) missing %q", want)
		}
	}
}

func TestRegister_DuplicatePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Register should panic on duplicate table")
		}
	}()
	Register(Table{Name: SalesTable})
}
