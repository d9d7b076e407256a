// Package schema declares the column layout of the sales and payments tables.
//
// Registered tables are created from these specs and their raw CSV cells are
// converted by field type on load. Unregistered tables fall back to the
// backend's own type inference.
package schema

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// FieldType represents the stored data type of a column.
type FieldType int

const (
	FieldText FieldType = iota
	FieldNumeric
	FieldInteger
	FieldDate
)

// FieldSpec describes a single column.
type FieldSpec struct {
	Name     string    // Column name, identical in the CSV header and the table
	Type     FieldType // Stored type
	Required bool      // Column must exist in the CSV header
}

// Table describes one logical table.
type Table struct {
	Name   string
	Key    string // Invoice key column shared by sales and payments
	Fields []FieldSpec
}

// Columns returns the column names in declaration order.
func (t Table) Columns() []string {
	cols := make([]string, len(t.Fields))
	for i, f := range t.Fields {
		cols[i] = f.Name
	}
	return cols
}

// Field returns the spec for a column, matched case-insensitively.
func (t Table) Field(name string) (FieldSpec, bool) {
	for _, f := range t.Fields {
		if strings.EqualFold(f.Name, name) {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// CreateSQL returns a PostgreSQL CREATE TABLE statement for the table.
func (t Table) CreateSQL() string {
	return t.CreateSQLWith(PostgresType)
}

// CreateSQLWith returns a CREATE TABLE statement using typeName to map
// field types to column types.
func (t Table) CreateSQLWith(typeName func(FieldType) string) string {
	defs := make([]string, len(t.Fields))
	for i, f := range t.Fields {
		defs[i] = fmt.Sprintf("%s %s", quote(f.Name), typeName(f.Type))
	}
	return fmt.Sprintf("CREATE TABLE %s (\n\t%s\n)", quote(t.Name), strings.Join(defs, ",\n\t"))
}

// PostgresType maps a field type to a PostgreSQL column type.
func PostgresType(ft FieldType) string {
	switch ft {
	case FieldNumeric:
		return "NUMERIC"
	case FieldInteger:
		return "BIGINT"
	case FieldDate:
		return "DATE"
	default:
		return "TEXT"
	}
}

// DuckDBType maps a field type to a DuckDB column type. DuckDB's bare
// NUMERIC is DECIMAL(18,3), which would round four-place tax amounts, so
// numeric fields are stored as DOUBLE.
func DuckDBType(ft FieldType) string {
	switch ft {
	case FieldNumeric:
		return "DOUBLE"
	case FieldInteger:
		return "BIGINT"
	case FieldDate:
		return "DATE"
	default:
		return "VARCHAR"
	}
}

func quote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

var (
	registry   = make(map[string]Table)
	registryMu sync.RWMutex
)

// Register adds a table to the registry.
// Panics if a table with the same name is already registered.
func Register(t Table) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[t.Name]; exists {
		panic(fmt.Sprintf("table already registered: %s", t.Name))
	}
	registry[t.Name] = t
}

// Lookup returns a registered table by name.
func Lookup(name string) (Table, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	t, ok := registry[name]
	return t, ok
}

// Names returns all registered table names, sorted.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
