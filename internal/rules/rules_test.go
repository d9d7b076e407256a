package rules

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/salesqa/salesqa/internal/schema"
)

func TestDefault(t *testing.T) {
	rs := Default()

	assert.Equal(t, []string{"Quantity", "Rating", "Unit_price", "gross_margin_pct"}, rs.NumericColumns())
	assert.Equal(t, []string{"Branch", "Customer_type", "Gender", "Payment"}, rs.CategoricalColumns())
	assert.Equal(t, schema.Sales.Columns(), rs.MissingValueColumns())

	r, ok := rs.NumericRange("Rating")
	require.True(t, ok)
	assert.Equal(t, Range{Min: 0, Max: 10}, r)

	allowed, ok := rs.Allowed("Payment")
	require.True(t, ok)
	assert.Equal(t, []string{"Cash", "Credit card", "Ewallet"}, allowed)
}

func TestLookup_Unconfigured(t *testing.T) {
	rs := Default()

	_, ok := rs.NumericRange("City")
	assert.False(t, ok)
	_, ok = rs.Allowed("City")
	assert.False(t, ok)
}

func TestRange_Contains(t *testing.T) {
	r := Range{Min: 0, Max: 10}

	tests := []struct {
		v    float64
		want bool
	}{
		{0, true},
		{10, true},
		{5, true},
		{-0.01, false},
		{10.01, false},
	}
	for _, tt := range tests {
		if got := r.Contains(tt.v); got != tt.want {
			t.Errorf("Contains(%v) = %v, want %v", tt.v, got, tt.want)
		}
	}
}

func TestNew_CopiesInput(t *testing.T) {
	cfg := Config{
		NumericRanges:     map[string]Range{"Quantity": {Min: 1, Max: 5}},
		CategoricalValues: map[string][]string{"Gender": {"Male", "Female"}},
		MissingValues:     []string{"Invoice_ID"},
	}
	rs, err := New(cfg)
	require.NoError(t, err)

	cfg.NumericRanges["Quantity"] = Range{Min: 100, Max: 200}
	cfg.CategoricalValues["Gender"][0] = "changed"
	cfg.MissingValues[0] = "changed"

	r, _ := rs.NumericRange("Quantity")
	assert.Equal(t, Range{Min: 1, Max: 5}, r)
	allowed, _ := rs.Allowed("Gender")
	assert.Equal(t, []string{"Male", "Female"}, allowed)
	assert.Equal(t, []string{"Invoice_ID"}, rs.MissingValueColumns())

	// Accessors hand out copies too.
	allowed[0] = "mutated"
	again, _ := rs.Allowed("Gender")
	assert.Equal(t, "Male", again[0])
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr int
	}{
		{name: "empty", cfg: Config{}, wantErr: 0},
		{name: "min equals max", cfg: Config{NumericRanges: map[string]Range{"Rating": {Min: 5, Max: 5}}}, wantErr: 0},
		{name: "inverted range", cfg: Config{NumericRanges: map[string]Range{"Rating": {Min: 10, Max: 0}}}, wantErr: 1},
		{name: "empty allow-list", cfg: Config{CategoricalValues: map[string][]string{"Gender": {}}}, wantErr: 1},
		{name: "duplicate missing column", cfg: Config{MissingValues: []string{"Total", "Total"}}, wantErr: 1},
		{
			name: "all problems reported",
			cfg: Config{
				NumericRanges:     map[string]Range{"Rating": {Min: 10, Max: 0}, "Quantity": {Min: 2, Max: 1}},
				CategoricalValues: map[string][]string{"Gender": nil},
			},
			wantErr: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.cfg)
			if tt.wantErr == 0 {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)

			var joined interface{ Unwrap() []error }
			require.True(t, errors.As(err, &joined))
			assert.Len(t, joined.Unwrap(), tt.wantErr)

			var ve ValidationError
			assert.True(t, errors.As(err, &ve))
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	content := `numeric_ranges:
  Quantity: {min: 1, max: 10}
categorical_values:
  Branch: [A, B]
missing_values: [Invoice_ID, Total]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	rs, err := LoadFile(path)
	require.NoError(t, err)

	r, ok := rs.NumericRange("Quantity")
	require.True(t, ok)
	assert.Equal(t, Range{Min: 1, Max: 10}, r)
	assert.Equal(t, []string{"Branch"}, rs.CategoricalColumns())
	assert.Equal(t, []string{"Invoice_ID", "Total"}, rs.MissingValueColumns())
}

func TestLoadFile_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("numeric_ranges:\n  Rating: {min: 10, max: 1}\n"), 0o644))
	_, err = LoadFile(bad)
	var ve ValidationError
	assert.True(t, errors.As(err, &ve))
	assert.Equal(t, "Rating", ve.Column)
}

func TestConfig_RoundTrip(t *testing.T) {
	rs := Default()
	again, err := New(rs.Config())
	require.NoError(t, err)
	assert.Equal(t, rs.Config(), again.Config())
}
