package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/salesqa/salesqa/internal/schema"
	"github.com/salesqa/salesqa/internal/testutil"
)

// setEnv points the configuration at fresh CSV fixtures and a temp database.
func setEnv(t *testing.T) string {
	t.Helper()
	color.NoColor = true
	dir := t.TempDir()

	salesCSV := testutil.WriteCSV(t, dir, "sales.csv", schema.Sales,
		testutil.ValidSale("INV1", testutil.Row{"Gender": "male"}),
		testutil.ValidSale("INV2", nil),
	)
	paymentsCSV := testutil.WriteCSV(t, dir, "payments.csv", schema.Payments,
		testutil.Payment("P1", "INV1", "548.9715"),
		testutil.Payment("P2", "INV2", "548.9715"),
		testutil.Payment("P3", "INV2", "548.9715"),
	)

	for _, name := range []string{
		"DB_DRIVER", "DRIVER", "DATABASE_URL", "DB_URL", "RULES_FILE", "RESET_ON_START",
		"AUTO_CORRECT", "SCHEDULE_CRON", "LOG_LEVEL", "LOG_FORMAT", "API_KEYS", "TRUSTED_PROXIES",
		"CHECK_WORKERS", "MISMATCH_THRESHOLD", "REPORT_UNMATCHED",
	} {
		t.Setenv(name, "")
	}
	t.Setenv("SALES_CSV", salesCSV)
	t.Setenv("PAYMENTS_CSV", paymentsCSV)
	t.Setenv("SALES_DB_PATH", filepath.Join(dir, "db", "sales.duckdb"))
	t.Setenv("PAYMENTS_DB_PATH", filepath.Join(dir, "db", "payments.duckdb"))
	t.Setenv("REPORT_DIR", filepath.Join(dir, "reports"))
	t.Setenv("REPORT_FORMATS", "json")
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	err := cmd.Execute()
	return out.String(), err
}

func TestRun(t *testing.T) {
	setEnv(t)

	out, err := execute(t, "run", "--correct=false")
	require.NoError(t, err)

	assert.Contains(t, out, "Run ")
	assert.Contains(t, out, "Loaded sales:   2 rows")
	assert.Contains(t, out, "Invalid values: 1")
	assert.Contains(t, out, "Duplicate pay:  1")
	assert.Contains(t, out, "quality_report_")
	assert.Contains(t, out, "All checks ran")
	assert.NotContains(t, out, "fix_case_gender")
}

func TestRun_FormatAndCorrectFlags(t *testing.T) {
	setEnv(t)

	out, err := execute(t, "run", "--format", "html")
	require.NoError(t, err)
	assert.Contains(t, out, ".html")
	assert.NotContains(t, out, ".json")
	assert.Contains(t, out, "fix_case_gender:1 rows")
}

func TestCheck(t *testing.T) {
	setEnv(t)

	out, err := execute(t, "check")
	require.NoError(t, err)

	var rep struct {
		CategoricalValues map[string][]string `json:"categorical_values"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	assert.Equal(t, []string{"male"}, rep.CategoricalValues["Gender"])
}

func TestReconcile(t *testing.T) {
	setEnv(t)

	out, err := execute(t, "reconcile")
	require.NoError(t, err)

	var disc struct {
		DuplicatePayments []struct {
			InvoiceID    string `json:"Invoice_ID"`
			PaymentCount int64  `json:"payment_count"`
		} `json:"duplicate_payments"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &disc))
	require.Len(t, disc.DuplicatePayments, 1)
	assert.Equal(t, "INV2", disc.DuplicatePayments[0].InvoiceID)
	assert.Equal(t, int64(2), disc.DuplicatePayments[0].PaymentCount)
}

func TestLoadThenCorrect(t *testing.T) {
	setEnv(t)

	out, err := execute(t, "load")
	require.NoError(t, err)
	assert.Contains(t, out, "loaded sales")
	assert.Contains(t, out, "3 rows")

	out, err = execute(t, "correct")
	require.NoError(t, err)
	var counts map[string]int64
	require.NoError(t, json.Unmarshal([]byte(out), &counts))
	assert.Equal(t, int64(1), counts["fix_case_gender"])
	assert.Equal(t, int64(0), counts["trim_whitespace"])

	// Without a reset the corrected table is checked as is.
	out, err = execute(t, "check", "--reset=false")
	require.NoError(t, err)
	assert.False(t, strings.Contains(out, `"male"`), out)
}

func TestCorrect_NoTable(t *testing.T) {
	setEnv(t)

	_, err := execute(t, "correct")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corrections failed")
}

func TestInvalidOverrides(t *testing.T) {
	setEnv(t)

	_, err := execute(t, "check", "--log-level", "verbose")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LOG_LEVEL")

	_, err = execute(t, "run", "--format", "pdf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REPORT_FORMATS")

	_, err = execute(t, "check", "--rules", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
