package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/salesqa/salesqa/internal/metrics"
	"github.com/salesqa/salesqa/internal/pipeline"
	"github.com/salesqa/salesqa/internal/quality"
	"github.com/salesqa/salesqa/internal/reconcile"
	"github.com/salesqa/salesqa/internal/rules"
	"github.com/salesqa/salesqa/internal/schema"
	"github.com/salesqa/salesqa/internal/testutil"
)

func sampleResult(id string, started time.Time) *pipeline.Result {
	return &pipeline.Result{
		RunID:     id,
		StartedAt: started,
		Duration:  1500 * time.Millisecond,
		Report: &quality.Report{
			RunID:             id,
			GeneratedAt:       started,
			MissingValues:     quality.MissingValuesResult{"Gender": 1},
			NumericRanges:     quality.NumericRangeResult{},
			CategoricalValues: quality.CategoricalResult{"Gender": {"<male>"}},
			ConsistencyChecks: quality.ConsistencyResult{},
		},
		Discrepancies: &reconcile.Discrepancies{
			DuplicatePayments: []reconcile.DuplicatePayment{{InvoiceID: "INV7", PaymentCount: 2}},
			AmountMismatch:    []reconcile.Mismatch{},
		},
		Outputs: []string{},
	}
}

func newTestServer(t *testing.T, opts Options, results ...*pipeline.Result) (*Server, *pipeline.Runner) {
	t.Helper()
	p := pipeline.New(pipeline.Options{}, pipeline.DuckDBOpener{}, rules.Default())
	runner := pipeline.NewRunner(p, pipeline.NewRunLimiter(1, 10*time.Millisecond), pipeline.NewStore(5))
	for _, res := range results {
		runner.Store().Add(res)
	}
	return NewServer(runner, opts), runner
}

func do(t *testing.T, s *Server, method, path string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, Options{})

	rec := do(t, s, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	var body HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, 1, body.Runs.Available)
	assert.Nil(t, body.NextRun)
}

func TestListRuns(t *testing.T) {
	base := time.Date(2024, 3, 9, 14, 0, 0, 0, time.UTC)
	s, _ := newTestServer(t, Options{},
		sampleResult("run-1", base),
		sampleResult("run-2", base.Add(time.Hour)),
	)

	rec := do(t, s, http.MethodGet, "/api/runs", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var runs []RunSummary
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&runs))
	require.Len(t, runs, 2)
	assert.Equal(t, "run-2", runs[0].RunID)
	assert.Equal(t, int64(2), runs[0].Issues)
	assert.Equal(t, 1, runs[0].Discrepancies)
	assert.Equal(t, int64(1500), runs[0].DurationMS)

	rec = do(t, s, http.MethodGet, "/api/runs?limit=1", nil)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&runs))
	assert.Len(t, runs, 1)
}

func TestGetRun(t *testing.T) {
	base := time.Date(2024, 3, 9, 14, 0, 0, 0, time.UTC)
	s, _ := newTestServer(t, Options{}, sampleResult("run-1", base))

	tests := []struct {
		name     string
		path     string
		wantCode int
		contains string
	}{
		{"summary", "/api/runs/run-1", http.StatusOK, `"run_id": "run-1"`},
		{"latest", "/api/runs/latest", http.StatusOK, `"run_id": "run-1"`},
		{"report", "/api/runs/run-1/report", http.StatusOK, `"missing_values"`},
		{"discrepancies", "/api/runs/run-1/discrepancies", http.StatusOK, `"INV7"`},
		{"unknown", "/api/runs/nope", http.StatusNotFound, `"RUN002"`},
		{"unknown report", "/api/runs/nope/report", http.StatusNotFound, `"RUN002"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, http.MethodGet, tt.path, nil)
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.contains)
		})
	}
}

func TestRules(t *testing.T) {
	s, _ := newTestServer(t, Options{})

	rec := do(t, s, http.MethodGet, "/api/rules", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var cfg rules.Config
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&cfg))
	assert.Contains(t, cfg.NumericRanges, "Quantity")
	assert.Contains(t, cfg.CategoricalValues, "Gender")
}

func TestCreateRun_Busy(t *testing.T) {
	s, runner := newTestServer(t, Options{})
	require.True(t, runner.Limiter().TryAcquire())
	defer runner.Limiter().Release()

	rec := do(t, s, http.MethodPost, "/api/runs", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	var body ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "RUN001", body.Code)
}

func TestCreateRun_RequiresAPIKey(t *testing.T) {
	s, runner := newTestServer(t, Options{APIKeys: []string{"secret"}})
	require.True(t, runner.Limiter().TryAcquire())
	defer runner.Limiter().Release()

	assert.Equal(t, http.StatusUnauthorized, do(t, s, http.MethodPost, "/api/runs", nil).Code)
	assert.Equal(t, http.StatusForbidden, do(t, s, http.MethodPost, "/api/runs", map[string]string{"X-API-Key": "wrong"}).Code)
	// A valid key reaches the runner, which is busy.
	assert.Equal(t, http.StatusTooManyRequests, do(t, s, http.MethodPost, "/api/runs", map[string]string{"X-API-Key": "secret"}).Code)
	// Reads stay open.
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/api/runs", nil).Code)
}

func TestCreateRun_EndToEnd(t *testing.T) {
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
	db := filepath.Join(dir, "qa.duckdb")

	m := metrics.New()
	opts := pipeline.DefaultOptions()
	opts.SalesCSV, opts.PaymentsCSV = salesCSV, paymentsCSV
	opts.Reset = true
	opts.Metrics = m
	p := pipeline.New(opts, pipeline.DuckDBOpener{SalesPath: db, PaymentsPath: db}, rules.Default())
	runner := pipeline.NewRunner(p, nil, nil)
	s := NewServer(runner, Options{Metrics: m})

	rec := do(t, s, http.MethodPost, "/api/runs", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var sum RunSummary
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&sum))
	assert.Equal(t, "/api/runs/"+sum.RunID, rec.Header().Get("Location"))
	assert.Equal(t, 1, sum.Discrepancies)
	assert.False(t, sum.Degraded)

	rec = do(t, s, http.MethodGet, "/api/runs/"+sum.RunID+"/discrepancies", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var disc reconcile.Discrepancies
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&disc))
	require.Len(t, disc.DuplicatePayments, 1)
	assert.Equal(t, "INV2", disc.DuplicatePayments[0].InvoiceID)

	rec = do(t, s, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `salesqa_runs_total{outcome="success"} 1`)

	rec = do(t, s, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), sum.RunID)
	assert.Contains(t, rec.Body.String(), "Payment Discrepancy Report")
}

func TestDashboard(t *testing.T) {
	s, _ := newTestServer(t, Options{})
	rec := do(t, s, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "No runs yet")

	base := time.Date(2024, 3, 9, 14, 0, 0, 0, time.UTC)
	s, _ = newTestServer(t, Options{}, sampleResult("run-1", base))
	rec = do(t, s, http.MethodGet, "/", nil)
	body := rec.Body.String()
	assert.True(t, strings.HasPrefix(body, "<!DOCTYPE html>"))
	assert.Contains(t, body, "Recent Runs")
	assert.Contains(t, body, "&lt;male&gt;")
	assert.NotContains(t, body, "<male>")
}

func TestMetricsDisabled(t *testing.T) {
	s, _ := newTestServer(t, Options{})
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/metrics", nil).Code)
}

func TestShutdownWithoutStart(t *testing.T) {
	s, _ := newTestServer(t, Options{})
	assert.NoError(t, s.Shutdown(context.Background()))
}
