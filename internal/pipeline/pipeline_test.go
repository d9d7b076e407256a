package pipeline

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/salesqa/salesqa/internal/correct"
	"github.com/salesqa/salesqa/internal/datasource"
	"github.com/salesqa/salesqa/internal/metrics"
	"github.com/salesqa/salesqa/internal/quality"
	"github.com/salesqa/salesqa/internal/report"
	"github.com/salesqa/salesqa/internal/rules"
	"github.com/salesqa/salesqa/internal/schema"
	"github.com/salesqa/salesqa/internal/testutil"
)

type fixture struct {
	dir    string
	opener DuckDBOpener
	opts   Options
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	dir := t.TempDir()

	salesCSV := testutil.WriteCSV(t, dir, "sales.csv", schema.Sales,
		testutil.ValidSale("INV1", testutil.Row{"Unit_price": "10", "Quantity": "2", "Total": "21.5"}),
		testutil.ValidSale("INV2", testutil.Row{"Gender": "male"}),
		testutil.ValidSale("INV3", nil),
	)
	paymentsCSV := testutil.WriteCSV(t, dir, "payments.csv", schema.Payments,
		testutil.Payment("P1", "INV1", "21.5"),
		testutil.Payment("P2", "INV2", "548.9715"),
		testutil.Payment("P3", "INV3", "548.9715"),
		testutil.Payment("P4", "INV3", "548.9715"),
	)

	opts := DefaultOptions()
	opts.SalesCSV, opts.PaymentsCSV = salesCSV, paymentsCSV
	opts.Reset, opts.Correct = true, true

	return fixture{
		dir: dir,
		opener: DuckDBOpener{
			SalesPath:    filepath.Join(dir, "db", "sales.duckdb"),
			PaymentsPath: filepath.Join(dir, "db", "payments.duckdb"),
		},
		opts: opts,
	}
}

func TestRun_EndToEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sinks, err := report.New(filepath.Join(f.dir, "reports"), []string{report.FormatJSON})
	require.NoError(t, err)

	res, err := New(f.opts, f.opener, rules.Default(), sinks...).Run(ctx)
	require.NoError(t, err)

	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, res.RunID, res.Report.RunID)
	require.Len(t, res.Loaded, 2)
	assert.Equal(t, int64(3), res.Loaded[0].Rows)
	assert.Equal(t, int64(4), res.Loaded[1].Rows)

	assert.Equal(t, []string{"male"}, res.Report.CategoricalValues["Gender"])
	total := res.Report.ConsistencyChecks[quality.CheckTotalCalculation]
	require.Equal(t, 1, total.Len())
	assert.Equal(t, "INV1", total.Rows[0]["Invoice_ID"])
	assert.False(t, res.Report.Degraded())

	require.Len(t, res.Discrepancies.DuplicatePayments, 1)
	assert.Equal(t, "INV3", res.Discrepancies.DuplicatePayments[0].InvoiceID)
	assert.Equal(t, int64(2), res.Discrepancies.DuplicatePayments[0].PaymentCount)
	assert.Empty(t, res.Discrepancies.AmountMismatch)

	assert.Equal(t, correct.Counts{
		correct.TrimWhitespace:      0,
		correct.FixCaseCustomerType: 0,
		correct.FixCaseGender:       1,
	}, res.Corrections)
	assert.Len(t, res.Outputs, 2)

	// The next run sees the corrected data and has nothing left to fix.
	f.opts.Reset = false
	again, err := New(f.opts, f.opener, rules.Default()).Run(ctx)
	require.NoError(t, err)
	assert.Empty(t, again.Report.CategoricalValues["Gender"])
	for name, n := range again.Corrections {
		assert.Zero(t, n, name)
	}
	assert.Empty(t, again.Outputs)
}

func TestRun_LoadFailure(t *testing.T) {
	f := newFixture(t)
	f.opts.SalesCSV = filepath.Join(f.dir, "missing.csv")

	_, err := New(f.opts, f.opener, rules.Default()).Run(context.Background())
	assert.ErrorIs(t, err, ErrLoad)
}

func TestRun_MissingSalesTable(t *testing.T) {
	path := testutil.LoadDuckDB(t, map[string][]testutil.Row{
		schema.PaymentsTable: {testutil.Payment("P1", "INV1", "10")},
	})
	opener := DuckDBOpener{SalesPath: path, PaymentsPath: path}

	_, err := New(Options{}, opener, rules.Default()).Run(context.Background())
	assert.ErrorIs(t, err, quality.ErrSetup)
}

type failingSink struct{}

func (failingSink) Format() string { return "broken" }

func (failingSink) Write(context.Context, report.Output) ([]string, error) {
	return nil, errors.New("disk full")
}

func TestRun_SinkFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	f.opts.Correct = false

	res, err := New(f.opts, f.opener, rules.Default(), failingSink{}).Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Outputs)
	assert.Nil(t, res.Corrections)
}

// recordingOpener logs when handles are opened and closed.
type recordingOpener struct {
	inner  Opener
	events []string
}

type closeHook struct {
	datasource.Source
	close func() error
}

func (c closeHook) Close() error { return c.close() }

type writableHook struct {
	datasource.WritableSource
	onClose func()
}

func (w writableHook) Close() error {
	w.onClose()
	return w.WritableSource.Close()
}

func (o *recordingOpener) ReadOnly(ctx context.Context) (*Sources, error) {
	srcs, err := o.inner.ReadOnly(ctx)
	if err != nil {
		return nil, err
	}
	o.events = append(o.events, "open read-only")
	orig := &Sources{closers: srcs.closers}
	srcs.closers = []datasource.Source{closeHook{Source: srcs.Sales, close: func() error {
		o.events = append(o.events, "close read-only")
		return orig.Close()
	}}}
	return srcs, nil
}

func (o *recordingOpener) Writable(ctx context.Context, table string) (datasource.WritableSource, error) {
	ws, err := o.inner.Writable(ctx, table)
	if err != nil {
		return nil, err
	}
	o.events = append(o.events, "open writable "+table)
	return writableHook{WritableSource: ws, onClose: func() {
		o.events = append(o.events, "close writable "+table)
	}}, nil
}

func TestRun_PhaseOrder(t *testing.T) {
	f := newFixture(t)
	opener := &recordingOpener{inner: f.opener}

	_, err := New(f.opts, opener, rules.Default()).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{
		"open writable sales",
		"close writable sales",
		"open writable payments",
		"close writable payments",
		"open read-only",
		"close read-only",
		"open writable sales",
		"close writable sales",
	}, opener.events)
}

func TestRunner_RejectsWhenBusy(t *testing.T) {
	f := newFixture(t)
	m := metrics.New()
	f.opts.Metrics = m

	limiter := NewRunLimiter(1, 20*time.Millisecond)
	runner := NewRunner(New(f.opts, f.opener, rules.Default()), limiter, NewStore(5))

	require.True(t, limiter.TryAcquire())
	_, err := runner.Run(context.Background())
	assert.ErrorIs(t, err, ErrTooManyRuns)
	limiter.Release()

	res, err := runner.Run(context.Background())
	require.NoError(t, err)
	latest, ok := runner.Store().Latest()
	require.True(t, ok)
	assert.Equal(t, res.RunID, latest.RunID)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `salesqa_runs_total{outcome="rejected"} 1`)
	assert.Contains(t, string(body), `salesqa_runs_total{outcome="success"} 1`)
	assert.Contains(t, string(body), `salesqa_corrected_rows_total{correction="fix_case_gender"} 1`)
}

func TestCheckAndReconcile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := New(f.opts, f.opener, rules.Default())

	_, err := p.Load(ctx)
	require.NoError(t, err)

	rep, err := p.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"male"}, rep.CategoricalValues["Gender"])

	disc, err := p.Reconcile(ctx)
	require.NoError(t, err)
	require.Len(t, disc.DuplicatePayments, 1)
	assert.Equal(t, "INV3", disc.DuplicatePayments[0].InvoiceID)
}

func TestReconcile_ReturnsErrors(t *testing.T) {
	path := testutil.LoadDuckDB(t, map[string][]testutil.Row{
		schema.SalesTable: {testutil.ValidSale("INV1", nil)},
	})
	p := New(Options{}, DuckDBOpener{SalesPath: path, PaymentsPath: path}, rules.Default())

	_, err := p.Reconcile(context.Background())
	assert.Error(t, err)
}

func TestOptions_ZeroRatesAreKept(t *testing.T) {
	path := testutil.LoadDuckDB(t, map[string][]testutil.Row{
		schema.SalesTable:    {testutil.ValidSale("INV1", testutil.Row{"Total": "10"})},
		schema.PaymentsTable: {testutil.Payment("P1", "INV1", "10.005")},
	})
	opener := DuckDBOpener{SalesPath: path, PaymentsPath: path}
	ctx := context.Background()

	disc, err := New(Options{Threshold: 0}, opener, rules.Default()).Reconcile(ctx)
	require.NoError(t, err)
	require.Len(t, disc.AmountMismatch, 1)
	assert.InDelta(t, -0.005, disc.AmountMismatch[0].Difference, 1e-9)

	disc, err = New(DefaultOptions(), opener, rules.Default()).Reconcile(ctx)
	require.NoError(t, err)
	assert.Empty(t, disc.AmountMismatch)

	query := New(Options{}, opener, rules.Default()).Engine(nil).ConsistencyChecks()[0].Query
	if !strings.Contains(query, "(1 + 0)") {
		t.Errorf("total calculation = %s, want zero tax rate", query)
	}
}

func TestRunner_ConcurrentRunsTakeTurns(t *testing.T) {
	f := newFixture(t)
	p := New(f.opts, f.opener, rules.Default())
	runner := NewRunner(p, NewRunLimiter(4, time.Minute), NewStore(10))

	const runs = 6
	var wg sync.WaitGroup
	errs := make(chan error, runs)
	for i := 0; i < runs; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := runner.Run(context.Background())
			if err == nil && res.Report.Degraded() {
				err = errors.New("degraded report")
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Len(t, runner.Store().List(), runs)
}
