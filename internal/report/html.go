package report

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/a-h/templ"
)

// HTMLSink writes a single self-contained HTML summary of the run.
type HTMLSink struct {
	Dir string
}

func (s *HTMLSink) Format() string { return FormatHTML }

func (s *HTMLSink) Write(ctx context.Context, out Output) ([]string, error) {
	if err := ensureDir(s.Dir); err != nil {
		return nil, err
	}

	p := filepath.Join(s.Dir, fmt.Sprintf("quality_report_%s.html", out.Stamp()))
	f, err := os.Create(p)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", filepath.Base(p), err)
	}
	defer f.Close()

	if err := Page(out).Render(ctx, f); err != nil {
		return nil, fmt.Errorf("render %s: %w", filepath.Base(p), err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("write %s: %w", filepath.Base(p), err)
	}
	return []string{p}, nil
}

const pageStyle = `body{font-family:system-ui,sans-serif;margin:2rem;color:#222}
table{border-collapse:collapse;margin:.5rem 0 1.5rem}
th,td{border:1px solid #ccc;padding:.3rem .6rem;text-align:left}
th{background:#f0f0f0}
.degraded{color:#b00}
.muted{color:#777}`

// Page renders a complete HTML document for out.
func Page(out Output) templ.Component {
	return Layout("Data Quality Report", Sections(out))
}

// Layout wraps body in a styled HTML document.
func Layout(title string, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		h := &htmlWriter{w: w}
		h.raw(`<!DOCTYPE html><html lang="en"><head><meta charset="utf-8">`)
		h.tag("title", title)
		h.raw("<style>" + pageStyle + "</style></head><body>")
		if h.err != nil {
			return h.err
		}
		if err := body.Render(ctx, w); err != nil {
			return err
		}
		h.raw("</body></html>")
		return h.err
	})
}

// Sections renders the report and discrepancy sections without the
// surrounding document, for embedding in other pages.
func Sections(out Output) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		h := &htmlWriter{w: w}

		if r := out.Report; r != nil {
			h.tag("h1", "Data Quality Report")
			h.raw(`<p class="muted">Generated on: `)
			h.text(r.GeneratedAt.Format("2006-01-02 15:04:05"))
			if r.RunID != "" {
				h.text(" (run " + r.RunID + ")")
			}
			h.raw("</p>")
			if r.Degraded() {
				h.raw(`<p class="degraded">`)
				h.text(strconv.Itoa(len(r.Failures)) + " check(s) could not run; their results are defaults.")
				h.raw("</p>")
			}
			for _, t := range QualityTables(r) {
				h.table(t)
			}
		}

		if d := out.Discrepancies; d != nil {
			h.tag("h1", "Payment Discrepancy Report")
			for _, t := range DiscrepancyTables(d) {
				h.table(t)
			}
		}
		return h.err
	})
}

// htmlWriter writes escaped markup and keeps the first error.
type htmlWriter struct {
	w   io.Writer
	err error
}

func (h *htmlWriter) raw(s string) {
	if h.err != nil {
		return
	}
	_, h.err = io.WriteString(h.w, s)
}

func (h *htmlWriter) text(s string) {
	h.raw(templ.EscapeString(s))
}

func (h *htmlWriter) tag(name, content string) {
	h.raw("<" + name + ">")
	h.text(content)
	h.raw("</" + name + ">")
}

func (h *htmlWriter) table(t Table) {
	if t.Optional && len(t.Rows) == 0 {
		return
	}
	h.tag("h2", t.Title)
	if len(t.Rows) == 0 {
		h.raw(`<p class="muted">`)
		h.text(t.Empty)
		h.raw("</p>")
		return
	}

	h.raw("<table><thead><tr>")
	for _, col := range t.Header {
		h.tag("th", col)
	}
	h.raw("</tr></thead><tbody>")
	for _, row := range t.Rows {
		h.raw("<tr>")
		for _, cell := range row {
			h.tag("td", cellText(cell))
		}
		h.raw("</tr>")
	}
	h.raw("</tbody></table>")
}
