package web

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/a-h/templ"

	"github.com/salesqa/salesqa/internal/pipeline"
	"github.com/salesqa/salesqa/internal/report"
)

// handleDashboard renders the run history and the latest run's report.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	page := report.Layout("Sales Data Quality", dashboard(s.runner.Store().List()))
	if err := page.Render(r.Context(), w); err != nil {
		respondError(w, r, err)
	}
}

func dashboard(runs []*pipeline.Result) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if len(runs) == 0 {
			_, err := io.WriteString(w, `<h1>Sales Data Quality</h1><p class="muted">No runs yet. POST /api/runs to start one.</p>`)
			return err
		}

		if err := runHistory(runs).Render(ctx, w); err != nil {
			return err
		}
		latest := runs[0]
		return report.Sections(report.Output{
			Timestamp:     latest.StartedAt,
			Report:        latest.Report,
			Discrepancies: latest.Discrepancies,
		}).Render(ctx, w)
	})
}

func runHistory(runs []*pipeline.Result) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		var err error
		write := func(s string) {
			if err == nil {
				_, err = io.WriteString(w, s)
			}
		}

		write(`<h1>Recent Runs</h1><table><thead><tr>`)
		for _, col := range []string{"Run", "Started", "Duration", "Issues", "Discrepancies", "Status"} {
			write("<th>" + col + "</th>")
		}
		write("</tr></thead><tbody>")
		for _, res := range runs {
			sum := summarize(res)
			status := "ok"
			if sum.Degraded {
				status = "degraded"
			}
			write("<tr>")
			for _, cell := range []string{
				sum.RunID,
				sum.StartedAt.Format("2006-01-02 15:04:05"),
				fmt.Sprintf("%dms", sum.DurationMS),
				fmt.Sprint(sum.Issues),
				fmt.Sprint(sum.Discrepancies),
				status,
			} {
				write("<td>" + templ.EscapeString(cell) + "</td>")
			}
			write("</tr>")
		}
		write("</tbody></table>")
		return err
	})
}
