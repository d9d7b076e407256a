package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/salesqa/salesqa/internal/correct"
	"github.com/salesqa/salesqa/internal/datasource"
	"github.com/salesqa/salesqa/internal/pipeline"
)

// RunSummary is the API view of a run without the full report.
type RunSummary struct {
	RunID         string                 `json:"run_id"`
	StartedAt     time.Time              `json:"started_at"`
	DurationMS    int64                  `json:"duration_ms"`
	Issues        int64                  `json:"issues"`
	Discrepancies int                    `json:"discrepancies"`
	Degraded      bool                   `json:"degraded"`
	Corrections   correct.Counts         `json:"corrections,omitempty"`
	Loaded        []datasource.LoadStats `json:"loaded,omitempty"`
	Outputs       []string               `json:"outputs"`
}

func summarize(res *pipeline.Result) RunSummary {
	return RunSummary{
		RunID:         res.RunID,
		StartedAt:     res.StartedAt,
		DurationMS:    res.Duration.Milliseconds(),
		Issues:        res.Report.IssueCount(),
		Discrepancies: res.Discrepancies.Count(),
		Degraded:      res.Report.Degraded(),
		Corrections:   res.Corrections,
		Loaded:        res.Loaded,
		Outputs:       res.Outputs,
	}
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status  string                 `json:"status"`
	Runs    pipeline.LimiterStatus `json:"runs"`
	NextRun *time.Time             `json:"next_run,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Runs: s.runner.Limiter().Status()}
	if sc := s.opts.Scheduler; sc != nil {
		if next := sc.Next(); !next.IsZero() {
			resp.NextRun = &next
		}
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// handleCreateRun runs the pipeline synchronously and returns its summary.
func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	res, err := s.runner.Run(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/runs/"+res.RunID)
	writeJSON(w, r, http.StatusCreated, summarize(res))
}

// handleListRuns lists kept runs, newest first. ?limit=N caps the list.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	results := s.runner.Store().List()
	if limit := parseIntParam(r, "limit", len(results)); limit < len(results) {
		results = results[:limit]
	}

	out := make([]RunSummary, len(results))
	for i, res := range results {
		out[i] = summarize(res)
	}
	writeJSON(w, r, http.StatusOK, out)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	res, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, r, http.StatusOK, summarize(res))
}

func (s *Server) handleRunReport(w http.ResponseWriter, r *http.Request) {
	res, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, r, http.StatusOK, res.Report)
}

func (s *Server) handleRunDiscrepancies(w http.ResponseWriter, r *http.Request) {
	res, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, r, http.StatusOK, res.Discrepancies)
}

func (s *Server) handleRules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, s.runner.Pipeline().Rules().Config())
}

// lookup resolves {runID}; "latest" names the most recent run.
func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*pipeline.Result, bool) {
	id := chi.URLParam(r, "runID")

	var (
		res *pipeline.Result
		ok  bool
	)
	if id == "latest" {
		res, ok = s.runner.Store().Latest()
	} else {
		res, ok = s.runner.Store().Get(id)
	}
	if !ok {
		respondError(w, r, errRunNotFound)
		return nil, false
	}
	return res, true
}

// parseIntParam parses a positive integer query parameter.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil || i < 1 {
		return defaultVal
	}
	return i
}
