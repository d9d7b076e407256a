package web

// errors.go maps internal errors to user-facing messages with support codes.
//
// Codes:
//
//	RUN001  - another run holds the limiter (429)
//	RUN002  - run id not in history (404)
//	LOAD001 - CSV load or table reset failed (500)
//	CFG001  - sales table missing or checks misconfigured (500)
//	DB001   - database unreachable or locked (503)
//	REQ001  - request cancelled or timed out (504)
//	ERR000  - anything else (500)
//
// Sentinel errors are matched with errors.Is before falling back to
// case-insensitive substring patterns on the error text. The first match
// wins.

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/salesqa/salesqa/internal/logging"
	"github.com/salesqa/salesqa/internal/pipeline"
	"github.com/salesqa/salesqa/internal/quality"
)

var errRunNotFound = errors.New("run not found")

// UserMessage is the client-facing description of an error.
type UserMessage struct {
	Message string
	Action  string
	Code    string
}

// ErrorResponse is the JSON body of an API error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

type errorRule struct {
	sentinel error
	patterns []string
	status   int
	msg      UserMessage
}

var errorRules = []errorRule{
	{
		sentinel: pipeline.ErrTooManyRuns,
		status:   http.StatusTooManyRequests,
		msg: UserMessage{
			Message: "Another pipeline run is in progress",
			Action:  "Wait for it to finish and try again",
			Code:    "RUN001",
		},
	},
	{
		sentinel: errRunNotFound,
		status:   http.StatusNotFound,
		msg: UserMessage{
			Message: "Run not found",
			Action:  "Only recent runs are kept; list runs to see which are available",
			Code:    "RUN002",
		},
	},
	{
		sentinel: pipeline.ErrLoad,
		status:   http.StatusInternalServerError,
		msg: UserMessage{
			Message: "Loading the CSV data failed",
			Action:  "Check that SALES_CSV and PAYMENTS_CSV exist and have the expected columns",
			Code:    "LOAD001",
		},
	},
	{
		sentinel: quality.ErrSetup,
		status:   http.StatusInternalServerError,
		msg: UserMessage{
			Message: "The sales table could not be inspected",
			Action:  "Load the data first or enable RESET_ON_START",
			Code:    "CFG001",
		},
	},
	{
		patterns: []string{"connection refused", "could not set lock", "database is locked", "failed to connect", "no such host"},
		status:   http.StatusServiceUnavailable,
		msg: UserMessage{
			Message: "Unable to open the database",
			Action:  "Please try again in a few moments",
			Code:    "DB001",
		},
	},
	{
		sentinel: context.DeadlineExceeded,
		patterns: []string{"context canceled"},
		status:   http.StatusGatewayTimeout,
		msg: UserMessage{
			Message: "The request was cancelled or timed out",
			Action:  "Please try again",
			Code:    "REQ001",
		},
	},
}

var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or check the server logs",
	Code:    "ERR000",
}

// MapError returns the user message and HTTP status for err.
func MapError(err error) (UserMessage, int) {
	if err == nil {
		return UserMessage{}, http.StatusOK
	}
	text := strings.ToLower(err.Error())
	for _, rule := range errorRules {
		if rule.sentinel != nil && errors.Is(err, rule.sentinel) {
			return rule.msg, rule.status
		}
		for _, p := range rule.patterns {
			if strings.Contains(text, p) {
				return rule.msg, rule.status
			}
		}
	}
	return defaultMessage, http.StatusInternalServerError
}

// respondError logs err with request context and writes a JSON error.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	msg, status := MapError(err)

	logging.FromContext(r.Context()).Error("request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"code", msg.Code,
		"error", err,
	)

	if status == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", "30")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   msg.Message,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
	})
}

// writeJSON encodes v as the response body.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		logging.FromContext(r.Context()).Error("json encode", "error", err)
	}
}
