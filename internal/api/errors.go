package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/yourorg/doccontrol/internal/lifecycle"
	"github.com/yourorg/doccontrol/internal/report"
)

// ErrorResponse is the JSON body of every non-2xx response.
type ErrorResponse struct {
	Code              string                          `json:"code"`
	Message           string                          `json:"message"`
	CorrID            string                          `json:"corrId"`
	Retryable         bool                            `json:"retryable"`
	Reason            string                          `json:"reason,omitempty"`
	JobID             string                          `json:"jobId,omitempty"`
	Errors            []lifecycle.ValidationErrorItem `json:"errors,omitempty"`
	RetryAfterSeconds int                             `json:"retryAfterSeconds,omitempty"`
}

// writeError maps engine and queue errors onto status codes.
func (s Service) writeError(w http.ResponseWriter, r *http.Request, err error) {
	corrID := CorrelationID(r.Context())
	var (
		ve       lifecycle.ValidationError
		pe       lifecycle.PreconditionErr
		conflict report.ConflictErr
		full     report.QueueFullErr
	)
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, corrID, ErrorResponse{
			Code: "VALIDATION_ERROR", Message: "request validation failed", CorrID: corrID, Errors: ve.Errors,
		}, nil)
	case errors.As(err, &pe):
		writeJSON(w, http.StatusConflict, corrID, ErrorResponse{
			Code: "PRECONDITION_FAILED", Message: pe.Message, CorrID: corrID, Reason: string(pe.Reason),
		}, nil)
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, corrID, ErrorResponse{
			Code: "CONFLICT", Message: conflictMessage(conflict), CorrID: corrID, Reason: conflict.Reason, JobID: conflict.JobID,
		}, nil)
	case errors.As(err, &full):
		writeJSON(w, http.StatusTooManyRequests, corrID, ErrorResponse{
			Code:              "RATE_LIMITED",
			Message:           "export queue is full",
			CorrID:            corrID,
			Retryable:         true,
			RetryAfterSeconds: toRetrySeconds(full.RetryAfter),
		}, map[string]string{"Retry-After": formatRetryAfter(full.RetryAfter)})
	case errors.Is(err, lifecycle.ErrNotFound), errors.Is(err, report.ErrJobNotFound):
		writeJSON(w, http.StatusNotFound, corrID, ErrorResponse{
			Code: "NOT_FOUND", Message: err.Error(), CorrID: corrID,
		}, nil)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeJSON(w, http.StatusServiceUnavailable, corrID, ErrorResponse{
			Code: "REQUEST_CANCELED", Message: err.Error(), CorrID: corrID, Retryable: true,
		}, nil)
	default:
		CorrelationLogger(s.logger, corrID, "").Error("request failed", "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, corrID, ErrorResponse{
			Code: "INTERNAL_ERROR", Message: err.Error(), CorrID: corrID, Retryable: true,
		}, nil)
	}
}

func writeBadJSON(w http.ResponseWriter, r *http.Request, err error) {
	corrID := CorrelationID(r.Context())
	writeJSON(w, http.StatusBadRequest, corrID, ErrorResponse{
		Code:    "BAD_JSON",
		Message: "invalid JSON",
		CorrID:  corrID,
		Errors:  []lifecycle.ValidationErrorItem{{Code: "BAD_JSON", Path: "body", Message: err.Error()}},
	}, nil)
}

func writeJSON(w http.ResponseWriter, status int, corrID string, v any, extra map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	if corrID != "" {
		w.Header().Set("X-Correlation-Id", corrID)
	}
	for k, val := range extra {
		w.Header().Set(k, val)
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func conflictMessage(e report.ConflictErr) string {
	switch e.Reason {
	case report.ReasonDuplicateJob:
		return "an export for this document is already in progress"
	case report.ReasonNotCancelable:
		return "export job is not cancelable in its current state"
	default:
		return "conflicting request"
	}
}

func formatRetryAfter(d time.Duration) string {
	return fmt.Sprintf("%d", toRetrySeconds(d))
}

func toRetrySeconds(d time.Duration) int {
	if d <= 0 {
		return 1
	}
	s := int(d.Seconds())
	if d%time.Second != 0 {
		s++
	}
	return s
}
