// Package errors defines the HTTP error envelope and the mapping from
// domain errors to HTTP responses.
package errors

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/airlift/buildforge/pkg/artifact"
	"github.com/airlift/buildforge/pkg/jobstore"
	"github.com/airlift/buildforge/pkg/orchestrator"
	"github.com/airlift/buildforge/pkg/provider"
)

// Stable machine-readable error codes.
const (
	CodeInvalidRequest   = "INVALID_REQUEST"
	CodeNotFound         = "NOT_FOUND"
	CodeMethodNotAllowed = "METHOD_NOT_ALLOWED"
	CodeConflict         = "CONFLICT"
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeUpstreamError    = "UPSTREAM_ERROR"
	CodeInternalError    = "INTERNAL_ERROR"
)

// HTTPErrorResponse is the envelope every error response carries.
type HTTPErrorResponse struct {
	Error HTTPError `json:"error"`
}

// HTTPError is the envelope body.
type HTTPError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// Write emits the envelope with the given status.
func Write(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(HTTPErrorResponse{
		Error: HTTPError{
			Code:      code,
			Message:   message,
			RequestID: middleware.GetReqID(r.Context()),
		},
	})
}

// WriteErr maps a domain error to its HTTP status and code and emits the
// envelope. Unrecognized errors become 500 INTERNAL_ERROR.
func WriteErr(w http.ResponseWriter, r *http.Request, err error) {
	status, code := Classify(err)
	Write(w, r, status, code, err.Error())
}

// Classify maps a domain error to an HTTP status and error code.
func Classify(err error) (int, string) {
	switch {
	case errors.Is(err, jobstore.ErrNotFound),
		errors.Is(err, artifact.ErrNotFound),
		provider.IsNotFound(err):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, orchestrator.ErrInvalidRequest):
		return http.StatusBadRequest, CodeInvalidRequest
	case errors.Is(err, orchestrator.ErrAlreadyTerminal):
		return http.StatusConflict, CodeConflict
	case provider.IsInvalidCredentials(err),
		provider.IsAccessDenied(err),
		provider.IsRateLimited(err),
		provider.IsUnavailable(err):
		return http.StatusBadGateway, CodeUpstreamError
	}
	return http.StatusInternalServerError, CodeInternalError
}

// NotFoundHandler is the router fallback for unknown paths.
func NotFoundHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		Write(w, r, http.StatusNotFound, CodeNotFound, "resource not found")
	}
}

// MethodNotAllowedHandler is the router fallback for known paths with
// unsupported methods.
func MethodNotAllowedHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		Write(w, r, http.StatusMethodNotAllowed, CodeMethodNotAllowed, "method not allowed")
	}
}
