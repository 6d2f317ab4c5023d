package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/cropsinsilico/cis-dispatcher/internal/catalog"
	"github.com/cropsinsilico/cis-dispatcher/internal/driver"
	"github.com/cropsinsilico/cis-dispatcher/internal/graphstore"
	"github.com/cropsinsilico/cis-dispatcher/internal/jobstore"
	"github.com/cropsinsilico/cis-dispatcher/internal/k8s"
	"github.com/cropsinsilico/cis-dispatcher/internal/specstore"
	"github.com/cropsinsilico/cis-dispatcher/internal/translator"
	"github.com/cropsinsilico/cis-dispatcher/internal/validator"
)

// Error codes for consistent error identification.
const (
	ErrCodeAuthRequired   = "auth_required"
	ErrCodeForbidden      = "forbidden"
	ErrCodeNotFound       = "not_found"
	ErrCodeRateLimited    = "rate_limited"
	ErrCodeBadRequest     = "bad_request"
	ErrCodeConflict       = "conflict"
	ErrCodeInternalError  = "internal_error"
	ErrCodeBadGateway     = "bad_gateway"
	ErrCodeServiceUnavail = "service_unavailable"
)

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error     string                 `json:"error"`                // Short error code
	Message   string                 `json:"message"`              // Human-readable message
	Details   map[string]interface{} `json:"details,omitempty"`    // Optional additional details
	RequestID string                 `json:"request_id,omitempty"` // Request ID for correlation
}

// requestIDContextKey is the context key for request ID.
type requestIDContextKey struct{}

// RequestIDKey is the exported context key for request ID.
var RequestIDKey = requestIDContextKey{}

// GetRequestID retrieves the request ID from context or request header.
func GetRequestID(ctx context.Context, r *http.Request) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok && id != "" {
		return id
	}
	return r.Header.Get("X-Request-ID")
}

// HTTPStatusToErrorCode maps HTTP status codes to error codes.
func HTTPStatusToErrorCode(status int) string {
	switch status {
	case http.StatusUnauthorized:
		return ErrCodeAuthRequired
	case http.StatusForbidden:
		return ErrCodeForbidden
	case http.StatusNotFound:
		return ErrCodeNotFound
	case http.StatusTooManyRequests:
		return ErrCodeRateLimited
	case http.StatusBadRequest:
		return ErrCodeBadRequest
	case http.StatusConflict:
		return ErrCodeConflict
	case http.StatusBadGateway:
		return ErrCodeBadGateway
	case http.StatusServiceUnavailable:
		return ErrCodeServiceUnavail
	default:
		return ErrCodeInternalError
	}
}

// StatusForError maps domain errors to HTTP status codes.
func StatusForError(err error) int {
	var (
		invalidDoc *validator.InvalidDocumentError
		invalidRes *k8s.InvalidResourceError
		unresolved *translator.UnresolvedPortError
		transient  *k8s.TransientClusterError
		clusterReq *k8s.ClusterRequestError
	)
	switch {
	case errors.Is(err, driver.ErrRejected),
		errors.As(err, &invalidDoc),
		errors.As(err, &invalidRes),
		errors.As(err, &unresolved),
		errors.Is(err, translator.ErrComponentNotFound),
		errors.Is(err, translator.ErrUnknownProcess):
		return http.StatusBadRequest
	case errors.Is(err, graphstore.ErrGraphNotFound),
		errors.Is(err, specstore.ErrSpecNotFound),
		errors.Is(err, jobstore.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, graphstore.ErrGraphExists),
		errors.Is(err, specstore.ErrSpecExists),
		errors.Is(err, jobstore.ErrJobExists),
		errors.Is(err, jobstore.ErrPhaseFinal):
		return http.StatusConflict
	case errors.As(err, &transient):
		return http.StatusServiceUnavailable
	case errors.As(err, &clusterReq), errors.Is(err, catalog.ErrEmptyCatalog):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// errorDetails exposes schema violations so editors can point at them.
func errorDetails(err error) map[string]interface{} {
	var invalidDoc *validator.InvalidDocumentError
	if errors.As(err, &invalidDoc) {
		return map[string]interface{}{"violations": invalidDoc.Errors}
	}
	return nil
}

// writeErrorResponse writes a standardized JSON error response.
func writeErrorResponse(w http.ResponseWriter, r *http.Request, status int, code string, message string, details map[string]interface{}) {
	requestID := GetRequestID(r.Context(), r)

	resp := ErrorResponse{
		Error:     code,
		Message:   message,
		Details:   details,
		RequestID: requestID,
	}

	if requestID != "" {
		w.Header().Set("X-Request-ID", requestID)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}
