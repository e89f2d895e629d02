// Package errors defines the domain error vocabulary of the licensing core
// and the structured API error type rendered by the localhost HTTP surface.
//
// Absence and mismatch outcomes ("no license on disk", "blob does not
// decrypt on this machine", "signature does not verify") are deliberately
// not errors anywhere in this module; they are represented as nil/false
// return values. The sentinels below cover genuinely failed operations.
package errors

import (
	"net/http"

	"github.com/go-chi/render"
)

// APIError represents a structured API error response
type APIError struct {
	StatusCode int         `json:"status_code"`
	ErrorCode  string      `json:"error_code"`
	Message    string      `json:"message"`
	Details    interface{} `json:"details,omitempty"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return e.Message
}

// Render implements the render.Renderer interface for chi/render
func (e *APIError) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.StatusCode)
	return nil
}

// New creates a new APIError with the given parameters
func New(statusCode int, errorCode, message string) *APIError {
	return &APIError{
		StatusCode: statusCode,
		ErrorCode:  errorCode,
		Message:    message,
	}
}

// NewWithDetails creates a new APIError with additional details
func NewWithDetails(statusCode int, errorCode, message string, details interface{}) *APIError {
	return &APIError{
		StatusCode: statusCode,
		ErrorCode:  errorCode,
		Message:    message,
		Details:    details,
	}
}

// Predefined error responses for the localhost HTTP surface
var (
	// 400 Bad Request
	ErrInvalidRequest   = New(http.StatusBadRequest, "INVALID_REQUEST", "Invalid request format")
	ErrValidationFailed = New(http.StatusBadRequest, "VALIDATION_FAILED", "Request validation failed")

	// 401 Unauthorized
	ErrInvalidLicense = New(http.StatusUnauthorized, "INVALID_LICENSE", "Invalid or expired license")

	// 403 Forbidden
	ErrLicenseRevoked  = New(http.StatusForbidden, "LICENSE_REVOKED", "This license has been revoked")
	ErrMachineMismatch = New(http.StatusForbidden, "MACHINE_MISMATCH", "This license is bound to a different machine")

	// 404 Not Found
	ErrLicenseNotFound = New(http.StatusNotFound, "LICENSE_NOT_FOUND", "No license is installed")

	// 429 Too Many Requests
	ErrRateLimitExceeded = New(http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", "Too many activation attempts, please try again later")

	// 500 Internal Server Error
	ErrInternalServer = New(http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "Internal server error")

	// 503 Service Unavailable
	ErrServerUnreachable = New(http.StatusServiceUnavailable, "SERVER_UNREACHABLE", "Unable to reach the license server")
)
