package apierr

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/exocortex-initiative/forcefield/internal/logger"
)

// ErrorCode represents a structured error code
type ErrorCode string

// Error code constants organized by category
const (
	// AUTH_ - Authentication and authorization errors
	ErrAuthMissing   ErrorCode = "AUTH_MISSING"
	ErrAuthInvalid   ErrorCode = "AUTH_INVALID"
	ErrAuthForbidden ErrorCode = "AUTH_FORBIDDEN"

	// GRAPH_ - Graph document errors
	ErrGraphNotFound    ErrorCode = "GRAPH_NOT_FOUND"
	ErrGraphTooLarge    ErrorCode = "GRAPH_TOO_LARGE"
	ErrGraphInvalidDoc  ErrorCode = "GRAPH_INVALID_DOCUMENT"
	ErrGraphFetchFailed ErrorCode = "GRAPH_FETCH_FAILED"
	ErrGraphIntegrity   ErrorCode = "GRAPH_INTEGRITY_FAILED"

	// SIM_ - Simulation lifecycle errors
	ErrSimNotFound       ErrorCode = "SIM_NOT_FOUND"
	ErrSimLimitReached   ErrorCode = "SIM_LIMIT_REACHED"
	ErrSimReleased       ErrorCode = "SIM_RELEASED"
	ErrSimUnknownNode    ErrorCode = "SIM_UNKNOWN_NODE"
	ErrSimDuplicateNode  ErrorCode = "SIM_DUPLICATE_NODE"
	ErrSimBackendFailed  ErrorCode = "SIM_BACKEND_FAILED"
	ErrSimGPUUnavailable ErrorCode = "SIM_GPU_UNAVAILABLE"

	// JOB_ - Layout job errors
	ErrJobNotFound      ErrorCode = "JOB_NOT_FOUND"
	ErrJobQueueFull     ErrorCode = "JOB_QUEUE_FULL"
	ErrJobNotCancelable ErrorCode = "JOB_NOT_CANCELABLE"

	// PRESET_ - Force preset errors
	ErrPresetNotFound ErrorCode = "PRESET_NOT_FOUND"
	ErrPresetInvalid  ErrorCode = "PRESET_INVALID"

	// SYSTEM_ - System and server errors
	ErrSystemInternal    ErrorCode = "SYSTEM_INTERNAL"
	ErrSystemDatabase    ErrorCode = "SYSTEM_DATABASE"
	ErrSystemUnavailable ErrorCode = "SYSTEM_UNAVAILABLE"
	ErrSystemTimeout     ErrorCode = "SYSTEM_TIMEOUT"

	// VALIDATION_ - Request validation errors
	ErrValidationInvalidJSON   ErrorCode = "VALIDATION_INVALID_JSON"
	ErrValidationInvalidFormat ErrorCode = "VALIDATION_INVALID_FORMAT"
	ErrValidationMissingField  ErrorCode = "VALIDATION_MISSING_FIELD"
	ErrValidationInvalidValue  ErrorCode = "VALIDATION_INVALID_VALUE"

	// RESOURCE_ - Resource errors
	ErrResourceNotFound ErrorCode = "RESOURCE_NOT_FOUND"
	ErrResourceConflict ErrorCode = "RESOURCE_CONFLICT"

	// RATE_LIMIT_ - Rate limiting errors
	ErrRateLimitGlobal ErrorCode = "RATE_LIMIT_GLOBAL"
	ErrRateLimitIP     ErrorCode = "RATE_LIMIT_IP"
)

// Error represents a structured API error
type Error struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
	status    int                    // HTTP status code (not serialized)
}

// ErrorResponse is the top-level error response wrapper
type ErrorResponse struct {
	Error *Error `json:"error"`
}

// New creates a new API error
func New(code ErrorCode, message string, status int) *Error {
	return &Error{
		Code:    code,
		Message: message,
		status:  status,
	}
}

// WithDetails adds details to the error
func (e *Error) WithDetails(details map[string]interface{}) *Error {
	e.Details = details
	return e
}

// WithRequestID adds a request ID to the error
func (e *Error) WithRequestID(requestID string) *Error {
	e.RequestID = requestID
	return e
}

// Error implements the error interface
func (e *Error) Error() string {
	return string(e.Code) + ": " + e.Message
}

// Status returns the HTTP status code
func (e *Error) Status() int {
	return e.status
}

// WriteError writes a structured error response to the HTTP response writer
func WriteError(w http.ResponseWriter, err *Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.Status())
	json.NewEncoder(w).Encode(ErrorResponse{Error: err})
}

// Helper functions for common errors

// AuthMissing creates an authentication missing error
func AuthMissing(message string) *Error {
	if message == "" {
		message = "Authentication required"
	}
	return New(ErrAuthMissing, message, http.StatusUnauthorized)
}

// AuthInvalid creates an invalid authentication error
func AuthInvalid(message string) *Error {
	if message == "" {
		message = "Invalid authentication credentials"
	}
	return New(ErrAuthInvalid, message, http.StatusUnauthorized)
}

// AuthForbidden creates a forbidden error
func AuthForbidden(message string) *Error {
	if message == "" {
		message = "Access forbidden"
	}
	return New(ErrAuthForbidden, message, http.StatusForbidden)
}

// GraphNotFound creates a graph not found error
func GraphNotFound(name string) *Error {
	return New(ErrGraphNotFound, "Graph not found: "+name, http.StatusNotFound).
		WithDetails(map[string]interface{}{"graph": name})
}

// GraphTooLarge creates a graph too large error
func GraphTooLarge(nodes, limit int) *Error {
	return New(ErrGraphTooLarge, "Graph exceeds the node limit", http.StatusRequestEntityTooLarge).
		WithDetails(map[string]interface{}{"nodes": nodes, "limit": limit})
}

// GraphInvalidDocument creates an invalid graph document error
func GraphInvalidDocument(message string) *Error {
	if message == "" {
		message = "Graph document could not be parsed"
	}
	return New(ErrGraphInvalidDoc, message, http.StatusBadRequest)
}

// GraphFetchFailed creates a remote fetch failed error
func GraphFetchFailed(message string) *Error {
	if message == "" {
		message = "Failed to fetch graph from source"
	}
	return New(ErrGraphFetchFailed, message, http.StatusBadGateway)
}

// GraphIntegrityFailed creates an integrity check failed error
func GraphIntegrityFailed(issues int) *Error {
	return New(ErrGraphIntegrity, "Graph failed integrity checks", http.StatusUnprocessableEntity).
		WithDetails(map[string]interface{}{"issues": issues})
}

// SimNotFound creates a simulation not found error
func SimNotFound(id string) *Error {
	return New(ErrSimNotFound, "Simulation not found: "+id, http.StatusNotFound).
		WithDetails(map[string]interface{}{"simulation": id})
}

// SimLimitReached creates a concurrent simulation limit error
func SimLimitReached(limit int) *Error {
	return New(ErrSimLimitReached, "Too many concurrent simulations", http.StatusServiceUnavailable).
		WithDetails(map[string]interface{}{"limit": limit})
}

// SimReleased creates an error for operations on a released simulation
func SimReleased(id string) *Error {
	return New(ErrSimReleased, "Simulation has been released: "+id, http.StatusGone).
		WithDetails(map[string]interface{}{"simulation": id})
}

// SimUnknownNode creates an unknown node error
func SimUnknownNode(nodeID string) *Error {
	return New(ErrSimUnknownNode, "Unknown node: "+nodeID, http.StatusNotFound).
		WithDetails(map[string]interface{}{"node": nodeID})
}

// SimDuplicateNode creates a duplicate node id error
func SimDuplicateNode(nodeID string) *Error {
	return New(ErrSimDuplicateNode, "Duplicate node id: "+nodeID, http.StatusConflict).
		WithDetails(map[string]interface{}{"node": nodeID})
}

// SimBackendFailed creates a backend failure error
func SimBackendFailed(message string) *Error {
	if message == "" {
		message = "Simulation backend failed"
	}
	return New(ErrSimBackendFailed, message, http.StatusInternalServerError)
}

// SimGPUUnavailable creates a GPU unavailable error
func SimGPUUnavailable(message string) *Error {
	if message == "" {
		message = "GPU backend unavailable, no adapter found"
	}
	return New(ErrSimGPUUnavailable, message, http.StatusServiceUnavailable)
}

// JobNotFound creates a job not found error
func JobNotFound(id string) *Error {
	return New(ErrJobNotFound, "Layout job not found: "+id, http.StatusNotFound).
		WithDetails(map[string]interface{}{"job": id})
}

// JobQueueFull creates a queue full error
func JobQueueFull() *Error {
	return New(ErrJobQueueFull, "Layout job queue is full, try again later", http.StatusServiceUnavailable)
}

// JobNotCancelable creates an error for canceling a job that already left the queue
func JobNotCancelable(id string) *Error {
	return New(ErrJobNotCancelable, "Job already running or finished: "+id, http.StatusConflict).
		WithDetails(map[string]interface{}{"job": id})
}

// PresetNotFound creates a preset not found error
func PresetNotFound(name string) *Error {
	return New(ErrPresetNotFound, "Preset not found: "+name, http.StatusNotFound).
		WithDetails(map[string]interface{}{"preset": name})
}

// PresetInvalid creates an invalid preset error
func PresetInvalid(message string) *Error {
	if message == "" {
		message = "Preset could not be parsed"
	}
	return New(ErrPresetInvalid, message, http.StatusBadRequest)
}

// SystemInternal creates an internal server error
func SystemInternal(message string) *Error {
	if message == "" {
		message = "Internal server error"
	}
	return New(ErrSystemInternal, message, http.StatusInternalServerError)
}

// SystemDatabase creates a database error
func SystemDatabase(message string) *Error {
	if message == "" {
		message = "Database error"
	}
	return New(ErrSystemDatabase, message, http.StatusInternalServerError)
}

// SystemUnavailable creates a service unavailable error
func SystemUnavailable(message string) *Error {
	if message == "" {
		message = "Service unavailable"
	}
	return New(ErrSystemUnavailable, message, http.StatusServiceUnavailable)
}

// SystemTimeout creates a system timeout error
func SystemTimeout(message string) *Error {
	if message == "" {
		message = "Request timeout"
	}
	return New(ErrSystemTimeout, message, http.StatusRequestTimeout)
}

// ValidationInvalidJSON creates an invalid JSON error
func ValidationInvalidJSON() *Error {
	return New(ErrValidationInvalidJSON, "Invalid JSON request body", http.StatusBadRequest)
}

// ValidationInvalidFormat creates an invalid format error
func ValidationInvalidFormat(message string) *Error {
	if message == "" {
		message = "Invalid request format"
	}
	return New(ErrValidationInvalidFormat, message, http.StatusBadRequest)
}

// ValidationMissingField creates a missing field error
func ValidationMissingField(field string) *Error {
	return New(ErrValidationMissingField, "Missing required field: "+field, http.StatusBadRequest).
		WithDetails(map[string]interface{}{"field": field})
}

// ValidationInvalidValue creates an invalid value error
func ValidationInvalidValue(field string, message string) *Error {
	if message == "" {
		message = "Invalid value for field: " + field
	}
	return New(ErrValidationInvalidValue, message, http.StatusBadRequest).
		WithDetails(map[string]interface{}{"field": field})
}

// ResourceNotFound creates a resource not found error
func ResourceNotFound(resourceType string) *Error {
	return New(ErrResourceNotFound, resourceType+" not found", http.StatusNotFound).
		WithDetails(map[string]interface{}{"resource_type": resourceType})
}

// ResourceConflict creates a resource conflict error
func ResourceConflict(message string) *Error {
	if message == "" {
		message = "Resource conflict"
	}
	return New(ErrResourceConflict, message, http.StatusConflict)
}

// RateLimitGlobal creates a global rate limit error
func RateLimitGlobal() *Error {
	return New(ErrRateLimitGlobal, "Rate limit exceeded - too many requests globally", http.StatusTooManyRequests)
}

// RateLimitIP creates an IP rate limit error
func RateLimitIP() *Error {
	return New(ErrRateLimitIP, "Rate limit exceeded - too many requests from your IP", http.StatusTooManyRequests)
}

// GetRequestID extracts the request ID from the context
func GetRequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(logger.RequestIDKey).(string); ok {
		return reqID
	}
	return ""
}

// WriteErrorWithContext writes a structured error response with request ID from context
func WriteErrorWithContext(w http.ResponseWriter, r *http.Request, err *Error) {
	if reqID := GetRequestID(r.Context()); reqID != "" {
		err = err.WithRequestID(reqID)
	}
	WriteError(w, err)
}
