package web

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jyothri/picasa-bridge/collect"
	"github.com/jyothri/picasa-bridge/picasa"
)

// Size limit constants
const (
	DefaultMaxBodySize       = 512 << 10 // 512 KB
	OAuthCallbackMaxBodySize = 16 << 10  // 16 KB
	PhotoUploadMaxBodySize   = 64 << 20  // 64 MB
	photoFormMemory          = 8 << 20
)

// RequestSizeLimitMiddleware limits the size of request bodies
func RequestSizeLimitMiddleware(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Wrap the request body with MaxBytesReader
			// This prevents the server from reading more than maxBytes
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

			next.ServeHTTP(w, r)
		})
	}
}

// handleMaxBytesError checks if an error is due to request body being too large
func handleMaxBytesError(w http.ResponseWriter, r *http.Request, err error, maxBytes int64) bool {
	if err == nil {
		return false
	}

	var maxBytesErr *http.MaxBytesError
	if !errors.As(err, &maxBytesErr) {
		return false
	}

	slog.Warn("Request body size limit exceeded",
		"remote_addr", r.RemoteAddr,
		"user_agent", r.UserAgent(),
		"method", r.Method,
		"path", r.URL.Path,
		"max_bytes", maxBytes,
		"max_human", formatBytes(maxBytes))

	writeErrorResponse(w, ErrorResponse{
		Error: ErrorDetail{
			Code:    "PAYLOAD_TOO_LARGE",
			Message: "Request body exceeds maximum allowed size",
			Details: map[string]interface{}{
				"max_size_bytes": maxBytes,
				"max_size_human": formatBytes(maxBytes),
			},
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		},
	}, http.StatusRequestEntityTooLarge)

	return true
}

// ErrorResponse represents a structured error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error information
type ErrorDetail struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp string                 `json:"timestamp"`
}

// writeErrorResponse writes a JSON error response
func writeErrorResponse(w http.ResponseWriter, errResp ErrorResponse, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(errResp); err != nil {
		slog.Error("Failed to encode error response", "error", err)
	}
}

func writeError(w http.ResponseWriter, code string, message string, statusCode int) {
	writeErrorResponse(w, ErrorResponse{
		Error: ErrorDetail{
			Code:      code,
			Message:   message,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		},
	}, statusCode)
}

// writeServiceError maps errors of the photo service, the sources and the
// store onto an error response. Remote status codes are passed through.
func writeServiceError(w http.ResponseWriter, err error) {
	var (
		code       = "INTERNAL"
		statusCode = http.StatusInternalServerError
		details    map[string]interface{}
	)
	var transportErr *picasa.TransportError
	switch {
	case errors.Is(err, sql.ErrNoRows):
		code, statusCode = "UNKNOWN_ACCOUNT", http.StatusNotFound
	case errors.Is(err, picasa.ErrInvalidRange):
		code, statusCode = "INVALID_RANGE", http.StatusBadRequest
	case errors.Is(err, collect.ErrSourceNotFound):
		code, statusCode = "SOURCE_NOT_FOUND", http.StatusNotFound
	case errors.Is(err, collect.ErrUnknownSource):
		code, statusCode = "UNKNOWN_SOURCE", http.StatusBadRequest
	case collect.IsRetryError(err):
		code, statusCode = "SOURCE_THROTTLED", http.StatusTooManyRequests
	case picasa.StatusCode(err) != 0:
		code, statusCode = "REMOTE_ERROR", picasa.StatusCode(err)
		details = map[string]interface{}{"remote_status": picasa.StatusCode(err)}
	case errors.As(err, &transportErr):
		code, statusCode = "REMOTE_UNAVAILABLE", http.StatusBadGateway
	}
	if statusCode >= http.StatusInternalServerError {
		slog.Error("Request failed", "code", code, "error", err)
	}
	writeErrorResponse(w, ErrorResponse{
		Error: ErrorDetail{
			Code:      code,
			Message:   err.Error(),
			Details:   details,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		},
	}, statusCode)
}

// formatBytes formats bytes into human-readable format
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
