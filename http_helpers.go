package cytoqc

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/goccy/go-json"
)

// writeJSON encodes data as JSON and logs encoding failures.
func writeJSON(w http.ResponseWriter, logger *slog.Logger, data any) {
	writeJSONStatus(w, logger, http.StatusOK, data)
}

// writeJSONStatus writes a JSON response with a specific status code.
func writeJSONStatus(w http.ResponseWriter, logger *slog.Logger, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to encode JSON response", "err", err)
	}
}

// apiError is the JSON body of every error response.
type apiError struct {
	Status    string `json:"status"`
	ErrorType string `json:"errorType"`
	Error     string `json:"error"`
}

// jsonError writes a JSON-formatted error response.
func jsonError(w http.ResponseWriter, logger *slog.Logger, status int, errorType, message string) {
	if status >= http.StatusInternalServerError {
		logger.Error("HTTP error", "status", status, "type", errorType, "message", message)
	} else {
		logger.Debug("HTTP error", "status", status, "type", errorType, "message", message)
	}
	writeJSONStatus(w, logger, status, apiError{Status: "error", ErrorType: errorType, Error: message})
}

// statusFor maps run errors to HTTP status codes.
func statusFor(err error) (int, string) {
	var qe *Error
	if !errors.As(err, &qe) {
		return http.StatusInternalServerError, "internal"
	}
	switch qe.Kind {
	case KindConfig, KindChannelNotFound, KindLengthMismatch:
		return http.StatusBadRequest, qe.Kind.String()
	case KindInsufficientData, KindNoPeaks:
		return http.StatusUnprocessableEntity, qe.Kind.String()
	default:
		return http.StatusInternalServerError, qe.Kind.String()
	}
}
