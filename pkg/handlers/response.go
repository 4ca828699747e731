package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/ekaya-inc/finsql-engine/pkg/middleware"
)

// APIError is the body of every non-2xx response.
type APIError struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// ErrorResponse writes an APIError with the given status. The request id set
// by the logging middleware is echoed in the body when present.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	return WriteJSON(w, statusCode, APIError{
		Error:     errorCode,
		Message:   message,
		RequestID: w.Header().Get(middleware.RequestIDHeader),
	})
}

// WriteJSON encodes data before touching the response, so an encoding failure
// leaves the writer untouched for the caller to report.
func WriteJSON(w http.ResponseWriter, statusCode int, data any) error {
	body, err := json.Marshal(data)
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, err = w.Write(append(body, '\n'))
	return err
}
