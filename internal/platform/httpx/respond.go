// Package httpx provides HTTP response utilities.
package httpx

import (
	"encoding/json"
	"net/http"
)

// Envelope is the response shape of the AJAX endpoint.
type Envelope struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

// ErrorData is the payload of a failed envelope.
type ErrorData struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// JSON sends a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// Success writes {success: true, data: data}.
func Success(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, Envelope{Success: true, Data: data})
}

// Failure writes {success: false, data: {message, code}}.
func Failure(w http.ResponseWriter, status int, code, message string) {
	JSON(w, status, Envelope{Success: false, Data: ErrorData{Message: message, Code: code}})
}

// DecodeJSON decodes JSON request body into the target struct.
func DecodeJSON(r *http.Request, target any) error {
	return json.NewDecoder(r.Body).Decode(target)
}
