package httpx

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/aussiebroadwan/erp/pkg/slogx"
)

// Envelope is the response body shape shared by every endpoint.
type Envelope struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Message string     `json:"message,omitempty"`
	Error   *ErrorBody `json:"error,omitempty"`
}

// ErrorBody carries a stable machine code and a human readable message.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// WriteJSON writes a JSON response with the given status code.
// It automatically sets the Content-Type header and Cache-Control headers.
func WriteJSON(w http.ResponseWriter, code int, v any) {
	NoCache(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteData writes a success envelope.
func WriteData(w http.ResponseWriter, code int, data any) {
	WriteJSON(w, code, Envelope{Success: true, Data: data})
}

// WriteMessage writes a success envelope with only a message.
func WriteMessage(w http.ResponseWriter, code int, msg string) {
	WriteJSON(w, code, Envelope{Success: true, Message: msg})
}

// WriteError writes a failure envelope.
func WriteError(w http.ResponseWriter, code int, errCode, msg string, details any) {
	WriteJSON(w, code, Envelope{
		Success: false,
		Error:   &ErrorBody{Code: errCode, Message: msg, Details: details},
	})
}

// NoCache sets the Cache-Control and Pragma headers to prevent caching.
// This is commonly required for sensitive responses like tokens.
func NoCache(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
}

func logPanic(r *http.Request, rec any) {
	slogx.FromContext(r.Context()).Error("panic recovered",
		"panic", fmt.Sprint(rec),
		"path", r.URL.Path,
		"stack", string(debug.Stack()),
	)
}
