package handlers

import (
	"encoding/json"
	"net/http"
)

// errorBody is the wire shape of every non-2xx response.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// WriteJSON encodes data as the response body. The header is written only
// for non-200 codes so the encoder can still surface its own failure on the
// default status.
func WriteJSON(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// ErrorResponse writes a machine-readable error code plus a human-readable
// message under statusCode.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	return WriteJSON(w, statusCode, errorBody{Error: errorCode, Message: message})
}
