package http

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse is the shape of every error body the API returns.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// SuccessResponse wraps payloads so every success body has a "data" key.
type SuccessResponse struct {
	Data    interface{} `json:"data"`
	Message string      `json:"message,omitempty"`
}

func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	// Headers are already written; an encode failure here cannot be
	// reported to the client anymore.
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}

func respondErrorDetails(w http.ResponseWriter, statusCode int, message, details string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message, Details: details})
}

func respondSuccess(w http.ResponseWriter, statusCode int, data interface{}, message string) {
	respondJSON(w, statusCode, SuccessResponse{Data: data, Message: message})
}
