package api

import (
	"encoding/json"
	"net/http"
)

// respondJSON writes a JSON response with the given status code and data.
// If data is nil, only the status code and Content-Type header are written.
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError writes a JSON error response with the given status code and
// message. The message must be safe for machine clients; internal error
// detail stays in the server log.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondIgnored writes the 200 "ignored" response used when a guard
// short-circuits webhook processing. An ignored event is a normal outcome,
// never an error.
func respondIgnored(w http.ResponseWriter, reason string) {
	respondJSON(w, http.StatusOK, map[string]string{"message": reason})
}
