package api

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/nexus-im/ghost/internal/apperr"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeError maps err to its HTTP status. Unexpected errors are logged and
// reported with a generic message.
func writeError(w http.ResponseWriter, logger zerolog.Logger, err error) {
	status := apperr.Status(err)
	if !apperr.Public(err) {
		logger.Error().Err(err).Msg("request failed")
		jsonError(w, status, "internal server error")
		return
	}
	jsonError(w, status, err.Error())
}
