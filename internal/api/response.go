package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/stephenadei/tutorbot/internal/models"
)

// internalErrorBody is written when a response cannot be encoded.
var internalErrorBody = mustMarshal(models.Error("Internal server error"))

func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic("api: cannot marshal fallback response: " + err.Error())
	}
	return b
}

// writeJSONResponse encodes body before touching the header so an encoding
// failure can still turn into a 500.
func writeJSONResponse(w http.ResponseWriter, status int, body any) {
	payload, err := json.Marshal(body)
	if err != nil {
		slog.Error("api.writeJSONResponse: encode failed", "status", status, "error", err)
		payload, status = internalErrorBody, http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(payload); err != nil {
		slog.Warn("api.writeJSONResponse: write failed", "error", err)
	}
}
