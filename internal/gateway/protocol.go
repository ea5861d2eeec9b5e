package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/soyeahso/lucai/internal/domain"
	"github.com/soyeahso/lucai/internal/transcript"
)

// maxBodyBytes bounds request bodies and WebSocket messages.
const maxBodyBytes = 64 << 10

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status     string `json:"status"`
	Version    string `json:"version,omitempty"`
	WSClients  int    `json:"wsClients"`
	UptimeSecs int64  `json:"uptimeSecs"`
}

// DaysResponse is returned by GET /agent/history/days.
type DaysResponse struct {
	UserID   string                 `json:"userId"`
	Timezone string                 `json:"timezone"`
	Days     []transcript.DayBucket `json:"days"`
}

var errEmptyBody = errors.New("request body is empty")

// parseChatRequest decodes and validates a {prompt,userId} document.
func parseChatRequest(data []byte) (domain.ChatRequest, error) {
	var req domain.ChatRequest
	if len(data) == 0 {
		return req, errEmptyBody
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return req, fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := req.Validate(); err != nil {
		return req, err
	}
	return req, nil
}

// readBody reads at most maxBodyBytes of r's body.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	return io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, domain.ErrorPayload{Error: message})
}
