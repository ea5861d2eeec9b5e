package domain

import (
	"errors"
	"strings"
)

// ChatRequest is the body of a POST /agent call.
type ChatRequest struct {
	Prompt string `json:"prompt"`
	UserID string `json:"userId"`
}

// Validate reports the first missing field.
func (r ChatRequest) Validate() error {
	if strings.TrimSpace(r.UserID) == "" {
		return errors.New("userId is required")
	}
	if strings.TrimSpace(r.Prompt) == "" {
		return errors.New("prompt is required")
	}
	return nil
}

// ContentPayload and ErrorPayload are the JSON objects carried inside SSE
// data lines and WebSocket text messages.
type ContentPayload struct {
	Content string `json:"content"`
}

type ErrorPayload struct {
	Error string `json:"error"`
}

// DoneSentinel terminates a successful stream.
const DoneSentinel = "[DONE]"
