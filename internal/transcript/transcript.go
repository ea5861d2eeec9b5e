// Package transcript defines the per-user conversation record: an
// append-only list of turns plus an opaque long-term context object.
package transcript

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Turn is one completed exchange. Turns are never modified once stored.
type Turn struct {
	UserMessage string    `json:"userMessage"`
	AIResponse  string    `json:"aiResponse"`
	Timestamp   time.Time `json:"timestamp"`
}

// Transcript is everything stored for one user.
type Transcript struct {
	UserID              string          `json:"userId"`
	ConversationHistory []Turn          `json:"conversationHistory"`
	LongTermContext     json.RawMessage `json:"longTermContext"`
	CreatedAt           time.Time       `json:"createdAt"`
	UpdatedAt           time.Time       `json:"updatedAt"`
}

// ErrNotFound is returned when a user has no transcript yet.
var ErrNotFound = errors.New("transcript not found")

// EmptyContext is the long-term context of a new transcript.
var EmptyContext = json.RawMessage(`{}`)

// Store persists transcripts. Implementations create the transcript on the
// first Append or SetLongTermContext for a user.
type Store interface {
	// Append adds a turn to the end of the user's history.
	Append(ctx context.Context, userID string, turn Turn) error

	// Recent returns at most n of the newest turns, oldest first.
	// A user without a transcript has no turns.
	Recent(ctx context.Context, userID string, n int) ([]Turn, error)

	// Get returns the full transcript or ErrNotFound.
	Get(ctx context.Context, userID string) (Transcript, error)

	// LongTermContext returns the stored context object, EmptyContext if none.
	LongTermContext(ctx context.Context, userID string) (json.RawMessage, error)

	// SetLongTermContext replaces the context object.
	SetLongTermContext(ctx context.Context, userID string, value json.RawMessage) error
}

// NormalizeContext checks that raw is a JSON object and compacts it.
// Empty input yields EmptyContext.
func NormalizeContext(raw json.RawMessage) (json.RawMessage, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return EmptyContext, nil
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("long-term context must be a JSON object: %w", err)
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// IsEmptyContext reports whether raw holds no keys.
func IsEmptyContext(raw json.RawMessage) bool {
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return true
	}
	return len(obj) == 0
}
