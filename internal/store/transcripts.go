package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/soyeahso/lucai/internal/transcript"
)

// TranscriptStore is a transcript.Store backed by SQLite.
type TranscriptStore struct {
	db  *DB
	now func() time.Time
}

// NewTranscriptStore creates a transcript store using the given database.
func NewTranscriptStore(db *DB) *TranscriptStore {
	return &TranscriptStore{db: db, now: time.Now}
}

var _ transcript.Store = (*TranscriptStore)(nil)

const upsertTranscript = `
	INSERT INTO transcripts (user_id, created_at, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET updated_at = excluded.updated_at`

func (s *TranscriptStore) Append(ctx context.Context, userID string, turn transcript.Turn) error {
	now := formatTime(s.now())

	tx, err := s.db.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, upsertTranscript, userID, now, now); err != nil {
		return fmt.Errorf("upsert transcript: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO turns (user_id, user_message, ai_response, timestamp) VALUES (?, ?, ?, ?)`,
		userID, turn.UserMessage, turn.AIResponse, formatTime(turn.Timestamp),
	); err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}
	return tx.Commit()
}

func (s *TranscriptStore) Recent(ctx context.Context, userID string, n int) ([]transcript.Turn, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := s.db.sql.QueryContext(ctx,
		`SELECT user_message, ai_response, timestamp FROM (
			SELECT id, user_message, ai_response, timestamp FROM turns
			WHERE user_id = ? ORDER BY id DESC LIMIT ?
		 ) ORDER BY id ASC`,
		userID, n,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent turns: %w", err)
	}
	return scanTurns(rows)
}

func (s *TranscriptStore) Get(ctx context.Context, userID string) (transcript.Transcript, error) {
	t := transcript.Transcript{UserID: userID}

	var ltc, created, updated string
	err := s.db.sql.QueryRowContext(ctx,
		`SELECT long_term_context, created_at, updated_at FROM transcripts WHERE user_id = ?`, userID,
	).Scan(&ltc, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return t, transcript.ErrNotFound
	}
	if err != nil {
		return t, fmt.Errorf("query transcript: %w", err)
	}
	t.LongTermContext = json.RawMessage(ltc)
	if t.CreatedAt, err = parseTime(created); err != nil {
		return t, fmt.Errorf("parse created_at: %w", err)
	}
	if t.UpdatedAt, err = parseTime(updated); err != nil {
		return t, fmt.Errorf("parse updated_at: %w", err)
	}

	rows, err := s.db.sql.QueryContext(ctx,
		`SELECT user_message, ai_response, timestamp FROM turns WHERE user_id = ? ORDER BY id ASC`, userID,
	)
	if err != nil {
		return t, fmt.Errorf("query turns: %w", err)
	}
	turns, err := scanTurns(rows)
	if err != nil {
		return t, err
	}
	t.ConversationHistory = turns
	if t.ConversationHistory == nil {
		t.ConversationHistory = []transcript.Turn{}
	}
	return t, nil
}

func (s *TranscriptStore) LongTermContext(ctx context.Context, userID string) (json.RawMessage, error) {
	var ltc string
	err := s.db.sql.QueryRowContext(ctx,
		`SELECT long_term_context FROM transcripts WHERE user_id = ?`, userID,
	).Scan(&ltc)
	if errors.Is(err, sql.ErrNoRows) {
		return transcript.EmptyContext, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query long-term context: %w", err)
	}
	return json.RawMessage(ltc), nil
}

func (s *TranscriptStore) SetLongTermContext(ctx context.Context, userID string, value json.RawMessage) error {
	norm, err := transcript.NormalizeContext(value)
	if err != nil {
		return err
	}
	now := formatTime(s.now())
	_, err = s.db.sql.ExecContext(ctx,
		`INSERT INTO transcripts (user_id, long_term_context, created_at, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
		   long_term_context = excluded.long_term_context,
		   updated_at = excluded.updated_at`,
		userID, string(norm), now, now,
	)
	if err != nil {
		return fmt.Errorf("set long-term context: %w", err)
	}
	return nil
}

func scanTurns(rows *sql.Rows) ([]transcript.Turn, error) {
	defer rows.Close()

	var turns []transcript.Turn
	for rows.Next() {
		var turn transcript.Turn
		var ts string
		if err := rows.Scan(&turn.UserMessage, &turn.AIResponse, &ts); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		parsed, err := parseTime(ts)
		if err != nil {
			return nil, fmt.Errorf("parse turn timestamp: %w", err)
		}
		turn.Timestamp = parsed
		turns = append(turns, turn)
	}
	return turns, rows.Err()
}
