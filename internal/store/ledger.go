package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/soyeahso/lucai/internal/finance"
)

// Ledger is a finance.Service backed by SQLite.
type Ledger struct {
	db         *DB
	currency   string
	recentDays int
	now        func() time.Time
}

// NewLedger creates a ledger using the given database.
func NewLedger(db *DB, currency string, recentDays int) *Ledger {
	return &Ledger{db: db, currency: currency, recentDays: recentDays, now: time.Now}
}

var (
	_ finance.Service        = (*Ledger)(nil)
	_ finance.SnapshotSource = (*Ledger)(nil)
)

func (l *Ledger) CreateExpense(ctx context.Context, userID, callID string, f finance.Fields) (finance.Record, error) {
	return l.create(ctx, userID, callID, finance.KindExpense, f)
}

func (l *Ledger) CreateIncome(ctx context.Context, userID, callID string, f finance.Fields) (finance.Record, error) {
	return l.create(ctx, userID, callID, finance.KindIncome, f)
}

const recordColumns = `id, user_id, kind, tool_call_id, title, description, category, amount, transaction_date, created_at`

func (l *Ledger) create(ctx context.Context, userID, callID string, k finance.Kind, f finance.Fields) (finance.Record, error) {
	if err := f.Check(k); err != nil {
		return finance.Record{}, err
	}

	rec := finance.Record{
		ID:         uuid.New().String(),
		UserID:     userID,
		Kind:       k,
		ToolCallID: callID,
		CreatedAt:  l.now().UTC(),
		Fields:     f,
	}

	var callCol sql.NullString
	if callID != "" {
		callCol = sql.NullString{String: callID, Valid: true}
	}

	res, err := l.db.sql.ExecContext(ctx,
		`INSERT INTO records (`+recordColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT DO NOTHING`,
		rec.ID, userID, string(k), callCol, f.Title, f.Description, string(f.Category),
		f.Amount.String(), formatTime(f.TransactionDate), formatTime(rec.CreatedAt),
	)
	if err != nil {
		return finance.Record{}, fmt.Errorf("insert %s: %w", k, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 && callID != "" {
		return l.byCall(ctx, userID, callID)
	}
	return rec, nil
}

func (l *Ledger) byCall(ctx context.Context, userID, callID string) (finance.Record, error) {
	rows, err := l.db.sql.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM records WHERE user_id = ? AND tool_call_id = ?`, userID, callID,
	)
	if err != nil {
		return finance.Record{}, fmt.Errorf("query record by call: %w", err)
	}
	recs, err := scanRecords(rows)
	if err != nil {
		return finance.Record{}, err
	}
	if len(recs) == 0 {
		return finance.Record{}, fmt.Errorf("record for call %s vanished", callID)
	}
	return recs[0], nil
}

// Records returns a user's records ordered by transaction date.
func (l *Ledger) Records(ctx context.Context, userID string) ([]finance.Record, error) {
	rows, err := l.db.sql.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM records WHERE user_id = ? ORDER BY transaction_date, created_at`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	return scanRecords(rows)
}

func (l *Ledger) Summary(ctx context.Context, userID string) (finance.Summary, error) {
	recs, err := l.Records(ctx, userID)
	if err != nil {
		return finance.Summary{}, err
	}
	s := finance.Summarize(recs, l.currency, l.recentDays, l.now())

	prev, err := l.latestSnapshot(ctx, userID)
	if err != nil {
		return finance.Summary{}, err
	}
	s.Previous = prev
	return s, nil
}

func (l *Ledger) UserIDs(ctx context.Context) ([]string, error) {
	rows, err := l.db.sql.QueryContext(ctx, `SELECT DISTINCT user_id FROM records ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (l *Ledger) SaveSnapshot(ctx context.Context, snap finance.Snapshot) error {
	_, err := l.db.sql.ExecContext(ctx,
		`INSERT INTO balance_snapshots (user_id, total_income, total_expense, current_balance, calculated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		snap.UserID, snap.TotalIncome.String(), snap.TotalExpense.String(),
		snap.CurrentBalance.String(), formatTime(snap.CalculatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

func (l *Ledger) latestSnapshot(ctx context.Context, userID string) (*finance.Snapshot, error) {
	var income, expense, balance, at string
	err := l.db.sql.QueryRowContext(ctx,
		`SELECT total_income, total_expense, current_balance, calculated_at FROM balance_snapshots
		 WHERE user_id = ? ORDER BY calculated_at DESC, id DESC LIMIT 1`, userID,
	).Scan(&income, &expense, &balance, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query snapshot: %w", err)
	}

	snap := &finance.Snapshot{UserID: userID}
	if snap.TotalIncome, err = decimal.NewFromString(income); err != nil {
		return nil, fmt.Errorf("parse total_income: %w", err)
	}
	if snap.TotalExpense, err = decimal.NewFromString(expense); err != nil {
		return nil, fmt.Errorf("parse total_expense: %w", err)
	}
	if snap.CurrentBalance, err = decimal.NewFromString(balance); err != nil {
		return nil, fmt.Errorf("parse current_balance: %w", err)
	}
	if snap.CalculatedAt, err = parseTime(at); err != nil {
		return nil, fmt.Errorf("parse calculated_at: %w", err)
	}
	return snap, nil
}

func scanRecords(rows *sql.Rows) ([]finance.Record, error) {
	defer rows.Close()

	var out []finance.Record
	for rows.Next() {
		var r finance.Record
		var kind, category, amount, txDate, created string
		var callID sql.NullString
		if err := rows.Scan(&r.ID, &r.UserID, &kind, &callID, &r.Title, &r.Description,
			&category, &amount, &txDate, &created); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		r.Kind = finance.Kind(kind)
		r.ToolCallID = callID.String
		r.Category = finance.Category(category)

		var err error
		if r.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("parse amount of %s: %w", r.ID, err)
		}
		if r.TransactionDate, err = parseTime(txDate); err != nil {
			return nil, fmt.Errorf("parse transaction_date of %s: %w", r.ID, err)
		}
		if r.CreatedAt, err = parseTime(created); err != nil {
			return nil, fmt.Errorf("parse created_at of %s: %w", r.ID, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
