package finance

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryLedger is an in-process Service for tests and the memory store driver.
type MemoryLedger struct {
	mu         sync.Mutex
	currency   string
	recentDays int
	now        func() time.Time

	records   map[string][]Record
	byCall    map[[2]string]Record
	snapshots map[string][]Snapshot
}

// NewMemoryLedger creates an empty ledger.
func NewMemoryLedger(currency string, recentDays int) *MemoryLedger {
	return &MemoryLedger{
		currency:   currency,
		recentDays: recentDays,
		now:        time.Now,
		records:    make(map[string][]Record),
		byCall:     make(map[[2]string]Record),
		snapshots:  make(map[string][]Snapshot),
	}
}

func (m *MemoryLedger) CreateExpense(ctx context.Context, userID, callID string, f Fields) (Record, error) {
	return m.create(userID, callID, KindExpense, f)
}

func (m *MemoryLedger) CreateIncome(ctx context.Context, userID, callID string, f Fields) (Record, error) {
	return m.create(userID, callID, KindIncome, f)
}

func (m *MemoryLedger) create(userID, callID string, k Kind, f Fields) (Record, error) {
	if err := f.Check(k); err != nil {
		return Record{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := [2]string{userID, callID}
	if callID != "" {
		if existing, ok := m.byCall[key]; ok {
			return existing, nil
		}
	}

	rec := Record{
		ID:         uuid.New().String(),
		UserID:     userID,
		Kind:       k,
		ToolCallID: callID,
		CreatedAt:  m.now().UTC(),
		Fields:     f,
	}
	m.records[userID] = append(m.records[userID], rec)
	if callID != "" {
		m.byCall[key] = rec
	}
	return rec, nil
}

// Records returns a copy of a user's records in insertion order.
func (m *MemoryLedger) Records(userID string) []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.records[userID])
}

func (m *MemoryLedger) Summary(ctx context.Context, userID string) (Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Summarize(m.records[userID], m.currency, m.recentDays, m.now())
	if snaps := m.snapshots[userID]; len(snaps) > 0 {
		last := snaps[len(snaps)-1]
		s.Previous = &last
	}
	return s, nil
}

// UserIDs lists users with at least one record.
func (m *MemoryLedger) UserIDs(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.records))
	for id := range m.records {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

// SaveSnapshot appends a balance snapshot.
func (m *MemoryLedger) SaveSnapshot(ctx context.Context, snap Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[snap.UserID] = append(m.snapshots[snap.UserID], snap)
	return nil
}
