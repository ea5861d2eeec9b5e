package store

// migration represents a single schema migration.
type migration struct {
	Version int
	Name    string
	SQL     string
}

// migrations is the ordered list of all schema migrations.
var migrations = []migration{
	{
		Version: 1,
		Name:    "create transcripts and turns",
		SQL: `
			CREATE TABLE transcripts (
				user_id           TEXT PRIMARY KEY,
				long_term_context TEXT NOT NULL DEFAULT '{}',
				created_at        TEXT NOT NULL,
				updated_at        TEXT NOT NULL
			);

			CREATE TABLE turns (
				id           INTEGER PRIMARY KEY AUTOINCREMENT,
				user_id      TEXT NOT NULL REFERENCES transcripts(user_id),
				user_message TEXT NOT NULL,
				ai_response  TEXT NOT NULL,
				timestamp    TEXT NOT NULL
			);

			CREATE INDEX idx_turns_user ON turns (user_id, id);
		`,
	},
	{
		Version: 2,
		Name:    "create ledger records",
		SQL: `
			CREATE TABLE records (
				id               TEXT PRIMARY KEY,
				user_id          TEXT NOT NULL,
				kind             TEXT NOT NULL CHECK (kind IN ('expense', 'income')),
				tool_call_id     TEXT,
				title            TEXT NOT NULL,
				description      TEXT NOT NULL DEFAULT '',
				category         TEXT NOT NULL,
				amount           TEXT NOT NULL,
				transaction_date TEXT NOT NULL,
				created_at       TEXT NOT NULL
			);

			CREATE UNIQUE INDEX idx_records_call ON records (user_id, tool_call_id);
			CREATE INDEX idx_records_user_date ON records (user_id, transaction_date);
		`,
	},
	{
		Version: 3,
		Name:    "create balance snapshots",
		SQL: `
			CREATE TABLE balance_snapshots (
				id              INTEGER PRIMARY KEY AUTOINCREMENT,
				user_id         TEXT NOT NULL,
				total_income    TEXT NOT NULL,
				total_expense   TEXT NOT NULL,
				current_balance TEXT NOT NULL,
				calculated_at   TEXT NOT NULL
			);

			CREATE INDEX idx_snapshots_user ON balance_snapshots (user_id, calculated_at);
		`,
	},
}
