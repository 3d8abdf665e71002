package store

import (
	"context"
	"database/sql"
)

// Partial unique indexes keep the global and local identity domains disjoint;
// they are what serializes two writers racing on the same new identity.
const ddl = `
CREATE TABLE IF NOT EXISTS functions (
    Id     INTEGER PRIMARY KEY AUTOINCREMENT,
    Name   TEXT    NOT NULL,
    File   TEXT    NOT NULL DEFAULT '',
    Line   INTEGER NOT NULL DEFAULT 0,
    Global INTEGER NOT NULL CHECK (Global IN (0, 1))
);

CREATE UNIQUE INDEX IF NOT EXISTS functions_global_name
    ON functions (Name) WHERE Global = 1;

CREATE UNIQUE INDEX IF NOT EXISTS functions_local_name_file
    ON functions (Name, File) WHERE Global = 0;

CREATE TABLE IF NOT EXISTS calls (
    Caller INTEGER NOT NULL REFERENCES functions(Id),
    Callee INTEGER NOT NULL REFERENCES functions(Id)
);
`

// Stores written by check-then-insert recorders may hold repeated pairs, so
// this index is created separately from ddl.
const edgeIndex = `CREATE UNIQUE INDEX IF NOT EXISTS calls_caller_callee ON calls (Caller, Callee)`

// Init creates the schema tables if they don't exist. The pair index on calls
// is skipped when existing rows repeat a pair; see RequireEdgeIndex.
func Init(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, edgeIndex); err != nil && !isUniqueViolation(err) {
		return err
	}
	return nil
}

// RequireEdgeIndex makes sure the pair index on calls exists, dropping
// repeated pairs (keeping the first row of each) when needed to create it.
func RequireEdgeIndex(ctx context.Context, db *sql.DB) error {
	var n int
	err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name = 'calls_caller_callee'",
	).Scan(&n)
	if err != nil || n > 0 {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM calls WHERE rowid NOT IN (SELECT MIN(rowid) FROM calls GROUP BY Caller, Callee)",
	); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, edgeIndex); err != nil {
		return err
	}
	return tx.Commit()
}
