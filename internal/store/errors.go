package store

import (
	"errors"
	"fmt"

	"github.com/CamFlow/callgraphs/internal/graph"
	"github.com/mattn/go-sqlite3"
)

var (
	// ErrOpen means the store file could not be opened, created or initialized.
	ErrOpen = errors.New("open store")
	// ErrPrepare means a statement could not be compiled against the schema.
	ErrPrepare = errors.New("prepare statement")
	// ErrOperation means a query, insert or update failed during Persist.
	ErrOperation = errors.New("store operation")
	// ErrBusy means the store stayed locked by other writers past the retry budget.
	ErrBusy = errors.New("store busy")
)

// PersistError is returned by Persist. It matches ErrOperation, or ErrBusy when
// the retry budget ran out, and unwraps to the driver error.
type PersistError struct {
	Op     string
	Caller graph.Identity
	Err    error

	kind error
}

func (e *PersistError) Error() string {
	if e.Caller.Name == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("persist %s: %s: %v", e.Caller.Name, e.Op, e.Err)
}

func (e *PersistError) Unwrap() []error {
	kind := e.kind
	if kind == nil {
		kind = ErrOperation
	}
	return []error{kind, e.Err}
}

func opError(op string, err error) error {
	return &PersistError{Op: op, Err: err}
}

// isBusy reports whether err is SQLite refusing a lock held by another connection.
func isBusy(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
	}
	return false
}

// isUniqueViolation reports whether err is a UNIQUE or PRIMARY KEY constraint failure.
func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique ||
			se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
