package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/CamFlow/callgraphs/internal/graph"
	_ "github.com/mattn/go-sqlite3"
)

// Store persists call-graph observations.
type Store interface {
	// Persist resolves caller and callees and records the caller's edges.
	Persist(ctx context.Context, caller graph.Identity, callees []graph.Identity) (Outcome, error)
	// PersistAll persists each observation independently and joins the failures.
	PersistAll(ctx context.Context, obs []graph.Observation) ([]Outcome, error)
	// Counts returns the number of function and call rows.
	Counts(ctx context.Context) (functions, calls int, err error)
	// Close releases the statements and the connection.
	Close() error
}

const defaultBusyTimeout = 5 * time.Second

type options struct {
	busyTimeout time.Duration
	retry       RetryPolicy
	policy      EdgePolicy
}

// Option configures Open.
type Option func(*options)

// WithBusyTimeout sets how long SQLite itself waits on a lock before reporting busy.
func WithBusyTimeout(d time.Duration) Option {
	return func(o *options) { o.busyTimeout = d }
}

// WithRetry sets the retry policy used when SQLite reports busy.
func WithRetry(p RetryPolicy) Option {
	return func(o *options) { o.retry = p }
}

// WithEdgePolicy selects caller-level or edge-level idempotency.
func WithEdgePolicy(p EdgePolicy) Option {
	return func(o *options) { o.policy = p }
}

// statements are prepared once per Open and reused by every Persist call.
type statements struct {
	findGlobal       *sql.Stmt
	findLocal        *sql.Stmt
	insertNode       *sql.Stmt
	updateLocation   *sql.Stmt
	insertEdge       *sql.Stmt
	insertEdgeIgnore *sql.Stmt
	hasEdges         *sql.Stmt
}

var queries = []struct {
	name  string
	query string
	dst   func(*statements) **sql.Stmt
}{
	{"find-global", "SELECT Id, File, Line FROM functions WHERE Global = 1 AND Name = ?1",
		func(s *statements) **sql.Stmt { return &s.findGlobal }},
	{"find-local", "SELECT Id, File, Line FROM functions WHERE Global = 0 AND Name = ?1 AND File = ?2",
		func(s *statements) **sql.Stmt { return &s.findLocal }},
	{"insert-node", "INSERT INTO functions (Name, File, Line, Global) VALUES (?1, ?2, ?3, ?4)",
		func(s *statements) **sql.Stmt { return &s.insertNode }},
	{"update-location", "UPDATE functions SET File = ?2, Line = ?3 WHERE Id = ?1",
		func(s *statements) **sql.Stmt { return &s.updateLocation }},
	{"insert-edge", "INSERT INTO calls (Caller, Callee) VALUES (?1, ?2)",
		func(s *statements) **sql.Stmt { return &s.insertEdge }},
	{"insert-edge-ignore", "INSERT OR IGNORE INTO calls (Caller, Callee) VALUES (?1, ?2)",
		func(s *statements) **sql.Stmt { return &s.insertEdgeIgnore }},
	{"has-outgoing-edges", "SELECT EXISTS (SELECT 1 FROM calls WHERE Caller = ?1)",
		func(s *statements) **sql.Stmt { return &s.hasEdges }},
}

// SQLiteStore implements Store over one SQLite connection. It is not safe for
// concurrent use; open one per worker or per process.
type SQLiteStore struct {
	db     *sql.DB
	opts   options
	stmts  statements
	closed bool

	// ids memoizes key -> row id for this connection only. Rows are never
	// deleted, so an id stays valid once its transaction committed.
	ids map[graph.Key]int64
}

var _ Store = (*SQLiteStore)(nil)

// Open creates or opens the store at dbPath, initializes the schema and
// prepares every statement. Nothing is left open when it fails.
func Open(dbPath string, opts ...Option) (*SQLiteStore, error) {
	o := options{
		busyTimeout: defaultBusyTimeout,
		retry:       DefaultRetryPolicy(),
		policy:      EdgePolicyCaller,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if dbPath == "" {
		return nil, fmt.Errorf("%w: empty path", ErrOpen)
	}

	db, err := sql.Open("sqlite3", dsn(dbPath, o.busyTimeout))
	if err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrOpen, dbPath, err)
	}
	// One connection per session: statements, transactions and the busy
	// handler all live on it.
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	if _, err := retry(ctx, o.retry, func() (struct{}, error) {
		return struct{}{}, Init(ctx, db)
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w %s: init schema: %w", ErrOpen, dbPath, err)
	}
	// INSERT OR IGNORE only deduplicates edges against the pair index.
	if o.policy == EdgePolicyEdge {
		if _, err := retry(ctx, o.retry, func() (struct{}, error) {
			return struct{}{}, RequireEdgeIndex(ctx, db)
		}); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w %s: edge index: %w", ErrOpen, dbPath, err)
		}
	}

	s := &SQLiteStore{db: db, opts: o, ids: make(map[graph.Key]int64)}
	if err := s.prepare(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func dsn(path string, busy time.Duration) string {
	v := url.Values{}
	v.Set("_busy_timeout", fmt.Sprint(busy.Milliseconds()))
	v.Set("_journal_mode", "WAL")
	v.Set("_foreign_keys", "on")
	v.Set("_txlock", "immediate")
	return "file:" + path + "?" + v.Encode()
}

func (s *SQLiteStore) prepare(ctx context.Context) error {
	for _, q := range queries {
		stmt, err := s.db.PrepareContext(ctx, q.query)
		if err != nil {
			return fmt.Errorf("%w %s: %w", ErrPrepare, q.name, err)
		}
		*q.dst(&s.stmts) = stmt
	}
	return nil
}

// Close finalizes every prepared statement and closes the connection. It is
// safe to call more than once.
func (s *SQLiteStore) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	var errs []error
	for _, q := range queries {
		p := q.dst(&s.stmts)
		if *p == nil {
			continue
		}
		if err := (*p).Close(); err != nil {
			errs = append(errs, err)
		}
		*p = nil
	}
	if err := s.db.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Counts returns the number of function and call rows.
func (s *SQLiteStore) Counts(ctx context.Context) (functions, calls int, err error) {
	err = s.db.QueryRowContext(ctx,
		"SELECT (SELECT COUNT(*) FROM functions), (SELECT COUNT(*) FROM calls)",
	).Scan(&functions, &calls)
	return functions, calls, err
}

// Lookup returns the stored node for id's key, if any.
func (s *SQLiteStore) Lookup(ctx context.Context, id graph.Identity) (graph.Node, bool, error) {
	var (
		n      graph.Node
		global int
	)
	q := "SELECT Id, Name, File, Line, Global FROM functions WHERE Global = 1 AND Name = ?1"
	args := []any{id.Name}
	if id.Scope == graph.Local {
		q = "SELECT Id, Name, File, Line, Global FROM functions WHERE Global = 0 AND Name = ?1 AND File = ?2"
		args = append(args, id.File)
	}
	err := s.db.QueryRowContext(ctx, q, args...).Scan(&n.ID, &n.Name, &n.File, &n.Line, &global)
	if err == sql.ErrNoRows {
		return graph.Node{}, false, nil
	}
	if err != nil {
		return graph.Node{}, false, err
	}
	if global == 0 {
		n.Scope = graph.Local
	}
	return n, true, nil
}

// Edges returns the outgoing edges of caller in insertion order.
func (s *SQLiteStore) Edges(ctx context.Context, caller int64) ([]graph.Edge, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT Caller, Callee FROM calls WHERE Caller = ?1 ORDER BY rowid", caller)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var edges []graph.Edge
	for rows.Next() {
		var e graph.Edge
		if err := rows.Scan(&e.Caller, &e.Callee); err != nil {
			return nil, err
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}
