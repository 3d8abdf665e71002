package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/CamFlow/callgraphs/internal/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry() RetryPolicy {
	return RetryPolicy{
		MaxTries:        0,
		InitialInterval: 10 * time.Millisecond,
		MaxInterval:     50 * time.Millisecond,
		MaxElapsed:      10 * time.Second,
	}
}

func newTestStore(t *testing.T, opts ...Option) (*SQLiteStore, string) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "callgraph.db")
	s := openTestStore(t, dbPath, opts...)
	return s, dbPath
}

func openTestStore(t *testing.T, dbPath string, opts ...Option) *SQLiteStore {
	t.Helper()
	opts = append([]Option{WithRetry(fastRetry())}, opts...)
	s, err := Open(dbPath, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_CreatesSchema(t *testing.T) {
	s, _ := newTestStore(t)

	for _, table := range []string{"functions", "calls"} {
		var name string
		err := s.db.QueryRow("SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&name)
		require.NoError(t, err, table)
	}
	for _, idx := range []string{"functions_global_name", "functions_local_name_file", "calls_caller_callee"} {
		var name string
		err := s.db.QueryRow("SELECT name FROM sqlite_master WHERE type = 'index' AND name = ?", idx).Scan(&name)
		require.NoError(t, err, idx)
	}

	functions, calls, err := s.Counts(context.Background())
	require.NoError(t, err)
	assert.Zero(t, functions)
	assert.Zero(t, calls)
}

func TestOpen_SchemaInitIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s, dbPath := newTestStore(t)
	_, err := s.Persist(ctx, graph.Identity{Name: "main", File: "main.c", Line: 1}, []graph.Identity{{Name: "puts"}})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened := openTestStore(t, dbPath)
	require.NoError(t, Init(ctx, reopened.db))

	functions, calls, err := reopened.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, functions)
	assert.Equal(t, 1, calls)
}

// writeLegacyStore builds a store without the pair index holding main -> log twice.
func writeLegacyStore(t *testing.T) string {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "legacy.db")
	db, err := sql.Open("sqlite3", dbPath)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(ddl)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO functions (Id, Name, File, Line, Global) VALUES
		(1, 'main', 'main.c', 3, 1), (2, 'log', '', 0, 1)`)
	require.NoError(t, err)
	_, err = db.Exec("INSERT INTO calls (Caller, Callee) VALUES (1, 2), (1, 2)")
	require.NoError(t, err)
	return dbPath
}

func hasIndex(t *testing.T, s *SQLiteStore, name string) bool {
	t.Helper()
	var n int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name = ?", name).Scan(&n))
	return n > 0
}

func TestOpen_LegacyStoreWithRepeatedEdges(t *testing.T) {
	ctx := context.Background()
	dbPath := writeLegacyStore(t)

	s := openTestStore(t, dbPath)
	assert.False(t, hasIndex(t, s, "calls_caller_callee"))

	out, err := s.Persist(ctx, graph.Identity{Name: "main", File: "main.c", Line: 3}, []graph.Identity{{Name: "log"}})
	require.NoError(t, err)
	assert.True(t, out.Skipped)

	// A caller the legacy writer never saw still gets its edges.
	out, err = s.Persist(ctx, graph.Identity{Name: "init", File: "init.c", Line: 1}, []graph.Identity{{Name: "log"}})
	require.NoError(t, err)
	assert.Equal(t, 1, out.EdgesCreated)

	functions, calls := counts(t, s)
	assert.Equal(t, 3, functions)
	assert.Equal(t, 3, calls)
}

func TestOpen_EdgePolicyCollapsesRepeatedEdges(t *testing.T) {
	ctx := context.Background()
	dbPath := writeLegacyStore(t)

	s := openTestStore(t, dbPath, WithEdgePolicy(EdgePolicyEdge))
	assert.True(t, hasIndex(t, s, "calls_caller_callee"))

	functions, calls := counts(t, s)
	assert.Equal(t, 2, functions)
	assert.Equal(t, 1, calls)

	out, err := s.Persist(ctx, graph.Identity{Name: "main", File: "main.c", Line: 3}, []graph.Identity{{Name: "log"}, {Name: "exit"}})
	require.NoError(t, err)
	assert.Equal(t, 1, out.EdgesCreated)
	_, calls = counts(t, s)
	assert.Equal(t, 2, calls)
}

func TestOpen_Errors(t *testing.T) {
	t.Run("empty path", func(t *testing.T) {
		_, err := Open("")
		assert.ErrorIs(t, err, ErrOpen)
	})

	t.Run("missing directory", func(t *testing.T) {
		_, err := Open(filepath.Join(t.TempDir(), "no", "such", "dir", "graph.db"), WithRetry(fastRetry()))
		assert.ErrorIs(t, err, ErrOpen)
	})

	t.Run("schema mismatch fails prepare", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "old.db")
		raw, err := sql.Open("sqlite3", dbPath)
		require.NoError(t, err)
		_, err = raw.Exec("CREATE TABLE functions (Id INTEGER PRIMARY KEY, Name TEXT, File TEXT, Global INTEGER)")
		require.NoError(t, err)
		require.NoError(t, raw.Close())

		_, err = Open(dbPath, WithRetry(fastRetry()))
		assert.ErrorIs(t, err, ErrPrepare)
		assert.Contains(t, err.Error(), "find-global")
	})
}

func TestClose_Twice(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, s.Close())
	assert.NoError(t, s.Close())
}

func TestParseEdgePolicy(t *testing.T) {
	p, err := ParseEdgePolicy("")
	require.NoError(t, err)
	assert.Equal(t, EdgePolicyCaller, p)

	p, err = ParseEdgePolicy("edge")
	require.NoError(t, err)
	assert.Equal(t, EdgePolicyEdge, p)
	assert.Equal(t, "edge", p.String())

	_, err = ParseEdgePolicy("callee")
	assert.Error(t, err)
}

func TestDSN(t *testing.T) {
	d := dsn("/tmp/graph.db", 1500*time.Millisecond)
	assert.Contains(t, d, "file:/tmp/graph.db?")
	assert.Contains(t, d, "_busy_timeout=1500")
	assert.Contains(t, d, "_txlock=immediate")
	assert.Contains(t, d, "_journal_mode=WAL")
}
