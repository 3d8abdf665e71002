package index

import (
	"bytes"
	"context"
	"database/sql"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/CamFlow/callgraphs/internal/analyzer"
	"github.com/CamFlow/callgraphs/internal/diag"
	"github.com/CamFlow/callgraphs/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const unitA = `static int twice(int x)
{
	return x * 2;
}

int run(int n)
{
	return twice(n) + shared(n);
}
`

const unitB = `static int twice(int x)
{
	return x + x;
}

int shared(int n)
{
	return twice(n);
}
`

func writeTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	for name, src := range map[string]string{"a.c": unitA, "lib/b.c": unitB, "notes.txt": "ignored"} {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(src), 0o644))
	}
	return root
}

func testSink(buf *bytes.Buffer) *diag.Sink {
	return diag.NewSink(diag.New(buf, slog.LevelDebug))
}

func storeCounts(t *testing.T, dbPath string) (int, int) {
	t.Helper()
	s, err := store.Open(dbPath)
	require.NoError(t, err)
	defer s.Close()
	functions, calls, err := s.Counts(context.Background())
	require.NoError(t, err)
	return functions, calls
}

func TestIndex(t *testing.T) {
	ctx := context.Background()
	root := writeTree(t)
	dbPath := filepath.Join(t.TempDir(), "graph.db")

	var (
		mu      sync.Mutex
		updates []Progress
		logs    bytes.Buffer
	)
	idx := New(Config{
		DBPath:  dbPath,
		Workers: 2,
		Sink:    testSink(&logs),
		OnProgress: func(p Progress) {
			mu.Lock()
			updates = append(updates, p)
			mu.Unlock()
		},
	})

	stats, err := idx.Index(ctx, root)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.FilesTotal)
	assert.Equal(t, 2, stats.FilesAnalyzed)
	assert.Zero(t, stats.FilesFailed)
	assert.Equal(t, 4, stats.Callers)
	// twice@a.c, twice@lib/b.c, run, shared
	assert.Equal(t, 4, stats.Functions)
	assert.Equal(t, 3, stats.Edges)
	assert.Zero(t, stats.PersistFailures)
	assert.Empty(t, logs.String())

	require.Len(t, updates, 2)
	last := updates[len(updates)-1]
	assert.Equal(t, 2, last.Done)
	assert.Equal(t, 2, last.Total)

	functions, calls := storeCounts(t, dbPath)
	assert.Equal(t, 4, functions)
	assert.Equal(t, 3, calls)

	// A rebuild observes the same callers again and writes nothing.
	stats, err = idx.Index(ctx, root)
	require.NoError(t, err)
	assert.Zero(t, stats.Functions)
	assert.Zero(t, stats.Edges)
	assert.Equal(t, 2, stats.Skipped)

	functions, calls = storeCounts(t, dbPath)
	assert.Equal(t, 4, functions)
	assert.Equal(t, 3, calls)
}

func TestIndex_MissingRoot(t *testing.T) {
	idx := New(Config{Sink: testSink(&bytes.Buffer{})})
	_, err := idx.Index(context.Background(), filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestRecordUnit_DumpWithoutStore(t *testing.T) {
	var out bytes.Buffer
	idx := New(Config{Dump: &out, Sink: testSink(&bytes.Buffer{})})

	res, err := idx.RecordUnit(context.Background(), analyzer.Unit{Path: "a.c", Src: []byte(unitA)})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Callers)
	assert.Empty(t, res.Outcomes)

	assert.Equal(t, ";; twice (defined in a.c, l.1) (static) calls no function (other than builtins)\n"+
		";; run (defined in a.c, l.6) calls the following functions:\n"+
		";; \ttwice (defined in a.c, l.1) (static)\n"+
		";; \tshared (defined in , l.0)\n", out.String())
}

func TestRecordUnit_PersistFailureIsReported(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "graph.db")

	db, err := sql.Open("sqlite3", dbPath)
	require.NoError(t, err)
	require.NoError(t, store.Init(ctx, db))
	_, err = db.Exec(`CREATE TRIGGER reject_shared BEFORE INSERT ON calls
		WHEN (SELECT Name FROM functions WHERE Id = NEW.Callee) = 'shared'
		BEGIN SELECT RAISE(ABORT, 'shared rejected'); END`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	var logs bytes.Buffer
	idx := New(Config{DBPath: dbPath, Sink: testSink(&logs)})
	res, err := idx.RecordUnit(ctx, analyzer.Unit{Path: "a.c", Src: []byte(unitA)})
	require.NoError(t, err)
	assert.Equal(t, 1, res.PersistFailures)
	require.Len(t, res.Outcomes, 1)
	assert.Contains(t, logs.String(), "couldn't store functions in database")
	assert.Contains(t, logs.String(), "function=run")

	// The failed caller left nothing behind; twice was stored on its own.
	functions, calls := storeCounts(t, dbPath)
	assert.Equal(t, 1, functions)
	assert.Zero(t, calls)
}

func TestRecordUnit_Failures(t *testing.T) {
	ctx := context.Background()

	t.Run("strict syntax", func(t *testing.T) {
		var logs bytes.Buffer
		idx := New(Config{Strict: true, Sink: testSink(&logs)})
		_, err := idx.RecordUnit(ctx, analyzer.Unit{Path: "bad.c", Src: []byte("int f( {")})
		assert.ErrorIs(t, err, analyzer.ErrSyntax)
		assert.Contains(t, logs.String(), "skipping translation unit")
	})

	t.Run("store cannot open", func(t *testing.T) {
		var logs bytes.Buffer
		idx := New(Config{DBPath: t.TempDir(), Sink: testSink(&logs)})
		_, err := idx.RecordUnit(ctx, analyzer.Unit{Path: "a.c", Src: []byte(unitA)})
		assert.ErrorIs(t, err, store.ErrOpen)
	})

	t.Run("unsupported", func(t *testing.T) {
		idx := New(Config{DBPath: filepath.Join(t.TempDir(), "g.db")})
		assert.False(t, idx.Supports("x.rs"))
		res, err := idx.RecordUnit(ctx, analyzer.Unit{Path: "x.rs", Src: []byte("fn main() {}")})
		require.NoError(t, err)
		assert.Zero(t, res.Callers)
	})
}
