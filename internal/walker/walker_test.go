package walker

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

func collect(t *testing.T, ctx context.Context, root string, opts Options) []string {
	t.Helper()
	files, errs := Walk(ctx, root, opts)
	var got []string
	for f := range files {
		assert.True(t, filepath.IsAbs(f.Path))
		got = append(got, f.RelPath)
	}
	require.NoError(t, <-errs)
	sort.Strings(got)
	return got
}

func TestWalk(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "main.c", "int main(void) { return 0; }")
	writeFile(t, root, "lib/util.c", "void util(void) {}")
	writeFile(t, root, "lib/util.h", "void util(void);")
	writeFile(t, root, "lib/empty.c", "")
	writeFile(t, root, "README.md", "# readme")
	writeFile(t, root, ".git/hooks/x.c", "void x(void) {}")
	writeFile(t, root, "build/gen.c", "void gen(void) {}")
	writeFile(t, root, "third_party/dep.c", "void dep(void) {}")

	got := collect(t, context.Background(), root, Options{
		Extensions: map[string]bool{"c": true, "h": true},
		Ignore:     []string{"third_party"},
	})
	assert.Equal(t, []string{"lib/util.c", "lib/util.h", "main.c"}, got)

	data, err := os.ReadFile(filepath.Join(root, IgnoreFile))
	require.NoError(t, err)
	assert.Contains(t, string(data), ".git\n")
}

func TestWalk_IgnoreFile(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, IgnoreFile, "# generated code\ngen/\n*_test.c\n")
	writeFile(t, root, "a.c", "void a(void) {}")
	writeFile(t, root, "a_test.c", "void t(void) {}")
	writeFile(t, root, "gen/b.c", "void b(void) {}")
	writeFile(t, root, "build/c.c", "void c(void) {}")

	got := collect(t, context.Background(), root, Options{Extensions: map[string]bool{"c": true}})
	// The ignore file replaces the defaults, so build/ is walked.
	assert.Equal(t, []string{"a.c", "build/c.c"}, got)
}

func TestWalk_MaxSize(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "small.c", "void s(void) {}")
	writeFile(t, root, "large.c", "void l(void) { /* padding padding padding */ }")

	got := collect(t, context.Background(), root, Options{Extensions: map[string]bool{"c": true}, MaxSize: 20})
	assert.Equal(t, []string{"small.c"}, got)
}

func TestWalk_MissingRoot(t *testing.T) {
	files, errs := Walk(context.Background(), filepath.Join(t.TempDir(), "missing"), Options{})
	for range files {
	}
	assert.Error(t, <-errs)
}

func TestWalk_Cancelled(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"a.c", "b.c", "c.c"} {
		writeFile(t, root, name, "void f(void) {}")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	files, errs := Walk(ctx, root, Options{Extensions: map[string]bool{"c": true}})
	for range files {
	}
	assert.ErrorIs(t, <-errs, context.Canceled)
}

func TestMatchesIgnore(t *testing.T) {
	patterns := []string{"vendor", "third_party/zlib", "*.pb.c"}
	assert.True(t, matchesIgnore("vendor", "src/vendor", patterns))
	assert.True(t, matchesIgnore("zlib", "third_party/zlib", patterns))
	assert.True(t, matchesIgnore("inflate.c", "third_party/zlib/inflate.c", patterns))
	assert.True(t, matchesIgnore("msg.pb.c", "proto/msg.pb.c", patterns))
	assert.False(t, matchesIgnore("zlibx", "third_party/zlibx", patterns))
	assert.False(t, matchesIgnore("main.c", "main.c", patterns))
}
