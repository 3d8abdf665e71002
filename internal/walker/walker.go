// Package walker discovers translation units under a source tree.
package walker

import (
	"bufio"
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// IgnoreFile is read from the walk root. One pattern per line.
const IgnoreFile = ".callgraphsignore"

// File is one discovered translation unit.
type File struct {
	Path    string // absolute
	RelPath string // slash-separated, relative to the walk root
	Size    int64
}

// Options controls which files are emitted.
type Options struct {
	// Extensions without the leading dot. Empty emits nothing.
	Extensions map[string]bool
	// Ignore is appended to the patterns from the ignore file.
	Ignore []string
	// MaxSize skips larger files. Zero means DefaultMaxSize.
	MaxSize int64
}

// DefaultMaxSize is the largest unit considered (4 MB). Generated sources
// above this are rarely worth a call graph.
const DefaultMaxSize = 4 << 20

// defaultIgnores are used when no ignore file exists.
var defaultIgnores = []string{
	".git",
	".svn",
	".hg",
	"node_modules",
	"vendor",
	"testdata",
	".idea",
	".vscode",
	"build",
	"dist",
	"_examples",
}

// Walk traverses root and sends matching files on the returned channel. The
// file channel is closed when the walk finishes or ctx is done; at most one
// error is sent.
func Walk(ctx context.Context, root string, opts Options) (<-chan File, <-chan error) {
	files := make(chan File, 64)
	errs := make(chan error, 1)
	maxSize := opts.MaxSize
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}

	go func() {
		defer close(files)
		defer close(errs)

		absRoot, err := filepath.Abs(root)
		if err != nil {
			errs <- err
			return
		}
		ignores := append(loadIgnorePatterns(absRoot), opts.Ignore...)

		err = filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if path == absRoot {
					return err
				}
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}

			rel, _ := filepath.Rel(absRoot, path)
			rel = filepath.ToSlash(rel)
			if d.IsDir() {
				if path != absRoot && matchesIgnore(d.Name(), rel, ignores) {
					return filepath.SkipDir
				}
				return nil
			}
			if d.Type()&fs.ModeSymlink != 0 {
				return nil
			}
			if !opts.Extensions[strings.TrimPrefix(filepath.Ext(path), ".")] {
				return nil
			}
			if matchesIgnore(d.Name(), rel, ignores) {
				return nil
			}

			info, err := d.Info()
			if err != nil {
				return nil
			}
			if info.Size() > maxSize || info.Size() == 0 {
				return nil
			}

			select {
			case files <- File{Path: path, RelPath: rel, Size: info.Size()}:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		if err != nil {
			errs <- err
		}
	}()

	return files, errs
}

// loadIgnorePatterns reads the ignore file from root, creating it with the
// defaults when it does not exist.
func loadIgnorePatterns(root string) []string {
	ignorePath := filepath.Join(root, IgnoreFile)

	f, err := os.Open(ignorePath)
	if err != nil {
		createDefaultIgnoreFile(ignorePath)
		return append([]string(nil), defaultIgnores...)
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, strings.TrimSuffix(line, "/"))
	}
	if len(patterns) == 0 {
		return append([]string(nil), defaultIgnores...)
	}
	return patterns
}

func createDefaultIgnoreFile(path string) {
	var b strings.Builder
	b.WriteString("# Paths excluded from call graph indexing.\n")
	b.WriteString("# One pattern per line: a name, a path prefix or a glob.\n\n")
	for _, p := range defaultIgnores {
		b.WriteString(p)
		b.WriteByte('\n')
	}
	// Best effort; the defaults still apply in memory.
	_ = os.WriteFile(path, []byte(b.String()), 0o644)
}

// matchesIgnore checks a name or slash-separated relative path against the
// patterns.
func matchesIgnore(name, relPath string, patterns []string) bool {
	for _, p := range patterns {
		if name == p {
			return true
		}
		if relPath == p || strings.HasPrefix(relPath, p+"/") {
			return true
		}
		if matched, _ := filepath.Match(p, relPath); matched {
			return true
		}
		if matched, _ := filepath.Match(p, name); matched {
			return true
		}
	}
	return false
}
