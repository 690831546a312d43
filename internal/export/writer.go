package export

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// writer records every file an export produces so stale files can be
// pruned afterwards.
type writer struct {
	root   string
	logger *slog.Logger

	mu      sync.Mutex
	kept    map[string]bool
	written int
}

func newWriter(root string, logger *slog.Logger) *writer {
	return &writer{root: filepath.Clean(root), logger: logger, kept: make(map[string]bool)}
}

// write stores content at rel below the export root. Unchanged files are
// left untouched.
func (w *writer) write(rel string, content []byte) error {
	full := filepath.Join(w.root, filepath.FromSlash(rel))
	changed, err := writeFileIfChanged(full, content, w.logger)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.kept[full] = true
	if changed {
		w.written++
	}
	return nil
}

// writeFileIfChanged writes content to a file only if it differs from
// existing content. It reports whether the file was written.
func writeFileIfChanged(path string, content []byte, logger *slog.Logger) (bool, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("failed to create directory: %w", err)
	}

	if existing, err := os.ReadFile(path); err == nil && contentMatches(existing, content) {
		logger.Debug("file unchanged, skipping", "path", path)
		return false, nil
	}

	if err := os.WriteFile(path, content, 0o644); err != nil {
		return false, fmt.Errorf("failed to write file: %w", err)
	}
	logger.Debug("file written", "path", path)
	return true, nil
}

// contentMatches compares small files directly and large ones by hash.
func contentMatches(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	if len(a) < 1024 {
		return bytes.Equal(a, b)
	}
	return sha256.Sum256(a) == sha256.Sum256(b)
}

// prune removes files under the root that this export did not produce, then
// any directories left empty. It returns the removed files.
func (w *writer) prune() ([]string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var removed, dirs []string
	err := filepath.WalkDir(w.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			if p != w.root {
				dirs = append(dirs, p)
			}
			return nil
		}
		if w.kept[p] {
			return nil
		}
		if err := os.Remove(p); err != nil {
			return fmt.Errorf("failed to remove stale file %s: %w", p, err)
		}
		removed = append(removed, p)
		return nil
	})
	if err != nil {
		return removed, err
	}

	// deepest first
	sort.Sort(sort.Reverse(sort.StringSlice(dirs)))
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err == nil && len(entries) == 0 {
			_ = os.Remove(dir)
		}
	}
	return removed, nil
}
