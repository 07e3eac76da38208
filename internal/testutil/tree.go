package testutil

import (
	"bytes"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
)

// WriteTree creates files under root with exact byte sizes. Keys ending in
// "/" create directories.
func WriteTree(t *testing.T, root string, files map[string]int) {
	t.Helper()
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		full := filepath.Join(root, filepath.FromSlash(p))
		if strings.HasSuffix(p, "/") {
			if err := os.MkdirAll(full, 0o755); err != nil {
				t.Fatalf("mkdir %s: %v", p, err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", filepath.Dir(p), err)
		}
		if err := os.WriteFile(full, bytes.Repeat([]byte("x"), files[p]), 0o644); err != nil {
			t.Fatalf("write %s: %v", p, err)
		}
	}
}

// Symlink creates root/name pointing at target.
func Symlink(t *testing.T, root, name, target string) {
	t.Helper()
	if err := os.Symlink(target, filepath.Join(root, filepath.FromSlash(name))); err != nil {
		t.Fatalf("symlink %s: %v", name, err)
	}
}

// OpenDir opens dir for use as a directory handle and closes it on cleanup.
func OpenDir(t *testing.T, dir string) *os.File {
	t.Helper()
	f, err := os.Open(dir)
	if err != nil {
		t.Fatalf("open %s: %v", dir, err)
	}
	t.Cleanup(func() { _ = f.Close() })
	return f
}
