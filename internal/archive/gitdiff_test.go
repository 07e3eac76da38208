package archive

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"

	aferrors "github.com/flarebyte/autofeedback/internal/errors"
	"github.com/flarebyte/autofeedback/internal/testutil"
)

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := os.Stat(DefaultGit); err != nil {
		t.Skip("git not installed")
	}
}

func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "main.c"), []byte("int main(void) { return 0; }\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		t.Fatalf("worktree: %v", err)
	}
	if _, err := wt.Add("main.c"); err != nil {
		t.Fatalf("add: %v", err)
	}
	sig := &object.Signature{Name: "t", Email: "t@example.com", When: time.Unix(0, 0)}
	if _, err := wt.Commit("start", &git.CommitOptions{Author: sig, Committer: sig}); err != nil {
		t.Fatalf("commit: %v", err)
	}
	return dir
}

func gitEnv(t *testing.T) []string {
	return []string{"HOME=" + t.TempDir(), "PATH=/usr/bin:/bin", "SHELL=/bin/sh", "LANG=C"}
}

func TestGitDiff_Patch(t *testing.T) {
	requireGit(t)
	dir := initRepo(t)
	if err := os.WriteFile(filepath.Join(dir, "main.c"), []byte("int main(void) { return 1; }\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	var buf bytes.Buffer
	st, err := GitDiff{Budget: 4096, Env: gitEnv(t)}.Build(context.Background(), testutil.OpenDir(t, dir), &buf)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !strings.Contains(buf.String(), "+int main(void) { return 1; }") || st.Truncated {
		t.Fatalf("unexpected diff (%+v):\n%s", st, buf.String())
	}
}

func TestGitDiff_Truncates(t *testing.T) {
	requireGit(t)
	dir := initRepo(t)
	if err := os.WriteFile(filepath.Join(dir, "main.c"), bytes.Repeat([]byte("line\n"), 200), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	var buf bytes.Buffer
	var logs bytes.Buffer
	g := GitDiff{Budget: 64, Env: gitEnv(t)}
	g.Log.Out = &logs
	st, err := g.Build(context.Background(), testutil.OpenDir(t, dir), &buf)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if buf.Len() != 64 || !st.Truncated {
		t.Fatalf("expected 64 truncated bytes, got %d (%+v)", buf.Len(), st)
	}
	if !strings.Contains(logs.String(), "truncated to 64 bytes") {
		t.Fatalf("missing truncation warning: %q", logs.String())
	}
}

func TestGitDiff_NoChanges(t *testing.T) {
	requireGit(t)
	dir := initRepo(t)
	var buf bytes.Buffer
	_, err := GitDiff{Budget: 4096, Env: gitEnv(t)}.Build(context.Background(), testutil.OpenDir(t, dir), &buf)
	if !errors.Is(err, aferrors.ErrEmptyDiff) {
		t.Fatalf("expected ErrEmptyDiff, got %v", err)
	}
}

func TestGitDiff_NotARepository(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	_, err := GitDiff{Budget: 4096}.Build(context.Background(), testutil.OpenDir(t, dir), &buf)
	if err == nil || !strings.Contains(err.Error(), "opening git repository") {
		t.Fatalf("expected repository error, got %v", err)
	}
}

func TestLimitedWriter(t *testing.T) {
	var buf bytes.Buffer
	lw := &limitedWriter{w: &buf, max: 5}
	n, _ := lw.Write([]byte("abc"))
	if n != 3 || lw.truncated {
		t.Fatalf("first write: n=%d truncated=%v", n, lw.truncated)
	}
	n, _ = lw.Write([]byte("defg"))
	if n != 4 || !lw.truncated || buf.String() != "abcde" {
		t.Fatalf("second write: n=%d truncated=%v buf=%q", n, lw.truncated, buf.String())
	}
}
