package archive

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	aferrors "github.com/flarebyte/autofeedback/internal/errors"
	"github.com/flarebyte/autofeedback/internal/logging"
)

// DefaultGit is used when GitDiff.Git is empty. The sanitized environment's
// PATH does not apply to the lookup, so the path is absolute.
const DefaultGit = "/usr/bin/git"

// GitDiff packages the working tree changes against Revision as a patch.
// Output beyond Budget bytes is dropped.
type GitDiff struct {
	Budget   int64
	Revision string
	Git      string
	Env      []string
	Stderr   io.Writer
	Log      logging.Logger
}

func (g GitDiff) Build(ctx context.Context, root *os.File, w io.Writer) (Stats, error) {
	hash, err := g.resolve(root.Name())
	if err != nil {
		return Stats{}, err
	}
	git := g.Git
	if git == "" {
		git = DefaultGit
	}
	lw := &limitedWriter{w: w, max: g.Budget}
	cmd := exec.CommandContext(ctx, git, "diff", hash.String(), "--")
	cmd.Dir = root.Name()
	cmd.Env = g.Env
	cmd.Stdout = lw
	cmd.Stderr = g.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	runErr := cmd.Run()

	st := Stats{Entries: 1, Bytes: lw.n, Truncated: lw.truncated}
	if lw.err != nil {
		return st, fmt.Errorf("writing diff: %w", lw.err)
	}
	if lw.truncated {
		g.Log.Warnf("Submission was truncated to %d bytes", g.Budget)
	}
	if runErr != nil {
		return st, fmt.Errorf("git returned an error; did you specify the path of the right git repo? (%v)", runErr)
	}
	if lw.n == 0 {
		return st, fmt.Errorf("%w; did you specify the path of the right git repo?", aferrors.ErrEmptyDiff)
	}
	return st, nil
}

// resolve finds the repository containing dir and resolves the revision.
func (g GitDiff) resolve(dir string) (plumbing.Hash, error) {
	rev := g.Revision
	if rev == "" {
		rev = "HEAD"
	}
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("opening git repository at %s: %w", dir, err)
	}
	h, err := repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolving revision %q: %w", rev, err)
	}
	return *h, nil
}

// limitedWriter forwards at most max bytes to w and silently drops the rest,
// so the producer is never killed by a short write.
type limitedWriter struct {
	w         io.Writer
	max       int64
	n         int64
	truncated bool
	err       error
}

func (l *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	if l.err != nil {
		return n, nil
	}
	remain := l.max - l.n
	if remain > 0 {
		if remain > int64(len(p)) {
			remain = int64(len(p))
		}
		wn, err := l.w.Write(p[:remain])
		l.n += int64(wn)
		if err != nil {
			l.err = err
			return n, nil
		}
	}
	if int64(len(p)) > remain {
		l.truncated = true
	}
	return n, nil
}
