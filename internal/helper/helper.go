package helper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"

	"github.com/flarebyte/autofeedback/internal/cleanenv"
	aferrors "github.com/flarebyte/autofeedback/internal/errors"
)

// Descriptor numbers seen by the helper in addition to 0, 1 and 2.
const (
	DirFD   = 7
	AuditFD = 8
)

// Invocation describes one helper run.
type Invocation struct {
	// Path is the absolute helper path; it is also argv[0].
	Path string
	// Arg is the single argument.
	Arg string
	// Archive becomes stdin. Nil means /dev/null.
	Archive *os.File
	// Dir is the open submission directory, passed as DirFD.
	Dir *os.File
	// Audit is passed as AuditFD. Nil means stderr.
	Audit *os.File
	// Stdout receives the helper's output stream.
	Stdout io.Writer
	// Stderr defaults to os.Stderr.
	Stderr io.Writer
	// Env is the complete child environment. Nil means cleanenv.FromOS().
	Env []string
}

// ExitError reports a helper that exited non-zero or was killed by a signal.
type ExitError struct {
	Code   int
	Signal syscall.Signal
}

func (e *ExitError) Error() string {
	if e.Signal != 0 {
		return fmt.Sprintf("helper killed by signal %d (%s)", int(e.Signal), e.Signal)
	}
	return fmt.Sprintf("helper exited with status %d", e.Code)
}

func (e *ExitError) Unwrap() error { return aferrors.ErrHelperFailed }

// Command builds the exec.Cmd for inv without starting it.
func Command(ctx context.Context, inv Invocation) (*exec.Cmd, error) {
	if !filepath.IsAbs(inv.Path) {
		return nil, fmt.Errorf("helper path %q is not absolute", inv.Path)
	}
	if inv.Dir == nil {
		return nil, errors.New("helper: submission directory is required")
	}
	env := inv.Env
	if env == nil {
		var err error
		env, err = cleanenv.FromOS()
		if err != nil {
			return nil, err
		}
	}
	cmd := exec.CommandContext(ctx, inv.Path)
	cmd.Args = []string{inv.Path, inv.Arg}
	cmd.Env = env
	cmd.Dir = ""
	if inv.Archive != nil {
		cmd.Stdin = inv.Archive
	}
	cmd.Stdout = inv.Stdout
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	cmd.Stderr = inv.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	audit := inv.Audit
	if audit == nil {
		audit = os.Stderr
	}
	// ExtraFiles[i] is fd 3+i; nil entries are closed in the child.
	extra := make([]*os.File, AuditFD-2)
	extra[DirFD-3] = inv.Dir
	extra[AuditFD-3] = audit
	cmd.ExtraFiles = extra
	return cmd, nil
}

// Run starts the helper and waits for it to exit or be killed. No timeout
// is applied: a hung helper hangs the caller.
func Run(ctx context.Context, inv Invocation) error {
	cmd, err := Command(ctx, inv)
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("exec of %s: %w", inv.Path, err)
	}
	return exitStatus(cmd.Wait())
}

func exitStatus(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return fmt.Errorf("waiting for helper: %w", err)
	}
	if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return &ExitError{Code: -1, Signal: ws.Signal()}
	}
	return &ExitError{Code: exitErr.ExitCode()}
}

// IsExitError reports whether err is an ExitError and returns it.
func IsExitError(err error) (*ExitError, bool) {
	var e *ExitError
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
