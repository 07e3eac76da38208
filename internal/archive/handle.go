package archive

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	aferrors "github.com/flarebyte/autofeedback/internal/errors"
)

const (
	suffixLen      = 6
	suffixAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	createAttempts = 100
)

// Handle is an artifact that is written once and then read back through a
// duplicated descriptor.
type Handle struct {
	file   *os.File
	path   string
	writer io.WriteCloser
}

// CreateUnique creates dir/<prefix><6 random chars>.<ext> exclusively and sets
// its mode, regardless of the umask.
func CreateUnique(dir, prefix, ext string, mode fs.FileMode) (*Handle, error) {
	for i := 0; i < createAttempts; i++ {
		suffix, err := randomSuffix()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", aferrors.ErrOutputFile, err)
		}
		path := filepath.Join(dir, prefix+suffix+"."+ext)
		f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL|unix.O_NOFOLLOW, 0o600)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w %s: %v", aferrors.ErrOutputFile, path, err)
		}
		if err := f.Chmod(mode); err != nil {
			_ = f.Close()
			_ = os.Remove(path)
			return nil, fmt.Errorf("%w: chmod %s: %v", aferrors.ErrOutputFile, path, err)
		}
		return &Handle{file: f, path: path}, nil
	}
	return nil, fmt.Errorf("%w: no unique name under %s after %d attempts", aferrors.ErrOutputFile, dir, createAttempts)
}

// CreateAnonymous creates a temporary artifact in dir and unlinks it at once;
// it lives only as long as its descriptors.
func CreateAnonymous(dir string) (*Handle, error) {
	f, err := os.CreateTemp(dir, "autofeedback-*")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", aferrors.ErrOutputFile, err)
	}
	if err := os.Remove(f.Name()); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: unlinking %s: %v", aferrors.ErrOutputFile, f.Name(), err)
	}
	return &Handle{file: f}, nil
}

func randomSuffix() (string, error) {
	b := make([]byte, suffixLen)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	for i := range b {
		b[i] = suffixAlphabet[int(b[i])%len(suffixAlphabet)]
	}
	return string(b), nil
}

// Path is empty for anonymous artifacts.
func (h *Handle) Path() string { return h.path }

// ID is the artifact's base name.
func (h *Handle) ID() string {
	if h.path == "" {
		return ""
	}
	return filepath.Base(h.path)
}

func (h *Handle) File() *os.File { return h.file }

// Writer returns the write stack for the artifact. It may be called once.
func (h *Handle) Writer(c Compression) (io.Writer, error) {
	if h.writer != nil {
		return nil, errors.New("artifact writer already open")
	}
	w, err := compressWriter(h.file, c)
	if err != nil {
		return nil, err
	}
	h.writer = w
	return w, nil
}

// Reopen finishes writing and returns a duplicate descriptor positioned at
// the start of the artifact. The caller owns the returned file.
func (h *Handle) Reopen() (*os.File, error) {
	if h.writer != nil {
		if err := h.writer.Close(); err != nil {
			return nil, fmt.Errorf("closing artifact writer: %w", err)
		}
		h.writer = nil
	}
	fd, err := unix.Dup(int(h.file.Fd()))
	if err != nil {
		return nil, fmt.Errorf("duplicating artifact descriptor: %w", err)
	}
	unix.CloseOnExec(fd)
	r := os.NewFile(uintptr(fd), h.file.Name())
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		_ = r.Close()
		return nil, fmt.Errorf("rewinding artifact: %w", err)
	}
	return r, nil
}

// Discard empties the artifact through its descriptor and then tries to
// unlink it. Unlinking can fail once privileges are gone; the artifact is
// then left empty.
func (h *Handle) Discard() (unlinked bool, err error) {
	if h.writer != nil {
		_ = h.writer.Close()
		h.writer = nil
	}
	if err := h.file.Truncate(0); err != nil {
		return false, fmt.Errorf("truncating artifact: %w", err)
	}
	if h.path == "" {
		return true, nil
	}
	if err := os.Remove(h.path); err != nil {
		return false, nil
	}
	return true, nil
}

// Close releases the write descriptor. Duplicates returned by Reopen stay open.
func (h *Handle) Close() error {
	if h.writer != nil {
		_ = h.writer.Close()
		h.writer = nil
	}
	return h.file.Close()
}
