package audit

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/sys/unix"
)

// TimeLayout is the UTC timestamp prefix of each record.
const TimeLayout = "2006-01-02 15:04:05"

// ErrSuspended is returned when writing to a log whose lock has been given up.
var ErrSuspended = errors.New("audit log is suspended")

// ErrClosed is returned when writing to a released log.
var ErrClosed = errors.New("audit log is closed")

// Log is an open, exclusively locked audit log.
type Log struct {
	file      *os.File
	now       func() time.Time
	suspended bool
	closed    bool
}

// OpenAndLock opens path for appending (creating it with mode 0640) and
// blocks until it holds the exclusive lock.
func OpenAndLock(path string, now func() time.Time) (*Log, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o640)
	if err != nil {
		return nil, err
	}
	if err := flock(f, unix.LOCK_EX); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("locking %s: %w", path, err)
	}
	if now == nil {
		now = time.Now
	}
	return &Log{file: f, now: now}, nil
}

func flock(f *os.File, how int) error {
	for {
		err := unix.Flock(int(f.Fd()), how)
		if err != unix.EINTR {
			return err
		}
	}
}

// File exposes the descriptor so helpers can inherit it.
func (l *Log) File() *os.File { return l.file }

// Printf appends one timestamped record in a single write. Control
// characters inside the message are escaped, so a record is always exactly
// one line.
func (l *Log) Printf(format string, args ...any) error {
	if l.closed {
		return ErrClosed
	}
	if l.suspended {
		return ErrSuspended
	}
	msg := escapeControl(strings.TrimRight(fmt.Sprintf(format, args...), "\n"))
	line := l.now().UTC().Format(TimeLayout) + " " + msg + "\n"
	_, err := l.file.WriteString(line)
	return err
}

func escapeControl(s string) string {
	if strings.IndexFunc(s, unicode.IsControl) < 0 {
		return s
	}
	var b strings.Builder
	for _, r := range s {
		if !unicode.IsControl(r) {
			b.WriteRune(r)
			continue
		}
		q := strconv.QuoteRune(r)
		b.WriteString(q[1 : len(q)-1])
	}
	return b.String()
}

// Suspend flushes and unlocks the log but keeps the descriptor, so other
// requests can append while this one waits on a long-running helper.
func (l *Log) Suspend() error {
	if l.closed || l.suspended {
		return nil
	}
	if err := l.file.Sync(); err != nil && !errors.Is(err, unix.EINVAL) {
		return err
	}
	if err := flock(l.file, unix.LOCK_UN); err != nil {
		return err
	}
	l.suspended = true
	return nil
}

// Resume blocks until the lock is held again.
func (l *Log) Resume() error {
	if l.closed {
		return ErrClosed
	}
	if !l.suspended {
		return nil
	}
	if err := flock(l.file, unix.LOCK_EX); err != nil {
		return err
	}
	l.suspended = false
	return nil
}

// Release unlocks and closes the log. It is safe to call more than once.
func (l *Log) Release() error {
	if l.closed {
		return nil
	}
	l.closed = true
	var errs []error
	if !l.suspended {
		errs = append(errs, flock(l.file, unix.LOCK_UN))
	}
	errs = append(errs, l.file.Close())
	return errors.Join(errs...)
}
