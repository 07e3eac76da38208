package archive

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	gitignore "github.com/go-git/go-git/v5/plumbing/format/gitignore"
	"golang.org/x/sys/unix"

	aferrors "github.com/flarebyte/autofeedback/internal/errors"
	"github.com/flarebyte/autofeedback/internal/logging"
)

// TarBuilder archives a directory tree. Regular files and symlinks count
// toward Budget; a symlink's size is the length of its target.
type TarBuilder struct {
	Budget    int64
	Gitignore bool
	Log       logging.Logger
}

func (b TarBuilder) Build(ctx context.Context, root *os.File, w io.Writer) (Stats, error) {
	// A private descriptor keeps the caller's directory offset untouched.
	fd, err := unix.Openat(int(root.Fd()), ".", unix.O_RDONLY|unix.O_DIRECTORY|unix.O_CLOEXEC, 0)
	if err != nil {
		return Stats{}, fmt.Errorf("opening submission directory: %w", err)
	}
	top := os.NewFile(uintptr(fd), root.Name())
	defer top.Close()

	wk := &walker{ctx: ctx, tw: tar.NewWriter(w), budget: b.Budget, ignore: b.Gitignore, log: b.Log}
	if err := wk.dir(top, "", nil, nil); err != nil {
		return wk.stats, err
	}
	if err := wk.tw.Close(); err != nil {
		return wk.stats, fmt.Errorf("finishing tar: %w", err)
	}
	return wk.stats, nil
}

type walker struct {
	ctx    context.Context
	tw     *tar.Writer
	budget int64
	ignore bool
	log    logging.Logger
	stats  Stats
}

func (w *walker) dir(d *os.File, prefix string, base []string, patterns []gitignore.Pattern) error {
	names, err := d.Readdirnames(-1)
	if err != nil {
		return fmt.Errorf("reading directory %s: %w", displayName(prefix), err)
	}
	sort.Strings(names)
	dfd := int(d.Fd())

	var matcher gitignore.Matcher
	if w.ignore {
		patterns = append(patterns[:len(patterns):len(patterns)], readIgnore(dfd, base)...)
		if len(patterns) > 0 {
			matcher = gitignore.NewMatcher(patterns)
		}
	}

	for _, name := range names {
		if name == "." || name == ".." {
			continue
		}
		if err := w.ctx.Err(); err != nil {
			return err
		}
		var st unix.Stat_t
		if err := unix.Fstatat(dfd, name, &st, unix.AT_SYMLINK_NOFOLLOW); err != nil {
			return fmt.Errorf("stat %s: %w", prefix+name, err)
		}
		path := append(base[:len(base):len(base)], name)
		kind := st.Mode & unix.S_IFMT
		if matcher != nil && matcher.Match(path, kind == unix.S_IFDIR) {
			w.log.Debugf("ignoring %s", prefix+name)
			continue
		}
		switch kind {
		case unix.S_IFDIR:
			err = w.subdir(dfd, name, prefix, path, &st, patterns)
		case unix.S_IFREG:
			err = w.file(dfd, name, prefix, &st)
		case unix.S_IFLNK:
			err = w.symlink(dfd, name, prefix, &st)
		default:
			w.log.Debugf("skipping special file %s", prefix+name)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (w *walker) subdir(dfd int, name, prefix string, path []string, st *unix.Stat_t, patterns []gitignore.Pattern) error {
	rel := prefix + name + "/"
	fd, err := unix.Openat(dfd, name, unix.O_RDONLY|unix.O_DIRECTORY|unix.O_NOFOLLOW|unix.O_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("opening directory %s: %w", rel, err)
	}
	sub := os.NewFile(uintptr(fd), rel)
	defer sub.Close()
	if err := sameEntry(fd, st, rel); err != nil {
		return err
	}
	w.log.Debugf("recursed into directory %s", rel)
	hdr := header(rel, st)
	hdr.Typeflag = tar.TypeDir
	if err := w.tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("writing %s: %w", rel, err)
	}
	w.stats.Entries++
	return w.dir(sub, rel, path, patterns)
}

func (w *walker) file(dfd int, name, prefix string, st *unix.Stat_t) error {
	rel := prefix + name
	// O_NONBLOCK keeps a fifo swapped in after the stat from blocking the open.
	fd, err := unix.Openat(dfd, name, unix.O_RDONLY|unix.O_NOFOLLOW|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("opening %s: %w", rel, err)
	}
	f := os.NewFile(uintptr(fd), rel)
	defer f.Close()
	if err := sameEntry(fd, st, rel); err != nil {
		return err
	}
	if err := w.charge(st.Size); err != nil {
		return err
	}
	hdr := header(rel, st)
	hdr.Typeflag = tar.TypeReg
	hdr.Size = st.Size
	if err := w.tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("writing %s: %w", rel, err)
	}
	n, err := io.CopyN(w.tw, f, st.Size)
	if errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %s shrank to %d bytes", aferrors.ErrEntryChanged, rel, n)
	}
	if err != nil {
		return fmt.Errorf("writing %s: %w", rel, err)
	}
	w.stats.Entries++
	return nil
}

func (w *walker) symlink(dfd int, name, prefix string, st *unix.Stat_t) error {
	rel := prefix + name
	size := st.Size
	if size <= 0 || size >= unix.PathMax {
		size = unix.PathMax
	}
	buf := make([]byte, size+1)
	n, err := unix.Readlinkat(dfd, name, buf)
	if err != nil {
		return fmt.Errorf("reading link %s: %w", rel, err)
	}
	if int64(n) != st.Size {
		return fmt.Errorf("%w: link %s", aferrors.ErrEntryChanged, rel)
	}
	if err := w.charge(int64(n)); err != nil {
		return err
	}
	hdr := header(rel, st)
	hdr.Typeflag = tar.TypeSymlink
	hdr.Linkname = string(buf[:n])
	if err := w.tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("writing %s: %w", rel, err)
	}
	w.stats.Entries++
	return nil
}

func (w *walker) charge(size int64) error {
	if w.stats.Bytes+size > w.budget {
		return fmt.Errorf("%w (%d bytes)", aferrors.ErrBudgetExceeded, w.budget)
	}
	w.stats.Bytes += size
	return nil
}

// sameEntry checks that the descriptor refers to the entry that was stat'd.
func sameEntry(fd int, want *unix.Stat_t, rel string) error {
	var got unix.Stat_t
	if err := unix.Fstat(fd, &got); err != nil {
		return fmt.Errorf("fstat %s: %w", rel, err)
	}
	if got.Dev != want.Dev || got.Ino != want.Ino || got.Mode&unix.S_IFMT != want.Mode&unix.S_IFMT {
		return fmt.Errorf("%w: %s", aferrors.ErrEntryChanged, rel)
	}
	if got.Size != want.Size && got.Mode&unix.S_IFMT == unix.S_IFREG {
		return fmt.Errorf("%w: %s changed size", aferrors.ErrEntryChanged, rel)
	}
	return nil
}

func header(name string, st *unix.Stat_t) *tar.Header {
	return &tar.Header{
		Name:    name,
		Mode:    int64(st.Mode & 0o7777),
		Uid:     int(st.Uid),
		Gid:     int(st.Gid),
		ModTime: time.Unix(st.Mtim.Unix()),
		Format:  tar.FormatPAX,
	}
}

func displayName(prefix string) string {
	if prefix == "" {
		return "."
	}
	return strings.TrimSuffix(prefix, "/")
}
