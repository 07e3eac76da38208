package deadline

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/flarebyte/autofeedback/internal/logging"
)

// Result is the deadline that applies to one user on one project. The
// deadline is the modification time of a marker file.
type Result struct {
	Path     string
	Found    bool
	Personal bool
	Deadline time.Time
	Passed   bool
}

// Check looks for root/deadline-<n>-<user>, then root/deadline-<n>.
func Check(root string, project int, user string, now time.Time) (Result, error) {
	shared := filepath.Join(root, "deadline-"+strconv.Itoa(project))
	personal := shared + "-" + user
	for _, p := range []string{personal, shared} {
		fi, err := os.Stat(p)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return Result{Path: p}, fmt.Errorf("checking deadline: %w", err)
		}
		d := fi.ModTime()
		return Result{
			Path:     p,
			Found:    true,
			Personal: p == personal,
			Deadline: d,
			Passed:   now.After(d),
		}, nil
	}
	return Result{Path: shared}, nil
}

// Report prints the user-facing deadline warnings. A missed deadline is a
// warning only.
func (r Result) Report(log logging.Logger) {
	if !r.Found {
		log.Warnf("No deadline defined at %s", r.Path)
		return
	}
	when := r.Deadline.Local().Format(time.ANSIC)
	if r.Personal {
		log.Warnf("Your personal deadline is %s", when)
	}
	if r.Passed {
		log.Warnf("Deadline has passed; was %s", when)
	}
}
