package project

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/flarebyte/autofeedback/internal/archive"
	"github.com/flarebyte/autofeedback/internal/config"
	aferrors "github.com/flarebyte/autofeedback/internal/errors"
	"github.com/flarebyte/autofeedback/internal/logging"
)

// Env is what an action sees of the request. The archive descriptor is
// positioned at the start of the artifact.
type Env struct {
	Dir         *os.File
	Audit       *os.File // nil while the audit log is suspended
	Archive     *os.File // nil when there is no artifact
	Out         io.Writer
	Stderr      io.Writer
	HelperEnv   []string
	Project     int
	User        string
	ID          string
	Format      archive.Format
	Compression archive.Compression
	Now         func() time.Time
	Log         logging.Logger
}

// Action is one capability slot of a project. ok=false with a nil error means
// the action ran and rejected the submission.
type Action interface {
	Run(ctx context.Context, env Env) (ok bool, err error)
}

// Descriptor is a registered project.
type Descriptor struct {
	Number             int
	Description        string
	Revision           string
	Gitignore          bool
	CheckSanity        Action
	WriteFeedback      Action
	FinaliseSubmission Action
}

// Options carries site settings that actions are built with.
type Options struct {
	HelperDir string
	Lua       config.LuaLimits
}

type builder func(ac config.Action, opts Options) (Action, error)

var builders = map[string]builder{}

func register(kind string, b builder) {
	builders[kind] = b
}

func buildAction(ac config.Action, opts Options) (Action, error) {
	b, ok := builders[ac.Kind]
	if !ok {
		return nil, ErrUnknown{kind: ac.Kind}
	}
	return b(ac, opts)
}

// ErrUnknown is returned for an action kind with no builder.
type ErrUnknown struct{ kind string }

func (e ErrUnknown) Error() string { return "unknown action kind: " + e.kind }

// Registry holds projects by number. Slot 0 is a sentinel and never valid.
type Registry struct {
	projects []Descriptor
}

// NewRegistry builds descriptors for projects, which must be numbered from 1
// in order.
func NewRegistry(projects []config.Project, opts Options) (*Registry, error) {
	r := &Registry{projects: make([]Descriptor, 1, len(projects)+1)}
	for i, p := range projects {
		if p.Number != i+1 {
			return nil, fmt.Errorf("project at position %d has number %d", i+1, p.Number)
		}
		d := Descriptor{
			Number:      p.Number,
			Description: p.Description,
			Revision:    p.Revision,
			Gitignore:   p.Gitignore,
		}
		var err error
		if d.CheckSanity, err = buildAction(p.CheckSanity, opts); err != nil {
			return nil, fmt.Errorf("project %d checkSanity: %w", p.Number, err)
		}
		if d.WriteFeedback, err = buildAction(p.WriteFeedback, opts); err != nil {
			return nil, fmt.Errorf("project %d writeFeedback: %w", p.Number, err)
		}
		if d.FinaliseSubmission, err = buildAction(p.FinaliseSubmission, opts); err != nil {
			return nil, fmt.Errorf("project %d finaliseSubmission: %w", p.Number, err)
		}
		r.projects = append(r.projects, d)
	}
	return r, nil
}

// Len is the highest valid project number.
func (r *Registry) Len() int { return len(r.projects) - 1 }

func (r *Registry) Lookup(n int) (Descriptor, error) {
	if n < 1 || n > r.Len() {
		return Descriptor{}, fmt.Errorf("%w: %d", aferrors.ErrBadProject, n)
	}
	return r.projects[n], nil
}

// ParseNumber accepts decimal digits only and checks the result against r.
func (r *Registry) ParseNumber(s string) (int, error) {
	if s == "" {
		return 0, fmt.Errorf("%w: empty", aferrors.ErrBadProject)
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("%w: %q", aferrors.ErrBadProject, s)
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", aferrors.ErrBadProject, s)
	}
	if _, err := r.Lookup(n); err != nil {
		return 0, err
	}
	return n, nil
}

// NewStaticRegistry builds a registry from compiled-in descriptors. Their
// numbers must run from 1 in order.
func NewStaticRegistry(descs ...Descriptor) (*Registry, error) {
	r := &Registry{projects: make([]Descriptor, 1, len(descs)+1)}
	for i, d := range descs {
		if d.Number != i+1 {
			return nil, fmt.Errorf("project at position %d has number %d", i+1, d.Number)
		}
		if d.CheckSanity == nil || d.WriteFeedback == nil || d.FinaliseSubmission == nil {
			return nil, fmt.Errorf("project %d has an empty action slot", d.Number)
		}
		r.projects = append(r.projects, d)
	}
	return r, nil
}
