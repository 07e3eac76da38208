package intake

import (
	"fmt"
	"os/user"
	"regexp"
	"strconv"

	aferrors "github.com/flarebyte/autofeedback/internal/errors"
	"github.com/flarebyte/autofeedback/internal/privsep"
	"github.com/flarebyte/autofeedback/internal/project"
)

type Mode int

const (
	Submit Mode = iota + 1
	Feedback
	List
)

func (m Mode) String() string {
	switch m {
	case Submit:
		return "submission"
	case Feedback:
		return "feedback"
	case List:
		return "list"
	}
	return "unknown"
}

// ModeFromName maps the invoked program name to a mode.
func ModeFromName(name string) (Mode, error) {
	switch name {
	case "submit":
		return Submit, nil
	case "feedback":
		return Feedback, nil
	case "lssub":
		return List, nil
	}
	return 0, fmt.Errorf("%w: you must invoke this program as 'submit' or 'feedback' or 'lssub'", aferrors.ErrUsage)
}

// Request is built once per invocation and not modified afterwards.
type Request struct {
	Mode     Mode
	Project  int
	User     string
	Dir      string
	Identity privsep.Identity
}

// UserLookup returns the login name of uid.
type UserLookup func(uid int) (string, error)

// SystemUsers resolves uids through the user database.
func SystemUsers(uid int) (string, error) {
	u, err := user.LookupId(strconv.Itoa(uid))
	if err != nil {
		return "", err
	}
	return u.Username, nil
}

// User names end up in file names and find patterns.
var validUser = regexp.MustCompile(`^[A-Za-z0-9._][A-Za-z0-9._-]*$`)

// NewRequest validates the arguments and the submitting user. It touches no
// privileged resource, so every rejection here leaves no trace.
func NewRequest(mode Mode, args []string, id privsep.Identity, reg *project.Registry, getenv func(string) (string, bool), users UserLookup) (Request, error) {
	want := 2
	if mode == List {
		want = 1
	}
	if len(args) != want {
		return Request{}, fmt.Errorf("%w: expected %d arguments, got %d", aferrors.ErrUsage, want, len(args))
	}
	n, err := reg.ParseNumber(args[0])
	if err != nil {
		return Request{}, err
	}
	req := Request{Mode: mode, Project: n, Identity: id}
	if mode != List {
		req.Dir = args[1]
		if req.Dir == "" {
			return Request{}, fmt.Errorf("%w: empty directory", aferrors.ErrUsage)
		}
	}

	name, ok := getenv("USER")
	if !ok || name == "" {
		return Request{}, fmt.Errorf("error: %w", aferrors.ErrNoUser)
	}
	if !validUser.MatchString(name) {
		return Request{}, fmt.Errorf("%w: unusable user name %q", aferrors.ErrNoUser, name)
	}
	login, err := users(id.RealUID)
	if err != nil {
		return Request{}, fmt.Errorf("%w: looking up uid %d: %v", aferrors.ErrUserMismatch, id.RealUID, err)
	}
	if login != name {
		return Request{}, fmt.Errorf("%w: USER=%s but uid %d is %s", aferrors.ErrUserMismatch, name, id.RealUID, login)
	}
	req.User = name
	return req, nil
}
