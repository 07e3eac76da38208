package privsep

import (
	"errors"
	"fmt"
	"syscall"

	aferrors "github.com/flarebyte/autofeedback/internal/errors"
)

// Identity is the process's real and effective ids at startup.
type Identity struct {
	RealUID      int
	RealGID      int
	EffectiveUID int
	EffectiveGID int
}

// Current reads the identity of the running process.
func Current() Identity {
	return Identity{
		RealUID:      syscall.Getuid(),
		RealGID:      syscall.Getgid(),
		EffectiveUID: syscall.Geteuid(),
		EffectiveGID: syscall.Getegid(),
	}
}

// Verify checks that the program runs with the owner's effective uid.
func (id Identity) Verify(owner int) error {
	if id.EffectiveUID != owner {
		return fmt.Errorf("internal error: %w (%d; should be %d)", aferrors.ErrBadOwner, id.EffectiveUID, owner)
	}
	return nil
}

// Transition lowers privileges in two ordered, one-way steps.
type Transition interface {
	// LowerGroup gives up the owner's group. Files created afterwards are
	// group-owned by the real gid.
	LowerGroup() error
	// DropUser gives up the owner's uid for the rest of the process.
	DropUser() error
}

// Syscalls is the subset of the kernel interface System needs.
type Syscalls interface {
	Setresgid(rgid, egid, sgid int) error
	Setresuid(ruid, euid, suid int) error
	Setreuid(ruid, euid int) error
	Getegid() int
	Geteuid() int
}

// System performs the transition on the running process.
type System struct {
	id           Identity
	sys          Syscalls
	groupLowered bool
	userDropped  bool
}

// New returns a System transition for id using the real kernel.
func New(id Identity) *System {
	return &System{id: id, sys: kernel{}}
}

// NewWithSyscalls is New with an explicit kernel interface.
func NewWithSyscalls(id Identity, sys Syscalls) *System {
	return &System{id: id, sys: sys}
}

var errOrder = errors.New("group must be lowered before the user is dropped")

func (s *System) LowerGroup() error {
	if s.userDropped {
		return fmt.Errorf("%w: %v", aferrors.ErrPrivilege, errOrder)
	}
	gid := s.id.RealGID
	if err := s.sys.Setresgid(gid, gid, gid); err != nil {
		return fmt.Errorf("%w: setresgid(%d): %v", aferrors.ErrPrivilege, gid, err)
	}
	if got := s.sys.Getegid(); got != gid {
		return fmt.Errorf("%w: effective gid is %d after setresgid(%d)", aferrors.ErrPrivilege, got, gid)
	}
	s.groupLowered = true
	return nil
}

func (s *System) DropUser() error {
	if !s.groupLowered {
		return fmt.Errorf("%w: %v", aferrors.ErrPrivilege, errOrder)
	}
	uid := s.id.RealUID
	if err := s.sys.Setresuid(uid, uid, uid); err != nil {
		return fmt.Errorf("%w: setresuid(%d): %v", aferrors.ErrPrivilege, uid, err)
	}
	if got := s.sys.Geteuid(); got != uid {
		return fmt.Errorf("%w: effective uid is %d after setresuid(%d)", aferrors.ErrPrivilege, got, uid)
	}
	s.userDropped = true
	if owner := s.id.EffectiveUID; owner != uid && uid != 0 {
		// The drop must not be undoable.
		if err := s.sys.Setreuid(-1, owner); err == nil {
			return fmt.Errorf("%w: unexpectedly able to regain uid %d", aferrors.ErrPrivilege, owner)
		}
	}
	return nil
}

// kernel applies id changes to every thread of the process.
type kernel struct{}

func (kernel) Setresgid(r, e, s int) error { return syscall.Setresgid(r, e, s) }
func (kernel) Setresuid(r, e, s int) error { return syscall.Setresuid(r, e, s) }
func (kernel) Setreuid(r, e int) error     { return syscall.Setreuid(r, e) }
func (kernel) Getegid() int                { return syscall.Getegid() }
func (kernel) Geteuid() int                { return syscall.Geteuid() }
