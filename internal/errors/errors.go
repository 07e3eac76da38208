package errors

import "errors"

// Usage errors are reported to stderr before any audit logging starts.
var (
	// ErrUsage indicates a malformed invocation (program name or arguments).
	ErrUsage = errors.New("usage error")

	// ErrBadProject indicates a project number outside the registered range.
	ErrBadProject = errors.New("invalid project number")
)

// Identity errors are internal or configuration faults, never user input problems.
var (
	// ErrBadOwner indicates the effective uid is not the configured owner.
	ErrBadOwner = errors.New("bad owner uid")

	// ErrNoUser indicates USER is missing or unusable.
	ErrNoUser = errors.New("USER must be set")

	// ErrUserMismatch indicates USER does not name the real uid.
	ErrUserMismatch = errors.New("USER does not match the invoking uid")

	// ErrPrivilege indicates a failed uid/gid transition.
	ErrPrivilege = errors.New("privilege transition failed")
)

// Resource errors indicate a privileged resource could not be acquired.
var (
	// ErrAuditLog indicates the audit log could not be opened or locked.
	ErrAuditLog = errors.New("audit log unavailable")

	// ErrOutputFile indicates the submission artifact could not be created.
	ErrOutputFile = errors.New("cannot create submission file")
)

// Packaging errors come from the archive builder.
var (
	// ErrBudgetExceeded indicates the submission is larger than the byte budget.
	ErrBudgetExceeded = errors.New("submission exceeded maximum size")

	// ErrEntryChanged indicates an entry was replaced between stat and open.
	ErrEntryChanged = errors.New("entry changed during packaging")

	// ErrEmptyDiff indicates the diff packager produced no output.
	ErrEmptyDiff = errors.New("diff produced no data")
)

// Outcome errors come from project actions.
var (
	// ErrInsane indicates the project sanity check rejected the submission.
	ErrInsane = errors.New("submission found to be insane")

	// ErrHelperFailed indicates a delegated helper or action reported failure.
	ErrHelperFailed = errors.New("helper failed")
)
