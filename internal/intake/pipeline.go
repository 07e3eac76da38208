package intake

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/flarebyte/autofeedback/internal/archive"
	"github.com/flarebyte/autofeedback/internal/audit"
	"github.com/flarebyte/autofeedback/internal/config"
	"github.com/flarebyte/autofeedback/internal/deadline"
	aferrors "github.com/flarebyte/autofeedback/internal/errors"
	"github.com/flarebyte/autofeedback/internal/listing"
	"github.com/flarebyte/autofeedback/internal/logging"
	"github.com/flarebyte/autofeedback/internal/privsep"
	"github.com/flarebyte/autofeedback/internal/project"
)

// AuditLogName is the audit log's file name under the submissions root.
const AuditLogName = "audit.log"

// Pipeline runs requests against one site.
type Pipeline struct {
	Site       config.Site
	Registry   *project.Registry
	Transition privsep.Transition
	Log        logging.Logger
	Now        func() time.Time
	Stdout     io.Writer
	Stderr     io.Writer
	// HelperEnv is the complete environment given to child processes.
	HelperEnv []string
	// TempDir holds anonymous feedback artifacts. TMPDIR is not consulted.
	TempDir string
	// ProgramDir is where the submit/lssub links live, for user guidance.
	ProgramDir string
	// Exec replaces the process for List mode.
	Exec func(argv, env []string) error
}

func (p *Pipeline) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func (p *Pipeline) enter(s State) {
	p.Log.Debugf("state: %s", s)
}

// Run executes req. Any returned error is terminal for the invocation.
func (p *Pipeline) Run(ctx context.Context, req Request) (err error) {
	desc, err := p.Registry.Lookup(req.Project)
	if err != nil {
		return err
	}
	format, err := archive.ParseFormat(p.Site.Format)
	if err != nil {
		return err
	}
	compression, err := archive.ParseCompression(p.Site.Compression)
	if err != nil {
		return err
	}
	if format == archive.FormatGitDiff {
		compression = archive.CompressionNone
	}

	p.enter(Start)
	if err := req.Identity.Verify(p.Site.OwnerUID); err != nil {
		return err
	}
	p.enter(IdentitiesVerified)

	if req.Mode == List {
		p.enter(Listing)
		argv := listing.Command(p.Site.SubmissionsRoot, req.Project, req.User, archive.Ext(format, compression))
		return p.Exec(argv, p.HelperEnv)
	}

	log, err := audit.OpenAndLock(filepath.Join(p.Site.SubmissionsRoot, AuditLogName), p.now)
	if err != nil {
		return fmt.Errorf("%w: %v", aferrors.ErrAuditLog, err)
	}
	session := audit.NewSession(log)
	outcome := audit.Failed
	// Deferred so that it also runs while panicking.
	defer func() {
		if cerr := session.Close(outcome); cerr != nil && err == nil {
			err = fmt.Errorf("%w: %v", aferrors.ErrAuditLog, cerr)
		}
	}()
	p.enter(LogOpened)

	if req.Mode == Submit {
		// Extensions are private, so the lookup happens before the drop.
		dl, derr := deadline.Check(p.Site.SubmissionsRoot, req.Project, req.User, p.now())
		if derr != nil {
			p.Log.Warnf("%v", derr)
		} else {
			dl.Report(p.Log)
		}
	}

	if err := p.Transition.LowerGroup(); err != nil {
		return err
	}
	var artifact *archive.Handle
	if req.Mode == Submit {
		prefix := fmt.Sprintf("%02d-%s-", req.Project, req.User)
		artifact, err = archive.CreateUnique(p.Site.SubmissionsRoot, prefix, archive.Ext(format, compression), 0o640)
	} else {
		artifact, err = archive.CreateAnonymous(p.TempDir)
	}
	if err != nil {
		return err
	}
	defer artifact.Close()
	defer func() {
		if outcome == audit.Succeeded {
			return
		}
		unlinked, derr := artifact.Discard()
		switch {
		case derr != nil:
			p.Log.Warnf("could not discard %s: %v", artifact.ID(), derr)
		case !unlinked:
			p.Log.Debugf("%s emptied but not removed", artifact.ID())
		}
	}()
	p.enter(OutputCreated)

	if err := p.Transition.DropUser(); err != nil {
		return err
	}
	p.enter(PrivilegesDropped)

	really, rerr := filepath.EvalSymlinks(req.Dir)
	if rerr != nil {
		really = "(unresolved)"
	} else if abs, aerr := filepath.Abs(really); aerr == nil {
		really = abs
	}
	if err := session.Printf("User %s initiated %s request on project %d, dir %s (really %s)",
		req.User, req.Mode, req.Project, req.Dir, really); err != nil {
		return fmt.Errorf("%w: %v", aferrors.ErrAuditLog, err)
	}
	dir, err := openDir(req.Dir)
	if err != nil {
		return fmt.Errorf("%w: something fishy about the directory: %v", aferrors.ErrUsage, err)
	}
	defer dir.Close()

	budget := p.Site.MaxSubmissionBytes
	if req.Mode == Feedback {
		budget = p.Site.MaxFeedbackBytes
	}
	w, err := artifact.Writer(compression)
	if err != nil {
		return err
	}
	var builder archive.Builder
	if format == archive.FormatGitDiff {
		builder = archive.GitDiff{Budget: budget, Revision: desc.Revision, Env: p.HelperEnv, Stderr: p.Stderr, Log: p.Log}
	} else {
		builder = archive.TarBuilder{Budget: budget, Gitignore: desc.Gitignore, Log: p.Log}
	}
	stats, err := builder.Build(ctx, dir, w)
	if errors.Is(err, aferrors.ErrBudgetExceeded) {
		_ = session.Printf("Submission exceeded maximum size (%d bytes)", budget)
		return err
	}
	if err != nil {
		return fmt.Errorf("error packaging submission at %s (really: %s): %w", req.Dir, really, err)
	}
	p.Log.Infof("packaged %d entries, %d bytes", stats.Entries, stats.Bytes)
	p.enter(DirectoryPackaged)

	rd, err := artifact.Reopen()
	if err != nil {
		return err
	}
	defer rd.Close()
	p.enter(ArchiveRewound)

	env := project.Env{
		Dir:         dir,
		Audit:       log.File(),
		Archive:     rd,
		Out:         p.Stdout,
		Stderr:      p.Stderr,
		HelperEnv:   p.HelperEnv,
		Project:     req.Project,
		User:        req.User,
		ID:          artifact.ID(),
		Format:      format,
		Compression: compression,
		Now:         p.now,
		Log:         p.Log,
	}
	ok, err := desc.CheckSanity.Run(ctx, env)
	if err != nil {
		return fmt.Errorf("checking submission: %w", err)
	}
	if !ok {
		outcome = audit.Insane
		return fmt.Errorf("%w: submission at %s (really: %s)", aferrors.ErrInsane, req.Dir, really)
	}
	p.enter(SanityChecked)

	if _, err := rd.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewinding submission: %w", err)
	}
	switch req.Mode {
	case Submit:
		p.enter(Finalizing)
		ok, err = desc.FinaliseSubmission.Run(ctx, env)
		if err != nil {
			return fmt.Errorf("failed to submit: %w", err)
		}
		if !ok {
			return fmt.Errorf("%w: failed to submit", aferrors.ErrHelperFailed)
		}
		outcome = audit.Succeeded
		p.printReceipt(artifact, req.Project, format)
	case Feedback:
		p.enter(FeedbackDelegated)
		if err := session.Printf("Delegating to write-feedback handling"); err != nil {
			return fmt.Errorf("%w: %v", aferrors.ErrAuditLog, err)
		}
		if err := log.Suspend(); err != nil {
			return fmt.Errorf("%w: %v", aferrors.ErrAuditLog, err)
		}
		env.Audit = nil
		ok, err = desc.WriteFeedback.Run(ctx, env)
		if err != nil {
			return fmt.Errorf("writing feedback: %w", err)
		}
		if !ok {
			return fmt.Errorf("%w: writing feedback", aferrors.ErrHelperFailed)
		}
		outcome = audit.Succeeded
	}
	p.enter(Done)
	return nil
}

func openDir(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if !fi.IsDir() {
		_ = f.Close()
		return nil, fmt.Errorf("%s is not a directory", path)
	}
	return f, nil
}

func (p *Pipeline) printReceipt(h *archive.Handle, n int, format archive.Format) {
	view := "less " + h.Path()
	if format == archive.FormatTar {
		view = "tar -tvf " + h.Path()
	}
	fmt.Fprintf(p.Stderr, "Your submission was successful.\nIts identifier is %s\n"+
		"To satisfy yourself that it was received, try doing:\n    ls -l %s\n"+
		"To see exactly what was received, try doing:\n    %s\n"+
		"You should save the identifier somewhere so you can do these again later.\n"+
		"Or do:\n    %s %d\n"+
		"to list the identifiers of your submission(s) for this project.\n",
		h.ID(), h.Path(), view, filepath.Join(p.ProgramDir, "lssub"), n)
}
