package project

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/flarebyte/autofeedback/internal/config"
	"github.com/flarebyte/autofeedback/internal/helper"
	"github.com/flarebyte/autofeedback/internal/receipt"
)

func init() {
	register("accept", func(config.Action, Options) (Action, error) { return Accept{}, nil })
	register("reject", func(ac config.Action, _ Options) (Action, error) {
		msg := ac.Message
		if msg == "" {
			msg = "submissions are not accepted for this project"
		}
		return Reject{Message: msg}, nil
	})
	register("helper", func(ac config.Action, opts Options) (Action, error) {
		if opts.HelperDir == "" {
			return nil, fmt.Errorf("helper %q needs a helper directory", ac.Helper)
		}
		return Helper{Path: filepath.Join(opts.HelperDir, ac.Helper), Arg: ac.Arg}, nil
	})
	register("receipt", func(config.Action, Options) (Action, error) { return Receipt{}, nil })
}

// Accept always succeeds.
type Accept struct{}

func (Accept) Run(context.Context, Env) (bool, error) { return true, nil }

// Reject always fails with Message.
type Reject struct{ Message string }

func (r Reject) Run(_ context.Context, env Env) (bool, error) {
	env.Log.Errorf("%s", r.Message)
	return false, nil
}

// Helper delegates to an external program through the helper protocol.
type Helper struct {
	Path string
	Arg  string
}

func (h Helper) Run(ctx context.Context, env Env) (bool, error) {
	err := helper.Run(ctx, helper.Invocation{
		Path:    h.Path,
		Arg:     h.Arg,
		Archive: env.Archive,
		Dir:     env.Dir,
		Audit:   env.Audit,
		Stdout:  env.Out,
		Stderr:  env.Stderr,
		Env:     env.HelperEnv,
	})
	if ee, ok := helper.IsExitError(err); ok {
		env.Log.Debugf("%s: %v", h.Path, ee)
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Receipt writes a YAML description of the artifact to the output stream.
type Receipt struct{}

func (Receipt) Run(_ context.Context, env Env) (bool, error) {
	if env.Archive == nil {
		return false, errors.New("receipt: no artifact")
	}
	rc, err := receipt.Inspect(env.Archive, env.Format, env.Compression)
	if err != nil {
		return false, err
	}
	rc.ID = env.ID
	rc.Project = env.Project
	rc.User = env.User
	if env.Now != nil {
		rc.Time = env.Now()
	}
	if err := receipt.Write(env.Out, rc); err != nil {
		return false, fmt.Errorf("writing receipt: %w", err)
	}
	return true, nil
}
