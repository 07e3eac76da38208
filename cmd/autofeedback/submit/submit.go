package submit

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/flarebyte/autofeedback/internal/cleanenv"
	"github.com/flarebyte/autofeedback/internal/config"
	aferrors "github.com/flarebyte/autofeedback/internal/errors"
	"github.com/flarebyte/autofeedback/internal/intake"
	"github.com/flarebyte/autofeedback/internal/listing"
	"github.com/flarebyte/autofeedback/internal/logging"
	"github.com/flarebyte/autofeedback/internal/privsep"
	"github.com/flarebyte/autofeedback/internal/project"
)

// TempDir holds feedback artifacts. It is fixed so the invoker cannot
// redirect them with TMPDIR.
const TempDir = "/tmp"

// Usage returns the one-line synopsis for mode.
func Usage(mode intake.Mode) string {
	switch mode {
	case intake.List:
		return "usage: lssub <project-number>"
	case intake.Feedback:
		return "usage: feedback <project-number> <directory>"
	default:
		return "usage: submit <project-number> <directory>"
	}
}

// NewCmd returns the command run when the program is invoked as one of the
// request names. Arguments are checked by the request itself so that every
// malformed invocation reports the same way.
func NewCmd(mode intake.Mode, name string) *cobra.Command {
	var log logging.Logger
	cmd := &cobra.Command{
		Use:           name,
		Short:         "Package a directory for the " + mode.String() + " pipeline",
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, mode, args, log)
		},
	}
	cmd.Flags().BoolVar(&log.Verbose, "verbose", false, "Report progress on stderr")
	cmd.Flags().BoolVar(&log.Debug, "debug", false, "Report every pipeline state on stderr")
	cmd.SetUsageTemplate(Usage(mode) + "\n")
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return fmt.Errorf("%w: %v", aferrors.ErrUsage, err)
	})
	return cmd
}

func run(cmd *cobra.Command, mode intake.Mode, args []string, log logging.Logger) error {
	site, err := config.Load(config.DefaultPath)
	if err != nil {
		return fmt.Errorf("site configuration: %w", err)
	}
	reg, err := project.NewRegistry(site.Projects, project.Options{HelperDir: site.HelperDir, Lua: site.Lua})
	if err != nil {
		return fmt.Errorf("site configuration: %w", err)
	}
	id := privsep.Current()
	req, err := intake.NewRequest(mode, args, id, reg, os.LookupEnv, intake.SystemUsers)
	if err != nil {
		return err
	}
	env, err := cleanenv.FromOS()
	if err != nil {
		return err
	}
	log.Debugf("%s request on project %d by %s", mode, req.Project, req.User)

	p := &intake.Pipeline{
		Site:       site,
		Registry:   reg,
		Transition: privsep.New(id),
		Log:        log,
		Stdout:     cmd.OutOrStdout(),
		Stderr:     cmd.ErrOrStderr(),
		HelperEnv:  env,
		TempDir:    TempDir,
		ProgramDir: filepath.Dir(os.Args[0]),
		Exec:       listing.Exec,
	}
	return p.Run(cmd.Context(), req)
}
