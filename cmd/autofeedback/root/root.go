package root

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/flarebyte/autofeedback/cmd/autofeedback/submit"
	"github.com/flarebyte/autofeedback/cmd/autofeedback/version"
	"github.com/flarebyte/autofeedback/internal/intake"
)

// NewRootCmd creates the command for the name the program was invoked as.
// The request names (submit, feedback, lssub) each run one pipeline mode;
// any other name only offers maintenance subcommands.
func NewRootCmd(argv0 string) *cobra.Command {
	name := filepath.Base(argv0)
	if mode, err := intake.ModeFromName(name); err == nil {
		return submit.NewCmd(mode, name)
	}
	cmd := &cobra.Command{
		Use:   "autofeedback",
		Short: "Coursework submission intake; install as submit, feedback and lssub",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(version.VersionCmd)
	return cmd
}

// Usage returns the synopsis shown after a usage error under argv0.
func Usage(argv0 string) string {
	mode, err := intake.ModeFromName(filepath.Base(argv0))
	if err != nil {
		return "usage: invoke as submit, feedback or lssub"
	}
	return submit.Usage(mode)
}

// Execute runs the command selected by argv0 with the provided args.
func Execute(argv0 string, args []string) error {
	cmd := NewRootCmd(argv0)
	cmd.SetArgs(args)
	return cmd.Execute()
}
