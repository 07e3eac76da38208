package main

import (
	"errors"
	"os"
	"strings"

	"github.com/flarebyte/autofeedback/cmd/autofeedback/root"
	aferrors "github.com/flarebyte/autofeedback/internal/errors"
)

func main() {
	if err := root.Execute(os.Args[0], os.Args[1:]); err != nil {
		// One line on stderr, no stack traces.
		msg := strings.Join(strings.Fields(err.Error()), " ")
		if msg == "" {
			msg = "error"
		}
		_, _ = os.Stderr.WriteString(msg + "\n")
		if errors.Is(err, aferrors.ErrUsage) || errors.Is(err, aferrors.ErrBadProject) {
			_, _ = os.Stderr.WriteString(root.Usage(os.Args[0]) + "\n")
		}
		os.Exit(1)
	}
}
