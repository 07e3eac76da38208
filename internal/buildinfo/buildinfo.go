// Package buildinfo exposes version metadata for the installed binary.
// Values can be overridden at build time via -ldflags; the cli package
// values are honoured for release scripts that set those instead.
package buildinfo

import (
	"strings"

	"github.com/flarebyte/autofeedback/cli"
	"github.com/flarebyte/autofeedback/internal/config"
)

var (
	// Version is the semantic version or custom string. Defaults to cli.Version or "dev".
	Version = "dev"
	// Commit is the VCS commit hash (optional).
	Commit = ""
	// Date falls back to cli.Date.
	Date = ""
	// BuiltBy identifies the packager (optional).
	BuiltBy = ""
)

// ConfigPath is the site configuration compiled into this binary.
func ConfigPath() string { return config.DefaultPath }

// Summary returns a concise single-line version string.
func Summary() string {
	v := Version
	if v == "" {
		v = cli.Version
	}
	if v == "" {
		v = "dev"
	}

	d := Date
	if d == "" {
		d = cli.Date
	}

	parts := make([]string, 0, 2)
	if Commit != "" {
		c := Commit
		if len(c) > 7 {
			c = c[:7]
		}
		parts = append(parts, "commit="+c)
	}
	if d != "" {
		parts = append(parts, "date="+d)
	}
	if len(parts) > 0 {
		v += " (" + strings.Join(parts, ", ") + ")"
	}
	return v
}
