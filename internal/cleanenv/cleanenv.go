package cleanenv

import (
	"errors"
	"os"
)

const (
	defaultPath  = "/usr/bin:/bin"
	defaultShell = "/bin/sh"
	defaultLang  = "C"
)

// ErrNoHome is returned when the parent environment has no HOME.
var ErrNoHome = errors.New("no home directory (HOME is not set)")

// passthrough lists optional variables copied verbatim when the parent has them.
var passthrough = []string{"TERM", "COLUMNS"}

// Build returns the complete environment handed to child processes.
// Only HOME, PATH, SHELL, LANG and the optional TERM/COLUMNS appear.
func Build(lookup func(string) (string, bool)) ([]string, error) {
	home, ok := lookup("HOME")
	if !ok {
		return nil, ErrNoHome
	}
	env := []string{
		"HOME=" + home,
		"PATH=" + defaultPath,
		"SHELL=" + defaultShell,
		"LANG=" + defaultLang,
	}
	for _, name := range passthrough {
		if v, ok := lookup(name); ok {
			env = append(env, name+"="+v)
		}
	}
	return env, nil
}

// FromOS builds the child environment from the current process environment.
func FromOS() ([]string, error) {
	return Build(os.LookupEnv)
}
