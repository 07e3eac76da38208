package listing

import (
	"fmt"
	"syscall"
)

const (
	FindPath = "/usr/bin/find"
	LsPath   = "/bin/ls"
)

// Pattern matches the artifacts of one user on one project. The random part
// of an artifact name is always six characters.
func Pattern(project int, user, ext string) string {
	return fmt.Sprintf("%02d-%s-??????.%s", project, user, ext)
}

// Command returns the argv that lists the user's artifacts under root.
// Empty files are left out: a discarded artifact that could not be unlinked
// is truncated to zero bytes.
func Command(root string, project int, user, ext string) []string {
	return []string{
		FindPath, root,
		"-type", "f",
		"-name", Pattern(project, user, ext),
		"-size", "+0",
		"-execdir", LsPath, "-1d", "{}", ";",
	}
}

// Exec replaces the process with argv. It only returns on failure.
func Exec(argv, env []string) error {
	err := syscall.Exec(argv[0], argv, env)
	return fmt.Errorf("internal error: could not exec %s: %w", argv[0], err)
}
