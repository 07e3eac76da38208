package buildinfo

import (
	"testing"

	"github.com/flarebyte/autofeedback/cli"
)

func TestSummary(t *testing.T) {
	oldV, oldC, oldD := Version, Commit, Date
	oldCliV, oldCliD := cli.Version, cli.Date
	defer func() {
		Version, Commit, Date = oldV, oldC, oldD
		cli.Version, cli.Date = oldCliV, oldCliD
	}()

	Version, Commit, Date = "", "", ""
	cli.Version, cli.Date = "", ""
	if got := Summary(); got != "dev" {
		t.Fatalf("unexpected: %q", got)
	}

	cli.Version, cli.Date = "0.9.1", "2026-10-01"
	if got := Summary(); got != "0.9.1 (date=2026-10-01)" {
		t.Fatalf("unexpected: %q", got)
	}

	Version, Commit = "1.0.0", "abcdef0123"
	if got := Summary(); got != "1.0.0 (commit=abcdef0, date=2026-10-01)" {
		t.Fatalf("unexpected: %q", got)
	}
}
