package e2e

import (
	"bytes"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"testing"
)

type runResult struct {
	code   int
	stdout []byte
	stderr []byte
}

type install struct {
	bin     string
	root    string
	helpers string
	env     []string
}

// buildInstall builds the binary with its site configuration compiled in and
// links it under the three request names.
func buildInstall(t *testing.T, projects string) install {
	t.Helper()
	if testing.Short() {
		t.Skip("builds the binary")
	}
	if _, err := exec.LookPath("go"); err != nil {
		t.Skip("go toolchain not on PATH")
	}
	me, err := user.Current()
	if err != nil {
		t.Skipf("no login name: %v", err)
	}
	home, ok := os.LookupEnv("HOME")
	if !ok {
		t.Skip("HOME not set")
	}

	base := t.TempDir()
	in := install{
		bin:     filepath.Join(base, "bin"),
		root:    filepath.Join(base, "submissions"),
		helpers: filepath.Join(base, "scripts"),
		env:     []string{"HOME=" + home, "USER=" + me.Username, "PATH=/usr/bin:/bin"},
	}
	for _, d := range []string{in.bin, in.root, in.helpers} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}
	cfg := filepath.Join(base, "site.cue")
	site := `configVersion: "1"
module: "e2e"
submissionsRoot: "` + in.root + `"
ownerUID: ` + strconv.Itoa(os.Geteuid()) + `
helperDir: "` + in.helpers + `"
maxSubmissionBytes: 4096
projects: ` + projects + "\n"
	if err := os.WriteFile(cfg, []byte(site), 0o644); err != nil {
		t.Fatalf("write site: %v", err)
	}

	exe := filepath.Join(in.bin, "autofeedback")
	cmd := exec.Command("go", "build",
		"-ldflags", "-X github.com/flarebyte/autofeedback/internal/config.DefaultPath="+cfg,
		"-o", exe, "./cmd/autofeedback")
	cmd.Dir = filepath.Join("..", "..")
	cmd.Env = append(os.Environ(), "CGO_ENABLED=0")
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("build failed: %v\n%s", err, out)
	}
	for _, name := range []string{"submit", "feedback", "lssub"} {
		if err := os.Symlink(exe, filepath.Join(in.bin, name)); err != nil {
			t.Fatalf("symlink: %v", err)
		}
	}
	return in
}

func (in install) run(t *testing.T, name string, args ...string) runResult {
	t.Helper()
	cmd := exec.Command(filepath.Join(in.bin, name), args...)
	cmd.Env = in.env
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	code := 0
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok {
			code = ee.ExitCode()
		} else {
			code = -1
		}
	}
	return runResult{code: code, stdout: stdout.Bytes(), stderr: stderr.Bytes()}
}

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, body := range files {
		p := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
}

func auditTail(t *testing.T, in install) string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(in.root, "audit.log"))
	if err != nil {
		t.Fatalf("read audit log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	return lines[len(lines)-1][len("2006-01-02 15:04:05 "):]
}

func TestE2E_SubmitThenList(t *testing.T) {
	in := buildInstall(t, `[{number: 1, finaliseSubmission: {kind: "receipt"}}]`)
	src := t.TempDir()
	writeFiles(t, src, map[string]string{"Makefile": "all:\n", "src/main.c": "int main(){}\n"})

	res := in.run(t, "submit", "1", src)
	if res.code != 0 {
		t.Fatalf("submit exit %d\n%s", res.code, res.stderr)
	}
	if got := auditTail(t, in); got != "Request succeeded" {
		t.Fatalf("unexpected terminal record: %q", got)
	}
	m := regexp.MustCompile(`Its identifier is (01-[^ \n]+-[A-Za-z0-9]{6}\.tar)`).FindSubmatch(res.stderr)
	if m == nil {
		t.Fatalf("no identifier in:\n%s", res.stderr)
	}
	if !bytes.Contains(res.stdout, []byte("entries:")) {
		t.Fatalf("receipt missing:\n%s", res.stdout)
	}

	for _, tool := range []string{"/usr/bin/find", "/bin/ls"} {
		if _, err := os.Stat(tool); err != nil {
			t.Skipf("%s not installed", tool)
		}
	}
	list := in.run(t, "lssub", "1")
	if list.code != 0 {
		t.Fatalf("lssub exit %d\n%s", list.code, list.stderr)
	}
	if strings.TrimSpace(string(list.stdout)) != "./"+string(m[1]) {
		t.Fatalf("unexpected listing: %q", list.stdout)
	}
}

func TestE2E_OversizedSubmissionLeavesNothing(t *testing.T) {
	in := buildInstall(t, `[{number: 1}]`)
	src := t.TempDir()
	writeFiles(t, src, map[string]string{"big": strings.Repeat("x", 5000)})

	res := in.run(t, "submit", "1", src)
	if res.code != 1 {
		t.Fatalf("expected exit 1, got %d\n%s", res.code, res.stderr)
	}
	if got := auditTail(t, in); got != "Request failed" {
		t.Fatalf("unexpected terminal record: %q", got)
	}
	entries, _ := os.ReadDir(in.root)
	for _, e := range entries {
		if e.Name() != "audit.log" {
			t.Fatalf("artifact left behind: %s", e.Name())
		}
	}
}

func TestE2E_UsageErrors(t *testing.T) {
	in := buildInstall(t, `[{number: 1}]`)

	res := in.run(t, "submit", "1")
	if res.code != 1 || !bytes.Contains(res.stderr, []byte("usage: submit <project-number> <directory>")) {
		t.Fatalf("unexpected result %d:\n%s", res.code, res.stderr)
	}
	res = in.run(t, "lssub", "2")
	if res.code != 1 || !bytes.Contains(res.stderr, []byte("usage: lssub")) {
		t.Fatalf("unexpected result %d:\n%s", res.code, res.stderr)
	}
	if _, err := os.Stat(filepath.Join(in.root, "audit.log")); !os.IsNotExist(err) {
		t.Fatalf("usage errors must not touch the audit log: %v", err)
	}
}

func TestE2E_VersionUnderOwnName(t *testing.T) {
	in := buildInstall(t, `[{number: 1}]`)
	res := in.run(t, "autofeedback", "version")
	if res.code != 0 || !bytes.HasPrefix(res.stdout, []byte("autofeedback ")) {
		t.Fatalf("unexpected result %d: %q %q", res.code, res.stdout, res.stderr)
	}
}
