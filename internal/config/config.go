package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// DefaultPath is the site configuration read by the setuid binary. It is set
// at build time with -ldflags "-X .../internal/config.DefaultPath=..." and is
// never taken from the invoker.
var DefaultPath = "/etc/autofeedback/site.cue"

const (
	DefaultMaxSubmissionBytes  = 8192000
	DefaultMaxFeedbackBytes    = 8192000
	DefaultLuaTimeoutMs        = 2000
	DefaultLuaMemoryLimitBytes = 8388608
	DefaultFeedbackHelper      = "write-feedback"
)

const CurrentConfigVersion = "1"

var SupportedConfigVersions = []string{CurrentConfigVersion}

//go:embed schema.cue
var schemaSource []byte

type Site struct {
	ConfigVersion      string    `json:"configVersion"`
	Module             string    `json:"module"`
	SubmissionsRoot    string    `json:"submissionsRoot"`
	OwnerUID           int       `json:"ownerUID"`
	HelperDir          string    `json:"helperDir"`
	MaxSubmissionBytes int64     `json:"maxSubmissionBytes"`
	MaxFeedbackBytes   int64     `json:"maxFeedbackBytes"`
	Format             string    `json:"format"`
	Compression        string    `json:"compression"`
	Lua                LuaLimits `json:"lua"`
	Projects           []Project `json:"projects"`
}

// LuaLimits bounds the sandbox used by lua project actions.
type LuaLimits struct {
	TimeoutMs        int `json:"timeoutMs"`
	MemoryLimitBytes int `json:"memoryLimitBytes"`
}

type Project struct {
	Number             int    `json:"number"`
	Description        string `json:"description"`
	Revision           string `json:"revision"`
	Gitignore          bool   `json:"gitignore"`
	CheckSanity        Action `json:"checkSanity"`
	WriteFeedback      Action `json:"writeFeedback"`
	FinaliseSubmission Action `json:"finaliseSubmission"`
}

// Action selects one of the built-in project actions.
type Action struct {
	Kind    string `json:"kind"`
	Helper  string `json:"helper"`
	Arg     string `json:"arg"`
	Message string `json:"message"`
	Script  string `json:"script"`
}

// Load reads, validates and defaults the site configuration at path.
func Load(path string) (Site, error) {
	if filepath.Ext(path) != ".cue" {
		return Site{}, errors.New("unsupported config format: expected .cue")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Site{}, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(path, data)
}

// Parse is Load on an in-memory file; name is used in error messages.
func Parse(name string, data []byte) (Site, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileBytes(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return Site{}, fmt.Errorf("invalid embedded schema: %v", err)
	}
	v := ctx.CompileBytes(data, cue.Filename(name))
	if err := v.Err(); err != nil {
		return Site{}, fmt.Errorf("invalid config: %v", err)
	}
	if err := requireStringField(v, "configVersion"); err != nil {
		return Site{}, err
	}
	var version string
	_ = v.LookupPath(cue.ParsePath("configVersion")).Decode(&version)
	if !IsSupportedConfigVersion(version) {
		return Site{}, fmt.Errorf("unsupported configVersion: %q (supported: %s)", version, SupportedConfigVersionsCSV())
	}

	u := schema.LookupPath(cue.ParsePath("#Site")).Unify(v)
	if err := u.Validate(cue.Concrete(true)); err != nil {
		return Site{}, fmt.Errorf("invalid config: %v", err)
	}
	var s Site
	if err := u.Decode(&s); err != nil {
		return Site{}, fmt.Errorf("invalid config: %v", err)
	}
	applyDefaults(&s)
	if err := validate(s); err != nil {
		return Site{}, err
	}
	return s, nil
}

func IsSupportedConfigVersion(v string) bool {
	for _, s := range SupportedConfigVersions {
		if v == s {
			return true
		}
	}
	return false
}

func SupportedConfigVersionsCSV() string {
	return strings.Join(SupportedConfigVersions, ", ")
}

func requireStringField(v cue.Value, name string) error {
	f := v.LookupPath(cue.ParsePath(name))
	if !f.Exists() {
		return fmt.Errorf("missing required field: %s", name)
	}
	if f.Kind() != cue.StringKind {
		return fmt.Errorf("invalid type for field: %s (expected string)", name)
	}
	return nil
}

func applyDefaults(s *Site) {
	if s.MaxSubmissionBytes == 0 {
		s.MaxSubmissionBytes = DefaultMaxSubmissionBytes
	}
	if s.MaxFeedbackBytes == 0 {
		s.MaxFeedbackBytes = DefaultMaxFeedbackBytes
	}
	if s.Format == "" {
		s.Format = "tar"
	}
	if s.Compression == "" {
		s.Compression = "none"
	}
	if s.Lua.TimeoutMs == 0 {
		s.Lua.TimeoutMs = DefaultLuaTimeoutMs
	}
	if s.Lua.MemoryLimitBytes == 0 {
		s.Lua.MemoryLimitBytes = DefaultLuaMemoryLimitBytes
	}
	for i := range s.Projects {
		p := &s.Projects[i]
		if p.Description == "" {
			p.Description = "project " + strconv.Itoa(p.Number)
		}
		if p.CheckSanity.Kind == "" {
			p.CheckSanity.Kind = "accept"
		}
		if p.FinaliseSubmission.Kind == "" {
			p.FinaliseSubmission.Kind = "accept"
		}
		if p.WriteFeedback.Kind == "" {
			p.WriteFeedback = Action{Kind: "helper", Helper: DefaultFeedbackHelper, Arg: strconv.Itoa(p.Number)}
		}
	}
}

func validate(s Site) error {
	if !filepath.IsAbs(s.SubmissionsRoot) {
		return fmt.Errorf("submissionsRoot must be absolute: %q", s.SubmissionsRoot)
	}
	if !filepath.IsAbs(s.HelperDir) {
		return fmt.Errorf("helperDir must be absolute: %q", s.HelperDir)
	}
	if s.Module == "" {
		return errors.New("module must not be empty")
	}
	if s.Format == "git-diff" && s.Compression != "none" {
		return errors.New("compression applies to the tar format only")
	}
	for i, p := range s.Projects {
		if p.Number != i+1 {
			return fmt.Errorf("projects must be numbered from 1 in order: position %d has number %d", i+1, p.Number)
		}
		if err := validateAction(p.CheckSanity); err != nil {
			return fmt.Errorf("project %d checkSanity: %w", p.Number, err)
		}
		if err := validateAction(p.WriteFeedback); err != nil {
			return fmt.Errorf("project %d writeFeedback: %w", p.Number, err)
		}
		if err := validateAction(p.FinaliseSubmission); err != nil {
			return fmt.Errorf("project %d finaliseSubmission: %w", p.Number, err)
		}
	}
	return nil
}

func validateAction(a Action) error {
	switch a.Kind {
	case "helper":
		if a.Helper == "" || a.Helper == "." || a.Helper == ".." || strings.ContainsRune(a.Helper, '/') {
			return fmt.Errorf("helper must be a file name under helperDir: %q", a.Helper)
		}
	case "lua":
		if strings.TrimSpace(a.Script) == "" {
			return errors.New("lua action needs a script")
		}
	}
	return nil
}
