package project

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/flarebyte/autofeedback/internal/archive"
	"github.com/flarebyte/autofeedback/internal/config"
)

const (
	sandboxTimeoutViolation = "sandbox timeout"
	sandboxMemoryViolation  = "sandbox memory limit"
)

func init() {
	register("lua", func(ac config.Action, opts Options) (Action, error) {
		return Lua{Script: ac.Script, Limits: opts.Lua}, nil
	})
}

// Lua runs an inline script that returns ok[, message]. The script sees
// entries (tar artifacts), patch (git-diff artifacts), project and user.
type Lua struct {
	Script string
	Limits config.LuaLimits
}

func (l Lua) Run(ctx context.Context, env Env) (bool, error) {
	globals, err := luaGlobals(env)
	if err != nil {
		return false, err
	}
	L := newSandboxLuaState(l.Limits)
	defer L.Close()

	if l.Limits.TimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(l.Limits.TimeoutMs)*time.Millisecond)
		defer cancel()
	}
	L.SetContext(ctx)

	for k, v := range globals {
		L.SetGlobal(k, toLValue(L, v))
	}
	fn, err := L.LoadString(l.Script)
	if err != nil {
		return false, fmt.Errorf("lua: %w", err)
	}
	L.Push(fn)
	if err := L.PCall(0, 2, nil); err != nil {
		if isTimeoutError(err) {
			return false, fmt.Errorf("lua: %s", sandboxTimeoutViolation)
		}
		if strings.Contains(strings.ToLower(err.Error()), "registry overflow") {
			return false, fmt.Errorf("lua: %s", sandboxMemoryViolation)
		}
		return false, fmt.Errorf("lua: %w", err)
	}
	ok := lua.LVAsBool(L.Get(-2))
	msg := L.Get(-1)
	L.Pop(2)
	if !ok && msg != lua.LNil {
		env.Log.Errorf("%s", msg.String())
	}
	return ok, nil
}

func luaGlobals(env Env) (map[string]any, error) {
	g := map[string]any{
		"project": env.Project,
		"user":    env.User,
	}
	if env.Archive == nil {
		return g, nil
	}
	if env.Format == archive.FormatGitDiff {
		b, err := io.ReadAll(env.Archive)
		if err != nil {
			return nil, fmt.Errorf("reading patch: %w", err)
		}
		g["patch"] = string(b)
		return g, nil
	}
	entries, err := archive.ReadEntries(env.Archive, env.Compression)
	if err != nil {
		return nil, err
	}
	list := make([]any, 0, len(entries))
	for _, e := range entries {
		m := map[string]any{"name": e.Name, "type": e.Type, "size": e.Size}
		if e.Linkname != "" {
			m["target"] = e.Linkname
		}
		list = append(list, m)
	}
	g["entries"] = list
	return g, nil
}

func newSandboxLuaState(limits config.LuaLimits) *lua.LState {
	L := lua.NewState(lua.Options{
		SkipOpenLibs:     true,
		RegistrySize:     256,
		RegistryMaxSize:  registryMaxFromMemory(limits.MemoryLimitBytes),
		RegistryGrowStep: 0,
	})
	openLib := func(name string, f lua.LGFunction) {
		L.Push(L.NewFunction(f))
		L.Push(lua.LString(name))
		L.Call(1, 0)
	}
	openLib(lua.BaseLibName, lua.OpenBase)
	openLib(lua.StringLibName, lua.OpenString)
	openLib(lua.TabLibName, lua.OpenTable)
	openLib(lua.MathLibName, lua.OpenMath)
	// No file access from scripts.
	for _, name := range []string{"dofile", "loadfile", "require", "module"} {
		L.SetGlobal(name, lua.LNil)
	}
	return L
}

func registryMaxFromMemory(memoryLimitBytes int) int {
	if memoryLimitBytes <= 0 {
		return 256
	}
	n := memoryLimitBytes / 64
	if n < 128 {
		n = 128
	}
	if n > 4096 {
		n = 4096
	}
	return n
}

func isTimeoutError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "deadline") || strings.Contains(s, "context canceled")
}

func toLValue(L *lua.LState, v any) lua.LValue {
	switch x := v.(type) {
	case nil:
		return lua.LNil
	case string:
		return lua.LString(x)
	case bool:
		return lua.LBool(x)
	case int:
		return lua.LNumber(float64(x))
	case int64:
		return lua.LNumber(float64(x))
	case map[string]any:
		tbl := L.NewTable()
		for k, v2 := range x {
			tbl.RawSetString(k, toLValue(L, v2))
		}
		return tbl
	case []any:
		tbl := L.NewTable()
		for i, v2 := range x {
			tbl.RawSetInt(i+1, toLValue(L, v2))
		}
		return tbl
	default:
		return lua.LNil
	}
}
