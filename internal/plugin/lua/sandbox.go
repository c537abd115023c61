package lua

import (
	"os"
	"slices"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// Grant names a permission that widens the sandbox.
type Grant string

// Available grants.
const (
	// GrantEnv exposes os.getenv.
	GrantEnv Grant = "env"

	// GrantTime exposes os.time and os.clock.
	GrantTime Grant = "time"
)

// Sandbox restricts Lua execution to safe operations.
type Sandbox struct {
	L *lua.LState

	// Modules require may load besides the safe built-ins
	allowed map[string]bool

	granted map[Grant]bool
	started time.Time
}

// NewSandbox creates a new sandbox for the Lua state.
func NewSandbox(L *lua.LState) *Sandbox {
	return &Sandbox{
		L:       L,
		allowed: make(map[string]bool),
		granted: make(map[Grant]bool),
		started: time.Now(),
	}
}

// Install removes the functions that load code from disk or strings and
// replaces require with a whitelist.
func (s *Sandbox) Install() {
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring"} {
		s.L.SetGlobal(name, lua.LNil)
	}
	s.installSafeRequire()
}

// installSafeRequire clears the module search paths and replaces require
// with a version that only returns whitelisted or preloaded modules.
func (s *Sandbox) installSafeRequire() {
	if pkg, ok := s.L.GetGlobal("package").(*lua.LTable); ok {
		s.L.SetField(pkg, "path", lua.LString(""))
		s.L.SetField(pkg, "cpath", lua.LString(""))
	}

	safeModules := map[string]bool{
		"string": true,
		"table":  true,
		"math":   true,
	}

	originalRequire := s.L.GetGlobal("require")
	s.L.SetGlobal("require", s.L.NewFunction(func(L *lua.LState) int {
		modName := L.CheckString(1)
		if safeModules[modName] {
			L.Push(L.GetGlobal(modName))
			return 1
		}
		if !s.allowed[modName] {
			L.RaiseError("module %q is not available", modName)
			return 0
		}
		L.Push(originalRequire)
		L.Push(lua.LString(modName))
		L.Call(1, 1)
		return 1
	}))
}

// Allow lets require load a preloaded module.
func (s *Sandbox) Allow(module string) {
	s.allowed[module] = true
}

// Grant enables a permission and injects the functions it covers.
func (s *Sandbox) Grant(g Grant) error {
	switch g {
	case GrantEnv:
		s.osModule().RawSetString("getenv", s.L.NewFunction(func(L *lua.LState) int {
			value, ok := os.LookupEnv(L.CheckString(1))
			if !ok {
				L.Push(lua.LNil)
				return 1
			}
			L.Push(lua.LString(value))
			return 1
		}))
	case GrantTime:
		os := s.osModule()
		os.RawSetString("time", s.L.NewFunction(func(L *lua.LState) int {
			L.Push(lua.LNumber(time.Now().Unix()))
			return 1
		}))
		os.RawSetString("clock", s.L.NewFunction(func(L *lua.LState) int {
			L.Push(lua.LNumber(time.Since(s.started).Seconds()))
			return 1
		}))
	default:
		return &GrantError{Grant: g}
	}
	s.granted[g] = true
	return nil
}

// osModule returns the restricted os table, creating it on first use.
func (s *Sandbox) osModule() *lua.LTable {
	if t, ok := s.L.GetGlobal("os").(*lua.LTable); ok {
		return t
	}
	t := s.L.NewTable()
	s.L.SetGlobal("os", t)
	return t
}

// HasGrant returns true if the permission was granted.
func (s *Sandbox) HasGrant(g Grant) bool {
	return s.granted[g]
}

// Grants returns the granted permissions in sorted order.
func (s *Sandbox) Grants() []Grant {
	out := make([]Grant, 0, len(s.granted))
	for g := range s.granted {
		out = append(out, g)
	}
	slices.Sort(out)
	return out
}

// GrantError is returned for unknown grants.
type GrantError struct {
	Grant Grant
}

func (e *GrantError) Error() string {
	return "unknown sandbox grant: " + string(e.Grant)
}
