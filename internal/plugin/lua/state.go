package lua

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// DefaultExecutionTimeout bounds a single call into the Lua state.
const DefaultExecutionTimeout = 5 * time.Second

// State wraps gopher-lua with sandboxing and serialized access.
//
// gopher-lua's LState is not goroutine-safe, so at most one call runs Lua
// code at a time. Calls may nest: Lua code that publishes a message can
// reach a handler living in the same state. A nested call is recognized by
// the context it receives, which descends from the context of the call that
// is blocked waiting for it. Every call locks the frame of its caller; the
// outermost frame is the state's own. Siblings under one frame take turns,
// and a nested call never waits on the frame it is blocking.
type State struct {
	L *lua.LState

	root    frame
	closed  atomic.Bool
	current context.Context

	executionTimeout time.Duration
	sandbox          *Sandbox
}

// frame serializes the calls made while one call is blocked in Go code.
type frame struct {
	mu sync.Mutex
}

// frameKey is the context key under which a State stores the active frame.
type frameKey struct{ s *State }

// StateOption configures a State.
type StateOption func(*State)

// WithExecutionTimeout sets the timeout for each call into Lua.
// Zero disables the timeout; the caller's context still applies.
func WithExecutionTimeout(d time.Duration) StateOption {
	return func(s *State) {
		s.executionTimeout = d
	}
}

// NewState creates a new sandboxed Lua state.
func NewState(opts ...StateOption) (*State, error) {
	state := &State{
		executionTimeout: DefaultExecutionTimeout,
		current:          context.Background(),
	}

	for _, opt := range opts {
		opt(state)
	}

	L := lua.NewState(lua.Options{
		SkipOpenLibs: true, // We'll open selectively
	})
	state.L = L

	openSafeLibraries(L)

	state.sandbox = NewSandbox(L)
	state.sandbox.Install()

	return state, nil
}

// openSafeLibraries opens only safe Lua standard libraries.
func openSafeLibraries(L *lua.LState) {
	lua.OpenBase(L)
	lua.OpenPackage(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	// Note: These are intentionally NOT opened:
	// - io (file system access)
	// - os (system calls, execute)
	// - debug (can bypass sandbox)
}

// Do runs fn with exclusive access to the Lua state. The context passed to
// fn carries the new frame and the execution timeout; Go functions called
// from Lua during fn see it through Context.
func (s *State) Do(ctx context.Context, fn func(ctx context.Context, L *lua.LState) error) (err error) {
	if s.closed.Load() {
		return ErrStateClosed
	}

	parent, _ := ctx.Value(frameKey{s}).(*frame)
	if parent == nil {
		parent = &s.root
	}
	parent.mu.Lock()
	defer parent.mu.Unlock()

	// Close may have won the race for the root frame.
	if s.closed.Load() {
		return ErrStateClosed
	}

	callCtx := context.WithValue(ctx, frameKey{s}, &frame{})
	if s.executionTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(callCtx, s.executionTimeout)
		defer cancel()
	}

	prevCtx := s.current
	prevLuaCtx := s.L.Context()
	s.current = callCtx
	s.L.SetContext(callCtx)
	defer func() {
		s.current = prevCtx
		if prevLuaCtx != nil {
			s.L.SetContext(prevLuaCtx)
		} else {
			s.L.RemoveContext()
		}
	}()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua panic: %v", r)
		}
	}()
	return fn(callCtx, s.L)
}

// Context returns the context of the call currently running Lua code. Go
// functions exposed to Lua use it for anything they publish, so handlers
// reached that way run as nested calls.
func (s *State) Context() context.Context {
	return s.current
}

// DoFile executes a Lua file.
func (s *State) DoFile(ctx context.Context, path string) error {
	return s.Do(ctx, func(ctx context.Context, L *lua.LState) error {
		return L.DoFile(path)
	})
}

// DoString executes a Lua string.
func (s *State) DoString(ctx context.Context, code string) error {
	return s.Do(ctx, func(ctx context.Context, L *lua.LState) error {
		return L.DoString(code)
	})
}

// Call calls a global Lua function with the given arguments.
// Returns an empty slice (not nil) if the function returns no values.
func (s *State) Call(ctx context.Context, fn string, args ...lua.LValue) ([]lua.LValue, error) {
	var results []lua.LValue
	err := s.Do(ctx, func(ctx context.Context, L *lua.LState) error {
		fnVal := L.GetGlobal(fn)
		if fnVal == lua.LNil {
			return fmt.Errorf("function %q not found", fn)
		}
		f, ok := fnVal.(*lua.LFunction)
		if !ok {
			return fmt.Errorf("%q is not a function (got %s)", fn, fnVal.Type())
		}
		var err error
		results, err = pcall(L, f, args...)
		return err
	})
	return results, err
}

// CallFunction calls a Lua function value with the given arguments.
func (s *State) CallFunction(ctx context.Context, f *lua.LFunction, args ...lua.LValue) ([]lua.LValue, error) {
	var results []lua.LValue
	err := s.Do(ctx, func(ctx context.Context, L *lua.LState) error {
		var err error
		results, err = pcall(L, f, args...)
		return err
	})
	return results, err
}

// pcall calls f in protected mode and collects its results.
func pcall(L *lua.LState, f *lua.LFunction, args ...lua.LValue) ([]lua.LValue, error) {
	// Record stack top before pushing anything
	stackTop := L.GetTop()

	L.Push(f)
	for _, arg := range args {
		L.Push(arg)
	}
	if err := L.PCall(len(args), lua.MultRet, nil); err != nil {
		return nil, err
	}

	// Collect return values (only the new values added after the call)
	nRet := L.GetTop() - stackTop
	if nRet <= 0 {
		return []lua.LValue{}, nil
	}
	results := make([]lua.LValue, nRet)
	for i := 0; i < nRet; i++ {
		results[i] = L.Get(stackTop + i + 1)
	}
	L.Pop(nRet)
	return results, nil
}

// HasFunction reports whether a global function named name exists.
func (s *State) HasFunction(ctx context.Context, name string) bool {
	found := false
	s.Do(ctx, func(ctx context.Context, L *lua.LState) error {
		_, found = L.GetGlobal(name).(*lua.LFunction)
		return nil
	})
	return found
}

// GetGlobal returns a global variable value.
func (s *State) GetGlobal(ctx context.Context, name string) lua.LValue {
	v := lua.LValue(lua.LNil)
	s.Do(ctx, func(ctx context.Context, L *lua.LState) error {
		v = L.GetGlobal(name)
		return nil
	})
	return v
}

// RegisterModule makes funcs available as the global table name and through
// require(name).
func (s *State) RegisterModule(ctx context.Context, name string, funcs map[string]lua.LGFunction) error {
	return s.Do(ctx, func(ctx context.Context, L *lua.LState) error {
		mod := L.SetFuncs(L.NewTable(), funcs)
		L.SetGlobal(name, mod)
		L.PreloadModule(name, func(L *lua.LState) int {
			L.Push(mod)
			return 1
		})
		s.sandbox.Allow(name)
		return nil
	})
}

// Sandbox returns the sandbox for permission management.
func (s *State) Sandbox() *Sandbox {
	return s.sandbox
}

// IsClosed returns true if the state has been closed.
func (s *State) IsClosed() bool {
	return s.closed.Load()
}

// Close releases the Lua state. It waits for the running outermost call to
// return. After Close every call returns ErrStateClosed.
func (s *State) Close() error {
	s.root.mu.Lock()
	defer s.root.mu.Unlock()

	if s.closed.Swap(true) {
		return nil
	}
	s.L.Close()
	return nil
}
