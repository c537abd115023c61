package lua

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	glua "github.com/yuin/gopher-lua"
)

func newTestState(t *testing.T, opts ...StateOption) *State {
	t.Helper()
	state, err := NewState(opts...)
	if err != nil {
		t.Fatalf("NewState() error = %v", err)
	}
	t.Cleanup(func() { state.Close() })
	return state
}

func TestStateDoString(t *testing.T) {
	ctx := context.Background()
	state := newTestState(t)

	if err := state.DoString(ctx, `x = 1 + 1`); err != nil {
		t.Fatalf("DoString() error = %v", err)
	}
	if v := state.GetGlobal(ctx, "x"); v != glua.LNumber(2) {
		t.Errorf("x = %v, want 2", v)
	}

	if err := state.DoString(ctx, `invalid lua code !!!`); err == nil {
		t.Error("DoString() should fail on a syntax error")
	}
}

func TestStateCall(t *testing.T) {
	ctx := context.Background()
	state := newTestState(t)

	if err := state.DoString(ctx, `
		function divmod(a, b) return math.floor(a / b), a % b end
		function nothing() end
		notfn = 3
	`); err != nil {
		t.Fatal(err)
	}

	results, err := state.Call(ctx, "divmod", glua.LNumber(7), glua.LNumber(2))
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if len(results) != 2 || results[0] != glua.LNumber(3) || results[1] != glua.LNumber(1) {
		t.Errorf("divmod(7, 2) = %v", results)
	}

	results, err = state.Call(ctx, "nothing")
	if err != nil || results == nil || len(results) != 0 {
		t.Errorf("nothing() = %v, %v; want empty non-nil slice", results, err)
	}

	if _, err := state.Call(ctx, "undefined_function"); err == nil {
		t.Error("Call() on undefined function should fail")
	}
	if _, err := state.Call(ctx, "notfn"); err == nil {
		t.Error("Call() on a number should fail")
	}

	if !state.HasFunction(ctx, "divmod") || state.HasFunction(ctx, "notfn") {
		t.Error("HasFunction() mismatch")
	}
}

func TestStateRegisterModule(t *testing.T) {
	ctx := context.Background()
	state := newTestState(t)

	err := state.RegisterModule(ctx, "testmod", map[string]glua.LGFunction{
		"hello": func(L *glua.LState) int {
			L.Push(glua.LString("world"))
			return 1
		},
	})
	if err != nil {
		t.Fatalf("RegisterModule() error = %v", err)
	}

	if err := state.DoString(ctx, `a = testmod.hello(); b = require("testmod").hello()`); err != nil {
		t.Fatalf("DoString() error = %v", err)
	}
	for _, name := range []string{"a", "b"} {
		if v := state.GetGlobal(ctx, name); v != glua.LString("world") {
			t.Errorf("%s = %v, want world", name, v)
		}
	}
}

func TestStateTimeout(t *testing.T) {
	ctx := context.Background()
	state := newTestState(t, WithExecutionTimeout(50*time.Millisecond))

	start := time.Now()
	err := state.DoString(ctx, `while true do end`)
	if err == nil {
		t.Fatal("infinite loop should be interrupted")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("timeout took %v", elapsed)
	}

	// The state stays usable after a timeout.
	if err := state.DoString(ctx, `y = 1`); err != nil {
		t.Errorf("DoString() after timeout error = %v", err)
	}
}

func TestStateCallerContext(t *testing.T) {
	state := newTestState(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := state.DoString(ctx, `while true do end`); err == nil {
		t.Error("cancelled caller context should stop execution")
	}
}

func TestStateNestedCalls(t *testing.T) {
	ctx := context.Background()
	state := newTestState(t)

	// reenter runs Lua code again while the outer call is blocked in Go,
	// which is what a handler in the same plugin sees when a publish is
	// delivered synchronously.
	err := state.RegisterModule(ctx, "host", map[string]glua.LGFunction{
		"reenter": func(L *glua.LState) int {
			code := L.CheckString(1)
			if err := state.DoString(state.Context(), code); err != nil {
				L.RaiseError("%v", err)
			}
			return 0
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() {
		done <- state.DoString(ctx, `
			depth = 0
			host.reenter("depth = depth + 1; host.reenter('depth = depth + 1')")
		`)
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("DoString() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("nested call deadlocked")
	}
	if v := state.GetGlobal(ctx, "depth"); v != glua.LNumber(2) {
		t.Errorf("depth = %v, want 2", v)
	}
}

func TestStateConcurrentCalls(t *testing.T) {
	ctx := context.Background()
	state := newTestState(t)
	if err := state.DoString(ctx, `count = 0; function inc() count = count + 1 end`); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := state.Call(ctx, "inc"); err != nil {
				t.Errorf("Call() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if v := state.GetGlobal(ctx, "count"); v != glua.LNumber(20) {
		t.Errorf("count = %v, want 20", v)
	}
}

func TestStateDoRecoversPanic(t *testing.T) {
	state := newTestState(t)

	err := state.Do(context.Background(), func(ctx context.Context, L *glua.LState) error {
		panic("boom")
	})
	if err == nil {
		t.Fatal("panic should be returned as an error")
	}
	if err := state.DoString(context.Background(), `z = 1`); err != nil {
		t.Errorf("state unusable after panic: %v", err)
	}
}

func TestStateClose(t *testing.T) {
	ctx := context.Background()
	state, err := NewState()
	if err != nil {
		t.Fatal(err)
	}

	if err := state.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !state.IsClosed() {
		t.Error("Close() did not close state")
	}
	if err := state.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}

	if err := state.DoString(ctx, `x = 1`); !errors.Is(err, ErrStateClosed) {
		t.Errorf("DoString() on closed state error = %v", err)
	}
	if _, err := state.Call(ctx, "f"); !errors.Is(err, ErrStateClosed) {
		t.Errorf("Call() on closed state error = %v", err)
	}
	if state.GetGlobal(ctx, "x") != glua.LNil {
		t.Error("GetGlobal() on closed state should return nil")
	}
}
