package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dshills/plexus/internal/message"
)

// testHandler is a simple handler for testing.
type testHandler struct {
	fn func(ctx context.Context, msg message.Message) error
}

func (h *testHandler) Handle(ctx context.Context, msg message.Message) error {
	return h.fn(ctx, msg)
}

func newTestHandler(fn func(ctx context.Context, msg message.Message) error) Handler {
	return &testHandler{fn: fn}
}

func testMessage() message.Message {
	return message.NewNotice("test.event", nil)
}

func TestResult_Predicates(t *testing.T) {
	tests := []struct {
		name    string
		result  Result
		success bool
		isErr   bool
		isPanic bool
		invoked bool
	}{
		{"success", Result{Success: true}, true, false, false, true},
		{"error", Result{Error: errors.New("boom")}, false, true, false, true},
		{"panic", Result{Panicked: true, PanicValue: "x"}, false, false, true, true},
		{"skipped", Result{Skipped: true, Error: context.Canceled}, false, false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.result.IsSuccess(); got != tt.success {
				t.Errorf("IsSuccess() = %v, want %v", got, tt.success)
			}
			if got := tt.result.IsError(); got != tt.isErr {
				t.Errorf("IsError() = %v, want %v", got, tt.isErr)
			}
			if got := tt.result.IsPanic(); got != tt.isPanic {
				t.Errorf("IsPanic() = %v, want %v", got, tt.isPanic)
			}
			if got := tt.result.Invoked(); got != tt.invoked {
				t.Errorf("Invoked() = %v, want %v", got, tt.invoked)
			}
		})
	}
}

func TestExecutor_Success(t *testing.T) {
	e := NewExecutor()
	var got message.Message
	result := e.Execute(context.Background(), testMessage(), newTestHandler(func(ctx context.Context, msg message.Message) error {
		got = msg
		return nil
	}))

	if !result.IsSuccess() {
		t.Fatalf("expected success, got %+v", result)
	}
	if got.Type != "test.event" {
		t.Errorf("handler received wrong message: %q", got.Type)
	}
}

func TestExecutor_Error(t *testing.T) {
	e := NewExecutor()
	want := errors.New("handler failed")
	result := e.Execute(context.Background(), testMessage(), newTestHandler(func(ctx context.Context, msg message.Message) error {
		return want
	}))

	if result.Success {
		t.Error("expected failure")
	}
	if !errors.Is(result.Error, want) {
		t.Errorf("expected %v, got %v", want, result.Error)
	}
}

func TestExecutor_Panic(t *testing.T) {
	var captured atomic.Value
	e := NewExecutor(WithPanicHandler(func(msg message.Message, v any, stack []byte) {
		captured.Store(v)
		if len(stack) == 0 {
			t.Error("expected a stack trace")
		}
	}))

	result := e.Execute(context.Background(), testMessage(), newTestHandler(func(ctx context.Context, msg message.Message) error {
		panic("test panic")
	}))

	if !result.Panicked {
		t.Fatal("expected Panicked to be true")
	}
	if result.PanicValue != "test panic" {
		t.Errorf("expected panic value 'test panic', got %v", result.PanicValue)
	}
	if captured.Load() != "test panic" {
		t.Errorf("panic handler saw %v", captured.Load())
	}
}

func TestExecutor_PanickingPanicHandler(t *testing.T) {
	e := NewExecutor(WithPanicHandler(func(message.Message, any, []byte) {
		panic("panic handler panic")
	}))

	result := e.Execute(context.Background(), testMessage(), newTestHandler(func(ctx context.Context, msg message.Message) error {
		panic("handler panic")
	}))
	if !result.Panicked {
		t.Error("expected Panicked to be true")
	}
}

func TestExecutor_CancelledContext(t *testing.T) {
	e := NewExecutor()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	result := e.Execute(ctx, testMessage(), newTestHandler(func(ctx context.Context, msg message.Message) error {
		called = true
		return nil
	}))

	if called {
		t.Error("handler should not run with a cancelled context")
	}
	if !result.Skipped {
		t.Error("expected Skipped")
	}
	if !errors.Is(result.Error, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", result.Error)
	}
}

func TestSequential_Order(t *testing.T) {
	s := NewSequential()
	var order []int

	invs := make([]Invocation, 5)
	for i := range invs {
		invs[i] = Invocation{Handler: newTestHandler(func(ctx context.Context, msg message.Message) error {
			order = append(order, i)
			return nil
		})}
	}

	results := s.Run(context.Background(), testMessage(), invs)
	if len(results) != 5 {
		t.Fatalf("expected 5 results, got %d", len(results))
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("expected order 0..4, got %v", order)
		}
	}
}

func TestSequential_ErrorDoesNotStopDelivery(t *testing.T) {
	s := NewSequential()
	var calls atomic.Int32

	invs := []Invocation{
		{Handler: newTestHandler(func(ctx context.Context, msg message.Message) error {
			calls.Add(1)
			return errors.New("first fails")
		})},
		{Handler: newTestHandler(func(ctx context.Context, msg message.Message) error {
			calls.Add(1)
			panic("second panics")
		})},
		{Handler: newTestHandler(func(ctx context.Context, msg message.Message) error {
			calls.Add(1)
			return nil
		})},
	}

	results := s.Run(context.Background(), testMessage(), invs)
	if calls.Load() != 3 {
		t.Errorf("expected 3 calls, got %d", calls.Load())
	}
	if !results[0].IsError() || !results[1].IsPanic() || !results[2].IsSuccess() {
		t.Errorf("unexpected results: %+v", results)
	}
}

func TestSequential_LiveCheck(t *testing.T) {
	s := NewSequential()
	var live atomic.Bool
	live.Store(true)
	var secondCalled bool

	invs := []Invocation{
		{Handler: newTestHandler(func(ctx context.Context, msg message.Message) error {
			live.Store(false) // unsubscribes the second handler mid-delivery
			return nil
		})},
		{
			Handler: newTestHandler(func(ctx context.Context, msg message.Message) error {
				secondCalled = true
				return nil
			}),
			Live: live.Load,
		},
	}

	results := s.Run(context.Background(), testMessage(), invs)
	if secondCalled {
		t.Error("handler removed mid-delivery must not be called")
	}
	if !results[1].Skipped {
		t.Error("expected second result to be skipped")
	}
}

func TestSequential_ContextCancelledMidway(t *testing.T) {
	s := NewSequential()
	ctx, cancel := context.WithCancel(context.Background())

	invs := []Invocation{
		{Handler: newTestHandler(func(ctx context.Context, msg message.Message) error {
			cancel()
			return nil
		})},
		{Handler: newTestHandler(func(ctx context.Context, msg message.Message) error {
			t.Error("should not run after cancellation")
			return nil
		})},
	}

	results := s.Run(ctx, testMessage(), invs)
	if !results[0].IsSuccess() {
		t.Error("first handler should succeed")
	}
	if !results[1].Skipped {
		t.Error("second handler should be skipped")
	}
}

func TestParallel_AllHandlersComplete(t *testing.T) {
	p := NewParallel(4)
	const count = 20
	var calls atomic.Int32

	invs := make([]Invocation, count)
	for i := range invs {
		invs[i] = Invocation{Handler: newTestHandler(func(ctx context.Context, msg message.Message) error {
			time.Sleep(time.Millisecond)
			calls.Add(1)
			if i%5 == 0 {
				return errors.New("some fail")
			}
			return nil
		})}
	}

	results := p.Run(context.Background(), testMessage(), invs)
	if calls.Load() != count {
		t.Errorf("expected %d calls before Run returned, got %d", count, calls.Load())
	}
	failed := 0
	for _, r := range results {
		if r.IsError() {
			failed++
		}
	}
	if failed != 4 {
		t.Errorf("expected 4 failures, got %d", failed)
	}
}

func TestParallel_RespectsLimit(t *testing.T) {
	p := NewParallel(2)
	var current, peak atomic.Int32
	var mu sync.Mutex

	invs := make([]Invocation, 8)
	for i := range invs {
		invs[i] = Invocation{Handler: newTestHandler(func(ctx context.Context, msg message.Message) error {
			n := current.Add(1)
			mu.Lock()
			if n > peak.Load() {
				peak.Store(n)
			}
			mu.Unlock()
			time.Sleep(5 * time.Millisecond)
			current.Add(-1)
			return nil
		})}
	}

	p.Run(context.Background(), testMessage(), invs)
	if peak.Load() > 2 {
		t.Errorf("expected at most 2 concurrent handlers, saw %d", peak.Load())
	}
}

func TestParallel_Empty(t *testing.T) {
	p := NewParallel(0)
	if results := p.Run(context.Background(), testMessage(), nil); len(results) != 0 {
		t.Errorf("expected no results, got %d", len(results))
	}
	if p.Limit() != 0 {
		t.Errorf("expected unbounded limit, got %d", p.Limit())
	}
}
