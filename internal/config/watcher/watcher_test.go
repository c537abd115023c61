package watcher

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// collector records events delivered to a handler.
type collector struct {
	mu     sync.Mutex
	events []Event
	signal chan struct{}
}

func newCollector() *collector {
	return &collector{signal: make(chan struct{}, 64)}
}

func (c *collector) handle(e Event) {
	c.mu.Lock()
	c.events = append(c.events, e)
	c.mu.Unlock()
	c.signal <- struct{}{}
}

func (c *collector) wait(t *testing.T) Event {
	t.Helper()
	select {
	case <-c.signal:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.events[len(c.events)-1]
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func TestOperation_String(t *testing.T) {
	tests := []struct {
		op   Operation
		want string
	}{
		{OpWrite, "write"},
		{OpCreate, "create"},
		{OpRemove, "remove"},
		{OpRename, "rename"},
		{Operation(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.op.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", tt.op, got, tt.want)
		}
	}
}

func TestWatcher_WatchUnwatch(t *testing.T) {
	dir := t.TempDir()
	w := New()

	if err := w.Watch(filepath.Join(dir, "b.toml")); err != nil {
		t.Fatal(err)
	}
	if err := w.Watch(filepath.Join(dir, "a.toml")); err != nil {
		t.Fatal(err)
	}
	files := w.WatchedFiles()
	if len(files) != 2 || filepath.Base(files[0]) != "a.toml" {
		t.Errorf("WatchedFiles() = %v", files)
	}

	if err := w.Unwatch(filepath.Join(dir, "a.toml")); err != nil {
		t.Fatal(err)
	}
	if files := w.WatchedFiles(); len(files) != 1 {
		t.Errorf("WatchedFiles() after Unwatch = %v", files)
	}
}

func TestWatcher_StartStop(t *testing.T) {
	w := New()
	if err := w.Watch(filepath.Join(t.TempDir(), "plexus.toml")); err != nil {
		t.Fatal(err)
	}

	if err := w.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !w.IsRunning() {
		t.Error("IsRunning() = false after Start")
	}
	if err := w.Start(); err != nil {
		t.Errorf("second Start() error = %v", err)
	}

	w.Stop()
	if w.IsRunning() {
		t.Error("IsRunning() = true after Stop")
	}
	w.Stop()
}

func TestWatcher_MissingDirectory(t *testing.T) {
	w := New()
	if err := w.Watch(filepath.Join(t.TempDir(), "missing", "plexus.toml")); err != nil {
		t.Fatal(err)
	}
	if err := w.Start(); err == nil {
		w.Stop()
		t.Error("Start() should fail when the directory does not exist")
	}
}

func TestWatcher_DetectsChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plexus.toml")
	other := filepath.Join(dir, "other.toml")

	w := New(WithDebounce(0))
	c := newCollector()
	w.OnChange(c.handle)
	if err := w.Watch(path); err != nil {
		t.Fatal(err)
	}
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if err := os.WriteFile(other, []byte("ignored"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("a = 1"), 0644); err != nil {
		t.Fatal(err)
	}
	if e := c.wait(t); e.Path != path {
		t.Errorf("event path = %q, want %q", e.Path, path)
	}

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	for {
		if e := c.wait(t); e.Op == OpRemove {
			break
		}
	}
}

func TestWatcher_Debounce(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plexus.yaml")
	if err := os.WriteFile(path, []byte("a: 0"), 0644); err != nil {
		t.Fatal(err)
	}

	w := New(WithDebounce(100 * time.Millisecond))
	c := newCollector()
	w.OnChange(c.handle)
	if err := w.Watch(path); err != nil {
		t.Fatal(err)
	}
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	for i := range 5 {
		if err := os.WriteFile(path, []byte("a: "+string(rune('1'+i))), 0644); err != nil {
			t.Fatal(err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	e := c.wait(t)
	if e.Op != OpWrite {
		t.Errorf("Op = %v, want write", e.Op)
	}
	time.Sleep(400 * time.Millisecond)
	if n := c.count(); n != 1 {
		t.Errorf("events = %d, want rapid writes coalesced into 1", n)
	}
}

func TestWatcher_QueueCoalescing(t *testing.T) {
	tests := []struct {
		name string
		ops  []Operation
		want Operation
	}{
		{"create then write", []Operation{OpCreate, OpWrite}, OpCreate},
		{"write then remove", []Operation{OpWrite, OpRemove}, OpRemove},
		{"remove then create", []Operation{OpRemove, OpCreate}, OpCreate},
		{"rename then write", []Operation{OpRename, OpWrite}, OpWrite},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := New()
			for _, op := range tt.ops {
				w.queueEvent(Event{Path: "/x", Op: op, Time: time.Now()})
			}
			if got := w.pendingFiles["/x"].Op; got != tt.want {
				t.Errorf("coalesced op = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWatcher_HandlerPanic(t *testing.T) {
	w := New()
	c := newCollector()
	w.OnChange(func(Event) { panic("boom") })
	w.OnChange(c.handle)

	w.emitEvent(Event{Path: "/x", Op: OpWrite})
	if c.count() != 1 {
		t.Error("a panicking handler must not stop later handlers")
	}
}
