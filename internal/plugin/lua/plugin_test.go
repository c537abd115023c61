package lua

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	glua "github.com/yuin/gopher-lua"

	"github.com/dshills/plexus/internal/batch"
	"github.com/dshills/plexus/internal/bus"
	"github.com/dshills/plexus/internal/capability"
	"github.com/dshills/plexus/internal/hierarchy"
	"github.com/dshills/plexus/internal/message"
	"github.com/dshills/plexus/internal/plugin"
)

type runtime struct {
	bus     *bus.Manager
	plugins *plugin.Manager
}

func newRuntime(t *testing.T) *runtime {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	b := bus.NewManager(bus.WithLogger(logger))
	caps := capability.NewRegistry(capability.WithPublisher(b), capability.WithLogger(logger))
	tree := hierarchy.NewManager(hierarchy.WithPublisher(b), hierarchy.WithLogger(logger))
	m := plugin.NewManager(b, caps, tree,
		plugin.WithLogger(logger),
		plugin.WithBatchPolicy(batch.Policy{Window: time.Hour}),
	)
	t.Cleanup(func() { m.Close(context.Background()) })
	return &runtime{bus: b, plugins: m}
}

// collect subscribes to msgType and returns the received messages.
func (r *runtime) collect(t *testing.T, msgType string) func() []message.Message {
	t.Helper()
	var mu sync.Mutex
	var got []message.Message
	_, err := r.bus.SubscribeFunc(msgType, func(ctx context.Context, msg message.Message) error {
		mu.Lock()
		got = append(got, msg)
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return func() []message.Message {
		mu.Lock()
		defer mu.Unlock()
		return append([]message.Message(nil), got...)
	}
}

func TestPlugin_Echo(t *testing.T) {
	rt := newRuntime(t)
	ctx := context.Background()
	pongs := rt.collect(t, "pong")

	p := New("echo", WithSource(`
		plexus.subscribe("ping", function(msg)
			plexus.notice("pong", {n = msg.payload.n + 1, from = msg.source}, {priority = "immediate"})
		end)
	`))
	if err := rt.plugins.Attach(ctx, p, ""); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}

	report := rt.bus.Publish(ctx, message.NewNotice("ping", map[string]any{"n": 1}).WithSource("tester"))
	if !report.OK() || report.Delivered != 1 {
		t.Fatalf("Publish() report = %+v", report)
	}

	got := pongs()
	if len(got) != 1 {
		t.Fatalf("pongs = %d, want 1", len(got))
	}
	if got[0].Source != "echo" {
		t.Errorf("Source = %q, want echo", got[0].Source)
	}
	if n := got[0].Lookup("n").Int(); n != 2 {
		t.Errorf("payload n = %d, want 2", n)
	}
	if from := got[0].Lookup("from").String(); from != "tester" {
		t.Errorf("payload from = %q", from)
	}
}

func TestPlugin_ReentrantPublish(t *testing.T) {
	rt := newRuntime(t)
	ctx := context.Background()

	// The script's own handler is reached while on_start is still running.
	p := New("loop", WithSource(`
		seen = 0
		plexus.subscribe("loop.tick", function(msg)
			seen = seen + 1
			if msg.payload.again then
				plexus.notice("loop.tick", {again = false}, {priority = "immediate"})
			end
		end)
		function on_start()
			plexus.notice("loop.tick", {again = true}, {priority = "immediate"})
		end
	`))

	done := make(chan error, 1)
	go func() { done <- rt.plugins.Attach(ctx, p, "") }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Attach() error = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("re-entrant publish deadlocked")
	}

	if v := p.State().GetGlobal(ctx, "seen"); v != glua.LNumber(2) {
		t.Errorf("seen = %v, want 2", v)
	}
}

func TestPlugin_HandlerFailure(t *testing.T) {
	rt := newRuntime(t)
	ctx := context.Background()

	p := New("picky", WithSource(`
		plexus.subscribe("check", function(msg)
			if msg.payload.ok then return true end
			return false, "not ok"
		end)
	`))
	if err := rt.plugins.Attach(ctx, p, ""); err != nil {
		t.Fatal(err)
	}

	if report := rt.bus.Publish(ctx, message.NewNotice("check", map[string]any{"ok": true})); !report.OK() {
		t.Errorf("ok message failed: %v", report.Err())
	}

	report := rt.bus.Publish(ctx, message.NewNotice("check", map[string]any{"ok": false}))
	if report.Failed != 1 {
		t.Fatalf("Failed = %d, want 1", report.Failed)
	}
	var herr *HandlerError
	if !errors.As(report.Err(), &herr) || herr.Reason != "not ok" {
		t.Errorf("error = %v", report.Err())
	}

	report = rt.bus.Publish(ctx, message.NewNotice("check", nil))
	if report.Failed != 1 {
		t.Errorf("Lua runtime error should fail the delivery, report = %+v", report)
	}
}

func TestPlugin_BatchPriorities(t *testing.T) {
	rt := newRuntime(t)
	ctx := context.Background()
	ticks := rt.collect(t, "tick")
	alerts := rt.collect(t, "alert")

	p := New("sensor",
		WithPriorities(map[string]message.Priority{"alert": message.PriorityImmediate}),
		WithSource(`
			function on_start()
				local delivered, queued = plexus.notice("tick", {n = 1})
				tick_queued = queued
				plexus.notice("alert", {level = "high"})
			end
		`),
	)
	if err := rt.plugins.Attach(ctx, p, ""); err != nil {
		t.Fatal(err)
	}

	if v := p.State().GetGlobal(ctx, "tick_queued"); v != glua.LTrue {
		t.Errorf("tick should be queued, got %v", v)
	}
	if len(ticks()) != 0 {
		t.Error("tick delivered before flush")
	}
	if len(alerts()) != 1 {
		t.Error("alert should bypass the batcher")
	}

	rt.plugins.FlushAll(ctx)
	if len(ticks()) != 1 {
		t.Errorf("ticks after flush = %d, want 1", len(ticks()))
	}
}

func TestPlugin_Stop(t *testing.T) {
	rt := newRuntime(t)
	ctx := context.Background()
	byes := rt.collect(t, "bye")

	p := New("leaver", WithSource(`
		plexus.subscribe("ping", function(msg) end)
		function on_stop()
			plexus.notice("bye", nil, {priority = "urgent"})
		end
	`))
	if err := rt.plugins.Attach(ctx, p, ""); err != nil {
		t.Fatal(err)
	}
	if n := rt.bus.SubscriberCount("ping"); n != 1 {
		t.Fatalf("SubscriberCount(ping) = %d, want 1", n)
	}

	if err := rt.plugins.Detach(ctx, "leaver", hierarchy.KeepSubtree); err != nil {
		t.Fatalf("Detach() error = %v", err)
	}
	if len(byes()) != 1 {
		t.Error("on_stop should run before the state closes")
	}
	if n := rt.bus.SubscriberCount("ping"); n != 0 {
		t.Errorf("SubscriberCount(ping) = %d after detach", n)
	}
	if p.State() != nil {
		t.Error("State() should be nil after Stop")
	}
	if err := p.Stop(ctx); !errors.Is(err, ErrNotStarted) {
		t.Errorf("second Stop() error = %v", err)
	}
}

func TestPlugin_Unsubscribe(t *testing.T) {
	rt := newRuntime(t)
	ctx := context.Background()

	p := New("fickle", WithSource(`
		local id = plexus.subscribe("ping", function(msg) end)
		removed = plexus.unsubscribe(id)
		removed_again = plexus.unsubscribe(id)
		once_id = plexus.subscribe("once", function(msg) once_hits = (once_hits or 0) + 1 end, {once = true})
	`))
	if err := rt.plugins.Attach(ctx, p, ""); err != nil {
		t.Fatal(err)
	}

	state := p.State()
	if state.GetGlobal(ctx, "removed") != glua.LTrue || state.GetGlobal(ctx, "removed_again") != glua.LFalse {
		t.Error("unsubscribe should succeed exactly once")
	}
	if n := rt.bus.SubscriberCount("ping"); n != 0 {
		t.Errorf("SubscriberCount(ping) = %d", n)
	}

	rt.bus.Publish(ctx, message.NewNotice("once", nil))
	rt.bus.Publish(ctx, message.NewNotice("once", nil))
	if v := state.GetGlobal(ctx, "once_hits"); v != glua.LNumber(1) {
		t.Errorf("once_hits = %v, want 1", v)
	}
}

func TestPlugin_Hierarchy(t *testing.T) {
	rt := newRuntime(t)
	ctx := context.Background()

	if err := rt.plugins.Attach(ctx, &plugin.Funcs{PluginName: "editor"}, ""); err != nil {
		t.Fatal(err)
	}
	p := New("editor.spell", WithSource(`
		me = plexus.name()
		parent = plexus.parent()
		depth = plexus.depth()
		kids = #plexus.children()
		sees_editor = plexus.observe("editor")
		sees_nothing = plexus.observe("nothing")
		plexus.info("attached", {depth = depth})
	`))
	if err := rt.plugins.Attach(ctx, p, "editor"); err != nil {
		t.Fatal(err)
	}

	state := p.State()
	want := map[string]glua.LValue{
		"me":           glua.LString("editor.spell"),
		"parent":       glua.LString("editor"),
		"depth":        glua.LNumber(1),
		"kids":         glua.LNumber(0),
		"sees_editor":  glua.LTrue,
		"sees_nothing": glua.LFalse,
	}
	for name, v := range want {
		if got := state.GetGlobal(ctx, name); got != v {
			t.Errorf("%s = %v, want %v", name, got, v)
		}
	}
}

func TestPlugin_StartErrors(t *testing.T) {
	tests := []struct {
		name    string
		plugin  *Plugin
		wantErr error
	}{
		{"no source", New("empty"), ErrNoSource},
		{"syntax error", New("broken", WithSource(`this is not lua`)), nil},
		{"on_start error", New("grumpy", WithSource(`function on_start() error("no") end`)), nil},
		{"unknown grant", New("greedy", WithSource(`x = 1`), WithGrants("shell")), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := newRuntime(t)
			err := rt.plugins.Attach(context.Background(), tt.plugin, "")
			if err == nil {
				t.Fatal("Attach() should fail")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Attach() error = %v, want %v", err, tt.wantErr)
			}
			if tt.plugin.State() != nil {
				t.Error("failed start must not leave a state behind")
			}
			if rt.plugins.Count() != 0 {
				t.Error("failed start must roll back the attach")
			}
		})
	}
}

func TestFromManifest(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "plugin.yaml"), []byte(`
name: clock
version: 1.0.0
grants: [time]
priorities:
  clock.tick: realtime
`), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "init.lua"), []byte(`
		function on_start()
			plexus.notice("clock.tick", {at = os.time()})
		end
	`), 0644); err != nil {
		t.Fatal(err)
	}

	m, err := plugin.LoadManifestFromDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	p, err := FromManifest(m)
	if err != nil {
		t.Fatalf("FromManifest() error = %v", err)
	}

	rt := newRuntime(t)
	ticks := rt.collect(t, "clock.tick")
	if err := rt.plugins.Attach(context.Background(), p, ""); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	got := ticks()
	if len(got) != 1 || got[0].Lookup("at").Int() <= 0 {
		t.Errorf("ticks = %v", got)
	}

	if _, err := FromManifest(nil); !errors.Is(err, plugin.ErrNilManifest) {
		t.Errorf("FromManifest(nil) error = %v", err)
	}
}

func TestPlugin_FlushFromHandler(t *testing.T) {
	rt := newRuntime(t)
	ctx := context.Background()

	p := New("selfish", WithSource(`
		hits = 0
		plexus.subscribe("self.evt", function(msg)
			hits = hits + 1
			plexus.flush()
		end)
		function on_start()
			plexus.notice("self.evt", {})
		end
	`))
	if err := rt.plugins.Attach(ctx, p, ""); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}

	done := make(chan bus.Report, 1)
	go func() { done <- rt.plugins.FlushAll(ctx) }()
	select {
	case report := <-done:
		if report.Delivered != 1 {
			t.Errorf("FlushAll() delivered %d, want 1", report.Delivered)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("plexus.flush() inside a flushed handler deadlocked")
	}

	if v := p.State().GetGlobal(ctx, "hits"); v != glua.LNumber(1) {
		t.Errorf("hits = %v, want 1", v)
	}

	detached := make(chan error, 1)
	go func() { detached <- rt.plugins.Detach(ctx, "selfish", hierarchy.KeepSubtree) }()
	select {
	case err := <-detached:
		if err != nil {
			t.Errorf("Detach() error = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Detach() deadlocked")
	}
}

func TestPlugin_SubscribeSameFunctionTwice(t *testing.T) {
	rt := newRuntime(t)
	ctx := context.Background()

	p := New("twice", WithSource(`
		hits = 0
		local function h(msg) hits = hits + 1 end
		first = plexus.subscribe("ping", h)
		second = plexus.subscribe("ping", h)
		other = plexus.subscribe("ping", function(msg) end)
	`))
	if err := rt.plugins.Attach(ctx, p, ""); err != nil {
		t.Fatal(err)
	}

	state := p.State()
	first, second := state.GetGlobal(ctx, "first"), state.GetGlobal(ctx, "second")
	if first != second {
		t.Errorf("subscribe ids differ: %v and %v", first, second)
	}
	if n := rt.bus.SubscriberCount("ping"); n != 2 {
		t.Errorf("SubscriberCount(ping) = %d, want 2 (one per distinct function)", n)
	}

	report := rt.bus.Publish(ctx, message.NewNotice("ping", nil))
	if report.Delivered != 2 {
		t.Errorf("Delivered = %d, want 2", report.Delivered)
	}
	if v := state.GetGlobal(ctx, "hits"); v != glua.LNumber(1) {
		t.Errorf("hits = %v, want 1", v)
	}
}
