package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dshills/plexus/internal/bus"
	"github.com/dshills/plexus/internal/capability"
	"github.com/dshills/plexus/internal/config"
	"github.com/dshills/plexus/internal/logging"
	"github.com/dshills/plexus/internal/message"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Batch.Window = config.Duration(time.Hour)
	return cfg
}

func newTestRuntime(t *testing.T, cfg *config.Config, opts ...Option) *Runtime {
	t.Helper()
	opts = append([]Option{WithLogger(logging.Discard()), WithDiscovery(false)}, opts...)
	r, err := New(cfg, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { r.Shutdown(context.Background()) })
	return r
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestNew_Defaults(t *testing.T) {
	r := newTestRuntime(t, nil)

	if r.Bus() == nil || r.Capabilities() == nil || r.Hierarchy() == nil || r.Plugins() == nil {
		t.Fatal("New() left a component nil")
	}
	if mode := r.Config().Bus.Mode; mode != "single" {
		t.Errorf("Bus.Mode = %q, want single", mode)
	}
	if r.IsRunning() {
		t.Error("IsRunning() = true before Start")
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Bus.Mode = "mesh"

	_, err := New(cfg, WithLogger(logging.Discard()))
	var cerr *ComponentError
	if !errors.As(err, &cerr) || cerr.Component != "config" {
		t.Fatalf("New() error = %v, want config ComponentError", err)
	}
	if !errors.Is(err, config.ErrValidationFailed) {
		t.Errorf("New() error should wrap ErrValidationFailed: %v", err)
	}
}

func TestNew_CopiesConfig(t *testing.T) {
	cfg := testConfig()
	r := newTestRuntime(t, cfg)

	cfg.Bus.Mode = "multi"
	if r.Config().Bus.Mode != "single" {
		t.Error("Runtime must not share the caller's Config")
	}
}

func TestRuntime_Lifecycle(t *testing.T) {
	r := newTestRuntime(t, testConfig())
	ctx := context.Background()

	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !r.IsRunning() {
		t.Error("IsRunning() = false after Start")
	}
	if err := r.Start(ctx); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start() error = %v, want ErrAlreadyRunning", err)
	}
	if !r.Stats().Bus.Running {
		t.Error("bus not initialized by Start")
	}

	if err := r.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if r.IsRunning() {
		t.Error("IsRunning() = true after Shutdown")
	}
	if err := r.Shutdown(ctx); err != nil {
		t.Errorf("second Shutdown() error = %v", err)
	}
	if err := r.Start(ctx); !errors.Is(err, ErrShutDown) {
		t.Errorf("Start() after Shutdown error = %v, want ErrShutDown", err)
	}
	if report := r.Bus().Publish(ctx, message.NewNotice("late", nil)); !errors.Is(report.Rejected, bus.ErrClosed) {
		t.Errorf("Publish() after Shutdown rejected = %v", report.Rejected)
	}
}

func TestRuntime_ShutdownDetachesPlugins(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "keeper.lua"), `
		function on_stop()
			plexus.notice("keeper.stopped", {}, {priority = "immediate"})
		end
	`)

	r := newTestRuntime(t, testConfig())
	ctx := context.Background()
	if err := r.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := r.AttachScript(ctx, filepath.Join(dir, "keeper.lua"), ""); err != nil {
		t.Fatal(err)
	}

	var stopped atomic.Int32
	if _, err := r.Bus().SubscribeFunc("keeper.stopped", func(context.Context, message.Message) error {
		stopped.Add(1)
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	if err := r.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if r.Plugins().Count() != 0 {
		t.Errorf("plugins after Shutdown = %d", r.Plugins().Count())
	}
	if stopped.Load() != 1 {
		t.Error("plugins must be stopped before the bus shuts down")
	}
}

func TestRuntime_LoadPlugins(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "greeter.lua"), `
		plexus.subscribe("greet", function(msg)
			plexus.notice("greeted", {who = msg.payload.who}, {priority = "immediate"})
		end)
	`)
	writeFile(t, filepath.Join(dir, "child", "plugin.toml"), `
name = "greeter.child"
version = "1.0.0"
parent = "greeter"
`)
	writeFile(t, filepath.Join(dir, "child", "init.lua"), `function on_start() plexus.info("child up") end`)
	writeFile(t, filepath.Join(dir, "broken.lua"), `this is not lua (`)
	writeFile(t, filepath.Join(dir, "quiet.lua"), `plexus.info("should not run")`)

	cfg := testConfig()
	cfg.Plugins.Paths = []string{dir}
	cfg.Plugins.Disabled = []string{"quiet"}
	r := newTestRuntime(t, cfg, WithDiscovery(true))
	ctx := context.Background()

	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start() should not fail on a broken plugin: %v", err)
	}

	if n := r.Plugins().Count(); n != 2 {
		t.Fatalf("attached plugins = %d, want 2 (%v)", n, r.Plugins().List())
	}
	if parent, _ := r.Hierarchy().Parent("greeter.child"); parent != "greeter" {
		t.Errorf("Parent(greeter.child) = %q, want greeter", parent)
	}
	if _, ok := r.Plugins().Get("quiet"); ok {
		t.Error("disabled plugin was attached")
	}

	var greeted atomic.Int32
	if _, err := r.Bus().SubscribeFunc("greeted", func(_ context.Context, msg message.Message) error {
		if msg.Lookup("who").String() == "gopher" {
			greeted.Add(1)
		}
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	r.Bus().Publish(ctx, message.NewNotice("greet", map[string]any{"who": "gopher"}))
	if greeted.Load() != 1 {
		t.Errorf("greeted = %d, want 1", greeted.Load())
	}
}

func TestRuntime_LoadPluginsErrors(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "broken.lua"), `this is not lua (`)
	writeFile(t, filepath.Join(dir, "fine.lua"), `x = 1`)

	cfg := testConfig()
	cfg.Plugins.Paths = []string{dir}
	r := newTestRuntime(t, cfg)
	ctx := context.Background()
	if err := r.Start(ctx); err != nil {
		t.Fatal(err)
	}

	n, err := r.LoadPlugins(ctx)
	if n != 1 {
		t.Errorf("LoadPlugins() attached = %d, want 1", n)
	}
	var perr *PluginError
	if !errors.As(err, &perr) || perr.Name != "broken" {
		t.Errorf("LoadPlugins() error = %v, want PluginError for broken", err)
	}
}

func TestRuntime_AttachScript(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "root.lua"), `x = 1`)
	writeFile(t, filepath.Join(dir, "leaf", "plugin.yaml"), "name: root.leaf\nversion: 0.1.0\nparent: root\n")
	writeFile(t, filepath.Join(dir, "leaf", "init.lua"), `y = 2`)
	writeFile(t, filepath.Join(dir, "notes.txt"), `hello`)

	r := newTestRuntime(t, testConfig())
	ctx := context.Background()
	if err := r.Start(ctx); err != nil {
		t.Fatal(err)
	}

	if name, err := r.AttachScript(ctx, filepath.Join(dir, "root.lua"), ""); err != nil || name != "root" {
		t.Fatalf("AttachScript(root.lua) = %q, %v", name, err)
	}
	if name, err := r.AttachScript(ctx, filepath.Join(dir, "leaf"), ""); err != nil || name != "root.leaf" {
		t.Fatalf("AttachScript(leaf) = %q, %v", name, err)
	}
	if parent, _ := r.Hierarchy().Parent("root.leaf"); parent != "root" {
		t.Errorf("manifest parent not applied: %q", parent)
	}

	tests := []struct {
		name string
		path string
		want error
	}{
		{"not lua", filepath.Join(dir, "notes.txt"), ErrNotScript},
		{"missing", filepath.Join(dir, "missing.lua"), os.ErrNotExist},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.AttachScript(ctx, tt.path, "")
			var perr *PluginError
			if !errors.As(err, &perr) || !errors.Is(err, tt.want) {
				t.Errorf("AttachScript() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestRuntime_ApplyConfig(t *testing.T) {
	r := newTestRuntime(t, testConfig())
	ctx := context.Background()
	if err := r.Start(ctx); err != nil {
		t.Fatal(err)
	}

	var hits atomic.Int32
	if _, err := r.Bus().SubscribeFunc("probe", func(context.Context, message.Message) error {
		hits.Add(1)
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	next := r.Config()
	next.Bus.Mode = "multi"
	next.Bus.Channels = 4
	next.Capability.Policy = "reject"
	next.Hierarchy.MaxDepth = 3
	next.Hierarchy.MaxChildren = 7
	next.Batch.Window = config.Duration(10 * time.Millisecond)
	if err := r.ApplyConfig(next); err != nil {
		t.Fatalf("ApplyConfig() error = %v", err)
	}

	stats := r.Stats()
	if stats.Bus.Mode != bus.ModeMulti || stats.Bus.Channels != 4 {
		t.Errorf("bus topology = %v/%d, want multi/4", stats.Bus.Mode, stats.Bus.Channels)
	}
	if r.Capabilities().Policy() != capability.PolicyReject {
		t.Errorf("capability policy = %v", r.Capabilities().Policy())
	}
	if depth, children := r.Hierarchy().Limits(); depth != 3 || children != 7 {
		t.Errorf("hierarchy limits = %d/%d", depth, children)
	}
	if r.Config().Batch.Window != next.Batch.Window {
		t.Errorf("Config().Batch.Window = %v", r.Config().Batch.Window)
	}

	// Subscriptions survive the topology swap.
	r.Bus().Publish(ctx, message.NewNotice("probe", nil))
	if hits.Load() != 1 {
		t.Errorf("probe hits = %d, want 1", hits.Load())
	}

	bad := r.Config()
	bad.Bus.Mode = "mesh"
	if err := r.ApplyConfig(bad); !errors.Is(err, config.ErrValidationFailed) {
		t.Errorf("ApplyConfig(invalid) error = %v", err)
	}
	if r.Config().Bus.Mode != "multi" {
		t.Error("a rejected config must leave the current one in force")
	}
}

func TestRuntime_Reload(t *testing.T) {
	r := newTestRuntime(t, testConfig())
	if err := r.Reload(); !errors.Is(err, ErrNoConfigPath) {
		t.Errorf("Reload() without a path error = %v", err)
	}

	path := filepath.Join(t.TempDir(), "plexus.toml")
	writeFile(t, path, "[hierarchy]\nmax_depth = 4\n")
	r = newTestRuntime(t, testConfig(), WithConfigPath(path))
	if err := r.Reload(); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if depth, _ := r.Hierarchy().Limits(); depth != 4 {
		t.Errorf("max depth after Reload = %d, want 4", depth)
	}
}

func TestRuntime_WatchConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plexus.yaml")
	writeFile(t, path, "bus:\n  mode: single\nbatch:\n  window: 1h\n")
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}

	r := newTestRuntime(t, cfg,
		WithConfigPath(path),
		WithWatch(true),
		WithWatchDebounce(20*time.Millisecond),
	)
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	writeFile(t, path, "bus:\n  mode: multi\n  channels: 3\nbatch:\n  window: 1h\n")

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if s := r.Stats(); s.Bus.Mode == bus.ModeMulti && s.Bus.Channels == 3 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("config change not applied: %+v", r.Stats().Bus)
}

func TestSnapshot_FailureRate(t *testing.T) {
	tests := []struct {
		name string
		bus  bus.Stats
		want float64
	}{
		{"empty", bus.Stats{}, 0},
		{"clean", bus.Stats{Delivered: 10}, 0},
		{"mixed", bus.Stats{Delivered: 8, HandlerErrors: 1, HandlerPanics: 1}, 25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := (Snapshot{Bus: tt.bus}).FailureRate(); got != tt.want {
				t.Errorf("FailureRate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestComponentError(t *testing.T) {
	inner := errors.New("boom")
	err := NewComponentError("bus", "init", inner)

	if err.Error() != "bus: init: boom" {
		t.Errorf("Error() = %q", err.Error())
	}
	if !errors.Is(err, inner) {
		t.Error("errors.Is should match the wrapped error")
	}
	if NewComponentError("bus", "", nil).Error() != "bus" {
		t.Error("bare component error should print the component")
	}
}
