package app

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
)

func TestRunDemo(t *testing.T) {
	tests := []struct {
		name     string
		mode     string
		channels int
	}{
		{"single channel", "single", 1},
		{"multi channel", "multi", 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.Bus.Mode = tt.mode
			cfg.Bus.Channels = tt.channels
			r := newTestRuntime(t, cfg)
			ctx := context.Background()
			if err := r.Start(ctx); err != nil {
				t.Fatal(err)
			}

			var out bytes.Buffer
			res, err := RunDemo(ctx, r, &out)
			if err != nil {
				t.Fatalf("RunDemo() error = %v\n%s", err, out.String())
			}

			if res.Saves != 1 {
				t.Errorf("Saves = %d, want 1", res.Saves)
			}
			if res.Responses != 1 {
				t.Errorf("Responses = %d, want 1", res.Responses)
			}
			if res.QueuedMoves != 5 || res.CursorMoves != 5 {
				t.Errorf("cursor moves queued=%d delivered=%d, want 5/5", res.QueuedMoves, res.CursorMoves)
			}
			if !res.NodeRemoved {
				t.Error("audit plugin did not see hierarchy.node_removed")
			}
			if res.StyleParent != "editor" {
				t.Errorf("StyleParent = %q, want editor", res.StyleParent)
			}
			if res.Snapshot.Plugins != 4 {
				t.Errorf("Snapshot.Plugins = %d, want 4", res.Snapshot.Plugins)
			}
			if res.Snapshot.Bus.Channels != tt.channels {
				t.Errorf("Snapshot.Bus.Channels = %d, want %d", res.Snapshot.Bus.Channels, tt.channels)
			}
			if res.Snapshot.Bus.HandlerErrors != 0 || res.Snapshot.Bus.HandlerPanics != 0 {
				t.Errorf("handler failures: %+v", res.Snapshot.Bus)
			}

			for _, want := range []string{"attached 5 plugins", "[request] spell.check", "stats:"} {
				if !strings.Contains(out.String(), want) {
					t.Errorf("output missing %q:\n%s", want, out.String())
				}
			}
		})
	}
}

func TestRunDemo_NotRunning(t *testing.T) {
	r := newTestRuntime(t, testConfig())
	if _, err := RunDemo(context.Background(), r, &bytes.Buffer{}); !errors.Is(err, ErrNotRunning) {
		t.Errorf("RunDemo() error = %v, want ErrNotRunning", err)
	}
}

func TestSuggest(t *testing.T) {
	tests := map[string]string{
		"teh":     "the",
		"recieve": "receive",
		"fine":    "fine",
	}
	for in, want := range tests {
		if got := suggest(in); got != want {
			t.Errorf("suggest(%q) = %q, want %q", in, got, want)
		}
	}
}
