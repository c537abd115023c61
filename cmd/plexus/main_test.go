package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dshills/plexus/internal/config"
)

// executeCommand runs a fresh command tree with args and returns captured output.
func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("PLEXUS_LOG_OUTPUT", "discard")

	root := newRootCmd()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRootCommand(t *testing.T) {
	root := newRootCmd()
	if root.Use != "plexus" {
		t.Errorf("Use = %q", root.Use)
	}

	want := []string{"demo", "config", "run-lua", "version"}
	have := make(map[string]bool)
	for _, c := range root.Commands() {
		have[c.Name()] = true
	}
	for _, name := range want {
		if !have[name] {
			t.Errorf("missing subcommand %q", name)
		}
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := executeCommand(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "plexus "+version) {
		t.Errorf("output = %q", out)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		wantErr bool
	}{
		{"valid toml", "ok.toml", "[bus]\nmode = \"multi\"\nchannels = 2\n", false},
		{"valid yaml", "ok.yaml", "capability:\n  policy: reject\n", false},
		{"bad value", "bad.toml", "[hierarchy]\nmax_depth = 0\n", true},
		{"unknown key", "bad.yaml", "bus:\n  lanes: 3\n", true},
		{"bad extension", "bad.ini", "mode=multi", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, tt.file, tt.content)
			out, err := executeCommand(t, "config", "validate", path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && !strings.Contains(out, "ok") {
				t.Errorf("output = %q", out)
			}
		})
	}
}

func TestConfigShow(t *testing.T) {
	path := writeFile(t, "plexus.toml", "[bus]\nmode = \"multi\"\nchannels = 6\n")

	for _, format := range []config.Format{config.FormatTOML, config.FormatYAML} {
		t.Run(string(format), func(t *testing.T) {
			out, err := executeCommand(t, "--config", path, "config", "show", "--format", string(format))
			if err != nil {
				t.Fatal(err)
			}
			cfg, err := config.Parse([]byte(out), format)
			if err != nil {
				t.Fatalf("show output does not parse: %v\n%s", err, out)
			}
			if cfg.Bus.Mode != "multi" || cfg.Bus.Channels != 6 {
				t.Errorf("shown bus = %+v", cfg.Bus)
			}
		})
	}

	if _, err := executeCommand(t, "config", "show", "--format", "ini"); err == nil {
		t.Error("unknown format should fail")
	}
}

func TestDemoCommand(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"single", []string{"demo"}, "mode=single channels=1"},
		{"multi", []string{"demo", "--multi", "--channels", "3"}, "mode=multi channels=3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := executeCommand(t, tt.args...)
			if err != nil {
				t.Fatalf("demo error = %v\n%s", err, out)
			}
			if !strings.Contains(out, tt.want) {
				t.Errorf("output missing %q:\n%s", tt.want, out)
			}
		})
	}

	if _, err := executeCommand(t, "demo", "--multi", "--channels", "1"); err == nil {
		t.Error("multi mode with one channel should fail validation")
	}
}

func TestRunLuaCommand(t *testing.T) {
	script := writeFile(t, "hello.lua", `function on_start() plexus.info("hello") end`)

	out, err := executeCommand(t, "run-lua", "--duration", "50ms", script)
	if err != nil {
		t.Fatalf("run-lua error = %v\n%s", err, out)
	}
	if !strings.Contains(out, "attached hello") {
		t.Errorf("output = %q", out)
	}

	if _, err := executeCommand(t, "run-lua", "--duration", "50ms", writeFile(t, "bad.lua", "(")); err == nil {
		t.Error("a script that fails to load should fail the command")
	}
}

func TestLogLevelOverride(t *testing.T) {
	if _, err := executeCommand(t, "--log-level", "loud", "config", "show"); err == nil {
		t.Error("invalid --log-level should fail")
	}
}
