package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/zalando/go-keyring"

	"github.com/juste-un-gars/scpsync/internal/config"
)

const testSettings = `app:
  name: scpsync-test
logging:
  file: ""
  levels:
    console: error
journal:
  enabled: false
security:
  keystore_service_name: scpsync-cli-test
  insecure_ignore_host_key: true
`

// run executes the root command against workspace with quiet settings.
func run(t *testing.T, workspace string, args ...string) (string, error) {
	t.Helper()

	settings := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(settings, []byte(testSettings), 0o644); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	cmd := newRootCommand(&out)
	cmd.SetArgs(append([]string{"--config", settings, "--workspace", workspace}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestInitCommand(t *testing.T) {
	keyring.MockInit()
	ws := t.TempDir()

	out, err := run(t, ws, "init")
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if !strings.Contains(out, config.WorkspacePath(ws)) {
		t.Errorf("output %q does not name the written file", out)
	}

	cfg, err := config.LoadWorkspace(ws)
	if err != nil {
		t.Fatalf("LoadWorkspace: %v", err)
	}
	if cfg.Host != "your-server.com" {
		t.Errorf("Host = %q, want template host", cfg.Host)
	}

	if _, err := run(t, ws, "init"); err == nil {
		t.Error("second init without --force should fail")
	}
	if _, err := run(t, ws, "init", "--force"); err != nil {
		t.Errorf("init --force: %v", err)
	}
}

func TestCommandsRequireConfiguration(t *testing.T) {
	tests := [][]string{
		{"sync"},
		{"test"},
		{"delete", "a.txt"},
		{"upload", "a.txt"},
		{"download", "a.txt"},
		{"credentials", "forget"},
	}

	for _, args := range tests {
		t.Run(strings.Join(args, " "), func(t *testing.T) {
			keyring.MockInit()
			_, err := run(t, t.TempDir(), args...)
			if err == nil {
				t.Fatal("expected an error without a workspace configuration")
			}
		})
	}
}

func TestStatusCommand(t *testing.T) {
	keyring.MockInit()
	ws := t.TempDir()

	out, err := run(t, ws, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	for _, want := range []string{"not found", "Journal:     disabled", "0 pooled"} {
		if !strings.Contains(out, want) {
			t.Errorf("status output missing %q:\n%s", want, out)
		}
	}

	if _, err := run(t, ws, "init"); err != nil {
		t.Fatal(err)
	}
	out, err = run(t, ws, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "username@your-server.com:22:/remote/path") {
		t.Errorf("status output missing remote:\n%s", out)
	}
}

func TestCredentialsSetPasswordFromStdin(t *testing.T) {
	keyring.MockInit()
	ws := t.TempDir()
	if _, err := run(t, ws, "init"); err != nil {
		t.Fatal(err)
	}

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	stdin := os.Stdin
	os.Stdin = r
	defer func() { os.Stdin = stdin }()
	if _, err := w.WriteString("hunter2\n"); err != nil {
		t.Fatal(err)
	}
	w.Close()

	if _, err := run(t, ws, "credentials", "set-password", "--password-stdin"); err != nil {
		t.Fatalf("set-password: %v", err)
	}

	out, err := run(t, ws, "credentials", "list")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "password stored") {
		t.Errorf("list output = %q", out)
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{5 * 1024 * 1024, "5.0 MB"},
	}
	for _, tt := range tests {
		if got := formatBytes(tt.in); got != tt.want {
			t.Errorf("formatBytes(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
