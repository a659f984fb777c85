package config

import (
	"errors"
	"testing"
	"time"

	"github.com/spf13/afero"
)

func TestLoad_Defaults(t *testing.T) {
	useMemFs(t)

	settings, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if settings.App.Name != "scpsync" {
		t.Errorf("app.name = %q", settings.App.Name)
	}
	if settings.Pool.ConnectTimeout() != 30*time.Second {
		t.Errorf("connect timeout = %v", settings.Pool.ConnectTimeout())
	}
	if settings.Pool.IdleTimeout() != 300*time.Second {
		t.Errorf("idle timeout = %v", settings.Pool.IdleTimeout())
	}
	if settings.Pool.SweepInterval() != 60*time.Second {
		t.Errorf("sweep interval = %v", settings.Pool.SweepInterval())
	}
	if settings.Sync.Filter != "substring" {
		t.Errorf("sync.filter = %q", settings.Sync.Filter)
	}
	if settings.Security.KeystoreServiceName != "scpsync" {
		t.Errorf("keystore service = %q", settings.Security.KeystoreServiceName)
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	useMemFs(t)

	body := "sync:\n  filter: glob\n  debounce_ms: 250\npool:\n  idle_timeout_seconds: 10\n"
	if err := afero.WriteFile(fs, "/etc/scpsync/config.yaml", []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SCPSYNC_SYNC_MAX_RETRIES", "5")

	settings, err := Load("/etc/scpsync/config.yaml")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if settings.Sync.Filter != "glob" {
		t.Errorf("sync.filter = %q", settings.Sync.Filter)
	}
	if settings.Sync.Debounce() != 250*time.Millisecond {
		t.Errorf("debounce = %v", settings.Sync.Debounce())
	}
	if settings.Pool.IdleTimeout() != 10*time.Second {
		t.Errorf("idle timeout = %v", settings.Pool.IdleTimeout())
	}
	if settings.Sync.MaxRetries != 5 {
		t.Errorf("max retries = %d, want env override 5", settings.Sync.MaxRetries)
	}
}

func TestExpandPath(t *testing.T) {
	t.Setenv("SCPSYNC_TEST_DIR", "/opt/data")

	if got := expandPath("${SCPSYNC_TEST_DIR}/journal.db"); got != "/opt/data/journal.db" {
		t.Errorf("expandPath = %q", got)
	}
	if got := expandPath(""); got != "" {
		t.Errorf("expandPath(\"\") = %q", got)
	}
	if got := expandPath("~/x"); got == "~/x" {
		t.Error("tilde was not expanded")
	}
}

func TestWorkspaceConfig_Validate(t *testing.T) {
	if err := Template().Validate(); err != nil {
		t.Errorf("template should be valid: %v", err)
	}
	if err := Default().Validate(); err != nil {
		t.Errorf("defaults should be valid: %v", err)
	}

	bad := &WorkspaceConfig{
		Host:       "bad host!",
		Port:       0,
		User:       "a:b",
		RemotePath: "/srv/../etc",
		Ignore:     []string{"ok", "../up"},
		SyncMode:   "mirror",
	}

	err := bad.Validate()
	var ve ValidationErrors
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationErrors, got %v", err)
	}

	want := map[string]bool{
		"host": true, "port": true, "user": true,
		"remotePath": true, "ignore[1]": true, "syncMode": true,
	}
	if len(ve) != len(want) {
		t.Errorf("got %d failures (%v), want %d", len(ve), ve.Messages(), len(want))
	}
	for _, fe := range ve {
		if !want[fe.Field] {
			t.Errorf("unexpected failure on %s", fe.Field)
		}
	}

	problems := bad.Problems()
	if len(problems) != len(want) {
		t.Errorf("Problems() = %v", problems)
	}
}

func TestWorkspaceConfig_ValidateIPHost(t *testing.T) {
	cfg := Default()
	cfg.Host = "192.168.1.20"
	if err := cfg.Validate(); err != nil {
		t.Errorf("IP host should be valid: %v", err)
	}
}
