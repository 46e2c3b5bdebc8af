package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	t.Setenv("REACTION_ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))

	c, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if c.BaseURL == "" || c.SocketURL == "" {
		t.Fatal("backend defaults missing")
	}
	if c.RetryDelay != 5*time.Second {
		t.Fatalf("retry delay = %s", c.RetryDelay)
	}
	if c.WaitTimeout != 10*time.Second {
		t.Fatalf("wait timeout = %s", c.WaitTimeout)
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("REACTION_ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("BASE_URL", "http://localhost:9999")
	t.Setenv("RETRY_DELAY", "250ms")
	t.Setenv("REACTION_USERNAME", "alice")

	c, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if c.BaseURL != "http://localhost:9999" {
		t.Fatalf("base url = %q", c.BaseURL)
	}
	if c.RetryDelay != 250*time.Millisecond {
		t.Fatalf("retry delay = %s", c.RetryDelay)
	}
	if c.Username != "alice" {
		t.Fatalf("username = %q", c.Username)
	}
}

func TestEnvFile(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(envFile, []byte("SOCKET_URL=ws://from-file:1234/ws\n"), 0600); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	t.Setenv("REACTION_ENV_FILE", envFile)
	t.Cleanup(func() { os.Unsetenv("SOCKET_URL") })

	c, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if c.SocketURL != "ws://from-file:1234/ws" {
		t.Fatalf("socket url = %q", c.SocketURL)
	}
}
