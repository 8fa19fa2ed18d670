package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	if cfg.StreamIdleTimeoutSec != 120 {
		t.Fatalf("StreamIdleTimeoutSec = %d, want 120", cfg.StreamIdleTimeoutSec)
	}
	if cfg.HistoryTimeoutSec != 120 {
		t.Fatalf("HistoryTimeoutSec = %d, want 120", cfg.HistoryTimeoutSec)
	}
	if cfg.ListenAddr != ":8090" {
		t.Fatalf("ListenAddr = %q, want :8090", cfg.ListenAddr)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("STREAM_IDLE_TIMEOUT_SEC", "60")
	cfg := Load()
	if cfg.StreamIdleTimeoutSec != 60 {
		t.Fatalf("StreamIdleTimeoutSec = %d, want 60", cfg.StreamIdleTimeoutSec)
	}
}

func TestLoadFile_YAMLThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat.yaml")
	content := "listen_addr: \":9999\"\nstream_idle_timeout_sec: 30\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("STREAM_IDLE_TIMEOUT_SEC", "45")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.ListenAddr != ":9999" {
		t.Fatalf("ListenAddr = %q, want :9999 (from yaml)", cfg.ListenAddr)
	}
	if cfg.StreamIdleTimeoutSec != 45 {
		t.Fatalf("StreamIdleTimeoutSec = %d, want 45 (env wins over yaml)", cfg.StreamIdleTimeoutSec)
	}
	if cfg.HistoryTimeoutSec != 120 {
		t.Fatalf("HistoryTimeoutSec = %d, want default 120", cfg.HistoryTimeoutSec)
	}
}

func TestLoadFile_Missing(t *testing.T) {
	if _, err := LoadFile("/nonexistent/chat.yaml"); err == nil {
		t.Fatal("LoadFile should fail for missing file")
	}
}
