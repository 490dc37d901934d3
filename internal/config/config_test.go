package config

import (
	"os"
	"testing"
	"time"
)

func TestDefaultMatchesProtocolConstants(t *testing.T) {
	cfg := Default()
	if cfg.Typhoon.MinRTT != 1000*time.Millisecond || cfg.Typhoon.MaxRTT != 8000*time.Millisecond {
		t.Fatalf("unexpected RTT defaults: %+v", cfg.Typhoon)
	}
	if cfg.Typhoon.MaxTail != 1024 || cfg.Port.MaxTail != 512 {
		t.Fatalf("unexpected tail defaults: typhoon=%d port=%d", cfg.Typhoon.MaxTail, cfg.Port.MaxTail)
	}
}

func TestLoadOverridesFromEnvironment(t *testing.T) {
	t.Setenv("TYPHOON_MAX_RETRIES", "9")
	t.Setenv("TYPHOON_RTT_MULT", "2.5")
	t.Setenv("SEASIDE_LOG_LEVEL", "debug")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Typhoon.MaxRetries != 9 {
		t.Fatalf("expected MaxRetries 9, got %d", cfg.Typhoon.MaxRetries)
	}
	if cfg.Typhoon.RTTMult != 2.5 {
		t.Fatalf("expected RTTMult 2.5, got %v", cfg.Typhoon.RTTMult)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected LogLevel debug, got %q", cfg.LogLevel)
	}
}

func TestLoadRejectsMalformedValue(t *testing.T) {
	t.Setenv("TYPHOON_MAX_RETRIES", "not-a-number")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for malformed TYPHOON_MAX_RETRIES")
	}
}

func TestApplyEnvFileDoesNotOverrideExisting(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/test.env"
	if err := os.WriteFile(path, []byte("SEASIDE_LOG_LEVEL=warn\n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	t.Setenv("SEASIDE_LOG_LEVEL", "error")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogLevel != "error" {
		t.Fatalf("expected existing environment to win, got %q", cfg.LogLevel)
	}
}
