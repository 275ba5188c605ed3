package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	// ensure defaults kick in with empty env
	os.Unsetenv("USER_AGENT")
	os.Unsetenv("HTTP_MAX_RETRIES")
	os.Unsetenv("SIM_TICK_INTERVAL_MS")
	os.Unsetenv("SIM_MAX_NODES")
	os.Unsetenv("GPU_ENABLED")
	os.Unsetenv("DEFAULT_PRESET")
	os.Unsetenv("SNAPSHOT_RETENTION")
	ResetForTest()

	cfg := Load()
	if cfg.UserAgent == "" {
		t.Fatalf("expected default UA, got empty")
	}
	if cfg.HTTPMaxRetries != 3 {
		t.Fatalf("expected default retries=3, got %d", cfg.HTTPMaxRetries)
	}
	if cfg.SimTickInterval != 16*time.Millisecond {
		t.Fatalf("expected default tick interval 16ms, got %s", cfg.SimTickInterval)
	}
	if cfg.SimMaxNodes != 50000 || cfg.GPUMinNodes != 2000 {
		t.Fatalf("unexpected defaults: max=%d gpuMin=%d", cfg.SimMaxNodes, cfg.GPUMinNodes)
	}
	if !cfg.GPUEnabled {
		t.Fatal("expected GPU enabled by default")
	}
	if cfg.DefaultPreset != "default" {
		t.Fatalf("expected default preset name, got %q", cfg.DefaultPreset)
	}
	if cfg.SnapshotRetention != 10 {
		t.Fatalf("expected default retention=10, got %d", cfg.SnapshotRetention)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SIM_MAX_NODES", "1234")
	t.Setenv("GPU_ENABLED", "false")
	t.Setenv("DEFAULT_PRESET", "clusters")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	ResetForTest()
	t.Cleanup(ResetForTest)

	cfg := Load()
	if cfg.SimMaxNodes != 1234 {
		t.Fatalf("expected SimMaxNodes override, got %d", cfg.SimMaxNodes)
	}
	if cfg.GPUEnabled {
		t.Fatal("expected GPU disabled")
	}
	if cfg.DefaultPreset != "clusters" {
		t.Fatalf("expected preset override, got %q", cfg.DefaultPreset)
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "https://b.example" {
		t.Fatalf("unexpected CORS origins %v", cfg.CORSAllowedOrigins)
	}
}

func TestLoadCaches(t *testing.T) {
	ResetForTest()
	first := Load()
	second := Load()
	if first != second {
		t.Fatal("expected cached config to be reused")
	}
}
