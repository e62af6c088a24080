package config

import (
	"os"
	"path/filepath"
	"testing"
)

// strictConfigFile points CONFIG_PATH at a minimal valid file so strict mode
// exercises validation rather than a missing-file error.
func strictConfigFile(t *testing.T) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("work_dir: runtime/work\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_PATH", path)
}

func TestQueueSizeDefaultsRespectWorkers(t *testing.T) {
	t.Setenv("WORKER_COUNT", "8")
	t.Setenv("JOB_QUEUE_SIZE", "4")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.WorkerCount != 8 {
		t.Fatalf("expected worker count 8, got %d", cfg.WorkerCount)
	}
	if cfg.JobQueueSize < cfg.WorkerCount {
		t.Fatalf("queue size should be at least workers, got %d", cfg.JobQueueSize)
	}
}

func TestAdjustDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Adjust.TargetTime != "240" {
		t.Fatalf("expected default target time 240, got %s", cfg.Adjust.TargetTime)
	}
	if cfg.Adjust.Strategy != "descent" {
		t.Fatalf("expected default strategy descent, got %s", cfg.Adjust.Strategy)
	}
	if cfg.Adjust.PrecisionDigits != 50 {
		t.Fatalf("expected default precision 50, got %d", cfg.Adjust.PrecisionDigits)
	}
}

func TestAdjustEnvOverrides(t *testing.T) {
	t.Setenv("ADJUST_TARGET_TIME", "360")
	t.Setenv("ADJUST_BAND_MIN", "359.5")
	t.Setenv("ADJUST_BAND_MAX", "360.5")
	t.Setenv("ADJUST_STRATEGY", "grid")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Adjust.TargetTime != "360" {
		t.Fatalf("expected target time 360, got %s", cfg.Adjust.TargetTime)
	}
	if cfg.Adjust.Strategy != "grid" {
		t.Fatalf("expected strategy grid, got %s", cfg.Adjust.Strategy)
	}
}

func TestStrictRejectsBadBand(t *testing.T) {
	strictConfigFile(t)
	t.Setenv("STRICT_CONFIG", "1")
	t.Setenv("ADJUST_BAND_MIN", "240.4")
	t.Setenv("ADJUST_BAND_MAX", "239.6")
	if _, err := Load(); err == nil {
		t.Fatalf("expected strict load to fail on inverted band")
	}
}

func TestStrictRejectsBadStrategy(t *testing.T) {
	strictConfigFile(t)
	t.Setenv("STRICT_CONFIG", "1")
	t.Setenv("ADJUST_STRATEGY", "annealing")
	if _, err := Load(); err == nil {
		t.Fatalf("expected strict load to fail on unknown strategy")
	}
}
