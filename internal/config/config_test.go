package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.DataDir == "" {
		t.Error("expected default data_dir")
	}
	if cfg.Pool.StoreCount <= 0 {
		t.Error("expected positive store_count")
	}
	if cfg.Pool.BufferCount <= 0 {
		t.Error("expected positive buffer_count")
	}
	if !cfg.Snapshot.Enabled {
		t.Error("expected snapshots enabled by default")
	}
	if len(cfg.Export.Windows) == 0 {
		t.Error("expected default export windows")
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for empty data_dir")
	}

	cfg = DefaultConfig()
	cfg.Pool.StoreCount = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for zero store_count")
	}

	cfg = DefaultConfig()
	cfg.Pool.Policy = "majority-vote"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for unknown policy")
	}

	cfg = DefaultConfig()
	cfg.Export.Compression.Algorithm = "invalid"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for invalid compression algorithm")
	}

	cfg = DefaultConfig()
	cfg.Export.Windows = []int{64, -1}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for negative window")
	}

	cfg = DefaultConfig()
	cfg.Sim.HitProbability = 1.5
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for hit_probability > 1")
	}

	cfg = DefaultConfig()
	cfg.Log.Level = "verbose"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for unknown log level")
	}
}

func TestSnapshotValidation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Snapshot.Interval = 0
	if err := cfg.Snapshot.Validate(); err == nil {
		t.Error("expected error for zero interval when enabled")
	}

	// Disabled snapshots skip the interval check.
	cfg.Snapshot.Enabled = false
	if err := cfg.Snapshot.Validate(); err != nil {
		t.Errorf("disabled snapshot should pass: %v", err)
	}
}

func TestLoadConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test.yaml")

	configContent := `
data_dir: /tmp/test-hitrate
pool:
  store_count: 6
  buffer_count: 128
  policy: full-adder
snapshot:
  enabled: true
  interval: 30s
export:
  compression:
    algorithm: snappy
    level: 0
  windows: [64, 512]
report:
  memory_limit: 1GB
  timeout: 15s
  max_rows: 500000
sim:
  updates: 50000
  runs: 4
  hit_probability: 0.3
  mean_burst: 6
  accuracy: 0.02
log:
  level: debug
  json: true
`

	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.DataDir != "/tmp/test-hitrate" {
		t.Errorf("data_dir = %s", cfg.DataDir)
	}
	if cfg.Pool.StoreCount != 6 || cfg.Pool.BufferCount != 128 {
		t.Errorf("pool = %+v", cfg.Pool)
	}
	if cfg.Snapshot.Interval != 30*time.Second {
		t.Errorf("snapshot interval = %v", cfg.Snapshot.Interval)
	}
	if cfg.Export.Compression.Algorithm != "snappy" {
		t.Errorf("compression = %s", cfg.Export.Compression.Algorithm)
	}
	if len(cfg.Export.Windows) != 2 || cfg.Export.Windows[1] != 512 {
		t.Errorf("windows = %v", cfg.Export.Windows)
	}
	if cfg.Report.Timeout != 15*time.Second {
		t.Errorf("report timeout = %v", cfg.Report.Timeout)
	}
	if cfg.Sim.HitProbability != 0.3 {
		t.Errorf("hit_probability = %v", cfg.Sim.HitProbability)
	}
	if !cfg.Log.JSON || cfg.Log.Level != "debug" {
		t.Errorf("log = %+v", cfg.Log)
	}
}

func TestLoadConfigDefaultsFillGaps(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "sparse.yaml")

	if err := os.WriteFile(configPath, []byte("data_dir: /tmp/sparse\n"), 0644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	defaults := DefaultConfig()
	if cfg.Pool.StoreCount != defaults.Pool.StoreCount {
		t.Errorf("store_count = %d, want default %d", cfg.Pool.StoreCount, defaults.Pool.StoreCount)
	}
	if cfg.Report.MemoryLimit != defaults.Report.MemoryLimit {
		t.Errorf("memory_limit = %s, want default %s", cfg.Report.MemoryLimit, defaults.Report.MemoryLimit)
	}
}

func TestLoadConfigInvalidFile(t *testing.T) {
	if _, err := Load("/nonexistent/path/config.yaml"); err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	if err := os.WriteFile(configPath, []byte("invalid: yaml: content: ["), 0644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	if _, err := Load(configPath); err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestPaths(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = "/data/hitrate"

	if got := cfg.SnapshotPath(); got != "/data/hitrate/pool.snap" {
		t.Errorf("SnapshotPath = %s", got)
	}
	cfg.Snapshot.Path = "/elsewhere/state.snap"
	if got := cfg.SnapshotPath(); got != "/elsewhere/state.snap" {
		t.Errorf("SnapshotPath = %s", got)
	}

	if got := cfg.ExportDir(); got != "/data/hitrate/export" {
		t.Errorf("ExportDir = %s", got)
	}
	cfg.Export.Dir = "/exports"
	if got := cfg.ExportDir(); got != "/exports" {
		t.Errorf("ExportDir = %s", got)
	}
}

func TestEnsureDirectories(t *testing.T) {
	tmpDir := t.TempDir()

	cfg := DefaultConfig()
	cfg.DataDir = filepath.Join(tmpDir, "hitrate")

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}

	for _, dir := range []string{cfg.DataDir, cfg.ExportDir()} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Errorf("directory %s not created: %v", dir, err)
			continue
		}
		if !info.IsDir() {
			t.Errorf("%s is not a directory", dir)
		}
	}
}
