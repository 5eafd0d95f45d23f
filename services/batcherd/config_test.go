package batcherd

import (
	"os"
	"path/filepath"
	"testing"

	"merkledrop/native/distribution"
)

func TestLoadWritesDefaultConfigOnFirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "batcherd.toml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config not written: %v", err)
	}
	if cfg.TreeDepth <= 0 || cfg.MaxBatchSize == 0 {
		t.Fatalf("implausible defaults: %+v", cfg)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.TreeDepth != cfg.TreeDepth || reloaded.MaxBatchSize != cfg.MaxBatchSize {
		t.Fatal("reloaded config differs from written defaults")
	}
}

func TestConfigParamsCarriesCaps(t *testing.T) {
	cfg := defaultConfig()
	cfg.DailyCaps[distribution.CategoryCreate.String()] = "1234"

	params, err := cfg.Params()
	if err != nil {
		t.Fatalf("params: %v", err)
	}
	if params.CapFor(distribution.CategoryCreate).String() != "1234" {
		t.Fatalf("cap not carried: %s", params.CapFor(distribution.CategoryCreate))
	}
	if params.TreeDepth != cfg.TreeDepth {
		t.Fatalf("tree depth not carried")
	}
}

func TestConfigValidation(t *testing.T) {
	cfg := defaultConfig()
	cfg.DailyCaps["create"] = "not-a-number"
	if err := cfg.validate(); err == nil {
		t.Fatal("expected validation error for bad cap")
	}

	cfg = defaultConfig()
	cfg.SubmitsPerSecond = 0
	if err := cfg.validate(); err == nil {
		t.Fatal("expected validation error for zero submit rate")
	}
}
