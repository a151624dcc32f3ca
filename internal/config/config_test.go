package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	config := Default()

	if config.Output.Dir != "." {
		t.Errorf("expected Output.Dir '.', got '%s'", config.Output.Dir)
	}
	if !config.Output.Trajectories {
		t.Error("expected Output.Trajectories to be true by default")
	}
	if config.Output.Compress || config.Output.Arrow {
		t.Error("expected Compress and Arrow to be false by default")
	}
	if config.Store.Enabled {
		t.Error("expected Store.Enabled to be false by default")
	}
	if config.Workers != 0 {
		t.Errorf("expected Workers 0, got %d", config.Workers)
	}
	if config.Logging.Level != "info" {
		t.Errorf("expected Logging.Level 'info', got '%s'", config.Logging.Level)
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
output:
  dir: /data/runs
  trajectories: false
  arrow: true

store:
  enabled: true
  path: /data/results.db

workers: 4
`
	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	config, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if config.Output.Dir != "/data/runs" {
		t.Errorf("expected Output.Dir '/data/runs', got '%s'", config.Output.Dir)
	}
	if config.Output.Trajectories {
		t.Error("expected Trajectories to be false")
	}
	if !config.Output.Arrow {
		t.Error("expected Arrow to be true")
	}
	if !config.Store.Enabled || config.Store.Path != "/data/results.db" {
		t.Errorf("unexpected store config %+v", config.Store)
	}
	if config.Workers != 4 {
		t.Errorf("expected Workers 4, got %d", config.Workers)
	}
	// Unset keys keep their defaults.
	if config.Logging.Level != "info" {
		t.Errorf("expected Logging.Level 'info', got '%s'", config.Logging.Level)
	}
}

func TestLoadFromFile_EnvExpansion(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
output:
  dir: ${TEST_RUNS_DIR}/out
`
	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	t.Setenv("TEST_RUNS_DIR", "/scratch")

	config, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if config.Output.Dir != "/scratch/out" {
		t.Errorf("expected Output.Dir '/scratch/out', got '%s'", config.Output.Dir)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SIMDCIS_OUTPUT_DIR", "/tmp/runs")
	t.Setenv("SIMDCIS_TRAJECTORIES", "0")
	t.Setenv("SIMDCIS_ARROW", "true")
	t.Setenv("SIMDCIS_WORKERS", "8")
	t.Setenv("SIMDCIS_STORE_PATH", "/tmp/results.db")
	t.Setenv("SIMDCIS_LOG_LEVEL", "debug")

	config := Default()
	if err := applyEnvOverrides(config); err != nil {
		t.Fatalf("applyEnvOverrides failed: %v", err)
	}

	if config.Output.Dir != "/tmp/runs" {
		t.Errorf("expected Output.Dir '/tmp/runs', got '%s'", config.Output.Dir)
	}
	if config.Output.Trajectories {
		t.Error("expected Trajectories to be false")
	}
	if !config.Output.Arrow {
		t.Error("expected Arrow to be true")
	}
	if config.Workers != 8 {
		t.Errorf("expected Workers 8, got %d", config.Workers)
	}
	if !config.Store.Enabled || config.Store.Path != "/tmp/results.db" {
		t.Errorf("expected store enabled at /tmp/results.db, got %+v", config.Store)
	}
	if config.Logging.Level != "debug" {
		t.Errorf("expected Logging.Level 'debug', got '%s'", config.Logging.Level)
	}
}

func TestEnvOverrides_InvalidWorkers(t *testing.T) {
	t.Setenv("SIMDCIS_WORKERS", "many")
	if err := applyEnvOverrides(Default()); err == nil {
		t.Error("expected error for non-numeric SIMDCIS_WORKERS")
	}
}

func TestLoad_HomeConfig(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)
	t.Setenv("SIMDCIS_WORKERS", "")

	config, err := Load()
	if err != nil {
		t.Fatalf("Load without a config file failed: %v", err)
	}
	if config.Workers != 0 {
		t.Errorf("expected default Workers, got %d", config.Workers)
	}

	config.Workers = 3
	path, err := Path()
	if err != nil {
		t.Fatalf("Path failed: %v", err)
	}
	if err := config.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	reloaded, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if reloaded.Workers != 3 {
		t.Errorf("expected Workers 3 after save, got %d", reloaded.Workers)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *SimdcisConfig)
		wantErr bool
	}{
		{"defaults", func(c *SimdcisConfig) {}, false},
		{"negative workers", func(c *SimdcisConfig) { c.Workers = -1 }, true},
		{"empty output dir", func(c *SimdcisConfig) { c.Output.Dir = "" }, true},
		{"compress without trajectories", func(c *SimdcisConfig) {
			c.Output.Trajectories = false
			c.Output.Compress = true
		}, true},
		{"invalid log level", func(c *SimdcisConfig) { c.Logging.Level = "verbose" }, true},
		{"empty log level", func(c *SimdcisConfig) { c.Logging.Level = "" }, false},
		{"trace", func(c *SimdcisConfig) { c.Logging.Level = "trace" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := Default()
			tt.mutate(config)
			err := config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestGetSet(t *testing.T) {
	tests := []struct {
		key     string
		value   string
		want    any
		wantErr bool
	}{
		{"output.dir", "/runs", "/runs", false},
		{"output.compress", "true", true, false},
		{"output.arrow", "yes", nil, true},
		{"store.enabled", "1", true, false},
		{"workers", "6", 6, false},
		{"workers", "-2", nil, true},
		{"logging.level", "trace", "trace", false},
		{"logging.level", "loud", nil, true},
		{"llm.provider", "x", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			config := Default()
			err := config.Set(tt.key, tt.value)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Set() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			got, ok := config.Get(tt.key)
			if !ok {
				t.Fatalf("Get(%s) not found", tt.key)
			}
			if got != tt.want {
				t.Errorf("Get(%s) = %v, want %v", tt.key, got, tt.want)
			}
		})
	}
}

func TestKeys(t *testing.T) {
	keys := Keys()
	if len(keys) != 8 {
		t.Errorf("expected 8 keys, got %v", keys)
	}
	for _, k := range keys {
		if _, ok := Default().Get(k); !ok {
			t.Errorf("key %s listed but not readable", k)
		}
	}
}

func TestLoadFromFile_NotFound(t *testing.T) {
	_, err := LoadFromFile("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestLoadFromFile_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	invalidYAML := `
output:
  dir: [invalid yaml
`
	if err := os.WriteFile(configPath, []byte(invalidYAML), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := LoadFromFile(configPath)
	if err == nil {
		t.Error("expected error for invalid YAML")
	}
}
