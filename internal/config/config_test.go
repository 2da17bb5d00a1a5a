package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	v := viper.New()

	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.JobTTL != 5*time.Minute {
		t.Fatalf("JobTTL = %v, want 5m", cfg.JobTTL)
	}
	if cfg.SweepInterval != 60*time.Second {
		t.Fatalf("SweepInterval = %v, want 60s", cfg.SweepInterval)
	}
	if cfg.RegistryDir == "" {
		t.Fatal("expected a non-empty default registry dir")
	}
}

func TestLoadHonorsEnvOverride(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("DBWORKER_REGISTRY_DIR", "/custom/registry")
	v := viper.New()

	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RegistryDir != "/custom/registry" {
		t.Fatalf("RegistryDir = %q, want /custom/registry", cfg.RegistryDir)
	}
}
