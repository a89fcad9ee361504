package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("Default().Validate() = %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fieldsim.yaml")
	data := `
engine:
  pool_energy: 5000
  default_decay: 0.05
run:
  interval: 250ms
  epoch_steps: 10
api:
  admin_key: ${TEST_FIELDSIM_KEY}
genesis:
  units: 10
logging:
  level: debug
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TEST_FIELDSIM_KEY", "s3cret")

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}
	if cfg.Engine.PoolEnergy != 5000 || cfg.Engine.DefaultDecay != 0.05 {
		t.Errorf("engine = %+v", cfg.Engine)
	}
	if cfg.Run.Interval != 250*time.Millisecond || cfg.Run.EpochSteps != 10 {
		t.Errorf("run = %+v", cfg.Run)
	}
	if cfg.API.AdminKey != "s3cret" {
		t.Errorf("admin key not expanded: %q", cfg.API.AdminKey)
	}
	// Unset keys keep their defaults.
	if cfg.Engine.RetirementThreshold != Default().Engine.RetirementThreshold {
		t.Errorf("retirement threshold = %v", cfg.Engine.RetirementThreshold)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("FIELDSIM_CONFIG", "")
	t.Setenv("FIELDSIM_POOL_ENERGY", "2500")
	t.Setenv("FIELDSIM_INTERVAL", "10ms")
	t.Setenv("FIELDSIM_MAX_STEPS", "40")
	t.Setenv("FIELDSIM_BRIDGE", "true")
	t.Setenv("FIELDSIM_BRIDGE_PEERS", "/ip4/10.0.0.1/tcp/4011/p2p/x,/ip4/10.0.0.2/tcp/4011/p2p/y")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Engine.PoolEnergy != 2500 || cfg.Run.Interval != 10*time.Millisecond || cfg.Run.MaxSteps != 40 {
		t.Errorf("overrides not applied: %+v %+v", cfg.Engine, cfg.Run)
	}
	if !cfg.Bridge.Enabled || len(cfg.Bridge.Peers) != 2 {
		t.Errorf("bridge = %+v", cfg.Bridge)
	}
}

func TestEnvOverrideMalformed(t *testing.T) {
	t.Setenv("FIELDSIM_CONFIG", "")
	t.Setenv("FIELDSIM_SPEED", "fast")
	if _, err := Load(""); err == nil || !strings.Contains(err.Error(), "FIELDSIM_SPEED") {
		t.Errorf("Load() error = %v, want FIELDSIM_SPEED parse error", err)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"negative pool", func(c *Config) { c.Engine.PoolEnergy = -1 }, "pool_energy"},
		{"threshold range", func(c *Config) { c.Engine.RetirementThreshold = 1.5 }, "retirement_threshold"},
		{"risk below retirement", func(c *Config) { c.Engine.RiskThreshold = 0.2 }, "risk_threshold"},
		{"decay one", func(c *Config) { c.Engine.DefaultDecay = 1 }, "default_decay"},
		{"genesis too big", func(c *Config) { c.Genesis.Units = 100000 }, "cannot fund genesis"},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "log level"},
		{"bridge no listen", func(c *Config) { c.Bridge.Enabled = true; c.Bridge.Listen = nil }, "listen"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestAPIConfigRedacts(t *testing.T) {
	c := APIConfig{Addr: ":8080", AdminKey: "hunter2"}
	if strings.Contains(c.String(), "hunter2") {
		t.Error("String() leaked the admin key")
	}
}
