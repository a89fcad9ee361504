// Package config loads fieldsim configuration from defaults, an optional
// YAML file and FIELDSIM_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/talgya/fieldsim/internal/laws"
)

// Config contains all fieldsim settings.
type Config struct {
	Engine  EngineConfig  `yaml:"engine"`
	Run     RunConfig     `yaml:"run"`
	Store   StoreConfig   `yaml:"store"`
	API     APIConfig     `yaml:"api"`
	Bridge  BridgeConfig  `yaml:"bridge"`
	Genesis GenesisConfig `yaml:"genesis"`
	Logging LoggingConfig `yaml:"logging"`
}

// EngineConfig sets the kernel's construction parameters.
type EngineConfig struct {
	PoolEnergy          float64 `yaml:"pool_energy"`
	ObserverBudget      float64 `yaml:"observer_budget"`
	RetirementThreshold float64 `yaml:"retirement_threshold"`
	RiskThreshold       float64 `yaml:"risk_threshold"`
	DefaultDecay        float64 `yaml:"default_decay"`
	// CompressPayloads stores unit payloads zstd-compressed.
	CompressPayloads bool `yaml:"compress_payloads"`
}

// RunConfig paces the step loop.
type RunConfig struct {
	Interval   time.Duration `yaml:"interval"`
	Speed      float64       `yaml:"speed"`
	EpochSteps uint64        `yaml:"epoch_steps"`
	MaxSteps   uint64        `yaml:"max_steps"` // 0 = run until stopped
	// GuideEvery runs an observer guidance cycle every N steps; 0 disables it.
	GuideEvery uint64 `yaml:"guide_every"`
}

// StoreConfig locates the SQLite database.
type StoreConfig struct {
	Path        string `yaml:"path"`
	SaveOnEpoch bool   `yaml:"save_on_epoch"`
	History     bool   `yaml:"history"` // record every step report
}

// APIConfig configures the HTTP server. An empty Addr disables it.
type APIConfig struct {
	Addr     string  `yaml:"addr"`
	AdminKey string  `yaml:"admin_key"`
	RateMax  float64 `yaml:"rate_max"`  // burst per client
	RateFill float64 `yaml:"rate_fill"` // tokens per second
}

// String redacts the admin key.
func (c APIConfig) String() string {
	key := ""
	if c.AdminKey != "" {
		key = "(set)"
	}
	return fmt.Sprintf("APIConfig{Addr:%s, AdminKey:%s}", c.Addr, key)
}

// BridgeConfig configures the cross-engine transport.
type BridgeConfig struct {
	Enabled bool     `yaml:"enabled"`
	Listen  []string `yaml:"listen"`
	Peers   []string `yaml:"peers"`
}

// GenesisConfig seeds a fresh population when no saved state exists.
type GenesisConfig struct {
	Seed        int64   `yaml:"seed"`
	Units       int     `yaml:"units"`
	MeanEnergy  float64 `yaml:"mean_energy"`
	LinkDensity float64 `yaml:"link_density"` // expected links per unit
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // auto, color, text, json
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			PoolEnergy:          100000,
			ObserverBudget:      laws.DefaultObserverBudget,
			RetirementThreshold: laws.RetirementThreshold,
			RiskThreshold:       laws.RiskThreshold,
			DefaultDecay:        laws.DefaultDecay,
			CompressPayloads:    true,
		},
		Run: RunConfig{
			Interval:   time.Second,
			Speed:      1.0,
			EpochSteps: 100,
			GuideEvery: 10,
		},
		Store: StoreConfig{
			Path:        "data/fieldsim.db",
			SaveOnEpoch: true,
			History:     true,
		},
		API: APIConfig{
			Addr:     ":8080",
			RateMax:  20,
			RateFill: 5,
		},
		Bridge: BridgeConfig{
			Listen: []string{"/ip4/0.0.0.0/tcp/4011"},
		},
		Genesis: GenesisConfig{
			Seed:        42,
			Units:       200,
			MeanEnergy:  100,
			LinkDensity: 2,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

// Load builds a Config. Order: defaults -> YAML file at path (if path is
// non-empty) -> environment variables.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("FIELDSIM_CONFIG")
	}
	cfg := Default()
	if path != "" {
		fileCfg, err := LoadFromFile(path)
		if err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
		cfg = fileCfg
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file on top of the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	cfg.API.AdminKey = expandEnvVars(cfg.API.AdminKey)
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	var errs []error
	if !(c.Engine.PoolEnergy >= 0) {
		errs = append(errs, fmt.Errorf("pool_energy must be non-negative, got %v", c.Engine.PoolEnergy))
	}
	if !(c.Engine.ObserverBudget >= 0) || c.Engine.ObserverBudget > c.Engine.PoolEnergy {
		errs = append(errs, fmt.Errorf("observer_budget must be within [0, pool_energy], got %v", c.Engine.ObserverBudget))
	}
	if !unit(c.Engine.RetirementThreshold) {
		errs = append(errs, fmt.Errorf("retirement_threshold must be between 0 and 1, got %v", c.Engine.RetirementThreshold))
	}
	if !unit(c.Engine.RiskThreshold) || c.Engine.RiskThreshold <= c.Engine.RetirementThreshold {
		errs = append(errs, fmt.Errorf("risk_threshold must be in (retirement_threshold, 1], got %v", c.Engine.RiskThreshold))
	}
	if !(c.Engine.DefaultDecay >= 0 && c.Engine.DefaultDecay < 1) {
		errs = append(errs, fmt.Errorf("default_decay must be in [0, 1), got %v", c.Engine.DefaultDecay))
	}
	if c.Run.Interval < 0 {
		errs = append(errs, fmt.Errorf("interval must be non-negative, got %v", c.Run.Interval))
	}
	if c.Run.Speed < 0 {
		errs = append(errs, fmt.Errorf("speed must be non-negative, got %v", c.Run.Speed))
	}
	if c.Genesis.Units < 0 || c.Genesis.MeanEnergy < 0 || c.Genesis.LinkDensity < 0 {
		errs = append(errs, errors.New("genesis units, mean_energy and link_density must be non-negative"))
	}
	if need := float64(c.Genesis.Units)*c.Genesis.MeanEnergy*2 + c.Engine.ObserverBudget; c.Genesis.Units > 0 && need > c.Engine.PoolEnergy {
		errs = append(errs, fmt.Errorf("pool_energy %v cannot fund genesis (up to %v)", c.Engine.PoolEnergy, need))
	}
	if c.Bridge.Enabled && len(c.Bridge.Listen) == 0 {
		errs = append(errs, errors.New("bridge enabled without listen addresses"))
	}
	validLevels := map[string]bool{"": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		errs = append(errs, fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level))
	}
	validFormats := map[string]bool{"": true, "auto": true, "color": true, "text": true, "json": true}
	if !validFormats[c.Logging.Format] {
		errs = append(errs, fmt.Errorf("invalid log format: %s (valid: auto, color, text, json)", c.Logging.Format))
	}
	return errors.Join(errs...)
}

func unit(v float64) bool { return v >= 0 && v <= 1 }

// applyEnvOverrides applies FIELDSIM_* variables. A malformed number is an
// error rather than silently ignored.
func applyEnvOverrides(c *Config) error {
	var errs []error
	float := func(key string, dst *float64) {
		if v := os.Getenv(key); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = f
		}
	}
	count := func(key string, dst *uint64) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	boolean := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			*dst = v == "true" || v == "1"
		}
	}

	float("FIELDSIM_POOL_ENERGY", &c.Engine.PoolEnergy)
	float("FIELDSIM_OBSERVER_BUDGET", &c.Engine.ObserverBudget)
	float("FIELDSIM_RETIREMENT_THRESHOLD", &c.Engine.RetirementThreshold)
	float("FIELDSIM_RISK_THRESHOLD", &c.Engine.RiskThreshold)
	float("FIELDSIM_DEFAULT_DECAY", &c.Engine.DefaultDecay)
	float("FIELDSIM_SPEED", &c.Run.Speed)
	count("FIELDSIM_EPOCH_STEPS", &c.Run.EpochSteps)
	count("FIELDSIM_MAX_STEPS", &c.Run.MaxSteps)
	if v := os.Getenv("FIELDSIM_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("FIELDSIM_INTERVAL: %w", err))
		} else {
			c.Run.Interval = d
		}
	}
	str("FIELDSIM_DB", &c.Store.Path)
	str("FIELDSIM_API_ADDR", &c.API.Addr)
	str("FIELDSIM_ADMIN_KEY", &c.API.AdminKey)
	boolean("FIELDSIM_BRIDGE", &c.Bridge.Enabled)
	if v := os.Getenv("FIELDSIM_BRIDGE_PEERS"); v != "" {
		c.Bridge.Peers = strings.Split(v, ",")
	}
	if v := os.Getenv("FIELDSIM_SEED"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("FIELDSIM_SEED: %w", err))
		} else {
			c.Genesis.Seed = n
		}
	}
	str("FIELDSIM_LOG_LEVEL", &c.Logging.Level)
	str("FIELDSIM_LOG_FORMAT", &c.Logging.Format)
	return errors.Join(errs...)
}

// expandEnvVars expands ${VAR} patterns with environment variable values.
func expandEnvVars(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, os.Getenv)
}
