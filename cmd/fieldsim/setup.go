package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/talgya/fieldsim/internal/config"
	"github.com/talgya/fieldsim/internal/genesis"
	"github.com/talgya/fieldsim/internal/kernel"
	"github.com/talgya/fieldsim/internal/logging"
	"github.com/talgya/fieldsim/internal/payload"
	"github.com/talgya/fieldsim/internal/persistence"
)

// Codec names recorded in the store's meta table.
const (
	codecRaw  = "raw"
	codecZstd = "zstd"
)

// loadConfig resolves configuration (defaults, file, env, flags), validates
// it and installs the process logger.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if v, _ := cmd.Flags().GetString("db"); v != "" {
		cfg.Store.Path = v
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.Logging.Level = v
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	slog.SetDefault(logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, os.Stderr))
	return cfg, nil
}

func openStore(path string) (*persistence.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	db, err := persistence.Open(path)
	if err != nil {
		return nil, err
	}
	slog.Info("database opened", "path", path)
	return db, nil
}

// newCodec returns the payload codec by name and a closer for it.
func newCodec(name string) (kernel.Codec, io.Closer, error) {
	switch name {
	case codecZstd:
		z, err := payload.NewZstd(3)
		if err != nil {
			return nil, nil, err
		}
		return z, z, nil
	case codecRaw, "":
		return nil, nopCloser{}, nil
	default:
		return nil, nil, fmt.Errorf("unknown payload codec %q", name)
	}
}

// boot restores the engine from db when it holds a snapshot, otherwise
// builds a fresh engine and seeds it with genesis. db may be nil.
func boot(cfg *config.Config, db *persistence.DB) (*kernel.Engine, io.Closer, error) {
	if db != nil {
		ok, err := db.HasState()
		if err != nil {
			return nil, nil, fmt.Errorf("check saved state: %w", err)
		}
		if ok {
			return restore(db)
		}
	}

	name := codecName(cfg)
	codec, closer, err := newCodec(name)
	if err != nil {
		return nil, nil, err
	}
	opts := []kernel.Option{
		kernel.WithObserver(cfg.Engine.ObserverBudget),
		kernel.WithRetirementThreshold(cfg.Engine.RetirementThreshold),
		kernel.WithDefaultDecay(cfg.Engine.DefaultDecay),
	}
	if codec != nil {
		opts = append(opts, kernel.WithCodec(codec))
	}
	e, err := kernel.New(cfg.Engine.PoolEnergy, opts...)
	if err != nil {
		closer.Close()
		return nil, nil, err
	}
	if _, err := genesis.Generate(e, genesis.Config{
		Seed:        cfg.Genesis.Seed,
		Units:       cfg.Genesis.Units,
		MeanEnergy:  cfg.Genesis.MeanEnergy,
		LinkDensity: cfg.Genesis.LinkDensity,
	}); err != nil {
		closer.Close()
		return nil, nil, fmt.Errorf("genesis: %w", err)
	}
	if db != nil {
		if err := db.SaveMeta("codec", name); err != nil {
			closer.Close()
			return nil, nil, fmt.Errorf("save meta: %w", err)
		}
	}
	return e, closer, nil
}

func codecName(cfg *config.Config) string {
	if cfg.Engine.CompressPayloads {
		return codecZstd
	}
	return codecRaw
}

func restore(db *persistence.DB) (*kernel.Engine, io.Closer, error) {
	name, err := db.GetMeta("codec")
	if err != nil {
		name = codecRaw
	}
	codec, closer, err := newCodec(name)
	if err != nil {
		return nil, nil, err
	}
	state, err := db.LoadState()
	if err != nil {
		closer.Close()
		return nil, nil, err
	}
	var opts []kernel.Option
	if codec != nil {
		opts = append(opts, kernel.WithCodec(codec))
	}
	e, err := kernel.Restore(state, opts...)
	if err != nil {
		closer.Close()
		return nil, nil, fmt.Errorf("restore: %w", err)
	}
	slog.Info("engine restored", "engine", e.ID(), "tick", e.Tick(), "units", e.UnitCount(), "links", e.LinkCount())
	return e, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// errLawBroken is returned by simulate when a post-step check fails.
var errLawBroken = errors.New("conservation law broken")
