package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/talgya/fieldsim/internal/api"
	"github.com/talgya/fieldsim/internal/bridge"
	"github.com/talgya/fieldsim/internal/config"
	"github.com/talgya/fieldsim/internal/kernel"
	"github.com/talgya/fieldsim/internal/metrics"
	"github.com/talgya/fieldsim/internal/observer"
	"github.com/talgya/fieldsim/internal/persistence"
	"github.com/talgya/fieldsim/internal/runner"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the engine with the HTTP API, persistence and bridge",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if v, _ := cmd.Flags().GetString("addr"); v != "" {
				cfg.API.Addr = v
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}
	cmd.Flags().String("addr", "", "HTTP listen address (overrides config)")
	return cmd
}

func run(ctx context.Context, cfg *config.Config) error {
	db, err := openStore(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	eng, codec, err := boot(cfg, db)
	if err != nil {
		return err
	}
	defer codec.Close()

	m := metrics.New()
	guide := observer.NewGuide()
	guide.RiskThreshold = cfg.Engine.RiskThreshold

	r := runner.New(eng)
	r.Interval = cfg.Run.Interval
	r.EpochSteps = cfg.Run.EpochSteps
	r.MaxSteps = cfg.Run.MaxSteps
	r.SetSpeed(cfg.Run.Speed)
	r.OnStep = stepHook(cfg, db, m, guide)
	r.OnTiming = func(d time.Duration) { m.StepSeconds.Observe(d.Seconds()) }
	r.OnEpoch = func(e *kernel.Engine, tick uint64) {
		if !cfg.Store.SaveOnEpoch {
			return
		}
		if err := db.SaveState(e.Export()); err != nil {
			slog.Error("epoch save failed", "tick", tick, "error", err)
		}
	}

	var br *bridge.Bridge
	if cfg.Bridge.Enabled {
		tr, err := bridge.NewP2P(cfg.Bridge.Listen...)
		if err != nil {
			return err
		}
		br = bridge.New(r, tr)
		br.OnSent = func(bridge.Event) { m.BridgeOut.Inc() }
		br.OnReceived = func(bridge.Event) { m.BridgeIn.Inc() }
		defer br.Close()
		slog.Info("bridge ready", "addr", br.Addr(), "peers", len(cfg.Bridge.Peers))
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		// Reaching MaxSteps stops everything else too.
		defer cancel()
		return r.Run(gctx)
	})
	if cfg.API.Addr != "" {
		srv := &api.Server{
			Runner:   r,
			Guide:    guide,
			DB:       db,
			Metrics:  m,
			Bridge:   br,
			Peers:    cfg.Bridge.Peers,
			AdminKey: cfg.API.AdminKey,
			Limiter:  api.NewRateLimiter(cfg.API.RateMax, cfg.API.RateFill),
		}
		g.Go(func() error { return srv.ListenAndServe(gctx, cfg.API.Addr) })
	}

	if err := g.Wait(); err != nil {
		return err
	}

	// Run has returned, so this goroutine owns the engine again.
	if err := db.SaveState(eng.Export()); err != nil {
		return fmt.Errorf("final save: %w", err)
	}
	printSummary(eng)
	return nil
}

// stepHook records history and metrics after every step and runs an
// observer guidance cycle every GuideEvery steps.
func stepHook(cfg *config.Config, db *persistence.DB, m *metrics.Metrics, guide *observer.Guide) func(*kernel.Engine, kernel.Report) {
	return func(e *kernel.Engine, rep kernel.Report) {
		m.Observe(rep)
		if cfg.Store.History {
			if err := db.RecordStep(rep); err != nil {
				slog.Error("record step failed", "tick", rep.Tick, "error", err)
			}
		}
		if cfg.Run.GuideEvery == 0 || rep.Tick%cfg.Run.GuideEvery != 0 {
			return
		}
		res, err := guide.Cycle(e)
		if err != nil {
			slog.Warn("guidance cycle failed", "tick", rep.Tick, "error", err)
			return
		}
		if res.Decision.Action == observer.ActionNudge {
			m.Nudges.Inc()
		}
	}
}

func printSummary(e *kernel.Engine) {
	led := e.Ledger()
	fmt.Printf("tick %s: %s units, %s links, pool %s, entropy %s, conserved=%t\n",
		humanize.Comma(int64(e.Tick())),
		humanize.Comma(int64(e.UnitCount())),
		humanize.Comma(int64(e.LinkCount())),
		humanize.FormatFloat("#,###.##", led.Pool),
		humanize.FormatFloat("#,###.##", led.Entropy),
		e.VerifyEnergy(),
	)
}
