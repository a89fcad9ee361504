package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/talgya/fieldsim/internal/kernel"
	"github.com/talgya/fieldsim/internal/observer"
	"github.com/talgya/fieldsim/internal/persistence"
	"github.com/talgya/fieldsim/internal/runner"
)

func newSimulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a fixed number of steps headless and verify the laws after each",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			steps, _ := cmd.Flags().GetUint64("steps")
			save, _ := cmd.Flags().GetBool("save")
			resume, _ := cmd.Flags().GetBool("resume")
			jsonOut, _ := cmd.Flags().GetBool("json")

			var db *persistence.DB
			if save || resume {
				if db, err = openStore(cfg.Store.Path); err != nil {
					return err
				}
				defer db.Close()
			}
			bootDB := db
			if !resume {
				bootDB = nil
			}
			eng, codec, err := boot(cfg, bootDB)
			if err != nil {
				return err
			}
			defer codec.Close()

			res, err := simulate(cmd.Context(), eng, steps, cfg.Run.GuideEvery, cfg.Engine.RiskThreshold)
			if err != nil {
				return err
			}
			if save {
				if err := db.SaveState(eng.Export()); err != nil {
					return fmt.Errorf("save: %w", err)
				}
				if !resume {
					if err := db.SaveMeta("codec", codecName(cfg)); err != nil {
						return fmt.Errorf("save meta: %w", err)
					}
				}
			}

			if jsonOut {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			fmt.Printf("retired %d units, %d evolutions, %d nudges\n", res.Retired, res.Evolutions, res.Nudges)
			printSummary(eng)
			return nil
		},
	}
	cmd.Flags().Uint64("steps", 1000, "Number of steps to run")
	cmd.Flags().Bool("save", false, "Save the final state to the database")
	cmd.Flags().Bool("resume", false, "Start from the saved state instead of genesis")
	return cmd
}

// simResult summarizes a headless run.
type simResult struct {
	Steps      uint64            `json:"steps"`
	Retired    int               `json:"retired"`
	Evolutions int               `json:"evolutions"`
	Nudges     int               `json:"nudges"`
	Last       kernel.Report     `json:"last"`
	Snapshot   observer.Snapshot `json:"snapshot"`
}

// simulate steps eng as fast as possible, checking conservation and
// entropy monotonicity after every step.
func simulate(ctx context.Context, eng *kernel.Engine, steps, guideEvery uint64, risk float64) (simResult, error) {
	res := simResult{Steps: steps}
	if steps == 0 {
		res.Snapshot = observer.Observe(eng)
		return res, nil
	}

	guide := observer.NewGuide()
	guide.RiskThreshold = risk
	prevEntropy := eng.Ledger().Entropy
	var lawErr error

	r := runner.New(eng)
	r.Interval = 0
	r.MaxSteps = steps
	r.EpochSteps = 0
	r.OnStep = func(e *kernel.Engine, rep kernel.Report) {
		res.Last = rep
		res.Retired += len(rep.Retired)
		res.Evolutions += len(rep.Evolved)
		if lawErr == nil && (!e.VerifyEnergy() || !e.VerifyEntropy(prevEntropy)) {
			lawErr = fmt.Errorf("%w at tick %d", errLawBroken, rep.Tick)
		}
		prevEntropy = e.Ledger().Entropy
		if guideEvery > 0 && rep.Tick%guideEvery == 0 {
			if c, err := guide.Cycle(e); err == nil && c.Decision.Action == observer.ActionNudge {
				res.Nudges++
			} else if err != nil {
				slog.Warn("guidance cycle failed", "tick", rep.Tick, "error", err)
			}
		}
	}
	if err := r.Run(ctx); err != nil {
		return res, err
	}
	if lawErr != nil {
		return res, lawErr
	}
	res.Snapshot = observer.Observe(eng)
	return res, nil
}
