package main

import (
	"cmp"
	"encoding/json"
	"fmt"
	"os"
	"slices"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/talgya/fieldsim/internal/kernel"
	"github.com/talgya/fieldsim/internal/observer"
)

func newInspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Print the saved engine state",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			top, _ := cmd.Flags().GetInt("top")
			jsonOut, _ := cmd.Flags().GetBool("json")

			if _, err := os.Stat(cfg.Store.Path); err != nil {
				return fmt.Errorf("no database at %s", cfg.Store.Path)
			}
			db, err := openStore(cfg.Store.Path)
			if err != nil {
				return err
			}
			defer db.Close()

			eng, codec, err := restore(db)
			if err != nil {
				return err
			}
			defer codec.Close()

			guide := observer.NewGuide()
			guide.RiskThreshold = cfg.Engine.RiskThreshold
			rep := guide.Inspect(eng)
			history, err := db.History(5)
			if err != nil {
				return err
			}

			if jsonOut {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{
					"engine_id": eng.ID(),
					"ledger":    eng.Ledger(),
					"observer":  rep,
					"history":   history,
				})
			}

			fmt.Printf("engine %s\n", eng.ID())
			printSummary(eng)
			fmt.Printf("health %s: %d at risk, %d hot spots, %d isolated\n",
				rep.Health.Level, rep.Health.AtRisk, rep.Health.HotSpots, rep.Health.Isolated)

			units := eng.Units()
			slices.SortFunc(units, func(a, b kernel.UnitView) int { return cmp.Compare(b.Energy, a.Energy) })
			if len(units) > top {
				units = units[:top]
			}
			fmt.Println("\ntop units by energy:")
			for _, u := range units {
				fmt.Printf("  %-6s energy %10s  entropy %8.3f  stability %.3f  links %d\n",
					u.ID, humanize.FormatFloat("#,###.##", u.Energy), u.Entropy, u.Stability, len(u.Links))
			}
			if len(history) > 0 {
				fmt.Println("\nrecent steps:")
				for _, h := range history {
					fmt.Printf("  tick %-8s units %-6d moved %.4f  retired %d  (%s)\n",
						humanize.Comma(int64(h.Tick)), h.Units, h.Transferred, h.Retired, h.RecordedAt)
				}
			}
			return nil
		},
	}
	cmd.Flags().Int("top", 10, "Number of units to list")
	return cmd
}
