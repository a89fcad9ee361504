package observer

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/talgya/fieldsim/internal/kernel"
	"github.com/talgya/fieldsim/internal/laws"
)

// Actions a Decision can carry.
const (
	ActionNone  = "none"
	ActionNudge = "nudge"
)

// Decision is the guide's recommended action for one cycle.
type Decision struct {
	Action    string        `json:"action"`
	Target    kernel.UnitID `json:"target,omitempty"`
	Amount    float64       `json:"amount,omitempty"`
	Rationale string        `json:"rationale"`
}

// Report is everything one guidance cycle saw and did.
type Report struct {
	Snapshot    Snapshot        `json:"snapshot"`
	AtRisk      []kernel.UnitID `json:"at_risk"`
	Suggestions []Suggestion    `json:"suggestions"`
	Health      Health          `json:"health"`
	Decision    Decision        `json:"decision"`
}

// Guide runs observe, triage, decide and act against an engine. It makes
// at most one nudge per cycle.
type Guide struct {
	RiskThreshold float64
	// MaxNudge caps a single nudge. It is also capped at a tenth of the
	// observer's remaining budget.
	MaxNudge float64

	Memory CycleMemory
	prev   *Snapshot
}

// NewGuide returns a guide with the default thresholds.
func NewGuide() *Guide {
	return &Guide{RiskThreshold: laws.RiskThreshold, MaxNudge: 5}
}

// Inspect runs the read-only half of a cycle.
func (g *Guide) Inspect(e *kernel.Engine) Report {
	snap := Observe(e)
	r := Report{
		Snapshot:    snap,
		AtRisk:      PredictAtRisk(e, g.RiskThreshold),
		Suggestions: Suggest(e),
	}
	r.Health = Triage(snap, r.AtRisk, r.Suggestions, g.prev)
	return r
}

// Cycle inspects the engine, decides and applies at most one nudge.
func (g *Guide) Cycle(e *kernel.Engine) (Report, error) {
	r := g.Inspect(e)
	r.Decision = g.decide(e, r)

	if r.Decision.Action == ActionNudge {
		if err := Nudge(e, r.Decision.Target, r.Decision.Amount); err != nil {
			return r, fmt.Errorf("nudge %s: %w", r.Decision.Target, err)
		}
		slog.Info("observer nudged unit",
			"tick", r.Snapshot.Tick,
			"target", r.Decision.Target,
			"amount", r.Decision.Amount,
			"level", r.Health.Level,
		)
	}

	snap := r.Snapshot
	g.prev = &snap
	g.Memory.Record(CycleRecord{
		Tick:          snap.Tick,
		Action:        r.Decision.Action,
		Target:        r.Decision.Target,
		Amount:        r.Decision.Amount,
		MeanStability: snap.MeanStability,
		Level:         r.Health.Level,
		Rationale:     r.Decision.Rationale,
	})
	return r, nil
}

// decide tops up the least stable at-risk unit while the engine is not healthy.
func (g *Guide) decide(e *kernel.Engine, r Report) Decision {
	if r.Health.Level == Healthy || len(r.AtRisk) == 0 {
		return Decision{Action: ActionNone, Rationale: "no intervention needed"}
	}
	if r.Snapshot.Budget <= 0 {
		return Decision{Action: ActionNone, Rationale: "observer budget exhausted"}
	}

	target := r.AtRisk[0]
	u, ok := e.Unit(target)
	if !ok {
		return Decision{Action: ActionNone, Rationale: "target vanished"}
	}

	// Stability only scales with energy below StabilityEnergyScale.
	want := math.Max(laws.StabilityEnergyScale-u.Energy, 0)
	amount := math.Min(want, math.Min(g.MaxNudge, r.Snapshot.Budget/10))
	if amount <= 0 {
		return Decision{Action: ActionNone, Rationale: fmt.Sprintf("%s is energy-saturated", target)}
	}
	return Decision{
		Action:    ActionNudge,
		Target:    target,
		Amount:    amount,
		Rationale: fmt.Sprintf("%s stability %.3f below %.2f", target, u.Stability, g.RiskThreshold),
	}
}
