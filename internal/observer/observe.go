// Package observer implements the guidance side of the engine: it reads
// aggregate state, flags units drifting toward retirement and spends the
// observer unit's own energy to prop them up.
//
// Every function takes the engine directly and must be called from the
// goroutine that owns it.
package observer

import (
	"cmp"
	"slices"

	"github.com/talgya/fieldsim/internal/kernel"
)

// Snapshot holds the aggregate readings taken during one observation.
// The observer unit itself is never counted.
type Snapshot struct {
	Tick          uint64  `json:"tick"`
	UnitCount     int     `json:"unit_count"`
	LinkCount     int     `json:"link_count"`
	MeanEntropy   float64 `json:"mean_entropy"`
	MeanStability float64 `json:"mean_stability"`
	TotalEnergy   float64 `json:"total_energy"`
	Pool          float64 `json:"pool"`
	Entropy       float64 `json:"entropy"`
	Budget        float64 `json:"observer_budget"`
}

// Observe takes a snapshot. It does not mutate the engine.
func Observe(e *kernel.Engine) Snapshot {
	led := e.Ledger()
	s := Snapshot{
		Tick:      e.Tick(),
		LinkCount: e.LinkCount(),
		Pool:      led.Pool,
		Entropy:   led.Entropy,
	}
	var entropy, stability float64
	for _, u := range e.Units() {
		if u.Observer {
			s.Budget = u.Energy
			continue
		}
		s.UnitCount++
		entropy += u.Entropy
		stability += u.Stability
		s.TotalEnergy += u.Energy
	}
	if s.UnitCount > 0 {
		s.MeanEntropy = entropy / float64(s.UnitCount)
		s.MeanStability = stability / float64(s.UnitCount)
	}
	return s
}

// PredictAtRisk returns the units whose stability is below threshold,
// least stable first. Ties keep creation order.
func PredictAtRisk(e *kernel.Engine, threshold float64) []kernel.UnitID {
	var risky []kernel.UnitView
	for _, u := range e.Units() {
		if !u.Observer && u.Stability < threshold {
			risky = append(risky, u)
		}
	}
	slices.SortStableFunc(risky, func(a, b kernel.UnitView) int {
		return cmp.Compare(a.Stability, b.Stability)
	})
	ids := make([]kernel.UnitID, len(risky))
	for i, u := range risky {
		ids[i] = u.ID
	}
	return ids
}

// Nudge moves amount from the observer unit into target.
func Nudge(e *kernel.Engine, target kernel.UnitID, amount float64) error {
	return e.Nudge(target, amount)
}
