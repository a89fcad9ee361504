package kernel

import (
	"slices"

	"github.com/talgya/fieldsim/internal/laws"
)

// Unit is an isolated entity under evolution. Units live only inside the
// engine; callers see them through UnitView copies.
type Unit struct {
	ID        UnitID
	Energy    float64 // >= 0
	Entropy   float64 // >= 0, never decreases while the unit exists
	Stability float64 // [0,1], 1.0 at creation
	LocalTick uint64  // number of evolutions
	LocalTime float64 // Σ Δt over evolutions

	BornTick    uint64
	EvolvedTick uint64

	payload     []byte // codec-encoded, opaque to the engine
	payloadSize int    // decoded size
}

func newUnit(id UnitID, energy float64, tick uint64) *Unit {
	return &Unit{
		ID:        id,
		Energy:    energy,
		Stability: 1.0,
		BornTick:  tick,
	}
}

// raiseEntropy grows the unit's entropy. A negative delta is a kernel defect.
func (u *Unit) raiseEntropy(delta float64) {
	if delta < 0 {
		panic(&InvariantViolation{
			Law:      laws.LawEntropy,
			Expected: u.Entropy,
			Actual:   u.Entropy + delta,
			Delta:    delta,
		})
	}
	u.Entropy += delta
}

// evolve advances the unit one evolution: local clock, entropy, stability.
// It returns the local time delta.
func (u *Unit) evolve(rate float64, links int, tick uint64) float64 {
	dt := laws.TimeDilation(links)
	u.LocalTick++
	u.LocalTime += dt
	u.raiseEntropy(rate * laws.EvolutionRate)
	u.Stability = laws.Stability(u.Entropy, u.Energy)
	u.EvolvedTick = tick
	return dt
}

// UnitView is a read-only copy of a unit.
type UnitView struct {
	ID          UnitID   `json:"id"`
	Energy      float64  `json:"energy"`
	Entropy     float64  `json:"entropy"`
	Stability   float64  `json:"stability"`
	LocalTick   uint64   `json:"local_tick"`
	LocalTime   float64  `json:"local_time"`
	BornTick    uint64   `json:"born_tick"`
	EvolvedTick uint64   `json:"evolved_tick"`
	Links       []LinkID `json:"links"`
	PayloadSize int      `json:"payload_size"`
	Observer    bool     `json:"observer,omitempty"`
}

func (u *Unit) view(links []LinkID, observer bool) UnitView {
	return UnitView{
		ID:          u.ID,
		Energy:      u.Energy,
		Entropy:     u.Entropy,
		Stability:   u.Stability,
		LocalTick:   u.LocalTick,
		LocalTime:   u.LocalTime,
		BornTick:    u.BornTick,
		EvolvedTick: u.EvolvedTick,
		Links:       slices.Clone(links),
		PayloadSize: u.payloadSize,
		Observer:    observer,
	}
}

func unitKey(u *Unit) UnitID { return u.ID }
