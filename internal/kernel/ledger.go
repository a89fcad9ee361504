package kernel

import (
	"fmt"
	"math"

	"github.com/talgya/fieldsim/internal/laws"
)

// Ledger is the global account of free energy and produced entropy.
//
// Invariant: Pool + Σ unit.Energy == Baseline (within laws.Epsilon), where
// Baseline only moves through explicit boundary flux (Emit/Absorb).
// Entropy never decreases.
type Ledger struct {
	Pool     float64 `json:"pool_energy"`
	Entropy  float64 `json:"total_entropy"`
	Baseline float64 `json:"baseline"`
}

func newLedger(budget float64) Ledger {
	return Ledger{Pool: budget, Baseline: budget}
}

// allocate moves energy out of the pool.
func (l *Ledger) allocate(amount float64) error {
	if amount > l.Pool {
		return fmt.Errorf("%w: requested %.6f, available %.6f", ErrInsufficientPool, amount, l.Pool)
	}
	l.Pool -= amount
	return nil
}

func (l *Ledger) release(amount float64) {
	l.Pool += amount
}

// produce adds entropy. A negative delta is a kernel defect.
func (l *Ledger) produce(delta float64) {
	if delta < 0 || math.IsNaN(delta) {
		panic(&InvariantViolation{
			Law:      laws.LawEntropy,
			Expected: l.Entropy,
			Actual:   l.Entropy + delta,
			Delta:    delta,
		})
	}
	l.Entropy += delta
}
