package laws

import (
	"fmt"
	"math"
)

// Law names used in violation reports.
const (
	LawConservation = "energy conservation"
	LawEntropy      = "entropy monotonicity"
	LawNonNegative  = "non-negative energy"
)

// Violation describes a breached invariant. It is never a normal runtime
// condition: the kernel panics with it.
type Violation struct {
	Law      string
	Expected float64
	Actual   float64
	Delta    float64
}

func (v *Violation) Error() string {
	return fmt.Sprintf("%s violated: expected %.9f, got %.9f (delta %.3g)",
		v.Law, v.Expected, v.Actual, v.Delta)
}

// Conserved reports whether current is within Epsilon of baseline.
func Conserved(baseline, current float64) bool {
	return math.Abs(current-baseline) < Epsilon
}

// CheckConservation returns a Violation when current drifted from baseline.
func CheckConservation(baseline, current float64) error {
	if Conserved(baseline, current) {
		return nil
	}
	return &Violation{
		Law:      LawConservation,
		Expected: baseline,
		Actual:   current,
		Delta:    current - baseline,
	}
}

// NonDecreasing reports whether current >= previous.
func NonDecreasing(previous, current float64) bool {
	return current >= previous
}

// CheckEntropy returns a Violation when entropy went backwards.
func CheckEntropy(previous, current float64) error {
	if NonDecreasing(previous, current) {
		return nil
	}
	return &Violation{
		Law:      LawEntropy,
		Expected: previous,
		Actual:   current,
		Delta:    current - previous,
	}
}

// Resistance is a unit's internal resistance to evolution:
// entropy * (1 - stability) + ResistanceFloor.
func Resistance(entropy, stability float64) float64 {
	return entropy*(1-stability) + ResistanceFloor
}

// Evolves reports whether pressure overcomes resistance.
func Evolves(pressure, resistance float64) bool {
	return pressure > resistance
}

// TimeDilation returns the local time delta for a unit with n links.
func TimeDilation(links int) float64 {
	return 1 / (1 + float64(links))
}

// Collapses reports whether a unit with this stability must be retired.
func Collapses(stability, threshold float64) bool {
	return stability < threshold
}

// Stability derives a unit's health from its entropy and energy.
// High entropy and starvation both erode it.
func Stability(entropy, energy float64) float64 {
	entropyFactor := math.Exp(-entropy * StabilityEntropyScale)
	energyFactor := 0.0
	if energy > 0 {
		energyFactor = math.Min(energy/StabilityEnergyScale, 1)
	}
	return clamp01(entropyFactor * energyFactor)
}

// Momentum converts an endpoint energy gradient into a signed transfer rate.
// Positive momentum flows source to target.
func Momentum(sourceEnergy, targetEnergy, coupling float64) float64 {
	return (sourceEnergy - targetEnergy) * coupling * MomentumRate
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
