// Package laws holds every tuning constant of the evolution kernel and the
// pure predicates that decide whether a state obeys the conservation laws.
// No magic numbers in the kernel: each coefficient is named here.
package laws

// Epsilon is the numerical tolerance for energy conservation checks.
const Epsilon = 1e-6

// Step coefficients.
const (
	// GradientRate (k1) is the entropy every live unit costs per step.
	GradientRate = 0.1

	// TransferRate (k2) scales coupling*momentum into a per-step transfer.
	TransferRate = 0.01

	// EvolutionRate (k3) scales pressure/resistance into unit entropy growth.
	EvolutionRate = 0.1

	// MomentumRate converts an endpoint energy gradient into link momentum.
	MomentumRate = 0.01

	// ResistanceFloor keeps resistance strictly positive for fresh units
	// whose entropy is still zero.
	ResistanceFloor = 0.01
)

// Structural entropy costs.
const (
	UnitCreationEntropy = 1.0
	LinkCreationEntropy = 0.5
	BranchEntropy       = 0.5
	BranchParentEntropy = 1.0
	MergeEntropy        = 2.0

	// PayloadEntropyPerKiB is charged to the ledger when a payload is stored.
	PayloadEntropyPerKiB = 0.05
)

// Thresholds.
const (
	// RetirementThreshold: units below this stability are retired.
	RetirementThreshold = 0.3

	// RiskThreshold: units below this stability are flagged at risk.
	RiskThreshold = 0.5

	// DefaultDecay is the per-step fractional coupling loss of a new link.
	DefaultDecay = 0.01
)

// Stability model.
const (
	// StabilityEntropyScale is the e-folding scale of entropy on stability.
	StabilityEntropyScale = 0.01

	// StabilityEnergyScale is the energy at which a unit is fully fed.
	StabilityEnergyScale = 100.0
)

// Branching and merging.
const (
	BranchMinEnergy       = 10.0
	BranchStability       = 0.5
	PayloadEnergyPerByte  = 0.001
	MergeMinStability     = 0.7
	MergeMinEnergyRatio   = 0.8
	MergeMaxEntropySpread = 0.3
	MergeMaxTickSpread    = 10
)

// Observer heuristics.
const (
	HighEntropy           = 50.0
	IsolatedEnergy        = 10.0
	DefaultObserverBudget = 50.0
)
