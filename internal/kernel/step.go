package kernel

import (
	"log/slog"
	"math"

	"github.com/talgya/fieldsim/internal/laws"
)

// Evolution records one unit advancing during a step.
type Evolution struct {
	Unit UnitID  `json:"unit"`
	Rate float64 `json:"rate"` // pressure / resistance
	Dt   float64 `json:"dt"`   // local time delta
}

// Report summarizes one step.
type Report struct {
	Tick        uint64      `json:"tick"`
	Links       int         `json:"links"` // observed at the start of the step
	Transferred float64     `json:"transferred"`
	Evolved     []Evolution `json:"evolved"`
	Retired     []UnitID    `json:"retired"`
	Units       int         `json:"units"`
	Pool        float64     `json:"pool_energy"`
	Entropy     float64     `json:"total_entropy"`
}

// Step runs the five ordered phases: observe, gradient, redistribute,
// advance, retire. It panics with *InvariantViolation if conservation or
// entropy monotonicity is breached; the engine must not be used afterwards.
func (e *Engine) Step() Report {
	e.tick++
	before := e.ledger.Entropy

	r := Report{Tick: e.tick}
	r.Links = e.observe()
	e.gradient()
	r.Transferred = e.redistribute()
	r.Evolved = e.advance()
	r.Retired = e.retireUnstable()

	e.mustConserve()
	if err := laws.CheckEntropy(before, e.ledger.Entropy); err != nil {
		panic(err)
	}

	r.Units = e.units.len()
	r.Pool = e.ledger.Pool
	r.Entropy = e.ledger.Entropy

	slog.Debug("step",
		"tick", r.Tick,
		"units", r.Units,
		"links", r.Links,
		"evolved", len(r.Evolved),
		"retired", len(r.Retired),
		"pool", r.Pool,
		"entropy", r.Entropy,
	)
	return r
}

// observe counts live links. Telemetry only.
func (e *Engine) observe() int {
	return e.field.Len()
}

// gradient charges the irreversible cost of time passing.
func (e *Engine) gradient() {
	e.ledger.produce(laws.GradientRate * float64(e.units.len()))
}

// redistribute decays every link, resets momentum from the endpoint energy
// gradient and moves coupling*momentum*k2 energy along it. Every momentum is
// sampled from pre-phase energies before any transfer is applied, so the
// result does not depend on link order. Transfers are clamped so no endpoint
// goes negative; the remainder stays put.
func (e *Engine) redistribute() float64 {
	start := e.TotalEnergy()
	moved := 0.0

	e.field.each(func(l *Link) {
		l.weaken()
		src, ok1 := e.units.get(l.Source)
		dst, ok2 := e.units.get(l.Target)
		if !ok1 || !ok2 {
			l.Momentum = 0
			return
		}
		l.Momentum = laws.Momentum(src.Energy, dst.Energy, l.Coupling)
	})

	e.field.each(func(l *Link) {
		src, ok1 := e.units.get(l.Source)
		dst, ok2 := e.units.get(l.Target)
		if !ok1 || !ok2 {
			return
		}
		delta := l.Coupling * l.Momentum * laws.TransferRate
		from, to := src, dst
		if delta < 0 {
			from, to = dst, src
			delta = -delta
		}
		amount := math.Min(delta, from.Energy)
		if amount <= 0 {
			return
		}
		from.Energy -= amount
		to.Energy += amount
		l.Transferred += amount
		moved += amount
	})

	if err := laws.CheckConservation(start, e.TotalEnergy()); err != nil {
		panic(err)
	}
	return moved
}

// advance evaluates the evolution predicate for every unit: a unit evolves
// when the pressure of its links exceeds its internal resistance.
func (e *Engine) advance() []Evolution {
	var evolved []Evolution
	e.units.each(func(u *Unit) {
		pressure := e.field.Pressure(u.ID)
		resistance := laws.Resistance(u.Entropy, u.Stability)
		if !laws.Evolves(pressure, resistance) {
			return
		}
		rate := pressure / resistance
		dt := u.evolve(rate, e.field.Degree(u.ID), e.tick)
		evolved = append(evolved, Evolution{Unit: u.ID, Rate: rate, Dt: dt})
	})
	return evolved
}

// retireUnstable retires every unit below the threshold in a single pass.
// Units orphaned by these retirements are judged on the next step.
func (e *Engine) retireUnstable() []UnitID {
	var doomed []UnitID
	e.units.each(func(u *Unit) {
		if laws.Collapses(u.Stability, e.retireThreshold) {
			doomed = append(doomed, u.ID)
		}
	})
	for _, id := range doomed {
		if _, err := e.retire(id); err != nil {
			slog.Warn("retire failed", "unit", id, "error", err)
		}
	}
	return doomed
}

// mustConserve panics if the ledger baseline no longer matches.
func (e *Engine) mustConserve() {
	total := e.TotalEnergy()
	if err := laws.CheckConservation(e.ledger.Baseline, total); err != nil {
		panic(err)
	}
	if e.ledger.Pool < 0 {
		panic(&InvariantViolation{Law: laws.LawNonNegative, Expected: 0, Actual: e.ledger.Pool, Delta: e.ledger.Pool})
	}
}
