package kernel

import (
	"fmt"
	"log/slog"
	"math"
	"slices"

	"github.com/talgya/fieldsim/internal/laws"
)

// SetPayload stores an opaque blob on a unit through the engine codec.
// Storing structure costs global entropy in proportion to its stored size.
func (e *Engine) SetPayload(id UnitID, data []byte) error {
	u, ok := e.units.get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownUnit, id)
	}
	encoded, err := e.codec.Encode(data)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	u.payload = encoded
	u.payloadSize = len(data)
	e.ledger.produce(laws.PayloadEntropyPerKiB * float64(len(encoded)) / 1024)
	return nil
}

// Payload returns the decoded payload of a unit (nil when none is stored).
func (e *Engine) Payload(id UnitID) ([]byte, error) {
	u, ok := e.units.get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownUnit, id)
	}
	if u.payload == nil {
		return nil, nil
	}
	data, err := e.codec.Decode(u.payload)
	if err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return data, nil
}

// Branch splits a unit in two. Copying the payload costs energy that returns
// to the pool; the rest of the parent's energy is halved between parent and
// branch. The branch inherits entropy and payload but no links.
func (e *Engine) Branch(parent UnitID) (UnitID, error) {
	p, ok := e.units.get(parent)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownUnit, parent)
	}
	if e.isObserver(parent) {
		return 0, fmt.Errorf("%w: cannot branch %s", ErrObserverUnit, parent)
	}
	copyCost := float64(len(p.payload)) * laws.PayloadEnergyPerByte
	if p.Energy < laws.BranchMinEnergy+copyCost {
		return 0, fmt.Errorf("%w: branch needs %.6f, %s has %.6f",
			ErrInsufficientEnergy, laws.BranchMinEnergy+copyCost, parent, p.Energy)
	}

	p.Energy -= copyCost
	e.ledger.release(copyCost)
	half := p.Energy / 2
	p.Energy -= half

	id := e.nextUnit
	e.nextUnit++
	b := newUnit(id, half, e.tick)
	b.Entropy = p.Entropy
	b.Stability = laws.BranchStability
	b.LocalTick = p.LocalTick
	b.LocalTime = p.LocalTime
	b.payload = slices.Clone(p.payload)
	b.payloadSize = p.payloadSize
	e.units.put(id, b)

	p.raiseEntropy(laws.BranchParentEntropy)
	e.ledger.produce(laws.BranchEntropy)

	slog.Debug("unit branched", "parent", parent, "branch", id, "energy", half)
	return id, nil
}

// CanMerge reports whether two units are compatible: both stable, similar
// energy and entropy, and close local clocks.
func (e *Engine) CanMerge(a, b UnitID) bool {
	ua, ok1 := e.units.get(a)
	ub, ok2 := e.units.get(b)
	if !ok1 || !ok2 || a == b {
		return false
	}
	return compatible(ua, ub)
}

func compatible(a, b *Unit) bool {
	if a.Stability < laws.MergeMinStability || b.Stability < laws.MergeMinStability {
		return false
	}
	if hi := math.Max(a.Energy, b.Energy); hi > 0 {
		if math.Min(a.Energy, b.Energy)/hi < laws.MergeMinEnergyRatio {
			return false
		}
	}
	if hi := math.Max(a.Entropy, b.Entropy); hi > 0 {
		if math.Abs(a.Entropy-b.Entropy)/hi > laws.MergeMaxEntropySpread {
			return false
		}
	}
	spread := a.LocalTick - b.LocalTick
	if b.LocalTick > a.LocalTick {
		spread = b.LocalTick - a.LocalTick
	}
	return spread <= laws.MergeMaxTickSpread
}

// Merge folds unit b into unit a. Energies add, entropy becomes the larger
// of the two plus a merge cost, stability averages. Links of b are re-pointed
// to a; links between a and b are destroyed. b's entropy settles to the
// ledger as on retirement, and the merge cost is charged globally too.
func (e *Engine) Merge(a, b UnitID) error {
	ua, ok := e.units.get(a)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownUnit, a)
	}
	ub, ok := e.units.get(b)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownUnit, b)
	}
	if a == b {
		return fmt.Errorf("%w: %s", ErrSelfLink, a)
	}
	if e.isObserver(a) || e.isObserver(b) {
		return fmt.Errorf("%w: %w", ErrIncompatibleMerge, ErrObserverUnit)
	}
	if !compatible(ua, ub) {
		return fmt.Errorf("%w: %s and %s", ErrIncompatibleMerge, a, b)
	}

	for _, l := range e.field.detach(b) {
		if l.touches(a) {
			continue
		}
		if l.Source == b {
			l.Source = a
		} else {
			l.Target = a
		}
		e.field.add(l)
	}
	e.units.remove(b, unitKey)

	ua.Energy += ub.Energy
	ua.Entropy = math.Max(ua.Entropy, ub.Entropy) + laws.MergeEntropy
	ua.Stability = (ua.Stability + ub.Stability) / 2
	e.ledger.produce(ub.Entropy + laws.MergeEntropy)
	ua.LocalTick = max(ua.LocalTick, ub.LocalTick)
	ua.LocalTime = math.Max(ua.LocalTime, ub.LocalTime)
	if ua.payload == nil {
		ua.payload, ua.payloadSize = ub.payload, ub.payloadSize
	}

	slog.Debug("units merged", "into", a, "from", b, "energy", ua.Energy)
	return nil
}

// Emit debits a unit for an event leaving this engine. The energy crosses the
// boundary, so the conservation baseline drops by the same amount.
func (e *Engine) Emit(id UnitID, amount float64) error {
	if !ValidAmount(amount) {
		return fmt.Errorf("%w: %v", ErrInvalidAmount, amount)
	}
	u, ok := e.units.get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownUnit, id)
	}
	if e.isObserver(id) {
		return fmt.Errorf("%w: cannot emit from %s", ErrObserverUnit, id)
	}
	if u.Energy < amount {
		return fmt.Errorf("%w: emit %.6f, %s has %.6f", ErrInsufficientEnergy, amount, id, u.Energy)
	}
	u.Energy -= amount
	e.ledger.Baseline -= amount
	e.ledger.produce(laws.LinkCreationEntropy)
	return nil
}

// Absorb credits a unit with energy arriving from another engine and raises
// the conservation baseline accordingly.
func (e *Engine) Absorb(id UnitID, amount float64) error {
	if !ValidAmount(amount) {
		return fmt.Errorf("%w: %v", ErrInvalidAmount, amount)
	}
	u, ok := e.units.get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownUnit, id)
	}
	if e.isObserver(id) {
		return fmt.Errorf("%w: cannot absorb into %s", ErrObserverUnit, id)
	}
	u.Energy += amount
	e.ledger.Baseline += amount
	e.ledger.produce(laws.LinkCreationEntropy)
	return nil
}
