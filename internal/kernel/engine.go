// Package kernel implements the conservation-constrained evolution engine:
// units connected by decaying links, a global energy/entropy ledger, and the
// five-phase step that moves energy, evolves units and retires unstable ones.
//
// The Engine is a single-writer state machine. It holds no lock; callers
// that share one across goroutines must serialize every call (see the
// runner package).
package kernel

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/google/uuid"

	"github.com/talgya/fieldsim/internal/laws"
)

// Engine owns the ledger, the units and the relation field.
type Engine struct {
	id     uuid.UUID
	ledger Ledger
	units  *arena[UnitID, Unit]
	field  *Field

	nextUnit UnitID
	nextLink LinkID
	tick     uint64

	observer UnitID // 0 when the engine has no observer

	retireThreshold float64
	defaultDecay    float64
	codec           Codec
}

// Option configures an Engine at construction.
type Option func(*config)

type config struct {
	id              uuid.UUID
	observerBudget  float64
	retireThreshold float64
	defaultDecay    float64
	codec           Codec
}

// WithObserver creates the privileged observer unit with the given budget,
// taken from the starting pool.
func WithObserver(budget float64) Option {
	return func(c *config) { c.observerBudget = budget }
}

// WithRetirementThreshold overrides laws.RetirementThreshold.
func WithRetirementThreshold(t float64) Option {
	return func(c *config) { c.retireThreshold = t }
}

// WithDefaultDecay sets the decay of newly created links.
func WithDefaultDecay(d float64) Option {
	return func(c *config) { c.defaultDecay = d }
}

// WithCodec sets the payload codec. The default stores bytes as given.
func WithCodec(codec Codec) Option {
	return func(c *config) { c.codec = codec }
}

// WithID fixes the engine instance id (default: a random UUID).
func WithID(id uuid.UUID) Option {
	return func(c *config) { c.id = id }
}

func defaults(opts []Option) config {
	c := config{
		retireThreshold: laws.RetirementThreshold,
		defaultDecay:    laws.DefaultDecay,
		codec:           rawCodec{},
	}
	for _, opt := range opts {
		opt(&c)
	}
	if c.id == uuid.Nil {
		c.id = uuid.New()
	}
	return c
}

// New creates an engine whose ledger holds poolEnergy and zero entropy.
func New(poolEnergy float64, opts ...Option) (*Engine, error) {
	if !ValidAmount(poolEnergy) {
		return nil, fmt.Errorf("%w: pool %v", ErrInvalidAmount, poolEnergy)
	}
	c := defaults(opts)
	if c.retireThreshold < 0 || c.retireThreshold > 1 {
		return nil, fmt.Errorf("%w: retirement threshold %v", ErrInvalidStability, c.retireThreshold)
	}
	if c.defaultDecay < 0 || c.defaultDecay >= 1 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDecay, c.defaultDecay)
	}

	e := &Engine{
		id:              c.id,
		ledger:          newLedger(poolEnergy),
		units:           newArena[UnitID, Unit](),
		field:           newField(),
		nextUnit:        1,
		nextLink:        1,
		retireThreshold: c.retireThreshold,
		defaultDecay:    c.defaultDecay,
		codec:           c.codec,
	}

	if c.observerBudget > 0 {
		id, err := e.CreateUnit(c.observerBudget)
		if err != nil {
			return nil, fmt.Errorf("observer unit: %w", err)
		}
		e.observer = id
	}

	slog.Debug("engine created", "engine", e.id, "pool", poolEnergy, "observer", e.observer)
	return e, nil
}

// ID returns the engine instance id.
func (e *Engine) ID() uuid.UUID { return e.id }

// Tick returns the number of completed steps.
func (e *Engine) Tick() uint64 { return e.tick }

// Ledger returns a copy of the global ledger.
func (e *Engine) Ledger() Ledger { return e.ledger }

// Field exposes the relation field for read-only queries.
func (e *Engine) Field() *Field { return e.field }

// ObserverID returns the observer's unit id, or 0.
func (e *Engine) ObserverID() UnitID { return e.observer }

// RetirementThreshold returns the stability below which units retire.
func (e *Engine) RetirementThreshold() float64 { return e.retireThreshold }

// UnitCount returns the number of live units.
func (e *Engine) UnitCount() int { return e.units.len() }

// LinkCount returns the number of live links.
func (e *Engine) LinkCount() int { return e.field.Len() }

// CreateUnit allocates energy from the pool into a new unit.
func (e *Engine) CreateUnit(energy float64) (UnitID, error) {
	if !ValidAmount(energy) {
		return 0, fmt.Errorf("%w: %v", ErrInvalidAmount, energy)
	}
	if err := e.ledger.allocate(energy); err != nil {
		return 0, err
	}

	id := e.nextUnit
	e.nextUnit++
	e.units.put(id, newUnit(id, energy, e.tick))
	e.ledger.produce(laws.UnitCreationEntropy)

	slog.Debug("unit created", "unit", id, "energy", energy)
	return id, nil
}

// CreateLink joins two distinct live units.
func (e *Engine) CreateLink(source, target UnitID, coupling float64) (LinkID, error) {
	if _, ok := e.units.get(source); !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownUnit, source)
	}
	if _, ok := e.units.get(target); !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownUnit, target)
	}
	if source == target {
		return 0, fmt.Errorf("%w: %s", ErrSelfLink, source)
	}
	if e.isObserver(source) || e.isObserver(target) {
		return 0, fmt.Errorf("%w: cannot link %s", ErrObserverUnit, e.observer)
	}
	if math.IsNaN(coupling) || coupling < 0 || coupling > 1 {
		return 0, fmt.Errorf("%w: %v", ErrInvalidCoupling, coupling)
	}

	id := e.nextLink
	e.nextLink++
	e.field.add(&Link{
		ID:       id,
		Source:   source,
		Target:   target,
		Coupling: coupling,
		Decay:    e.defaultDecay,
	})
	e.ledger.produce(laws.LinkCreationEntropy)

	slog.Debug("link created", "link", id, "source", source, "target", target, "coupling", coupling)
	return id, nil
}

// DestroyLink removes a link. Its creation entropy is not refunded.
func (e *Engine) DestroyLink(id LinkID) (LinkView, error) {
	l, ok := e.field.remove(id)
	if !ok {
		return LinkView{}, fmt.Errorf("%w: %s", ErrUnknownLink, id)
	}
	return l.view(), nil
}

// DestroyUnit retires a unit on request. The observer unit cannot be
// destroyed; it lives as long as the engine.
func (e *Engine) DestroyUnit(id UnitID) (UnitView, error) {
	if e.isObserver(id) {
		return UnitView{}, fmt.Errorf("%w: cannot destroy %s", ErrObserverUnit, id)
	}
	return e.retire(id)
}

func (e *Engine) isObserver(id UnitID) bool {
	return e.observer != 0 && id == e.observer
}

// retire removes a unit and every link touching it, returning its energy
// to the pool and its entropy to the ledger.
func (e *Engine) retire(id UnitID) (UnitView, error) {
	u, ok := e.units.get(id)
	if !ok {
		return UnitView{}, fmt.Errorf("%w: %s", ErrUnknownUnit, id)
	}
	links := e.field.Touching(id)
	e.field.detach(id)
	e.units.remove(id, unitKey)

	e.ledger.release(u.Energy)
	e.ledger.produce(u.Entropy)

	slog.Debug("unit retired", "unit", id, "energy", u.Energy, "entropy", u.Entropy,
		"stability", u.Stability, "links", len(links))
	return u.view(links, false), nil
}

// Unit returns a copy of a live unit.
func (e *Engine) Unit(id UnitID) (UnitView, bool) {
	u, ok := e.units.get(id)
	if !ok {
		return UnitView{}, false
	}
	return u.view(e.field.touching[id], id == e.observer), true
}

// Link returns a copy of a live link.
func (e *Engine) Link(id LinkID) (LinkView, bool) {
	return e.field.Link(id)
}

// Units returns copies of every live unit in creation order.
func (e *Engine) Units() []UnitView {
	out := make([]UnitView, 0, e.units.len())
	e.units.each(func(u *Unit) {
		out = append(out, u.view(e.field.touching[u.ID], u.ID == e.observer))
	})
	return out
}

// Links returns copies of every live link in creation order.
func (e *Engine) Links() []LinkView {
	out := make([]LinkView, 0, e.field.Len())
	e.field.each(func(l *Link) { out = append(out, l.view()) })
	return out
}

// SetStability overrides a unit's stability. It exists for operators and
// test harnesses that need to drive a unit into or out of the retirement band.
func (e *Engine) SetStability(id UnitID, stability float64) error {
	if math.IsNaN(stability) || stability < 0 || stability > 1 {
		return fmt.Errorf("%w: %v", ErrInvalidStability, stability)
	}
	u, ok := e.units.get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownUnit, id)
	}
	if e.isObserver(id) {
		return fmt.Errorf("%w: cannot set stability of %s", ErrObserverUnit, id)
	}
	u.Stability = stability
	return nil
}

// SetDecay changes a link's decay rate.
func (e *Engine) SetDecay(id LinkID, decay float64) error {
	if math.IsNaN(decay) || decay < 0 || decay >= 1 {
		return fmt.Errorf("%w: %v", ErrInvalidDecay, decay)
	}
	l, ok := e.field.get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownLink, id)
	}
	l.Decay = decay
	return nil
}

// Nudge moves energy from the observer unit into target. It is the only
// write path available to guidance logic, and it moves energy the observer
// already owns.
func (e *Engine) Nudge(target UnitID, amount float64) error {
	if !ValidAmount(amount) {
		return fmt.Errorf("%w: %v", ErrInvalidAmount, amount)
	}
	obs, ok := e.units.get(e.observer)
	if e.observer == 0 || !ok {
		return ErrNoObserver
	}
	t, ok := e.units.get(target)
	if !ok || target == e.observer {
		return fmt.Errorf("%w: %s", ErrUnknownUnit, target)
	}
	if obs.Energy < amount {
		return fmt.Errorf("%w: requested %.6f, available %.6f",
			ErrInsufficientObserverEnergy, amount, obs.Energy)
	}
	obs.Energy -= amount
	t.Energy += amount

	slog.Debug("observer nudge", "target", target, "amount", amount)
	return nil
}

// TotalEnergy is pool plus every unit's balance.
func (e *Engine) TotalEnergy() float64 {
	total := e.ledger.Pool
	e.units.each(func(u *Unit) { total += u.Energy })
	return total
}

// VerifyEnergy reports whether the conservation law holds right now.
func (e *Engine) VerifyEnergy() bool {
	return laws.Conserved(e.ledger.Baseline, e.TotalEnergy())
}

// VerifyEntropy reports whether total entropy has not fallen below previous.
func (e *Engine) VerifyEntropy(previous float64) bool {
	return laws.NonDecreasing(previous, e.ledger.Entropy)
}

// UnitIDs returns live unit ids in creation order.
func (e *Engine) UnitIDs() []UnitID {
	ids := make([]UnitID, 0, e.units.len())
	e.units.each(func(u *Unit) { ids = append(ids, u.ID) })
	return ids
}

// LinkIDs returns live link ids in creation order.
func (e *Engine) LinkIDs() []LinkID {
	ids := make([]LinkID, 0, e.field.Len())
	e.field.each(func(l *Link) { ids = append(ids, l.ID) })
	return ids
}

// ValidAmount reports whether v is a finite, non-negative energy amount.
func ValidAmount(v float64) bool {
	return v >= 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
