package kernel

import (
	"fmt"
	"math"
	"slices"

	"github.com/google/uuid"

	"github.com/talgya/fieldsim/internal/laws"
)

// UnitRecord is the persisted form of a unit, payload included in its
// encoded form.
type UnitRecord struct {
	ID          UnitID  `json:"id" db:"id"`
	Energy      float64 `json:"energy" db:"energy"`
	Entropy     float64 `json:"entropy" db:"entropy"`
	Stability   float64 `json:"stability" db:"stability"`
	LocalTick   uint64  `json:"local_tick" db:"local_tick"`
	LocalTime   float64 `json:"local_time" db:"local_time"`
	BornTick    uint64  `json:"born_tick" db:"born_tick"`
	EvolvedTick uint64  `json:"evolved_tick" db:"evolved_tick"`
	Payload     []byte  `json:"payload,omitempty" db:"payload"`
	PayloadSize int     `json:"payload_size" db:"payload_size"`
}

// LinkRecord is the persisted form of a link.
type LinkRecord struct {
	ID          LinkID  `json:"id" db:"id"`
	Source      UnitID  `json:"source" db:"source"`
	Target      UnitID  `json:"target" db:"target"`
	Coupling    float64 `json:"coupling" db:"coupling"`
	Momentum    float64 `json:"momentum" db:"momentum"`
	Decay       float64 `json:"decay" db:"decay"`
	Age         uint64  `json:"age" db:"age"`
	Transferred float64 `json:"transferred" db:"transferred"`
}

// State is a lossless snapshot of an engine.
type State struct {
	EngineID        uuid.UUID    `json:"engine_id"`
	Tick            uint64       `json:"tick"`
	Ledger          Ledger       `json:"ledger"`
	NextUnit        UnitID       `json:"next_unit"`
	NextLink        LinkID       `json:"next_link"`
	Observer        UnitID       `json:"observer"`
	RetireThreshold float64      `json:"retire_threshold"`
	DefaultDecay    float64      `json:"default_decay"`
	Units           []UnitRecord `json:"units"`
	Links           []LinkRecord `json:"links"`
}

// Export captures the full engine state.
func (e *Engine) Export() State {
	s := State{
		EngineID:        e.id,
		Tick:            e.tick,
		Ledger:          e.ledger,
		NextUnit:        e.nextUnit,
		NextLink:        e.nextLink,
		Observer:        e.observer,
		RetireThreshold: e.retireThreshold,
		DefaultDecay:    e.defaultDecay,
		Units:           make([]UnitRecord, 0, e.units.len()),
		Links:           make([]LinkRecord, 0, e.field.Len()),
	}
	e.units.each(func(u *Unit) {
		s.Units = append(s.Units, UnitRecord{
			ID:          u.ID,
			Energy:      u.Energy,
			Entropy:     u.Entropy,
			Stability:   u.Stability,
			LocalTick:   u.LocalTick,
			LocalTime:   u.LocalTime,
			BornTick:    u.BornTick,
			EvolvedTick: u.EvolvedTick,
			Payload:     slices.Clone(u.payload),
			PayloadSize: u.payloadSize,
		})
	})
	e.field.each(func(l *Link) {
		s.Links = append(s.Links, LinkRecord{
			ID:          l.ID,
			Source:      l.Source,
			Target:      l.Target,
			Coupling:    l.Coupling,
			Momentum:    l.Momentum,
			Decay:       l.Decay,
			Age:         l.Age,
			Transferred: l.Transferred,
		})
	})
	return s
}

// Restore rebuilds an engine from a snapshot. The snapshot must satisfy
// every invariant; a corrupt one is rejected with ErrInvalidState.
// Only WithCodec is honored from opts; everything else comes from s.
func Restore(s State, opts ...Option) (*Engine, error) {
	c := defaults(opts)
	if s.EngineID == uuid.Nil {
		s.EngineID = c.id
	}
	if err := s.validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		id:              s.EngineID,
		ledger:          s.Ledger,
		units:           newArena[UnitID, Unit](),
		field:           newField(),
		nextUnit:        s.NextUnit,
		nextLink:        s.NextLink,
		tick:            s.Tick,
		observer:        s.Observer,
		retireThreshold: s.RetireThreshold,
		defaultDecay:    s.DefaultDecay,
		codec:           c.codec,
	}

	units := slices.Clone(s.Units)
	slices.SortFunc(units, func(a, b UnitRecord) int { return cmpID(a.ID, b.ID) })
	for _, r := range units {
		e.units.put(r.ID, &Unit{
			ID:          r.ID,
			Energy:      r.Energy,
			Entropy:     r.Entropy,
			Stability:   r.Stability,
			LocalTick:   r.LocalTick,
			LocalTime:   r.LocalTime,
			BornTick:    r.BornTick,
			EvolvedTick: r.EvolvedTick,
			payload:     slices.Clone(r.Payload),
			payloadSize: r.PayloadSize,
		})
	}

	links := slices.Clone(s.Links)
	slices.SortFunc(links, func(a, b LinkRecord) int { return cmpID(a.ID, b.ID) })
	for _, r := range links {
		e.field.add(&Link{
			ID:          r.ID,
			Source:      r.Source,
			Target:      r.Target,
			Coupling:    r.Coupling,
			Momentum:    r.Momentum,
			Decay:       r.Decay,
			Age:         r.Age,
			Transferred: r.Transferred,
		})
	}
	return e, nil
}

func cmpID[T ~uint64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func (s State) validate() error {
	bad := func(format string, args ...any) error {
		return fmt.Errorf("%w: "+format, append([]any{ErrInvalidState}, args...)...)
	}

	if s.Ledger.Pool < 0 || s.Ledger.Entropy < 0 || math.IsNaN(s.Ledger.Pool) {
		return bad("ledger %+v", s.Ledger)
	}
	if s.RetireThreshold < 0 || s.RetireThreshold > 1 {
		return bad("retirement threshold %v", s.RetireThreshold)
	}
	if s.DefaultDecay < 0 || s.DefaultDecay >= 1 {
		return bad("default decay %v", s.DefaultDecay)
	}

	total := s.Ledger.Pool
	seen := make(map[UnitID]bool, len(s.Units))
	for _, u := range s.Units {
		if u.ID == 0 || u.ID >= s.NextUnit || seen[u.ID] {
			return bad("unit id %s", u.ID)
		}
		seen[u.ID] = true
		if u.Energy < 0 || u.Entropy < 0 || u.Stability < 0 || u.Stability > 1 {
			return bad("unit %s fields out of range", u.ID)
		}
		total += u.Energy
	}
	if s.Observer != 0 && !seen[s.Observer] {
		return bad("observer %s is not a live unit", s.Observer)
	}
	if err := laws.CheckConservation(s.Ledger.Baseline, total); err != nil {
		return bad("%v", err)
	}

	links := make(map[LinkID]bool, len(s.Links))
	for _, l := range s.Links {
		if l.ID == 0 || l.ID >= s.NextLink || links[l.ID] {
			return bad("link id %s", l.ID)
		}
		links[l.ID] = true
		if !seen[l.Source] || !seen[l.Target] || l.Source == l.Target {
			return bad("link %s endpoints %s-%s", l.ID, l.Source, l.Target)
		}
		if s.Observer != 0 && (l.Source == s.Observer || l.Target == s.Observer) {
			return bad("link %s touches observer %s", l.ID, s.Observer)
		}
		if l.Coupling < 0 || l.Coupling > 1 || l.Decay < 0 || l.Decay >= 1 {
			return bad("link %s fields out of range", l.ID)
		}
	}
	return nil
}
