package kernel

import (
	"math"
	"slices"
)

// Field is the relation field: every live link, indexed by id and by the
// units it touches. Touching lists are kept in link creation order so
// aggregate sums are deterministic.
type Field struct {
	links    *arena[LinkID, Link]
	touching map[UnitID][]LinkID
}

func newField() *Field {
	return &Field{
		links:    newArena[LinkID, Link](),
		touching: make(map[UnitID][]LinkID),
	}
}

// Len returns the number of live links.
func (f *Field) Len() int { return f.links.len() }

func (f *Field) get(id LinkID) (*Link, bool) { return f.links.get(id) }

// Link returns a copy of the link with the given id.
func (f *Field) Link(id LinkID) (LinkView, bool) {
	l, ok := f.links.get(id)
	if !ok {
		return LinkView{}, false
	}
	return l.view(), true
}

func (f *Field) add(l *Link) {
	f.links.put(l.ID, l)
	f.touching[l.Source] = append(f.touching[l.Source], l.ID)
	f.touching[l.Target] = append(f.touching[l.Target], l.ID)
}

func (f *Field) remove(id LinkID) (*Link, bool) {
	l, ok := f.links.remove(id, linkKey)
	if !ok {
		return nil, false
	}
	f.untouch(l.Source, id)
	f.untouch(l.Target, id)
	return l, true
}

func (f *Field) untouch(u UnitID, id LinkID) {
	ids := f.touching[u]
	if i := slices.Index(ids, id); i >= 0 {
		ids = slices.Delete(ids, i, i+1)
	}
	if len(ids) == 0 {
		delete(f.touching, u)
		return
	}
	f.touching[u] = ids
}

// detach removes every link touching u and returns them.
func (f *Field) detach(u UnitID) []*Link {
	ids := slices.Clone(f.touching[u])
	removed := make([]*Link, 0, len(ids))
	for _, id := range ids {
		if l, ok := f.remove(id); ok {
			removed = append(removed, l)
		}
	}
	return removed
}

// Touching returns the ids of the links touching u.
func (f *Field) Touching(u UnitID) []LinkID {
	return slices.Clone(f.touching[u])
}

// Degree returns how many links touch u.
func (f *Field) Degree(u UnitID) int { return len(f.touching[u]) }

// Density is the interaction density of u, its degree as a float.
func (f *Field) Density(u UnitID) float64 { return float64(f.Degree(u)) }

// Pressure is Σ coupling*|momentum| over the links touching u.
func (f *Field) Pressure(u UnitID) float64 {
	p := 0.0
	for _, id := range f.touching[u] {
		if l, ok := f.links.get(id); ok {
			p += l.Coupling * math.Abs(l.Momentum)
		}
	}
	return p
}

// Neighbors returns the units one link away from u, in link order.
// A unit joined by several links appears once.
func (f *Field) Neighbors(u UnitID) []UnitID {
	var out []UnitID
	for _, id := range f.touching[u] {
		l, ok := f.links.get(id)
		if !ok {
			continue
		}
		n := l.other(u)
		if !slices.Contains(out, n) {
			out = append(out, n)
		}
	}
	return out
}

// Path finds the shortest chain of links from a to b (breadth first).
// The empty path is returned for a == b.
func (f *Field) Path(a, b UnitID) ([]LinkID, bool) {
	if a == b {
		return []LinkID{}, true
	}
	type hop struct {
		unit UnitID
		via  LinkID
		prev int
	}
	queue := []hop{{unit: a, prev: -1}}
	seen := map[UnitID]bool{a: true}
	for i := 0; i < len(queue); i++ {
		cur := queue[i]
		for _, id := range f.touching[cur.unit] {
			l, ok := f.links.get(id)
			if !ok {
				continue
			}
			n := l.other(cur.unit)
			if seen[n] {
				continue
			}
			seen[n] = true
			queue = append(queue, hop{unit: n, via: id, prev: i})
			if n == b {
				var path []LinkID
				for at := len(queue) - 1; at > 0; at = queue[at].prev {
					path = append(path, queue[at].via)
				}
				slices.Reverse(path)
				return path, true
			}
		}
	}
	return nil, false
}

func (f *Field) each(fn func(*Link)) { f.links.each(fn) }
