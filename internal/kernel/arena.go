package kernel

// arena stores values in insertion order behind an id index, so iteration is
// deterministic and lookups are constant time. Removed slots are tombstoned
// and compacted once they outnumber live ones.
type arena[K comparable, V any] struct {
	slots []*V
	index map[K]int
	dead  int
}

func newArena[K comparable, V any]() *arena[K, V] {
	return &arena[K, V]{index: make(map[K]int)}
}

func (a *arena[K, V]) put(k K, v *V) {
	if i, ok := a.index[k]; ok {
		a.slots[i] = v
		return
	}
	a.index[k] = len(a.slots)
	a.slots = append(a.slots, v)
}

func (a *arena[K, V]) get(k K) (*V, bool) {
	i, ok := a.index[k]
	if !ok {
		return nil, false
	}
	return a.slots[i], true
}

// remove must not be called from inside each.
func (a *arena[K, V]) remove(k K, keyOf func(*V) K) (*V, bool) {
	i, ok := a.index[k]
	if !ok {
		return nil, false
	}
	v := a.slots[i]
	a.slots[i] = nil
	delete(a.index, k)
	a.dead++
	if a.dead > 32 && a.dead > len(a.index) {
		a.compact(keyOf)
	}
	return v, true
}

func (a *arena[K, V]) compact(keyOf func(*V) K) {
	live := make([]*V, 0, len(a.index))
	for _, v := range a.slots {
		if v == nil {
			continue
		}
		a.index[keyOf(v)] = len(live)
		live = append(live, v)
	}
	a.slots = live
	a.dead = 0
}

func (a *arena[K, V]) len() int { return len(a.index) }

func (a *arena[K, V]) each(fn func(*V)) {
	for _, v := range a.slots {
		if v != nil {
			fn(v)
		}
	}
}
