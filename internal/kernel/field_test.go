package kernel

import (
	"slices"
	"testing"
)

func TestFieldNeighborsAndDensity(t *testing.T) {
	e := newTestEngine(t, 1000)
	a := mustUnit(t, e, 10)
	b := mustUnit(t, e, 10)
	c := mustUnit(t, e, 10)
	mustLink(t, e, a, b, 0.5)
	mustLink(t, e, c, a, 0.5)
	mustLink(t, e, b, a, 0.5)

	f := e.Field()
	if got := f.Neighbors(a); !slices.Equal(got, []UnitID{b, c}) {
		t.Errorf("Neighbors(%s) = %v, want [%s %s]", a, got, b, c)
	}
	if got := f.Density(a); got != 3 {
		t.Errorf("Density(%s) = %v, want 3", a, got)
	}
	if got := f.Degree(c); got != 1 {
		t.Errorf("Degree(%s) = %v, want 1", c, got)
	}
}

func TestFieldPath(t *testing.T) {
	e := newTestEngine(t, 1000)
	u := make([]UnitID, 4)
	for i := range u {
		u[i] = mustUnit(t, e, 10)
	}
	l1 := mustLink(t, e, u[0], u[1], 0.5)
	l2 := mustLink(t, e, u[1], u[2], 0.5)

	path, ok := e.Field().Path(u[0], u[2])
	if !ok || !slices.Equal(path, []LinkID{l1, l2}) {
		t.Errorf("Path() = %v, %v, want [%s %s]", path, ok, l1, l2)
	}
	if _, ok := e.Field().Path(u[0], u[3]); ok {
		t.Error("Path() found a route to an isolated unit")
	}
	if path, ok := e.Field().Path(u[2], u[2]); !ok || len(path) != 0 {
		t.Errorf("Path(self) = %v, %v", path, ok)
	}
}

func TestFieldPressure(t *testing.T) {
	e := newTestEngine(t, 1000)
	a := mustUnit(t, e, 10)
	b := mustUnit(t, e, 10)
	c := mustUnit(t, e, 10)
	ab := mustLink(t, e, a, b, 0.5)
	ac := mustLink(t, e, a, c, 0.25)

	l, _ := e.field.get(ab)
	l.Momentum = -4
	l, _ = e.field.get(ac)
	l.Momentum = 2

	if got := e.Field().Pressure(a); got != 0.5*4+0.25*2 {
		t.Errorf("Pressure(a) = %v, want 2.5", got)
	}
	if got := e.Field().Pressure(c); got != 0.5 {
		t.Errorf("Pressure(c) = %v, want 0.5", got)
	}
}

func TestArenaCompaction(t *testing.T) {
	e := newTestEngine(t, 1e6)
	var ids []UnitID
	for i := 0; i < 200; i++ {
		ids = append(ids, mustUnit(t, e, 1))
	}
	for _, id := range ids[:150] {
		if _, err := e.DestroyUnit(id); err != nil {
			t.Fatal(err)
		}
	}
	if got := e.UnitIDs(); !slices.Equal(got, ids[150:]) {
		t.Errorf("UnitIDs() after compaction = %v", got)
	}
	for _, id := range ids[150:] {
		if _, ok := e.Unit(id); !ok {
			t.Errorf("unit %s lost by compaction", id)
		}
	}
}
