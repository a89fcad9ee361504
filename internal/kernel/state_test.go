package kernel

import (
	"errors"
	"reflect"
	"testing"
)

func TestExportRestore(t *testing.T) {
	e := newTestEngine(t, 1000, WithObserver(25))
	a := mustUnit(t, e, 100)
	b := mustUnit(t, e, 150)
	c := mustUnit(t, e, 60)
	mustLink(t, e, a, b, 0.8)
	mustLink(t, e, b, c, 0.4)
	if err := e.SetPayload(c, []byte("opaque")); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		e.Step()
	}

	s := e.Export()
	r, err := Restore(s)
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if !reflect.DeepEqual(r.Export(), s) {
		t.Error("restored engine exports a different state")
	}
	if r.ObserverID() != e.ObserverID() || r.Tick() != e.Tick() || r.ID() != e.ID() {
		t.Error("restored engine lost identity fields")
	}

	// Both engines evolve identically from here.
	for i := 0; i < 5; i++ {
		e.Step()
		r.Step()
	}
	if !reflect.DeepEqual(r.Export(), e.Export()) {
		t.Error("restored engine diverged")
	}

	next, err := r.CreateUnit(1)
	if err != nil {
		t.Fatal(err)
	}
	if next <= c {
		t.Errorf("restored engine reused id %s", next)
	}
}

func TestRestoreRejectsCorruptState(t *testing.T) {
	e := newTestEngine(t, 1000)
	a := mustUnit(t, e, 100)
	b := mustUnit(t, e, 100)
	mustLink(t, e, a, b, 0.5)
	good := e.Export()

	tests := []struct {
		name   string
		mutate func(*State)
	}{
		{"energy drift", func(s *State) { s.Units[0].Energy += 5 }},
		{"dangling link", func(s *State) { s.Links[0].Target = 99 }},
		{"self link", func(s *State) { s.Links[0].Target = s.Links[0].Source }},
		{"duplicate unit", func(s *State) { s.Units[1].ID = s.Units[0].ID }},
		{"id past counter", func(s *State) { s.NextUnit = 1 }},
		{"bad coupling", func(s *State) { s.Links[0].Coupling = 2 }},
		{"ghost observer", func(s *State) { s.Observer = 42 }},
		{"linked observer", func(s *State) { s.Observer = s.Links[0].Source }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := good
			s.Units = append([]UnitRecord(nil), good.Units...)
			s.Links = append([]LinkRecord(nil), good.Links...)
			tt.mutate(&s)
			if _, err := Restore(s); !errors.Is(err, ErrInvalidState) {
				t.Errorf("Restore() error = %v, want ErrInvalidState", err)
			}
		})
	}
}
