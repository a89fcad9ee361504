package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/talgya/fieldsim/internal/kernel"
	"github.com/talgya/fieldsim/internal/persistence"
)

func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("FIELDSIM_CONFIG", "")
	t.Setenv("FIELDSIM_LOG_LEVEL", "error")
	t.Setenv("FIELDSIM_SEED", "7")
}

func TestSimulateHoldsLaws(t *testing.T) {
	e, err := kernel.New(10000, kernel.WithObserver(100))
	if err != nil {
		t.Fatal(err)
	}
	a, _ := e.CreateUnit(60)
	b, _ := e.CreateUnit(20)
	c, _ := e.CreateUnit(5)
	if _, err := e.CreateLink(a, b, 0.5); err != nil {
		t.Fatal(err)
	}
	if _, err := e.CreateLink(b, c, 0.5); err != nil {
		t.Fatal(err)
	}

	res, err := simulate(context.Background(), e, 50, 5, 0.5)
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	if e.Tick() != 50 || res.Last.Tick != 50 {
		t.Errorf("tick = %d, last report %d, want 50", e.Tick(), res.Last.Tick)
	}
	if !e.VerifyEnergy() {
		t.Error("energy not conserved")
	}
	if res.Snapshot.Tick != 50 {
		t.Errorf("snapshot tick = %d", res.Snapshot.Tick)
	}
}

func TestSimulateZeroSteps(t *testing.T) {
	e, _ := kernel.New(100)
	res, err := simulate(context.Background(), e, 0, 0, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	if e.Tick() != 0 || res.Steps != 0 {
		t.Errorf("tick = %d, steps = %d", e.Tick(), res.Steps)
	}
}

func TestSimulateSaveThenInspect(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "sim.db")

	root := newRootCmd()
	root.SetArgs([]string{"simulate", "--steps", "20", "--save", "--db", path})
	if err := root.Execute(); err != nil {
		t.Fatalf("simulate: %v", err)
	}

	db, err := persistence.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	st, err := db.LoadState()
	db.Close()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if st.Tick != 20 {
		t.Errorf("saved tick = %d, want 20", st.Tick)
	}

	root = newRootCmd()
	root.SetArgs([]string{"inspect", "--db", path, "--top", "3"})
	if err := root.Execute(); err != nil {
		t.Fatalf("inspect: %v", err)
	}

	root = newRootCmd()
	root.SetArgs([]string{"simulate", "--steps", "5", "--resume", "--save", "--db", path})
	if err := root.Execute(); err != nil {
		t.Fatalf("resume: %v", err)
	}
	db, _ = persistence.Open(path)
	defer db.Close()
	if st, _ := db.LoadState(); st.Tick != 25 {
		t.Errorf("resumed tick = %d, want 25", st.Tick)
	}
}

func TestInspectMissingDatabase(t *testing.T) {
	isolate(t)
	root := newRootCmd()
	root.SetArgs([]string{"inspect", "--db", filepath.Join(t.TempDir(), "absent.db")})
	if err := root.Execute(); err == nil {
		t.Fatal("expected error for missing database")
	}
}
