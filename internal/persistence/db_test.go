package persistence

import (
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/talgya/fieldsim/internal/kernel"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "fieldsim.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func populated(t *testing.T) *kernel.Engine {
	t.Helper()
	e, err := kernel.New(1000, kernel.WithObserver(40))
	if err != nil {
		t.Fatal(err)
	}
	a, _ := e.CreateUnit(100)
	b, _ := e.CreateUnit(150)
	c, _ := e.CreateUnit(60)
	if _, err := e.CreateLink(a, b, 0.8); err != nil {
		t.Fatal(err)
	}
	if _, err := e.CreateLink(c, b, 0.3); err != nil {
		t.Fatal(err)
	}
	if err := e.SetPayload(a, []byte("carried state")); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 7; i++ {
		e.Step()
	}
	return e
}

func TestSaveLoadState(t *testing.T) {
	db := openTestDB(t)
	e := populated(t)
	want := e.Export()

	if ok, err := db.HasState(); err != nil || ok {
		t.Fatalf("HasState() on empty db = %v, %v", ok, err)
	}
	if err := db.SaveState(want); err != nil {
		t.Fatalf("SaveState() error = %v", err)
	}
	if ok, err := db.HasState(); err != nil || !ok {
		t.Fatalf("HasState() after save = %v, %v", ok, err)
	}

	got, err := db.LoadState()
	if err != nil {
		t.Fatalf("LoadState() error = %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("LoadState() differs from saved state\n got: %+v\nwant: %+v", got, want)
	}

	r, err := kernel.Restore(got)
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if !r.VerifyEnergy() {
		t.Error("restored engine is not conserved")
	}
	data, err := r.Payload(1 + e.ObserverID())
	if err != nil || string(data) != "carried state" {
		t.Errorf("payload after reload = %q, %v", data, err)
	}
}

func TestSaveStateReplaces(t *testing.T) {
	db := openTestDB(t)
	e := populated(t)
	if err := db.SaveState(e.Export()); err != nil {
		t.Fatal(err)
	}
	for _, id := range e.UnitIDs() {
		if id != e.ObserverID() {
			if _, err := e.DestroyUnit(id); err != nil {
				t.Fatal(err)
			}
		}
	}
	if err := db.SaveState(e.Export()); err != nil {
		t.Fatal(err)
	}
	got, err := db.LoadState()
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Units) != 1 || len(got.Links) != 0 {
		t.Errorf("after replace: %d units, %d links, want 1, 0", len(got.Units), len(got.Links))
	}
}

func TestLoadStateEmpty(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.LoadState(); !errors.Is(err, ErrNoState) {
		t.Errorf("LoadState() error = %v, want ErrNoState", err)
	}
}

func TestHistory(t *testing.T) {
	db := openTestDB(t)
	e := populated(t)
	for i := 0; i < 5; i++ {
		if err := db.RecordStep(e.Step()); err != nil {
			t.Fatalf("RecordStep() error = %v", err)
		}
	}

	rows, err := db.History(3)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("History(3) returned %d rows", len(rows))
	}
	if rows[0].Tick != e.Tick() || rows[2].Tick != e.Tick()-2 {
		t.Errorf("ticks = %d..%d, want newest first", rows[0].Tick, rows[2].Tick)
	}
	if rows[0].Units != e.UnitCount() {
		t.Errorf("units = %d, want %d", rows[0].Units, e.UnitCount())
	}
}

func TestMeta(t *testing.T) {
	db := openTestDB(t)
	if err := db.SaveMeta("config", "a"); err != nil {
		t.Fatal(err)
	}
	if err := db.SaveMeta("config", "b"); err != nil {
		t.Fatal(err)
	}
	if v, err := db.GetMeta("config"); err != nil || v != "b" {
		t.Errorf("GetMeta() = %q, %v", v, err)
	}
}
