package genesis

import (
	"reflect"
	"testing"

	"github.com/talgya/fieldsim/internal/kernel"
)

func generate(t *testing.T, cfg Config) (*kernel.Engine, Population) {
	t.Helper()
	e, err := kernel.New(1e6)
	if err != nil {
		t.Fatal(err)
	}
	pop, err := Generate(e, cfg)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	return e, pop
}

func TestGenerate(t *testing.T) {
	cfg := Config{Seed: 7, Units: 50, MeanEnergy: 100, LinkDensity: 2}
	e, pop := generate(t, cfg)

	if len(pop.Units) != 50 || e.UnitCount() != 50 {
		t.Fatalf("units = %d, engine has %d", len(pop.Units), e.UnitCount())
	}
	if len(pop.Links) < 50 || len(pop.Links) > 100 {
		t.Errorf("links = %d, want between 50 and 100", len(pop.Links))
	}
	for _, u := range e.Units() {
		if u.Energy < 1 || u.Energy > 200 {
			t.Errorf("unit %s energy %v outside [1, 200]", u.ID, u.Energy)
		}
	}
	for _, l := range e.Links() {
		if l.Coupling < 0.1 || l.Coupling > 0.9 {
			t.Errorf("link %s coupling %v outside [0.1, 0.9]", l.ID, l.Coupling)
		}
	}
	if !e.VerifyEnergy() {
		t.Error("genesis broke conservation")
	}
}

func TestGenerateDeterministic(t *testing.T) {
	cfg := Config{Seed: 99, Units: 30, MeanEnergy: 50, LinkDensity: 3}
	a, _ := generate(t, cfg)
	b, _ := generate(t, cfg)

	sa, sb := a.Export(), b.Export()
	if !reflect.DeepEqual(sa.Units, sb.Units) || !reflect.DeepEqual(sa.Links, sb.Links) {
		t.Error("same seed produced different populations")
	}
}

func TestGenerateStopsOnEmptyPool(t *testing.T) {
	e, err := kernel.New(500)
	if err != nil {
		t.Fatal(err)
	}
	pop, err := Generate(e, Config{Seed: 1, Units: 100, MeanEnergy: 100})
	if err == nil {
		t.Fatal("Generate() succeeded beyond the pool")
	}
	if len(pop.Units) != e.UnitCount() || !e.VerifyEnergy() {
		t.Errorf("partial population inconsistent: %d reported, %d live", len(pop.Units), e.UnitCount())
	}
}
