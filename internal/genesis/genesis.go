// Package genesis seeds an engine with a population laid out on a
// phyllotaxis spiral, with energies and couplings drawn from layered
// simplex noise.
package genesis

import (
	"cmp"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"slices"

	opensimplex "github.com/ojrac/opensimplex-go"

	"github.com/talgya/fieldsim/internal/kernel"
)

// goldenAngle in radians spaces successive units evenly on the spiral.
var goldenAngle = math.Pi * (3 - math.Sqrt(5))

// Config holds generation parameters.
type Config struct {
	Seed        int64   // 0 = random
	Units       int     // population size
	MeanEnergy  float64 // energies fall in [1, 2*MeanEnergy]
	LinkDensity float64 // links each unit opens to its nearest neighbors
}

// Population lists what Generate created, in creation order.
type Population struct {
	Seed  int64
	Units []kernel.UnitID
	Links []kernel.LinkID
}

type site struct {
	id   kernel.UnitID
	x, y float64
}

// Generate creates cfg.Units units and links them to nearby units.
// It stops at the first kernel error, leaving what was already created.
func Generate(e *kernel.Engine, cfg Config) (Population, error) {
	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Int63()
	}
	pop := Population{Seed: seed}

	energyNoise := opensimplex.NewNormalized(seed)
	couplingNoise := opensimplex.NewNormalized(seed + 1)

	sites := make([]site, 0, cfg.Units)
	for i := 0; i < cfg.Units; i++ {
		r := math.Sqrt(float64(i) + 0.5)
		theta := float64(i) * goldenAngle
		x, y := r*math.Cos(theta), r*math.Sin(theta)

		energy := math.Max(1, 2*cfg.MeanEnergy*octaveNoise(energyNoise, x, y, 3, 0.15, 0.5))
		id, err := e.CreateUnit(energy)
		if err != nil {
			return pop, fmt.Errorf("create unit %d: %w", i, err)
		}
		sites = append(sites, site{id: id, x: x, y: y})
		pop.Units = append(pop.Units, id)
	}

	per := int(math.Round(cfg.LinkDensity))
	linked := make(map[[2]kernel.UnitID]bool)
	for _, s := range sites {
		for _, n := range nearest(s, sites, per) {
			key := [2]kernel.UnitID{min(s.id, n.id), max(s.id, n.id)}
			if linked[key] {
				continue
			}
			linked[key] = true

			mx, my := (s.x+n.x)/2, (s.y+n.y)/2
			coupling := 0.1 + 0.8*octaveNoise(couplingNoise, mx, my, 2, 0.2, 0.5)
			id, err := e.CreateLink(s.id, n.id, coupling)
			if err != nil {
				return pop, fmt.Errorf("link %s-%s: %w", s.id, n.id, err)
			}
			pop.Links = append(pop.Links, id)
		}
	}

	slog.Info("genesis complete", "seed", seed, "units", len(pop.Units), "links", len(pop.Links))
	return pop, nil
}

// nearest returns the k sites closest to s, excluding s itself.
func nearest(s site, sites []site, k int) []site {
	if k <= 0 {
		return nil
	}
	others := make([]site, 0, len(sites)-1)
	for _, o := range sites {
		if o.id != s.id {
			others = append(others, o)
		}
	}
	dist := func(o site) float64 { return math.Hypot(o.x-s.x, o.y-s.y) }
	slices.SortStableFunc(others, func(a, b site) int { return cmp.Compare(dist(a), dist(b)) })
	if len(others) > k {
		others = others[:k]
	}
	return others
}

// octaveNoise layers several frequencies of normalized noise; the result
// stays in [0, 1].
func octaveNoise(noise opensimplex.Noise, x, y float64, octaves int, frequency, persistence float64) float64 {
	total := 0.0
	amplitude := 1.0
	maxVal := 0.0

	for i := 0; i < octaves; i++ {
		total += noise.Eval2(x*frequency, y*frequency) * amplitude
		maxVal += amplitude
		amplitude *= persistence
		frequency *= 2
	}

	return total / maxVal
}
