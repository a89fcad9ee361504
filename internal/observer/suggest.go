package observer

import (
	"github.com/talgya/fieldsim/internal/kernel"
	"github.com/talgya/fieldsim/internal/laws"
)

// Suggestion kinds.
const (
	HighEntropy = "high_entropy"
	Isolated    = "isolated"
)

// Suggestion points an operator at a unit worth attention.
type Suggestion struct {
	Kind   string        `json:"kind"`
	Unit   kernel.UnitID `json:"unit"`
	Value  float64       `json:"value"`
	Advice string        `json:"advice"`
}

// Suggest lists entropy hot spots and well-funded units with no links.
func Suggest(e *kernel.Engine) []Suggestion {
	var out []Suggestion
	for _, u := range e.Units() {
		if u.Observer {
			continue
		}
		if u.Entropy > laws.HighEntropy {
			out = append(out, Suggestion{
				Kind:   HighEntropy,
				Unit:   u.ID,
				Value:  u.Entropy,
				Advice: "consider branching or isolating",
			})
		}
		if len(u.Links) == 0 && u.Energy > laws.IsolatedEnergy {
			out = append(out, Suggestion{
				Kind:   Isolated,
				Unit:   u.ID,
				Value:  u.Energy,
				Advice: "consider linking to a neighbor",
			})
		}
	}
	return out
}
