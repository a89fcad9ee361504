package observer

import (
	"github.com/talgya/fieldsim/internal/kernel"
)

// Health levels, most severe first.
const (
	Critical = "CRITICAL"
	Warning  = "WARNING"
	Watch    = "WATCH"
	Healthy  = "HEALTHY"
)

// Health holds diagnostic signals derived from a snapshot and the at-risk set.
type Health struct {
	AtRisk         int     `json:"at_risk"`
	AtRiskFraction float64 `json:"at_risk_fraction"`
	HotSpots       int     `json:"hot_spots"`
	Isolated       int     `json:"isolated"`
	EntropyGrowth  float64 `json:"entropy_growth"`
	Level          string  `json:"level"`
}

// Triage grades the engine. prev is the previous cycle's snapshot, or nil.
func Triage(snap Snapshot, atRisk []kernel.UnitID, suggestions []Suggestion, prev *Snapshot) Health {
	h := Health{AtRisk: len(atRisk)}
	if snap.UnitCount > 0 {
		h.AtRiskFraction = float64(h.AtRisk) / float64(snap.UnitCount)
	}
	for _, s := range suggestions {
		switch s.Kind {
		case HighEntropy:
			h.HotSpots++
		case Isolated:
			h.Isolated++
		}
	}
	if prev != nil {
		h.EntropyGrowth = snap.Entropy - prev.Entropy
	}

	switch {
	case h.AtRiskFraction > 0.5:
		h.Level = Critical
	case h.AtRiskFraction > 0.2:
		h.Level = Warning
	case h.AtRisk > 0 || h.HotSpots > 0:
		h.Level = Watch
	default:
		h.Level = Healthy
	}
	return h
}
