package observer

import (
	"fmt"
	"strings"

	"github.com/talgya/fieldsim/internal/kernel"
)

const maxRecords = 10

// CycleRecord captures what happened in a single guidance cycle.
type CycleRecord struct {
	Tick          uint64        `json:"tick"`
	Action        string        `json:"action"`
	Target        kernel.UnitID `json:"target,omitempty"`
	Amount        float64       `json:"amount,omitempty"`
	MeanStability float64       `json:"mean_stability"`
	Level         string        `json:"level"`
	Rationale     string        `json:"rationale,omitempty"`
}

// CycleMemory keeps the most recent cycle records.
type CycleMemory struct {
	Records []CycleRecord `json:"records"`
}

// Record adds a cycle record, trimming to maxRecords.
func (m *CycleMemory) Record(r CycleRecord) {
	m.Records = append(m.Records, r)
	if len(m.Records) > maxRecords {
		m.Records = m.Records[len(m.Records)-maxRecords:]
	}
}

// Last returns the newest record, if any.
func (m *CycleMemory) Last() (CycleRecord, bool) {
	if len(m.Records) == 0 {
		return CycleRecord{}, false
	}
	return m.Records[len(m.Records)-1], true
}

// String summarizes the last few cycles, one per line.
func (m *CycleMemory) String() string {
	var b strings.Builder
	for _, r := range m.Records {
		fmt.Fprintf(&b, "tick %d: action=%s level=%s stability=%.3f", r.Tick, r.Action, r.Level, r.MeanStability)
		if r.Action == ActionNudge {
			fmt.Fprintf(&b, " target=%s amount=%.3f", r.Target, r.Amount)
		}
		b.WriteString("\n")
	}
	return b.String()
}
