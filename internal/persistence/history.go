package persistence

import (
	"time"

	"github.com/talgya/fieldsim/internal/kernel"
)

// StepRow is one recorded step summary.
type StepRow struct {
	Tick        uint64  `db:"tick" json:"tick"`
	Units       int     `db:"units" json:"units"`
	Links       int     `db:"links" json:"links"`
	Transferred float64 `db:"transferred" json:"transferred"`
	Evolved     int     `db:"evolved" json:"evolved"`
	Retired     int     `db:"retired" json:"retired"`
	Pool        float64 `db:"pool" json:"pool_energy"`
	Entropy     float64 `db:"entropy" json:"total_entropy"`
	RecordedAt  string  `db:"recorded_at" json:"recorded_at"`
}

// RecordStep appends a step report to the history. Re-recording a tick
// overwrites it, which happens after a restore from an older snapshot.
func (db *DB) RecordStep(r kernel.Report) error {
	_, err := db.conn.Exec(`INSERT OR REPLACE INTO step_history
		(tick, units, links, transferred, evolved, retired, pool, entropy, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Tick, r.Units, r.Links, r.Transferred, len(r.Evolved), len(r.Retired),
		r.Pool, r.Entropy, time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// History returns the most recent limit step rows, newest first.
func (db *DB) History(limit int) ([]StepRow, error) {
	var rows []StepRow
	err := db.conn.Select(&rows, `SELECT tick, units, links, transferred, evolved,
		retired, pool, entropy, recorded_at
		FROM step_history ORDER BY tick DESC LIMIT ?`, limit)
	return rows, err
}
