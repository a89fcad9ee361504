// Package persistence stores engine snapshots and step history in SQLite.
package persistence

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/fieldsim/internal/kernel"
)

// ErrNoState is returned by LoadState on an empty database.
var ErrNoState = errors.New("no saved state")

// DB wraps a SQLite connection for engine persistence.
type DB struct {
	conn *sqlx.DB
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One writer; sqlite serializes anyway.
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS units (
		id INTEGER PRIMARY KEY,
		energy REAL NOT NULL,
		entropy REAL NOT NULL,
		stability REAL NOT NULL,
		local_tick INTEGER NOT NULL,
		local_time REAL NOT NULL,
		born_tick INTEGER NOT NULL,
		evolved_tick INTEGER NOT NULL,
		payload BLOB,
		payload_size INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS links (
		id INTEGER PRIMARY KEY,
		source INTEGER NOT NULL,
		target INTEGER NOT NULL,
		coupling REAL NOT NULL,
		momentum REAL NOT NULL,
		decay REAL NOT NULL,
		age INTEGER NOT NULL,
		transferred REAL NOT NULL
	);

	CREATE TABLE IF NOT EXISTS ledger (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		engine_id TEXT NOT NULL,
		tick INTEGER NOT NULL,
		pool REAL NOT NULL,
		entropy REAL NOT NULL,
		baseline REAL NOT NULL,
		next_unit INTEGER NOT NULL,
		next_link INTEGER NOT NULL,
		observer INTEGER NOT NULL,
		retire_threshold REAL NOT NULL,
		default_decay REAL NOT NULL,
		saved_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS step_history (
		tick INTEGER PRIMARY KEY,
		units INTEGER NOT NULL,
		links INTEGER NOT NULL,
		transferred REAL NOT NULL,
		evolved INTEGER NOT NULL,
		retired INTEGER NOT NULL,
		pool REAL NOT NULL,
		entropy REAL NOT NULL,
		recorded_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_links_source ON links(source);
	CREATE INDEX IF NOT EXISTS idx_links_target ON links(target);
	`
	_, err := db.conn.Exec(schema)
	return err
}

type ledgerRow struct {
	EngineID        string  `db:"engine_id"`
	Tick            uint64  `db:"tick"`
	Pool            float64 `db:"pool"`
	Entropy         float64 `db:"entropy"`
	Baseline        float64 `db:"baseline"`
	NextUnit        uint64  `db:"next_unit"`
	NextLink        uint64  `db:"next_link"`
	Observer        uint64  `db:"observer"`
	RetireThreshold float64 `db:"retire_threshold"`
	DefaultDecay    float64 `db:"default_decay"`
	SavedAt         string  `db:"saved_at"`
}

// SaveState replaces the stored snapshot with s in one transaction.
func (db *DB) SaveState(s kernel.State) error {
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, table := range []string{"units", "links", "ledger"} {
		if _, err := tx.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	_, err = tx.NamedExec(`INSERT INTO ledger
		(id, engine_id, tick, pool, entropy, baseline, next_unit, next_link,
		 observer, retire_threshold, default_decay, saved_at)
		VALUES (1, :engine_id, :tick, :pool, :entropy, :baseline, :next_unit, :next_link,
		 :observer, :retire_threshold, :default_decay, :saved_at)`,
		ledgerRow{
			EngineID:        s.EngineID.String(),
			Tick:            s.Tick,
			Pool:            s.Ledger.Pool,
			Entropy:         s.Ledger.Entropy,
			Baseline:        s.Ledger.Baseline,
			NextUnit:        uint64(s.NextUnit),
			NextLink:        uint64(s.NextLink),
			Observer:        uint64(s.Observer),
			RetireThreshold: s.RetireThreshold,
			DefaultDecay:    s.DefaultDecay,
			SavedAt:         time.Now().UTC().Format(time.RFC3339),
		})
	if err != nil {
		return fmt.Errorf("insert ledger: %w", err)
	}

	unitStmt, err := tx.Preparex(`INSERT INTO units
		(id, energy, entropy, stability, local_tick, local_time, born_tick,
		 evolved_tick, payload, payload_size)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer unitStmt.Close()

	for _, u := range s.Units {
		_, err := unitStmt.Exec(
			uint64(u.ID), u.Energy, u.Entropy, u.Stability, u.LocalTick, u.LocalTime,
			u.BornTick, u.EvolvedTick, u.Payload, u.PayloadSize,
		)
		if err != nil {
			return fmt.Errorf("insert unit %s: %w", u.ID, err)
		}
	}

	linkStmt, err := tx.Preparex(`INSERT INTO links
		(id, source, target, coupling, momentum, decay, age, transferred)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer linkStmt.Close()

	for _, l := range s.Links {
		_, err := linkStmt.Exec(
			uint64(l.ID), uint64(l.Source), uint64(l.Target),
			l.Coupling, l.Momentum, l.Decay, l.Age, l.Transferred,
		)
		if err != nil {
			return fmt.Errorf("insert link %s: %w", l.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	slog.Debug("engine state saved", "tick", s.Tick, "units", len(s.Units), "links", len(s.Links))
	return nil
}

// HasState reports whether a snapshot has been saved.
func (db *DB) HasState() (bool, error) {
	var n int
	if err := db.conn.Get(&n, "SELECT COUNT(*) FROM ledger"); err != nil {
		return false, err
	}
	return n > 0, nil
}

// LoadState reads the stored snapshot. Units and links come back in id
// order, which is creation order.
func (db *DB) LoadState() (kernel.State, error) {
	var row ledgerRow
	err := db.conn.Get(&row, `SELECT engine_id, tick, pool, entropy, baseline, next_unit,
		next_link, observer, retire_threshold, default_decay, saved_at
		FROM ledger WHERE id = 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return kernel.State{}, ErrNoState
	}
	if err != nil {
		return kernel.State{}, fmt.Errorf("load ledger: %w", err)
	}
	id, err := uuid.Parse(row.EngineID)
	if err != nil {
		return kernel.State{}, fmt.Errorf("parse engine id: %w", err)
	}

	s := kernel.State{
		EngineID: id,
		Tick:     row.Tick,
		Ledger: kernel.Ledger{
			Pool:     row.Pool,
			Entropy:  row.Entropy,
			Baseline: row.Baseline,
		},
		NextUnit:        kernel.UnitID(row.NextUnit),
		NextLink:        kernel.LinkID(row.NextLink),
		Observer:        kernel.UnitID(row.Observer),
		RetireThreshold: row.RetireThreshold,
		DefaultDecay:    row.DefaultDecay,
	}
	if err := db.conn.Select(&s.Units, `SELECT id, energy, entropy, stability, local_tick,
		local_time, born_tick, evolved_tick, payload, payload_size
		FROM units ORDER BY id`); err != nil {
		return kernel.State{}, fmt.Errorf("load units: %w", err)
	}
	if err := db.conn.Select(&s.Links, `SELECT id, source, target, coupling, momentum,
		decay, age, transferred FROM links ORDER BY id`); err != nil {
		return kernel.State{}, fmt.Errorf("load links: %w", err)
	}
	if s.Units == nil {
		s.Units = []kernel.UnitRecord{}
	}
	if s.Links == nil {
		s.Links = []kernel.LinkRecord{}
	}
	return s, nil
}

// SaveMeta stores a key-value pair.
func (db *DB) SaveMeta(key, value string) error {
	_, err := db.conn.Exec(
		"INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta retrieves a metadata value.
func (db *DB) GetMeta(key string) (string, error) {
	var value string
	err := db.conn.Get(&value, "SELECT value FROM meta WHERE key = ?", key)
	return value, err
}
