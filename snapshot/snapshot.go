// Package snapshot stores reconstructed contrasts in a SQLite database,
// one row per DBIM update, grouped by run.
package snapshot

import (
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when no snapshot matches a query
var ErrNotFound = errors.New("snapshot not found")

// Store wraps a SQLite connection for contrast snapshots.
type Store struct {
	conn *sqlx.DB
}

// Run describes one stored inversion
type Run struct {
	ID      string `db:"id"`
	Created int64  `db:"created"` // Unix seconds
	Config  string `db:"config"`  // YAML of the run configuration
}

// Snapshot is the global contrast after one update
type Snapshot struct {
	RunID     string  `db:"run_id"`
	Pass      int     `db:"pass"`
	Iteration int     `db:"iteration"`
	Source    int     `db:"source"`
	DBIMError float64 `db:"dbim_error"`
	CGError   float64 `db:"cg_error"`
	Size      int     `db:"size"`
	Data      []byte  `db:"contrast"`
}

// Open opens or creates a snapshot database at path
func Open(path string) (*Store, error) {
	conn, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	s := &Store{conn: conn}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.conn.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		created INTEGER NOT NULL,
		config TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS snapshots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL REFERENCES runs(id),
		pass INTEGER NOT NULL,
		iteration INTEGER NOT NULL,
		source INTEGER NOT NULL,
		dbim_error REAL NOT NULL,
		cg_error REAL NOT NULL,
		size INTEGER NOT NULL,
		contrast BLOB NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_snapshots_run ON snapshots(run_id, pass, iteration);
	`
	_, err := s.conn.Exec(schema)
	return err
}

// NewRun registers a run tagged with its configuration and returns its id
func (s *Store) NewRun(config []byte) (string, error) {
	id := uuid.New().String()
	_, err := s.conn.Exec("INSERT INTO runs (id, created, config) VALUES (?, ?, ?)",
		id, time.Now().Unix(), string(config))
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	return id, nil
}

// Runs lists the stored runs, oldest first
func (s *Store) Runs() ([]Run, error) {
	var runs []Run
	err := s.conn.Select(&runs, "SELECT id, created, config FROM runs ORDER BY created, id")
	return runs, err
}

// Save stores the global contrast of one update
func (s *Store) Save(snap Snapshot, contrast []complex128) error {
	snap.Size = len(contrast)
	snap.Data = Encode(contrast)

	tx, err := s.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.NamedExec(`INSERT INTO snapshots
		(run_id, pass, iteration, source, dbim_error, cg_error, size, contrast)
		VALUES (:run_id, :pass, :iteration, :source, :dbim_error, :cg_error, :size, :contrast)`, &snap)
	if err != nil {
		return fmt.Errorf("insert snapshot %d/%d: %w", snap.Pass, snap.Iteration, err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	slog.Debug("contrast saved", "run", snap.RunID, "pass", snap.Pass,
		"iteration", snap.Iteration, "size", humanize.Bytes(uint64(len(snap.Data))))
	return nil
}

// List returns the snapshots of a run in update order without their data
func (s *Store) List(runID string) ([]Snapshot, error) {
	var snaps []Snapshot
	err := s.conn.Select(&snaps, `SELECT run_id, pass, iteration, source, dbim_error, cg_error, size
		FROM snapshots WHERE run_id = ? ORDER BY id`, runID)
	return snaps, err
}

// Load returns the last contrast stored for a pass and iteration of a run
func (s *Store) Load(runID string, pass, iteration int) (Snapshot, []complex128, error) {
	var snap Snapshot
	err := s.conn.Get(&snap, `SELECT run_id, pass, iteration, source, dbim_error, cg_error, size, contrast
		FROM snapshots WHERE run_id = ? AND pass = ? AND iteration = ? ORDER BY id DESC LIMIT 1`,
		runID, pass, iteration)
	if errors.Is(err, sql.ErrNoRows) {
		return snap, nil, fmt.Errorf("%w: run %s pass %d iteration %d", ErrNotFound, runID, pass, iteration)
	}
	if err != nil {
		return snap, nil, err
	}
	contrast, err := Decode(snap.Data)
	if err != nil {
		return snap, nil, err
	}
	if len(contrast) != snap.Size {
		return snap, nil, fmt.Errorf("snapshot holds %d values, header says %d", len(contrast), snap.Size)
	}
	return snap, contrast, nil
}

// Encode packs values as little-endian float64 (re, im) pairs
func Encode(values []complex128) []byte {
	buf := make([]byte, 16*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint64(buf[16*i:], math.Float64bits(real(v)))
		binary.LittleEndian.PutUint64(buf[16*i+8:], math.Float64bits(imag(v)))
	}
	return buf
}

// Decode reverses Encode
func Decode(buf []byte) ([]complex128, error) {
	if len(buf)%16 != 0 {
		return nil, fmt.Errorf("contrast blob of %d bytes is not a whole number of values", len(buf))
	}
	values := make([]complex128, len(buf)/16)
	for i := range values {
		re := math.Float64frombits(binary.LittleEndian.Uint64(buf[16*i:]))
		im := math.Float64frombits(binary.LittleEndian.Uint64(buf[16*i+8:]))
		values[i] = complex(re, im)
	}
	return values, nil
}
