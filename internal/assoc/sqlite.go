package assoc

import (
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/sensegrid/sensegrid/internal/identity"
	"github.com/sensegrid/sensegrid/internal/msgctr"
)

// SQLite is a Store backed by a sqlite database, for hubs that must
// keep their replay state across restarts. Node IDs and counters are
// stored as fixed-width lowercase hex, which makes string comparison
// in SQL behave like big-endian byte comparison: the increment-only
// rule becomes a single guarded UPDATE.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens the association database at path, creating and
// migrating it as needed.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLite{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS associations (
			node_id TEXT PRIMARY KEY,
			counter TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
	`)
	return err
}

// Close closes the underlying database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// ResolveByPrefix implements Store. Among several matches the lowest
// node ID wins, so resolution is deterministic for a given table.
func (s *SQLite) ResolveByPrefix(prefix []byte) (identity.NodeID, bool) {
	if len(prefix) > identity.IDSize {
		return identity.ZeroID, false
	}
	var idHex string
	err := s.db.QueryRow(
		"SELECT node_id FROM associations WHERE node_id LIKE ? ORDER BY node_id LIMIT 1",
		hex.EncodeToString(prefix)+"%",
	).Scan(&idHex)
	if err != nil {
		return identity.ZeroID, false
	}
	id, err := identity.ParseNodeID(idHex)
	if err != nil {
		return identity.ZeroID, false
	}
	return id, true
}

// LastCounter implements Store.
func (s *SQLite) LastCounter(id identity.NodeID) ([msgctr.Len]byte, bool) {
	var ctrHex string
	err := s.db.QueryRow(
		"SELECT counter FROM associations WHERE node_id = ?",
		id.String(),
	).Scan(&ctrHex)
	if err != nil {
		return [msgctr.Len]byte{}, false
	}
	ctr, err := parseCounter(ctrHex)
	if err != nil {
		return [msgctr.Len]byte{}, false
	}
	return ctr, true
}

// UpdateCounter implements Store. The guarded UPDATE commits only when
// the stored counter is strictly lower, so concurrent deliveries of
// the same frame race to a single winner.
func (s *SQLite) UpdateCounter(id identity.NodeID, ctr [msgctr.Len]byte) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(
		"UPDATE associations SET counter = ?, updated_at = ? WHERE node_id = ? AND counter < ?",
		hex.EncodeToString(ctr[:]), now, id.String(), hex.EncodeToString(ctr[:]),
	)
	if err != nil {
		return fmt.Errorf("failed to update counter: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update counter: %w", err)
	}
	if n == 0 {
		if _, ok := s.LastCounter(id); !ok {
			return ErrNotAssociated
		}
		return ErrCounterNotAdvanced
	}
	return nil
}

// Associate implements Store.
func (s *SQLite) Associate(id identity.NodeID, initial [msgctr.Len]byte) error {
	if id.IsZero() {
		return fmt.Errorf("cannot associate zero node ID")
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.Exec(`
		INSERT INTO associations (node_id, counter, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(node_id) DO UPDATE SET counter = excluded.counter, updated_at = excluded.updated_at`,
		id.String(), hex.EncodeToString(initial[:]), now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to associate node: %w", err)
	}
	return nil
}

func parseCounter(s string) ([msgctr.Len]byte, error) {
	var ctr [msgctr.Len]byte
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != msgctr.Len {
		return ctr, fmt.Errorf("malformed stored counter %q", s)
	}
	copy(ctr[:], b)
	return ctr, nil
}
