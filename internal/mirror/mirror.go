// Package mirror is a best-effort external sink for inscription moves:
// every commit window, the updater hands it the inscriptions that moved
// during that window so a downstream consumer can query current
// locations without opening the index file directly. Adapted from the
// teacher's internal/storage package (SQLite via database/sql, WAL
// journal mode, upsert-on-conflict for idempotent replay).
package mirror

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ordindexer/ordindexer/internal/ordinal/entry"
	"github.com/ordindexer/ordindexer/internal/ordlog"
	"github.com/ordindexer/ordindexer/pkg/logging"
)

// Move is one inscription's new location as of the end of a commit
// window, the row shape the mirror sink persists.
type Move struct {
	InscriptionID entry.InscriptionId
	Satpoint      entry.SatPoint
	// Address is the owning address of the new satpoint's output script,
	// or empty if the script isn't a recognized address type.
	Address string
}

// Config holds mirror sink configuration.
type Config struct {
	// DataDir is the directory the sqlite file lives in, used when Path
	// is empty.
	DataDir string
	// Path overrides the sqlite file location.
	Path string
	Logger *logging.Logger
}

// Sink is a SQLite-backed mirror of current inscription locations.
type Sink struct {
	db   *sql.DB
	path string
	log  *logging.Logger
}

// Open creates or opens the mirror database and ensures its schema.
func Open(cfg Config) (*Sink, error) {
	path := cfg.Path
	if path == "" {
		dataDir := expandPath(cfg.DataDir)
		if err := os.MkdirAll(dataDir, 0700); err != nil {
			return nil, fmt.Errorf("mirror: create data directory: %w", err)
		}
		path = filepath.Join(dataDir, "mirror.db")
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("mirror: open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("mirror: ping database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	log := cfg.Logger
	if log == nil {
		log = ordlog.For(ordlog.Mirror)
	}

	s := &Sink{db: db, path: path, log: log}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("mirror: initialize schema: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Sink) Close() error {
	return s.db.Close()
}

// Path returns the sqlite file's location on disk.
func (s *Sink) Path() string {
	return s.path
}

func (s *Sink) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS inscription_locations (
		inscription_id TEXT PRIMARY KEY,
		satpoint_txid  TEXT NOT NULL,
		satpoint_vout  INTEGER NOT NULL,
		satpoint_offset INTEGER NOT NULL,
		address        TEXT,
		updated_at     INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_inscription_locations_address
		ON inscription_locations(address);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Apply persists moves within a single transaction, upserting each row
// by inscription ID so a replayed commit window (after a restart mid-
// window) is idempotent. Per the index's error-handling policy, a mirror
// sink failure is the caller's to log, not to treat as fatal — Apply
// simply returns the error for the caller to decide.
func (s *Sink) Apply(moves []Move) error {
	if len(moves) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("mirror: begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO inscription_locations (
			inscription_id, satpoint_txid, satpoint_vout, satpoint_offset, address, updated_at
		) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(inscription_id) DO UPDATE SET
			satpoint_txid = excluded.satpoint_txid,
			satpoint_vout = excluded.satpoint_vout,
			satpoint_offset = excluded.satpoint_offset,
			address = excluded.address,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("mirror: prepare upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for _, m := range moves {
		_, err := stmt.Exec(
			m.InscriptionID.String(),
			m.Satpoint.OutPoint.Hash.String(),
			m.Satpoint.OutPoint.Index,
			m.Satpoint.Offset,
			nullIfEmpty(m.Address),
			now,
		)
		if err != nil {
			return fmt.Errorf("mirror: upsert %s: %w", m.InscriptionID, err)
		}
	}

	return tx.Commit()
}

// Location is a mirror row as read back by Lookup.
type Location struct {
	InscriptionID string
	SatpointTxid  string
	SatpointVout  uint32
	SatpointOffset uint64
	Address       string
	UpdatedAt     int64
}

// Lookup returns the last recorded location for an inscription ID, or
// ok=false if the mirror has never seen it.
func (s *Sink) Lookup(inscriptionID string) (*Location, bool, error) {
	row := s.db.QueryRow(`
		SELECT inscription_id, satpoint_txid, satpoint_vout, satpoint_offset, address, updated_at
		FROM inscription_locations WHERE inscription_id = ?
	`, inscriptionID)

	var loc Location
	var address sql.NullString
	err := row.Scan(&loc.InscriptionID, &loc.SatpointTxid, &loc.SatpointVout, &loc.SatpointOffset, &address, &loc.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("mirror: lookup %s: %w", inscriptionID, err)
	}
	loc.Address = address.String
	return &loc, true, nil
}

// AddressFromPkScript extracts the single owning address of an output
// script for the given network, returning ok=false for scripts with no
// single recognized address (bare multisig, OP_RETURN, and the like).
func AddressFromPkScript(pkScript []byte, params *chaincfg.Params) (string, bool) {
	_, addrs, _, err := txscript.ExtractPkScriptAddrs(pkScript, params)
	if err != nil || len(addrs) != 1 {
		return "", false
	}
	return addrs[0].EncodeAddress(), true
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}

