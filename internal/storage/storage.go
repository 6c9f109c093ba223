// Package storage provides a SQLite-backed journal of emitted alerts.
//
// The journal is write-mostly audit data. Nothing in the decision path reads it
// back, so a restart always starts from a fresh in-memory universe.
package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rewired-gh/momentumscan/internal/models"
	_ "modernc.org/sqlite"
)

// Storage wraps a SQLite database for the alert journal.
type Storage struct {
	db        *sql.DB
	maxAlerts int
}

// Record is one journaled alert.
type Record struct {
	models.AlertEvent
	Notified bool `json:"notified"`
}

// New opens or creates the SQLite database at dbPath.
// An empty dbPath defaults to $TMPDIR/momentumscan/journal.db.
func New(maxAlerts int, dbPath string) (*Storage, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "momentumscan", "journal.db")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	if maxAlerts <= 0 {
		maxAlerts = 10000
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return newStorage(db, maxAlerts)
}

// newStorage prepares an open database. db is closed when preparation fails.
func newStorage(db *sql.DB, maxAlerts int) (*Storage, error) {
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	s := &Storage{db: db, maxAlerts: maxAlerts}
	if err := s.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS alerts (
			id              TEXT PRIMARY KEY,
			token           TEXT NOT NULL,
			trading_symbol  TEXT NOT NULL,
			root_symbol     TEXT NOT NULL,
			exchange        TEXT NOT NULL,
			instrument_type TEXT NOT NULL,
			category        TEXT NOT NULL,
			direction       TEXT NOT NULL,
			mode            TEXT NOT NULL,
			percent_move    REAL NOT NULL,
			last_price      REAL NOT NULL,
			open_price      REAL NOT NULL,
			ema             REAL NOT NULL DEFAULT 0,
			vwap            REAL NOT NULL DEFAULT 0,
			reasons         TEXT NOT NULL DEFAULT '[]',
			emitted_at      INTEGER NOT NULL,
			notified        INTEGER DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_emitted_at ON alerts(emitted_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_token ON alerts(token)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// AddAlert journals an alert and trims the table to the newest maxAlerts rows.
func (s *Storage) AddAlert(event *models.AlertEvent) error {
	if event.ID == "" {
		return fmt.Errorf("invalid alert: empty id")
	}
	if err := event.Contract.Validate(); err != nil {
		return fmt.Errorf("invalid alert contract: %w", err)
	}
	reasonsJSON, err := json.Marshal(event.Reasons)
	if err != nil {
		return fmt.Errorf("failed to marshal reasons: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	c := event.Contract
	_, err = tx.Exec(`
		INSERT INTO alerts
			(id, token, trading_symbol, root_symbol, exchange, instrument_type, category,
			 direction, mode, percent_move, last_price, open_price, ema, vwap, reasons,
			 emitted_at, notified)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,0)`,
		event.ID, c.Token, c.TradingSymbol, c.RootSymbol, string(c.Exchange), string(c.InstrumentType),
		string(c.Category), string(event.Direction), event.Mode, event.PercentMove, event.LastPrice,
		event.Open, event.EMA, event.VWAP, string(reasonsJSON), event.EmittedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}

	if _, err = tx.Exec(`
		DELETE FROM alerts WHERE id NOT IN (
			SELECT id FROM alerts ORDER BY emitted_at DESC LIMIT ?
		)`, s.maxAlerts); err != nil {
		return fmt.Errorf("failed to enforce alert cap: %w", err)
	}

	return tx.Commit()
}

// MarkNotified flags an alert as delivered.
func (s *Storage) MarkNotified(id string) error {
	res, err := s.db.Exec(`UPDATE alerts SET notified = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to mark alert notified: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("alert not found: %s", id)
	}
	return nil
}

// RecentAlerts returns up to limit alerts, newest first.
func (s *Storage) RecentAlerts(limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`
		SELECT id, token, trading_symbol, root_symbol, exchange, instrument_type, category,
		       direction, mode, percent_move, last_price, open_price, ema, vwap, reasons,
		       emitted_at, notified
		FROM alerts ORDER BY emitted_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		var r Record
		var exchange, instrumentType, category, direction, reasonsJSON string
		var emittedAtNano int64
		var notified int

		err := rows.Scan(
			&r.ID, &r.Contract.Token, &r.Contract.TradingSymbol, &r.Contract.RootSymbol,
			&exchange, &instrumentType, &category,
			&direction, &r.Mode, &r.PercentMove, &r.LastPrice, &r.Open, &r.EMA, &r.VWAP, &reasonsJSON,
			&emittedAtNano, &notified,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		if err := json.Unmarshal([]byte(reasonsJSON), &r.Reasons); err != nil {
			return nil, fmt.Errorf("failed to unmarshal reasons: %w", err)
		}

		r.Contract.Exchange = models.Exchange(exchange)
		r.Contract.InstrumentType = models.InstrumentType(instrumentType)
		r.Contract.Category = models.Category(category)
		r.Direction = models.Direction(direction)
		r.EmittedAt = time.Unix(0, emittedAtNano)
		r.Notified = notified != 0
		records = append(records, r)
	}

	return records, rows.Err()
}

// CountAlerts returns the number of journaled alerts.
func (s *Storage) CountAlerts() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM alerts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count alerts: %w", err)
	}
	return n, nil
}
