package main

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/KR8MER/eas-station-sub002/same"
)

// GPIOEvent is one row of the activation audit trail. A row is written when
// a pin goes active and updated with the release details when it goes
// inactive, so a crash mid-activation leaves a visible open row.
type GPIOEvent struct {
	ID          int64
	Pin         string
	Action      string // activate, deactivate, watchdog_release, force_release
	Reason      string
	AlertSig    string
	RequestedAt time.Time
	ReleasedAt  *time.Time
	Result      string // ok, error, watchdog_timeout
	Detail      string
}

// AlertRecord is the audit row for a decoded alert, whatever its
// disposition.
type AlertRecord struct {
	Signature  string
	Raw        string
	Originator string
	Event      string
	Locations  []string
	Confidence float64
	Status     string // forwarded, filtered, duplicate
	Source     string
	DecodedAt  time.Time
}

// AuditSink persists the activation trail. Implementations must be safe for
// concurrent use; the GPIO controller and scan workers both write.
type AuditSink interface {
	RecordGPIOEvent(ev *GPIOEvent) (int64, error)
	UpdateGPIOEvent(id int64, releasedAt time.Time, result, detail string) error
	RecordAlert(rec *AlertRecord) error
	Close() error
}

// SQLiteAuditSink stores the audit trail in a local SQLite file. The
// station runs unattended; a queryable on-disk log is the only record of
// what the relays actually did.
type SQLiteAuditSink struct {
	db *sql.DB
}

// NewSQLiteAuditSink opens (creating if needed) the audit database.
func NewSQLiteAuditSink(path string) (*SQLiteAuditSink, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("%w: opening audit db %s: %v", same.ErrStorage, path, err)
	}
	// One writer at a time keeps SQLite happy under WAL.
	db.SetMaxOpenConns(1)

	schema := []string{
		`CREATE TABLE IF NOT EXISTS gpio_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			pin TEXT NOT NULL,
			action TEXT NOT NULL,
			reason TEXT,
			alert_sig TEXT,
			requested_at TIMESTAMP NOT NULL,
			released_at TIMESTAMP,
			result TEXT,
			detail TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			signature TEXT NOT NULL,
			raw TEXT NOT NULL,
			originator TEXT,
			event TEXT,
			locations TEXT,
			confidence REAL,
			status TEXT NOT NULL,
			source TEXT,
			decoded_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_signature ON alerts(signature)`,
		`CREATE INDEX IF NOT EXISTS idx_gpio_events_pin ON gpio_events(pin, requested_at)`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: initializing audit schema: %v", same.ErrStorage, err)
		}
	}
	return &SQLiteAuditSink{db: db}, nil
}

func (s *SQLiteAuditSink) RecordGPIOEvent(ev *GPIOEvent) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO gpio_events (pin, action, reason, alert_sig, requested_at, released_at, result, detail)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.Pin, ev.Action, ev.Reason, ev.AlertSig, ev.RequestedAt.UTC(), ev.ReleasedAt, ev.Result, ev.Detail)
	if err != nil {
		return 0, fmt.Errorf("%w: recording gpio event: %v", same.ErrStorage, err)
	}
	return res.LastInsertId()
}

func (s *SQLiteAuditSink) UpdateGPIOEvent(id int64, releasedAt time.Time, result, detail string) error {
	_, err := s.db.Exec(
		`UPDATE gpio_events SET released_at = ?, result = ?, detail = ? WHERE id = ?`,
		releasedAt.UTC(), result, detail, id)
	if err != nil {
		return fmt.Errorf("%w: updating gpio event %d: %v", same.ErrStorage, id, err)
	}
	return nil
}

func (s *SQLiteAuditSink) RecordAlert(rec *AlertRecord) error {
	locs := ""
	for i, l := range rec.Locations {
		if i > 0 {
			locs += ","
		}
		locs += l
	}
	_, err := s.db.Exec(
		`INSERT INTO alerts (signature, raw, originator, event, locations, confidence, status, source, decoded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Signature, rec.Raw, rec.Originator, rec.Event, locs, rec.Confidence, rec.Status, rec.Source, rec.DecodedAt.UTC())
	if err != nil {
		return fmt.Errorf("%w: recording alert: %v", same.ErrStorage, err)
	}
	return nil
}

func (s *SQLiteAuditSink) Close() error {
	return s.db.Close()
}

// nopAuditSink is used when no audit path is configured. Events still hit
// the log, just not a database.
type nopAuditSink struct{}

func (nopAuditSink) RecordGPIOEvent(ev *GPIOEvent) (int64, error) {
	log.Printf("[Audit] gpio %s %s reason=%q", ev.Pin, ev.Action, ev.Reason)
	return 0, nil
}

func (nopAuditSink) UpdateGPIOEvent(id int64, releasedAt time.Time, result, detail string) error {
	return nil
}

func (nopAuditSink) RecordAlert(rec *AlertRecord) error {
	log.Printf("[Audit] alert %s status=%s", rec.Event, rec.Status)
	return nil
}

func (nopAuditSink) Close() error { return nil }
