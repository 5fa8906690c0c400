// Package sqlite persists parsed P2P events and the disaster alerts derived
// from them.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/couchcryptid/p2pquake-service/internal/domain"
)

// ErrNotFound is returned when no stored event has the requested id.
var ErrNotFound = errors.New("event not found")

// timeLayout is fixed width so stored timestamps sort lexicographically.
const timeLayout = "2006-01-02T15:04:05.000Z"

// duplicateScan bounds how many earlier quakes a new one is compared with.
const duplicateScan = 50

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id          TEXT PRIMARY KEY,
	code        INTEGER NOT NULL,
	received_at TEXT NOT NULL,
	payload     TEXT NOT NULL,
	stored_at   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_code_stored ON events (code, stored_at);
CREATE TABLE IF NOT EXISTS alerts (
	id            TEXT PRIMARY KEY,
	disaster_type TEXT NOT NULL,
	title         TEXT NOT NULL,
	description   TEXT NOT NULL,
	location      TEXT NOT NULL,
	alert_level   TEXT NOT NULL,
	latitude      REAL,
	longitude     REAL,
	timestamp     TEXT NOT NULL,
	expiry_time   TEXT NOT NULL,
	source        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_alerts_timestamp ON alerts (timestamp);
`

// Store writes every dispatched message and raises alerts for significant
// quakes and active tsunami forecasts. It implements monitor.Handler.
type Store struct {
	db        *sql.DB
	threshold float64
	clock     clockwork.Clock
	logger    *slog.Logger
}

// Open opens (or creates) the database at path and applies the schema.
// Quakes below threshold magnitude are stored but raise no alert.
func Open(path string, threshold float64, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{
		db:        db,
		threshold: threshold,
		clock:     clockwork.NewRealClock(),
		logger:    logger,
	}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Handle upserts msg by id, so a later message with the same id replaces the
// earlier row. Id-less messages get a random key.
func (s *Store) Handle(ctx context.Context, msg domain.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("serialize event: %w", err)
	}
	meta := msg.Meta()
	id := meta.EventID()
	if id == "" {
		id = uuid.NewString()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO events (id, code, received_at, payload, stored_at) VALUES (?, ?, ?, ?, ?)`,
		id, int(meta.Code), meta.Time, string(payload), s.clock.Now().UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("store event %s: %w", id, err)
	}

	switch m := msg.(type) {
	case domain.JMAQuake:
		return s.raiseQuakeAlert(ctx, id, m)
	case domain.JMATsunami:
		return s.raiseTsunamiAlert(ctx, m)
	}
	return nil
}

func (s *Store) raiseQuakeAlert(ctx context.Context, id string, q domain.JMAQuake) error {
	alert, ok := domain.QuakeAlert(q, s.threshold)
	if !ok {
		return nil
	}
	dup, err := s.hasEarlierReport(ctx, id, q)
	if err != nil {
		return err
	}
	if dup {
		s.logger.Debug("duplicate quake report, alert skipped", "id", id)
		return nil
	}
	return s.SaveAlert(ctx, alert)
}

// raiseTsunamiAlert saves an alert for an active forecast. A cancellation
// withdraws the alert raised under the same id.
func (s *Store) raiseTsunamiAlert(ctx context.Context, t domain.JMATsunami) error {
	if alert, ok := domain.TsunamiAlert(t); ok {
		return s.SaveAlert(ctx, alert)
	}
	if !t.Cancelled || t.EventID() == "" {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM alerts WHERE id = ?`, "ts_"+t.EventID()); err != nil {
		return fmt.Errorf("withdraw tsunami alert: %w", err)
	}
	return nil
}

// hasEarlierReport reports whether a recent quake stored under another id
// looks like the same event as q.
func (s *Store) hasEarlierReport(ctx context.Context, id string, q domain.JMAQuake) (bool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM events WHERE code = ? AND id != ? ORDER BY stored_at DESC LIMIT ?`,
		int(domain.CodeJMAQuake), id, duplicateScan)
	if err != nil {
		return false, fmt.Errorf("query recent quakes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return false, fmt.Errorf("scan recent quake: %w", err)
		}
		var other domain.JMAQuake
		if err := json.Unmarshal([]byte(payload), &other); err != nil {
			continue
		}
		if domain.IsLikelyDuplicate(q, other) {
			return true, nil
		}
	}
	return false, rows.Err()
}

// SaveAlert upserts a by id. An alert without id gets a random key.
func (s *Store) SaveAlert(ctx context.Context, a domain.Alert) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO alerts
		(id, disaster_type, title, description, location, alert_level, latitude, longitude, timestamp, expiry_time, source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, string(a.Type), a.Title, a.Description, a.Location, string(a.Level),
		nullFloat(a.Latitude), nullFloat(a.Longitude),
		a.Timestamp.UTC().Format(timeLayout), a.ExpiresAt.UTC().Format(timeLayout), a.Source)
	if err != nil {
		return fmt.Errorf("save alert %s: %w", a.ID, err)
	}
	s.logger.Info("alert saved", "id", a.ID, "level", a.Level, "type", a.Type)
	return nil
}

// RecentAlerts returns alerts raised within the last hours, newest first.
func (s *Store) RecentAlerts(ctx context.Context, hours int) ([]domain.Alert, error) {
	cutoff := s.clock.Now().Add(-time.Duration(hours) * time.Hour).UTC().Format(timeLayout)
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, disaster_type, title, description, location, alert_level, latitude, longitude, timestamp, expiry_time, source
		FROM alerts WHERE timestamp >= ? ORDER BY timestamp DESC`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	alerts := []domain.Alert{}
	for rows.Next() {
		var (
			a           domain.Alert
			kind, level string
			lat, lon    sql.NullFloat64
			ts, expires string
		)
		if err := rows.Scan(&a.ID, &kind, &a.Title, &a.Description, &a.Location, &level,
			&lat, &lon, &ts, &expires, &a.Source); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		a.Type = domain.DisasterType(kind)
		a.Level = domain.AlertLevel(level)
		a.Latitude = floatPtr(lat)
		a.Longitude = floatPtr(lon)
		a.Timestamp, _ = time.Parse(timeLayout, ts)
		a.ExpiresAt, _ = time.Parse(timeLayout, expires)
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// EventByID returns the stored message with the given id.
func (s *Store) EventByID(ctx context.Context, id string) (domain.Message, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM events WHERE id = ?`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query event %s: %w", id, err)
	}
	return domain.ParseMessage([]byte(payload))
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	return &n.Float64
}
