// Package cache persists expanded calendar events in SQLite so the display
// can fall back to the last known schedule when the feed is unreachable.
package cache

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	applog "inkcal/internal/log"
	"inkcal/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	source_id    TEXT NOT NULL,
	uid          TEXT NOT NULL,
	instance_key TEXT NOT NULL,
	summary      TEXT NOT NULL DEFAULT '',
	description  TEXT NOT NULL DEFAULT '',
	location     TEXT NOT NULL DEFAULT '',
	all_day      INTEGER NOT NULL DEFAULT 0,
	start_utc    TEXT NOT NULL,
	end_utc      TEXT NOT NULL,
	PRIMARY KEY (source_id, uid, instance_key)
);

CREATE INDEX IF NOT EXISTS idx_events_start ON events(start_utc);

CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

const metaLastUpdate = "last_update"

// Status is the display-facing freshness view of the cache.
type Status struct {
	// LastUpdate is the time of the last successful event replacement;
	// zero if the cache has never been written.
	LastUpdate time.Time
	// IsStale reports whether cached data is older than the display TTL.
	// Distinct from IsFresh: stale data is still shown, just with a
	// "cached" banner.
	IsStale bool
}

// Summary is a compact cache report for status payloads.
type Summary struct {
	TotalEvents int
	IsFresh     bool
}

// Store is the SQLite-backed event cache.
type Store struct {
	dbPath     string
	fetchTTL   time.Duration
	displayTTL time.Duration
	displayLoc *time.Location

	mu sync.RWMutex
	db *sql.DB
}

// New constructs a Store. Initialize must be called before any other
// operation.
//
//   - fetchTTL drives IsFresh (the fetch-vs-skip decision)
//   - displayTTL drives Status().IsStale (the "cached data" banner)
func New(dbPath string, fetchTTL, displayTTL time.Duration, displayLoc *time.Location) *Store {
	if displayLoc == nil {
		displayLoc = time.Local
	}
	return &Store{
		dbPath:     dbPath,
		fetchTTL:   fetchTTL,
		displayTTL: displayTTL,
		displayLoc: displayLoc,
	}
}

// Initialize opens the database, applies pragmas and creates the schema.
func (s *Store) Initialize(ctx context.Context) error {
	db, err := sql.Open("sqlite", s.dbPath)
	if err != nil {
		return fmt.Errorf("cache: failed to open database: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("cache: failed to enable foreign keys: %w", err)
	}

	// WAL lets the web UI read while the scheduler writes.
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL"); err != nil {
		_ = db.Close()
		return fmt.Errorf("cache: failed to enable WAL mode: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return fmt.Errorf("cache: failed to initialize schema: %w", err)
	}

	s.mu.Lock()
	s.db = db
	s.mu.Unlock()

	applog.Info().Str("db_path", s.dbPath).Msg("event cache initialized")
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// ReplaceEvents swaps the entire cached event set in one transaction and
// stamps last_update. A failed replace leaves the previous set intact.
func (s *Store) ReplaceEvents(ctx context.Context, events []model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return fmt.Errorf("cache: not initialized")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("cache: begin failed: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM events`); err != nil {
		return fmt.Errorf("cache: clear failed: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO events
		(source_id, uid, instance_key, summary, description, location, all_day, start_utc, end_utc)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("cache: prepare failed: %w", err)
	}
	defer stmt.Close()

	for _, ev := range events {
		allDay := 0
		if ev.AllDay {
			allDay = 1
		}
		_, err := stmt.ExecContext(ctx,
			ev.SourceID, ev.UID, ev.InstanceKey,
			ev.Summary, ev.Description, ev.Location,
			allDay,
			ev.Start.UTC().Format(time.RFC3339Nano),
			ev.End.UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			return fmt.Errorf("cache: insert failed for uid %s: %w", ev.UID, err)
		}
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO meta (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		metaLastUpdate, now); err != nil {
		return fmt.Errorf("cache: meta update failed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("cache: commit failed: %w", err)
	}

	applog.Debug().Int("event_count", len(events)).Msg("event cache replaced")
	return nil
}

// LastUpdate returns the timestamp of the last successful ReplaceEvents, or
// the zero time if the cache has never been written.
func (s *Store) LastUpdate() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastUpdateLocked()
}

func (s *Store) lastUpdateLocked() time.Time {
	if s.db == nil {
		return time.Time{}
	}
	var raw string
	err := s.db.QueryRow(`SELECT value FROM meta WHERE key = ?`, metaLastUpdate).Scan(&raw)
	if err != nil {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

// IsFresh reports whether the cached events are recent enough to skip a
// fetch. An empty or never-written cache is never fresh.
func (s *Store) IsFresh() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	last := s.lastUpdateLocked()
	if last.IsZero() {
		return false
	}
	return time.Since(last) <= s.fetchTTL
}

// Status returns the display-facing staleness view. It does not derive from
// IsFresh; the display window is configured independently.
func (s *Store) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	last := s.lastUpdateLocked()
	stale := last.IsZero() || time.Since(last) > s.displayTTL
	return Status{LastUpdate: last, IsStale: stale}
}

// TodaysEvents returns cached events touching the calendar day containing
// now, in the display timezone, ordered by start time.
func (s *Store) TodaysEvents(ctx context.Context, now time.Time) ([]model.Event, error) {
	local := now.In(s.displayLoc)
	dayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.displayLoc)
	return s.EventsInRange(ctx, dayStart, dayStart.Add(24*time.Hour))
}

// EventsInRange returns cached events overlapping [start, end), ordered by
// start time.
func (s *Store) EventsInRange(ctx context.Context, start, end time.Time) ([]model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, fmt.Errorf("cache: not initialized")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT source_id, uid, instance_key, summary, description, location, all_day, start_utc, end_utc
		 FROM events
		 WHERE start_utc < ? AND end_utc > ?
		 ORDER BY start_utc ASC`,
		end.UTC().Format(time.RFC3339Nano),
		start.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("cache: query failed: %w", err)
	}
	defer rows.Close()

	events := make([]model.Event, 0)
	for rows.Next() {
		var ev model.Event
		var allDay int
		var startRaw, endRaw string
		if err := rows.Scan(&ev.SourceID, &ev.UID, &ev.InstanceKey,
			&ev.Summary, &ev.Description, &ev.Location,
			&allDay, &startRaw, &endRaw); err != nil {
			return nil, fmt.Errorf("cache: scan failed: %w", err)
		}
		ev.AllDay = allDay != 0

		st, err := time.Parse(time.RFC3339Nano, startRaw)
		if err != nil {
			return nil, fmt.Errorf("cache: bad start_utc for uid %s: %w", ev.UID, err)
		}
		en, err := time.Parse(time.RFC3339Nano, endRaw)
		if err != nil {
			return nil, fmt.Errorf("cache: bad end_utc for uid %s: %w", ev.UID, err)
		}
		ev.Start = st.In(s.displayLoc)
		ev.End = en.In(s.displayLoc)

		events = append(events, ev)
	}
	return events, rows.Err()
}

// Summary returns a compact report for status payloads.
func (s *Store) Summary(ctx context.Context) (Summary, error) {
	fresh := s.IsFresh()

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return Summary{}, fmt.Errorf("cache: not initialized")
	}

	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&count); err != nil {
		return Summary{}, fmt.Errorf("cache: count failed: %w", err)
	}

	return Summary{TotalEvents: count, IsFresh: fresh}, nil
}

// ClearAll removes all cached events and the last-update stamp, returning
// the number of removed events. Exposed through POST /api/cache/clear;
// daemon teardown deliberately leaves the cache intact so the next start
// can fall back to cached data while the feeds are unreachable.
func (s *Store) ClearAll(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return 0, fmt.Errorf("cache: not initialized")
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM events`)
	if err != nil {
		return 0, fmt.Errorf("cache: clear failed: %w", err)
	}
	n, _ := res.RowsAffected()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM meta WHERE key = ?`, metaLastUpdate); err != nil {
		return int(n), fmt.Errorf("cache: meta clear failed: %w", err)
	}

	return int(n), nil
}
