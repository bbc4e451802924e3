// Package trackdb archives expired tracks to a sqlite database so that
// traffic seen in earlier runs can be reviewed.
package trackdb

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/traffic.picture/internal/timeutil"
	"github.com/banshee-data/traffic.picture/internal/track"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const pragmas = "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"

// Options describe the run recorded in the sessions table.
type Options struct {
	Version string
	FeedURL string
	// Clock stamps session start and end. Nil means RealClock.
	Clock timeutil.Clock
}

// DB is an open track archive. Every DB records one session; archived
// tracks are tagged with it.
type DB struct {
	*sql.DB
	session uuid.UUID
	clock   timeutil.Clock
}

// Open opens or creates the database at path, applies pending migrations and
// starts a new session.
func Open(path string, opts Options) (*DB, error) {
	dsn := path
	if strings.Contains(dsn, "?") {
		dsn += "&" + pragmas
	} else {
		dsn += "?" + pragmas
	}
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	db := &DB{DB: sqlDB, session: uuid.New(), clock: opts.Clock}
	if db.clock == nil {
		db.clock = timeutil.RealClock{}
	}
	if err := db.MigrateUp(); err != nil {
		sqlDB.Close()
		return nil, err
	}

	_, err = db.Exec(
		`INSERT INTO sessions (session_id, version, feed_url, started_unix) VALUES (?, ?, ?, ?)`,
		db.session.String(), opts.Version, opts.FeedURL, unixSeconds(db.clock.Now()),
	)
	if err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("start session: %w", err)
	}
	return db, nil
}

// MigrateUp runs all pending migrations. It is a no-op when the schema is
// current.
func (db *DB) MigrateUp() error {
	m, err := db.newMigrate()
	if err != nil {
		return err
	}
	// m is not closed: closing it would close db.DB.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// MigrateVersion returns the current schema version and dirty state.
func (db *DB) MigrateVersion() (version uint, dirty bool, err error) {
	m, err := db.newMigrate()
	if err != nil {
		return 0, false, err
	}
	version, dirty, err = m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

func (db *DB) newMigrate() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(db.DB, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return m, nil
}

// SessionID returns the id of the session started by Open.
func (db *DB) SessionID() uuid.UUID {
	return db.session
}

// Close ends the session and closes the database.
func (db *DB) Close() error {
	_, err := db.Exec(`UPDATE sessions SET ended_unix = ? WHERE session_id = ?`,
		unixSeconds(db.clock.Now()), db.session.String())
	return errors.Join(err, db.DB.Close())
}

// ArchivedTrack is the summary kept for an expired track.
type ArchivedTrack struct {
	SessionID      string          `json:"session_id"`
	TrackID        track.ID        `json:"track_id"`
	Class          track.Class     `json:"class"`
	Label          string          `json:"label"`
	Registration   string          `json:"registration,omitempty"`
	TypeCode       string          `json:"type_code,omitempty"`
	Squawk         string          `json:"squawk,omitempty"`
	LastPosition   *track.Position `json:"last_position,omitempty"`
	LastAltitude   *float64        `json:"last_altitude_ft,omitempty"`
	TrailLength    int             `json:"trail_length"`
	LastUpdateTime time.Time       `json:"last_update_time"`
	ArchivedAt     time.Time       `json:"archived_at"`
}

// ArchiveTrack records t as expired at the given source-frame time.
func (db *DB) ArchiveTrack(ctx context.Context, t *track.Track, at time.Time) error {
	if t == nil {
		return errors.New("archive track: nil track")
	}
	var lat, lon sql.NullFloat64
	if p, ok := t.Position(); ok {
		lat = sql.NullFloat64{Float64: p.Lat, Valid: true}
		lon = sql.NullFloat64{Float64: p.Lon, Valid: true}
	}
	var alt sql.NullFloat64
	if t.Altitude != nil {
		alt = sql.NullFloat64{Float64: *t.Altitude, Valid: true}
	}
	var lastUpdate sql.NullFloat64
	if !t.LastUpdateTime.IsZero() {
		lastUpdate = sql.NullFloat64{Float64: unixSeconds(t.LastUpdateTime), Valid: true}
	}
	squawk := ""
	if t.Squawk != nil {
		squawk = *t.Squawk
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO archived_tracks (
			session_id, track_id, class, label, registration, type_code, squawk,
			last_lat, last_lon, last_altitude_ft, trail_length, last_update_unix, archived_unix
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		db.session.String(), string(t.ID), string(t.Class), track.Label(t),
		t.Metadata.Registration, t.Metadata.TypeCode, squawk,
		lat, lon, alt, t.TrailLen(), lastUpdate, unixSeconds(at),
	)
	if err != nil {
		return fmt.Errorf("archive track %s: %w", t.ID, err)
	}
	return nil
}

// RecentTracks returns up to limit archived tracks, newest first.
func (db *DB) RecentTracks(ctx context.Context, limit int) ([]ArchivedTrack, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.QueryContext(ctx, `
		SELECT session_id, track_id, class, label, registration, type_code, squawk,
			last_lat, last_lon, last_altitude_ft, trail_length, last_update_unix, archived_unix
		FROM archived_tracks
		ORDER BY archived_unix DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query archived tracks: %w", err)
	}
	defer rows.Close()

	var out []ArchivedTrack
	for rows.Next() {
		var (
			a              ArchivedTrack
			trackID, class string
			lat, lon, alt  sql.NullFloat64
			lastUpdate     sql.NullFloat64
			archived       float64
		)
		if err := rows.Scan(&a.SessionID, &trackID, &class, &a.Label, &a.Registration,
			&a.TypeCode, &a.Squawk, &lat, &lon, &alt, &a.TrailLength, &lastUpdate, &archived); err != nil {
			return nil, fmt.Errorf("scan archived track: %w", err)
		}
		a.TrackID = track.ID(trackID)
		a.Class = track.Class(class)
		if lat.Valid && lon.Valid {
			a.LastPosition = &track.Position{Lat: lat.Float64, Lon: lon.Float64}
		}
		if alt.Valid {
			v := alt.Float64
			a.LastAltitude = &v
		}
		if lastUpdate.Valid {
			a.LastUpdateTime = timeutil.FromUnixSeconds(lastUpdate.Float64)
		}
		a.ArchivedAt = timeutil.FromUnixSeconds(archived)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate archived tracks: %w", err)
	}
	return out, nil
}

// CountArchived returns the number of tracks archived in this session.
func (db *DB) CountArchived(ctx context.Context) (int, error) {
	var n int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM archived_tracks WHERE session_id = ?`, db.session.String()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count archived tracks: %w", err)
	}
	return n, nil
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
