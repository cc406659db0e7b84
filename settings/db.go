package settings

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/feedveil/dbopen"
)

// Schema creates the settings tables. updated_at is a unix-nano stamp bumped
// on every write; Revision reads it.
const Schema = `
CREATE TABLE IF NOT EXISTS global_settings (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS site_profiles (
	site_id    TEXT PRIMARY KEY,
	enabled    INTEGER NOT NULL DEFAULT 1,
	preference TEXT NOT NULL DEFAULT '',
	cutoff     REAL NOT NULL CHECK (cutoff >= 0 AND cutoff <= 100),
	containers TEXT NOT NULL DEFAULT '[]',
	fields     TEXT NOT NULL DEFAULT '{}',
	updated_at INTEGER NOT NULL
);
`

const goalsKey = "goals"

// DBStore keeps settings in SQLite.
type DBStore struct {
	db *sql.DB
}

// NewDBStore creates the schema if needed.
func NewDBStore(db *sql.DB) (*DBStore, error) {
	if _, err := db.Exec(Schema); err != nil {
		return nil, fmt.Errorf("settings: schema: %w", err)
	}
	return &DBStore{db: db}, nil
}

// DB returns the underlying handle.
func (s *DBStore) DB() *sql.DB { return s.db }

// SetGoals stores the global goals.
func (s *DBStore) SetGoals(ctx context.Context, goals string) error {
	_, err := dbopen.Exec(ctx, s.db,
		`INSERT INTO global_settings (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		goalsKey, goals, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("settings: set goals: %w", err)
	}
	return nil
}

// Goals returns the stored global goals, or DefaultGoals.
func (s *DBStore) Goals(ctx context.Context) (string, error) {
	var g string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM global_settings WHERE key = ?`, goalsKey).Scan(&g)
	if errors.Is(err, sql.ErrNoRows) {
		return DefaultGoals, nil
	}
	if err != nil {
		return "", fmt.Errorf("settings: goals: %w", err)
	}
	return g, nil
}

// Put stores a site's settings. Out-of-range cutoffs are rejected.
func (s *DBStore) Put(ctx context.Context, site Site) error {
	if err := site.Validate(); err != nil {
		return err
	}
	containers, err := json.Marshal(site.Containers)
	if err != nil {
		return fmt.Errorf("settings: put %s: %w", site.ID, err)
	}
	fields, err := json.Marshal(site.Fields)
	if err != nil {
		return fmt.Errorf("settings: put %s: %w", site.ID, err)
	}
	_, err = dbopen.Exec(ctx, s.db,
		`INSERT INTO site_profiles (site_id, enabled, preference, cutoff, containers, fields, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(site_id) DO UPDATE SET
			enabled = excluded.enabled, preference = excluded.preference,
			cutoff = excluded.cutoff, containers = excluded.containers,
			fields = excluded.fields, updated_at = excluded.updated_at`,
		site.ID, site.Enabled, site.Preference, site.Cutoff,
		string(containers), string(fields), time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("settings: put %s: %w", site.ID, err)
	}
	return nil
}

// Site returns the stored settings of a site, or its defaults.
func (s *DBStore) Site(ctx context.Context, id string) (Site, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT site_id, enabled, preference, cutoff, containers, fields
		 FROM site_profiles WHERE site_id = ?`, id)
	site, err := scanSite(row)
	if errors.Is(err, sql.ErrNoRows) {
		return DefaultSite(id), nil
	}
	if err != nil {
		return Site{}, fmt.Errorf("settings: site %s: %w", id, err)
	}
	return site, nil
}

// Profile implements Store.
func (s *DBStore) Profile(ctx context.Context, siteID string) (Profile, error) {
	goals, err := s.Goals(ctx)
	if err != nil {
		return Profile{}, err
	}
	site, err := s.Site(ctx, siteID)
	if err != nil {
		return Profile{}, err
	}
	return Resolve(goals, site), nil
}

// List returns the profiles of every stored site, ordered by id.
func (s *DBStore) List(ctx context.Context) ([]Profile, error) {
	goals, err := s.Goals(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT site_id, enabled, preference, cutoff, containers, fields
		 FROM site_profiles ORDER BY site_id`)
	if err != nil {
		return nil, fmt.Errorf("settings: list: %w", err)
	}
	defer rows.Close()

	var out []Profile
	for rows.Next() {
		site, err := scanSite(rows)
		if err != nil {
			return nil, fmt.Errorf("settings: list: %w", err)
		}
		out = append(out, Resolve(goals, site))
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSite(sc scanner) (Site, error) {
	var (
		site               Site
		containers, fields string
	)
	if err := sc.Scan(&site.ID, &site.Enabled, &site.Preference, &site.Cutoff, &containers, &fields); err != nil {
		return Site{}, err
	}
	if err := json.Unmarshal([]byte(containers), &site.Containers); err != nil {
		return Site{}, fmt.Errorf("containers: %w", err)
	}
	if err := json.Unmarshal([]byte(fields), &site.Fields); err != nil {
		return Site{}, fmt.Errorf("fields: %w", err)
	}
	return site, nil
}

// Revision changes whenever any settings row is written.
func Revision(ctx context.Context, db *sql.DB) (int64, error) {
	var v int64
	err := db.QueryRowContext(ctx, `SELECT
		COALESCE((SELECT MAX(updated_at) FROM site_profiles), 0) +
		COALESCE((SELECT MAX(updated_at) FROM global_settings), 0)`).Scan(&v)
	return v, err
}
