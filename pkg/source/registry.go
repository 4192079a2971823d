package source

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Entry is a row of the data_sources table.
type Entry struct {
	ID             string  `json:"id"`
	Kind           Kind    `json:"kind"`
	Description    string  `json:"description"`
	URL            string  `json:"url"`
	LastCheck      *int64  `json:"last_check,omitempty"`
	LastStatus     *int    `json:"last_status,omitempty"`
	LastError      *string `json:"last_error,omitempty"`
	LastFetch      *int64  `json:"last_fetch,omitempty"`
	LastTier       *string `json:"last_tier,omitempty"`
	LastRecords    *int    `json:"last_records,omitempty"`
	LastFetchError *string `json:"last_fetch_error,omitempty"`
	UpdatedAt      int64   `json:"updated_at"`
}

// Registry tracks configured sources, their effective URL and the outcome
// of the last probe and fetch. It lives in memory unless given a file.
type Registry struct {
	db *sql.DB
}

// OpenRegistry opens the SQLite database at path; "" or ":memory:" keeps
// it in process memory.
func OpenRegistry(path string) (*Registry, error) {
	memory := path == "" || path == ":memory:"
	dsn := path + "?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)"
	if memory {
		dsn = ":memory:?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open source registry: %w", err)
	}
	if memory {
		// every pooled connection would get its own empty database
		db.SetMaxOpenConns(1)
	}

	const ddl = `CREATE TABLE IF NOT EXISTS data_sources (
		id               TEXT PRIMARY KEY,
		kind             TEXT NOT NULL,
		description      TEXT NOT NULL DEFAULT '',
		url              TEXT NOT NULL,
		last_check       INTEGER,
		last_status      INTEGER,
		last_error       TEXT,
		last_fetch       INTEGER,
		last_tier        TEXT,
		last_records     INTEGER,
		last_fetch_error TEXT,
		updated_at       INTEGER NOT NULL
	)`
	if _, err := db.Exec(ddl); err != nil {
		db.Close()
		return nil, fmt.Errorf("create data_sources table: %w", err)
	}
	return &Registry{db: db}, nil
}

func (r *Registry) Close() error {
	return r.db.Close()
}

// Seed inserts a row per source. Existing rows are left untouched so a URL
// changed with SetURL survives a re-seed. An empty sheetsAPIBase means
// DefaultSheetsAPIBase.
func (r *Registry) Seed(sources []Source, sheetsAPIBase string) error {
	if sheetsAPIBase == "" {
		sheetsAPIBase = DefaultSheetsAPIBase
	}
	const q = `INSERT OR IGNORE INTO data_sources (id, kind, description, url, updated_at)
		VALUES (?, ?, ?, ?, ?)`

	now := time.Now().Unix()
	for _, s := range sources {
		if _, err := r.db.Exec(q, s.ID, string(s.Kind), s.Description, s.DirectURL(sheetsAPIBase), now); err != nil {
			return fmt.Errorf("seed %s: %w", s.ID, err)
		}
	}
	return nil
}

// GetURL returns the effective URL of a source.
func (r *Registry) GetURL(id string) (string, error) {
	var url string
	err := r.db.QueryRow(`SELECT url FROM data_sources WHERE id = ?`, id).Scan(&url)
	if err != nil {
		return "", fmt.Errorf("get url for %s: %w", id, err)
	}
	return url, nil
}

// SetURL replaces the effective URL of a source.
func (r *Registry) SetURL(id, url string) error {
	res, err := r.db.Exec(`UPDATE data_sources SET url = ?, updated_at = ? WHERE id = ?`,
		url, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("set url for %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("source %s: %w", id, sql.ErrNoRows)
	}
	return nil
}

// UpdateCheck records the result of an availability probe.
func (r *Registry) UpdateCheck(id string, status int, checkErr string) error {
	_, err := r.db.Exec(
		`UPDATE data_sources SET last_check = ?, last_status = ?, last_error = ? WHERE id = ?`,
		time.Now().Unix(), status, nullString(checkErr), id,
	)
	if err != nil {
		return fmt.Errorf("update check for %s: %w", id, err)
	}
	return nil
}

// RecordFetch records the outcome of a load attempt against a source.
func (r *Registry) RecordFetch(id string, tier Tier, records int, fetchErr error) error {
	var msg string
	if fetchErr != nil {
		msg = fetchErr.Error()
	}
	_, err := r.db.Exec(
		`UPDATE data_sources SET last_fetch = ?, last_tier = ?, last_records = ?, last_fetch_error = ? WHERE id = ?`,
		time.Now().Unix(), nullString(string(tier)), records, nullString(msg), id,
	)
	if err != nil {
		return fmt.Errorf("record fetch for %s: %w", id, err)
	}
	return nil
}

// ListSources returns every row ordered by id.
func (r *Registry) ListSources() ([]Entry, error) {
	rows, err := r.db.Query(`SELECT id, kind, description, url, last_check, last_status, last_error,
		last_fetch, last_tier, last_records, last_fetch_error, updated_at
		FROM data_sources ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Kind, &e.Description, &e.URL, &e.LastCheck, &e.LastStatus,
			&e.LastError, &e.LastFetch, &e.LastTier, &e.LastRecords, &e.LastFetchError, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// IsNotFound reports whether err means the source id is unknown.
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
