// Package db keeps an optional operational log of finished parse requests.
// Nothing stored here is read back into the pipeline.
package db

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS requests (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    request_id TEXT NOT NULL,
    source TEXT NOT NULL,
    code INTEGER NOT NULL,
    success INTEGER NOT NULL,
    duration_ms INTEGER NOT NULL,
    created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_requests_created_at ON requests(created_at);
CREATE INDEX IF NOT EXISTS idx_requests_code ON requests(code);
`

const (
	insertEntryQuery = `
        INSERT INTO requests (request_id, source, code, success, duration_ms, created_at)
        VALUES (?, ?, ?, ?, ?, ?)
    `

	totalsQuery = `
        SELECT COUNT(*), COALESCE(SUM(success), 0), COALESCE(AVG(duration_ms), 0)
        FROM requests WHERE created_at >= ?
    `

	byCodeQuery = `
        SELECT code, COUNT(*) FROM requests
        WHERE created_at >= ? GROUP BY code ORDER BY code
    `

	bySourceQuery = `
        SELECT source, COUNT(*) FROM requests
        WHERE created_at >= ? GROUP BY source ORDER BY source
    `

	pruneQuery = `DELETE FROM requests WHERE created_at < ?`
)

// Entry is one finished request.
type Entry struct {
	RequestID string
	Source    string
	Code      int
	Success   bool
	Duration  time.Duration
	CreatedAt time.Time
}

// Stats aggregates entries since a point in time.
type Stats struct {
	Since         time.Time      `json:"since"`
	Total         int            `json:"total"`
	Succeeded     int            `json:"succeeded"`
	Failed        int            `json:"failed"`
	AvgDurationMs float64        `json:"avg_duration_ms"`
	ByCode        map[int]int    `json:"by_code"`
	BySource      map[string]int `json:"by_source"`
}

type Store struct {
	db *sql.DB
}

// Open creates the database file and schema if needed.
func Open(path string, maxConnections int) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.Wrap(err, "create database directory")
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}

	if maxConnections <= 0 {
		maxConnections = 4
	}
	db.SetMaxOpenConns(maxConnections)
	db.SetMaxIdleConns(maxConnections)
	db.SetConnMaxLifetime(time.Hour)

	if err := configurePragmas(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := execSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func configurePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return errors.Wrapf(err, "set pragma %q", pragma)
		}
	}
	return nil
}

func execSchema(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return errors.Wrap(err, "begin schema transaction")
	}
	defer tx.Rollback()

	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := tx.Exec(stmt); err != nil {
			return errors.Wrapf(err, "execute schema statement %q", stmt)
		}
	}

	return errors.Wrap(tx.Commit(), "commit schema transaction")
}

func (s *Store) Record(ctx context.Context, e Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, insertEntryQuery,
		e.RequestID, e.Source, e.Code, e.Success, e.Duration.Milliseconds(), e.CreatedAt.UTC())
	return errors.Wrap(err, "insert request entry")
}

func (s *Store) Stats(ctx context.Context, since time.Time) (*Stats, error) {
	stats := &Stats{
		Since:    since.UTC(),
		ByCode:   map[int]int{},
		BySource: map[string]int{},
	}

	err := s.db.QueryRowContext(ctx, totalsQuery, since.UTC()).
		Scan(&stats.Total, &stats.Succeeded, &stats.AvgDurationMs)
	if err != nil {
		return nil, errors.Wrap(err, "query totals")
	}
	stats.Failed = stats.Total - stats.Succeeded

	rows, err := s.db.QueryContext(ctx, byCodeQuery, since.UTC())
	if err != nil {
		return nil, errors.Wrap(err, "query codes")
	}
	for rows.Next() {
		var code, count int
		if err := rows.Scan(&code, &count); err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "scan code row")
		}
		stats.ByCode[code] = count
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate codes")
	}

	rows, err = s.db.QueryContext(ctx, bySourceQuery, since.UTC())
	if err != nil {
		return nil, errors.Wrap(err, "query sources")
	}
	defer rows.Close()
	for rows.Next() {
		var source string
		var count int
		if err := rows.Scan(&source, &count); err != nil {
			return nil, errors.Wrap(err, "scan source row")
		}
		stats.BySource[source] = count
	}
	return stats, errors.Wrap(rows.Err(), "iterate sources")
}

// Prune deletes entries older than cutoff and reports how many were removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, pruneQuery, cutoff.UTC())
	if err != nil {
		return 0, errors.Wrap(err, "prune entries")
	}
	n, err := res.RowsAffected()
	return n, errors.Wrap(err, "rows affected")
}

func (s *Store) Close() error {
	return s.db.Close()
}
