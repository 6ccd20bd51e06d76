package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CounterStore defines the visit counter operations.
type CounterStore interface {
	UpsertAndFetch(ctx context.Context, pageURL string) (*Visitor, error)
	Fetch(ctx context.Context, pageURL string) (*Visitor, error)
	FetchAll(ctx context.Context) ([]Visitor, error)
	EnsureSchema(ctx context.Context) error
	Close() error
}

const (
	upsertVisitorSQL = `
		INSERT INTO visitors (page_url, visit_count, last_visited, created_at)
		VALUES (?, 1, ?, ?)
		ON CONFLICT(page_url) DO UPDATE SET
			visit_count  = visit_count + 1,
			last_visited = excluded.last_visited
	`

	selectVisitorSQL = `
		SELECT id, page_url, visit_count, last_visited, created_at
		FROM visitors WHERE page_url = ?
	`

	selectAllVisitorsSQL = `
		SELECT id, page_url, visit_count, last_visited, created_at
		FROM visitors ORDER BY id
	`
)

// SQLiteStore implements CounterStore on a pooled *sql.DB speaking the
// SQLite dialect (mattn/go-sqlite3, modernc.org/sqlite or libsql).
type SQLiteStore struct {
	db            *sql.DB
	migrationOpts []MigrationOption
	now           func() time.Time
}

// StoreOption customises a SQLiteStore.
type StoreOption func(*SQLiteStore)

// WithClock replaces time.Now as the source of visit timestamps.
func WithClock(now func() time.Time) StoreOption {
	return func(s *SQLiteStore) { s.now = now }
}

// WithMigrationOptions passes options through to the MigrationRunner used
// by EnsureSchema.
func WithMigrationOptions(opts ...MigrationOption) StoreOption {
	return func(s *SQLiteStore) { s.migrationOpts = append(s.migrationOpts, opts...) }
}

// NewSQLiteStore wraps an opened database. The store takes ownership of db:
// Close closes it.
func NewSQLiteStore(db *sql.DB, opts ...StoreOption) *SQLiteStore {
	s := &SQLiteStore{db: db, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// EnsureSchema creates the visitors table if it is missing. Safe to call on
// every startup.
func (s *SQLiteStore) EnsureSchema(ctx context.Context) error {
	if err := NewMigrationRunner(s.db, s.migrationOpts...).Run(ctx); err != nil {
		return storeErr("ensure schema", err)
	}
	return nil
}

// parseTimestamp tries several common SQLite timestamp formats.
func parseTimestamp(s string) (time.Time, error) {
	formats := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05Z",
		"2006-01-02 15:04:05",
		"2006-01-02 15:04:05.999999999-07:00",
	}
	for _, f := range formats {
		if t, err := time.Parse(f, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse timestamp: %s", s)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVisitor(row rowScanner) (*Visitor, error) {
	var v Visitor
	var lastVisited, createdAt string
	if err := row.Scan(&v.ID, &v.PageURL, &v.VisitCount, &lastVisited, &createdAt); err != nil {
		return nil, err
	}

	var err error
	if v.LastVisited, err = parseTimestamp(lastVisited); err != nil {
		return nil, fmt.Errorf("last_visited: %w", err)
	}
	if v.CreatedAt, err = parseTimestamp(createdAt); err != nil {
		return nil, fmt.Errorf("created_at: %w", err)
	}
	return &v, nil
}

// UpsertAndFetch increments the counter for pageURL, inserting it with a
// count of 1 when absent, and returns the row as committed. The increment and
// the re-read share one transaction so concurrent callers never lose an
// update. On failure the transaction is rolled back.
func (s *SQLiteStore) UpsertAndFetch(ctx context.Context, pageURL string) (*Visitor, error) {
	ts := s.now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storeErr("begin tx", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, upsertVisitorSQL, pageURL, ts, ts); err != nil {
		return nil, storeErr("upsert visitor", err)
	}

	v, err := scanVisitor(tx.QueryRowContext(ctx, selectVisitorSQL, pageURL))
	if err != nil {
		return nil, storeErr("read back visitor", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, storeErr("commit", err)
	}

	return v, nil
}

// Fetch returns the row for pageURL, or ErrNotFound.
func (s *SQLiteStore) Fetch(ctx context.Context, pageURL string) (*Visitor, error) {
	v, err := scanVisitor(s.db.QueryRowContext(ctx, selectVisitorSQL, pageURL))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, storeErr("get visitor", err)
	}
	return v, nil
}

// FetchAll returns every row ordered by id.
func (s *SQLiteStore) FetchAll(ctx context.Context) ([]Visitor, error) {
	rows, err := s.db.QueryContext(ctx, selectAllVisitorsSQL)
	if err != nil {
		return nil, storeErr("query visitors", err)
	}
	defer rows.Close()

	var visitors []Visitor
	for rows.Next() {
		v, err := scanVisitor(rows)
		if err != nil {
			return nil, storeErr("scan visitor", err)
		}
		visitors = append(visitors, *v)
	}

	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate visitors", err)
	}

	// Return empty slice rather than nil
	if visitors == nil {
		visitors = []Visitor{}
	}

	return visitors, nil
}

// Close closes the underlying database and its connection pool.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
