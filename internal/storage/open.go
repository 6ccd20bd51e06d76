package storage

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"                      // "sqlite3"
	_ "github.com/tursodatabase/libsql-client-go/libsql" // "libsql"
	_ "modernc.org/sqlite"                               // "sqlite"

	"github.com/runnerr0/visitortrack/internal/config"
)

// dataSourceName builds the driver-specific DSN for cfg. Local SQLite files
// get a busy timeout and BEGIN IMMEDIATE transactions so concurrent upserts
// queue on the write lock instead of failing with SQLITE_BUSY.
func dataSourceName(cfg config.StorageConfig) (string, error) {
	switch cfg.Driver {
	case config.DriverSQLite3:
		path, err := localPath(cfg.Path)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s?_busy_timeout=%d&_txlock=immediate&_journal_mode=WAL&_foreign_keys=on",
			path, cfg.BusyTimeoutMS), nil

	case config.DriverSQLite:
		path, err := localPath(cfg.Path)
		if err != nil {
			return "", err
		}
		q := url.Values{}
		q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", cfg.BusyTimeoutMS))
		q.Add("_pragma", "journal_mode(WAL)")
		q.Add("_pragma", "foreign_keys(1)")
		q.Set("_txlock", "immediate")
		return "file:" + path + "?" + q.Encode(), nil

	case config.DriverLibSQL:
		if cfg.URL == "" {
			return "", fmt.Errorf("libsql driver requires storage.url")
		}
		if cfg.AuthToken == "" {
			return cfg.URL, nil
		}
		sep := "?"
		if strings.Contains(cfg.URL, "?") {
			sep = "&"
		}
		return cfg.URL + sep + "authToken=" + url.QueryEscape(cfg.AuthToken), nil

	default:
		return "", fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// localPath expands ~ and creates the parent directory of a database file.
func localPath(path string) (string, error) {
	expanded, err := config.ExpandPath(path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0755); err != nil {
		return "", fmt.Errorf("create database directory: %w", err)
	}
	return expanded, nil
}

// Open opens the configured database, bounds its connection pool to
// cfg.PoolSize and verifies it with a ping.
func Open(ctx context.Context, cfg config.StorageConfig) (*sql.DB, error) {
	dsn, err := dataSourceName(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.PoolSize)
	db.SetMaxIdleConns(cfg.PoolSize)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return db, nil
}

// OpenStore opens the configured database and returns a store that owns it.
// The schema is not touched; call EnsureSchema before serving.
func OpenStore(ctx context.Context, cfg config.StorageConfig) (*SQLiteStore, error) {
	db, err := Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var opts []StoreOption
	if cfg.Driver == config.DriverLibSQL {
		opts = append(opts, WithMigrationOptions(WithoutPragmas()))
	}

	return NewSQLiteStore(db, opts...), nil
}
