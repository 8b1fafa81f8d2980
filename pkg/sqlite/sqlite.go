package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

type Config struct {
	Path        string `split_words:"true" default:".ss2dbx/sessions.db"`
	BusyTimeout int    `split_words:"true" default:"5000"`
}

// New opens (creating if needed) the database file and pings it.
func (c *Config) New(ctx context.Context) (*sql.DB, error) {
	if c.Path == "" {
		return nil, fmt.Errorf("SQLITE_PATH is not set")
	}
	if c.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(c.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)", c.Path, c.BusyTimeout)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// a single writer keeps sqlite out of SQLITE_BUSY for CLI use
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return db, nil
}
