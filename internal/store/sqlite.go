package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/engramhq/engram/internal/domain"
	sqlite "modernc.org/sqlite"
)

// DB wraps the embedded database handle. SQLite allows one writer at a time;
// writeMu serializes every mutating call so concurrent API requests queue
// instead of tripping SQLITE_BUSY, while WAL keeps readers unblocked.
type DB struct {
	sql     *sql.DB
	writeMu sync.Mutex
	dims    int
	path    string
	lock    *processLock
}

// Open prepares the database file at path: parent directory, exclusive
// process lock, pragmas, and migrations. dims is the embedding width used to
// validate stored vectors.
func Open(path string, dims int) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	lock, err := acquireLock(lockPath(path))
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		lock.release()
		return nil, domain.Errorf(domain.KindStoreUnavailable, "open database: %v", err)
	}

	if err := enablePragmas(db); err != nil {
		db.Close()
		lock.release()
		return nil, domain.Errorf(domain.KindStoreUnavailable, "enable pragmas: %v", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		lock.release()
		return nil, err
	}

	return &DB{sql: db, dims: dims, path: path, lock: lock}, nil
}

func lockPath(dbPath string) string {
	return filepath.Join(filepath.Dir(dbPath), "engram.lock")
}

func enablePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	return nil
}

func (d *DB) Ping(ctx context.Context) error {
	return d.sql.PingContext(ctx)
}

func (d *DB) Close() error {
	err := d.sql.Close()
	if d.lock != nil {
		d.lock.release()
	}
	return err
}

// isDuplicateErr reports a primary-key or unique constraint violation.
func isDuplicateErr(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	// SQLITE_CONSTRAINT_PRIMARYKEY and SQLITE_CONSTRAINT_UNIQUE.
	return se.Code() == 1555 || se.Code() == 2067
}
