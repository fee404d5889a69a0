package store

import (
	"database/sql"
	"fmt"

	"github.com/engramhq/engram/internal/domain"
	"github.com/engramhq/engram/migrations"
	"github.com/pressly/goose/v3"
)

// latestSchemaVersion tracks the highest migration this binary ships. Bump it
// alongside every new file in migrations/.
const latestSchemaVersion = 1

func runMigrations(db *sql.DB) error {
	goose.SetLogger(goose.NopLogger())
	goose.SetBaseFS(migrations.FS)

	if err := goose.SetDialect("sqlite"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	version, err := goose.GetDBVersion(db)
	if err != nil {
		return domain.Errorf(domain.KindStoreUnavailable, "read schema version: %v", err)
	}
	if version > latestSchemaVersion {
		return domain.Errorf(domain.KindSchemaMismatch,
			"database schema version %d is newer than this binary supports (%d)", version, latestSchemaVersion)
	}

	if err := goose.Up(db, "."); err != nil {
		return domain.Errorf(domain.KindStoreUnavailable, "run migrations: %v", err)
	}

	return nil
}
