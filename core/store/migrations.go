package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"

	"resetwatch/core/utils"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationFS embed.FS

func newMigrationProvider(db *sql.DB, dialect Dialect) (*goose.Provider, error) {
	sub := "migrations/sqlite"
	gooseDialect := goose.DialectSQLite3
	if dialect == DialectPostgres {
		sub = "migrations/postgres"
		gooseDialect = goose.DialectPostgres
	}
	fsys, err := fs.Sub(migrationFS, sub)
	if err != nil {
		return nil, fmt.Errorf("migrations sub-fs: %w", err)
	}
	return goose.NewProvider(gooseDialect, db, fsys)
}

func ApplyMigrations(ctx context.Context, db *sql.DB, dialect Dialect, logger *utils.Logger) error {
	provider, err := newMigrationProvider(db, dialect)
	if err != nil {
		return fmt.Errorf("create migration provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	for _, r := range results {
		logger.Printf("migration %s applied in %s", r.Source.Path, r.Duration)
	}
	return nil
}

// SchemaVersion reports the current goose version, 0 for an empty database.
func SchemaVersion(ctx context.Context, db *sql.DB, dialect Dialect) (int64, error) {
	provider, err := newMigrationProvider(db, dialect)
	if err != nil {
		return 0, err
	}
	return provider.GetDBVersion(ctx)
}
