package migration

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"github.com/pkg/errors"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
	"github.com/stanstork/datafactory/internal/database"
)

// Embed SQL files from the local migrations folder, one directory per dialect.
//
//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var embeddedMigrations embed.FS

func provider(db *sql.DB, dialect database.Dialect) (*goose.Provider, error) {
	var gooseDialect goose.Dialect
	switch dialect {
	case database.SQLite:
		gooseDialect = goose.DialectSQLite3
	case database.Postgres:
		gooseDialect = goose.DialectPostgres
	default:
		return nil, fmt.Errorf("no migrations for dialect %q", dialect)
	}

	fsys, err := fs.Sub(embeddedMigrations, "migrations/"+string(dialect))
	if err != nil {
		return nil, err
	}
	return goose.NewProvider(gooseDialect, db, fsys)
}

// Up applies every pending migration and logs each one applied.
func Up(ctx context.Context, db *sql.DB, dialect database.Dialect, logger zerolog.Logger) error {
	p, err := provider(db, dialect)
	if err != nil {
		return errors.Wrap(err, "failed to prepare migrations")
	}

	results, err := p.Up(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to run migrations")
	}
	for _, r := range results {
		logger.Info().
			Str("migration", r.Source.Path).
			Dur("duration", r.Duration).
			Msg("Applied migration")
	}

	version, err := p.GetDBVersion(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to read schema version")
	}
	logger.Info().Int64("version", version).Msg("Migrations completed successfully")
	return nil
}
