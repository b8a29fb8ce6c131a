// Package repomanager provides a concrete RepositoryManager for PostgreSQL,
// wiring together repository constructors and database migrations (via goose).
package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/adpipe/internal/dbx"
	"github.com/dmitrijs2005/adpipe/internal/migrations"
	"github.com/dmitrijs2005/adpipe/internal/repositories/adsetlinks"
	"github.com/dmitrijs2005/adpipe/internal/repositories/adsetpool"
	"github.com/dmitrijs2005/adpipe/internal/repositories/creatives"
	"github.com/dmitrijs2005/adpipe/internal/repositories/directions"
	"github.com/dmitrijs2005/adpipe/internal/repositories/mappings"
	"github.com/dmitrijs2005/adpipe/internal/repositories/settings"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// PostgresRepositoryManager vends PostgreSQL-backed repository implementations
// and exposes a schema migration hook.
type PostgresRepositoryManager struct{}

func (m *PostgresRepositoryManager) Directions(db dbx.DBTX) directions.Repository {
	return directions.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Creatives(db dbx.DBTX) creatives.Repository {
	return creatives.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Settings(db dbx.DBTX) settings.Repository {
	return settings.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Mappings(db dbx.DBTX) mappings.Repository {
	return mappings.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) AdSetLinks(db dbx.DBTX) adsetlinks.Repository {
	return adsetlinks.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) AdSetPool(db dbx.DBTX) adsetpool.Repository {
	return adsetpool.NewPostgresRepository(db)
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations sets up goose with the embedded migrations and runs them
// against the provided database connection.
func (m *PostgresRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	return gooseUpContext(ctx, db, ".")
}

// NewPostgresRepositoryManager constructs a PostgreSQL-backed RepositoryManager.
func NewPostgresRepositoryManager() RepositoryManager {
	return &PostgresRepositoryManager{}
}

// OpenPostgres opens a pgx-backed *sql.DB and checks connectivity.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
