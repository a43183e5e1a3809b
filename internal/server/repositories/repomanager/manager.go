// Package repomanager wires the SQL repositories to a database handle and
// applies the embedded goose migrations.
package repomanager

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/gophauth/internal/dbx"
	"github.com/dmitrijs2005/gophauth/internal/server/migrations"
	"github.com/dmitrijs2005/gophauth/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/gophauth/internal/server/repositories/users"
	"github.com/pressly/goose/v3"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX, opts ...users.Option) users.Repository
	RefreshTokens(db dbx.DBTX, opts ...refreshtokens.Option) refreshtokens.Repository
}

// SQLRepositoryManager vends SQL-backed repositories for one database driver.
type SQLRepositoryManager struct {
	dialect string
}

// NewSQLRepositoryManager returns a manager for driver (dbx.DriverPostgres or
// dbx.DriverSQLite).
func NewSQLRepositoryManager(driver string) (RepositoryManager, error) {
	var dialect string
	switch driver {
	case dbx.DriverPostgres:
		dialect = "postgres"
	case dbx.DriverSQLite:
		dialect = "sqlite3"
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	return &SQLRepositoryManager{dialect: dialect}, nil
}

// Users returns a users.Repository bound to the provided DBTX.
func (m *SQLRepositoryManager) Users(db dbx.DBTX, opts ...users.Option) users.Repository {
	return users.NewSQLRepository(db, opts...)
}

// RefreshTokens returns a refreshtokens.Repository bound to the provided DBTX.
func (m *SQLRepositoryManager) RefreshTokens(db dbx.DBTX, opts ...refreshtokens.Option) refreshtokens.Repository {
	return refreshtokens.NewSQLRepository(db, opts...)
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations sets up goose with the embedded migrations and runs them
// against the provided database connection.
func (m *SQLRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect(m.dialect); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}
	if err := gooseUpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	return nil
}
