package postgres

import (
	"context"
	"embed"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	pkgerrors "github.com/ArpitMishra17/active-graph-kg/pkg/errors"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// MigrationResult reports what a migration run did.
type MigrationResult struct {
	FromVersion int64 `json:"from_version"`
	ToVersion   int64 `json:"to_version"`
}

// Migrate applies pending schema migrations. It is idempotent and runs
// on every boot as well as from the admin migrate endpoint.
func Migrate(ctx context.Context, pool *pgxpool.Pool, logger *zap.Logger) (*MigrationResult, error) {
	goose.SetBaseFS(embeddedMigrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("postgres"); err != nil {
		return nil, pkgerrors.NewStorageError("set migration dialect", err)
	}

	// The stdlib wrapper shares the pool's connections; it is not
	// closed here because closing it would tear down the pool.
	db := stdlib.OpenDBFromPool(pool)

	from, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		// First run: the version table does not exist yet.
		from = 0
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return nil, pkgerrors.NewStorageError("apply migrations", err)
	}
	to, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return nil, pkgerrors.NewStorageError("read migration version", err)
	}

	logger.Info("migrations applied",
		zap.Int64("from_version", from),
		zap.Int64("to_version", to))
	return &MigrationResult{FromVersion: from, ToVersion: to}, nil
}
