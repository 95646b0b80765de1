package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	pkgerrors "github.com/ArpitMishra17/active-graph-kg/pkg/errors"
)

// Row-level security modes. Auto probes the database; on refuses to
// start without policies; off is honored only when no policies exist.
const (
	RLSModeAuto = "auto"
	RLSModeOn   = "on"
	RLSModeOff  = "off"
)

// DetectRLS reports whether tenant isolation policies are installed on
// the nodes table.
func DetectRLS(ctx context.Context, pool *pgxpool.Pool) (bool, error) {
	var count int
	err := pool.QueryRow(ctx,
		`SELECT count(*) FROM pg_policies WHERE tablename = 'nodes'`).Scan(&count)
	if err != nil {
		return false, pkgerrors.NewStorageError("probe row level security", err)
	}
	return count > 0, nil
}

// ResolveRLSMode reconciles the configured mode with the probe result.
// The stricter side always wins: asking for off while policies exist
// keeps enforcement on rather than silently weakening isolation.
func ResolveRLSMode(mode string, detected bool) (bool, error) {
	switch mode {
	case RLSModeOn:
		if !detected {
			return false, pkgerrors.NewConfigError(
				"RLS_MODE=on but no tenant isolation policies are installed; run migrations first")
		}
		return true, nil
	case RLSModeOff:
		return detected, nil
	case RLSModeAuto, "":
		return detected, nil
	default:
		return false, pkgerrors.NewConfigError(fmt.Sprintf("unknown RLS_MODE %q", mode))
	}
}

// SetupRLS probes the database, reconciles with the configured mode,
// and logs the outcome. Called once at startup.
func SetupRLS(ctx context.Context, pool *pgxpool.Pool, mode string, logger *zap.Logger) (bool, error) {
	detected, err := DetectRLS(ctx, pool)
	if err != nil {
		return false, err
	}
	enabled, err := ResolveRLSMode(mode, detected)
	if err != nil {
		return false, err
	}
	if mode == RLSModeOff && enabled {
		logger.Warn("RLS_MODE=off requested but tenant isolation policies are installed; keeping enforcement on")
	} else {
		logger.Info("row level security resolved",
			zap.String("mode", mode),
			zap.Bool("detected", detected),
			zap.Bool("enabled", enabled))
	}
	return enabled, nil
}
