//go:build wireinject
// +build wireinject

package di

import (
	"context"

	"github.com/google/wire"

	"github.com/ArpitMishra17/active-graph-kg/infrastructure/config"
)

// InitializeContainer builds the full dependency graph for one process.
func InitializeContainer(ctx context.Context, cfg *config.Config) (*Container, error) {
	wire.Build(SuperSet)
	return nil, nil
}
