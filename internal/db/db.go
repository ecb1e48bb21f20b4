package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/concordchat/concord/internal/config"
)

// Open connects a pgx pool using the configured PostgreSQL parameters.
func Open(ctx context.Context, cfg config.PostgresConfig) (*pgxpool.Pool, error) {
	return pgxpool.New(ctx, DSN(cfg))
}
