package store

import (
	"context"
	"fmt"

	"techstore/config"
)

// Open connects the repository selected by cfg.Driver.
func Open(ctx context.Context, cfg config.DatabaseConfig) (Repository, error) {
	switch cfg.Driver {
	case "mongo":
		return NewMongoStore(ctx, cfg.MongoURI, cfg.MongoDatabase)
	case "postgres":
		return NewPostgresStore(ctx, cfg.PostgresURL)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}
