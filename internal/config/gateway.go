package config

import (
	"context"
	"fmt"

	"github.com/onionrecon/core/internal/storage"
	"github.com/onionrecon/core/internal/storage/postgres"
	"github.com/onionrecon/core/internal/storage/sqlite"
)

// OpenGateway opens the storage.Gateway named by c.DatabaseDriver ("postgres"
// or "sqlite"), so every cmd/ binary shares one driver-selection path
// instead of each reimplementing the switch.
func OpenGateway(ctx context.Context, c Config) (storage.Gateway, func() error, error) {
	switch c.DatabaseDriver {
	case "sqlite":
		gw, err := sqlite.New(c.DatabaseURL, int(c.DBMaxConns))
		if err != nil {
			return nil, nil, fmt.Errorf("config: open sqlite gateway: %w", err)
		}
		return gw, gw.Close, nil
	case "postgres", "":
		gw, err := postgres.New(ctx, postgres.Config{DSN: c.DatabaseURL, MaxConns: c.DBMaxConns})
		if err != nil {
			return nil, nil, fmt.Errorf("config: open postgres gateway: %w", err)
		}
		return gw, gw.Close, nil
	default:
		return nil, nil, fmt.Errorf("config: unknown DATABASE_DRIVER %q", c.DatabaseDriver)
	}
}
