package repository

import (
	"context"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/joseph-ayodele/docparse/internal/common"
)

// Catalog is an opened result catalog plus the handles needed to close it.
type Catalog struct {
	Results ResultRepository
	drv     *entsql.Driver
	pool    *pgxpool.Pool
	logger  *slog.Logger
}

// OpenCatalog connects to Postgres when cfg.DSN is set, otherwise to the
// SQLite file at cfg.SQLitePath, and ensures the schema exists. It returns
// nil, nil when neither is configured.
func OpenCatalog(ctx context.Context, cfg common.DatabaseConfig, logger *slog.Logger) (*Catalog, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Catalog{logger: logger}
	var err error
	switch {
	case cfg.DSN != "":
		c.drv, c.pool, err = Open(ctx, cfg, logger)
	case cfg.SQLitePath != "":
		c.drv, err = OpenSQLite(cfg.SQLitePath, logger)
	default:
		logger.Info("result catalog disabled")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := HealthCheck(ctx, c.drv, 5*time.Second, logger); err != nil {
		c.Close()
		return nil, err
	}
	c.Results = NewResultRepository(c.drv, logger)
	if err := c.Results.EnsureSchema(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// Close releases the driver and, for Postgres, the pool. It is nil-safe.
func (c *Catalog) Close() {
	if c == nil {
		return
	}
	Close(c.drv, c.pool, c.logger)
}
