package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/goliatone/go-integrations/migrations"
	persistence "github.com/goliatone/go-persistence-bun"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"
)

// Config satisfies the go-persistence-bun client configuration.
type Config struct {
	Driver         string        `koanf:"driver"`
	DSN            string        `koanf:"dsn"`
	Debug          bool          `koanf:"debug"`
	PingTimeout    time.Duration `koanf:"ping_timeout"`
	MaxOpenConns   int           `koanf:"max_open_conns"`
	OtelIdentifier string        `koanf:"otel_identifier"`
}

func (c Config) GetDebug() bool { return c.Debug }

func (c Config) GetDriver() string { return c.Driver }

func (c Config) GetServer() string { return c.DSN }

func (c Config) GetPingTimeout() time.Duration {
	if c.PingTimeout <= 0 {
		return 5 * time.Second
	}
	return c.PingTimeout
}

func (c Config) GetOtelIdentifier() string {
	if strings.TrimSpace(c.OtelIdentifier) == "" {
		return "go-integrations"
	}
	return c.OtelIdentifier
}

// Open connects to postgres or sqlite and returns a go-persistence-bun client
// with the installation migrations registered for the matching dialect.
func Open(ctx context.Context, cfg Config) (*persistence.Client, error) {
	dialectName, err := migrations.DialectFor(cfg.Driver)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("sqlstore: dsn is required")
	}

	var (
		driverName string
		dialect    schema.Dialect
	)
	switch dialectName {
	case migrations.DialectPostgres:
		driverName, dialect = "postgres", pgdialect.New()
	default:
		driverName, dialect = "sqlite3", sqlitedialect.New()
	}
	cfg.Driver = driverName

	sqlDB, err := sql.Open(driverName, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", driverName, err)
	}
	switch {
	case cfg.MaxOpenConns > 0:
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	case dialectName == migrations.DialectSQLite:
		sqlDB.SetMaxOpenConns(1)
	}

	client, err := persistence.New(cfg, sqlDB, dialect)
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("sqlstore: new persistence client: %w", err)
	}

	_, err = migrations.Register(ctx, func(_ context.Context, _ string, _ string, fsys fs.FS) error {
		client.RegisterSQLMigrations(fsys)
		return nil
	}, migrations.WithValidationTargets(dialectName))
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// OpenAndMigrate opens the client and applies pending migrations.
func OpenAndMigrate(ctx context.Context, cfg Config) (*persistence.Client, error) {
	client, err := Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := client.Migrate(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("sqlstore: migrate: %w", err)
	}
	return client, nil
}
