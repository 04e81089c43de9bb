// Package storage is the transaction boundary and persistence layer of the
// osmChange upload engine (spec.md §4.8, §6). It wraps a Dolt database —
// embedded via github.com/dolthub/driver, or a running dolt sql-server via
// github.com/go-sql-driver/mysql — behind a single *sql.DB, mirroring the
// dual embedded/server mode of internal/storage/dolt/store.go.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/dolthub/driver"
	_ "github.com/go-sql-driver/mysql"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Config selects and configures the storage engine.
type Config struct {
	// Path is the embedded Dolt database directory. Ignored when ServerMode is set.
	Path string
	// Database is the schema name within Dolt.
	Database string

	ServerMode     bool
	ServerHost     string
	ServerPort     int
	ServerUser     string
	ServerPassword string

	// LockTimeout is defaulted to 15s by New and kept on the Store; it is not
	// read afterwards. beginUpload takes the changeset advisory-lock timeout
	// from the upload's config.Limits.ChangesetLockTimeout (§4.3, §5).
	LockTimeout time.Duration
}

func (c Config) dsn() string {
	if c.ServerMode {
		host := c.ServerHost
		if host == "" {
			host = "127.0.0.1"
		}
		port := c.ServerPort
		if port == 0 {
			port = 3307
		}
		user := c.ServerUser
		if user == "" {
			user = "root"
		}
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&multiStatements=true",
			user, c.ServerPassword, host, port, c.Database)
	}
	return fmt.Sprintf("file://%s?commitname=osmupload&commitemail=osmupload@localhost&database=%s", c.Path, c.Database)
}

func (c Config) driverName() string {
	if c.ServerMode {
		return "mysql"
	}
	return "dolt"
}

// Store is the process-wide handle to the persistence layer: one pooled
// *sql.DB plus the instrumentation every upload session shares.
type Store struct {
	db     *sql.DB
	cfg    Config
	tracer trace.Tracer
	meter  metric.Meter

	lockWait metric.Float64Histogram
}

// New opens the configured storage engine and ensures its schema exists.
// Embedded mode sets SetMaxOpenConns(1): Dolt's embedded engine is
// single-writer, the same constraint internal/storage/dolt/store_embedded.go
// enforces for the same reason.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Database == "" {
		cfg.Database = "osm"
	}
	if cfg.LockTimeout == 0 {
		cfg.LockTimeout = 15 * time.Second
	}

	db, err := sql.Open(cfg.driverName(), cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("open storage engine: %w", err)
	}
	if !cfg.ServerMode {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	}

	pingCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping storage engine: %w", err)
	}

	if err := initSchemaOnDB(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	meter := otel.Meter("osmupload/storage")
	lockWait, err := meter.Float64Histogram("osmupload.changeset.lock_wait_ms",
		metric.WithDescription("Time spent waiting to acquire a changeset's advisory lock"))
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("register lock wait histogram: %w", err)
	}

	return &Store{
		db:       db,
		cfg:      cfg,
		tracer:   otel.Tracer("osmupload/storage"),
		meter:    meter,
		lockWait: lockWait,
	}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}
