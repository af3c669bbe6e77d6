package repository

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DatabaseOptions controls the connection pool and gorm logging.
type DatabaseOptions struct {
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	LogLevel        string
}

// Database bundles the gorm handle with the pgx pool backing it, if any.
type Database struct {
	DB   *gorm.DB
	pool *pgxpool.Pool
}

// OpenPostgres connects through a pgx pool and hands gorm a database/sql
// view of it.
func OpenPostgres(ctx context.Context, url string, opts DatabaseOptions) (*Database, error) {
	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	if opts.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(opts.MaxOpenConns)
	}
	if opts.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = opts.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB := stdlib.OpenDBFromPool(pool)
	if opts.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	}

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), gormConfig(opts.LogLevel))
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to open gorm: %w", err)
	}

	slog.Info("Connected to database", "driver", "postgres", "max_conns", poolConfig.MaxConns)
	return &Database{DB: db, pool: pool}, nil
}

// OpenSQLite opens a pure-Go SQLite database. Used for local runs without
// Postgres and by the tests.
func OpenSQLite(path string, opts DatabaseOptions) (*Database, error) {
	db, err := gorm.Open(sqlite.Open(path), gormConfig(opts.LogLevel))
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql db: %w", err)
	}
	// SQLite allows a single writer.
	sqlDB.SetMaxOpenConns(1)

	slog.Info("Connected to database", "driver", "sqlite", "path", path)
	return &Database{DB: db}, nil
}

func (d *Database) Ping(ctx context.Context) error {
	if d.pool != nil {
		return d.pool.Ping(ctx)
	}
	sqlDB, err := d.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (d *Database) Close() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return err
	}
	err = sqlDB.Close()
	if d.pool != nil {
		d.pool.Close()
	}
	return err
}

func gormConfig(level string) *gorm.Config {
	return &gorm.Config{
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
		Logger: logger.Default.LogMode(parseLogLevel(level)),
	}
}

func parseLogLevel(level string) logger.LogLevel {
	switch strings.ToLower(level) {
	case "error":
		return logger.Error
	case "warn":
		return logger.Warn
	case "info":
		return logger.Info
	default:
		return logger.Silent
	}
}
