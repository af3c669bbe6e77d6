package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/3than777/Elocutionist-sub004/repository"
	"github.com/3than777/Elocutionist-sub004/services"
)

func main() {
	// Setup structured logging with JSON format
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	config := services.LoadConfig()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := openDatabase(ctx, config.Database)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	server := services.NewServer(config, db)
	if err := server.InitializeServices(ctx); err != nil {
		slog.Error("Failed to initialize services", "error", err)
		os.Exit(1)
	}

	if err := server.Start(ctx); err != nil {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}
}

// openDatabase uses Postgres when DATABASE_URL is set and a local SQLite
// file otherwise.
func openDatabase(ctx context.Context, cfg services.DatabaseConfig) (*repository.Database, error) {
	opts := repository.DatabaseOptions{
		MaxIdleConns: cfg.MaxIdleConns,
		MaxOpenConns: cfg.MaxOpenConns,
		LogLevel:     cfg.LogLevel,
	}
	if cfg.URL != "" {
		return repository.OpenPostgres(ctx, cfg.URL, opts)
	}
	slog.Warn("Database URL not configured, using SQLite", "path", cfg.SQLitePath)
	return repository.OpenSQLite(cfg.SQLitePath, opts)
}
