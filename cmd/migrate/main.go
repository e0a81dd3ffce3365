package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"bookpipeline/internal/platform/logging"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

func main() {
	var (
		command = flag.String("command", "up", "Migration command: up, up-by-one, down, redo, status, version, create")
		name    = flag.String("name", "", "Name for 'create' command")
	)
	flag.Parse()

	loadEnvFiles()

	logger, err := logging.New(logging.Config{Level: os.Getenv("LOG_LEVEL"), Format: "text"}, os.Stderr)
	if err != nil {
		slog.Error("invalid logging configuration", "error", err)
		os.Exit(1)
	}

	if err := run(*command, *name, logger); err != nil {
		logger.Error("migration failed", "command", *command, "error", err)
		os.Exit(1)
	}
}

func run(command, name string, logger *slog.Logger) error {
	dir := migrationsDir()

	if command == "create" {
		if name == "" {
			return fmt.Errorf("name is required for 'create' command")
		}
		if err := goose.Create(nil, dir, name, "sql"); err != nil {
			return err
		}
		logger.Info("migration created", "name", name, "dir", dir)
		return nil
	}
	if !knownCommand(command) {
		return fmt.Errorf("unknown command %q", command)
	}

	dsn := databaseDSN()
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", redactDSN(dsn), err)
	}
	defer pool.Close()

	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	goose.SetBaseFS(nil)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}

	switch command {
	case "up":
		err = goose.Up(db, dir)
	case "up-by-one":
		err = goose.UpByOne(db, dir)
	case "down":
		err = goose.Down(db, dir)
	case "redo":
		err = goose.Redo(db, dir)
	case "status":
		err = goose.Status(db, dir)
	case "version":
		err = goose.Version(db, dir)
	}
	if err != nil {
		return err
	}
	logger.Info("migration command finished", "command", command, "dir", dir)
	return nil
}

func knownCommand(c string) bool {
	switch c {
	case "up", "up-by-one", "down", "redo", "status", "version":
		return true
	}
	return false
}
