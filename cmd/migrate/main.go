package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"companyauth.org/internal/migrate"
	"companyauth.org/internal/obs"
	"companyauth.org/internal/store/pg"
	migrations "companyauth.org/ops/migrations"
)

func main() {
	_ = godotenv.Load()

	var (
		dsn            = flag.String("dsn", os.Getenv("COMPANYAUTH_PG_DSN"), "PostgreSQL DSN")
		migrationsPath = flag.String("migrations", "", "directory of SQL migrations (default: embedded)")
		seedsPath      = flag.String("seeds", "", "directory of SQL seeds (default: embedded)")
		timeout        = flag.Duration("timeout", 30*time.Second, "overall timeout")
	)
	flag.Parse()

	logger := obs.SetupLogger(os.Stderr, os.Getenv("COMPANYAUTH_LOG_LEVEL"), "text", "migrate")

	if *dsn == "" {
		fatal(logger, "missing DSN: provide via -dsn or COMPANYAUTH_PG_DSN")
	}
	if flag.NArg() == 0 {
		fatal(logger, "usage: migrate [-dsn DSN] up|down|seed|status")
	}

	var sqlFS fs.FS = migrations.SQL
	if *migrationsPath != "" {
		sqlFS = os.DirFS(*migrationsPath)
	}
	var seedFS fs.FS = migrations.Seeds
	if *seedsPath != "" {
		seedFS = os.DirFS(*seedsPath)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	store, err := pg.Open(*dsn, pg.PoolConfig{MaxOpenConns: 2, MaxIdleConns: 1})
	if err != nil {
		fatal(logger, "open db", slog.Any("error", err))
	}
	defer store.Close()

	mgr := migrate.NewManager(store.DB(), sqlFS, seedFS, migrate.WithLogger(logger))

	cmd := flag.Arg(0)
	switch cmd {
	case "up":
		err = mgr.Up(ctx)
	case "down":
		err = mgr.Down(ctx)
		if errors.Is(err, migrate.ErrNothingApplied) {
			logger.Info("nothing to roll back")
			err = nil
		}
	case "seed":
		err = mgr.Seed(ctx)
	case "status":
		var history []string
		history, err = mgr.Status(ctx)
		for _, item := range history {
			fmt.Println(item)
		}
	default:
		fatal(logger, "unknown command", slog.String("command", cmd))
	}
	if err != nil {
		fatal(logger, "migrate failed", slog.String("command", cmd), slog.Any("error", err))
	}
}

func fatal(logger *slog.Logger, msg string, attrs ...any) {
	logger.Error(msg, attrs...)
	os.Exit(1)
}
