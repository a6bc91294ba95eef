package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"companyauth.org/internal/audit"
	"companyauth.org/internal/auth"
	"companyauth.org/internal/config"
	"companyauth.org/internal/httpapi"
	"companyauth.org/internal/migrate"
	"companyauth.org/internal/obs"
	"companyauth.org/internal/store/memory"
	"companyauth.org/internal/store/pg"
	migrations "companyauth.org/ops/migrations"
)

var (
	version = "0.1.0"
	commit  = "unknown"
)

func main() {
	if err := run(); err != nil {
		slog.Error("companyauth exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	configPath := flag.String("config", os.Getenv("COMPANYAUTH_CONFIG"), "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	logger := obs.SetupLogger(os.Stdout, cfg.Logging.Level, cfg.Logging.Format, version)
	obs.Init()
	obs.InitBuildInfo(version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, db, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	settings, err := cfg.AuthSettings()
	if err != nil {
		return fmt.Errorf("auth settings: %w", err)
	}
	components, err := auth.Assemble(store, settings, nil, auth.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("assemble auth: %w", err)
	}
	defer components.Close()

	if err := bootstrapAdmin(ctx, components, cfg.Bootstrap, logger); err != nil {
		return err
	}

	ready := httpapi.ReadyProbe{DB: db}
	opts := []httpapi.Option{
		httpapi.WithVersion(version),
		httpapi.WithMaxBodyBytes(cfg.Server.MaxBodyBytes),
		httpapi.WithCORSOrigins(cfg.CORS.AllowedOrigins),
	}
	if rl := cfg.RateLimit; rl.Enabled {
		opts = append(opts,
			httpapi.WithRateLimit(rl.RPS, rl.Burst, rl.TrustProxies),
			httpapi.WithLoginRateLimit(rl.LoginPerMin, rl.LoginBurst, rl.TrustProxies),
		)
	}
	api := httpapi.New(httpapi.Deps{
		Service:   components.Service,
		Engine:    components.Engine,
		Catalog:   components.Catalog,
		Validator: components.Validator,
		Audit:     audit.New(logger),
		Ready:     ready,
		Logger:    logger,
	}, opts...)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	grpcSrv := httpapi.NewGRPCServer(ready, logger)
	errCh := make(chan error, 2)

	if cfg.Server.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		go grpcSrv.WatchReadiness(ctx, 10*time.Second)
		go func() {
			logger.Info("grpc server starting", slog.String("addr", cfg.Server.GRPCAddr))
			if err := grpcSrv.Server().Serve(lis); err != nil {
				errCh <- fmt.Errorf("grpc serve: %w", err)
			}
		}()
	}

	go func() {
		logger.Info("http server starting", slog.String("addr", srv.Addr), slog.String("store", storeKind(db)))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http listen: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		logger.Error("server failed", slog.Any("error", err))
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", slog.Any("error", err))
	}
	grpcSrv.Shutdown()
	logger.Info("stopped")
	return nil
}

// openStore connects to PostgreSQL when a DSN is configured and falls back
// to the seeded in-memory store otherwise.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (auth.Store, *sql.DB, error) {
	if cfg.Database.DSN == "" {
		logger.Warn("no database configured; using in-memory store")
		return memory.NewSeeded(), nil, nil
	}
	store, err := pg.Open(cfg.Database.DSN, pg.PoolConfig{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("open db: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := store.Ping(pingCtx); err != nil {
		_ = store.Close()
		return nil, nil, fmt.Errorf("ping db: %w", err)
	}
	if cfg.Database.AutoMigrate {
		mgr := migrate.NewManager(store.DB(), migrations.SQL, migrations.Seeds, migrate.WithLogger(logger))
		if err := mgr.Up(ctx); err != nil {
			_ = store.Close()
			return nil, nil, fmt.Errorf("migrate up: %w", err)
		}
		if err := mgr.Seed(ctx); err != nil {
			_ = store.Close()
			return nil, nil, fmt.Errorf("seed: %w", err)
		}
	}
	return store, store.DB(), nil
}

func storeKind(db *sql.DB) string {
	if db == nil {
		return "memory"
	}
	return "postgres"
}
