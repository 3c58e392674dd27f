// Package main implements sponsord, the gas sponsorship service: it
// resolves sponsorship policies, splits execution costs between payer and
// sponsor, and submits atomic batches with sponsored-to-direct fallback.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/ThePsalmsLabs/oneseed-sponsorship/internal/chain"
	"github.com/ThePsalmsLabs/oneseed-sponsorship/internal/config"
	"github.com/ThePsalmsLabs/oneseed-sponsorship/internal/httpapi"
	"github.com/ThePsalmsLabs/oneseed-sponsorship/internal/logging"
	"github.com/ThePsalmsLabs/oneseed-sponsorship/internal/middleware"
	"github.com/ThePsalmsLabs/oneseed-sponsorship/internal/sponsorship"
	"github.com/ThePsalmsLabs/oneseed-sponsorship/internal/submit"
	"github.com/ThePsalmsLabs/oneseed-sponsorship/internal/usage"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "Path to configuration file")
	migrateOnly := flag.Bool("migrate", false, "Run database migrations and exit")
	flag.Parse()

	// Missing .env is fine; the environment may be set directly.
	_ = godotenv.Load()

	cfg, err := config.LoadFromPath(*configPath)
	if err != nil {
		log.Printf("config %s unavailable (%v), using defaults", *configPath, err)
		cfg = config.LoadOrDefault()
	}

	logger := logging.NewWithConfig(logging.Config{
		Service: "sponsord",
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
	})
	ctx := context.Background()

	if *migrateOnly {
		if err := runMigrations(cfg); err != nil {
			log.Fatalf("migrations: %v", err)
		}
		logger.Info(ctx, "migrations applied", nil)
		return
	}

	store, cleanup, err := buildStore(cfg)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer cleanup()

	catalog, err := cfg.Catalog()
	if err != nil {
		log.Fatalf("policy catalog: %v", err)
	}

	usageMgr := usage.NewManager(store, logger).WithReservationTTL(cfg.Sponsorship.ReservationTTL)
	if err := usageMgr.StartJanitor(); err != nil {
		log.Fatalf("usage janitor: %v", err)
	}
	defer usageMgr.StopJanitor()

	resolver := sponsorship.NewResolver(catalog, usageMgr)

	client, err := chain.NewClient(chain.ClientConfig{
		RPCURL:  cfg.Chain.RPCURL,
		Timeout: cfg.Chain.Timeout,
	})
	if err != nil {
		log.Fatalf("chain client: %v", err)
	}

	direct := chain.NewDirectChannel(client, chain.DirectConfig{
		Account: cfg.Chain.DirectAccount,
	})

	var sponsored chain.Channel
	if cfg.Chain.SponsorAccount != "" {
		sponsored = chain.NewSponsoredChannel(client, chain.SponsoredConfig{
			SponsorAccount:    cfg.Chain.SponsorAccount,
			RequestsPerSecond: cfg.Chain.SponsorRPS,
			Burst:             cfg.Chain.SponsorBurst,
		})
	} else {
		logger.Warn(ctx, "no sponsor account configured, sponsored channel disabled", nil)
	}

	orchestrator, err := submit.New(submit.Config{
		Resolver:  resolver,
		Usage:     usageMgr,
		Sponsored: sponsored,
		Direct:    direct,
		Logger:    logger,
	})
	if err != nil {
		log.Fatalf("orchestrator: %v", err)
	}

	handler := httpapi.NewHandler(httpapi.Config{
		Orchestrator: orchestrator,
		Resolver:     resolver,
		Usage:        usageMgr,
		Accounts:     chain.NewAccountReader(client),
		Logger:       logger,
	})

	router := mux.NewRouter()
	router.Use(middleware.TracingMiddleware(logger))
	router.Use(middleware.MetricsMiddleware())
	if cfg.Auth.Enabled {
		auth := middleware.NewAuthMiddleware(cfg.Auth.JWTSecret, logger, []string{"/health", "/metrics"})
		router.Use(auth.Handler)
	}
	limiter := middleware.NewRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst, logger)
	limiter.StartCleanup(10 * time.Minute)
	router.Use(limiter.Handler)
	handler.Register(router)

	server := &http.Server{
		Addr:         cfg.Server.ListenAddr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info(ctx, "server listening", map[string]interface{}{"addr": cfg.Server.ListenAddr})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info(ctx, "shutting down", nil)
	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "graceful shutdown failed", map[string]interface{}{"error": err.Error()})
	}
}

// buildStore constructs the usage store selected by the configuration and
// returns a cleanup func for its underlying connections.
func buildStore(cfg *config.Config) (usage.Store, func(), error) {
	switch cfg.Store.Driver {
	case config.StoreMemory:
		return usage.NewMemoryStore(), func() {}, nil

	case config.StorePostgres:
		db, err := sql.Open("postgres", cfg.Store.Postgres.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		db.SetMaxOpenConns(cfg.Store.Postgres.MaxOpenConns)
		db.SetConnMaxLifetime(cfg.Store.Postgres.ConnMaxLifetime)
		if err := db.Ping(); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("ping postgres: %w", err)
		}
		if cfg.Store.Postgres.RunMigrations {
			if err := runMigrations(cfg); err != nil {
				db.Close()
				return nil, nil, err
			}
		}
		return usage.NewPostgresStore(db), func() { db.Close() }, nil

	case config.StoreRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Store.Redis.Addr,
			Password: cfg.Store.Redis.Password,
			DB:       cfg.Store.Redis.DB,
		})
		if err := client.Ping(context.Background()).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("ping redis: %w", err)
		}
		return usage.NewRedisStore(client), func() { client.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// runMigrations applies the SQL migrations to the postgres usage store.
func runMigrations(cfg *config.Config) error {
	db, err := sql.Open("postgres", cfg.Store.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		"file://"+cfg.Store.Postgres.MigrationsPath,
		"postgres", driver,
	)
	if err != nil {
		return fmt.Errorf("migration setup: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}
