/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the rental engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env and configuration (YAML file and/or environment)
  2. Initialize SQLite store (migrations run on open)
  3. Wire event observers: metrics, optional Redis cache, optional AMQP
  4. Create API handler and router
  5. Serve until SIGINT/SIGTERM, then shut down gracefully

COMMAND-LINE FLAGS:
  -config  Path to a YAML config file (default: $CONFIG_PATH, else env only)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests (http.shutdown_timeout)
  3. Close publisher, cache and database
  4. Exit

EXAMPLES:
  # Defaults: ./rental.db on :8080
  ./server

  # In-memory database with the summary cache
  DB_PATH=":memory:" REDIS_ENABLED=true ./server

SEE ALSO:
  - config/config.go: All settings and their env variables
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/warp/rental-engine/api"
	"github.com/warp/rental-engine/cache"
	"github.com/warp/rental-engine/config"
	"github.com/warp/rental-engine/generic"
	"github.com/warp/rental-engine/logging"
	"github.com/warp/rental-engine/metrics"
	"github.com/warp/rental-engine/notify"
	"github.com/warp/rental-engine/store/sqlite"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	flag.Parse()

	// A missing .env is normal outside development.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(logging.Config{
		Level:     cfg.Log.Level,
		Format:    cfg.Log.Format,
		Component: "rental-engine",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped with error", logging.Err(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize store
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()

	// Observers
	bus := generic.NewEventBus(logging.WithComponent(logger, "events"))
	m := metrics.New(nil)
	bus.Subscribe(m)

	handler := api.NewHandler(store, bus, logger)
	handler.Metrics = m

	if cfg.Redis.Enabled {
		c, err := cache.Connect(ctx, cfg.Redis)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer c.Close()
		bus.Subscribe(c)
		handler.Cache = c
		logger.Info("summary cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.TTL)
	}

	if cfg.AMQP.Enabled {
		p, err := notify.Dial(cfg.AMQP, logging.WithComponent(logger, "notify"))
		if err != nil {
			return fmt.Errorf("connect amqp: %w", err)
		}
		defer p.Close()
		bus.Subscribe(p)
		logger.Info("change notifications enabled", "exchange", cfg.AMQP.Exchange)
	}

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      api.NewRouter(handler, api.RouterOptions{AllowedOrigins: cfg.HTTP.AllowedOrigins}),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server starting", "addr", server.Addr, "env", cfg.Env, "db", cfg.Database.Path)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}
