package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"

	"github.com/pulsegram/pulsegram/internal/adapter/httpserver"
	"github.com/pulsegram/pulsegram/internal/adapter/postgres"
	"github.com/pulsegram/pulsegram/internal/adapter/redis"
	"github.com/pulsegram/pulsegram/internal/adapter/websocket"
	"github.com/pulsegram/pulsegram/internal/interactions"
	"github.com/pulsegram/pulsegram/internal/platform/config"
	"github.com/pulsegram/pulsegram/internal/platform/logging"
	"github.com/pulsegram/pulsegram/internal/realtime"
	"github.com/pulsegram/pulsegram/internal/store"
)

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupDB(cfg *config.Config) *pgxpool.Pool {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}

	if err := postgres.RunMigrationsWithLock(ctx, pool); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	return pool
}

func setupRedis(ctx context.Context, cfg *config.Config) *redis.Client {
	client, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		slog.Error("Failed to create Redis client", "error", err)
		os.Exit(1)
	}
	if err := client.Ping(ctx); err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	return client
}

func runGracefulShutdown(cfg *config.Config, srv *httpserver.Server, hub *websocket.Hub, engine *interactions.Engine) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		// Hub first so no snapshots are broadcast into closed connections,
		// then the engine drains its command queue.
		hub.Stop()
		engine.Stop()

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.Init(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port, "viewer_id", cfg.ViewerID)

	pool := setupDB(cfg)
	defer pool.Close()

	redisClient := setupRedis(context.Background(), cfg)
	defer func() { _ = redisClient.Close() }()

	transport := redis.NewTransport(redisClient)
	suppressor := redis.NewSuppressor(redisClient)
	registry := realtime.New(transport)

	// Writes flow through the breaker first, then publish their change
	// events. A write the breaker rejects must never reach the wire.
	rowStore := store.NewPublishingStore(
		store.NewBreakerStore(postgres.NewRowStore(pool)),
		transport,
	)

	engine := interactions.NewEngine(cfg.ViewerID, rowStore, registry, clock,
		interactions.WithSuppressor(suppressor),
	)
	engine.Start()

	hub := websocket.NewHub(engine)
	engine.SetBroadcaster(hub)

	healthChecks := []httpserver.HealthCheck{
		{Name: "postgres", Check: pool.Ping},
		{Name: "redis", Check: redisClient.Ping},
	}

	srv := httpserver.NewServer(cfg, engine, hub, healthChecks)

	done := runGracefulShutdown(cfg, srv, hub, engine)

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
