package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"guru-chat/client"
	"guru-chat/config"
	"guru-chat/handlers"
	"guru-chat/models"
	"guru-chat/session"
)

func main() {
	cfg := config.Load()
	logger := newLogger(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var cache session.Cache = session.NewMemoryCache()
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid REDIS_URL")
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()

		// Verify Redis connection
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to Redis")
		}
		cache = session.NewRedisCache(rdb)
		logger.Info().Msg("connected to Redis")
	}

	auth := client.NewStaticAuth()
	c := client.New(cfg, auth, cache, logger)
	c.Bind()
	auth.SignIn(cfg.AuthToken, models.User{ID: cfg.UserID, Name: cfg.UserName})

	store := c.Store()
	if store == nil {
		logger.Fatal().Msg("client failed to initialize")
	}
	if _, err := store.LoadChats(ctx); err != nil {
		logger.Warn().Err(err).Msg("failed to load chats")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", handlers.HealthHandler(c))
	mux.Handle("/ws", handlers.NewViewHandler(c, cfg.AllowedOrigins, logger))
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info().Str("port", cfg.Port).Msg("local server listening")
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("server error")
			cancel()
		}
	}()

	con := &console{
		store: func() chatStore {
			if s := c.Store(); s != nil {
				return s
			}
			return nil
		},
		agentID: cfg.AgentID,
		out:     os.Stdout,
	}
	go con.follow(store.Watch(ctx))
	go func() {
		if err := con.run(ctx, os.Stdin); err != nil && ctx.Err() == nil {
			logger.Error().Err(err).Msg("reading commands failed")
		}
		cancel()
	}()

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	auth.SignOut()
	logger.Info().Msg("stopped")
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stderr).
			With().
			Timestamp().
			Logger()
	}
	return logger.Level(level)
}
