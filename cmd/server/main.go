package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/deciframe-hq/deciframe/internal/config"
	"github.com/deciframe-hq/deciframe/internal/ratelimit"
	"github.com/deciframe-hq/deciframe/internal/server"
	"github.com/deciframe-hq/deciframe/internal/store/memory"
	"github.com/deciframe-hq/deciframe/internal/store/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		zerolog.New(os.Stderr).Fatal().Err(err).Msg("load config")
	}
	log := newLogger(cfg.LogLevel)

	stores, cleanup, err := openStores(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("open store")
	}
	defer cleanup()

	providers, err := config.LoadProviders(cfg.ProvidersPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load providers")
	}

	h, err := server.NewHandlerWithOptions(server.HandlerOptions{
		Store:         stores,
		SessionSecret: []byte(cfg.SessionSecret),
		ModelsDir:     cfg.ModelsDir,
		Limiter:       ratelimit.New(cfg.RateLimitMax, cfg.RateLimitWin),
		Providers:     providers,
		Logger:        log,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("build handler")
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", cfg.Addr).Msg("listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("serve")
	}
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger()
}

func openStores(cfg config.Config, log zerolog.Logger) (server.Stores, func(), error) {
	if cfg.DatabaseURL == "" {
		log.Warn().Msg("DATABASE_URL not set, using in-memory store")
		return memory.New(), func() {}, nil
	}
	pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	pg := postgres.New(pool)
	if err := pg.Migrate(context.Background()); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return pg, pool.Close, nil
}
