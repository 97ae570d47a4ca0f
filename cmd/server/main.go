// Command server starts the KnowMe AI chat backend.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gemini "github.com/fairyhunter13/knowme-ai/internal/adapter/ai/gemini"
	rediscache "github.com/fairyhunter13/knowme-ai/internal/adapter/cache/redis"
	datocms "github.com/fairyhunter13/knowme-ai/internal/adapter/content/datocms"
	httpserver "github.com/fairyhunter13/knowme-ai/internal/adapter/httpserver"
	"github.com/fairyhunter13/knowme-ai/internal/adapter/observability"
	"github.com/fairyhunter13/knowme-ai/internal/app"
	"github.com/fairyhunter13/knowme-ai/internal/config"
	"github.com/fairyhunter13/knowme-ai/internal/service/keypool"
	"github.com/fairyhunter13/knowme-ai/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	// Cache store. The chat path fails open when redis is down, so a failed
	// ping at boot is logged, not fatal.
	store := rediscache.New(cfg)
	defer func() { _ = store.Close() }()
	if err := store.Ping(context.Background()); err != nil {
		slog.Warn("redis unreachable at boot; serving without cache", slog.Any("error", err))
	}

	// Content source + profile retrieval.
	content := datocms.New(cfg)
	profiles := usecase.NewProfileService(store, content, cfg.CacheTTL)

	// Provider credentials.
	pool, err := keypool.New(cfg.APIKeys(), cfg.KeyCooldownDefault)
	if err != nil {
		slog.Error("credential pool init failed", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("credential pool ready", slog.Int("keys", pool.Size()))

	provider := gemini.New(cfg)
	chat := usecase.NewChatService(cfg, pool, provider, profiles)

	redisCheck, contentCheck, poolCheck := app.BuildReadinessChecks(cfg, store, content, pool)
	srv := httpserver.NewServer(cfg, chat, redisCheck, contentCheck, poolCheck)
	handler := app.BuildRouter(cfg, srv)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
}
