// Command vtauthd runs the video transcription OAuth 2.1 authorization
// server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	oauth "github.com/vtranscribe/vtauth"
	"github.com/vtranscribe/vtauth/instrumentation"
	"github.com/vtranscribe/vtauth/internal/config"
	"github.com/vtranscribe/vtauth/security"
	"github.com/vtranscribe/vtauth/storage"
	"github.com/vtranscribe/vtauth/storage/bolt"
	"github.com/vtranscribe/vtauth/storage/memory"
)

var version = "dev"

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 10 * time.Second
	limiterCleanup    = 5 * time.Minute
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	logger := newLogger(os.Getenv("VTAUTH_ENVIRONMENT"))

	cfg, err := config.Load(logger)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	store, closeStore, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	server, err := oauth.NewServer(store, cfg.ServerConfig(), logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	server.SetAuditor(security.NewAuditor(logger, cfg.AuditLogging))

	inst, err := instrumentation.New(instrumentation.Config{
		ServiceName:    "vtauthd",
		ServiceVersion: version,
	})
	if err != nil {
		return fmt.Errorf("initializing instrumentation: %w", err)
	}
	server.SetMetrics(inst.Metrics())

	handler := oauth.NewHandler(server, logger)
	handler.SetMetrics(inst.Metrics())

	if cfg.RegistrationRatePerSecond > 0 {
		limiter := security.NewRateLimiter(cfg.RegistrationRatePerSecond,
			cfg.RegistrationBurst, limiterCleanup, logger)
		defer limiter.Stop()
		handler.SetRegistrationRateLimiter(limiter)
	}

	server.StartSweeper()
	defer server.Stop()

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	logger.Info("starting authorization server",
		"version", version,
		"listen_addr", cfg.ListenAddr,
		"issuer", cfg.ServerURL,
		"signing_key_fingerprint", cfg.SigningKeyFingerprint())

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	return nil
}

// openStore selects the persistence backend. A database path gets
// bbolt; otherwise registrations and grants live in memory and are
// lost on restart.
func openStore(cfg *config.Config, logger *slog.Logger) (storage.Store, func(), error) {
	if cfg.DatabasePath == "" {
		logger.Info("using in-memory storage", "consequence", "state is lost on restart")
		return memory.New(), func() {}, nil
	}

	store, err := bolt.Open(cfg.DatabasePath)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database %s: %w", cfg.DatabasePath, err)
	}
	logger.Info("using bbolt storage", "path", cfg.DatabasePath)
	return store, func() {
		if err := store.Close(); err != nil {
			logger.Error("closing database", "error", err)
		}
	}, nil
}

func newLogger(environment string) *slog.Logger {
	var handler slog.Handler
	if environment == "development" || environment == "" {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	}
	return slog.New(handler)
}
