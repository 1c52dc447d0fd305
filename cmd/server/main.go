package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"storefront/internal/audit/bootstrap"
	"storefront/internal/audit/handler"
	jwttoken "storefront/internal/jwt_token"
	"storefront/internal/platform/config"
	"storefront/internal/platform/httpserver"
	"storefront/internal/platform/logger"
	"storefront/internal/platform/metrics"
	"storefront/pkg/platform/middleware/auth"
	"storefront/pkg/platform/middleware/metadata"
)

// main wires configuration, the audit store and service, and the admin read API, and keeps the
// server lifecycle small. Audit behavior lives in pkg/platform/audit.
func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Logger)

	if err := run(cfg, log); err != nil {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Auth.JWTSigningKey == config.DevJWTSigningKey {
		log.Warn("using the development JWT signing key")
	}

	reg := metrics.New()

	store, err := bootstrap.OpenStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error("close audit store", "error", err)
		}
	}()

	svc, err := bootstrap.NewService(store, cfg, log, reg)
	if err != nil {
		return err
	}

	jwtService := jwttoken.NewJWTService(cfg.Auth.JWTSigningKey, cfg.Auth.Issuer, cfg.Auth.Audience)

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", metrics.Handler(reg))
	r.Group(func(r chi.Router) {
		r.Use(auth.Identify(jwttoken.NewJWTServiceAdapter(jwtService), log))
		r.Use(metadata.Establish(cfg.Audit.SessionCookie))
		r.Use(auth.RequireAuth(log))
		handler.New(svc, log).Register(r)
	})

	srv := httpserver.New(cfg.Server, r)

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting storefront audit service", "addr", cfg.Server.Addr, "store", cfg.Store.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	// Drain fire-and-forget audit writes before the store closes.
	return svc.Close(shutdownCtx)
}
