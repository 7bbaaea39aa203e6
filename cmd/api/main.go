package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sourcedesk.io/internal/auth"
	"sourcedesk.io/internal/config"
	"sourcedesk.io/internal/httpapi"
	"sourcedesk.io/internal/magiclink"
	"sourcedesk.io/internal/obs"
	"sourcedesk.io/internal/portal"
	"sourcedesk.io/internal/store/memory"
	"sourcedesk.io/internal/store/pg"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// backend is everything the services need from storage.
type backend interface {
	magiclink.Store
	magiclink.Directory
	portal.UnitOfWork
	auth.OperatorStore
}

func main() {
	if err := run(); err != nil {
		obs.Logger().Error("sourcedesk-api stopped", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	obs.Init()
	obs.InitBuildInfo(version, commit)
	magiclink.MustCheckEntropy()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		store backend
		ready httpapi.ReadyProbe
	)
	switch cfg.Store {
	case config.StorePostgres:
		pgStore, err := pg.Open(ctx, cfg.Database.DSN,
			pg.WithPool(cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns),
			pg.WithRetries(cfg.Database.Retries),
		)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		defer pgStore.Close()
		store, ready = pgStore, pgStore
	default:
		mem := memory.New()
		if err := seedDemo(mem); err != nil {
			return err
		}
		obs.Logger().Warn("using in-memory store; data is lost on restart",
			slog.String("operator", demoOperatorEmail))
		store = mem
	}

	signer, err := auth.NewSigner(cfg.Auth.Secret, nil)
	if err != nil {
		return err
	}
	authSvc, err := auth.NewService(store, signer, cfg.Auth.TokenTTL)
	if err != nil {
		return err
	}
	issuer, err := magiclink.NewIssuer(store, store,
		magiclink.WithBaseURL(cfg.HTTP.PublicBaseURL),
		magiclink.WithLifetime(cfg.Links.DefaultLifetimeDays, cfg.Links.MaxLifetimeDays),
	)
	if err != nil {
		return err
	}
	portalSvc, err := portal.NewService(store)
	if err != nil {
		return err
	}

	proxies := make([]netip.Prefix, 0, len(cfg.HTTP.TrustedProxies))
	for _, p := range cfg.HTTP.TrustedProxies {
		prefix, err := config.ParseProxy(p)
		if err != nil {
			return err
		}
		proxies = append(proxies, prefix)
	}
	api, err := httpapi.New(httpapi.Services{Auth: authSvc, Links: issuer, Portal: portalSvc}, httpapi.Options{
		Version:        version,
		Ready:          ready,
		RateBurst:      cfg.Portal.Burst,
		RatePerSecond:  cfg.Portal.RatePerSecond,
		MaxBodyBytes:   cfg.HTTP.MaxBodyBytes,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		TrustedProxies: proxies,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		obs.Logger().Info("starting sourcedesk-api",
			slog.String("version", version),
			slog.String("addr", srv.Addr),
			slog.String("store", cfg.Store))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	obs.Logger().Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	obs.Logger().Info("stopped")
	return nil
}
