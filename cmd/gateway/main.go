// Command gateway runs the authenticated tool-invocation gateway together
// with its co-located demo backend. The gateway owns every path except
// /demo/tools/, which belongs to the backend the gateway forwards to.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/davidcrowe/gatewaystack-chatgpt-starter/config"
	"github.com/davidcrowe/gatewaystack-chatgpt-starter/demoapi"
	"github.com/davidcrowe/gatewaystack-chatgpt-starter/demoapi/crm"
	"github.com/davidcrowe/gatewaystack-chatgpt-starter/gateway"
	"github.com/davidcrowe/gatewaystack-chatgpt-starter/internal/jwtauth"
	"github.com/davidcrowe/gatewaystack-chatgpt-starter/internal/logctx"
	"github.com/davidcrowe/gatewaystack-chatgpt-starter/tools"
	"github.com/davidcrowe/gatewaystack-chatgpt-starter/upstream"
)

func main() {
	log := slog.New(logctx.Handler{
		Handler: slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
	})
	slog.SetDefault(log)

	if err := run(log); err != nil {
		log.Error("fatal", slog.String("err", err.Error()))
		os.Exit(1)
	}
}

func run(log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	config.WarnIfSuspiciousEnv(log)

	// OIDC discovery fills in the key-set URL from the issuer's advertised
	// jwks_uri when JWKS_URI is not set explicitly. Verification never depends
	// on this succeeding: on failure the issuer-derived default stays in place
	// and keys are fetched lazily on the first request.
	discoveryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	jwksURI, err := jwtauth.DiscoverJWKSURI(discoveryCtx, cfg.IssuerTrimmed())
	cancel()
	if err != nil {
		log.Warn("issuer discovery failed",
			slog.String("issuer", cfg.IssuerTrimmed()), slog.String("err", err.Error()))
	} else if cfg.JWKSURI == "" {
		cfg.JWKSURI = jwksURI
		log.Info("jwks uri discovered", slog.String("jwks_uri", jwksURI))
	}

	provider := config.NewProvider(cfg, log)
	if err := provider.Watch(ctx); err != nil {
		log.Warn("config overlay watch unavailable", slog.String("err", err.Error()))
	}

	resolver := jwtauth.NewKeySetResolver()
	verifier := jwtauth.NewVerifier(resolver, log)

	if err := os.MkdirAll(filepath.Dir(cfg.CRMDBPath), 0o755); err != nil {
		return err
	}
	crmStore, err := crm.Open(cfg.CRMDBPath)
	if err != nil {
		return err
	}
	defer crmStore.Close()

	gw, err := gateway.New(provider, verifier, tools.Default(), upstream.New(), gateway.WithLogger(log))
	if err != nil {
		return err
	}
	backend := demoapi.NewServer(provider, verifier, crmStore, log)

	mux := http.NewServeMux()
	mux.Handle(demoapi.MountPrefix, backend)
	mux.Handle("/", gw)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", slog.String("addr", cfg.ListenAddr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	log.Info("shutting down")
	return srv.Shutdown(shutdownCtx)
}
