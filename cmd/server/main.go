package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"colleague-auth/internal/config"
	"colleague-auth/internal/factory"
	"colleague-auth/internal/util"
)

const shutdownTimeout = 30 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	// Initialize factory (which loads config and initializes all clients)
	f, err := factory.NewFactory(ctx)
	if err != nil {
		util.Fatal("Failed to initialize factory", util.ErrorField(err))
	}
	defer f.Close()

	if err := run(ctx, f); err != nil {
		util.Error("Server stopped with error", util.ErrorField(err))
		f.Close()
		os.Exit(1)
	}
}

// run serves until ctx is cancelled or a listener fails, then drains every
// server within shutdownTimeout.
func run(ctx context.Context, f *factory.Factory) error {
	cfg := f.Config()
	router := f.Router()

	servers := buildServers(f, cfg, router)

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range servers {
		g.Go(func() error {
			util.Info("Starting server",
				util.String("name", s.name),
				util.String("address", s.srv.Addr),
				util.Bool("tls", s.tls),
			)
			if err := s.serve(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("%s server: %w", s.name, err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		util.Info("Shutting down servers")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		for _, s := range servers {
			if err := s.srv.Shutdown(shutdownCtx); err != nil {
				util.Error("Failed to shutdown server gracefully",
					util.String("name", s.name),
					util.ErrorField(err),
				)
				errs = append(errs, err)
			}
		}
		if len(errs) == 0 {
			util.Info("Server shutdown completed")
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}

type server struct {
	name  string
	srv   *http.Server
	tls   bool
	serve func() error
}

func buildServers(f *factory.Factory, cfg *config.Config, router http.Handler) []server {
	api := &http.Server{
		Addr:         cfg.GetServerAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	if !cfg.Server.EnableTLS {
		util.Warn("Starting HTTP server - TLS is disabled",
			util.String("environment", cfg.Environment),
			util.Int("port", cfg.Server.Port),
		)
		return []server{{name: "http", srv: api, serve: api.ListenAndServe}}
	}

	tlsManager := f.TLSManager()
	api.Addr = fmt.Sprintf(":%d", cfg.Server.TLSPort)
	api.TLSConfig = tlsManager.GetTLSConfig()

	// Certificates come from the TLS config, so no files are passed here.
	https := server{
		name:  "https",
		srv:   api,
		tls:   true,
		serve: func() error { return api.ListenAndServeTLS("", "") },
	}

	if !(cfg.IsProduction() && cfg.Server.AutoCert) {
		return []server{https}
	}

	autoCertManager := tlsManager.GetAutocertManager()
	if autoCertManager == nil {
		util.Fatal("AutoCert manager is not available in production")
	}

	// ACME challenges and redirects only.
	challenge := &http.Server{
		Addr:              ":80",
		Handler:           autoCertManager.HTTPHandler(nil),
		ReadHeaderTimeout: 10 * time.Second,
	}
	api.Addr = ":443"
	util.Info("Serving with AutoCert", util.String("domain", cfg.Server.Domain))

	return []server{https, {name: "acme", srv: challenge, serve: challenge.ListenAndServe}}
}
