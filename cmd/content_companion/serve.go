package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/italolelis/content_companion/internal/api"
	"github.com/italolelis/content_companion/internal/http/rest"
	"github.com/italolelis/content_companion/internal/logctx"
	"github.com/italolelis/content_companion/internal/telemetry"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the local API and the periodic library sync",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	})
}

func serve(ctx context.Context) error {
	cfg := configFrom(ctx)
	logger := logctx.LoggerFromContext(ctx)

	logger.Info("content companion starting...", "log_level", cfg.LogLevel, "download_dir", cfg.DownloadDir)

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close(context.WithoutCancel(ctx))

	// =========================================================================
	// Start API Service

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	server := setupServer(ctx, a)

	go func() {
		logger.Info("Initializing API support", "host", cfg.Web.BindAddress)
		serverErrors <- server.ListenAndServe()
	}()

	// =========================================================================
	// Start Sync Loop
	ticker := time.NewTicker(cfg.SyncInterval)
	defer ticker.Stop()

	runSync(ctx, a)

	for {
		select {
		case err := <-serverErrors:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}

			return fmt.Errorf("server error: %w", err)
		case <-ctx.Done():
			logger.Info("start shutdown")

			// Give outstanding requests a deadline for completion.
			ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Web.ShutdownTimeout)
			defer cancel()

			if err := server.Shutdown(ctx); err != nil {
				logger.Error("failed to gracefully shutdown the server", "err", err)

				if err = server.Close(); err != nil {
					return fmt.Errorf("could not stop server gracefully: %w", err)
				}
			}

			return nil
		case <-ticker.C:
			runSync(ctx, a)
		}
	}
}

func runSync(ctx context.Context, a *app) {
	logger := logctx.LoggerFromContext(ctx)

	report, err := a.syncer.Sync(ctx)
	if err != nil {
		logger.Warn("library sync failed", "err", err)
		a.telemetry.RecordSystemError(ctx, "sync", errorType(err))

		return
	}

	logger.Info("library synced", "library", report.Library, "playlists", report.Playlists)
}

// setupServer prepares the handlers and services to create the http rest server.
func setupServer(ctx context.Context, a *app) *http.Server {
	cfg := a.cfg

	h := rest.NewHandler(cfg.Web.Username, cfg.Web.Password, rest.Deps{
		Downloads:    a.downloader,
		Interactions: a.interactions,
		Library:      a.library,
		Playlists:    a.playlists,
		Syncer:       a.syncer,
		PurgeMinAge:  cfg.PurgeMinAge,
	})

	r := chi.NewRouter()
	r.Use(telemetry.RequestID)
	r.Use(telemetry.NewHTTPMiddleware(a.telemetry).Middleware)
	r.Use(telemetry.HTTPLogging)

	r.Handle("/metrics", a.telemetry.Handler())
	r.Mount("/", h.Routes())

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      otelhttp.NewHandler(r, cfg.Telemetry.ServiceName),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}

func errorType(err error) string {
	switch {
	case api.IsTransport(err):
		return "transport"
	case api.IsUnauthorized(err):
		return "unauthorized"
	default:
		return "backend"
	}
}
