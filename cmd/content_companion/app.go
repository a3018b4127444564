package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/italolelis/content_companion/internal/api"
	"github.com/italolelis/content_companion/internal/auth"
	"github.com/italolelis/content_companion/internal/backend"
	"github.com/italolelis/content_companion/internal/config"
	"github.com/italolelis/content_companion/internal/downloader"
	"github.com/italolelis/content_companion/internal/interaction"
	"github.com/italolelis/content_companion/internal/localstore"
	"github.com/italolelis/content_companion/internal/logctx"
	"github.com/italolelis/content_companion/internal/notifier"
	"github.com/italolelis/content_companion/internal/storage"
	"github.com/italolelis/content_companion/internal/storage/sqlite"
	"github.com/italolelis/content_companion/internal/telemetry"
)

// app holds every long-lived component. Subcommands build one and close it
// when they are done.
type app struct {
	cfg       *config.Config
	db        *sql.DB
	telemetry *telemetry.Telemetry

	backend      *backend.Client
	library      *localstore.Library
	playlists    *localstore.Playlists
	downloader   *downloader.Downloader
	interactions *interaction.Client
	syncer       *localstore.Syncer

	webhooks *webhookDispatcher
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:      cfg.Telemetry.Enabled,
		ServiceName:  cfg.Telemetry.ServiceName,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start telemetry: %w", err)
	}

	// =========================================================================
	// Start Database
	db, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	kv := sqlite.NewInstrumentedKVRepository(db, tel)

	// =========================================================================
	// Start Backend Client
	tokens := auth.NewResolver(kv, secureStore(cfg))
	if cfg.AuthToken != "" {
		if err := tokens.Store(ctx, cfg.AuthToken); err != nil {
			db.Close()

			return nil, fmt.Errorf("failed to seed auth token: %w", err)
		}
	}

	bc := backend.NewClient(api.NewClient(cfg.APIBaseURL, cfg.Platform, cfg.RequestTimeout, tokens,
		api.WithTelemetry(tel),
		api.WithProduction(cfg.IsProduction()),
	))

	// =========================================================================
	// Start Local Stores
	library := localstore.NewLibrary(kv)
	playlists := localstore.NewPlaylists(kv)
	records := localstore.NewDownloads(kv)

	for name, load := range map[string]func(context.Context) error{
		"library":   library.Load,
		"playlists": playlists.Load,
		"downloads": records.Load,
	} {
		if err := load(ctx); err != nil {
			logger.Warn("failed to load local store, it will be retried on first use", "store", name, "err", err)
		}
	}

	// =========================================================================
	// Start Downloader
	webhooks := &webhookDispatcher{notifier: setupNotifier(cfg)}

	d := downloader.NewDownloader(cfg.DownloadDir, bc, records,
		downloader.WithTelemetry(tel),
		downloader.WithRemoteCache(localstore.NewPageCache(kv, "offline_downloads", cfg.LibraryCacheTTL,
			func(o backend.OfflineDownload) string { return o.MediaID })),
		downloader.OnFinished(func(rec storage.DownloadRecord) {
			webhooks.dispatch(ctx, notifier.Event{
				Type:      notifier.DownloadFinished,
				ContentID: rec.ID,
				Title:     rec.Title,
				Time:      time.Now(),
			})
		}),
		downloader.OnFailed(func(rec storage.DownloadRecord, err error) {
			webhooks.dispatch(ctx, notifier.Event{
				Type:      notifier.DownloadFailed,
				ContentID: rec.ID,
				Title:     rec.Title,
				Detail:    failureDetail(err),
				Time:      time.Now(),
			})
		}),
	)

	// =========================================================================
	// Start Interaction Client
	ic := interaction.NewClient(bc, library, localstore.NewFallback(kv, cfg.UserID),
		localstore.NewPageCache(kv, "comments", cfg.CommentsCacheTTL, backend.Comment.Key),
		interaction.WithTelemetry(tel),
		interaction.WithProduction(cfg.IsProduction()),
		interaction.WithViewLogWindow(cfg.ViewLogWindow),
	)

	return &app{
		cfg:          cfg,
		db:           db,
		telemetry:    tel,
		backend:      bc,
		library:      library,
		playlists:    playlists,
		downloader:   d,
		interactions: ic,
		syncer: &localstore.Syncer{
			Library:        library,
			LibrarySource:  bc,
			Playlists:      playlists,
			PlaylistSource: bc,
		},
		webhooks: webhooks,
	}, nil
}

// close waits for background notifications and view reports before closing the database.
func (a *app) close(ctx context.Context) {
	logger := logctx.LoggerFromContext(ctx)

	a.downloader.Close()
	a.interactions.Close()
	a.webhooks.wait()

	if err := a.telemetry.Shutdown(ctx); err != nil {
		logger.Error("failed to shutdown telemetry", "err", err)
	}

	if err := a.db.Close(); err != nil {
		logger.Error("failed to close database", "err", err)
	}
}

func secureStore(cfg *config.Config) auth.SecureStore {
	if cfg.SecureStoreDir == "" {
		return nil
	}

	return auth.NewFileSecureStore(cfg.SecureStoreDir)
}

func setupNotifier(cfg *config.Config) notifier.Notifier {
	if cfg.NotifyWebhookURL == "" {
		return nil
	}

	return &notifier.WebhookNotifier{WebhookURL: cfg.NotifyWebhookURL}
}

const webhookTimeout = 30 * time.Second

// webhookDispatcher logs download events and posts them to the webhook in the
// background, so a slow webhook never holds up the download that fired them.
type webhookDispatcher struct {
	notifier notifier.Notifier
	pending  sync.WaitGroup
}

func (w *webhookDispatcher) dispatch(ctx context.Context, event notifier.Event) {
	logger := logctx.LoggerFromContext(ctx).With("content_id", event.ContentID)

	if event.Type == notifier.DownloadFailed {
		logger.Error("download failed", "detail", event.Detail)
	} else {
		logger.Info("download finished", "title", event.Title)
	}

	if w.notifier == nil {
		return
	}

	w.pending.Add(1)

	go func() {
		defer w.pending.Done()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), webhookTimeout)
		defer cancel()

		if err := w.notifier.Notify(ctx, event); err != nil {
			logger.Error("failed to send notification", "err", err)
		}
	}()
}

// wait blocks until every dispatched webhook has been sent.
func (w *webhookDispatcher) wait() {
	w.pending.Wait()
}

func failureDetail(err error) string {
	var derr *downloader.Error
	if errors.As(err, &derr) {
		return derr.Message
	}

	if err != nil {
		return err.Error()
	}

	return ""
}
