// Package app wires the Ripple runtime: config, logging, the per-topic feed
// pipelines, their backend, and the HTTP introspection surface.
//
// It is intentionally small and deterministic to keep CI gates strict and behavior predictable.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"ripple/cmd/internal/backend"
	"ripple/cmd/internal/feed"
	"ripple/cmd/internal/identity"
	"ripple/cmd/internal/media"
)

// App is the Ripple runtime: it owns the backend pool, the per-topic feed
// pipelines, the change channel, and the HTTP server.
type App struct {
	cfg Config
	log Logger

	dbPool    *pgxpool.Pool
	dbEnabled bool

	metrics *feed.Metrics
	feeds   map[feed.Topic]*Feed
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogPretty)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ident, err := newIdentity(cfg, log)
	if err != nil {
		return nil, err
	}

	// The backends compute per-viewer state (like flags) at query time, so
	// they bind to the viewer up front. Fail-fast on a rejected token.
	startCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	viewerID, err := ident.ViewerID(startCtx)
	if err != nil {
		return nil, err
	}

	querier, be, dbPool, dbEnabled, err := newBackend(startCtx, cfg, log, viewerID)
	if err != nil {
		return nil, err
	}

	uploader, err := newUploader(cfg, log)
	if err != nil {
		if dbPool != nil {
			dbPool.Close()
		}
		return nil, err
	}

	metrics := feed.NewMetrics()
	feeds, err := newFeeds(cfg, log, metrics, querier, be, ident, uploader)
	if err != nil {
		if dbPool != nil {
			dbPool.Close()
		}
		return nil, err
	}

	return &App{
		cfg:       cfg,
		log:       log,
		dbPool:    dbPool,
		dbEnabled: dbEnabled,
		metrics:   metrics,
		feeds:     feeds,
	}, nil
}

// Feeds exposes the per-topic pipelines, for embedders and tests.
func (a *App) Feeds() map[feed.Topic]*Feed { return a.feeds }

// Run starts the change channel and the HTTP server and blocks until
// context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	cfCtx, cfCancel := context.WithCancel(ctx)
	defer cfCancel()
	cfDone := make(chan struct{})
	go func() {
		defer close(cfDone)
		a.runChangefeed(cfCtx)
	}()

	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.dbEnabled, a.feeds, a.metrics)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           WithRequestLogging(mux, a.log),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"db_enabled", a.dbEnabled,
		"topics", len(a.feeds),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	cfCancel()
	<-cfDone

	if a.dbPool != nil {
		a.dbPool.Close()
	}

	a.log.Info("server.stopped")
	return nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// newIdentity decides between hosted token validation and a static viewer.
func newIdentity(cfg Config, log Logger) (feed.Identity, error) {
	if cfg.SupabaseURL != "" && cfg.AccessToken != "" {
		log.Info("identity.hosted")
		return identity.NewSupabase(cfg.SupabaseURL, cfg.SupabaseKey, cfg.AccessToken)
	}
	log.Info("identity.static", "viewer", cfg.ViewerID)
	return identity.Static{Viewer: cfg.ViewerID}, nil
}

// newBackend decides between Postgres-backed persistence and the in-memory
// dev backend.
//
// Ownership model:
// - app owns the pool lifecycle
// - PostgresStore.Close() is a no-op
func newBackend(ctx context.Context, cfg Config, log Logger, viewerID string) (feed.Querier, feed.Backend, *pgxpool.Pool, bool, error) {
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_backend")
		mem := backend.NewMemoryStore(viewerID)
		return mem, mem, nil, false, nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, nil, nil, false, err
	}

	pg, err := backend.NewPostgresStore(pool, viewerID, backend.WithSchema(cfg.DBSchema))
	if err != nil {
		pool.Close()
		return nil, nil, nil, false, err
	}

	log.Info("db.enabled.postgres_backend", "schema", cfg.DBSchema)
	return pg, pg, pool, true, nil
}

// newUploader decides between hosted object storage and in-memory media.
func newUploader(cfg Config, log Logger) (feed.Uploader, error) {
	if cfg.SupabaseURL != "" {
		log.Info("media.hosted")
		return media.NewSupabase(cfg.SupabaseURL, cfg.SupabaseKey)
	}
	log.Info("media.inmemory")
	return media.NewMemory(), nil
}
