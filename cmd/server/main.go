// treeshare server
//
// Serves short links, ephemeral shares and pastes for tree links:
// - POST/GET/DELETE /api/shorten (memory or PostgreSQL store)
// - POST/GET /api/share (in-memory, 7-day TTL)
// - POST/GET /api/paste (S3, optional)
// - Prometheus metrics & structured logging (zap)
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/AtharvRG/fractal/internal/api"
	"github.com/AtharvRG/fractal/internal/auth"
	"github.com/AtharvRG/fractal/internal/config"
	"github.com/AtharvRG/fractal/internal/logging"
	"github.com/AtharvRG/fractal/internal/metrics"
	"github.com/AtharvRG/fractal/internal/paste"
	"github.com/AtharvRG/fractal/internal/quota"
	"github.com/AtharvRG/fractal/internal/shortlink"
)

func main() {
	cfg, err := config.LoadServer("")
	if err != nil {
		// Can't use structured logging yet
		panic("configuration error: " + err.Error())
	}

	if err := logging.Init(cfg.Logging()); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	logging.Info("treeshare server starting...",
		zap.String("listen", cfg.ListenAddr),
		zap.String("metrics", cfg.MetricsAddr),
		zap.String("store", cfg.StoreBackend),
		zap.String("paste", cfg.PasteBackend))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Short-link store
	var store shortlink.Store
	var pg *shortlink.PostgresStore
	switch cfg.StoreBackend {
	case "postgres":
		logging.Info("connecting to PostgreSQL...")
		pg, err = shortlink.NewPostgresStore(cfg.DatabaseURL)
		if err != nil {
			logging.Fatal("database connection failed", zap.Error(err))
		}
		migrationsDir := cfg.MigrationsDir
		if migrationsDir == "" {
			migrationsDir = findMigrationsDir()
		}
		if migrationsDir != "" {
			logging.Info("running migrations...", zap.String("dir", migrationsDir))
			if err := pg.Migrate(migrationsDir); err != nil {
				logging.Fatal("migration failed", zap.Error(err))
			}
		}
		store = pg
	default:
		store = shortlink.NewMemoryStore()
	}
	defer store.Close()

	links := shortlink.NewService(store, cfg.ShortLink())
	shares := shortlink.NewEphemeralStore(cfg.EphemeralTTL)

	// Paste store (optional)
	var pastes paste.Store
	if cfg.PasteBackend == "s3" {
		objects, err := paste.NewObjectStore(ctx, paste.S3Config{
			Endpoint:  cfg.S3Endpoint,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Region:    cfg.S3Region,
		})
		if err != nil {
			logging.Fatal("paste store init failed", zap.Error(err))
		}
		pastes = objects
		logging.Info("paste store initialized", zap.String("bucket", cfg.S3Bucket))
	}

	tokens := auth.NewTokenService(cfg.ServiceTokenSecret)
	if !tokens.Enabled() {
		logging.Warn("SERVICE_TOKEN_SECRET not set, create and delete are open")
	}
	rateLimiter := quota.NewRateLimiter(cfg.CreateRequestsPerMinute)

	srv := api.NewServer(links, shares, api.Options{
		Pastes:       pastes,
		Tokens:       tokens,
		Limiter:      rateLimiter,
		MaxBodyBytes: cfg.MaxBodyBytes,
	})

	// Start metrics server
	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		metricsServer = &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: metrics.Handler(),
		}
		go func() {
			logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
			if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
				logging.Error("metrics server error", zap.Error(err))
			}
		}()
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown. ListenAndServe returns as soon as Shutdown starts,
	// so main waits on shutdownDone before touching the store.
	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logging.Info("shutting down...")
		cancel()

		shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logging.Warn("http shutdown incomplete", zap.Error(err))
		}
		if metricsServer != nil {
			metricsServer.Close()
		}
	}()

	// Start periodic DB connection metrics
	if pg != nil {
		go every(ctx, 15*time.Second, pg.UpdateConnectionMetrics)
	}

	// Start periodic expired-link purge
	go every(ctx, cfg.PurgeInterval, func() {
		n, err := links.PurgeExpired(ctx)
		if err != nil {
			logging.Error("expired link purge failed", zap.Error(err))
			return
		}
		if n > 0 {
			logging.Info("purged expired short links", zap.Int64("count", n))
		}
	})

	// Start periodic cleanup (rate limiter buckets + ephemeral shares)
	go every(ctx, 10*time.Minute, func() {
		remaining := rateLimiter.Cleanup(time.Hour)
		if n := shares.GC(); n > 0 {
			logging.Info("expired ephemeral shares", zap.Int("count", n))
		}
		logging.Debug("cleanup done", zap.Int("limiter_buckets", remaining))
	})

	logging.Info("server listening (HTTP)", zap.String("addr", cfg.ListenAddr))
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		logging.Fatal("server error", zap.Error(err))
	}

	<-shutdownDone
	links.WaitHits()
	logging.Info("shutdown complete")
}

// every runs fn on each tick until ctx is cancelled.
func every(ctx context.Context, interval time.Duration, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

func findMigrationsDir() string {
	candidates := []string{
		"migrations",
		"../migrations",
		"../../migrations",
	}

	exe, _ := os.Executable()
	if exe != "" {
		candidates = append(candidates, filepath.Join(filepath.Dir(exe), "migrations"))
	}

	for _, dir := range candidates {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir
		}
	}
	return ""
}
