// Stowage server
//
// Relational metadata front end for a remote object store:
// - PostgreSQL file records with reserve/finalize upload consistency
// - S3-compatible object storage with CDN-style delivery URLs
// - Virtual folders derived from file paths
// - SSE change events, Prometheus metrics, structured logging (zap)
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

	"github.com/stowage/stowage/internal/api"
	"github.com/stowage/stowage/internal/config"
	"github.com/stowage/stowage/internal/events"
	"github.com/stowage/stowage/internal/files"
	"github.com/stowage/stowage/internal/logging"
	"github.com/stowage/stowage/internal/metadata/postgres"
	"github.com/stowage/stowage/internal/metrics"
	"github.com/stowage/stowage/internal/remote/s3"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Can't use structured logging yet
		panic("configuration error: " + err.Error())
	}

	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	logging.Info("Stowage server starting...",
		zap.String("listen", cfg.ListenAddr),
		zap.String("metrics", cfg.MetricsAddr))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logging.Info("connecting to PostgreSQL...")
	metaStore, err := postgres.New(cfg.DatabaseURL)
	if err != nil {
		logging.Fatal("database connection failed", zap.Error(err))
	}
	defer metaStore.Close()

	migrationsDir := findMigrationsDir()
	if migrationsDir != "" {
		logging.Info("running migrations...", zap.String("dir", migrationsDir))
		if err := metaStore.Migrate(migrationsDir); err != nil {
			logging.Fatal("migration failed", zap.Error(err))
		}
	}

	objStore, err := s3.New(ctx, s3.Config{
		Endpoint:    cfg.S3Endpoint,
		Bucket:      cfg.S3Bucket,
		AccessKey:   cfg.S3AccessKey,
		SecretKey:   cfg.S3SecretKey,
		Region:      cfg.S3Region,
		CDNBaseHost: cfg.CDNBaseHost,
		TypeTTL:     cfg.ResourceTypeTTL,
	})
	if err != nil {
		logging.Fatal("object store init failed", zap.Error(err))
	}

	broadcaster := events.NewBroadcaster()
	logging.Info("SSE broadcaster initialized")

	svc := files.NewService(metaStore, objStore, broadcaster)

	srv := api.NewServer(svc, broadcaster, cfg.MaxUploadSize)

	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: metrics.Handler(),
	}
	go func() {
		logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logging.Error("metrics server error", zap.Error(err))
		}
	}()

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.Handler(),
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logging.Info("shutting down...")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)
		metricsServer.Close()
	}()

	// Periodic connection-pool metrics
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				metaStore.UpdateConnectionMetrics()
			}
		}
	}()

	logging.Info("server listening", zap.String("addr", cfg.ListenAddr))
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		logging.Fatal("server error", zap.Error(err))
	}
}

func findMigrationsDir() string {
	candidates := []string{
		"migrations",
		"../migrations",
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
