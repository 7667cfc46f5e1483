// Package main is the entry point for the PointGrid server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pointgrid/server/internal/api"
	"github.com/pointgrid/server/internal/cache"
	"github.com/pointgrid/server/internal/config"
	"github.com/pointgrid/server/internal/data/points"
	"github.com/pointgrid/server/internal/data/tilepts"
	"github.com/pointgrid/server/internal/render"
	"github.com/pointgrid/server/internal/service"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config/server.yaml", "Path to configuration file")
	port := flag.Int("port", 0, "Override the configured listen port")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}

	log.Printf("Starting PointGrid server on port %d", cfg.Server.Port)

	ctx := context.Background()

	// Layer defaults are validated up front so a bad config fails at boot,
	// not on the first request.
	layerDefaults, err := cfg.Layer.ToEngine()
	if err != nil {
		log.Fatalf("Invalid layer configuration: %v", err)
	}

	// Initialize cache manager (shared across all datasets)
	cacheManager, err := cache.NewManager(cache.Config{
		PreviewCacheSizeMB: cfg.Cache.PreviewSizeMB,
		PreviewTTL:         time.Duration(cfg.Cache.PreviewTTLMinutes) * time.Minute,
		ResultCacheSize:    cfg.Cache.ResultCacheSize,
	})
	if err != nil {
		log.Fatalf("Failed to initialize cache: %v", err)
	}

	// Initialize preview renderer (shared across all datasets)
	previewRenderer := render.NewPreviewRenderer(render.Config{
		TileSize:          cfg.Render.TileSize,
		DefaultColorRange: cfg.Render.DefaultColorRange,
	})

	// Initialize dataset registry
	datasetIDs := cfg.Data.DatasetIDs()
	registry := api.NewDatasetRegistry(cfg.Data.DefaultDataset, datasetIDs, cfg.Data.Title)

	log.Printf("Initializing %d dataset(s), default: %s", len(datasetIDs), cfg.Data.DefaultDataset)

	// Initialize each dataset
	for _, datasetID := range datasetIDs {
		ds := cfg.Data.Datasets[datasetID]

		dataset := loadDataset(datasetID, ds)
		md := dataset.Meta
		log.Printf("    Rows: %d (dropped %d), fields: %d", md.RowCount, md.DroppedRows, len(md.Fields))

		layerService := service.NewLayerService(service.LayerServiceConfig{
			DatasetID: datasetID,
			Dataset:   dataset,
			Cache:     cacheManager,
			Renderer:  previewRenderer,
			Defaults:  layerDefaults,
		})

		registry.Register(datasetID, layerService)
	}

	// Initialize job manager for exports (SQLite persistence)
	jobManager, err := api.NewJobManager(api.JobManagerConfig{
		MaxConcurrent: cfg.Jobs.Workers,
		SQLitePath:    cfg.Jobs.DBPath,
		QueueSize:     cfg.Jobs.QueueSize,
		RetentionDays: cfg.Jobs.RetentionDays,
		CleanupPeriod: 1 * time.Hour,
	})
	if err != nil {
		log.Fatalf("Failed to initialize job manager: %v", err)
	}
	log.Printf("Export job manager: workers=%d, retention_days=%d, sqlite=%s",
		cfg.Jobs.Workers, cfg.Jobs.RetentionDays, cfg.Jobs.DBPath)

	jobManager.Executor = api.ExportExecutor(registry)

	jobManager.Start()
	defer jobManager.Stop()

	// Set up HTTP router
	router := api.NewRouter(api.RouterConfig{
		Registry:    registry,
		CORSOrigins: cfg.Server.CORSOrigins,
		JobManager:  jobManager,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server listening on http://localhost:%d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}

// loadDataset reads a dataset from its configured source. A TileDB path is
// preferred when the build supports it; otherwise the point file is used.
func loadDataset(datasetID string, ds config.DatasetConfig) *points.Dataset {
	if ds.TileDBPath != "" {
		reader, err := tilepts.NewReader(ds.TileDBPath)
		if err != nil {
			log.Fatalf("Failed to open TileDB array for dataset %q: %v", datasetID, err)
		}
		if reader.Supported() {
			dataset, err := reader.ReadAll()
			if err != nil {
				log.Fatalf("Failed to read TileDB array for dataset %q: %v", datasetID, err)
			}
			log.Printf("  [%s] Loaded from TileDB array: %s", datasetID, reader.ArrayURI())
			return dataset
		}
		log.Printf("  [%s] %v", datasetID, tilepts.ErrUnsupported)
	}

	if ds.Path == "" {
		log.Fatalf("Dataset %q has no usable source (set path or build with TileDB support)", datasetID)
	}
	dataset, err := points.Load(ds.Path, ds.Format)
	if err != nil {
		log.Fatalf("Failed to load dataset %q: %v", datasetID, err)
	}
	log.Printf("  [%s] Loaded from: %s", datasetID, ds.Path)
	return dataset
}
