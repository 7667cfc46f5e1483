package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pointgrid/server/internal/cache"
	"github.com/pointgrid/server/internal/render"
	"github.com/pointgrid/server/internal/service"
	"github.com/pointgrid/server/pkg/gridlayer"
)

// TestRouterWithoutJobManager_NoListen drives the router through ServeHTTP
// directly. A server without a job manager still serves layers; the export
// endpoints answer 501.
func TestRouterWithoutJobManager_NoListen(t *testing.T) {
	cacheManager, err := cache.NewManager(cache.Config{
		PreviewCacheSizeMB: 8,
		PreviewTTL:         1 * time.Minute,
		ResultCacheSize:    8,
	})
	if err != nil {
		t.Fatalf("Failed to initialize cache: %v", err)
	}
	defer cacheManager.Close()

	renderer := render.NewPreviewRenderer(render.Config{
		TileSize:          256,
		DefaultColorRange: "heat",
	})

	layerService := service.NewLayerService(service.LayerServiceConfig{
		DatasetID: "taxi",
		Dataset:   testDataset(),
		Cache:     cacheManager,
		Renderer:  renderer,
		Defaults:  gridlayer.DefaultConfig(),
	})

	registry := NewDatasetRegistry("taxi", []string{"taxi"}, "")
	registry.Register("taxi", layerService)

	router := NewRouter(RouterConfig{
		Registry:    registry,
		CORSOrigins: []string{"http://localhost:3000"},
	})

	t.Run("metadata", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/d/taxi/api/metadata", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
		}
		var payload map[string]any
		if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
			t.Fatalf("failed to decode JSON: %v", err)
		}
		if got, _ := payload["id"].(string); got != "taxi" {
			t.Fatalf("unexpected dataset id: got %q want %q", got, "taxi")
		}
	})

	t.Run("tile", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/d/taxi/tiles/2/2/1.png", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
		}
		if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
			t.Fatalf("expected image/png, got %q", ct)
		}
	})

	t.Run("exportSubmit", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/d/taxi/api/export", strings.NewReader("{}"))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		if rec.Code != http.StatusNotImplemented {
			t.Fatalf("expected %d, got %d: %s", http.StatusNotImplemented, rec.Code, rec.Body.String())
		}
	})

	t.Run("exportStatus", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/export/abcdef0123456789", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		if rec.Code != http.StatusNotImplemented {
			t.Fatalf("expected %d, got %d: %s", http.StatusNotImplemented, rec.Code, rec.Body.String())
		}
	})
}
