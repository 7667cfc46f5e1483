package cache

import (
	"bytes"
	"testing"
	"time"

	"github.com/pointgrid/server/pkg/gridlayer"
)

func TestPreviewKey(t *testing.T) {
	base := "preview:taxi:8/41/98"

	t.Run("noOptions", func(t *testing.T) {
		got := PreviewKey("taxi", 8, 41, 98, nil)
		if got != base {
			t.Fatalf("expected %q, got %q", base, got)
		}
	})

	t.Run("orderIndependent", func(t *testing.T) {
		key1 := PreviewKey("taxi", 8, 41, 98, map[string]interface{}{
			"colorField": "fare", "colorAggregation": "average",
		})
		key2 := PreviewKey("taxi", 8, 41, 98, map[string]interface{}{
			"colorAggregation": "average", "colorField": "fare",
		})
		if key1 != key2 {
			t.Fatalf("expected stable key, got %q vs %q", key1, key2)
		}
		if key1 == base {
			t.Fatalf("expected optioned key to differ from base, got %q", key1)
		}
	})

	t.Run("optionsChangeKey", func(t *testing.T) {
		key1 := PreviewKey("taxi", 8, 41, 98, map[string]interface{}{"colorField": "fare"})
		key2 := PreviewKey("taxi", 8, 41, 98, map[string]interface{}{"colorField": "tip"})
		if key1 == key2 {
			t.Fatalf("expected distinct keys, both %q", key1)
		}
	})
}

func TestLayerKey(t *testing.T) {
	cfg := gridlayer.DefaultConfig()

	t.Run("deterministic", func(t *testing.T) {
		if LayerKey("taxi", cfg) != LayerKey("taxi", cfg) {
			t.Fatal("expected identical configs to share a key")
		}
	})

	t.Run("configChangesKey", func(t *testing.T) {
		other := cfg
		other.WorldUnitSize = 2.5
		if LayerKey("taxi", cfg) == LayerKey("taxi", other) {
			t.Fatal("expected changed config to change the key")
		}
	})

	t.Run("datasetChangesKey", func(t *testing.T) {
		if LayerKey("taxi", cfg) == LayerKey("checkins", cfg) {
			t.Fatal("expected dataset id to change the key")
		}
	})
}

func TestManagerRoundTrip(t *testing.T) {
	m, err := NewManager(Config{
		PreviewCacheSizeMB: 8,
		PreviewTTL:         time.Minute,
		ResultCacheSize:    4,
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	defer m.Close()

	t.Run("preview", func(t *testing.T) {
		key := PreviewKey("taxi", 8, 41, 98, nil)
		if _, ok := m.GetPreview(key); ok {
			t.Fatal("expected miss before set")
		}
		png := []byte{0x89, 'P', 'N', 'G'}
		if err := m.SetPreview(key, png); err != nil {
			t.Fatalf("SetPreview: %v", err)
		}
		got, ok := m.GetPreview(key)
		if !ok || !bytes.Equal(got, png) {
			t.Fatalf("expected %v, got %v (hit=%v)", png, got, ok)
		}
	})

	t.Run("result", func(t *testing.T) {
		key := LayerKey("taxi", gridlayer.DefaultConfig())
		if _, ok := m.GetResult(key); ok {
			t.Fatal("expected miss before set")
		}
		res := &gridlayer.Result{ColorDomain: [2]float64{1, 9}}
		m.SetResult(key, res)
		got, ok := m.GetResult(key)
		if !ok || got != res {
			t.Fatal("expected cached pointer back")
		}
	})
}
