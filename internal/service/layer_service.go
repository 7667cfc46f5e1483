// Package service provides business logic for the grid layer server.
package service

import (
	"fmt"
	"image/color"
	"log"
	"sort"
	"strings"
	"sync"

	"github.com/paulmach/orb"

	"github.com/pointgrid/server/internal/cache"
	"github.com/pointgrid/server/internal/data/points"
	"github.com/pointgrid/server/internal/render"
	"github.com/pointgrid/server/pkg/colormap"
	"github.com/pointgrid/server/pkg/gridlayer"
)

// LayerServiceConfig contains layer service configuration.
type LayerServiceConfig struct {
	DatasetID string
	Dataset   *points.Dataset
	Cache     *cache.Manager
	Renderer  *render.PreviewRenderer
	Defaults  gridlayer.Config
}

// LayerService aggregates one dataset into grid layers and serves previews.
type LayerService struct {
	datasetID string
	dataset   *points.Dataset
	cache     *cache.Manager
	renderer  *render.PreviewRenderer
	defaults  gridlayer.Config

	// Per-field stats cache
	statsMu    sync.Mutex
	statsCache map[string]*FieldStats
}

// NewLayerService creates a new layer service.
func NewLayerService(cfg LayerServiceConfig) *LayerService {
	datasetID := cfg.DatasetID
	if datasetID == "" {
		datasetID = "default"
	}

	return &LayerService{
		datasetID:  datasetID,
		dataset:    cfg.Dataset,
		cache:      cfg.Cache,
		renderer:   cfg.Renderer,
		defaults:   cfg.Defaults,
		statsCache: make(map[string]*FieldStats),
	}
}

// DatasetID returns the registry id of the served dataset.
func (s *LayerService) DatasetID() string {
	return s.datasetID
}

// Defaults returns the server-side layer configuration for this dataset.
func (s *LayerService) Defaults() gridlayer.Config {
	return s.defaults
}

// Aggregate runs a full aggregation pass, or returns the cached result for
// an identical configuration. Results are shared and must not be mutated.
func (s *LayerService) Aggregate(cfg gridlayer.Config) (*gridlayer.Result, error) {
	key := cache.LayerKey(s.datasetID, cfg)
	if res, ok := s.cache.GetResult(key); ok {
		return res, nil
	}

	res, err := gridlayer.Aggregate(s.dataset.Points, cfg)
	if err != nil {
		return nil, err
	}
	if res.SkippedPoints > 0 || res.SkippedColor > 0 || res.SkippedSize > 0 {
		log.Printf("[LayerService] dataset %s: skipped %d points, %d color values, %d size values",
			s.datasetID, res.SkippedPoints, res.SkippedColor, res.SkippedSize)
	}

	s.cache.SetResult(key, res)
	return res, nil
}

// ComposeLayer aggregates and composes render parameters for the given
// camera, optionally with a hovered position.
func (s *LayerService) ComposeLayer(cfg gridlayer.Config, cam gridlayer.CameraState, hovered *orb.Point) (*gridlayer.RenderParams, error) {
	res, err := s.Aggregate(cfg)
	if err != nil {
		return nil, err
	}
	return gridlayer.Compose(res, cfg, cam, hovered)
}

// PreviewTile renders the layer's cells that fall inside tile z/x/y.
func (s *LayerService) PreviewTile(z, x, y int, cfg gridlayer.Config) ([]byte, error) {
	if z < 0 || z > 22 {
		return nil, fmt.Errorf("invalid zoom level: %d", z)
	}
	tilesPerAxis := 1 << uint(z)
	if x < 0 || y < 0 || x >= tilesPerAxis || y >= tilesPerAxis {
		return nil, fmt.Errorf("tile out of range: %d/%d (tiles_per_axis=%d)", x, y, tilesPerAxis)
	}

	cacheKey := cache.PreviewKey(s.datasetID, z, x, y, previewOptions(cfg))
	if data, ok := s.cache.GetPreview(cacheKey); ok {
		return data, nil
	}

	params, err := s.ComposeLayer(cfg, gridlayer.CameraState{Zoom: float64(z)}, nil)
	if err != nil {
		return nil, err
	}

	data, err := s.renderer.RenderPreview(params, z, x, y)
	if err != nil {
		return nil, fmt.Errorf("failed to render preview: %w", err)
	}

	s.cache.SetPreview(cacheKey, data)
	return data, nil
}

// previewOptions flattens the configuration knobs that change preview pixels.
func previewOptions(cfg gridlayer.Config) map[string]interface{} {
	return map[string]interface{}{
		"size":       cfg.WorldUnitSize,
		"coverage":   cfg.Coverage,
		"colorField": cfg.ColorField,
		"colorAgg":   cfg.ColorAggregation.String(),
		"colors":     strings.Join(cfg.ColorRange, ","),
		"percentile": fmt.Sprintf("%g-%g", cfg.Percentile[0], cfg.Percentile[1]),
	}
}

// EmptyTile returns an empty transparent tile.
func (s *LayerService) EmptyTile() ([]byte, error) {
	return s.renderer.EmptyTile()
}

// Metadata describes a served dataset.
type Metadata struct {
	ID          string             `json:"id"`
	RowCount    int                `json:"row_count"`
	DroppedRows int                `json:"dropped_rows"`
	Bounds      points.Bounds      `json:"bounds"`
	Fields      []points.FieldInfo `json:"fields"`
	Defaults    gridlayer.Config   `json:"defaults"`
}

// Metadata returns dataset metadata together with the layer defaults.
func (s *LayerService) Metadata() *Metadata {
	return &Metadata{
		ID:          s.datasetID,
		RowCount:    s.dataset.Meta.RowCount,
		DroppedRows: s.dataset.Meta.DroppedRows,
		Bounds:      s.dataset.Meta.Bounds,
		Fields:      s.dataset.Meta.Fields,
		Defaults:    s.defaults,
	}
}

// Fields lists the dataset's attribute columns.
func (s *LayerService) Fields() []points.FieldInfo {
	return s.dataset.Meta.Fields
}

// FieldStats summarizes the distribution of one numeric field.
type FieldStats struct {
	Field  string  `json:"field"`
	Count  int     `json:"count"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	P25    float64 `json:"p25"`
	P75    float64 `json:"p75"`
}

// FieldStats computes distribution statistics for a field. Percentiles use
// the same interpolation rule the layer's domain filtering uses.
func (s *LayerService) FieldStats(field string) (*FieldStats, error) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()

	if cached, ok := s.statsCache[field]; ok {
		return cached, nil
	}

	known := false
	for _, f := range s.dataset.Meta.Fields {
		if f.Name == field {
			known = true
			break
		}
	}
	if !known {
		return nil, fmt.Errorf("field not found: %s", field)
	}

	values := make([]float64, 0, len(s.dataset.Points))
	sum := 0.0
	for _, p := range s.dataset.Points {
		if v, ok := p.Values[field]; ok {
			values = append(values, v)
			sum += v
		}
	}

	stats := &FieldStats{Field: field, Count: len(values)}
	if len(values) > 0 {
		sort.Float64s(values)
		stats.Min = values[0]
		stats.Max = values[len(values)-1]
		stats.Mean = sum / float64(len(values))
		stats.Median = gridlayer.Percentile(values, 50)
		stats.P25 = gridlayer.Percentile(values, 25)
		stats.P75 = gridlayer.Percentile(values, 75)
	}

	s.statsCache[field] = stats
	return stats, nil
}

// LegendStop ties one ramp color to the domain value it represents.
type LegendStop struct {
	Color string  `json:"color"`
	Value float64 `json:"value"`
}

// Legend describes a configuration's color ramp as evenly spaced
// breakpoints over the percentile-trimmed color domain.
type Legend struct {
	Field       string       `json:"field,omitempty"`
	Aggregation string       `json:"aggregation"`
	Domain      [2]float64   `json:"domain"`
	Stops       []LegendStop `json:"stops"`
}

// Legend aggregates under cfg and maps the ramp stops onto the trimmed
// color domain. A color range that does not parse falls back to the
// built-in heat ramp, matching the preview renderer.
func (s *LayerService) Legend(cfg gridlayer.Config) (*Legend, error) {
	res, err := s.Aggregate(cfg)
	if err != nil {
		return nil, err
	}
	dom, err := gridlayer.FilterDomain(res.Cells, gridlayer.ChannelColor, cfg.Percentile)
	if err != nil {
		return nil, err
	}

	var stops []color.RGBA
	if cm, err := colormap.FromHex(cfg.ColorRange); err == nil {
		stops = cm.Stops()
	} else {
		stops = colormap.Heat.Stops()
	}

	rng := dom.Range()
	out := make([]LegendStop, 0, len(stops))
	for i, c := range stops {
		t := 0.0
		if len(stops) > 1 {
			t = float64(i) / float64(len(stops)-1)
		}
		out = append(out, LegendStop{
			Color: colormap.Hex(c),
			Value: rng[0] + t*(rng[1]-rng[0]),
		})
	}

	// A channel without a field counts points no matter the configured
	// aggregation, so the legend reports the effective one.
	agg := cfg.ColorAggregation
	if cfg.ColorField == "" {
		agg = gridlayer.AggCount
	}
	return &Legend{
		Field:       cfg.ColorField,
		Aggregation: agg.String(),
		Domain:      rng,
		Stops:       out,
	}, nil
}
