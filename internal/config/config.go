// Package config handles configuration loading for the PointGrid server.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pointgrid/server/pkg/colormap"
	"github.com/pointgrid/server/pkg/gridlayer"
)

// Config represents the server configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Data   DataConfig   `yaml:"data"`
	Cache  CacheConfig  `yaml:"cache"`
	Render RenderConfig `yaml:"render"`
	Layer  LayerConfig  `yaml:"layer"`
	Jobs   JobsConfig   `yaml:"jobs"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host        string   `yaml:"host"`
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// DatasetConfig describes one point dataset.
type DatasetConfig struct {
	// Path points at the dataset file. Format is "csv" or "ndjson" and is
	// guessed from the file name when empty.
	Path   string `yaml:"path"`
	Format string `yaml:"format"`
	// TileDBPath optionally points at a TileDB array holding the same
	// points, used by builds with TileDB support.
	TileDBPath string `yaml:"tiledb_path"`
}

// DataConfig contains the dataset table. The YAML form is a mapping from
// dataset id to DatasetConfig, with the reserved keys "title" and
// "default"; a bare "path" key is accepted as a single-dataset shorthand.
type DataConfig struct {
	Title          string
	DefaultDataset string
	Datasets       map[string]DatasetConfig

	order []string
}

// DatasetIDs returns the dataset ids in configuration order.
func (d *DataConfig) DatasetIDs() []string {
	return d.order
}

// UnmarshalYAML parses the data section, preserving dataset order.
func (d *DataConfig) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("data section must be a mapping")
	}
	d.Datasets = make(map[string]DatasetConfig)

	legacy := DatasetConfig{}
	hasLegacy := false

	for i := 0; i+1 < len(value.Content); i += 2 {
		key := value.Content[i].Value
		node := value.Content[i+1]
		switch key {
		case "title":
			if err := node.Decode(&d.Title); err != nil {
				return err
			}
		case "default":
			if err := node.Decode(&d.DefaultDataset); err != nil {
				return err
			}
		case "path":
			if err := node.Decode(&legacy.Path); err != nil {
				return err
			}
			hasLegacy = true
		case "format":
			if err := node.Decode(&legacy.Format); err != nil {
				return err
			}
			hasLegacy = true
		case "tiledb_path":
			if err := node.Decode(&legacy.TileDBPath); err != nil {
				return err
			}
			hasLegacy = true
		default:
			var ds DatasetConfig
			if err := node.Decode(&ds); err != nil {
				return fmt.Errorf("dataset %q: %w", key, err)
			}
			d.Datasets[key] = ds
			d.order = append(d.order, key)
		}
	}

	if hasLegacy {
		d.Datasets["default"] = legacy
		d.order = append([]string{"default"}, d.order...)
	}
	if d.DefaultDataset == "" && len(d.order) > 0 {
		d.DefaultDataset = d.order[0]
	}
	return nil
}

// CacheConfig contains caching settings.
type CacheConfig struct {
	PreviewSizeMB     int `yaml:"preview_size_mb"`
	PreviewTTLMinutes int `yaml:"preview_ttl_minutes"`
	ResultCacheSize   int `yaml:"result_cache_size"`
}

// RenderConfig contains preview rendering settings.
type RenderConfig struct {
	TileSize          int    `yaml:"tile_size"`
	DefaultColorRange string `yaml:"default_color_range"`
}

// LayerConfig contains the layer defaults handed to clients that do not
// override them.
type LayerConfig struct {
	WorldUnitSizeKm     float64   `yaml:"world_unit_size_km"`
	Coverage            float64   `yaml:"coverage"`
	ColorAggregation    string    `yaml:"color_aggregation"`
	SizeAggregation     string    `yaml:"size_aggregation"`
	Percentile          []float64 `yaml:"percentile"`
	ElevationPercentile []float64 `yaml:"elevation_percentile"`
	ElevationScale      float64   `yaml:"elevation_scale"`
	Enable3D            bool      `yaml:"enable_3d"`
	ElevationZoomFactor *bool     `yaml:"elevation_zoom_factor"`
}

// ToEngine converts the YAML layer defaults into an engine configuration,
// validating aggregation ids and ranges up front.
func (l LayerConfig) ToEngine() (gridlayer.Config, error) {
	cfg := gridlayer.DefaultConfig()
	if l.WorldUnitSizeKm != 0 {
		cfg.WorldUnitSize = l.WorldUnitSizeKm
	}
	if l.Coverage != 0 {
		cfg.Coverage = l.Coverage
	}
	if l.ColorAggregation != "" {
		agg, err := gridlayer.ParseAggregation(l.ColorAggregation)
		if err != nil {
			return gridlayer.Config{}, fmt.Errorf("layer.color_aggregation: %w", err)
		}
		cfg.ColorAggregation = agg
	}
	if l.SizeAggregation != "" {
		agg, err := gridlayer.ParseAggregation(l.SizeAggregation)
		if err != nil {
			return gridlayer.Config{}, fmt.Errorf("layer.size_aggregation: %w", err)
		}
		cfg.SizeAggregation = agg
	}
	if l.Percentile != nil {
		pr, err := percentilePair("layer.percentile", l.Percentile)
		if err != nil {
			return gridlayer.Config{}, err
		}
		cfg.Percentile = pr
	}
	if l.ElevationPercentile != nil {
		pr, err := percentilePair("layer.elevation_percentile", l.ElevationPercentile)
		if err != nil {
			return gridlayer.Config{}, err
		}
		cfg.ElevationPercentile = pr
	}
	if l.ElevationScale != 0 {
		cfg.ElevationScale = l.ElevationScale
	}
	cfg.Enable3D = l.Enable3D
	if l.ElevationZoomFactor != nil {
		cfg.EnableElevationZoomFactor = *l.ElevationZoomFactor
	}
	if err := cfg.Validate(); err != nil {
		return gridlayer.Config{}, fmt.Errorf("layer defaults: %w", err)
	}
	return cfg, nil
}

func percentilePair(name string, values []float64) ([2]float64, error) {
	if len(values) != 2 {
		return [2]float64{}, fmt.Errorf("%s: expected [lo, hi], got %d values", name, len(values))
	}
	return [2]float64{values[0], values[1]}, nil
}

// JobsConfig contains export job settings.
type JobsConfig struct {
	DBPath        string `yaml:"db_path"`
	Workers       int    `yaml:"workers"`
	QueueSize     int    `yaml:"queue_size"`
	RetentionDays int    `yaml:"retention_days"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		// Return default config if file doesn't exist
		return DefaultConfig(), nil
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Apply defaults for missing values
	applyDefaults(&cfg)

	if _, ok := colormap.Lookup(cfg.Render.DefaultColorRange); !ok {
		return nil, fmt.Errorf("render.default_color_range: unknown ramp %q (have: %s)",
			cfg.Render.DefaultColorRange, strings.Join(colormap.Names(), ", "))
	}

	return &cfg, nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Data: DataConfig{
			DefaultDataset: "default",
			Datasets: map[string]DatasetConfig{
				"default": {Path: "./data/points.csv"},
			},
			order: []string{"default"},
		},
		Cache: CacheConfig{
			PreviewSizeMB:     512,
			PreviewTTLMinutes: 10,
			ResultCacheSize:   64,
		},
		Render: RenderConfig{
			TileSize:          256,
			DefaultColorRange: "heat",
		},
		Layer: LayerConfig{},
		Jobs: JobsConfig{
			DBPath:        "./data/jobs.db",
			Workers:       2,
			QueueSize:     100,
			RetentionDays: 7,
		},
	}
}

func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaults.Server.Port
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = defaults.Server.CORSOrigins
	}
	if len(cfg.Data.Datasets) == 0 {
		title := cfg.Data.Title
		cfg.Data = defaults.Data
		cfg.Data.Title = title
	}
	if cfg.Data.DefaultDataset == "" {
		cfg.Data.DefaultDataset = cfg.Data.order[0]
	}
	if cfg.Cache.PreviewSizeMB == 0 {
		cfg.Cache.PreviewSizeMB = defaults.Cache.PreviewSizeMB
	}
	if cfg.Cache.PreviewTTLMinutes == 0 {
		cfg.Cache.PreviewTTLMinutes = defaults.Cache.PreviewTTLMinutes
	}
	if cfg.Cache.ResultCacheSize == 0 {
		cfg.Cache.ResultCacheSize = defaults.Cache.ResultCacheSize
	}
	if cfg.Render.TileSize == 0 {
		cfg.Render.TileSize = defaults.Render.TileSize
	}
	if cfg.Render.DefaultColorRange == "" {
		cfg.Render.DefaultColorRange = defaults.Render.DefaultColorRange
	}
	if cfg.Jobs.DBPath == "" {
		cfg.Jobs.DBPath = defaults.Jobs.DBPath
	}
	if cfg.Jobs.Workers == 0 {
		cfg.Jobs.Workers = defaults.Jobs.Workers
	}
	if cfg.Jobs.QueueSize == 0 {
		cfg.Jobs.QueueSize = defaults.Jobs.QueueSize
	}
	if cfg.Jobs.RetentionDays == 0 {
		cfg.Jobs.RetentionDays = defaults.Jobs.RetentionDays
	}
}
