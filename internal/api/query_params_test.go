package api

import (
	"net/url"
	"reflect"
	"testing"

	"github.com/pointgrid/server/pkg/gridlayer"
)

func TestLayerConfigFromQuery(t *testing.T) {
	defaults := gridlayer.DefaultConfig()

	t.Run("absent", func(t *testing.T) {
		cfg, err := layerConfigFromQuery(defaults, url.Values{})
		if err != nil {
			t.Fatalf("expected err=nil, got %v", err)
		}
		if !reflect.DeepEqual(cfg, defaults) {
			t.Fatalf("expected untouched defaults, got %#v", cfg)
		}
	})

	t.Run("overlay", func(t *testing.T) {
		q, _ := url.ParseQuery("cellSize=2.5&coverage=0.8&colorField=fare&colorAggregation=average&percentile=10,90")
		cfg, err := layerConfigFromQuery(defaults, q)
		if err != nil {
			t.Fatalf("expected err=nil, got %v", err)
		}
		if cfg.WorldUnitSize != 2.5 {
			t.Errorf("expected cell size 2.5, got %v", cfg.WorldUnitSize)
		}
		if cfg.Coverage != 0.8 {
			t.Errorf("expected coverage 0.8, got %v", cfg.Coverage)
		}
		if cfg.ColorField != "fare" {
			t.Errorf("expected color field fare, got %q", cfg.ColorField)
		}
		if cfg.ColorAggregation != gridlayer.AggAverage {
			t.Errorf("expected average aggregation, got %v", cfg.ColorAggregation)
		}
		if cfg.Percentile != [2]float64{10, 90} {
			t.Errorf("expected percentile [10 90], got %v", cfg.Percentile)
		}
		// Untouched knobs keep their defaults.
		if cfg.SizeAggregation != defaults.SizeAggregation {
			t.Errorf("size aggregation changed: %v", cfg.SizeAggregation)
		}
	})

	t.Run("colorRange", func(t *testing.T) {
		q, _ := url.ParseQuery("colorRange=%23ff0000, %230000ff")
		cfg, err := layerConfigFromQuery(defaults, q)
		if err != nil {
			t.Fatalf("expected err=nil, got %v", err)
		}
		want := []string{"#ff0000", "#0000ff"}
		if !reflect.DeepEqual(cfg.ColorRange, want) {
			t.Fatalf("expected %#v, got %#v", want, cfg.ColorRange)
		}
	})

	t.Run("badCellSize", func(t *testing.T) {
		q, _ := url.ParseQuery("cellSize=abc")
		if _, err := layerConfigFromQuery(defaults, q); err == nil {
			t.Fatal("expected an error for a non-numeric cell size")
		}
	})

	t.Run("infiniteCoverage", func(t *testing.T) {
		q, _ := url.ParseQuery("coverage=Inf")
		if _, err := layerConfigFromQuery(defaults, q); err == nil {
			t.Fatal("expected an error for an infinite coverage")
		}
	})

	t.Run("unknownAggregation", func(t *testing.T) {
		q, _ := url.ParseQuery("colorAggregation=mode")
		if _, err := layerConfigFromQuery(defaults, q); err == nil {
			t.Fatal("expected an error for an unknown aggregation")
		}
	})
}

func TestParsePercentileRange(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		pr, err := parsePercentileRange("10,90")
		if err != nil {
			t.Fatalf("expected err=nil, got %v", err)
		}
		if pr != [2]float64{10, 90} {
			t.Fatalf("expected [10 90], got %v", pr)
		}
	})

	t.Run("spaces", func(t *testing.T) {
		pr, err := parsePercentileRange(" 5 , 95 ")
		if err != nil {
			t.Fatalf("expected err=nil, got %v", err)
		}
		if pr != [2]float64{5, 95} {
			t.Fatalf("expected [5 95], got %v", pr)
		}
	})

	t.Run("singleValue", func(t *testing.T) {
		if _, err := parsePercentileRange("5"); err == nil {
			t.Fatal("expected an error for a single bound")
		}
	})

	t.Run("nonNumeric", func(t *testing.T) {
		if _, err := parsePercentileRange("lo,hi"); err == nil {
			t.Fatal("expected an error for non-numeric bounds")
		}
	})

	t.Run("nan", func(t *testing.T) {
		if _, err := parsePercentileRange("NaN,90"); err == nil {
			t.Fatal("expected an error for NaN bounds")
		}
	})
}

func TestParseColorRange(t *testing.T) {
	t.Run("absent", func(t *testing.T) {
		if stops := parseColorRange(""); stops != nil {
			t.Fatalf("expected nil, got %#v", stops)
		}
	})

	t.Run("blankEntries", func(t *testing.T) {
		if stops := parseColorRange(" , ,"); stops != nil {
			t.Fatalf("expected nil, got %#v", stops)
		}
	})

	t.Run("list", func(t *testing.T) {
		want := []string{"#5A1846", "#FFC300"}
		got := parseColorRange("#5A1846,#FFC300")
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("expected %#v, got %#v", want, got)
		}
	})
}
