package gridlayer

import (
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/paulmach/orb"
)

// onePointCell builds three points sharing a position so they always land
// in the same cell, with field "v" holding 1, 2, 3.
func onePointCell() []Point {
	pos := orb.Point{10, 20}
	return []Point{
		{Position: pos, Values: map[string]float64{"v": 1}},
		{Position: pos, Values: map[string]float64{"v": 2}},
		{Position: pos, Values: map[string]float64{"v": 3}},
	}
}

func TestAggregateReducers(t *testing.T) {
	tests := []struct {
		agg  Aggregation
		want float64
	}{
		{AggSum, 6},
		{AggAverage, 2},
		{AggCount, 3},
		{AggMedian, 2},
		{AggMinimum, 1},
		{AggMaximum, 3},
	}
	for _, tt := range tests {
		t.Run(tt.agg.String(), func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.ColorField = "v"
			cfg.ColorAggregation = tt.agg

			res, err := Aggregate(onePointCell(), cfg)
			if err != nil {
				t.Fatalf("Aggregate returned error: %v", err)
			}
			if len(res.Cells) != 1 {
				t.Fatalf("expected 1 cell, got %d", len(res.Cells))
			}
			if got := res.Cells[0].ColorValue; got != tt.want {
				t.Errorf("%s aggregate: got %v want %v", tt.agg, got, tt.want)
			}
			if res.ColorDomain != [2]float64{tt.want, tt.want} {
				t.Errorf("single-cell domain: got %v want [%v, %v]", res.ColorDomain, tt.want, tt.want)
			}
		})
	}
}

func TestAggregateMedianEvenCount(t *testing.T) {
	pos := orb.Point{0, 0}
	points := []Point{
		{Position: pos, Values: map[string]float64{"v": 4}},
		{Position: pos, Values: map[string]float64{"v": 1}},
		{Position: pos, Values: map[string]float64{"v": 3}},
		{Position: pos, Values: map[string]float64{"v": 2}},
	}
	cfg := DefaultConfig()
	cfg.ColorField = "v"
	cfg.ColorAggregation = AggMedian

	res, err := Aggregate(points, cfg)
	if err != nil {
		t.Fatalf("Aggregate returned error: %v", err)
	}
	if got := res.Cells[0].ColorValue; got != 2.5 {
		t.Errorf("even-count median: got %v want 2.5", got)
	}
}

func TestAggregateBinningDeterminism(t *testing.T) {
	points := make([]Point, 0, 200)
	for i := 0; i < 200; i++ {
		points = append(points, Point{
			Position: orb.Point{
				-122 + float64(i%17)*0.013,
				37 + float64(i%11)*0.009,
			},
			Values: map[string]float64{"v": float64(i)},
		})
	}
	cfg := DefaultConfig()
	cfg.ColorField = "v"
	cfg.ColorAggregation = AggSum

	first, err := Aggregate(points, cfg)
	if err != nil {
		t.Fatalf("first pass: %v", err)
	}

	// Every point maps to exactly one cell.
	assigned := 0
	for i := range first.Cells {
		assigned += len(first.Cells[i].PointIndexes)
	}
	if assigned != len(points) {
		t.Errorf("binning not total: %d of %d points assigned", assigned, len(points))
	}

	// Re-running yields the identical cell set and aggregates.
	second, err := Aggregate(points, cfg)
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if !reflect.DeepEqual(first.Cells, second.Cells) {
		t.Error("re-aggregation produced a different cell set")
	}
}

func TestAggregateOrderIndependence(t *testing.T) {
	points := make([]Point, 0, 60)
	for i := 0; i < 60; i++ {
		points = append(points, Point{
			Position: orb.Point{5 + float64(i%6)*0.02, 50 + float64(i%5)*0.015},
			Values:   map[string]float64{"v": float64(i * 3 % 41)},
		})
	}
	reversed := make([]Point, len(points))
	for i := range points {
		reversed[len(points)-1-i] = points[i]
	}

	for _, agg := range []Aggregation{AggCount, AggSum, AggAverage, AggMinimum, AggMaximum, AggMedian} {
		cfg := DefaultConfig()
		cfg.ColorField = "v"
		cfg.ColorAggregation = agg

		fwd, err := Aggregate(points, cfg)
		if err != nil {
			t.Fatalf("%s forward: %v", agg, err)
		}
		rev, err := Aggregate(reversed, cfg)
		if err != nil {
			t.Fatalf("%s reversed: %v", agg, err)
		}
		if len(fwd.Cells) != len(rev.Cells) {
			t.Fatalf("%s: cell counts differ: %d vs %d", agg, len(fwd.Cells), len(rev.Cells))
		}
		for i := range fwd.Cells {
			f, r := fwd.Cells[i], rev.Cells[i]
			if f.Col != r.Col || f.Row != r.Row {
				t.Fatalf("%s: cell order differs at %d: (%d,%d) vs (%d,%d)", agg, i, f.Col, f.Row, r.Col, r.Row)
			}
			if math.Abs(f.ColorValue-r.ColorValue) > 1e-12 {
				t.Errorf("%s: cell (%d,%d) aggregate depends on point order: %v vs %v",
					agg, f.Col, f.Row, f.ColorValue, r.ColorValue)
			}
		}
	}
}

func TestAggregateEmptyInput(t *testing.T) {
	res, err := Aggregate(nil, DefaultConfig())
	if err != nil {
		t.Fatalf("empty input must not error, got %v", err)
	}
	if len(res.Cells) != 0 {
		t.Errorf("expected no cells, got %d", len(res.Cells))
	}
	if res.ColorDomain != [2]float64{0, 0} || res.SizeDomain != [2]float64{0, 0} {
		t.Errorf("expected [0,0] domains, got color %v size %v", res.ColorDomain, res.SizeDomain)
	}
}

func TestAggregateSkipsBadValues(t *testing.T) {
	pos := orb.Point{30, -10}
	points := []Point{
		{Position: pos, Values: map[string]float64{"v": 5}},
		{Position: pos, Values: map[string]float64{"v": math.NaN()}},
		{Position: pos, Values: map[string]float64{"other": 1}},
		{Position: pos, Values: map[string]float64{"v": 7}},
	}
	cfg := DefaultConfig()
	cfg.ColorField = "v"
	cfg.ColorAggregation = AggAverage

	res, err := Aggregate(points, cfg)
	if err != nil {
		t.Fatalf("Aggregate returned error: %v", err)
	}
	cell := res.Cells[0]
	if cell.ColorValue != 6 {
		t.Errorf("average over valid values: got %v want 6", cell.ColorValue)
	}
	if cell.ColorCount != 2 {
		t.Errorf("valid value count: got %d want 2", cell.ColorCount)
	}
	if len(cell.PointIndexes) != 4 {
		t.Errorf("cell membership must include skipped-value points: got %d want 4", len(cell.PointIndexes))
	}
	if res.SkippedColor != 2 {
		t.Errorf("skipped counter: got %d want 2", res.SkippedColor)
	}
	if len(res.Warnings) != 2 {
		t.Fatalf("expected 2 warnings, got %d", len(res.Warnings))
	}
	if res.Warnings[0].Field != "v" || res.Warnings[0].PointIndex != 1 {
		t.Errorf("unexpected first warning: %+v", res.Warnings[0])
	}
}

func TestAggregateAllValuesBadExcludedFromDomain(t *testing.T) {
	good := orb.Point{30, -10}
	bad := orb.Point{31, -10}
	points := []Point{
		{Position: good, Values: map[string]float64{"v": 4}},
		{Position: bad, Values: map[string]float64{"v": math.NaN()}},
	}
	cfg := DefaultConfig()
	cfg.ColorField = "v"
	cfg.ColorAggregation = AggSum

	res, err := Aggregate(points, cfg)
	if err != nil {
		t.Fatalf("Aggregate returned error: %v", err)
	}
	if len(res.Cells) != 2 {
		t.Fatalf("expected 2 cells, got %d", len(res.Cells))
	}
	if res.ColorDomain != [2]float64{4, 4} {
		t.Errorf("domain must exclude the all-skipped cell: got %v", res.ColorDomain)
	}
}

func TestAggregateEmptyFieldCountsPoints(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ColorField = ""
	cfg.ColorAggregation = AggSum // forced to count without a field

	res, err := Aggregate(onePointCell(), cfg)
	if err != nil {
		t.Fatalf("Aggregate returned error: %v", err)
	}
	if got := res.Cells[0].ColorValue; got != 3 {
		t.Errorf("field-less channel: got %v want point count 3", got)
	}
}

func TestAggregateInvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero cell size", func(c *Config) { c.WorldUnitSize = 0 }},
		{"negative cell size", func(c *Config) { c.WorldUnitSize = -1 }},
		{"percentile lo above hi", func(c *Config) { c.Percentile = [2]float64{80, 20} }},
		{"percentile out of range", func(c *Config) { c.ElevationPercentile = [2]float64{-5, 50} }},
		{"coverage above one", func(c *Config) { c.Coverage = 1.5 }},
		{"unknown aggregation", func(c *Config) { c.ColorAggregation = Aggregation(99) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			res, err := Aggregate(onePointCell(), cfg)
			if err == nil {
				t.Fatal("expected configuration error, got nil")
			}
			var cfgErr *InvalidConfigurationError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected *InvalidConfigurationError, got %T: %v", err, err)
			}
			if res != nil {
				t.Error("failed pass must not return a partial result")
			}
		})
	}
}

func TestAggregateSeparateChannels(t *testing.T) {
	pos := orb.Point{10, 20}
	points := []Point{
		{Position: pos, Values: map[string]float64{"v": 1}},
		{Position: pos, Values: map[string]float64{"v": 2}},
		{Position: pos, Values: map[string]float64{"v": 3}},
	}
	cfg := DefaultConfig()
	cfg.ColorField = "v"
	cfg.ColorAggregation = AggSum
	cfg.SizeField = "v"
	cfg.SizeAggregation = AggMaximum

	res, err := Aggregate(points, cfg)
	if err != nil {
		t.Fatalf("Aggregate returned error: %v", err)
	}
	cell := res.Cells[0]
	if cell.ColorValue != 6 || cell.SizeValue != 3 {
		t.Errorf("same field, different reducers: color %v (want 6) size %v (want 3)",
			cell.ColorValue, cell.SizeValue)
	}
}

func TestCellAt(t *testing.T) {
	points := []Point{
		{Position: orb.Point{10, 20}},
		{Position: orb.Point{11, 21}},
	}
	res, err := Aggregate(points, DefaultConfig())
	if err != nil {
		t.Fatalf("Aggregate returned error: %v", err)
	}

	cell, ok := res.CellAt(orb.Point{10, 20})
	if !ok {
		t.Fatal("expected a cell at the first point's position")
	}
	found := false
	for _, idx := range cell.PointIndexes {
		if idx == 0 {
			found = true
		}
	}
	if !found {
		t.Error("cell at first position does not contain the first point")
	}

	if _, ok := res.CellAt(orb.Point{-150, -60}); ok {
		t.Error("expected no cell far away from the data")
	}
}
