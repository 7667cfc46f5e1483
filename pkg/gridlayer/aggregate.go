// Package gridlayer bins geographic point data into a uniform grid and
// reduces per-cell statistics into render-ready layer parameters.
package gridlayer

import (
	"math"
	"sort"

	"github.com/paulmach/orb"
)

// maxWarnings caps the warning list carried on a result. Skip counters keep
// counting past the cap.
const maxWarnings = 100

// Point is one input record: a lng/lat position plus named numeric fields.
// Points are read, never mutated, during aggregation.
type Point struct {
	Position orb.Point          `json:"position"`
	Values   map[string]float64 `json:"values,omitempty"`
}

// Cell is one aggregated grid cell. Col and Row key the cell inside the
// binning grid; Anchor is the cell's south-west corner in degrees.
type Cell struct {
	Col    int       `json:"col"`
	Row    int       `json:"row"`
	Anchor orb.Point `json:"anchor"`

	// PointIndexes lists the member points by input index.
	PointIndexes []int `json:"-"`

	// Per-channel aggregates with the number of values that fed each one.
	// A channel with a zero count stays out of the domain computation.
	ColorValue float64 `json:"color_value"`
	SizeValue  float64 `json:"size_value"`
	ColorCount int     `json:"color_count"`
	SizeCount  int     `json:"size_count"`
}

// Value returns the cell's aggregate for a channel.
func (c *Cell) Value(ch Channel) float64 {
	if ch == ChannelSize {
		return c.SizeValue
	}
	return c.ColorValue
}

// ValueCount returns how many valid values fed the channel's aggregate.
func (c *Cell) ValueCount(ch Channel) int {
	if ch == ChannelSize {
		return c.SizeCount
	}
	return c.ColorCount
}

// Result is the output of one aggregation pass. Domains are the [min, max]
// of cell aggregates before any percentile trimming.
type Result struct {
	Cells       []Cell     `json:"cells"`
	ColorDomain [2]float64 `json:"color_domain"`
	SizeDomain  [2]float64 `json:"size_domain"`

	// Binning geometry of the pass: cell spans in degrees at the
	// reference latitude, and the configured cell size.
	XOffsetDeg     float64 `json:"x_offset_deg"`
	YOffsetDeg     float64 `json:"y_offset_deg"`
	CellSizeMeters float64 `json:"cell_size_meters"`

	// Skip accounting. Warnings holds at most maxWarnings entries; the
	// counters are exact.
	SkippedPoints int                  `json:"skipped_points,omitempty"`
	SkippedColor  int                  `json:"skipped_color,omitempty"`
	SkippedSize   int                  `json:"skipped_size,omitempty"`
	Warnings      []DataQualityWarning `json:"warnings,omitempty"`

	index map[cellKey]int
}

type cellKey struct {
	col, row int
}

// CellAt returns the cell containing the given position, if any.
func (r *Result) CellAt(p orb.Point) (*Cell, bool) {
	if r.XOffsetDeg <= 0 || r.YOffsetDeg <= 0 {
		return nil, false
	}
	key := cellKey{
		col: int(math.Floor((p[0] + 180) / r.XOffsetDeg)),
		row: int(math.Floor((p[1] + 90) / r.YOffsetDeg)),
	}
	i, ok := r.index[key]
	if !ok {
		return nil, false
	}
	return &r.Cells[i], true
}

func (r *Result) addWarning(w DataQualityWarning) {
	if len(r.Warnings) < maxWarnings {
		r.Warnings = append(r.Warnings, w)
	}
}

type cellAccum struct {
	cell      Cell
	colorVals []float64
	sizeVals  []float64
}

// Aggregate bins points into grid cells and reduces each cell's member
// values with the configured per-channel aggregation functions.
//
// Binning derives per-cell degree spans from the configured cell size at
// the dataset's center latitude, then keys every point by the floored
// offset from the (-180, -90) origin. For a fixed input and configuration
// the output is exactly reproducible, and cell aggregates do not depend on
// point order. Points with non-finite positions are skipped and counted.
//
// An empty input yields an empty cell set with [0, 0] domains and no
// error; an invalid configuration aborts the pass before any binning.
func Aggregate(points []Point, cfg Config) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cellSize := cfg.WorldUnitSize * 1000
	res := &Result{
		Cells:          make([]Cell, 0),
		CellSizeMeters: cellSize,
		index:          make(map[cellKey]int),
	}

	minLat, maxLat := math.Inf(1), math.Inf(-1)
	for _, p := range points {
		if !finitePosition(p.Position) {
			continue
		}
		if p.Position[1] < minLat {
			minLat = p.Position[1]
		}
		if p.Position[1] > maxLat {
			maxLat = p.Position[1]
		}
	}
	if minLat > maxLat {
		// No binnable points at all.
		for i := range points {
			res.SkippedPoints++
			res.addWarning(DataQualityWarning{PointIndex: i, Reason: "non-finite position"})
		}
		return res, nil
	}

	refLat := clampLatitude((minLat + maxLat) / 2)
	res.YOffsetDeg = metersToLatDegrees(cellSize)
	res.XOffsetDeg = metersToLngDegrees(cellSize, refLat)

	colorAgg := aggregationFor(cfg.ColorField, cfg.ColorAggregation)
	sizeAgg := aggregationFor(cfg.SizeField, cfg.SizeAggregation)

	cells := make(map[cellKey]*cellAccum)
	for i, p := range points {
		if !finitePosition(p.Position) {
			res.SkippedPoints++
			res.addWarning(DataQualityWarning{PointIndex: i, Reason: "non-finite position"})
			continue
		}
		key := cellKey{
			col: int(math.Floor((p.Position[0] + 180) / res.XOffsetDeg)),
			row: int(math.Floor((p.Position[1] + 90) / res.YOffsetDeg)),
		}
		acc, ok := cells[key]
		if !ok {
			acc = &cellAccum{cell: Cell{
				Col: key.col,
				Row: key.row,
				Anchor: orb.Point{
					-180 + res.XOffsetDeg*float64(key.col),
					-90 + res.YOffsetDeg*float64(key.row),
				},
			}}
			cells[key] = acc
		}
		acc.cell.PointIndexes = append(acc.cell.PointIndexes, i)

		if colorAgg != AggCount {
			if v, ok := fieldValue(p, cfg.ColorField); ok {
				acc.colorVals = append(acc.colorVals, v)
			} else {
				res.SkippedColor++
				res.addWarning(DataQualityWarning{Field: cfg.ColorField, PointIndex: i, Reason: "missing or non-numeric value"})
			}
		}
		if sizeAgg != AggCount {
			if v, ok := fieldValue(p, cfg.SizeField); ok {
				acc.sizeVals = append(acc.sizeVals, v)
			} else {
				res.SkippedSize++
				res.addWarning(DataQualityWarning{Field: cfg.SizeField, PointIndex: i, Reason: "missing or non-numeric value"})
			}
		}
	}

	res.Cells = make([]Cell, 0, len(cells))
	for _, acc := range cells {
		c := acc.cell
		c.ColorValue, c.ColorCount = reduceChannel(colorAgg, len(c.PointIndexes), acc.colorVals)
		c.SizeValue, c.SizeCount = reduceChannel(sizeAgg, len(c.PointIndexes), acc.sizeVals)
		res.Cells = append(res.Cells, c)
	}
	sort.Slice(res.Cells, func(i, j int) bool {
		if res.Cells[i].Row != res.Cells[j].Row {
			return res.Cells[i].Row < res.Cells[j].Row
		}
		return res.Cells[i].Col < res.Cells[j].Col
	})
	for i := range res.Cells {
		res.index[cellKey{col: res.Cells[i].Col, row: res.Cells[i].Row}] = i
	}

	res.ColorDomain = domainOf(res.Cells, ChannelColor)
	res.SizeDomain = domainOf(res.Cells, ChannelSize)
	return res, nil
}

// reduceChannel applies the aggregation to one cell's channel. For count
// the member total is the aggregate; otherwise an all-skipped channel
// reduces to zero with a zero count.
func reduceChannel(agg Aggregation, members int, values []float64) (float64, int) {
	if agg == AggCount {
		return float64(members), members
	}
	if len(values) == 0 {
		return 0, 0
	}
	return agg.apply(values), len(values)
}

// apply reduces a non-empty value slice. Median sorts a copy so the result
// never depends on insertion order.
func (a Aggregation) apply(values []float64) float64 {
	switch a {
	case AggSum:
		sum := 0.0
		for _, v := range values {
			sum += v
		}
		return sum
	case AggAverage:
		sum := 0.0
		for _, v := range values {
			sum += v
		}
		return sum / float64(len(values))
	case AggMinimum:
		min := values[0]
		for _, v := range values[1:] {
			if v < min {
				min = v
			}
		}
		return min
	case AggMaximum:
		max := values[0]
		for _, v := range values[1:] {
			if v > max {
				max = v
			}
		}
		return max
	case AggMedian:
		sorted := make([]float64, len(values))
		copy(sorted, values)
		sort.Float64s(sorted)
		mid := len(sorted) / 2
		if len(sorted)%2 == 0 {
			return (sorted[mid-1] + sorted[mid]) / 2
		}
		return sorted[mid]
	default:
		return float64(len(values))
	}
}

// domainOf computes the [min, max] of cell aggregates for a channel over
// cells that received at least one valid value.
func domainOf(cells []Cell, ch Channel) [2]float64 {
	found := false
	var lo, hi float64
	for i := range cells {
		if cells[i].ValueCount(ch) == 0 {
			continue
		}
		v := cells[i].Value(ch)
		if !found {
			lo, hi = v, v
			found = true
			continue
		}
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if !found {
		return [2]float64{0, 0}
	}
	return [2]float64{lo, hi}
}

func fieldValue(p Point, field string) (float64, bool) {
	v, ok := p.Values[field]
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func finitePosition(p orb.Point) bool {
	return !math.IsNaN(p[0]) && !math.IsInf(p[0], 0) && !math.IsNaN(p[1]) && !math.IsInf(p[1], 0)
}
