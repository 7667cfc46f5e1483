package gridlayer

import (
	"math"
	"sort"
)

// Domain is a channel's percentile-trimmed value range together with the
// clipping semantics the channel uses: color values clamp to the band
// edges, elevation values outside the band drop out of the extrusion.
type Domain struct {
	Channel Channel `json:"channel"`
	Lo      float64 `json:"lo"`
	Hi      float64 `json:"hi"`
}

// Range returns the clipped [lo, hi] domain.
func (d Domain) Range() [2]float64 {
	return [2]float64{d.Lo, d.Hi}
}

// Clamp applies the color-channel rule: values outside the band snap to the
// nearest edge, values inside pass through unchanged.
func (d Domain) Clamp(v float64) float64 {
	if v < d.Lo {
		return d.Lo
	}
	if v > d.Hi {
		return d.Hi
	}
	return v
}

// Visible applies the elevation-channel rule: only aggregates inside the
// band are rendered at all.
func (d Domain) Visible(v float64) bool {
	return v >= d.Lo && v <= d.Hi
}

// FilterDomain computes the percentile band of a channel's cell aggregates.
// Thresholds come from linear interpolation between order statistics, so a
// [0, 100] range reproduces the full [min, max] domain exactly and clamps
// nothing. Cells whose channel never received a valid value stay out of the
// computation. An empty cell set yields a [0, 0] domain.
func FilterDomain(cells []Cell, ch Channel, percentileRange [2]float64) (Domain, error) {
	if err := validatePercentileRange(ch.String()+" percentile", percentileRange); err != nil {
		return Domain{}, err
	}
	values := make([]float64, 0, len(cells))
	for i := range cells {
		if cells[i].ValueCount(ch) > 0 {
			values = append(values, cells[i].Value(ch))
		}
	}
	if len(values) == 0 {
		return Domain{Channel: ch}, nil
	}
	sort.Float64s(values)
	return Domain{
		Channel: ch,
		Lo:      percentileOf(values, percentileRange[0]),
		Hi:      percentileOf(values, percentileRange[1]),
	}, nil
}

// Percentile returns the p-th percentile (0 to 100) of an ascending sorted
// slice, using the same interpolation rule the domain filter applies to cell
// aggregates. It returns NaN for an empty slice.
func Percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return math.NaN()
	}
	return percentileOf(sorted, p)
}

// percentileOf returns the p-th percentile (0 to 100) of an ascending
// sorted slice, interpolating linearly between the two nearest order
// statistics.
func percentileOf(sorted []float64, p float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	idx := p / 100 * float64(len(sorted)-1)
	lower := int(math.Floor(idx))
	upper := int(math.Ceil(idx))
	if upper >= len(sorted) {
		upper = len(sorted) - 1
	}
	if lower == upper {
		return sorted[lower]
	}
	weight := idx - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}
