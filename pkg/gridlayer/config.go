package gridlayer

import (
	"encoding/json"
	"fmt"
	"math"
)

// Aggregation identifies one of the closed set of per-cell reduction
// functions. The zero value is AggCount.
type Aggregation int

const (
	AggCount Aggregation = iota
	AggSum
	AggAverage
	AggMinimum
	AggMaximum
	AggMedian
)

var aggregationNames = map[Aggregation]string{
	AggCount:   "count",
	AggSum:     "sum",
	AggAverage: "average",
	AggMinimum: "minimum",
	AggMaximum: "maximum",
	AggMedian:  "median",
}

// ParseAggregation resolves an aggregation identifier. Unknown identifiers
// fail here, at configuration-parse time, not during reduction.
func ParseAggregation(id string) (Aggregation, error) {
	for agg, name := range aggregationNames {
		if name == id {
			return agg, nil
		}
	}
	return 0, &InvalidConfigurationError{Option: "aggregation", Value: id, Reason: "unknown aggregation function"}
}

func (a Aggregation) String() string {
	if name, ok := aggregationNames[a]; ok {
		return name
	}
	return fmt.Sprintf("aggregation(%d)", int(a))
}

func (a Aggregation) valid() bool {
	_, ok := aggregationNames[a]
	return ok
}

// MarshalJSON encodes the aggregation as its string identifier.
func (a Aggregation) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON decodes a string identifier, rejecting unknown ones.
func (a *Aggregation) UnmarshalJSON(data []byte) error {
	var id string
	if err := json.Unmarshal(data, &id); err != nil {
		return err
	}
	parsed, err := ParseAggregation(id)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Channel selects which per-cell metric an operation applies to.
type Channel int

const (
	ChannelColor Channel = iota
	ChannelSize
)

func (c Channel) String() string {
	if c == ChannelSize {
		return "size"
	}
	return "color"
}

// CameraState is a read-only snapshot of the viewport. Only Zoom and the
// center coordinates participate in the computations here; the rest is
// carried through for renderers.
type CameraState struct {
	Zoom      float64 `json:"zoom"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Pitch     float64 `json:"pitch"`
	Bearing   float64 `json:"bearing"`
}

// Config is the immutable per-render layer configuration. A Config is
// validated once at the start of an aggregation or composition pass; an
// invalid one aborts the pass with *InvalidConfigurationError.
type Config struct {
	// WorldUnitSize is the cell side length in kilometers.
	WorldUnitSize float64 `json:"worldUnitSize"`
	// Coverage shrinks the rendered cell polygon inside its bounding cell,
	// 0 to 1.
	Coverage float64 `json:"coverage"`

	// ColorField and SizeField name the point fields feeding each channel.
	// An empty field forces the channel to count semantics.
	ColorField string `json:"colorField,omitempty"`
	SizeField  string `json:"sizeField,omitempty"`

	ColorAggregation Aggregation `json:"colorAggregation"`
	SizeAggregation  Aggregation `json:"sizeAggregation"`

	// ColorRange holds the hex color stops of the fill ramp, low to high.
	ColorRange []string `json:"colorRange,omitempty"`
	// SizeRange is the output range the size domain maps onto.
	SizeRange [2]float64 `json:"sizeRange"`

	// Percentile and ElevationPercentile trim each channel's domain,
	// [lo, hi] in 0 to 100.
	Percentile          [2]float64 `json:"percentile"`
	ElevationPercentile [2]float64 `json:"elevationPercentile"`

	ElevationScale            float64 `json:"elevationScale"`
	Enable3D                  bool    `json:"enable3d"`
	EnableElevationZoomFactor bool    `json:"enableElevationZoomFactor"`
}

// DefaultConfig returns the layer defaults: half-kilometer cells, full
// coverage, count aggregation on both channels, untrimmed percentiles.
func DefaultConfig() Config {
	return Config{
		WorldUnitSize:             0.5,
		Coverage:                  1,
		ColorAggregation:          AggCount,
		SizeAggregation:           AggCount,
		ColorRange:                DefaultColorRange(),
		SizeRange:                 [2]float64{0, 500},
		Percentile:                [2]float64{0, 100},
		ElevationPercentile:       [2]float64{0, 100},
		ElevationScale:            5,
		EnableElevationZoomFactor: true,
	}
}

// DefaultColorRange returns the six-stop heat ramp used when a layer does
// not pick one.
func DefaultColorRange() []string {
	return []string{"#5A1846", "#900C3F", "#C70039", "#E3611C", "#F1920E", "#FFC300"}
}

// Validate checks the configuration surface. All violations are
// *InvalidConfigurationError values naming the offending option.
func (c Config) Validate() error {
	if !(c.WorldUnitSize > 0) || math.IsInf(c.WorldUnitSize, 0) {
		return &InvalidConfigurationError{Option: "worldUnitSize", Value: c.WorldUnitSize, Reason: "cell size must be positive"}
	}
	if math.IsNaN(c.Coverage) || c.Coverage < 0 || c.Coverage > 1 {
		return &InvalidConfigurationError{Option: "coverage", Value: c.Coverage, Reason: "must be between 0 and 1"}
	}
	if !c.ColorAggregation.valid() {
		return &InvalidConfigurationError{Option: "colorAggregation", Value: int(c.ColorAggregation), Reason: "unknown aggregation function"}
	}
	if !c.SizeAggregation.valid() {
		return &InvalidConfigurationError{Option: "sizeAggregation", Value: int(c.SizeAggregation), Reason: "unknown aggregation function"}
	}
	if err := validatePercentileRange("percentile", c.Percentile); err != nil {
		return err
	}
	if err := validatePercentileRange("elevationPercentile", c.ElevationPercentile); err != nil {
		return err
	}
	if math.IsNaN(c.ElevationScale) || c.ElevationScale < 0 {
		return &InvalidConfigurationError{Option: "elevationScale", Value: c.ElevationScale, Reason: "must be non-negative"}
	}
	return nil
}

func validatePercentileRange(option string, pr [2]float64) error {
	lo, hi := pr[0], pr[1]
	if math.IsNaN(lo) || math.IsNaN(hi) || lo < 0 || hi > 100 {
		return &InvalidConfigurationError{Option: option, Value: pr, Reason: "bounds must lie in [0, 100]"}
	}
	if lo > hi {
		return &InvalidConfigurationError{Option: option, Value: pr, Reason: "lower bound exceeds upper bound"}
	}
	return nil
}

// aggregationFor returns the effective reduction for a channel: a channel
// without a field falls back to counting member points.
func aggregationFor(field string, agg Aggregation) Aggregation {
	if field == "" {
		return AggCount
	}
	return agg
}
