package gridlayer

import "fmt"

// InvalidConfigurationError reports a layer configuration the engine refuses
// to run: a non-positive cell size, a malformed percentile range, or an
// unrecognized aggregation identifier. It is returned before any binning
// happens, so a failed pass never produces a partial result.
type InvalidConfigurationError struct {
	Option string
	Value  interface{}
	Reason string
}

func (e *InvalidConfigurationError) Error() string {
	return fmt.Sprintf("invalid layer configuration: %s=%v (%s)", e.Option, e.Value, e.Reason)
}

// InvalidGeometryError reports an unusable cell geometry request.
type InvalidGeometryError struct {
	CellSizeMeters float64
	Reason         string
}

func (e *InvalidGeometryError) Error() string {
	return fmt.Sprintf("invalid cell geometry: cell size %v m (%s)", e.CellSizeMeters, e.Reason)
}

// DataQualityWarning records a single skipped input value. Warnings are
// accumulated on the aggregation result and never abort a pass.
type DataQualityWarning struct {
	Field      string `json:"field"`
	PointIndex int    `json:"point_index"`
	Reason     string `json:"reason"`
}

func (w DataQualityWarning) String() string {
	if w.Field == "" {
		return fmt.Sprintf("point %d: %s", w.PointIndex, w.Reason)
	}
	return fmt.Sprintf("point %d, field %q: %s", w.PointIndex, w.Field, w.Reason)
}
