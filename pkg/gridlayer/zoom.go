package gridlayer

import "math"

// baseZoomLevel is the zoom at and beyond which the factor bottoms out at 1.
const baseZoomLevel = 14

// ZoomFactor derives the scale multiplier that keeps stroke widths and
// extrusion heights roughly constant in screen pixels across zoom levels.
// Disabled, it is always 1. Enabled, it halves with every zoom level up to
// baseZoomLevel and never increases as the camera zooms in. The factor is a
// rendering hint only; aggregation never sees it.
func ZoomFactor(cam CameraState, enabled bool) float64 {
	if !enabled {
		return 1
	}
	return math.Pow(2, math.Max(baseZoomLevel-cam.Zoom, 0))
}
