package gridlayer

import (
	"math"

	"github.com/paulmach/orb"
)

const (
	// earthRadius is the spherical mean radius in meters used by the
	// Web Mercator math throughout.
	earthRadius = 6371000.0

	// maxMercatorLatitude bounds the projectable latitude band.
	maxMercatorLatitude = 85.05112878

	// WorldTileSize is the side of the zoom-0 world in projected units.
	// A slippy tile z/x/y covers the world-unit square of this side length
	// starting at (x, y) times this size at zoom z.
	WorldTileSize = 512.0
)

// Project converts a lng/lat position into Web Mercator world units at the
// given zoom level. The world spans WorldTileSize*2^zoom units per axis,
// with the origin at the top-left.
func Project(p orb.Point, zoom float64) orb.Point {
	worldSize := WorldTileSize * math.Pow(2, zoom)
	lambda := p[0] * math.Pi / 180
	phi := clampLatitude(p[1]) * math.Pi / 180
	x := worldSize * (lambda + math.Pi) / (2 * math.Pi)
	y := worldSize * (math.Pi - math.Log(math.Tan(math.Pi/4+phi/2))) / (2 * math.Pi)
	return orb.Point{x, y}
}

// Unproject converts Web Mercator world units at the given zoom level back
// to a lng/lat position.
func Unproject(p orb.Point, zoom float64) orb.Point {
	worldSize := WorldTileSize * math.Pow(2, zoom)
	lambda := 2*math.Pi*p[0]/worldSize - math.Pi
	phi := 2*math.Atan(math.Exp(math.Pi-2*math.Pi*p[1]/worldSize)) - math.Pi/2
	return orb.Point{lambda * 180 / math.Pi, phi * 180 / math.Pi}
}

func clampLatitude(lat float64) float64 {
	if lat > maxMercatorLatitude {
		return maxMercatorLatitude
	}
	if lat < -maxMercatorLatitude {
		return -maxMercatorLatitude
	}
	return lat
}

// unitsPerMeter is the projected-unit length of one ground meter at the
// given latitude and zoom. Mercator stretches both axes by sec(lat), which
// is where the longitude-compression correction comes from.
func unitsPerMeter(lat, zoom float64) float64 {
	worldSize := WorldTileSize * math.Pow(2, zoom)
	return worldSize / (2 * math.Pi * earthRadius * math.Cos(clampLatitude(lat)*math.Pi/180))
}

// CellPolygon returns the closed outline of the grid cell whose south-west
// corner sits at anchor, in geographic coordinates. The cell is square in
// ground meters at the anchor's latitude, so its longitude span widens away
// from the equator. Coverage below 1 insets the polygon symmetrically
// around the cell center, scaling its area by coverage squared. The camera
// supplies the projection the offsets are computed through; the outline
// itself does not move with it.
func CellPolygon(anchor orb.Point, cellSizeMeters, coverage float64, cam CameraState) (orb.Polygon, error) {
	if !(cellSizeMeters > 0) || math.IsInf(cellSizeMeters, 0) {
		return nil, &InvalidGeometryError{CellSizeMeters: cellSizeMeters, Reason: "cell size must be positive"}
	}
	if math.IsNaN(anchor[0]) || math.IsInf(anchor[0], 0) || math.IsNaN(anchor[1]) || math.IsInf(anchor[1], 0) {
		return nil, &InvalidGeometryError{CellSizeMeters: cellSizeMeters, Reason: "anchor is not finite"}
	}
	if coverage < 0 {
		coverage = 0
	} else if coverage > 1 {
		coverage = 1
	}

	origin := Project(anchor, cam.Zoom)
	upm := unitsPerMeter(anchor[1], cam.Zoom)
	inset := cellSizeMeters * (1 - coverage) / 2
	lo := inset * upm
	hi := (cellSizeMeters - inset) * upm

	// Projected y grows southward, so northward offsets subtract.
	sw := Unproject(orb.Point{origin[0] + lo, origin[1] - lo}, cam.Zoom)
	se := Unproject(orb.Point{origin[0] + hi, origin[1] - lo}, cam.Zoom)
	ne := Unproject(orb.Point{origin[0] + hi, origin[1] - hi}, cam.Zoom)
	nw := Unproject(orb.Point{origin[0] + lo, origin[1] - hi}, cam.Zoom)

	return orb.Polygon{orb.Ring{sw, se, ne, nw, sw}}, nil
}

// metersToLatDegrees converts a ground distance to a latitude span.
func metersToLatDegrees(meters float64) float64 {
	return meters / earthRadius * 180 / math.Pi
}

// metersToLngDegrees converts a ground distance to a longitude span at the
// given latitude.
func metersToLngDegrees(meters, lat float64) float64 {
	return metersToLatDegrees(meters) / math.Cos(clampLatitude(lat)*math.Pi/180)
}
