package gridlayer

import (
	"github.com/paulmach/orb"
)

// hoverStrokeScale is the base stroke width of the hover outline before the
// zoom factor is applied.
const hoverStrokeScale = 8

// RenderParams is the parameter bundle handed to a renderer: world-space
// cell size, coverage, trimmed domains, per-cell values, and the optional
// hover outline.
type RenderParams struct {
	CellSizeMeters float64    `json:"cell_size_meters"`
	Coverage       float64    `json:"coverage"`
	ColorDomain    [2]float64 `json:"color_domain"`
	SizeDomain     [2]float64 `json:"size_domain"`
	SizeRange      [2]float64 `json:"size_range"`
	ColorRange     []string   `json:"color_range"`
	Enable3D       bool       `json:"enable_3d"`

	// ElevationScale folds the elevation zoom factor in when the layer
	// enables it.
	ElevationScale float64 `json:"elevation_scale"`

	Cells []CellParams  `json:"cells"`
	Hover *HoverOutline `json:"hover,omitempty"`
}

// CellParams is one cell ready for rendering: the color value arrives
// clamped to the color domain, the elevation is zeroed outside the
// elevation percentile band.
type CellParams struct {
	Col        int       `json:"col"`
	Row        int       `json:"row"`
	Anchor     orb.Point `json:"anchor"`
	Count      int       `json:"count"`
	ColorValue float64   `json:"color_value"`
	Elevation  float64   `json:"elevation"`
}

// HoverOutline is the highlighted boundary of the hovered cell.
type HoverOutline struct {
	Col         int         `json:"col"`
	Row         int         `json:"row"`
	Polygon     orb.Polygon `json:"polygon"`
	StrokeWidth float64     `json:"stroke_width"`
}

// Compose assembles render parameters from an aggregation result, the layer
// configuration, and the camera. It is a pure assembly step: the result is
// read, never modified, and no aggregation happens here.
//
// Cells whose color channel never received a valid value are left out of
// the bundle. With a hovered position in 2D mode the containing cell's
// outline is emitted with a stroke width of hoverStrokeScale times the zoom
// factor; 3D mode suppresses the outline since extrusion already separates
// the hovered cell.
func Compose(res *Result, cfg Config, cam CameraState, hovered *orb.Point) (*RenderParams, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	colorDomain, err := FilterDomain(res.Cells, ChannelColor, cfg.Percentile)
	if err != nil {
		return nil, err
	}
	sizeDomain, err := FilterDomain(res.Cells, ChannelSize, cfg.ElevationPercentile)
	if err != nil {
		return nil, err
	}

	params := &RenderParams{
		CellSizeMeters: cfg.WorldUnitSize * 1000,
		Coverage:       cfg.Coverage,
		ColorDomain:    colorDomain.Range(),
		SizeDomain:     sizeDomain.Range(),
		SizeRange:      cfg.SizeRange,
		ColorRange:     append([]string(nil), cfg.ColorRange...),
		Enable3D:       cfg.Enable3D,
		ElevationScale: cfg.ElevationScale * ZoomFactor(cam, cfg.EnableElevationZoomFactor),
		Cells:          make([]CellParams, 0, len(res.Cells)),
	}

	for i := range res.Cells {
		c := &res.Cells[i]
		if c.ColorCount == 0 {
			continue
		}
		cp := CellParams{
			Col:        c.Col,
			Row:        c.Row,
			Anchor:     c.Anchor,
			Count:      len(c.PointIndexes),
			ColorValue: colorDomain.Clamp(c.ColorValue),
		}
		if c.SizeCount > 0 && sizeDomain.Visible(c.SizeValue) {
			cp.Elevation = c.SizeValue
		}
		params.Cells = append(params.Cells, cp)
	}

	if hovered != nil && !cfg.Enable3D {
		if cell, ok := res.CellAt(*hovered); ok {
			poly, err := CellPolygon(cell.Anchor, res.CellSizeMeters, cfg.Coverage, cam)
			if err != nil {
				return nil, err
			}
			params.Hover = &HoverOutline{
				Col:         cell.Col,
				Row:         cell.Row,
				Polygon:     poly,
				StrokeWidth: hoverStrokeScale * ZoomFactor(cam, true),
			}
		}
	}

	return params, nil
}
