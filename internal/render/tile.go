// Package render rasterizes grid layers into map preview tiles using
// fogleman/gg.
package render

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync"

	"github.com/fogleman/gg"

	"github.com/pointgrid/server/pkg/colormap"
	"github.com/pointgrid/server/pkg/gridlayer"
)

// highlightColor outlines the hovered cell.
var highlightColor = color.RGBA{R: 252, G: 242, B: 26, A: 255}

// Config contains renderer configuration.
type Config struct {
	TileSize          int
	DefaultColorRange string
}

// PreviewRenderer renders grid layers into slippy map tiles.
type PreviewRenderer struct {
	config      Config
	contextPool sync.Pool
	bufferPool  sync.Pool

	rampMu sync.RWMutex
	ramps  map[string]colormap.Colormap
}

// NewPreviewRenderer creates a new preview renderer.
func NewPreviewRenderer(cfg Config) *PreviewRenderer {
	return &PreviewRenderer{
		config: cfg,
		contextPool: sync.Pool{
			New: func() interface{} {
				return gg.NewContext(cfg.TileSize, cfg.TileSize)
			},
		},
		bufferPool: sync.Pool{
			New: func() interface{} {
				return bytes.NewBuffer(make([]byte, 0, 32*1024))
			},
		},
		ramps: make(map[string]colormap.Colormap),
	}
}

// RenderPreview renders the cells of a composed layer that fall inside tile
// z/x/y. The background stays transparent so the preview can overlay a
// basemap.
func (r *PreviewRenderer) RenderPreview(params *gridlayer.RenderParams, z, x, y int) ([]byte, error) {
	dc := r.contextPool.Get().(*gg.Context)
	defer r.contextPool.Put(dc)

	dc.SetColor(color.RGBA{})
	dc.Clear()

	if params == nil || len(params.Cells) == 0 {
		return r.encodeContext(dc)
	}

	ramp := r.ramp(params.ColorRange)
	span := params.ColorDomain[1] - params.ColorDomain[0]
	if span == 0 {
		span = 1
	}

	zoom := float64(z)
	tileSize := float64(r.config.TileSize)
	originX := float64(x) * gridlayer.WorldTileSize
	originY := float64(y) * gridlayer.WorldTileSize
	pixelsPerUnit := tileSize / gridlayer.WorldTileSize
	cam := gridlayer.CameraState{Zoom: zoom}

	px := make([]float64, 0, 8)
	py := make([]float64, 0, 8)
	for _, cell := range params.Cells {
		poly, err := gridlayer.CellPolygon(cell.Anchor, params.CellSizeMeters, params.Coverage, cam)
		if err != nil {
			continue
		}

		px = px[:0]
		py = py[:0]
		minX, minY := tileSize, tileSize
		maxX, maxY := 0.0, 0.0
		ring := poly[0]
		for _, v := range ring[:len(ring)-1] {
			w := gridlayer.Project(v, zoom)
			vx := (w[0] - originX) * pixelsPerUnit
			vy := (w[1] - originY) * pixelsPerUnit
			px = append(px, vx)
			py = append(py, vy)
			if vx < minX {
				minX = vx
			}
			if vy < minY {
				minY = vy
			}
			if vx > maxX {
				maxX = vx
			}
			if vy > maxY {
				maxY = vy
			}
		}
		if maxX < 0 || minX >= tileSize || maxY < 0 || minY >= tileSize {
			continue
		}

		normalized := (cell.ColorValue - params.ColorDomain[0]) / span
		dc.SetColor(ramp.At(normalized))
		tracePath(dc, px, py)
		dc.Fill()
	}

	if params.Hover != nil {
		r.strokeHover(dc, params.Hover, zoom, originX, originY, pixelsPerUnit)
	}

	return r.encodeContext(dc)
}

func (r *PreviewRenderer) strokeHover(dc *gg.Context, hover *gridlayer.HoverOutline, zoom, originX, originY, pixelsPerUnit float64) {
	if len(hover.Polygon) == 0 || len(hover.Polygon[0]) < 2 {
		return
	}
	ring := hover.Polygon[0]
	px := make([]float64, 0, len(ring))
	py := make([]float64, 0, len(ring))
	for _, v := range ring[:len(ring)-1] {
		w := gridlayer.Project(v, zoom)
		px = append(px, (w[0]-originX)*pixelsPerUnit)
		py = append(py, (w[1]-originY)*pixelsPerUnit)
	}
	dc.SetColor(highlightColor)
	dc.SetLineWidth(hover.StrokeWidth)
	tracePath(dc, px, py)
	dc.Stroke()
}

func tracePath(dc *gg.Context, px, py []float64) {
	dc.NewSubPath()
	dc.MoveTo(px[0], py[0])
	for i := 1; i < len(px); i++ {
		dc.LineTo(px[i], py[i])
	}
	dc.ClosePath()
}

// ramp resolves a hex stop list into a colormap, falling back to the
// configured named palette when the stops do not parse. Resolved ramps are
// cached.
func (r *PreviewRenderer) ramp(stops []string) colormap.Colormap {
	key := strings.Join(stops, ",")

	r.rampMu.RLock()
	cached, ok := r.ramps[key]
	r.rampMu.RUnlock()
	if ok {
		return cached
	}

	var ramp colormap.Colormap
	if built, err := colormap.FromHex(stops); err == nil {
		ramp = built
	} else if named, ok := colormap.Lookup(r.config.DefaultColorRange); ok {
		ramp = named
	} else {
		ramp = colormap.Heat
	}

	r.rampMu.Lock()
	r.ramps[key] = ramp
	r.rampMu.Unlock()
	return ramp
}

func (r *PreviewRenderer) encodeContext(dc *gg.Context) ([]byte, error) {
	buf := r.bufferPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		r.bufferPool.Put(buf)
	}()

	// Use fast PNG encoder
	encoder := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := encoder.Encode(buf, dc.Image()); err != nil {
		return nil, err
	}

	// Copy buffer contents (buffer will be reused)
	result := make([]byte, buf.Len())
	copy(result, buf.Bytes())
	return result, nil
}

// EmptyTile creates an empty transparent tile.
func (r *PreviewRenderer) EmptyTile() ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, r.config.TileSize, r.config.TileSize))

	buf := bytes.NewBuffer(nil)
	if err := png.Encode(buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
