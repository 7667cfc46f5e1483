package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/paulmach/orb/geojson"

	"github.com/pointgrid/server/pkg/gridlayer"
)

// progressEvery is the cell interval between progress callbacks and
// cancellation checks during an export.
const progressEvery = 256

// ExportGeoJSON materializes an aggregation pass as a GeoJSON
// FeatureCollection of cell polygons. The progress callback, when non-nil,
// is invoked periodically with the number of cells written so far.
func (s *LayerService) ExportGeoJSON(ctx context.Context, cfg gridlayer.Config, progress func(done, total int)) ([]byte, error) {
	res, err := s.Aggregate(cfg)
	if err != nil {
		return nil, err
	}

	total := len(res.Cells)
	fc := geojson.NewFeatureCollection()
	cam := gridlayer.CameraState{}

	for i := range res.Cells {
		if i%progressEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if progress != nil {
				progress(i, total)
			}
		}

		cell := &res.Cells[i]
		poly, err := gridlayer.CellPolygon(cell.Anchor, res.CellSizeMeters, cfg.Coverage, cam)
		if err != nil {
			continue
		}

		f := geojson.NewFeature(poly)
		f.Properties = geojson.Properties{
			"col":   cell.Col,
			"row":   cell.Row,
			"count": len(cell.PointIndexes),
		}
		if cell.ColorCount > 0 {
			f.Properties["color_value"] = cell.ColorValue
		}
		if cell.SizeCount > 0 {
			f.Properties["size_value"] = cell.SizeValue
		}
		fc.Append(f)
	}

	if progress != nil {
		progress(total, total)
	}

	data, err := json.Marshal(fc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode feature collection: %w", err)
	}
	return data, nil
}
