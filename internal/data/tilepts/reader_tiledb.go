//go:build tiledb

package tilepts

import (
	"fmt"
	"os"
	"sync"

	tiledb "github.com/TileDB-Inc/TileDB-Go"
	"github.com/paulmach/orb"

	"github.com/pointgrid/server/internal/data/points"
	"github.com/pointgrid/server/pkg/gridlayer"
)

// Reader provides point reads via TileDB sparse arrays.
type Reader struct {
	arrayURI string
	ctx      *tiledb.Context

	fieldsOnce sync.Once
	fields     []string
	fieldsErr  error
}

func NewReader(arrayPath string) (*Reader, error) {
	uri, err := ResolveArrayURI(arrayPath)
	if err != nil {
		return nil, err
	}
	if _, statErr := os.Stat(uri); statErr != nil {
		return nil, fmt.Errorf("tiledb array not found at %s: %w", uri, statErr)
	}

	ctx, err := tiledb.NewContext(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create TileDB context: %w", err)
	}

	return &Reader{
		arrayURI: uri,
		ctx:      ctx,
	}, nil
}

func (r *Reader) Supported() bool { return true }

func (r *Reader) ArrayURI() string { return r.arrayURI }

// Fields lists the float64 attributes of the array in schema order.
// Attributes of other types are not aggregatable and are skipped.
func (r *Reader) Fields() ([]string, error) {
	r.fieldsOnce.Do(func() { r.fields, r.fieldsErr = r.loadFields() })
	return r.fields, r.fieldsErr
}

func (r *Reader) loadFields() ([]string, error) {
	arr, err := tiledb.NewArray(r.ctx, r.arrayURI)
	if err != nil {
		return nil, fmt.Errorf("failed to open points array (%s): %w", r.arrayURI, err)
	}
	defer arr.Free()
	if err := arr.Open(tiledb.TILEDB_READ); err != nil {
		return nil, fmt.Errorf("failed to open points array for read: %w", err)
	}
	defer arr.Close()

	schema, err := arr.Schema()
	if err != nil {
		return nil, fmt.Errorf("failed to get points schema: %w", err)
	}
	defer schema.Free()

	nattrs, err := schema.AttributeNum()
	if err != nil {
		return nil, fmt.Errorf("failed to get attribute count: %w", err)
	}

	var fields []string
	for i := uint(0); i < nattrs; i++ {
		attr, err := schema.AttributeFromIndex(i)
		if err != nil {
			continue
		}
		name, nameErr := attr.Name()
		dtype, typeErr := attr.Type()
		attr.Free()
		if nameErr != nil || typeErr != nil {
			continue
		}
		if dtype != tiledb.TILEDB_FLOAT64 {
			continue
		}
		fields = append(fields, name)
	}
	return fields, nil
}

// ReadAll loads every point in the array.
func (r *Reader) ReadAll() (*points.Dataset, error) {
	fields, err := r.Fields()
	if err != nil {
		return nil, err
	}

	arr, err := tiledb.NewArray(r.ctx, r.arrayURI)
	if err != nil {
		return nil, fmt.Errorf("failed to open points array (%s): %w", r.arrayURI, err)
	}
	defer arr.Free()
	if err := arr.Open(tiledb.TILEDB_READ); err != nil {
		return nil, fmt.Errorf("failed to open points array for read: %w", err)
	}
	defer arr.Close()

	// Use non-empty domains so unbounded dimension domains stay cheap.
	lngMin, lngMax, empty, err := nonEmptyRange(arr, "lng")
	if err != nil {
		return nil, err
	}
	if empty {
		return points.Assemble(nil, 0, fields), nil
	}
	latMin, latMax, empty, err := nonEmptyRange(arr, "lat")
	if err != nil {
		return nil, err
	}
	if empty {
		return points.Assemble(nil, 0, fields), nil
	}

	sub, err := arr.NewSubarray()
	if err != nil {
		return nil, fmt.Errorf("failed to create subarray: %w", err)
	}
	defer sub.Free()
	if err := sub.AddRangeByName("lng", tiledb.MakeRange[float64](lngMin, lngMax)); err != nil {
		return nil, fmt.Errorf("failed to add lng range: %w", err)
	}
	if err := sub.AddRangeByName("lat", tiledb.MakeRange[float64](latMin, latMax)); err != nil {
		return nil, fmt.Errorf("failed to add lat range: %w", err)
	}

	q, err := tiledb.NewQuery(r.ctx, arr)
	if err != nil {
		return nil, fmt.Errorf("failed to create query: %w", err)
	}
	defer q.Free()
	if err := q.SetSubarray(sub); err != nil {
		return nil, fmt.Errorf("failed to set subarray: %w", err)
	}
	_ = q.SetLayout(tiledb.TILEDB_UNORDERED)

	const chunkPoints = 65536
	lngBuf := make([]float64, chunkPoints)
	latBuf := make([]float64, chunkPoints)

	type attrBuf struct {
		name     string
		data     []float64
		validity []uint8
		nullable bool
	}
	attrs := make([]*attrBuf, 0, len(fields))
	for _, name := range fields {
		nullable, err := attributeNullable(arr, name)
		if err != nil {
			return nil, fmt.Errorf("failed to inspect %s nullable: %w", name, err)
		}
		ab := &attrBuf{name: name, data: make([]float64, chunkPoints), nullable: nullable}
		if nullable {
			ab.validity = make([]uint8, chunkPoints)
		}
		attrs = append(attrs, ab)
	}

	var pts []gridlayer.Point
	for {
		// Buffer sizes are in/out params, so they are re-set each submit.
		if _, err := q.SetDataBuffer("lng", lngBuf); err != nil {
			return nil, fmt.Errorf("failed to set buffer lng: %w", err)
		}
		if _, err := q.SetDataBuffer("lat", latBuf); err != nil {
			return nil, fmt.Errorf("failed to set buffer lat: %w", err)
		}
		for _, ab := range attrs {
			if _, err := q.SetDataBuffer(ab.name, ab.data); err != nil {
				return nil, fmt.Errorf("failed to set buffer %s: %w", ab.name, err)
			}
			if ab.nullable {
				if _, err := q.SetValidityBuffer(ab.name, ab.validity); err != nil {
					return nil, fmt.Errorf("failed to set validity buffer %s: %w", ab.name, err)
				}
			}
		}

		if err := q.Submit(); err != nil {
			return nil, fmt.Errorf("query submit failed: %w", err)
		}
		status, err := q.Status()
		if err != nil {
			return nil, fmt.Errorf("query status failed: %w", err)
		}

		elems, err := q.ResultBufferElements()
		if err != nil {
			return nil, fmt.Errorf("failed to get result buffer elements: %w", err)
		}
		got := int(elems["lng"][1])
		if got > len(lngBuf) {
			got = len(lngBuf)
		}

		for i := 0; i < got; i++ {
			values := make(map[string]float64, len(attrs))
			for _, ab := range attrs {
				if ab.nullable {
					gotValid := int(elems[ab.name][2])
					if i < gotValid && ab.validity[i] == 0 {
						continue
					}
				}
				values[ab.name] = ab.data[i]
			}
			pts = append(pts, gridlayer.Point{
				Position: orb.Point{lngBuf[i], latBuf[i]},
				Values:   values,
			})
		}

		if status == tiledb.TILEDB_COMPLETED {
			return points.Assemble(pts, 0, fields), nil
		}
		if status != tiledb.TILEDB_INCOMPLETE {
			return nil, fmt.Errorf("unexpected query status: %v", status)
		}
	}
}

func nonEmptyRange(arr *tiledb.Array, dim string) (min, max float64, empty bool, err error) {
	ned, isEmpty, err := arr.NonEmptyDomainFromName(dim)
	if err != nil {
		return 0, 0, false, fmt.Errorf("failed to get %s non-empty domain: %w", dim, err)
	}
	if isEmpty || ned == nil {
		return 0, 0, true, nil
	}
	switch v := ned.Bounds.(type) {
	case []float64:
		if len(v) >= 2 {
			return v[0], v[1], false, nil
		}
	case []float32:
		if len(v) >= 2 {
			return float64(v[0]), float64(v[1]), false, nil
		}
	}
	return 0, 0, false, fmt.Errorf("unsupported bounds type for %s non-empty domain", dim)
}

func attributeNullable(arr *tiledb.Array, name string) (bool, error) {
	schema, err := arr.Schema()
	if err != nil {
		return false, err
	}
	defer schema.Free()
	attr, err := schema.AttributeFromName(name)
	if err != nil {
		return false, err
	}
	defer attr.Free()
	return attr.Nullable()
}
