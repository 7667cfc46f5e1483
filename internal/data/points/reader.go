// Package points loads geographic point datasets from delimited text and
// newline-delimited JSON files.
package points

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/paulmach/orb"

	"github.com/pointgrid/server/pkg/gridlayer"
)

// Bounds represents the geographic extent of a dataset.
type Bounds struct {
	MinLng float64 `json:"min_lng"`
	MinLat float64 `json:"min_lat"`
	MaxLng float64 `json:"max_lng"`
	MaxLat float64 `json:"max_lat"`
}

// FieldInfo describes one attribute column of a dataset.
type FieldInfo struct {
	Name        string `json:"name"`
	NumericRows int    `json:"numeric_rows"`
}

// Metadata describes a loaded dataset.
type Metadata struct {
	RowCount    int         `json:"row_count"`
	DroppedRows int         `json:"dropped_rows"`
	Bounds      Bounds      `json:"bounds"`
	Fields      []FieldInfo `json:"fields"`
}

// Dataset holds a fully loaded point dataset.
type Dataset struct {
	Points []gridlayer.Point
	Meta   Metadata
}

var (
	lngColumns = []string{"lng", "lon", "long", "longitude"}
	latColumns = []string{"lat", "latitude"}
)

// Load reads a dataset from path. Format is "csv" or "ndjson"; when empty it
// is inferred from the file extension. Files ending in .zst are decompressed
// transparently.
func Load(path, format string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset: %w", err)
	}
	defer f.Close()

	var src io.Reader = f
	name := path
	if strings.HasSuffix(path, ".zst") {
		dec, err := zstd.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
		}
		defer dec.Close()
		src = dec
		name = strings.TrimSuffix(path, ".zst")
	}

	if format == "" {
		format = detectFormat(name)
	}

	switch format {
	case "csv":
		return loadCSV(src)
	case "ndjson":
		return loadNDJSON(src)
	default:
		return nil, fmt.Errorf("unsupported dataset format %q", format)
	}
}

func detectFormat(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return "csv"
	case ".json", ".ndjson", ".jsonl":
		return "ndjson"
	default:
		return ""
	}
}

// builder accumulates points and metadata while rows stream in.
type builder struct {
	points      []gridlayer.Point
	dropped     int
	bounds      Bounds
	fieldOrder  []string
	numericRows map[string]int
}

func newBuilder() *builder {
	return &builder{
		bounds: Bounds{
			MinLng: math.Inf(1), MinLat: math.Inf(1),
			MaxLng: math.Inf(-1), MaxLat: math.Inf(-1),
		},
		numericRows: make(map[string]int),
	}
}

func (b *builder) addField(name string) {
	if _, seen := b.numericRows[name]; seen {
		return
	}
	b.numericRows[name] = 0
	b.fieldOrder = append(b.fieldOrder, name)
}

func (b *builder) add(lng, lat float64, values map[string]float64) {
	if !validCoordinate(lng, lat) {
		b.dropped++
		return
	}
	b.points = append(b.points, gridlayer.Point{
		Position: orb.Point{lng, lat},
		Values:   values,
	})
	b.bounds.MinLng = math.Min(b.bounds.MinLng, lng)
	b.bounds.MinLat = math.Min(b.bounds.MinLat, lat)
	b.bounds.MaxLng = math.Max(b.bounds.MaxLng, lng)
	b.bounds.MaxLat = math.Max(b.bounds.MaxLat, lat)
	for name := range values {
		b.numericRows[name]++
	}
}

func (b *builder) dataset() *Dataset {
	if len(b.points) == 0 {
		b.bounds = Bounds{}
	}
	fields := make([]FieldInfo, 0, len(b.fieldOrder))
	for _, name := range b.fieldOrder {
		fields = append(fields, FieldInfo{Name: name, NumericRows: b.numericRows[name]})
	}
	return &Dataset{
		Points: b.points,
		Meta: Metadata{
			RowCount:    len(b.points),
			DroppedRows: b.dropped,
			Bounds:      b.bounds,
			Fields:      fields,
		},
	}
}

// Assemble builds a Dataset from already decoded points, deriving bounds and
// per-field numeric counts. Points with invalid coordinates are dropped and
// counted on top of the dropped argument.
func Assemble(pts []gridlayer.Point, dropped int, fieldOrder []string) *Dataset {
	b := newBuilder()
	b.dropped = dropped
	for _, name := range fieldOrder {
		b.addField(name)
	}
	for _, p := range pts {
		b.add(p.Position[0], p.Position[1], p.Values)
	}
	return b.dataset()
}

func validCoordinate(lng, lat float64) bool {
	if math.IsNaN(lng) || math.IsNaN(lat) || math.IsInf(lng, 0) || math.IsInf(lat, 0) {
		return false
	}
	return lng >= -180 && lng <= 180 && lat >= -90 && lat <= 90
}

func loadCSV(src io.Reader) (*Dataset, error) {
	r := csv.NewReader(src)
	r.ReuseRecord = true
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	lngIdx := findColumn(header, lngColumns)
	latIdx := findColumn(header, latColumns)
	if lngIdx < 0 || latIdx < 0 {
		return nil, fmt.Errorf("no longitude/latitude columns in header %v", header)
	}

	b := newBuilder()
	valueIdx := make(map[int]string)
	for i, col := range header {
		if i == lngIdx || i == latIdx {
			continue
		}
		name := strings.TrimSpace(col)
		if name == "" {
			continue
		}
		valueIdx[i] = name
		b.addField(name)
	}

	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read row: %w", err)
		}
		if lngIdx >= len(record) || latIdx >= len(record) {
			b.dropped++
			continue
		}
		lng, lngErr := strconv.ParseFloat(strings.TrimSpace(record[lngIdx]), 64)
		lat, latErr := strconv.ParseFloat(strings.TrimSpace(record[latIdx]), 64)
		if lngErr != nil || latErr != nil {
			b.dropped++
			continue
		}
		values := make(map[string]float64, len(valueIdx))
		for i, name := range valueIdx {
			if i >= len(record) {
				continue
			}
			if v, err := strconv.ParseFloat(strings.TrimSpace(record[i]), 64); err == nil {
				values[name] = v
			}
		}
		b.add(lng, lat, values)
	}

	return b.dataset(), nil
}

func loadNDJSON(src io.Reader) (*Dataset, error) {
	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	b := newBuilder()
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		var row map[string]interface{}
		if err := json.Unmarshal([]byte(raw), &row); err != nil {
			b.dropped++
			continue
		}

		lng, lngOK := lookupNumber(row, lngColumns)
		lat, latOK := lookupNumber(row, latColumns)
		if !lngOK || !latOK {
			b.dropped++
			continue
		}

		keys := make([]string, 0, len(row))
		for k := range row {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		values := make(map[string]float64, len(keys))
		for _, k := range keys {
			if isCoordinateKey(k) {
				continue
			}
			b.addField(k)
			if v, ok := row[k].(float64); ok {
				values[k] = v
			}
		}
		b.add(lng, lat, values)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read line %d: %w", line, err)
	}

	return b.dataset(), nil
}

func findColumn(header, candidates []string) int {
	for i, col := range header {
		name := strings.ToLower(strings.TrimSpace(col))
		for _, c := range candidates {
			if name == c {
				return i
			}
		}
	}
	return -1
}

func lookupNumber(row map[string]interface{}, candidates []string) (float64, bool) {
	for _, c := range candidates {
		for k, v := range row {
			if strings.ToLower(k) != c {
				continue
			}
			if f, ok := v.(float64); ok {
				return f, true
			}
			return 0, false
		}
	}
	return 0, false
}

func isCoordinateKey(k string) bool {
	lower := strings.ToLower(k)
	for _, c := range lngColumns {
		if lower == c {
			return true
		}
	}
	for _, c := range latColumns {
		if lower == c {
			return true
		}
	}
	return false
}
