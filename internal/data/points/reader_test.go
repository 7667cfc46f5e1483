package points

import (
	"bytes"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/klauspost/compress/zstd"
)

func writeFixture(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}
	return path
}

func TestLoadCSV(t *testing.T) {
	csvData := "lng,lat,fare,vendor\n" +
		"-73.98,40.75,12.5,yellow\n" +
		"-73.97,40.76,8.0,green\n" +
		"-73.96,not-a-number,5.0,green\n" +
		"-73.95,95.0,3.0,yellow\n" +
		"-73.94,40.74,,green\n"

	ds, err := Load(writeFixture(t, "trips.csv", csvData), "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if ds.Meta.RowCount != 3 {
		t.Errorf("expected 3 rows kept, got %d", ds.Meta.RowCount)
	}
	if ds.Meta.DroppedRows != 2 {
		t.Errorf("expected 2 rows dropped, got %d", ds.Meta.DroppedRows)
	}

	wantBounds := Bounds{MinLng: -73.98, MinLat: 40.74, MaxLng: -73.94, MaxLat: 40.76}
	if ds.Meta.Bounds != wantBounds {
		t.Errorf("bounds = %+v, want %+v", ds.Meta.Bounds, wantBounds)
	}

	wantFields := []FieldInfo{
		{Name: "fare", NumericRows: 2},
		{Name: "vendor", NumericRows: 0},
	}
	if !reflect.DeepEqual(ds.Meta.Fields, wantFields) {
		t.Errorf("fields = %+v, want %+v", ds.Meta.Fields, wantFields)
	}

	first := ds.Points[0]
	if first.Position[0] != -73.98 || first.Position[1] != 40.75 {
		t.Errorf("unexpected first position %v", first.Position)
	}
	if got := first.Values["fare"]; got != 12.5 {
		t.Errorf("fare = %v, want 12.5", got)
	}
	if _, ok := first.Values["vendor"]; ok {
		t.Error("non-numeric column should not produce a value")
	}
	last := ds.Points[2]
	if _, ok := last.Values["fare"]; ok {
		t.Error("empty cell should not produce a value")
	}
}

func TestLoadCSVHeaderAliases(t *testing.T) {
	csvData := "Longitude,LAT,count\n10.0,20.0,1\n"
	ds, err := Load(writeFixture(t, "alias.csv", csvData), "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if ds.Meta.RowCount != 1 {
		t.Fatalf("expected 1 row, got %d", ds.Meta.RowCount)
	}
	if p := ds.Points[0].Position; p[0] != 10.0 || p[1] != 20.0 {
		t.Errorf("unexpected position %v", p)
	}
}

func TestLoadCSVMissingCoordinates(t *testing.T) {
	csvData := "x,y,value\n1,2,3\n"
	if _, err := Load(writeFixture(t, "nocoords.csv", csvData), ""); err == nil {
		t.Fatal("expected error for header without coordinate columns")
	}
}

func TestLoadNDJSON(t *testing.T) {
	lines := `{"lon": -0.12, "lat": 51.5, "checkins": 4, "venue": "pub"}
{"lat": 51.6, "lon": -0.13, "checkins": 9}

{"lon": "bad", "lat": 51.7}
{"lon": -0.14}
`
	ds, err := Load(writeFixture(t, "checkins.ndjson", lines), "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if ds.Meta.RowCount != 2 {
		t.Errorf("expected 2 rows kept, got %d", ds.Meta.RowCount)
	}
	if ds.Meta.DroppedRows != 2 {
		t.Errorf("expected 2 rows dropped, got %d", ds.Meta.DroppedRows)
	}

	wantFields := []FieldInfo{
		{Name: "checkins", NumericRows: 2},
		{Name: "venue", NumericRows: 0},
	}
	if !reflect.DeepEqual(ds.Meta.Fields, wantFields) {
		t.Errorf("fields = %+v, want %+v", ds.Meta.Fields, wantFields)
	}

	if got := ds.Points[1].Values["checkins"]; got != 9 {
		t.Errorf("checkins = %v, want 9", got)
	}
}

func TestLoadZstdCompressed(t *testing.T) {
	csvData := "lng,lat,n\n1.0,2.0,7\n3.0,4.0,8\n"

	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	if err != nil {
		t.Fatalf("zstd.NewWriter: %v", err)
	}
	if _, err := enc.Write([]byte(csvData)); err != nil {
		t.Fatalf("compress: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close encoder: %v", err)
	}

	path := filepath.Join(t.TempDir(), "points.csv.zst")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}

	ds, err := Load(path, "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if ds.Meta.RowCount != 2 {
		t.Errorf("expected 2 rows, got %d", ds.Meta.RowCount)
	}
	if got := ds.Points[1].Values["n"]; got != 8 {
		t.Errorf("n = %v, want 8", got)
	}
}

func TestLoadUnknownFormat(t *testing.T) {
	path := writeFixture(t, "points.txt", "lng lat\n1 2\n")
	if _, err := Load(path, ""); err == nil {
		t.Fatal("expected error for undetectable format")
	}
	if _, err := Load(path, "parquet"); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestLoadEmptyDataset(t *testing.T) {
	ds, err := Load(writeFixture(t, "empty.csv", "lng,lat\n"), "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if ds.Meta.RowCount != 0 || ds.Meta.DroppedRows != 0 {
		t.Fatalf("expected empty dataset, got %+v", ds.Meta)
	}
	if ds.Meta.Bounds != (Bounds{}) {
		t.Errorf("expected zero bounds, got %+v", ds.Meta.Bounds)
	}
}
