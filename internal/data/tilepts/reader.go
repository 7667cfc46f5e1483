// Package tilepts provides read-only access to point datasets stored as
// sparse TileDB arrays.
//
// The expected schema is small: two float64 dimensions named lng and lat,
// plus any number of float64 attributes carrying per-point values.
package tilepts

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrUnsupported indicates this binary was built without TileDB support.
	ErrUnsupported = errors.New("tiledb support is not enabled in this build (build server with: go build -tags tiledb)")
)

// ResolveArrayURI accepts either:
//   - /path/to/.../points.tiledb
//   - /path/to/parent  (directory containing points.tiledb)
//
// and returns the array path.
func ResolveArrayURI(arrayPath string) (string, error) {
	p := strings.TrimSpace(arrayPath)
	if p == "" {
		return "", errors.New("empty tiledb_path")
	}
	p = os.ExpandEnv(p)
	p = filepath.Clean(p)

	if strings.HasSuffix(p, ".tiledb") {
		return p, nil
	}
	return filepath.Join(p, "points.tiledb"), nil
}
