//go:build !tiledb

package tilepts

import (
	"fmt"
	"os"

	"github.com/pointgrid/server/internal/data/points"
)

// Reader is a stub when built without "-tags tiledb".
type Reader struct {
	arrayURI string
}

// NewReader creates a TileDB point reader (stub). It still resolves and
// validates the array path, so config issues can be caught early, but all
// read methods return ErrUnsupported.
func NewReader(arrayPath string) (*Reader, error) {
	uri, err := ResolveArrayURI(arrayPath)
	if err != nil {
		return nil, err
	}
	if _, statErr := os.Stat(uri); statErr != nil {
		return nil, fmt.Errorf("tiledb array not found at %s: %w", uri, statErr)
	}
	return &Reader{arrayURI: uri}, nil
}

func (r *Reader) Supported() bool { return false }

func (r *Reader) ArrayURI() string { return r.arrayURI }

// Fields lists the numeric attributes of the array.
func (r *Reader) Fields() ([]string, error) {
	return nil, ErrUnsupported
}

// ReadAll loads every point in the array.
func (r *Reader) ReadAll() (*points.Dataset, error) {
	return nil, ErrUnsupported
}
