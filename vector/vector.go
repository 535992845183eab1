// Package vector reads and writes feature collections as ESRI Shapefiles,
// GeoJSON and FlatGeobuf files. Writes are all-or-nothing: every file of the
// output is produced in a staging directory and moved into place only once
// it is complete.
package vector

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/mqsol/MeridianShift/crs"
	"github.com/mqsol/MeridianShift/feature"
)

// Common errors returned by this package.
var (
	ErrWrite             = errors.New("vector: write failed")
	ErrUnsupportedFormat = errors.New("vector: unsupported format")
	ErrSchema            = errors.New("vector: schema cannot be represented")
	ErrGeometryType      = errors.New("vector: unsupported geometry type")
	ErrInvalidData       = errors.New("vector: invalid data")
	ErrNoIndex           = errors.New("vector: file has no spatial index")
)

// Format is an output file format.
type Format int

const (
	FormatAuto Format = iota // derived from the file extension
	FormatShapefile
	FormatGeoJSON
	FormatFlatGeobuf
)

var formatNames = map[Format]string{
	FormatAuto:       "auto",
	FormatShapefile:  "shapefile",
	FormatGeoJSON:    "geojson",
	FormatFlatGeobuf: "flatgeobuf",
}

func (f Format) String() string {
	if s, ok := formatNames[f]; ok {
		return s
	}
	return fmt.Sprintf("Format(%d)", int(f))
}

// Extension returns the extension of the main file, including the dot.
func (f Format) Extension() string {
	switch f {
	case FormatShapefile:
		return ".shp"
	case FormatGeoJSON:
		return ".geojson"
	case FormatFlatGeobuf:
		return ".fgb"
	}
	return ""
}

// ParseFormat parses a format name. The empty string is FormatAuto.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return FormatAuto, nil
	case "shapefile", "shp", "esri shapefile":
		return FormatShapefile, nil
	case "geojson", "json":
		return FormatGeoJSON, nil
	case "flatgeobuf", "fgb":
		return FormatFlatGeobuf, nil
	}
	return FormatAuto, fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
}

// FormatFromPath derives the format from the extension of path.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".shp":
		return FormatShapefile, nil
	case ".geojson", ".json":
		return FormatGeoJSON, nil
	case ".fgb":
		return FormatFlatGeobuf, nil
	}
	return FormatAuto, fmt.Errorf("%w: cannot derive a format from %q", ErrUnsupportedFormat, path)
}

// WriteError describes a failed write. It matches ErrWrite and whatever
// caused it.
type WriteError struct {
	Path   string
	Format Format
	Err    error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("vector: write %s %s: %v", e.Format, e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Is reports whether target is ErrWrite.
func (e *WriteError) Is(target error) bool { return target == ErrWrite }

// WriteOptions configures Write.
type WriteOptions struct {
	// TempDir is where the staging directory is created. Empty means the
	// directory of the output file, which keeps the final renames atomic.
	TempDir string

	// Layer names the layer in formats that store one; empty means the
	// collection name.
	Layer string

	// NoIndex disables the FlatGeobuf spatial index.
	NoIndex bool

	Logger zerolog.Logger
}

// Write stores c at path. With FormatAuto the format is derived from the
// extension. Either every file of the output is in place when Write returns
// nil, or none of them was created and the error is a *WriteError.
func Write(ctx context.Context, c *feature.Collection, path string, format Format, opts WriteOptions) error {
	start := time.Now()
	if format == FormatAuto {
		f, err := FormatFromPath(path)
		if err != nil {
			return &WriteError{Path: path, Format: format, Err: err}
		}
		format = f
	}
	if c == nil {
		return &WriteError{Path: path, Format: format, Err: errors.New("no collection")}
	}

	var write func(*staging, *feature.Collection, WriteOptions) error
	switch format {
	case FormatShapefile:
		write = writeShapefile
	case FormatGeoJSON:
		write = writeGeoJSON
	case FormatFlatGeobuf:
		write = writeFlatGeobuf
	default:
		return &WriteError{Path: path, Format: format, Err: ErrUnsupportedFormat}
	}
	if opts.Layer == "" {
		opts.Layer = c.Name
	}

	s, err := newStaging(path, opts.TempDir)
	if err != nil {
		return &WriteError{Path: path, Format: format, Err: err}
	}
	defer s.cleanup()

	if err := write(s, c, opts); err != nil {
		return &WriteError{Path: path, Format: format, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return &WriteError{Path: path, Format: format, Err: err}
	}
	if err := s.commit(); err != nil {
		return &WriteError{Path: path, Format: format, Err: err}
	}

	opts.Logger.Debug().
		Str("path", path).
		Str("format", format.String()).
		Int("features", c.Len()).
		Dur("duration", time.Since(start)).
		Msg("Output written")
	return nil
}

// Read loads a collection written in any supported format. The format is
// derived from the extension; reg resolves the stored coordinate system.
func Read(path string, reg *crs.Registry) (*feature.Collection, error) {
	if reg == nil {
		reg = crs.NewRegistry()
	}
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	switch format {
	case FormatShapefile:
		return readShapefile(path, reg)
	case FormatGeoJSON:
		return readGeoJSON(path, reg)
	case FormatFlatGeobuf:
		r, err := OpenFlatGeobuf(path)
		if err != nil {
			return nil, err
		}
		return r.ReadAll(reg)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
}

// layerName returns the base name of path without its extension.
func layerName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
