// Package pixels decodes DICOM pixel data into a flat numeric grid for
// ROI statistics, and gives access to the members of multi-frame DICOM
// zip archives.
package pixels

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// Grid is the decoded pixel array of a single frame, row-major.
type Grid struct {
	Rows int
	Cols int
	Data []float64

	// SpacingX and SpacingY are the physical pixel spacing from the
	// dataset's PixelSpacing element; zero when absent.
	SpacingX float64
	SpacingY float64
}

// Dims returns (columns, rows).
func (g *Grid) Dims() (cols, rows int) {
	return g.Cols, g.Rows
}

// At returns the value at column x, row y.
func (g *Grid) At(x, y int) float64 {
	return g.Data[y*g.Cols+x]
}

// Spacing returns the physical pixel spacing in (x, y).
func (g *Grid) Spacing() (sx, sy float64) {
	return g.SpacingX, g.SpacingY
}

// Decode parses DICOM bytes and extracts the first frame as a Grid.
// Encapsulated (compressed) transfer syntaxes are not supported.
func Decode(data []byte) (*Grid, error) {
	ds, err := dicom.Parse(bytes.NewReader(data), int64(len(data)), nil)
	if err != nil {
		return nil, fmt.Errorf("parse dataset: %w", err)
	}

	el, err := ds.FindElementByTag(tag.PixelData)
	if err != nil {
		return nil, fmt.Errorf("no pixel data element: %w", err)
	}
	info, ok := el.Value.GetValue().(dicom.PixelDataInfo)
	if !ok {
		return nil, fmt.Errorf("unexpected pixel data value type")
	}
	if info.IsEncapsulated {
		return nil, fmt.Errorf("encapsulated pixel data is not supported")
	}
	if len(info.Frames) == 0 {
		return nil, fmt.Errorf("pixel data has no frames")
	}

	native := info.Frames[0].NativeData
	if native == nil {
		return nil, fmt.Errorf("frame has no native data")
	}

	rows := native.Rows()
	cols := native.Cols()
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("invalid frame dimensions %dx%d", cols, rows)
	}

	values, err := frameValues(native.RawDataSlice(), rows*cols)
	if err != nil {
		return nil, err
	}

	grid := &Grid{Rows: rows, Cols: cols, Data: values}
	grid.SpacingY, grid.SpacingX = pixelSpacing(&ds)
	return grid, nil
}

// frameValues flattens the raw sample slice to one value per pixel,
// taking the first sample of multi-sample (color) data.
func frameValues(raw interface{}, pixelCount int) ([]float64, error) {
	var flat []float64
	switch data := raw.(type) {
	case []uint8:
		flat = toFloat(data)
	case []int8:
		flat = toFloat(data)
	case []uint16:
		flat = toFloat(data)
	case []int16:
		flat = toFloat(data)
	case []uint32:
		flat = toFloat(data)
	case []int32:
		flat = toFloat(data)
	case []uint64:
		flat = toFloat(data)
	case []int64:
		flat = toFloat(data)
	case []int:
		flat = toFloat(data)
	default:
		return nil, fmt.Errorf("unsupported raw pixel type %T", raw)
	}

	if pixelCount == 0 || len(flat)%pixelCount != 0 {
		return nil, fmt.Errorf("raw sample count %d does not cover %d pixels", len(flat), pixelCount)
	}
	samplesPerPixel := len(flat) / pixelCount
	if samplesPerPixel == 1 {
		return flat, nil
	}
	values := make([]float64, pixelCount)
	for i := range values {
		values[i] = flat[i*samplesPerPixel]
	}
	return values, nil
}

func toFloat[T int8 | uint8 | int16 | uint16 | int32 | uint32 | int64 | uint64 | int](data []T) []float64 {
	out := make([]float64, len(data))
	for i, v := range data {
		out[i] = float64(v)
	}
	return out
}

// pixelSpacing reads the PixelSpacing element. DICOM stores it as
// (row spacing, column spacing), so the return order is (y, x). Both
// zero when the element is absent or malformed.
func pixelSpacing(ds *dicom.Dataset) (rowSpacing, colSpacing float64) {
	el, err := ds.FindElementByTag(tag.PixelSpacing)
	if err != nil {
		return 0, 0
	}
	vals, ok := el.Value.GetValue().([]string)
	if !ok || len(vals) < 2 {
		return 0, 0
	}
	y, errY := strconv.ParseFloat(strings.TrimSpace(vals[0]), 64)
	x, errX := strconv.ParseFloat(strings.TrimSpace(vals[1]), 64)
	if errY != nil || errX != nil || y <= 0 || x <= 0 {
		return 0, 0
	}
	return y, x
}

// Member extracts a named member from a DICOM zip archive.
func Member(archive []byte, name string) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open member %s: %w", name, err)
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, fmt.Errorf("read member %s: %w", name, err)
		}
		return data, nil
	}
	return nil, fmt.Errorf("member %s not found in archive", name)
}

// Members lists the member names of a DICOM zip archive in stored order.
func Members(archive []byte) ([]string, error) {
	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	names := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	return names, nil
}
