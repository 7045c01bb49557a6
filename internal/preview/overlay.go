// Package preview renders decoded frames with their ROI bounding boxes
// as PNG images, for visual inspection of an export run.
package preview

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/flywheel-apps/ROI-export/internal/pixels"
	"github.com/flywheel-apps/ROI-export/internal/roi"
)

// Render draws the ROI bounding boxes and location labels of records
// over the decoded frame. The frame's value range is rescaled to 8-bit
// grayscale for display.
func Render(g *pixels.Grid, records []roi.Record) (image.Image, error) {
	if g.Cols <= 0 || g.Rows <= 0 {
		return nil, fmt.Errorf("invalid frame dimensions %dx%d", g.Cols, g.Rows)
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range g.Data {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	span := hi - lo
	if span == 0 {
		span = 1
	}

	img := image.NewRGBA(image.Rect(0, 0, g.Cols, g.Rows))
	for y := 0; y < g.Rows; y++ {
		for x := 0; x < g.Cols; x++ {
			gray := uint8((g.At(x, y) - lo) / span * 255)
			img.SetRGBA(x, y, color.RGBA{gray, gray, gray, 255})
		}
	}

	for _, rec := range records {
		xMin, xMax, yMin, yMax := roi.Bounds(rec)
		x0, x1, y0, y1 := int(xMin), int(xMax), int(yMin), int(yMax)
		drawBox(img, x0, y0, x1, y1)
		if rec.Location != "" {
			drawLabel(img, rec.Location, x0, y0-2)
		}
	}
	return img, nil
}

// WritePNG encodes the rendered image to a file.
func WritePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create preview %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	if err := png.Encode(f, img); err != nil {
		return fmt.Errorf("encode preview %s: %w", path, err)
	}
	return nil
}

// drawBox draws a one-pixel white border, clipped to the image bounds.
func drawBox(img *image.RGBA, x0, y0, x1, y1 int) {
	white := color.RGBA{255, 255, 255, 255}
	bounds := img.Bounds()
	for x := x0; x <= x1; x++ {
		setClipped(img, bounds, x, y0, white)
		setClipped(img, bounds, x, y1, white)
	}
	for y := y0; y <= y1; y++ {
		setClipped(img, bounds, x0, y, white)
		setClipped(img, bounds, x1, y, white)
	}
}

func setClipped(img *image.RGBA, bounds image.Rectangle, x, y int, c color.RGBA) {
	if x >= bounds.Min.X && x < bounds.Max.X && y >= bounds.Min.Y && y < bounds.Max.Y {
		img.SetRGBA(x, y, c)
	}
}

// drawLabel draws text with a black outline for visibility against
// varying backgrounds.
func drawLabel(img *image.RGBA, text string, x, y int) {
	face := basicfont.Face7x13
	drawer := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.Black),
		Face: face,
	}

	for dx := -1; dx <= 1; dx++ {
		for dy := -1; dy <= 1; dy++ {
			if dx == 0 && dy == 0 {
				continue
			}
			drawer.Dot = fixed.P(x+dx, y+dy)
			drawer.DrawString(text)
		}
	}

	drawer.Src = image.NewUniform(color.White)
	drawer.Dot = fixed.P(x, y)
	drawer.DrawString(text)
}
