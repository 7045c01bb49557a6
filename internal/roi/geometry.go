package roi

import "math"

// PixelSource provides decoded pixel values for containment sampling.
// Implemented by pixels.Grid.
type PixelSource interface {
	// Dims returns (columns, rows).
	Dims() (cols, rows int)
	// At returns the value at column x, row y.
	At(x, y int) float64
	// Spacing returns the physical pixel spacing in (x, y); both zero
	// when the owning file carries no spacing metadata.
	Spacing() (sx, sy float64)
}

// Stats holds the derived geometry and pixel statistics of one ROI.
// When Count is zero the numeric aggregates are NaN.
type Stats struct {
	XMin float64
	XMax float64
	YMin float64
	YMax float64

	// Area is Count scaled by physical pixel spacing when available,
	// otherwise equal to Count (voxel units).
	Area  float64
	Count int

	Min      float64
	Max      float64
	Mean     float64
	StdDev   float64
	Variance float64
}

const boundaryEps = 1e-9

// Evaluate computes the bounding box and per-pixel statistics of a
// record against the pixel array of its owning member. Containment is
// boundary inclusive; variance and stdDev follow the population
// convention.
func Evaluate(rec Record, src PixelSource) Stats {
	stats := Stats{}
	stats.XMin, stats.XMax, stats.YMin, stats.YMax = Bounds(rec)

	cols, rows := src.Dims()
	x0 := int(math.Ceil(stats.XMin))
	x1 := int(math.Floor(stats.XMax))
	y0 := int(math.Ceil(stats.YMin))
	y1 := int(math.Floor(stats.YMax))
	if x0 < 0 {
		x0 = 0
	}
	if y0 < 0 {
		y0 = 0
	}
	if x1 > cols-1 {
		x1 = cols - 1
	}
	if y1 > rows-1 {
		y1 = rows - 1
	}

	var sum, sumSq float64
	min := math.Inf(1)
	max := math.Inf(-1)
	count := 0

	for y := y0; y <= y1; y++ {
		for x := x0; x <= x1; x++ {
			if !contains(rec, float64(x), float64(y)) {
				continue
			}
			v := src.At(x, y)
			sum += v
			sumSq += v * v
			if v < min {
				min = v
			}
			if v > max {
				max = v
			}
			count++
		}
	}

	stats.Count = count
	sx, sy := src.Spacing()
	if sx > 0 && sy > 0 {
		stats.Area = float64(count) * sx * sy
	} else {
		stats.Area = float64(count)
	}

	if count == 0 {
		nan := math.NaN()
		stats.Min, stats.Max, stats.Mean, stats.StdDev, stats.Variance = nan, nan, nan, nan, nan
		return stats
	}

	mean := sum / float64(count)
	variance := sumSq/float64(count) - mean*mean
	if variance < 0 {
		variance = 0
	}
	stats.Min = min
	stats.Max = max
	stats.Mean = mean
	stats.Variance = variance
	stats.StdDev = math.Sqrt(variance)
	return stats
}

// Bounds derives the axis-aligned bounding box from the shape
// parameters alone; it needs no pixel data.
func Bounds(rec Record) (xMin, xMax, yMin, yMax float64) {
	switch rec.Shape {
	case ShapeFreehand:
		xMin, yMin = math.Inf(1), math.Inf(1)
		xMax, yMax = math.Inf(-1), math.Inf(-1)
		for _, p := range rec.Points {
			xMin = math.Min(xMin, p.X)
			xMax = math.Max(xMax, p.X)
			yMin = math.Min(yMin, p.Y)
			yMax = math.Max(yMax, p.Y)
		}
		return xMin, xMax, yMin, yMax
	default:
		xMin = math.Min(rec.Start.X, rec.End.X)
		xMax = math.Max(rec.Start.X, rec.End.X)
		yMin = math.Min(rec.Start.Y, rec.End.Y)
		yMax = math.Max(rec.Start.Y, rec.End.Y)
		return xMin, xMax, yMin, yMax
	}
}

func contains(rec Record, x, y float64) bool {
	switch rec.Shape {
	case ShapeRectangle:
		// The sampling loop already restricts to the bounding box.
		return true
	case ShapeEllipse:
		return ellipseContains(rec, x, y)
	case ShapeFreehand:
		return polygonContains(rec.Points, x, y)
	default:
		return false
	}
}

func ellipseContains(rec Record, x, y float64) bool {
	xMin, xMax, yMin, yMax := Bounds(rec)
	rx := (xMax - xMin) / 2
	ry := (yMax - yMin) / 2
	if rx == 0 || ry == 0 {
		// Degenerate ellipse encloses no pixels.
		return false
	}
	cx := (xMin + xMax) / 2
	cy := (yMin + yMax) / 2
	dx := (x - cx) / rx
	dy := (y - cy) / ry
	return dx*dx+dy*dy <= 1+boundaryEps
}

// polygonContains is a boundary-inclusive point-in-polygon test: points
// on an edge count as inside, interior points are resolved by ray
// casting.
func polygonContains(points []Point, x, y float64) bool {
	n := len(points)
	if n < 3 {
		return false
	}

	for i := 0; i < n; i++ {
		if onSegment(points[i], points[(i+1)%n], x, y) {
			return true
		}
	}

	inside := false
	j := n - 1
	for i := 0; i < n; i++ {
		pi, pj := points[i], points[j]
		if (pi.Y > y) != (pj.Y > y) {
			xCross := pj.X + (y-pj.Y)/(pi.Y-pj.Y)*(pi.X-pj.X)
			if x < xCross {
				inside = !inside
			}
		}
		j = i
	}
	return inside
}

func onSegment(a, b Point, x, y float64) bool {
	cross := (b.X-a.X)*(y-a.Y) - (b.Y-a.Y)*(x-a.X)
	if math.Abs(cross) > boundaryEps {
		return false
	}
	return x >= math.Min(a.X, b.X)-boundaryEps && x <= math.Max(a.X, b.X)+boundaryEps &&
		y >= math.Min(a.Y, b.Y)-boundaryEps && y <= math.Max(a.Y, b.Y)+boundaryEps
}
