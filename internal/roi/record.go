// Package roi holds the normalized ROI annotation model: extraction from
// raw viewer-state metadata and geometry/statistics evaluation against
// decoded pixel data.
package roi

// Shape is the internal kind of an ROI.
type Shape int

const (
	ShapeRectangle Shape = iota
	ShapeEllipse
	ShapeFreehand
)

// String returns the shape name.
func (s Shape) String() string {
	switch s {
	case ShapeRectangle:
		return "rectangle"
	case ShapeEllipse:
		return "ellipse"
	case ShapeFreehand:
		return "freehand"
	default:
		return "unknown"
	}
}

// ParseToolType maps a viewer tool type tag to a shape kind. The second
// return is false for unsupported tool types.
func ParseToolType(toolType string) (Shape, bool) {
	switch toolType {
	case "rectangleRoi", "RectangleRoi":
		return ShapeRectangle, true
	case "ellipticalRoi", "EllipticalRoi":
		return ShapeEllipse, true
	case "freehand", "freehandRoi", "FreehandRoi":
		return ShapeFreehand, true
	default:
		return 0, false
	}
}

// Point is a 2D image-space coordinate. Viewer handles may be fractional.
type Point struct {
	X float64
	Y float64
}

// Record is one normalized ROI. Immutable once built.
type Record struct {
	// Member is the DICOM archive member the ROI belongs to; empty for
	// annotations on the file itself.
	Member string

	Shape    Shape
	ToolType string // raw viewer tag, carried to the report unchanged

	// Start and End are the bounding handles for rectangle and ellipse
	// shapes (corner-to-corner and enclosing-box respectively).
	Start Point
	End   Point

	// Points holds the ordered polygon vertices of a freehand shape.
	Points []Point

	Location    string
	Description string
	UserOrigin  string
}

// UnknownUser is the sentinel recorded when an ROI carries no authorship
// metadata.
const UnknownUser = "unknown"
