// Package common - Box geometry and labels shared by the matcher, the evaluator and the store.
package common

import (
	"fmt"
	"image"
	"math"
)

// BoundingBox is an axis-aligned rectangle in image pixel coordinates.
//
// A valid box satisfies XMin < XMax and YMin < YMax. Use NewBoundingBox to
// construct boxes from untrusted input; struct literals are checked by
// Validate when they reach IoU or the matcher.
type BoundingBox struct {
	XMin float64 `json:"xmin" yaml:"xmin"`
	YMin float64 `json:"ymin" yaml:"ymin"`
	XMax float64 `json:"xmax" yaml:"xmax"`
	YMax float64 `json:"ymax" yaml:"ymax"`
}

// NewBoundingBox creates a validated bounding box.
//
// Arguments:
//   - xmin, ymin: The top-left corner.
//   - xmax, ymax: The bottom-right corner (exclusive).
//
// Returns:
//   - BoundingBox: The box.
//   - error: An *InvalidBoxError if the box has no positive width or height.
//
// @example
// box, err := NewBoundingBox(0, 0, 10, 10)
func NewBoundingBox(xmin, ymin, xmax, ymax float64) (BoundingBox, error) {
	b := BoundingBox{XMin: xmin, YMin: ymin, XMax: xmax, YMax: ymax}
	if err := b.Validate(); err != nil {
		return BoundingBox{}, err
	}
	return b, nil
}

// FromRect converts an integer image.Rectangle into a BoundingBox.
func FromRect(r image.Rectangle) BoundingBox {
	r = r.Canon()
	return BoundingBox{
		XMin: float64(r.Min.X),
		YMin: float64(r.Min.Y),
		XMax: float64(r.Max.X),
		YMax: float64(r.Max.Y),
	}
}

// Validate reports whether b is a usable box.
func (b BoundingBox) Validate() error {
	for _, v := range []float64{b.XMin, b.YMin, b.XMax, b.YMax} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return &InvalidBoxError{Box: b, Reason: "non-finite coordinate"}
		}
	}
	if b.XMin >= b.XMax {
		return &InvalidBoxError{Box: b, Reason: "xmin >= xmax"}
	}
	if b.YMin >= b.YMax {
		return &InvalidBoxError{Box: b, Reason: "ymin >= ymax"}
	}
	return nil
}

// Width returns the horizontal extent of the box, or zero for inverted boxes.
func (b BoundingBox) Width() float64 {
	return math.Max(0, b.XMax-b.XMin)
}

// Height returns the vertical extent of the box, or zero for inverted boxes.
func (b BoundingBox) Height() float64 {
	return math.Max(0, b.YMax-b.YMin)
}

// Area returns the area of the box in square pixels.
func (b BoundingBox) Area() float64 {
	return b.Width() * b.Height()
}

// Intersection calculates the intersection area between two bounding boxes.
//
// Arguments:
//   - other: The other bounding box to calculate intersection with.
//
// Returns:
//   - The area of the overlap rectangle, clamped to zero when the boxes are disjoint.
//
// @example
// box1 := BoundingBox{XMin: 0, YMin: 0, XMax: 100, YMax: 100}
// box2 := BoundingBox{XMin: 50, YMin: 50, XMax: 150, YMax: 150}
// area := box1.Intersection(box2) // Returns 2500.0 (50x50 overlap)
func (b BoundingBox) Intersection(other BoundingBox) float64 {
	w := math.Min(b.XMax, other.XMax) - math.Max(b.XMin, other.XMin)
	h := math.Min(b.YMax, other.YMax) - math.Max(b.YMin, other.YMin)
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// Union calculates the union area between two bounding boxes.
//
// Arguments:
//   - other: The other bounding box to calculate union with.
//
// Returns:
//   - area(b) + area(other) - intersection.
//
// @example
// box1 := BoundingBox{XMin: 0, YMin: 0, XMax: 100, YMax: 100}
// box2 := BoundingBox{XMin: 50, YMin: 50, XMax: 150, YMax: 150}
// area := box1.Union(box2) // Returns 17500.0
func (b BoundingBox) Union(other BoundingBox) float64 {
	return b.Area() + other.Area() - b.Intersection(other)
}

// Overlap returns the Intersection over Union of two boxes without validating
// them. Degenerate boxes have zero area; when the union is zero the result is 0.
func Overlap(a, b BoundingBox) float64 {
	union := a.Union(b)
	if union <= 0 {
		return 0
	}
	iou := a.Intersection(b) / union
	// Rounding can push identical boxes a hair past 1.
	return math.Min(1, math.Max(0, iou))
}

// IoU calculates the Intersection over Union between two bounding boxes.
//
// Both boxes are validated first so that a malformed box never produces a
// plausible-looking overlap.
//
// Arguments:
//   - a: The first box.
//   - b: The second box.
//
// Returns:
//   - float64: A value in [0, 1].
//   - error: An *InvalidBoxError if either box is invalid.
//
// @example
// box1 := BoundingBox{XMin: 0, YMin: 0, XMax: 100, YMax: 100}
// box2 := BoundingBox{XMin: 50, YMin: 50, XMax: 150, YMax: 150}
// iou, _ := IoU(box1, box2) // Returns ~0.143 (2500/17500)
func IoU(a, b BoundingBox) (float64, error) {
	if err := a.Validate(); err != nil {
		return 0, err
	}
	if err := b.Validate(); err != nil {
		return 0, err
	}
	return Overlap(a, b), nil
}

// Scale multiplies the x coordinates by sx and the y coordinates by sy.
func (b BoundingBox) Scale(sx, sy float64) BoundingBox {
	return BoundingBox{
		XMin: b.XMin * sx,
		YMin: b.YMin * sy,
		XMax: b.XMax * sx,
		YMax: b.YMax * sy,
	}
}

// Clip restricts the box to the image area [0, width) x [0, height).
func (b BoundingBox) Clip(width, height float64) BoundingBox {
	return BoundingBox{
		XMin: math.Min(math.Max(b.XMin, 0), width),
		YMin: math.Min(math.Max(b.YMin, 0), height),
		XMax: math.Min(math.Max(b.XMax, 0), width),
		YMax: math.Min(math.Max(b.YMax, 0), height),
	}
}

// ToRect converts the bounding box to an image.Rectangle.
//
// This loses the fractional part of each coordinate. It is meant for drawing
// and cropping, never for overlap computations.
func (b BoundingBox) ToRect() image.Rectangle {
	return image.Rect(int(b.XMin), int(b.YMin), int(b.XMax), int(b.YMax)).Canon()
}

func (b BoundingBox) String() string {
	return fmt.Sprintf("(%.2f, %.2f), (%.2f, %.2f)", b.XMin, b.YMin, b.XMax, b.YMax)
}
