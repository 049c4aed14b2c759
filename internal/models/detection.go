package models

import "image"

// Box is an axis-aligned bounding box in pixel coordinates.
type Box struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// Rect converts the box to an image.Rectangle.
func (b Box) Rect() image.Rectangle {
	return image.Rect(b.X1, b.Y1, b.X2, b.Y2)
}

// Detection represents a normalized object detected in a frame.
type Detection struct {
	ClassName  string  `json:"class"`
	Confidence float64 `json:"confidence"` // [0,1]
	Box        Box     `json:"box"`
}
