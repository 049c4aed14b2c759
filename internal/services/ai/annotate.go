package ai

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"servalliance/internal/models"
)

var (
	boxColor  = color.RGBA{R: 255, G: 165, B: 0, A: 255}
	textColor = color.RGBA{A: 255}
)

const (
	boxThickness = 2
	labelPadding = 2
)

// Annotate returns a copy of frame with a box and a "class confidence" label
// drawn for every detection. The input frame is never modified. On failure
// the error is returned together with the untouched frame.
func Annotate(frame models.Frame, detections []models.Detection) (out models.Frame, err error) {
	if frame.Empty() {
		return frame, fmt.Errorf("empty frame")
	}
	if len(detections) == 0 {
		return frame, nil
	}

	defer func() {
		if r := recover(); r != nil {
			out = frame
			err = fmt.Errorf("annotation panicked: %v", r)
		}
	}()

	out = frame.Clone()
	for _, det := range detections {
		drawBox(out.Image, det.Box.Rect(), boxColor, boxThickness)
		drawLabel(out.Image, det.Box.X1, det.Box.Y1, Label(det))
	}
	return out, nil
}

// Label is the text drawn above a detection box.
func Label(det models.Detection) string {
	return fmt.Sprintf("%s %.2f", det.ClassName, det.Confidence)
}

func drawBox(img *image.RGBA, r image.Rectangle, c color.RGBA, thickness int) {
	src := image.NewUniform(c)
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+thickness),
		image.Rect(r.Min.X, r.Max.Y-thickness, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+thickness, r.Max.Y),
		image.Rect(r.Max.X-thickness, r.Min.Y, r.Max.X, r.Max.Y),
	}
	for _, e := range edges {
		draw.Draw(img, e.Intersect(img.Bounds()), src, image.Point{}, draw.Src)
	}
}

// drawLabel draws text on a filled background just above (x, y), or inside
// the box when there is no room above it.
func drawLabel(img *image.RGBA, x, y int, text string) {
	face := basicfont.Face7x13
	fm := face.Metrics()
	width := font.MeasureString(face, text).Ceil() + 2*labelPadding
	height := (fm.Ascent + fm.Descent).Ceil() + 2*labelPadding

	top := y - height
	if top < img.Bounds().Min.Y {
		top = y
	}
	bg := image.Rect(x, top, x+width, top+height).Intersect(img.Bounds())
	draw.Draw(img, bg, image.NewUniform(boxColor), image.Point{}, draw.Src)

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(textColor),
		Face: face,
		Dot:  fixed.Point26_6{X: fixed.I(x + labelPadding), Y: fixed.I(top+labelPadding) + fm.Ascent},
	}
	d.DrawString(text)
}
