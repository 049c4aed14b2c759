package models

import (
	"image"
	"time"
)

// Frame is one raw picture read from a camera.
type Frame struct {
	CameraID   string
	Seq        uint64
	CapturedAt time.Time
	Image      *image.RGBA
}

// Empty reports whether the frame carries no pixels.
func (f Frame) Empty() bool {
	return f.Image == nil || f.Image.Bounds().Empty()
}

// Clone returns a frame whose pixel memory is independent of f.
func (f Frame) Clone() Frame {
	c := f
	if f.Image != nil {
		c.Image = CloneRGBA(f.Image)
	}
	return c
}

// CloneRGBA deep-copies an RGBA image.
func CloneRGBA(src *image.RGBA) *image.RGBA {
	dst := &image.RGBA{
		Pix:    make([]uint8, len(src.Pix)),
		Stride: src.Stride,
		Rect:   src.Rect,
	}
	copy(dst.Pix, src.Pix)
	return dst
}
