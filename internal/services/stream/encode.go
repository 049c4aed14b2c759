package stream

import (
	"bytes"
	"fmt"
	"image/jpeg"

	"servalliance/internal/models"
)

// JPEGEncoder encodes frames as standalone JPEG images.
type JPEGEncoder struct {
	Quality int
}

func NewJPEGEncoder(quality int) *JPEGEncoder {
	if quality <= 0 || quality > 100 {
		quality = jpeg.DefaultQuality
	}
	return &JPEGEncoder{Quality: quality}
}

func (e *JPEGEncoder) Encode(frame models.Frame) ([]byte, error) {
	if frame.Empty() {
		return nil, fmt.Errorf("empty frame")
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame.Image, &jpeg.Options{Quality: e.Quality}); err != nil {
		return nil, fmt.Errorf("failed to encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
