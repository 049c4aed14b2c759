package opencv

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"servalliance/internal/models"
)

// VideoEncoder writes clips with an OpenCV VideoWriter. It implements
// storage.VideoEncoder.
type VideoEncoder struct {
	codec string // FourCC, e.g. mp4v
}

func NewVideoEncoder(codec string) *VideoEncoder {
	if codec == "" {
		codec = "mp4v"
	}
	return &VideoEncoder{codec: codec}
}

// Encode writes frames at fps. The clip takes the size of the first frame;
// frames of another size are resized to it.
func (e *VideoEncoder) Encode(path string, frames []models.Frame, fps float64) error {
	if len(frames) == 0 {
		return fmt.Errorf("no frames")
	}
	size := frames[0].Image.Bounds().Size()

	writer, err := gocv.VideoWriterFile(path, e.codec, fps, size.X, size.Y, true)
	if err != nil {
		return fmt.Errorf("failed to open video writer: %w", err)
	}
	defer writer.Close()
	if !writer.IsOpened() {
		return fmt.Errorf("video writer for %s did not open (codec %s)", path, e.codec)
	}

	for i, f := range frames {
		if err := e.writeFrame(writer, f.Image, size); err != nil {
			return fmt.Errorf("frame %d: %w", i, err)
		}
	}
	return nil
}

func (e *VideoEncoder) writeFrame(writer *gocv.VideoWriter, img *image.RGBA, size image.Point) error {
	mat, err := rgbaToMat(img)
	if err != nil {
		return err
	}
	defer mat.Close()

	if img.Bounds().Size() != size {
		resized := gocv.NewMat()
		defer resized.Close()
		gocv.Resize(mat, &resized, size, 0, 0, gocv.InterpolationLinear)
		return writer.Write(resized)
	}
	return writer.Write(mat)
}
