package opencv

import (
	"errors"
	"fmt"
	"image"
	"strconv"

	"gocv.io/x/gocv"

	"servalliance/internal/services/capture"
)

// Opener opens local devices and network streams through OpenCV.
type Opener struct{}

func NewOpener() *Opener {
	return &Opener{}
}

func (o *Opener) Open(target string, kind capture.Kind) (capture.Source, error) {
	var (
		vc  *gocv.VideoCapture
		err error
	)

	switch kind {
	case capture.KindDevice:
		index, convErr := strconv.Atoi(target)
		if convErr != nil {
			return nil, fmt.Errorf("invalid device index %q: %w", target, convErr)
		}
		vc, err = gocv.VideoCaptureDevice(index)
	default:
		vc, err = gocv.VideoCaptureFile(target)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s %s: %w", kind, target, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("%s %s did not open", kind, target)
	}

	// Keep only the newest frame for live sources.
	vc.Set(gocv.VideoCaptureBufferSize, 1)

	return &videoSource{vc: vc, mat: gocv.NewMat()}, nil
}

type videoSource struct {
	vc  *gocv.VideoCapture
	mat gocv.Mat
}

func (s *videoSource) Read() (*image.RGBA, error) {
	if ok := s.vc.Read(&s.mat); !ok || s.mat.Empty() {
		return nil, errors.New("no frame")
	}
	return matToRGBA(s.mat)
}

func (s *videoSource) Close() error {
	s.mat.Close()
	return s.vc.Close()
}
