package opencv

import (
	"fmt"
	"image"
	"os"

	"gocv.io/x/gocv"

	"servalliance/internal/services/ai"
)

// NetConfig describes a detection network on disk.
type NetConfig struct {
	ModelPath     string
	ConfigPath    string // empty for ONNX
	InputSize     int
	ConfThreshold float32
	NMSThreshold  float32
}

// NetModel runs a DNN through OpenCV. It implements ai.Model and, like
// gocv.Net, must not be used from two goroutines at once.
type NetModel struct {
	net gocv.Net
	cfg NetConfig
}

// LoadNet reads the network and pins it to the CPU backend.
func LoadNet(cfg NetConfig) (*NetModel, error) {
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("model file not found: %s", cfg.ModelPath)
	}

	var net gocv.Net
	if cfg.ConfigPath == "" {
		net = gocv.ReadNetFromONNX(cfg.ModelPath)
	} else {
		if _, err := os.Stat(cfg.ConfigPath); err != nil {
			return nil, fmt.Errorf("config file not found: %s", cfg.ConfigPath)
		}
		net = gocv.ReadNet(cfg.ModelPath, cfg.ConfigPath)
	}
	if net.Empty() {
		return nil, fmt.Errorf("failed to load network from %s", cfg.ModelPath)
	}

	errBackend := net.SetPreferableBackend(gocv.NetBackendDefault)
	errTarget := net.SetPreferableTarget(gocv.NetTargetCPU)
	if errBackend != nil || errTarget != nil {
		net.Close()
		return nil, fmt.Errorf("failed to set preferable backend or target")
	}

	if cfg.InputSize <= 0 {
		cfg.InputSize = 640
	}
	return &NetModel{net: net, cfg: cfg}, nil
}

// Loader returns a function that loads a fresh instance per call, for
// ai.LoadEngine.
func Loader(cfg NetConfig) func() (ai.Model, error) {
	return func() (ai.Model, error) {
		m, err := LoadNet(cfg)
		if err != nil {
			return nil, err
		}
		return m, nil
	}
}

func (m *NetModel) Infer(img *image.RGBA) ([]ai.RawDetection, error) {
	mat, err := rgbaToMat(img)
	if err != nil {
		return nil, err
	}
	defer mat.Close()

	size := image.Pt(m.cfg.InputSize, m.cfg.InputSize)
	blob := gocv.BlobFromImage(mat, 1.0/255.0, size, gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	m.net.SetInput(blob, "")
	output := m.net.Forward("")
	defer output.Close()
	if output.Empty() {
		return nil, fmt.Errorf("network produced no output")
	}

	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("failed to read output: %w", err)
	}

	geometry := ai.Geometry{
		FrameWidth:  img.Bounds().Dx(),
		FrameHeight: img.Bounds().Dy(),
		InputSize:   m.cfg.InputSize,
	}
	candidates, err := ai.Decode(data, output.Size(), geometry, m.cfg.ConfThreshold)
	if err != nil {
		return nil, err
	}
	return m.suppress(candidates), nil
}

// suppress drops overlapping boxes, keeping the highest scoring one.
func (m *NetModel) suppress(candidates []ai.RawDetection) []ai.RawDetection {
	if len(candidates) < 2 {
		return candidates
	}

	boxes := make([]image.Rectangle, len(candidates))
	scores := make([]float32, len(candidates))
	for i, c := range candidates {
		boxes[i] = image.Rect(int(c.X1), int(c.Y1), int(c.X2), int(c.Y2))
		scores[i] = c.Confidence
	}

	indices := gocv.NMSBoxes(boxes, scores, m.cfg.ConfThreshold, m.cfg.NMSThreshold)
	kept := make([]ai.RawDetection, 0, len(indices))
	for _, i := range indices {
		kept = append(kept, candidates[i])
	}
	return kept
}

func (m *NetModel) Close() error {
	return m.net.Close()
}
