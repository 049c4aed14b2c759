package ai

import "fmt"

// Geometry maps model input coordinates back to the source frame.
type Geometry struct {
	FrameWidth, FrameHeight int
	InputSize               int // square model input, e.g. 640
}

// Decode turns a raw output tensor into detections scoring at least
// minScore. Two layouts are understood: YOLOv8 style [1, 4+classes, boxes]
// (or its transpose) with centre/size boxes in input pixels, and SSD style
// [1, 1, N, 7] rows of (batch, class, score, x1, y1, x2, y2) in [0,1].
func Decode(out []float32, dims []int, g Geometry, minScore float32) ([]RawDetection, error) {
	if len(dims) == 0 {
		return nil, fmt.Errorf("output tensor has no shape")
	}
	total := 1
	for _, d := range dims {
		total *= d
	}
	if total != len(out) {
		return nil, fmt.Errorf("output shape %v does not match %d values", dims, len(out))
	}

	if dims[len(dims)-1] == 7 && len(dims) == 4 {
		return decodeSSD(out, g, minScore), nil
	}
	if len(dims) == 3 && dims[0] == 1 {
		return decodeYOLO(out, dims[1], dims[2], g, minScore)
	}
	return nil, fmt.Errorf("unsupported output shape %v", dims)
}

func decodeYOLO(out []float32, a, b int, g Geometry, minScore float32) ([]RawDetection, error) {
	// Attributes per box is the smaller axis: 84 for 80 classes vs 8400 boxes.
	attrs, boxes := a, b
	at := func(attr, box int) float32 { return out[attr*boxes+box] }
	if a > b {
		attrs, boxes = b, a
		at = func(attr, box int) float32 { return out[box*attrs+attr] }
	}
	if attrs < 5 {
		return nil, fmt.Errorf("output has %d attributes per box, need at least 5", attrs)
	}
	if g.InputSize <= 0 {
		return nil, fmt.Errorf("invalid model input size %d", g.InputSize)
	}

	sx := float32(g.FrameWidth) / float32(g.InputSize)
	sy := float32(g.FrameHeight) / float32(g.InputSize)

	var dets []RawDetection
	for i := 0; i < boxes; i++ {
		bestClass, bestScore := -1, float32(0)
		for c := 4; c < attrs; c++ {
			if s := at(c, i); s > bestScore {
				bestClass, bestScore = c-4, s
			}
		}
		if bestClass < 0 || bestScore < minScore {
			continue
		}

		cx, cy := at(0, i), at(1, i)
		w, h := at(2, i), at(3, i)
		dets = append(dets, RawDetection{
			ClassID:    bestClass,
			Confidence: bestScore,
			X1:         (cx - w/2) * sx,
			Y1:         (cy - h/2) * sy,
			X2:         (cx + w/2) * sx,
			Y2:         (cy + h/2) * sy,
		})
	}
	return dets, nil
}

func decodeSSD(out []float32, g Geometry, minScore float32) []RawDetection {
	w, h := float32(g.FrameWidth), float32(g.FrameHeight)

	var dets []RawDetection
	for row := 0; row+7 <= len(out); row += 7 {
		score := out[row+2]
		if score < minScore {
			continue
		}
		dets = append(dets, RawDetection{
			ClassID:    int(out[row+1]),
			Confidence: score,
			X1:         out[row+3] * w,
			Y1:         out[row+4] * h,
			X2:         out[row+5] * w,
			Y2:         out[row+6] * h,
		})
	}
	return dets
}
