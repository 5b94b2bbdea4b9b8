package engine

import (
	"math"

	"edge-infer/internal/model"
	"edge-infer/internal/quant"
	"edge-infer/internal/shared"
)

// Candidates turns a detection head output into boxes in source image
// pixels. Each row is (score, x1, y1, x2, y2) with coordinates normalized to
// [0,1]. Zero score rows are padding. Rows scoring below threshold are the
// engine's own filtering; the survivors keep the head's row order.
func Candidates(out *model.Tensor, threshold float32, srcW, srcH int) []shared.Detection {
	p := out.Spec.Quant
	rows := out.Len() / model.DetectionRowWidth
	dets := make([]shared.Detection, 0, rows)
	for r := 0; r < rows; r++ {
		base := r * model.DetectionRowWidth
		score := clamp01(quant.Dequantize(out.At(base), p))
		if score < threshold || score == 0 {
			continue
		}
		d := shared.Detection{Score: score}
		for j := 0; j < 4; j++ {
			extent := srcW
			if j%2 == 1 {
				extent = srcH
			}
			coord := clamp01(quant.Dequantize(out.At(base+1+j), p))
			d.Box[j] = int(math.Round(float64(coord) * float64(extent)))
		}
		dets = append(dets, d)
	}
	return dets
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
