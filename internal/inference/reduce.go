package inference

import (
	"edge-infer/internal/model"
	"edge-infer/internal/quant"
	"edge-infer/internal/shared"
)

// Argmax scans t once. Only a strictly greater value replaces the current
// best, so the first occurrence of the maximum wins.
func Argmax(t *model.Tensor) (int, int8) {
	best, bestVal := 0, int8(quant.MinInt8)
	for i := 0; i < t.Len(); i++ {
		if v := t.At(i); v > bestVal {
			best, bestVal = i, v
		}
	}
	return best, bestVal
}

// Classify reduces a classifier output to the winning class and its
// dequantized confidence.
func Classify(t *model.Tensor) shared.InferenceResult {
	idx, q := Argmax(t)
	return shared.InferenceResult{
		Success:        true,
		PredictedClass: idx,
		Confidence:     quant.Dequantize(q, t.Spec.Quant),
	}
}
