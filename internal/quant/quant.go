// Package quant maps between 8-bit pixel/feature values and the int8 fixed
// point representation used by the model tensors.
package quant

import (
	"fmt"
	"math"
)

const (
	MinInt8 = -128
	MaxInt8 = 127
)

// Params is the affine quantization pair of a tensor:
// real = (q - ZeroPoint) * Scale.
type Params struct {
	Scale     float32 `json:"scale"`
	ZeroPoint int32   `json:"zero_point"`
}

func (p Params) Valid() error {
	s := float64(p.Scale)
	if math.IsNaN(s) || math.IsInf(s, 0) || p.Scale <= 0 {
		return fmt.Errorf("invalid quantization scale %v", p.Scale)
	}
	return nil
}

// Step is the real-valued distance between two adjacent quantized values.
func (p Params) Step() float32 {
	return p.Scale
}

// Clamp saturates v to the int8 range.
func Clamp(v int32) int8 {
	if v < MinInt8 {
		return MinInt8
	}
	if v > MaxInt8 {
		return MaxInt8
	}
	return int8(v)
}

// Quantize normalizes v to [0,1] and maps it onto p. Rounding is half away
// from zero and happens before the zero point is added.
func Quantize(v uint8, p Params) int8 {
	normalized := float32(v) / 255.0
	scaled := float64(normalized / p.Scale)
	return saturate(math.Round(scaled) + float64(p.ZeroPoint))
}

// QuantizeReal maps an already normalized value onto p.
func QuantizeReal(r float32, p Params) int8 {
	return saturate(math.Round(float64(r/p.Scale)) + float64(p.ZeroPoint))
}

func Dequantize(q int8, p Params) float32 {
	return (float32(q) - float32(p.ZeroPoint)) * p.Scale
}

// Setter is the write side of an int8 tensor view.
type Setter interface {
	Len() int
	Set(i int, v int8)
}

// QuantizeInto writes the quantized form of src into dst. Both must have the
// same length.
func QuantizeInto(dst Setter, src []byte, p Params) error {
	if dst.Len() != len(src) {
		return fmt.Errorf("quantize: tensor holds %d elements, got %d", dst.Len(), len(src))
	}
	for i, v := range src {
		dst.Set(i, Quantize(v, p))
	}
	return nil
}

// saturate clamps in float64 so a huge quotient or zero point can never wrap.
func saturate(f float64) int8 {
	if math.IsNaN(f) {
		return 0
	}
	if f <= MinInt8 {
		return MinInt8
	}
	if f >= MaxInt8 {
		return MaxInt8
	}
	return int8(f)
}
