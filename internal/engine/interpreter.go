package engine

import (
	"fmt"
	"math"

	"edge-infer/internal/model"
	"edge-infer/internal/quant"
)

// Interpreter executes the fully connected int8 layers of a model inside a
// single arena. Intermediate activations ping-pong between two scratch
// tensors so arena use is input + output + 2*widest hidden layer.
type Interpreter struct {
	model   *model.Model
	arena   *model.Arena
	input   *model.Tensor
	output  *model.Tensor
	scratch [2]*model.Tensor
	acts    []int32
	closed  bool
}

// NewInterpreter allocates every tensor up front. Failing to fit the arena is
// permanent for this model and size.
func NewInterpreter(m *model.Model, arenaBytes int) (*Interpreter, error) {
	if len(m.Layers) == 0 {
		return nil, fmt.Errorf("model has no layers to interpret")
	}
	it := &Interpreter{
		model: m,
		arena: model.NewArena(arenaSize(m, arenaBytes)),
	}
	var err error
	if it.input, err = model.NewTensor(it.arena, m.Input()); err != nil {
		return nil, fmt.Errorf("failed to allocate input: %w", err)
	}
	if it.output, err = model.NewTensor(it.arena, m.Output()); err != nil {
		return nil, fmt.Errorf("failed to allocate output: %w", err)
	}

	widest, widestIn := 0, m.Input().Elements()
	for i, l := range m.Layers {
		widestIn = max(widestIn, l.In)
		if i < len(m.Layers)-1 {
			widest = max(widest, l.Out)
		}
	}
	if widest > 0 {
		for i := range it.scratch {
			spec := model.TensorSpec{Name: fmt.Sprintf("scratch_%d", i), Shape: []int{widest}, Type: model.Int8}
			if it.scratch[i], err = model.NewTensor(it.arena, spec); err != nil {
				return nil, fmt.Errorf("failed to allocate activations: %w", err)
			}
		}
	}
	it.acts = make([]int32, widestIn)
	return it, nil
}

func (it *Interpreter) Input() *model.Tensor  { return it.input }
func (it *Interpreter) Output() *model.Tensor { return it.output }
func (it *Interpreter) ArenaUsed() int        { return it.arena.Used() }
func (it *Interpreter) ArenaCap() int         { return it.arena.Cap() }

func (it *Interpreter) Close() error {
	it.closed = true
	return nil
}

func (it *Interpreter) Invoke() error {
	if it.closed {
		return ErrClosed
	}
	src := it.input
	srcLen := src.Len()
	srcQuant := it.model.Input().Quant
	for i := range it.model.Layers {
		l := &it.model.Layers[i]
		dst := it.output
		if i < len(it.model.Layers)-1 {
			dst = it.scratch[i%2]
		}
		if srcLen != l.In {
			return fmt.Errorf("layer %d: got %d activations, want %d", i, srcLen, l.In)
		}
		fullyConnected(l, src, srcQuant, dst, it.acts[:l.In])
		src, srcLen, srcQuant = dst, l.Out, l.OutQuant
	}
	return nil
}

// fullyConnected computes dst = requant(W * (src - zp) + bias). The
// accumulator scale is inScale*WeightScale.
func fullyConnected(l *model.Layer, src *model.Tensor, in quant.Params, dst *model.Tensor, acts []int32) {
	for k := range acts {
		acts[k] = int32(src.At(k)) - in.ZeroPoint
	}
	multiplier := float64(in.Scale) * float64(l.WeightScale) / float64(l.OutQuant.Scale)
	for o := 0; o < l.Out; o++ {
		row := l.Weights[o*l.In : (o+1)*l.In]
		acc := int64(l.Bias[o])
		for k, w := range row {
			acc += int64(acts[k]) * int64(w)
		}
		q := int64(math.Round(float64(acc)*multiplier)) + int64(l.OutQuant.ZeroPoint)
		if l.Activation == model.ActReLU && q < int64(l.OutQuant.ZeroPoint) {
			q = int64(l.OutQuant.ZeroPoint)
		}
		q = min(max(q, quant.MinInt8), quant.MaxInt8)
		dst.Set(o, int8(q))
	}
}
