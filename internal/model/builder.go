package model

import (
	"math"

	"edge-infer/internal/quant"
	"edge-infer/internal/shared"
)

// DenseConfig describes a stack of fully connected layers with
// deterministic pseudo random weights. It backs cmd/modelgen and the tests.
type DenseConfig struct {
	Task           shared.Task
	Input          TensorSpec
	Output         TensorSpec
	Hidden         []int
	HiddenQuant    quant.Params
	Seed           uint64
	ScoreThreshold float32
	ArenaSize      int
}

func BuildDense(cfg DenseConfig) (*Model, error) {
	if cfg.HiddenQuant.Scale == 0 {
		cfg.HiddenQuant = quant.Params{Scale: 0.05, ZeroPoint: -128}
	}
	rng := xorshift(cfg.Seed | 1)

	m := &Model{
		Version:        SchemaVersion,
		Task:           cfg.Task,
		ScoreThreshold: cfg.ScoreThreshold,
		ArenaSize:      cfg.ArenaSize,
		Inputs:         []TensorSpec{cfg.Input},
		Outputs:        []TensorSpec{cfg.Output},
	}
	sizes := append(append([]int{cfg.Input.Elements()}, cfg.Hidden...), cfg.Output.Elements())
	for i := 1; i < len(sizes); i++ {
		in, out := sizes[i-1], sizes[i]
		l := Layer{
			Op:          OpFullyConnected,
			Activation:  ActReLU,
			In:          in,
			Out:         out,
			WeightScale: float32(1 / (127 * math.Sqrt(float64(in)))),
			OutQuant:    cfg.HiddenQuant,
			Weights:     make([]int8, in*out),
			Bias:        make([]int32, out),
		}
		if i == len(sizes)-1 {
			l.Activation = ActNone
			l.OutQuant = cfg.Output.Quant
		}
		for j := range l.Weights {
			l.Weights[j] = int8(int(rng.next()%255) - 127)
		}
		m.Layers = append(m.Layers, l)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

type xorshift uint64

func (x *xorshift) next() uint64 {
	*x ^= *x << 13
	*x ^= *x >> 7
	*x ^= *x << 17
	return uint64(*x)
}
