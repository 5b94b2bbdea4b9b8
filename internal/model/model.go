// Package model describes a compiled quantized graph: its tensor contracts,
// its layers and the arena the engine places tensors in. A Model is built
// once at startup and never mutated afterwards.
package model

import (
	"errors"
	"fmt"

	"edge-infer/internal/quant"
	"edge-infer/internal/shared"
)

// SchemaVersion is the only blob schema this build understands.
const SchemaVersion = 3

type ElemType uint8

const (
	Int8 ElemType = 0
)

func (e ElemType) String() string {
	switch e {
	case Int8:
		return "int8"
	default:
		return fmt.Sprintf("elem(%d)", uint8(e))
	}
}

type TensorSpec struct {
	Name  string       `json:"name"`
	Shape []int        `json:"shape"`
	Quant quant.Params `json:"quant"`
	Type  ElemType     `json:"type"`
}

// Elements is the product of all dimensions.
func (s TensorSpec) Elements() int {
	if len(s.Shape) == 0 {
		return 0
	}
	n := 1
	for _, d := range s.Shape {
		n *= d
	}
	return n
}

// ImageDims reads height, width and channels from an NHWC or HWC shape.
func (s TensorSpec) ImageDims() (h, w, c int, err error) {
	shape := s.Shape
	if len(shape) == 4 {
		if shape[0] != 1 {
			return 0, 0, 0, fmt.Errorf("tensor %q: batch size %d, want 1", s.Name, shape[0])
		}
		shape = shape[1:]
	}
	if len(shape) != 3 {
		return 0, 0, 0, fmt.Errorf("tensor %q: shape %v is not an image", s.Name, s.Shape)
	}
	return shape[0], shape[1], shape[2], nil
}

func (s TensorSpec) validate() error {
	if s.Type != Int8 {
		return fmt.Errorf("tensor %q: unsupported element type %s", s.Name, s.Type)
	}
	if len(s.Shape) == 0 {
		return fmt.Errorf("tensor %q: empty shape", s.Name)
	}
	for _, d := range s.Shape {
		if d <= 0 {
			return fmt.Errorf("tensor %q: invalid dimension in %v", s.Name, s.Shape)
		}
	}
	if err := s.Quant.Valid(); err != nil {
		return fmt.Errorf("tensor %q: %w", s.Name, err)
	}
	return nil
}

type Op uint8

const (
	OpFullyConnected Op = 1
)

type Activation uint8

const (
	ActNone Activation = 0
	ActReLU Activation = 1
)

// Layer is one fully connected int8 layer. Weights are symmetric (zero point
// 0) with a single scale, stored row major as [Out][In]. Bias is int32 in the
// accumulator scale InputScale*WeightScale.
type Layer struct {
	Op          Op
	Activation  Activation
	In          int
	Out         int
	WeightScale float32
	OutQuant    quant.Params
	Weights     []int8
	Bias        []int32
}

func (l *Layer) validate() error {
	if l.Op != OpFullyConnected {
		return fmt.Errorf("unsupported op %d", l.Op)
	}
	if l.In <= 0 || l.Out <= 0 {
		return fmt.Errorf("invalid layer dims %dx%d", l.Out, l.In)
	}
	if len(l.Weights) != l.In*l.Out {
		return fmt.Errorf("weights hold %d values, want %d", len(l.Weights), l.In*l.Out)
	}
	if len(l.Bias) != l.Out {
		return fmt.Errorf("bias holds %d values, want %d", len(l.Bias), l.Out)
	}
	if err := (quant.Params{Scale: l.WeightScale}).Valid(); err != nil {
		return fmt.Errorf("weight scale: %w", err)
	}
	return l.OutQuant.Valid()
}

type Model struct {
	Version        uint32
	Task           shared.Task
	ScoreThreshold float32
	ArenaSize      int
	Inputs         []TensorSpec
	Outputs        []TensorSpec
	Layers         []Layer
}

var ErrSchemaVersion = errors.New("unsupported model schema version")

func (m *Model) Input() TensorSpec {
	return m.Inputs[0]
}

func (m *Model) Output() TensorSpec {
	return m.Outputs[0]
}

// Validate checks the tensor contracts and, when the model carries layers,
// that the layer chain connects the input to the output.
func (m *Model) Validate() error {
	if m.Version != SchemaVersion {
		return fmt.Errorf("%w: %d vs %d", ErrSchemaVersion, m.Version, SchemaVersion)
	}
	switch m.Task {
	case shared.TaskClassification, shared.TaskDetection:
	default:
		return fmt.Errorf("unknown task %q", m.Task)
	}
	if len(m.Inputs) != 1 || len(m.Outputs) != 1 {
		return fmt.Errorf("model must declare exactly one input and one output, got %d and %d", len(m.Inputs), len(m.Outputs))
	}
	for _, s := range append(append([]TensorSpec{}, m.Inputs...), m.Outputs...) {
		if err := s.validate(); err != nil {
			return err
		}
	}
	if m.Task == shared.TaskDetection {
		if m.Output().Elements()%DetectionRowWidth != 0 {
			return fmt.Errorf("detection output %v is not a multiple of %d", m.Output().Shape, DetectionRowWidth)
		}
		if _, _, _, err := m.Input().ImageDims(); err != nil {
			return err
		}
	}
	if len(m.Layers) == 0 {
		return nil
	}
	prev := m.Input().Elements()
	for i := range m.Layers {
		l := &m.Layers[i]
		if err := l.validate(); err != nil {
			return fmt.Errorf("layer %d: %w", i, err)
		}
		if l.In != prev {
			return fmt.Errorf("layer %d: takes %d inputs, previous stage yields %d", i, l.In, prev)
		}
		prev = l.Out
	}
	if prev != m.Output().Elements() {
		return fmt.Errorf("last layer yields %d values, output declares %d", prev, m.Output().Elements())
	}
	if m.Layers[len(m.Layers)-1].OutQuant != m.Output().Quant {
		return errors.New("last layer quantization does not match output tensor")
	}
	return nil
}

// DetectionRowWidth is score plus the four box coordinates.
const DetectionRowWidth = 5
