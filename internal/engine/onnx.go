package engine

import (
	"fmt"

	"edge-infer/internal/model"

	ort "github.com/yalue/onnxruntime_go"
)

// ONNX runs a quantized ONNX graph through onnxruntime. The runtime owns its
// tensor memory, so the arena holds the int8 views the pipeline reads and
// writes, and Invoke copies across.
type ONNX struct {
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[int8]
	outputTensor *ort.Tensor[int8]
	arena        *model.Arena
	input        *model.Tensor
	output       *model.Tensor
}

func NewONNX(libPath, modelPath string, m *model.Model, arenaBytes int) (*ONNX, error) {
	if libPath != "" {
		ort.SetSharedLibraryPath(libPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}

	o := &ONNX{arena: model.NewArena(arenaSize(m, arenaBytes))}
	var err error
	if o.input, err = model.NewTensor(o.arena, m.Input()); err != nil {
		o.Close()
		return nil, err
	}
	if o.output, err = model.NewTensor(o.arena, m.Output()); err != nil {
		o.Close()
		return nil, err
	}

	o.inputTensor, err = ort.NewEmptyTensor[int8](shape(m.Input()))
	if err != nil {
		o.Close()
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	o.outputTensor, err = ort.NewEmptyTensor[int8](shape(m.Output()))
	if err != nil {
		o.Close()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	o.session, err = ort.NewAdvancedSession(modelPath,
		[]string{m.Input().Name}, []string{m.Output().Name},
		[]ort.ArbitraryTensor{o.inputTensor}, []ort.ArbitraryTensor{o.outputTensor},
		nil)
	if err != nil {
		o.Close()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}
	return o, nil
}

func shape(s model.TensorSpec) ort.Shape {
	dims := make([]int64, len(s.Shape))
	for i, d := range s.Shape {
		dims[i] = int64(d)
	}
	return ort.NewShape(dims...)
}

func (o *ONNX) Input() *model.Tensor  { return o.input }
func (o *ONNX) Output() *model.Tensor { return o.output }
func (o *ONNX) ArenaUsed() int        { return o.arena.Used() }
func (o *ONNX) ArenaCap() int         { return o.arena.Cap() }

func (o *ONNX) Invoke() error {
	if o.session == nil {
		return ErrClosed
	}
	o.input.CopyTo(o.inputTensor.GetData())
	if err := o.session.Run(); err != nil {
		return fmt.Errorf("inference failed: %w", err)
	}
	o.output.CopyFrom(o.outputTensor.GetData())
	return nil
}

func (o *ONNX) Close() error {
	if o.inputTensor != nil {
		o.inputTensor.Destroy()
		o.inputTensor = nil
	}
	if o.outputTensor != nil {
		o.outputTensor.Destroy()
		o.outputTensor = nil
	}
	if o.session != nil {
		o.session.Destroy()
		o.session = nil
	}
	return ort.DestroyEnvironment()
}
