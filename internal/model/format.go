package model

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"edge-infer/internal/quant"
	"edge-infer/internal/shared"
)

// Blob layout, little endian:
//
//	magic "EIMF" | declared length uint32 | version uint32 | task uint8 |
//	score threshold float32 | arena size uint32 |
//	inputs uint8 + specs | outputs uint8 + specs | layers uint16 + layers
//
// The declared length counts every byte after the length field.
var magic = [4]byte{'E', 'I', 'M', 'F'}

const headerLen = 8

var (
	ErrBadMagic  = errors.New("not a model blob")
	ErrTruncated = errors.New("model blob shorter than declared length")
)

var taskCodes = map[shared.Task]uint8{
	shared.TaskClassification: 0,
	shared.TaskDetection:      1,
}

// Parse decodes and validates a model blob.
func Parse(blob []byte) (*Model, error) {
	if len(blob) < headerLen || !bytes.Equal(blob[:4], magic[:]) {
		return nil, ErrBadMagic
	}
	declared := binary.LittleEndian.Uint32(blob[4:8])
	if uint64(len(blob)-headerLen) < uint64(declared) {
		return nil, fmt.Errorf("%w: %d < %d", ErrTruncated, len(blob)-headerLen, declared)
	}
	r := &reader{r: bytes.NewReader(blob[headerLen : headerLen+int(declared)])}

	m := &Model{}
	m.Version = r.u32()
	taskCode := r.u8()
	m.ScoreThreshold = r.f32()
	m.ArenaSize = int(r.u32())
	for task, code := range taskCodes {
		if code == taskCode {
			m.Task = task
		}
	}
	if m.Task == "" && r.err == nil {
		return nil, fmt.Errorf("unknown task code %d", taskCode)
	}

	m.Inputs = make([]TensorSpec, r.u8())
	for i := range m.Inputs {
		m.Inputs[i] = r.spec()
	}
	m.Outputs = make([]TensorSpec, r.u8())
	for i := range m.Outputs {
		m.Outputs[i] = r.spec()
	}
	nLayers := r.u16()
	if r.err != nil {
		return nil, fmt.Errorf("model header: %w", r.err)
	}
	m.Layers = make([]Layer, nLayers)
	for i := range m.Layers {
		m.Layers[i] = r.layer()
		if r.err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, r.err)
		}
	}
	if r.err != nil {
		return nil, r.err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

type reader struct {
	r   *bytes.Reader
	err error
}

func (r *reader) read(v any) {
	if r.err != nil {
		return
	}
	if err := binary.Read(r.r, binary.LittleEndian, v); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			err = ErrTruncated
		}
		r.err = err
	}
}

func (r *reader) u8() uint8 {
	var v uint8
	r.read(&v)
	return v
}

func (r *reader) u16() uint16 {
	var v uint16
	r.read(&v)
	return v
}

func (r *reader) u32() uint32 {
	var v uint32
	r.read(&v)
	return v
}

func (r *reader) i32() int32 {
	var v int32
	r.read(&v)
	return v
}

func (r *reader) f32() float32 {
	var v float32
	r.read(&v)
	return v
}

func (r *reader) quant() quant.Params {
	return quant.Params{Scale: r.f32(), ZeroPoint: r.i32()}
}

func (r *reader) spec() TensorSpec {
	name := make([]byte, r.u8())
	r.read(name)
	s := TensorSpec{Name: string(name), Type: ElemType(r.u8())}
	s.Shape = make([]int, r.u8())
	for i := range s.Shape {
		s.Shape[i] = int(r.i32())
	}
	s.Quant = r.quant()
	return s
}

func (r *reader) layer() Layer {
	l := Layer{
		Op:         Op(r.u8()),
		Activation: Activation(r.u8()),
		In:         int(r.u32()),
		Out:        int(r.u32()),
	}
	l.WeightScale = r.f32()
	l.OutQuant = r.quant()
	if r.err != nil {
		return l
	}
	// Refuse sizes the remaining blob cannot hold before allocating them.
	need := int64(l.In)*int64(l.Out) + 4*int64(l.Out)
	if need > int64(r.r.Len()) {
		r.err = ErrTruncated
		return l
	}
	l.Weights = make([]int8, l.In*l.Out)
	r.read(l.Weights)
	l.Bias = make([]int32, l.Out)
	r.read(l.Bias)
	return l
}

// Encode serializes m into a blob Parse accepts.
func Encode(m *Model) ([]byte, error) {
	code, ok := taskCodes[m.Task]
	if !ok {
		return nil, fmt.Errorf("unknown task %q", m.Task)
	}
	var body bytes.Buffer
	w := func(v any) {
		_ = binary.Write(&body, binary.LittleEndian, v)
	}
	w(m.Version)
	w(code)
	w(m.ScoreThreshold)
	w(uint32(m.ArenaSize))
	writeSpecs := func(specs []TensorSpec) {
		w(uint8(len(specs)))
		for _, s := range specs {
			w(uint8(len(s.Name)))
			body.WriteString(s.Name)
			w(uint8(s.Type))
			w(uint8(len(s.Shape)))
			for _, d := range s.Shape {
				w(int32(d))
			}
			w(s.Quant.Scale)
			w(s.Quant.ZeroPoint)
		}
	}
	writeSpecs(m.Inputs)
	writeSpecs(m.Outputs)
	w(uint16(len(m.Layers)))
	for _, l := range m.Layers {
		w(uint8(l.Op))
		w(uint8(l.Activation))
		w(uint32(l.In))
		w(uint32(l.Out))
		w(l.WeightScale)
		w(l.OutQuant.Scale)
		w(l.OutQuant.ZeroPoint)
		w(l.Weights)
		w(l.Bias)
	}

	out := make([]byte, headerLen, headerLen+body.Len())
	copy(out, magic[:])
	binary.LittleEndian.PutUint32(out[4:8], uint32(body.Len()))
	return append(out, body.Bytes()...), nil
}
