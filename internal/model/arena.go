package model

import (
	"errors"
	"fmt"
)

// DefaultArenaSize matches the 150 KiB budget the classifier was sized for.
const DefaultArenaSize = 150 * 1024

const arenaAlign = 16

var ErrArenaExhausted = errors.New("arena exhausted")

// Arena is a fixed region the engine carves tensor buffers from. It is sized
// once and never grows; an allocation that does not fit fails.
type Arena struct {
	buf  []byte
	used int
}

func NewArena(capacity int) *Arena {
	return &Arena{buf: make([]byte, capacity)}
}

func (a *Arena) Alloc(n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("arena: negative allocation %d", n)
	}
	start := (a.used + arenaAlign - 1) &^ (arenaAlign - 1)
	if start+n > len(a.buf) {
		return nil, fmt.Errorf("%w: need %d bytes, %d of %d in use", ErrArenaExhausted, n, a.used, len(a.buf))
	}
	a.used = start + n
	return a.buf[start : start+n : start+n], nil
}

func (a *Arena) Used() int {
	return a.used
}

func (a *Arena) Cap() int {
	return len(a.buf)
}

// Tensor is an int8 view over arena memory.
type Tensor struct {
	Spec TensorSpec
	buf  []byte
}

func NewTensor(a *Arena, spec TensorSpec) (*Tensor, error) {
	buf, err := a.Alloc(spec.Elements())
	if err != nil {
		return nil, fmt.Errorf("tensor %q: %w", spec.Name, err)
	}
	return &Tensor{Spec: spec, buf: buf}, nil
}

func (t *Tensor) Len() int {
	return len(t.buf)
}

func (t *Tensor) At(i int) int8 {
	return int8(t.buf[i])
}

func (t *Tensor) Set(i int, v int8) {
	t.buf[i] = byte(v)
}

// CopyTo writes the tensor into dst and returns the number of values copied.
func (t *Tensor) CopyTo(dst []int8) int {
	n := min(len(dst), len(t.buf))
	for i := range n {
		dst[i] = int8(t.buf[i])
	}
	return n
}

func (t *Tensor) CopyFrom(src []int8) int {
	n := min(len(src), len(t.buf))
	for i := range n {
		t.buf[i] = byte(src[i])
	}
	return n
}

// Values returns a copy of the tensor contents.
func (t *Tensor) Values() []int8 {
	out := make([]int8, len(t.buf))
	t.CopyTo(out)
	return out
}
