// Package engine runs a compiled model graph. The rest of the service treats
// an Engine as opaque: fill Input, call Invoke, read Output.
package engine

import (
	"errors"

	"edge-infer/internal/model"
)

type Engine interface {
	Input() *model.Tensor
	Output() *model.Tensor
	// Invoke runs one synchronous forward pass. Callers must not overlap calls.
	Invoke() error
	ArenaUsed() int
	ArenaCap() int
	Close() error
}

var ErrClosed = errors.New("engine closed")

func arenaSize(m *model.Model, fallback int) int {
	if m.ArenaSize > 0 {
		return m.ArenaSize
	}
	if fallback > 0 {
		return fallback
	}
	return model.DefaultArenaSize
}
