package model

import (
	"encoding/json"
	"fmt"
	"os"

	"edge-infer/internal/quant"
	"edge-infer/internal/shared"
)

// LoadFile reads a model blob from persistent storage.
func LoadFile(path string) (*Model, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model: %w", err)
	}
	m, err := Parse(blob)
	if err != nil {
		return nil, fmt.Errorf("failed to parse model %s: %w", path, err)
	}
	return m, nil
}

// Metadata describes a model whose graph lives outside the blob format, such
// as an ONNX file. The engine adapter reads the graph, the session pipeline
// only needs the tensor contracts below.
type Metadata struct {
	Task           shared.Task  `json:"task"`
	InputName      string       `json:"input_name"`
	OutputName     string       `json:"output_name"`
	InputShape     []int        `json:"input_shape"`
	OutputShape    []int        `json:"output_shape"`
	InputQuant     quant.Params `json:"input_quant"`
	OutputQuant    quant.Params `json:"output_quant"`
	ScoreThreshold float32      `json:"score_threshold"`
	ArenaSize      int          `json:"arena_size"`
	Classes        []string     `json:"classes,omitempty"`
}

func LoadMetadata(path string) (*Model, error) {
	metaFile, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}
	var meta Metadata
	if err := json.Unmarshal(metaFile, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse metadata: %w", err)
	}
	return FromMetadata(meta)
}

func FromMetadata(meta Metadata) (*Model, error) {
	inName, outName := meta.InputName, meta.OutputName
	if inName == "" {
		inName = "input"
	}
	if outName == "" {
		outName = "output"
	}
	m := &Model{
		Version:        SchemaVersion,
		Task:           meta.Task,
		ScoreThreshold: meta.ScoreThreshold,
		ArenaSize:      meta.ArenaSize,
		Inputs:         []TensorSpec{{Name: inName, Shape: meta.InputShape, Quant: meta.InputQuant, Type: Int8}},
		Outputs:        []TensorSpec{{Name: outName, Shape: meta.OutputShape, Quant: meta.OutputQuant, Type: Int8}},
	}
	if m.Task == "" {
		m.Task = shared.TaskClassification
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}
