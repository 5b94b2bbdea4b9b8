// Command modelgen writes a deterministic fully connected model blob so the
// server can run without an exported network.
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"edge-infer/internal/model"
	"edge-infer/internal/quant"
	"edge-infer/internal/shared"

	"github.com/manifold-inc/manifold-sdk/lib/eflag"
	"go.uber.org/zap"
)

func main() {
	task := flag.String("task", string(shared.TaskClassification), "classification or detection")
	out := flag.String("out", "model.eimf", "Output path")
	size := flag.Int("size", 32, "Input width and height")
	channels := flag.Int("channels", 3, "Input channels")
	classes := flag.Int("classes", 10, "Classes for classification")
	boxes := flag.Int("boxes", 10, "Candidate rows for detection")
	hidden := flag.String("hidden", "64", "Comma separated hidden layer widths")
	threshold := flag.Float64("score-threshold", 0.5, "Detection score threshold")
	seed := flag.Uint64("seed", 1, "Weight seed")
	err := eflag.SetFlagsFromEnvironment()
	if err != nil {
		panic(err)
	}
	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		panic("Failed init logger")
	}
	log := logger.Sugar()

	widths, err := parseWidths(*hidden)
	if err != nil {
		log.Fatalw("Invalid -hidden", "error", err)
	}
	cfg, err := denseConfig(shared.Task(*task), *size, *channels, *classes, *boxes, widths)
	if err != nil {
		log.Fatalw("Invalid model shape", "error", err)
	}
	cfg.Seed = *seed
	cfg.ScoreThreshold = float32(*threshold)

	m, err := model.BuildDense(cfg)
	if err != nil {
		log.Fatalw("Failed building model", "error", err)
	}
	blob, err := model.Encode(m)
	if err != nil {
		log.Fatalw("Failed encoding model", "error", err)
	}
	if err := os.WriteFile(*out, blob, 0o644); err != nil {
		log.Fatalw("Failed writing model", "error", err)
	}
	log.Infow("Model written", "path", *out, "task", m.Task, "input", m.Input().Shape, "output", m.Output().Shape, "bytes", len(blob))
}

func parseWidths(s string) ([]int, error) {
	var widths []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		w, err := strconv.Atoi(part)
		if err != nil {
			return nil, err
		}
		widths = append(widths, w)
	}
	return widths, nil
}

func denseConfig(task shared.Task, size, channels, classes, boxes int, hidden []int) (model.DenseConfig, error) {
	cfg := model.DenseConfig{
		Task:   task,
		Input:  model.TensorSpec{Name: "input", Shape: []int{1, size, size, channels}, Quant: quant.Params{Scale: 1.0 / 255.0, ZeroPoint: -128}},
		Hidden: hidden,
	}
	switch task {
	case shared.TaskClassification:
		cfg.Output = model.TensorSpec{Name: "output", Shape: []int{1, classes}, Quant: quant.Params{Scale: 1.0 / 256.0, ZeroPoint: -128}}
	case shared.TaskDetection:
		cfg.Output = model.TensorSpec{Name: "output", Shape: []int{1, boxes, model.DetectionRowWidth}, Quant: quant.Params{Scale: 1.0 / 256.0, ZeroPoint: -128}}
	default:
		return cfg, fmt.Errorf("unknown task %q", task)
	}
	return cfg, nil
}
