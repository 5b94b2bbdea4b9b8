// Package inference drives one forward pass: quantize the request payload into
// the engine input, invoke the engine and reduce its output.
package inference

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"edge-infer/internal/engine"
	"edge-infer/internal/metrics"
	"edge-infer/internal/model"
	"edge-infer/internal/payload"
	"edge-infer/internal/quant"
	"edge-infer/internal/shared"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Invoker owns the engine and with it the arena. Only one pass runs at a
// time; the semaphore makes that explicit for callers outside the session
// loop.
type Invoker struct {
	engine engine.Engine
	model  *model.Model
	sem    *semaphore.Weighted
	log    *zap.SugaredLogger
}

type Status struct {
	Initialized   bool        `json:"model_initialized"`
	Task          shared.Task `json:"task"`
	InputElements int         `json:"input_elements"`
	ArenaUsed     int         `json:"arena_used"`
	ArenaCapacity int         `json:"arena_capacity"`
}

func NewInvoker(e engine.Engine, m *model.Model, log *zap.SugaredLogger) *Invoker {
	iv := &Invoker{
		engine: e,
		model:  m,
		sem:    semaphore.NewWeighted(1),
		log:    log,
	}
	if e != nil {
		metrics.ArenaUsed.Set(float64(e.ArenaUsed()))
		metrics.ModelInitialized.Set(1)
		log.Infow("Model initialized",
			"task", m.Task,
			"input", m.Input().Shape,
			"output", m.Output().Shape,
			"arena_used", e.ArenaUsed(),
			"arena_capacity", e.ArenaCap())
	}
	return iv
}

func (iv *Invoker) Initialized() bool {
	return iv != nil && iv.engine != nil
}

func (iv *Invoker) Model() *model.Model {
	if iv == nil {
		return nil
	}
	return iv.model
}

func (iv *Invoker) Status() Status {
	if !iv.Initialized() {
		return Status{}
	}
	return Status{
		Initialized:   true,
		Task:          iv.model.Task,
		InputElements: iv.model.Input().Elements(),
		ArenaUsed:     iv.engine.ArenaUsed(),
		ArenaCapacity: iv.engine.ArenaCap(),
	}
}

// InputSize returns the width and height an image must be resized to.
func (iv *Invoker) InputSize() (int, int, error) {
	if iv.model == nil {
		return 0, 0, shared.ErrModelNotInitialized
	}
	h, w, _, err := iv.model.Input().ImageDims()
	return w, h, err
}

// Classify runs pixels through a classification model. The returned result is
// error shaped whenever err is not nil.
func (iv *Invoker) Classify(ctx context.Context, pixels []byte) (shared.InferenceResult, error) {
	if err := iv.expect(shared.TaskClassification); err != nil {
		return shared.FailedResult(err), err
	}
	var res shared.InferenceResult
	err := iv.run(ctx, pixels, func(out *model.Tensor) {
		res = Classify(out)
	})
	if err != nil {
		return shared.FailedResult(err), err
	}
	metrics.PredictedClass.WithLabelValues(strconv.Itoa(res.PredictedClass)).Inc()
	return res, nil
}

// Detect runs a decoded image through a detection model and returns the
// engine's candidates in their native order.
func (iv *Invoker) Detect(ctx context.Context, img *payload.Image) ([]shared.Detection, error) {
	if err := iv.expect(shared.TaskDetection); err != nil {
		return nil, err
	}
	var dets []shared.Detection
	err := iv.run(ctx, img.Pix, func(out *model.Tensor) {
		dets = engine.Candidates(out, iv.model.ScoreThreshold, img.SrcWidth, img.SrcHeight)
	})
	if err != nil {
		return nil, err
	}
	metrics.Detections.Observe(float64(len(dets)))
	return dets, nil
}

func (iv *Invoker) Close() error {
	if !iv.Initialized() {
		return nil
	}
	metrics.ModelInitialized.Set(0)
	return iv.engine.Close()
}

func (iv *Invoker) expect(task shared.Task) error {
	if !iv.Initialized() {
		return shared.ErrModelNotInitialized
	}
	if iv.model.Task != task {
		return shared.ModelError(fmt.Errorf("model performs %s, not %s", iv.model.Task, task))
	}
	return nil
}

func (iv *Invoker) run(ctx context.Context, data []byte, reduce func(*model.Tensor)) (err error) {
	if err := iv.sem.Acquire(ctx, 1); err != nil {
		return shared.IOError(fmt.Errorf("waiting for engine: %w", err))
	}
	defer iv.sem.Release(1)

	in := iv.engine.Input()
	if err := quant.QuantizeInto(in, data, in.Spec.Quant); err != nil {
		return shared.ValidationError(err)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", shared.ErrInferenceFailed, r)
		}
	}()
	start := time.Now()
	if err := iv.engine.Invoke(); err != nil {
		return fmt.Errorf("%w: %w", shared.ErrInferenceFailed, err)
	}
	metrics.InferenceDuration.WithLabelValues(string(iv.model.Task)).Observe(time.Since(start).Seconds())
	reduce(iv.engine.Output())
	return nil
}
