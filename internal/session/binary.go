package session

import (
	"context"
	"time"

	"edge-infer/internal/inference"
	"edge-infer/internal/payload"
	"edge-infer/internal/shared"
)

// BinaryHandler serves the raw variant: the peer sends an encoded image and
// half-closes, the session answers with the detection array and closes.
// Every failure is answered with [].
type BinaryHandler struct {
	invoker  *inference.Invoker
	decoder  payload.ImageDecoder
	format   payload.PixelFormat
	maxBytes int
	timeout  time.Duration
}

type BinaryConfig struct {
	MaxBytes int
	// Timeout bounds the whole upload.
	Timeout time.Duration
}

// NewBinaryHandler sizes the decoder from the model input. A nil decoder
// gets a StdDecoder.
func NewBinaryHandler(iv *inference.Invoker, decoder payload.ImageDecoder, cfg BinaryConfig) *BinaryHandler {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = shared.MaxImageBytes
	}
	h := &BinaryHandler{
		invoker:  iv,
		decoder:  decoder,
		format:   payload.RGB888,
		maxBytes: cfg.MaxBytes,
		timeout:  cfg.Timeout,
	}
	if m := iv.Model(); m != nil {
		if _, _, c, err := m.Input().ImageDims(); err == nil && c == 1 {
			h.format = payload.Gray8
		}
	}
	if h.decoder == nil {
		w, hgt, _ := iv.InputSize()
		h.decoder = payload.NewStdDecoder(w, hgt)
	}
	return h
}

func (h *BinaryHandler) Variant() shared.Variant {
	return shared.VariantBinary
}

func (h *BinaryHandler) CapacityHint() int {
	return shared.ImageCapacityHint
}

func (h *BinaryHandler) Handle(ctx context.Context, s *Session) {
	s.Route = RouteImage
	dets, err := h.detect(ctx, s)
	if err != nil {
		s.Fail(err)
		dets = nil
	}
	_ = s.Advance(Encoding)
	s.Detections = len(dets)
	s.Result = shared.InferenceResult{Success: err == nil, PredictedClass: -1, Detections: dets}
	if err != nil {
		s.Result.ErrorMessage = shared.PublicMessage(err)
	}
	_ = s.Send(EncodeDetections(dets))
}

func (h *BinaryHandler) Abort(s *Session, _ error) {
	_ = s.Send(EncodeDetections(nil))
}

func (h *BinaryHandler) detect(ctx context.Context, s *Session) ([]shared.Detection, error) {
	_ = s.Advance(Reading)
	data, err := ReadUntilClose(s.Acc, h.maxBytes, h.timeout)
	if err != nil {
		return nil, err
	}
	if !h.invoker.Initialized() {
		return nil, shared.ErrModelNotInitialized
	}

	_ = s.Advance(Decoding)
	img, err := h.decoder.Decode(data, h.format)
	if err != nil {
		return nil, err
	}
	s.Log.Debugw("Image decoded", "bytes", len(data), "src_width", img.SrcWidth, "src_height", img.SrcHeight)

	_ = s.Advance(Inferring)
	start := time.Now()
	dets, err := h.invoker.Detect(ctx, img)
	s.InferenceTime = time.Since(start)
	return dets, err
}
