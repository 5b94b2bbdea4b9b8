package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"edge-infer/internal/inference"
	"edge-infer/internal/payload"
	"edge-infer/internal/shared"
)

const (
	contentTypeJSON = "application/json"
	contentTypeHTML = "text/html; charset=utf-8"
)

// TextHandler serves the HTTP-like variant: a JSON body carrying a flat
// array of pixel values in, a classification document out.
type TextHandler struct {
	invoker  *inference.Invoker
	frame    FrameConfig
	field    string
	addr     string
	heapFree func() uint64
}

type TextConfig struct {
	Frame FrameConfig
	// Field is the JSON key holding the pixel array.
	Field string
	// Addr is shown on the index page.
	Addr string
}

func NewTextHandler(iv *inference.Invoker, cfg TextConfig) *TextHandler {
	if cfg.Field == "" {
		cfg.Field = shared.DefaultArrayField
	}
	return &TextHandler{
		invoker:  iv,
		frame:    cfg.Frame,
		field:    cfg.Field,
		addr:     cfg.Addr,
		heapFree: shared.HeapFree,
	}
}

func (h *TextHandler) Variant() shared.Variant {
	return shared.VariantText
}

func (h *TextHandler) CapacityHint() int {
	return shared.DefaultCapacityHint
}

func (h *TextHandler) Handle(ctx context.Context, s *Session) {
	_ = s.Advance(Reading)
	req, err := ReadTextRequest(s.Acc, h.frame)
	if err != nil {
		s.Fail(err)
		h.respond(s, statusFor(err), shared.FailedResult(err))
		return
	}
	s.Route = routeOf(req)
	s.Log.Debugw("Request framed", "request_line", shared.Truncate(req.RequestLine, shared.MaxQuotedToken*4), "route", s.Route, "content_length", req.ContentLength)

	switch s.Route {
	case RoutePredict:
		h.predict(ctx, s, req)
	case RouteStatus:
		h.status(s)
	default:
		h.index(s)
	}
}

// routeOf maps a framed request onto one of the fixed route labels.
func routeOf(req *Request) string {
	switch {
	case req.Method == http.MethodPost && req.Path == "/predict":
		return RoutePredict
	case req.Method == http.MethodGet && req.Path == "/status":
		return RouteStatus
	default:
		return RouteIndex
	}
}

func (h *TextHandler) predict(ctx context.Context, s *Session, req *Request) {
	res, err := h.classify(ctx, s, req.Body)
	if err != nil {
		s.Fail(err)
	}
	_ = s.Advance(Encoding)
	s.Result = res
	h.respond(s, http.StatusOK, res)
}

func (h *TextHandler) classify(ctx context.Context, s *Session, body []byte) (shared.InferenceResult, error) {
	if !h.invoker.Initialized() {
		return shared.FailedResult(shared.ErrModelNotInitialized), shared.ErrModelNotInitialized
	}
	_ = s.Advance(Decoding)
	pixels, err := payload.ParseUint8Array(body, h.field, h.invoker.Model().Input().Elements())
	if err != nil {
		return shared.FailedResult(err), err
	}

	_ = s.Advance(Inferring)
	start := time.Now()
	res, err := h.invoker.Classify(ctx, pixels)
	s.InferenceTime = time.Since(start)
	if err == nil {
		s.Log.Debugw("Classified", "class", res.PredictedClass, "confidence", res.Confidence, "duration", s.InferenceTime.String())
	}
	return res, err
}

func (h *TextHandler) status(s *Session) {
	_ = s.Advance(Encoding)
	res := shared.InferenceResult{Success: h.invoker.Initialized(), PredictedClass: -1}
	if !res.Success {
		res.ErrorMessage = shared.ErrModelNotInitialized.Message()
	}
	s.Result = res
	h.respond(s, http.StatusOK, res)
}

func (h *TextHandler) index(s *Session) {
	_ = s.Advance(Encoding)
	s.Result = shared.InferenceResult{Success: true, PredictedClass: -1}
	page := fmt.Sprintf(`<!DOCTYPE html>
<html><head><title>edge-infer</title></head>
<body>
<h1>edge-infer</h1>
<p>Listening on %s</p>
<ul>
<li>POST /predict with {"%s":[...%d values...]}</li>
<li>GET /status</li>
</ul>
</body></html>
`, h.addr, h.field, h.inputElements())
	h.send(s, http.StatusOK, contentTypeHTML, []byte(page))
}

func (h *TextHandler) inputElements() int {
	if m := h.invoker.Model(); m != nil {
		return m.Input().Elements()
	}
	return 0
}

func (h *TextHandler) Abort(s *Session, err error) {
	h.respond(s, http.StatusInternalServerError, shared.FailedResult(err))
}

func (h *TextHandler) respond(s *Session, status int, res shared.InferenceResult) {
	body := EncodeClassification(res, h.heapFree(), h.invoker.Initialized())
	h.send(s, status, contentTypeJSON, body)
}

func (h *TextHandler) send(s *Session, status int, contentType string, body []byte) {
	s.LogValues.StatusCode = status
	_ = s.Send(HTTPResponse(status, contentType, body))
}

// statusFor maps a framing or transport failure to the HTTP status sent back.
// Errors raised after the request was framed are answered with 200 and an
// error shaped document instead.
func statusFor(err error) int {
	var ierr *shared.InferError
	if errors.As(err, &ierr) && ierr.StatusCode >= 400 {
		return ierr.StatusCode
	}
	return http.StatusBadRequest
}
