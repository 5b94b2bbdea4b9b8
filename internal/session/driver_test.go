package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"edge-infer/internal/engine"
	"edge-infer/internal/inference"
	"edge-infer/internal/model"
	"edge-infer/internal/quant"
	"edge-infer/internal/shared"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingSink struct {
	mu      sync.Mutex
	records []*shared.ResultRecord
}

func (r *recordingSink) Record(rec *shared.ResultRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
}

func (r *recordingSink) last() *shared.ResultRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.records) == 0 {
		return nil
	}
	return r.records[len(r.records)-1]
}

func classifierInvoker(t *testing.T) *inference.Invoker {
	t.Helper()
	m, err := model.BuildDense(model.DenseConfig{
		Task:   shared.TaskClassification,
		Input:  model.TensorSpec{Name: "input", Shape: []int{1, 32, 32, 3}, Quant: quant.Params{Scale: 1.0 / 255.0, ZeroPoint: -128}},
		Output: model.TensorSpec{Name: "output", Shape: []int{1, 10}, Quant: quant.Params{Scale: 1.0 / 256.0, ZeroPoint: -128}},
		Hidden: []int{16},
		Seed:   7,
	})
	require.NoError(t, err)
	it, err := engine.NewInterpreter(m, 0)
	require.NoError(t, err)
	return inference.NewInvoker(it, m, zap.NewNop().Sugar())
}

func detectorInvoker(t *testing.T) *inference.Invoker {
	t.Helper()
	m, err := model.BuildDense(model.DenseConfig{
		Task:           shared.TaskDetection,
		Input:          model.TensorSpec{Name: "input", Shape: []int{1, 8, 8, 3}, Quant: quant.Params{Scale: 1.0 / 255.0, ZeroPoint: -128}},
		Output:         model.TensorSpec{Name: "output", Shape: []int{1, 4, 5}, Quant: quant.Params{Scale: 1.0 / 256.0, ZeroPoint: -128}},
		Seed:           11,
		ScoreThreshold: 0.3,
	})
	require.NoError(t, err)
	it, err := engine.NewInterpreter(m, 0)
	require.NoError(t, err)
	return inference.NewInvoker(it, m, zap.NewNop().Sugar())
}

// serve runs a driver on a loopback listener until the test ends.
func serve(t *testing.T, h Handler, sinks ...Sink) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	cfg := DefaultDriverConfig()
	cfg.Sinks = sinks
	d := NewDriver(h, cfg, zap.NewNop().Sugar())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("driver did not stop")
		}
	})
	return ln.Addr().String()
}

func exchange(t *testing.T, addr string, request []byte, halfClose bool) []byte {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(10*time.Second)))

	_, err = conn.Write(request)
	require.NoError(t, err)
	if halfClose {
		require.NoError(t, conn.(*net.TCPConn).CloseWrite())
	}
	resp, err := io.ReadAll(conn)
	require.NoError(t, err)
	return resp
}

func textRequest(method, path, body string) []byte {
	return []byte(fmt.Sprintf("%s %s HTTP/1.1\r\nHost: test\r\nContent-Length: %d\r\n\r\n%s", method, path, len(body), body))
}

func pixelBody(n int, value string) string {
	vals := make([]string, n)
	for i := range vals {
		vals[i] = value
	}
	return `{"pixels":[` + strings.Join(vals, ",") + `]}`
}

func splitResponse(t *testing.T, resp []byte) (string, []byte) {
	t.Helper()
	head, body, ok := bytes.Cut(resp, []byte("\r\n\r\n"))
	require.True(t, ok, "no header terminator in %q", resp)
	status, _, _ := strings.Cut(string(head), "\r\n")
	return status, body
}

type classificationReply struct {
	Success          bool    `json:"success"`
	PredictedClass   int     `json:"predicted_class"`
	Confidence       float64 `json:"confidence"`
	ErrorMessage     string  `json:"error_message"`
	HeapFree         uint64  `json:"heap_free"`
	ModelInitialized bool    `json:"model_initialized"`
}

func TestTextPredict(t *testing.T) {
	sink := &recordingSink{}
	addr := serve(t, NewTextHandler(classifierInvoker(t), TextConfig{Frame: DefaultFrameConfig()}), sink)

	resp := exchange(t, addr, textRequest("POST", "/predict", pixelBody(3072, "255")), false)
	status, body := splitResponse(t, resp)
	assert.Equal(t, "HTTP/1.1 200 OK", status)

	var reply classificationReply
	require.NoError(t, json.Unmarshal(body, &reply))
	assert.True(t, reply.Success)
	assert.True(t, reply.ModelInitialized)
	assert.GreaterOrEqual(t, reply.PredictedClass, 0)
	assert.Less(t, reply.PredictedClass, 10)
	assert.Empty(t, reply.ErrorMessage)

	require.Eventually(t, func() bool { return sink.last() != nil }, time.Second, 10*time.Millisecond)
	rec := sink.last()
	assert.True(t, rec.Success)
	assert.Equal(t, RoutePredict, rec.Route)
	assert.Equal(t, reply.PredictedClass, rec.PredictedClass)
}

func TestTextPredictWrongCount(t *testing.T) {
	addr := serve(t, NewTextHandler(classifierInvoker(t), TextConfig{Frame: DefaultFrameConfig()}))

	resp := exchange(t, addr, textRequest("POST", "/predict", pixelBody(3071, "1")), false)
	status, body := splitResponse(t, resp)
	assert.Equal(t, "HTTP/1.1 200 OK", status)

	var reply classificationReply
	require.NoError(t, json.Unmarshal(body, &reply))
	assert.False(t, reply.Success)
	assert.Equal(t, -1, reply.PredictedClass)
	assert.Equal(t, "array must have 3072 values, got 3071", reply.ErrorMessage)
}

func TestTextRejectsOversizedBody(t *testing.T) {
	addr := serve(t, NewTextHandler(classifierInvoker(t), TextConfig{Frame: DefaultFrameConfig()}))

	resp := exchange(t, addr, []byte("POST /predict HTTP/1.1\r\nContent-Length: 50001\r\n\r\n"), false)
	status, body := splitResponse(t, resp)
	assert.Equal(t, "HTTP/1.1 413 Request Entity Too Large", status)

	var reply classificationReply
	require.NoError(t, json.Unmarshal(body, &reply))
	assert.False(t, reply.Success)
	assert.Equal(t, "declared content length exceeds limit", reply.ErrorMessage)
}

func TestTextStatusAndIndex(t *testing.T) {
	addr := serve(t, NewTextHandler(classifierInvoker(t), TextConfig{Frame: DefaultFrameConfig(), Addr: "edge:8080"}))

	status, body := splitResponse(t, exchange(t, addr, textRequest("GET", "/status", ""), false))
	assert.Equal(t, "HTTP/1.1 200 OK", status)
	var reply classificationReply
	require.NoError(t, json.Unmarshal(body, &reply))
	assert.True(t, reply.Success)
	assert.True(t, reply.ModelInitialized)

	status, body = splitResponse(t, exchange(t, addr, textRequest("GET", "/", ""), false))
	assert.Equal(t, "HTTP/1.1 200 OK", status)
	assert.Contains(t, string(body), "POST /predict")
	assert.Contains(t, string(body), "edge:8080")
}

func TestTextModelNotInitialized(t *testing.T) {
	iv := inference.NewInvoker(nil, nil, zap.NewNop().Sugar())
	addr := serve(t, NewTextHandler(iv, TextConfig{Frame: DefaultFrameConfig()}))

	_, body := splitResponse(t, exchange(t, addr, textRequest("POST", "/predict", pixelBody(4, "1")), false))
	var reply classificationReply
	require.NoError(t, json.Unmarshal(body, &reply))
	assert.False(t, reply.Success)
	assert.False(t, reply.ModelInitialized)
	assert.Equal(t, "model not initialized", reply.ErrorMessage)
}

func TestTextServesSessionsInSequence(t *testing.T) {
	addr := serve(t, NewTextHandler(classifierInvoker(t), TextConfig{Frame: DefaultFrameConfig()}))
	body := pixelBody(3072, "128")

	var first classificationReply
	for i := 0; i < 3; i++ {
		_, raw := splitResponse(t, exchange(t, addr, textRequest("POST", "/predict", body), false))
		var reply classificationReply
		require.NoError(t, json.Unmarshal(raw, &reply))
		require.True(t, reply.Success)
		if i == 0 {
			first = reply
			continue
		}
		assert.Equal(t, first.PredictedClass, reply.PredictedClass)
		assert.Equal(t, first.Confidence, reply.Confidence)
	}
}

func TestBinaryGarbageYieldsEmptyArray(t *testing.T) {
	sink := &recordingSink{}
	addr := serve(t, NewBinaryHandler(detectorInvoker(t), nil, BinaryConfig{Timeout: 5 * time.Second}), sink)

	resp := exchange(t, addr, []byte("definitely not an image"), true)
	assert.Equal(t, "[]", string(resp))

	require.Eventually(t, func() bool { return sink.last() != nil }, time.Second, 10*time.Millisecond)
	assert.Equal(t, "decode_error", sink.last().ErrorKind)
}

func TestBinaryTooLarge(t *testing.T) {
	addr := serve(t, NewBinaryHandler(detectorInvoker(t), nil, BinaryConfig{MaxBytes: 16, Timeout: 5 * time.Second}))

	resp := exchange(t, addr, bytes.Repeat([]byte{1}, 17), true)
	assert.Equal(t, "[]", string(resp))
}

func TestBinaryDetect(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for y := 0; y < 48; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 4), G: uint8(y * 5), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	sink := &recordingSink{}
	addr := serve(t, NewBinaryHandler(detectorInvoker(t), nil, BinaryConfig{Timeout: 5 * time.Second}), sink)

	resp := exchange(t, addr, buf.Bytes(), true)
	var dets []struct {
		Score float64 `json:"score"`
		Box   [4]int  `json:"box"`
	}
	require.NoError(t, json.Unmarshal(resp, &dets))
	for _, d := range dets {
		assert.GreaterOrEqual(t, d.Score, 0.3)
		assert.LessOrEqual(t, d.Box[2], 64)
		assert.LessOrEqual(t, d.Box[3], 48)
	}

	require.Eventually(t, func() bool { return sink.last() != nil }, time.Second, 10*time.Millisecond)
	assert.True(t, sink.last().Success)
	assert.Equal(t, len(dets), sink.last().Detections)
}

// panicking wraps a real handler and panics in place of handling.
type panicking struct {
	Handler
	afterWrite bool
}

func (p panicking) Handle(_ context.Context, s *Session) {
	if p.afterWrite {
		_ = s.Send([]byte("partial"))
	}
	panic("boom")
}

func TestDriverRecoversBinaryPanicWithEmptyArray(t *testing.T) {
	conn := newScriptedConn(io.EOF)
	sink := &recordingSink{}
	h := panicking{Handler: NewBinaryHandler(detectorInvoker(t), nil, BinaryConfig{})}
	d := NewDriver(h, DriverConfig{Sinks: []Sink{sink}}, zap.NewNop().Sugar())

	d.ServeConn(context.Background(), conn, "pipe")
	assert.True(t, conn.closed)
	assert.Equal(t, "[]", conn.out.String())
	require.NotNil(t, sink.last())
	assert.Equal(t, "io_error", sink.last().ErrorKind)
}

func TestDriverRecoversTextPanicWith500(t *testing.T) {
	conn := newScriptedConn(io.EOF)
	h := panicking{Handler: NewTextHandler(classifierInvoker(t), TextConfig{Frame: DefaultFrameConfig()})}
	d := NewDriver(h, DriverConfig{}, zap.NewNop().Sugar())

	d.ServeConn(context.Background(), conn, "pipe")
	status, body := splitResponse(t, conn.out.Bytes())
	assert.Equal(t, "HTTP/1.1 500 Internal Server Error", status)

	var reply classificationReply
	require.NoError(t, json.Unmarshal(body, &reply))
	assert.False(t, reply.Success)
	assert.Equal(t, "internal error", reply.ErrorMessage)
}

func TestDriverPanicAfterWriteSendsNothingMore(t *testing.T) {
	conn := newScriptedConn(io.EOF)
	h := panicking{Handler: NewBinaryHandler(detectorInvoker(t), nil, BinaryConfig{}), afterWrite: true}
	d := NewDriver(h, DriverConfig{}, zap.NewNop().Sugar())

	d.ServeConn(context.Background(), conn, "pipe")
	assert.Equal(t, "partial", conn.out.String())
	assert.True(t, conn.closed)
}

func TestTextRouteLabelsAreFixed(t *testing.T) {
	sink := &recordingSink{}
	addr := serve(t, NewTextHandler(classifierInvoker(t), TextConfig{Frame: DefaultFrameConfig()}), sink)

	for i := 0; i < 5; i++ {
		exchange(t, addr, textRequest("GET", fmt.Sprintf("/x%d?q=%d", i, i), ""), false)
	}
	exchange(t, addr, textRequest("DELETE", "/predict", ""), false)
	exchange(t, addr, []byte("garbage\r\n"), true)

	require.Eventually(t, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return len(sink.records) == 7
	}, time.Second, 10*time.Millisecond)
	sink.mu.Lock()
	defer sink.mu.Unlock()
	for _, rec := range sink.records[:6] {
		assert.Equal(t, RouteIndex, rec.Route)
	}
	assert.Equal(t, RouteNone, sink.records[6].Route)
}

func TestTextStatusRecordedAsSuccess(t *testing.T) {
	sink := &recordingSink{}
	addr := serve(t, NewTextHandler(classifierInvoker(t), TextConfig{Frame: DefaultFrameConfig()}), sink)

	exchange(t, addr, textRequest("GET", "/status", ""), false)
	require.Eventually(t, func() bool { return sink.last() != nil }, time.Second, 10*time.Millisecond)
	assert.Equal(t, RouteStatus, sink.last().Route)
	assert.True(t, sink.last().Success)
	assert.Empty(t, sink.last().ErrorKind)
}

func TestNextBackoff(t *testing.T) {
	assert.Equal(t, shared.AcceptBackoffStart, nextBackoff(0))
	assert.Equal(t, 2*shared.AcceptBackoffStart, nextBackoff(shared.AcceptBackoffStart))
	assert.Equal(t, shared.AcceptBackoffMax, nextBackoff(shared.AcceptBackoffMax))
}
