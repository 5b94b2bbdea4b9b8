package session

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"edge-infer/internal/shared"
)

// Field order is part of the wire contract.
type classificationDoc struct {
	Success          bool        `json:"success"`
	PredictedClass   int         `json:"predicted_class"`
	Confidence       json.Number `json:"confidence"`
	ErrorMessage     string      `json:"error_message"`
	HeapFree         uint64      `json:"heap_free"`
	ModelInitialized bool        `json:"model_initialized"`
}

type detectionDoc struct {
	Score json.Number `json:"score"`
	Box   [4]int      `json:"box"`
}

func EncodeClassification(res shared.InferenceResult, heapFree uint64, initialized bool) []byte {
	out, err := json.Marshal(classificationDoc{
		Success:          res.Success,
		PredictedClass:   res.PredictedClass,
		Confidence:       formatFloat(res.Confidence, shared.ConfidenceDecimals),
		ErrorMessage:     res.ErrorMessage,
		HeapFree:         heapFree,
		ModelInitialized: initialized,
	})
	if err != nil {
		return []byte(`{"success":false,"predicted_class":-1,"confidence":0,"error_message":"encoding failed","heap_free":0,"model_initialized":false}`)
	}
	return out
}

// EncodeDetections writes the detection array; nil or empty encodes as [].
func EncodeDetections(dets []shared.Detection) []byte {
	docs := make([]detectionDoc, 0, len(dets))
	for _, d := range dets {
		docs = append(docs, detectionDoc{Score: formatFloat(d.Score, shared.ScoreDecimals), Box: d.Box})
	}
	out, err := json.Marshal(docs)
	if err != nil {
		return []byte("[]")
	}
	return out
}

func formatFloat(f float32, decimals int) json.Number {
	return json.Number(strconv.FormatFloat(float64(f), 'f', decimals, 32))
}

// HTTPResponse frames body for the text variant. The connection is always
// closed after one response.
func HTTPResponse(status int, contentType string, body []byte) []byte {
	head := fmt.Sprintf("HTTP/1.1 %d %s\r\n"+
		"Content-Type: %s\r\n"+
		"Access-Control-Allow-Origin: *\r\n"+
		"Connection: close\r\n"+
		"Content-Length: %d\r\n\r\n",
		status, http.StatusText(status), contentType, len(body))
	return append([]byte(head), body...)
}

const maxStalledWrites = 3

// WriteAll keeps writing the unsent tail until p is fully sent or a write
// fails. It returns how many bytes made it out.
func WriteAll(w io.Writer, p []byte) (int, error) {
	sent, stalled := 0, 0
	for sent < len(p) {
		n, err := w.Write(p[sent:])
		if n < 0 || n > len(p)-sent {
			return sent, fmt.Errorf("write returned invalid count %d", n)
		}
		sent += n
		if err != nil {
			return sent, err
		}
		if n == 0 {
			stalled++
			if stalled >= maxStalledWrites {
				return sent, io.ErrNoProgress
			}
			continue
		}
		stalled = 0
	}
	return sent, nil
}
