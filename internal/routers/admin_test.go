package routers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"edge-infer/internal/inference"
	"edge-infer/internal/shared"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixedStatus inference.Status

func (f fixedStatus) Status() inference.Status { return inference.Status(f) }

func heap() uint64 { return 4096 }

func serveAdmin(t *testing.T, st fixedStatus, key, path, auth string) *httptest.ResponseRecorder {
	t.Helper()
	e := NewAdminServer(st, AdminConfig{MetricsAPIKey: key}, heap, zap.NewNop().Sugar())
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestPing(t *testing.T) {
	rec := serveAdmin(t, fixedStatus{}, "", "/ping", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStatus(t *testing.T) {
	st := fixedStatus{Initialized: true, Task: shared.TaskClassification, InputElements: 3072, ArenaUsed: 1000, ArenaCapacity: 150000}
	rec := serveAdmin(t, st, "", "/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, true, doc["model_initialized"])
	assert.Equal(t, "classification", doc["task"])
	assert.Equal(t, float64(1000), doc["arena_used"])
	assert.Equal(t, float64(150000), doc["arena_capacity"])
	assert.Equal(t, float64(4096), doc["heap_free"])
}

func TestStatusNotInitialized(t *testing.T) {
	rec := serveAdmin(t, fixedStatus{}, "", "/status", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"model_initialized":false`)
}

func TestMetricsRequiresKey(t *testing.T) {
	assert.Equal(t, http.StatusUnauthorized, serveAdmin(t, fixedStatus{}, "secret", "/metrics", "").Code)
	assert.Equal(t, http.StatusUnauthorized, serveAdmin(t, fixedStatus{}, "secret", "/metrics", "Bearer wrong").Code)

	rec := serveAdmin(t, fixedStatus{}, "secret", "/metrics", "Bearer secret")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "edge_infer_")
}

func TestMetricsOpenWithoutKey(t *testing.T) {
	assert.Equal(t, http.StatusOK, serveAdmin(t, fixedStatus{}, "", "/metrics", "").Code)
}
