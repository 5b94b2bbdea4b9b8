// Package metrics defines prometheus metrics to expose
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "edge_infer_session_duration_seconds",
			Help:    "Time from accept to close for a session in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 15},
		},
		[]string{"variant"},
	)

	InferenceDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "edge_infer_inference_duration_seconds",
			Help:    "Time spent in one forward pass in seconds",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"task"},
	)

	SessionCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edge_infer_session_count_total",
			Help: "Total number of sessions processed",
		},
		[]string{"variant", "route", "status"},
	)

	BytesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edge_infer_bytes_received_total",
			Help: "Total payload bytes accumulated from peers",
		},
		[]string{"variant"},
	)

	BytesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edge_infer_bytes_sent_total",
			Help: "Total response bytes written to peers",
		},
		[]string{"variant"},
	)

	ErrorCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edge_infer_error_count",
			Help: "Error count",
		},
		[]string{"variant", "kind"},
	)

	PredictedClass = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edge_infer_predicted_class_total",
			Help: "Predictions per class index",
		},
		[]string{"class"},
	)

	Detections = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "edge_infer_detections_per_image",
			Help:    "Detections returned per image",
			Buckets: []float64{0, 1, 2, 3, 5, 8, 13, 21},
		},
	)

	ArenaUsed = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "edge_infer_arena_used_bytes",
			Help: "Bytes of the tensor arena in use",
		},
	)

	ModelInitialized = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "edge_infer_model_initialized",
			Help: "1 when the model is loaded and ready",
		},
	)

	SinkFlushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edge_infer_sink_flush_total",
			Help: "Result sink flushes",
		},
		[]string{"sink", "status"},
	)

	ResponseCodes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edge_infer_admin_status_code",
			Help: "Status Codes",
		},
		[]string{"path", "status_code"},
	)
)
