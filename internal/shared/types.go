package shared

import "time"

type Variant string

const (
	VariantText   Variant = "text"
	VariantBinary Variant = "binary"
)

type Task string

const (
	TaskClassification Task = "classification"
	TaskDetection      Task = "detection"
)

type Detection struct {
	Score float32
	Box   [4]int
}

// InferenceResult is produced once per request and consumed once by the
// encoder. PredictedClass is -1 whenever no class was selected.
type InferenceResult struct {
	Success        bool
	PredictedClass int
	Confidence     float32
	Detections     []Detection
	ErrorMessage   string
}

func FailedResult(err error) InferenceResult {
	return InferenceResult{
		Success:        false,
		PredictedClass: -1,
		ErrorMessage:   PublicMessage(err),
	}
}

// ResultRecord is what the result sinks see of a finished session.
type ResultRecord struct {
	SessionID      string    `json:"session_id"`
	Variant        Variant   `json:"variant"`
	Route          string    `json:"route"`
	Success        bool      `json:"success"`
	PredictedClass int       `json:"predicted_class"`
	Confidence     float32   `json:"confidence"`
	Detections     int       `json:"detections"`
	ErrorKind      string    `json:"error_kind,omitempty"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	BytesIn        int       `json:"bytes_in"`
	InferenceTime  float64   `json:"inference_seconds"`
	TotalTime      float64   `json:"total_seconds"`
	CreatedAt      time.Time `json:"created_at"`
}
