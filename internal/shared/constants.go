package shared

import "time"

// Session I/O Configuration
const (
	DefaultReadTimeout   = 2 * time.Second
	DefaultHeaderTimeout = 10 * time.Second
	DefaultBodyTimeout   = 5 * time.Second
	DefaultWriteTimeout  = 5 * time.Second
	ReadChunkSize        = 256
)

// Buffer Configuration
const (
	DefaultCapacityHint = 32 * 1024
	ImageCapacityHint   = 100 * 1024
	MaxHeaderBytes      = 8 * 1024
	MaxBodyBytes        = 50000
	MaxImageBytes       = 1 << 20
	MaxImagePixels      = 4096 * 4096
)

// Listener Configuration
const (
	DefaultTextAddr      = ":8080"
	DefaultBinaryAddr    = ":3333"
	DefaultAdminAddr     = ":9090"
	LinkMaxAttempts      = 30
	LinkRetryInterval    = 1 * time.Second
	AcceptBackoffStart   = 5 * time.Millisecond
	AcceptBackoffMax     = 1 * time.Second
	DefaultShutdownDelay = 10 * time.Second
)

// Protocol Configuration
const (
	DefaultArrayField   = "pixels"
	ContentLengthPrefix = "content-length:"
	ConfidenceDecimals  = 6
	ScoreDecimals       = 2
	MaxQuotedToken      = 32
)

// Sink Configuration
const (
	DefaultRedisChannel = "edge-infer:results"
	BucketFlushInterval = 1 * time.Minute
	BucketFlushSize     = 256
	BucketRetryDelay    = 30 * time.Second
	MaxFlushRetries     = 3
	MaxStoredMessage    = 255
	MaxStoredRoute      = 128
)
