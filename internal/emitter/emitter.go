// Package emitter publishes every finished session to a Redis channel.
package emitter

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"edge-infer/internal/metrics"
	"edge-infer/internal/shared"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Publisher is the part of *redis.Client the emitter uses.
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

const (
	queueSize      = 128
	publishTimeout = 2 * time.Second
)

type Emitter struct {
	pub     Publisher
	channel string
	log     *zap.SugaredLogger
	queue   chan *shared.ResultRecord
	done    chan struct{}
	once    sync.Once
}

func New(pub Publisher, channel string, log *zap.SugaredLogger) *Emitter {
	if channel == "" {
		channel = shared.DefaultRedisChannel
	}
	e := &Emitter{
		pub:     pub,
		channel: channel,
		log:     log.With("channel", channel),
		queue:   make(chan *shared.ResultRecord, queueSize),
		done:    make(chan struct{}),
	}
	go e.run()
	return e
}

// Record queues rec for publication and drops it when the queue is full so a
// slow Redis never stalls a session.
func (e *Emitter) Record(rec *shared.ResultRecord) {
	select {
	case e.queue <- rec:
	default:
		metrics.SinkFlushes.WithLabelValues("redis", "dropped").Inc()
		e.log.Warnw("Result queue full, dropping", "session_id", rec.SessionID)
	}
}

func (e *Emitter) run() {
	defer close(e.done)
	for rec := range e.queue {
		e.publish(rec)
	}
}

func (e *Emitter) publish(rec *shared.ResultRecord) {
	msg, err := json.Marshal(rec)
	if err != nil {
		e.log.Errorw("Failed marshalling result", "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := e.pub.Publish(ctx, e.channel, msg).Err(); err != nil {
		metrics.SinkFlushes.WithLabelValues("redis", "error").Inc()
		e.log.Warnw("Failed publishing result", "error", err, "session_id", rec.SessionID)
		return
	}
	metrics.SinkFlushes.WithLabelValues("redis", "success").Inc()
}

// Close publishes what is queued and stops. Record must not be called after
// Close.
func (e *Emitter) Close() {
	e.once.Do(func() {
		close(e.queue)
	})
	<-e.done
}
