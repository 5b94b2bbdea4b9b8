// Package buckets batches finished sessions per variant and flushes them to
// the inference log.
package buckets

import (
	"context"
	"sync"
	"time"

	"edge-infer/internal/database"
	"edge-infer/internal/metrics"
	"edge-infer/internal/shared"

	"go.uber.org/zap"
)

type Config struct {
	FlushInterval time.Duration
	FlushSize     int
	RetryDelay    time.Duration
	// RetryWait is the pause between failed store attempts.
	RetryWait time.Duration
}

func DefaultConfig() Config {
	return Config{
		FlushInterval: shared.BucketFlushInterval,
		FlushSize:     shared.BucketFlushSize,
		RetryDelay:    shared.BucketRetryDelay,
		RetryWait:     5 * time.Second,
	}
}

type ResultLog struct {
	buckets       map[shared.Variant]*bucket
	killedBuckets map[shared.Variant]*bucket
	mu            sync.Mutex
	log           *zap.SugaredLogger
	store         database.Store
	cfg           Config
	wg            sync.WaitGroup
}

type bucket struct {
	variant shared.Variant
	records []*shared.ResultRecord
	timer   *time.Timer
}

func NewResultLog(log *zap.SugaredLogger, store database.Store, cfg Config) *ResultLog {
	return &ResultLog{
		store:         store,
		log:           log,
		cfg:           cfg,
		buckets:       map[shared.Variant]*bucket{},
		killedBuckets: map[shared.Variant]*bucket{},
	}
}

// Record adds rec to its variant's bucket. The first record arms the flush
// timer; a full bucket flushes right away.
func (c *ResultLog) Record(rec *shared.ResultRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b := c.getBucket(rec.Variant)
	b.records = append(b.records, rec)

	if b.timer == nil {
		b.timer = time.AfterFunc(c.cfg.FlushInterval, func() {
			c.flushWithRetry(rec.Variant)
		})
	}
	if len(b.records) < c.cfg.FlushSize {
		return
	}
	if !b.timer.Stop() {
		// timer already fired and its flush will pick these up
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.flushWithRetry(rec.Variant)
	}()
}

func (c *ResultLog) getBucket(variant shared.Variant) *bucket {
	b, ok := c.buckets[variant]
	if !ok {
		b = &bucket{variant: variant}
		c.buckets[variant] = b
	}
	return b
}

func (c *ResultLog) flushWithRetry(variant shared.Variant) {
	retry := c.Flush(variant)
	for retry != 0 {
		c.log.Warn("Flush requested retry, waiting...")
		time.Sleep(retry)
		retry = c.Flush(variant)
	}
}

// Flush writes the variant's bucket to the store. A non zero return asks the
// caller to retry after that long because another flush of the same variant
// is still running.
func (c *ResultLog) Flush(variant shared.Variant) time.Duration {
	c.mu.Lock()
	b, ok := c.buckets[variant]
	if !ok {
		c.mu.Unlock()
		return 0
	}
	if _, ok := c.killedBuckets[variant]; ok {
		c.mu.Unlock()
		return c.cfg.RetryDelay
	}
	c.killedBuckets[variant] = b
	delete(c.buckets, variant)
	if b.timer != nil {
		b.timer.Stop()
	}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.killedBuckets, variant)
		c.mu.Unlock()
	}()

	if len(b.records) == 0 {
		return 0
	}

	var err error
	for attempt := range shared.MaxFlushRetries {
		err = c.store.SaveResults(context.Background(), b.records)
		if err == nil {
			break
		}
		c.log.Errorw("Failed to save inference log", "error", err, "attempt", attempt+1)
		if attempt+1 < shared.MaxFlushRetries {
			time.Sleep(c.cfg.RetryWait)
		}
	}
	if err != nil {
		c.log.Errorw("Dropping inference log batch", "error", err, "records", len(b.records), "variant", variant)
		metrics.SinkFlushes.WithLabelValues("mysql", "error").Inc()
		return 0
	}
	metrics.SinkFlushes.WithLabelValues("mysql", "success").Inc()
	c.log.Infow("Flushed bucket", "variant", variant, "records", len(b.records))
	return 0
}

// Shutdown stops pending timers and flushes every bucket.
func (c *ResultLog) Shutdown() {
	c.log.Info("Shutting down result log")
	c.mu.Lock()
	variants := make([]shared.Variant, 0, len(c.buckets))
	for v, b := range c.buckets {
		if b.timer != nil {
			b.timer.Stop()
		}
		variants = append(variants, v)
	}
	c.mu.Unlock()

	c.wg.Wait()
	wg := sync.WaitGroup{}
	for _, v := range variants {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.flushWithRetry(v)
		}()
	}
	wg.Wait()
}
