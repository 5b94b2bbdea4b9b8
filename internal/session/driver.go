package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"edge-infer/internal/metrics"
	"edge-infer/internal/shared"

	"go.uber.org/zap"
)

// Handler takes an ACCEPTED session through reading, decoding, inference and
// encoding, and writes the response. The driver closes the session.
type Handler interface {
	Variant() shared.Variant
	CapacityHint() int
	Handle(ctx context.Context, s *Session)
	// Abort writes the variant's terminal error response.
	Abort(s *Session, err error)
}

// Sink receives one record per finished session. Record must not block.
type Sink interface {
	Record(rec *shared.ResultRecord)
}

type DriverConfig struct {
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Sinks        []Sink
}

func DefaultDriverConfig() DriverConfig {
	return DriverConfig{
		ReadTimeout:  shared.DefaultReadTimeout,
		WriteTimeout: shared.DefaultWriteTimeout,
	}
}

// Driver accepts one connection at a time and serves it to completion
// before accepting the next.
type Driver struct {
	handler Handler
	cfg     DriverConfig
	log     *zap.SugaredLogger
}

func NewDriver(h Handler, cfg DriverConfig, log *zap.SugaredLogger) *Driver {
	return &Driver{
		handler: h,
		cfg:     cfg,
		log:     log.With("variant", h.Variant()),
	}
}

// Serve accepts until ctx is done or the listener fails for good. Accept
// errors back off from AcceptBackoffStart up to AcceptBackoffMax.
func (d *Driver) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() {
		_ = ln.Close()
	})
	defer stop()

	d.log.Infow("Listening", "addr", ln.Addr().String())
	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			backoff = nextBackoff(backoff)
			d.log.Warnw("Accept failed", "error", err, "retry_in", backoff.String())
			metrics.ErrorCount.WithLabelValues(string(d.handler.Variant()), "accept").Inc()
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			continue
		}
		backoff = 0
		d.ServeConn(ctx, conn, conn.RemoteAddr().String())
	}
}

func nextBackoff(cur time.Duration) time.Duration {
	if cur == 0 {
		return shared.AcceptBackoffStart
	}
	return min(cur*2, shared.AcceptBackoffMax)
}

// ServeConn runs a single session on conn and always closes it.
func (d *Driver) ServeConn(ctx context.Context, conn Conn, remote string) {
	variant := d.handler.Variant()
	s := newSession(conn, remote, variant, d.log, d.handler.CapacityHint(), d.cfg.ReadTimeout, d.cfg.WriteTimeout)
	_ = s.Advance(Accepted)

	defer d.finish(s)
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("session panic: %v", r)
			s.Fail(err)
			s.LogValues.LogLevel = "ERROR"
			if s.LogValues.BytesWritten == 0 {
				d.abort(s, err)
			}
		}
	}()
	d.handler.Handle(ctx, s)
}

func (d *Driver) abort(s *Session, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.Log.Errorw("Failed writing terminal response", "panic", r)
		}
	}()
	d.handler.Abort(s, err)
}

func (d *Driver) finish(s *Session) {
	s.close()
	variant := string(s.Variant)

	status := "success"
	if s.Err() != nil {
		status = "error"
		metrics.ErrorCount.WithLabelValues(variant, string(shared.KindOf(s.Err()))).Inc()
	}
	metrics.SessionCount.WithLabelValues(variant, s.Route, status).Inc()
	metrics.SessionDuration.WithLabelValues(variant).Observe(s.LogValues.Duration.Seconds())
	metrics.BytesReceived.WithLabelValues(variant).Add(float64(s.LogValues.BytesRead))
	metrics.BytesSent.WithLabelValues(variant).Add(float64(s.LogValues.BytesWritten))

	rec := s.record()
	for _, sink := range d.cfg.Sinks {
		sink.Record(rec)
	}

	switch s.LogValues.LogLevel {
	case "ERROR":
		s.Log.Errorw("end_of_session", "values", s.LogValues)
	case "WARN":
		s.Log.Warnw("end_of_session", "values", s.LogValues)
	default:
		s.Log.Infow("end_of_session", "values", s.LogValues)
	}
}
