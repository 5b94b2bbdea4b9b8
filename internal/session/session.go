// Package session runs one request/response exchange per accepted
// connection. A session only moves forward through its states and always
// ends CLOSED, whatever failed on the way.
package session

import (
	"errors"
	"fmt"
	"time"

	"edge-infer/internal/ctx"
	"edge-infer/internal/shared"

	"github.com/aidarkhanov/nanoid"
	"go.uber.org/zap"
)

type State int

const (
	Listening State = iota
	Accepted
	Reading
	Decoding
	Inferring
	Encoding
	Closed
)

var stateNames = [...]string{"LISTENING", "ACCEPTED", "READING", "DECODING", "INFERRING", "ENCODING", "CLOSED"}

func (s State) String() string {
	if s < Listening || s > Closed {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// Route labels sessions for metrics and the result sinks. Only these values
// are ever used so a peer cannot mint new label values.
const (
	RouteNone    = "none"
	RoutePredict = "predict"
	RouteStatus  = "status"
	RouteIndex   = "index"
	RouteImage   = "image"
)

var ErrBackwardTransition = errors.New("session state cannot move backwards")

// Session is owned by the goroutine serving its connection and is never
// shared.
type Session struct {
	ID        string
	Variant   shared.Variant
	Conn      Conn
	Acc       *Accumulator
	Log       *zap.SugaredLogger
	LogValues *ctx.SessionLogValues

	// Set by handlers for the result sinks.
	Route         string
	Result        shared.InferenceResult
	Detections    int
	InferenceTime time.Duration

	state        State
	err          error
	writeTimeout time.Duration
	start        time.Time
}

func newSessionID() string {
	id, _ := nanoid.Generate("0123456789abcdefghijklmnopqrstuvwxyz", 28)
	return "ses_" + id
}

func newSession(conn Conn, remote string, variant shared.Variant, log *zap.SugaredLogger, capacityHint int, readTimeout, writeTimeout time.Duration) *Session {
	id := newSessionID()
	start := time.Now()
	return &Session{
		ID:      id,
		Variant: variant,
		Conn:    conn,
		Acc:     NewAccumulator(conn, capacityHint, readTimeout),
		Log:     log.With("session_id", id),
		LogValues: &ctx.SessionLogValues{
			SessionID: id,
			Remote:    remote,
			Variant:   string(variant),
			StartTime: start,
			State:     Listening.String(),
		},
		Route:        RouteNone,
		Result:       shared.InferenceResult{PredictedClass: -1},
		state:        Listening,
		writeTimeout: writeTimeout,
		start:        start,
	}
}

func (s *Session) State() State {
	return s.state
}

// Err is the first failure recorded with Fail.
func (s *Session) Err() error {
	return s.err
}

// Advance moves to next. Staying put is allowed so that handlers can enter
// ENCODING unconditionally after a failure already moved them there.
func (s *Session) Advance(next State) error {
	if next < s.state {
		return fmt.Errorf("%w: %s -> %s", ErrBackwardTransition, s.state, next)
	}
	s.state = next
	s.LogValues.State = next.String()
	return nil
}

// Fail records err and moves the session to ENCODING so the handler can
// still send a terminal response.
func (s *Session) Fail(err error) {
	if err == nil {
		return
	}
	if s.err == nil {
		s.err = err
	}
	s.LogValues.AddError(err)
	if s.state < Encoding {
		_ = s.Advance(Encoding)
	}
}

// Send writes p in full under the write deadline.
func (s *Session) Send(p []byte) error {
	if s.writeTimeout > 0 {
		if err := s.Conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
			return shared.IOError(fmt.Errorf("set write deadline: %w", err))
		}
	}
	n, err := WriteAll(s.Conn, p)
	s.LogValues.BytesWritten += n
	if err != nil {
		err = shared.IOError(fmt.Errorf("write %d of %d bytes: %w", n, len(p), err))
		s.LogValues.AddError(err)
		s.LogValues.LogLevel = "WARN"
		return err
	}
	return nil
}

// close is idempotent.
func (s *Session) close() {
	if s.state == Closed {
		return
	}
	_ = s.Advance(Closed)
	if err := s.Conn.Close(); err != nil {
		s.Log.Debugw("Failed closing connection", "error", err)
	}
	s.LogValues.BytesRead = s.Acc.Len()
	s.Acc.Release()
	s.LogValues.Duration = time.Since(s.start)
	s.LogValues.Route = s.Route
	s.LogValues.Success = s.Result.Success
}

func (s *Session) record() *shared.ResultRecord {
	rec := &shared.ResultRecord{
		SessionID:      s.ID,
		Variant:        s.Variant,
		Route:          s.Route,
		Success:        s.Result.Success,
		PredictedClass: s.Result.PredictedClass,
		Confidence:     s.Result.Confidence,
		Detections:     s.Detections,
		BytesIn:        s.LogValues.BytesRead,
		InferenceTime:  s.InferenceTime.Seconds(),
		TotalTime:      s.LogValues.Duration.Seconds(),
		CreatedAt:      s.start,
	}
	if s.err != nil {
		rec.ErrorKind = string(shared.KindOf(s.err))
		rec.ErrorMessage = shared.Truncate(shared.PublicMessage(s.err), shared.MaxStoredMessage)
	}
	return rec
}
