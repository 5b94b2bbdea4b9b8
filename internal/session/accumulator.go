package session

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"edge-infer/internal/shared"
)

// Conn is the part of net.Conn a session uses.
type Conn interface {
	io.ReadWriteCloser
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

type Termination int

const (
	PeerClosed Termination = iota
	LimitReached
	Timeout
)

func (t Termination) String() string {
	switch t {
	case PeerClosed:
		return "peer_closed"
	case LimitReached:
		return "limit_reached"
	case Timeout:
		return "timeout"
	default:
		return fmt.Sprintf("termination(%d)", int(t))
	}
}

// Accumulator grows an owned buffer from short reads on a connection. Each
// read is bounded by chunk size and by min(now+readTimeout, phase deadline).
type Accumulator struct {
	conn        Conn
	buf         []byte
	chunk       []byte
	readTimeout time.Duration
	now         func() time.Time
}

func NewAccumulator(conn Conn, capacityHint int, readTimeout time.Duration) *Accumulator {
	return &Accumulator{
		conn:        conn,
		buf:         make([]byte, 0, capacityHint),
		chunk:       make([]byte, shared.ReadChunkSize),
		readTimeout: readTimeout,
		now:         time.Now,
	}
}

func (a *Accumulator) Bytes() []byte {
	return a.buf
}

func (a *Accumulator) Len() int {
	return len(a.buf)
}

// Release drops the buffer so it does not outlive the session.
func (a *Accumulator) Release() {
	a.buf = nil
}

// ReadChunk appends at most max bytes (and never more than one chunk) from a
// single read. It returns io.EOF when the peer closed, shared.ErrReadTimeout
// when the deadline passed, or the read error wrapped as an IOError.
func (a *Accumulator) ReadChunk(max int, deadline time.Time) (int, error) {
	if max <= 0 || max > len(a.chunk) {
		max = len(a.chunk)
	}
	if !deadline.IsZero() && !a.now().Before(deadline) {
		return 0, shared.ErrReadTimeout
	}
	if err := a.conn.SetReadDeadline(a.readDeadline(deadline)); err != nil {
		return 0, shared.IOError(fmt.Errorf("set read deadline: %w", err))
	}
	n, err := a.conn.Read(a.chunk[:max])
	if n > 0 {
		a.buf = append(a.buf, a.chunk[:n]...)
	}
	switch {
	case err == nil:
		return n, nil
	case errors.Is(err, io.EOF):
		return n, io.EOF
	case isTimeout(err):
		return n, shared.ErrReadTimeout
	default:
		return n, shared.IOError(fmt.Errorf("read: %w", err))
	}
}

// Accumulate reads until the buffer holds limit bytes, the peer closes or the
// deadline passes. A negative limit reads until close. A limit already met
// returns LimitReached without touching the connection.
func (a *Accumulator) Accumulate(limit int, deadline time.Time) (Termination, error) {
	for {
		if limit >= 0 && len(a.buf) >= limit {
			return LimitReached, nil
		}
		max := len(a.chunk)
		if limit >= 0 {
			max = min(max, limit-len(a.buf))
		}
		_, err := a.ReadChunk(max, deadline)
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			return PeerClosed, nil
		case errors.Is(err, shared.ErrReadTimeout):
			return Timeout, nil
		default:
			return PeerClosed, err
		}
	}
}

func (a *Accumulator) readDeadline(phase time.Time) time.Time {
	if a.readTimeout <= 0 {
		return phase
	}
	d := a.now().Add(a.readTimeout)
	if !phase.IsZero() && phase.Before(d) {
		return phase
	}
	return d
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}
