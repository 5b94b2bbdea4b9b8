package session

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"edge-infer/internal/shared"
)

type FrameConfig struct {
	HeaderTimeout  time.Duration
	BodyTimeout    time.Duration
	MaxHeaderBytes int
	MaxBodyBytes   int
}

func DefaultFrameConfig() FrameConfig {
	return FrameConfig{
		HeaderTimeout:  shared.DefaultHeaderTimeout,
		BodyTimeout:    shared.DefaultBodyTimeout,
		MaxHeaderBytes: shared.MaxHeaderBytes,
		MaxBodyBytes:   shared.MaxBodyBytes,
	}
}

type Request struct {
	RequestLine   string
	Method        string
	Path          string
	Headers       []string
	ContentLength int
	Body          []byte
}

// ReadUntilClose frames a binary request: everything the peer sends before
// closing its write side. Sending more than maxBytes is a framing error.
func ReadUntilClose(acc *Accumulator, maxBytes int, timeout time.Duration) ([]byte, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	term, err := acc.Accumulate(maxBytes+1, deadline)
	if err != nil {
		return nil, err
	}
	switch term {
	case Timeout:
		return nil, fmt.Errorf("%w after %d bytes", shared.ErrReadTimeout, acc.Len())
	case LimitReached:
		return nil, shared.ErrPayloadTooLarge
	}
	if acc.Len() == 0 {
		return nil, shared.ErrEmptyPayload
	}
	return acc.Bytes(), nil
}

// ReadTextRequest frames a text request: header lines up to the first empty
// line, then exactly Content-Length body bytes. Headers and body run against
// separate deadlines. The declared length is checked against the cap as soon
// as its header line arrives, before any body byte is read.
func ReadTextRequest(acc *Accumulator, cfg FrameConfig) (*Request, error) {
	req := &Request{}
	headerDeadline := time.Now().Add(cfg.HeaderTimeout)

	lineStart, headerEnd := 0, -1
	for headerEnd < 0 {
		buf := acc.Bytes()
		for headerEnd < 0 {
			nl := bytes.IndexByte(buf[lineStart:], '\n')
			if nl == -1 {
				break
			}
			line := string(bytes.TrimSuffix(buf[lineStart:lineStart+nl], []byte("\r")))
			lineStart += nl + 1
			if line == "" {
				headerEnd = lineStart
				break
			}
			if err := req.addLine(line, cfg.MaxBodyBytes); err != nil {
				return nil, err
			}
		}
		if headerEnd >= 0 {
			break
		}
		if acc.Len() >= cfg.MaxHeaderBytes {
			return nil, shared.ErrHeaderTooLarge
		}
		_, err := acc.ReadChunk(cfg.MaxHeaderBytes-acc.Len(), headerDeadline)
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			return nil, fmt.Errorf("%w: peer closed before end of headers", shared.ErrMalformedRequest)
		case errors.Is(err, shared.ErrReadTimeout):
			return nil, fmt.Errorf("%w: timed out before end of headers", shared.ErrMalformedRequest)
		default:
			return nil, err
		}
	}
	if req.RequestLine == "" {
		return nil, fmt.Errorf("%w: missing request line", shared.ErrMalformedRequest)
	}

	total := headerEnd + req.ContentLength
	term, err := acc.Accumulate(total, time.Now().Add(cfg.BodyTimeout))
	if err != nil {
		return nil, err
	}
	switch term {
	case Timeout:
		return nil, fmt.Errorf("%w: body %d of %d bytes", shared.ErrReadTimeout, acc.Len()-headerEnd, req.ContentLength)
	case PeerClosed:
		return nil, fmt.Errorf("%w: body %d of %d bytes", shared.ErrIncompleteBody, acc.Len()-headerEnd, req.ContentLength)
	}
	req.Body = acc.Bytes()[headerEnd:total]
	return req, nil
}

func (r *Request) addLine(line string, maxBody int) error {
	if r.RequestLine == "" {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			return fmt.Errorf("%w: blank request line", shared.ErrMalformedRequest)
		}
		r.RequestLine = line
		r.Method = fields[0]
		if len(fields) > 1 {
			r.Path, _, _ = strings.Cut(fields[1], "?")
		}
		return nil
	}
	r.Headers = append(r.Headers, line)
	if len(line) < len(shared.ContentLengthPrefix) || !strings.EqualFold(line[:len(shared.ContentLengthPrefix)], shared.ContentLengthPrefix) {
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(line[len(shared.ContentLengthPrefix):]))
	if err != nil || n < 0 {
		return shared.FramingError(fmt.Errorf("invalid content length %q", line))
	}
	if n > maxBody {
		return fmt.Errorf("%w: %d > %d", shared.ErrBodyTooLarge, n, maxBody)
	}
	r.ContentLength = n
	return nil
}
