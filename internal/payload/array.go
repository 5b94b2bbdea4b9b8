// Package payload turns a framed request payload into the dense byte buffer
// the quantizer consumes.
package payload

import (
	"bytes"
	"errors"
	"fmt"
	"math"

	"edge-infer/internal/shared"
)

// ParseUint8Array extracts the numeric array stored under field in a JSON
// body without a general purpose parser. It scans in four steps: find the
// literal `"field":`, then the first '[' after it, then the first ']' after
// that, then walks the comma separated tokens between them.
//
// Each token is trimmed and must be made of decimal digits only, so negative
// and fractional values are rejected with the offending index. Values are
// clamped to [0,255]. The result must hold exactly want values.
func ParseUint8Array(body []byte, field string, want int) ([]byte, error) {
	key := []byte(`"` + field + `":`)
	start := bytes.Index(body, key)
	if start == -1 {
		return nil, shared.DecodeError(fmt.Errorf("field '%s' not found", field))
	}
	open := bytes.IndexByte(body[start+len(key):], '[')
	if open == -1 {
		return nil, shared.DecodeError(fmt.Errorf("array for '%s' not found", field))
	}
	open += start + len(key)
	end := bytes.IndexByte(body[open:], ']')
	if end == -1 {
		return nil, shared.DecodeError(errors.New("end of array not found"))
	}
	interior := body[open+1 : open+end]

	out := make([]byte, 0, want)
	count := 0
	for pos := 0; pos < len(interior); {
		pos = skipSpace(interior, pos)
		if pos >= len(interior) {
			break
		}
		comma := bytes.IndexByte(interior[pos:], ',')
		var token []byte
		if comma == -1 {
			token = interior[pos:]
		} else {
			token = interior[pos : pos+comma]
		}
		token = bytes.TrimSpace(token)

		v, ok := parseDigits(token)
		if !ok {
			return nil, shared.ValidationError(fmt.Errorf("invalid value at index %d: '%s'", count, shared.Truncate(string(token), shared.MaxQuotedToken)))
		}
		if count < want {
			out = append(out, clampByte(v))
		}
		count++
		if count > want || comma == -1 {
			break
		}
		pos += comma + 1
	}

	if count != want {
		got := fmt.Sprintf("%d", count)
		if count > want {
			got = fmt.Sprintf("more than %d", want)
		}
		return nil, shared.ValidationError(fmt.Errorf("array must have %d values, got %s", want, got))
	}
	return out, nil
}

func skipSpace(b []byte, pos int) int {
	for pos < len(b) {
		switch b[pos] {
		case ' ', '\t', '\n', '\r', '\v', '\f':
			pos++
		default:
			return pos
		}
	}
	return pos
}

// parseDigits accepts a non-empty run of ASCII digits. Values past the int
// range saturate, which the caller clamps to 255 anyway.
func parseDigits(token []byte) (int, bool) {
	if len(token) == 0 {
		return 0, false
	}
	v := 0
	for _, c := range token {
		if c < '0' || c > '9' {
			return 0, false
		}
		if v > (math.MaxInt-9)/10 {
			v = math.MaxInt
			continue
		}
		v = v*10 + int(c-'0')
	}
	return v, true
}

func clampByte(v int) byte {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v)
}
