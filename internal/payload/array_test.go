package payload

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"edge-infer/internal/shared"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func body(values ...string) []byte {
	return []byte(`{"pixels": [` + strings.Join(values, ",") + `]}`)
}

func kindOf(t *testing.T, err error) shared.ErrorKind {
	t.Helper()
	var ierr *shared.InferError
	require.True(t, errors.As(err, &ierr), "expected InferError, got %v", err)
	return ierr.Kind
}

func TestParseExactCount(t *testing.T) {
	const n = 3072
	values := make([]string, n)
	for i := range values {
		values[i] = fmt.Sprintf(" %d ", i%300)
	}
	got, err := ParseUint8Array(body(values...), "pixels", n)
	require.NoError(t, err)
	require.Len(t, got, n)
	for i, v := range got {
		want := min(i%300, 255)
		require.Equal(t, byte(want), v, "index %d", i)
	}
}

func TestParseCountMismatch(t *testing.T) {
	_, err := ParseUint8Array(body("1", "2"), "pixels", 3)
	require.Error(t, err)
	assert.Equal(t, shared.KindValidation, kindOf(t, err))
	assert.Contains(t, err.Error(), "array must have 3 values, got 2")

	_, err = ParseUint8Array(body("1", "2", "3", "4"), "pixels", 3)
	require.Error(t, err)
	assert.Equal(t, shared.KindValidation, kindOf(t, err))
	assert.Contains(t, err.Error(), "array must have 3 values")
}

func TestParseClampsLargeValues(t *testing.T) {
	got, err := ParseUint8Array(body("0", "255", "256", "99999999999999999999999"), "pixels", 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 255, 255, 255}, got)
}

func TestParseRejectsNonDigits(t *testing.T) {
	cases := map[string][]string{
		"negative":   {"1", "-2", "3"},
		"fractional": {"1", "2.5", "3"},
		"word":       {"1", "two", "3"},
		"empty":      {"1", "", "3"},
	}
	for name, values := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseUint8Array(body(values...), "pixels", 3)
			require.Error(t, err)
			assert.Equal(t, shared.KindValidation, kindOf(t, err))
			assert.Contains(t, err.Error(), "index 1")
		})
	}
}

func TestParseMissingStructure(t *testing.T) {
	_, err := ParseUint8Array([]byte(`{"image": [1,2,3]}`), "pixels", 3)
	require.Error(t, err)
	assert.Equal(t, shared.KindDecode, kindOf(t, err))
	assert.Contains(t, err.Error(), "field 'pixels' not found")

	_, err = ParseUint8Array([]byte(`{"pixels": 5}`), "pixels", 1)
	assert.Contains(t, err.Error(), "array for 'pixels' not found")

	_, err = ParseUint8Array([]byte(`{"pixels": [1,2,3`), "pixels", 3)
	assert.Contains(t, err.Error(), "end of array not found")
}

func TestParseWhitespaceAndNewlines(t *testing.T) {
	got, err := ParseUint8Array([]byte("{\"pixels\":[\n  1,\n\t2 ,3\r\n]}"), "pixels", 3)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, got)
}

func TestParseEmptyArray(t *testing.T) {
	got, err := ParseUint8Array(body(), "pixels", 0)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = ParseUint8Array(body(), "pixels", 1)
	assert.Contains(t, err.Error(), "got 0")
}

func TestParseQuotesAtMostMaxQuotedToken(t *testing.T) {
	token := strings.Repeat("a", 40000)
	_, err := ParseUint8Array(body("1", token, "3"), "pixels", 3)
	require.Error(t, err)
	msg := shared.PublicMessage(err)
	assert.Equal(t, "invalid value at index 1: '"+strings.Repeat("a", shared.MaxQuotedToken)+"'", msg)
}
