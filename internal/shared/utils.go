// Package shared holds the types, errors and constants used across the
// session pipeline.
package shared

import (
	"runtime"
	"unicode/utf8"
)

// HeapFree reports heap bytes obtained from the OS but not in use.
func HeapFree() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	if ms.HeapSys < ms.HeapInuse {
		return 0
	}
	return ms.HeapSys - ms.HeapInuse
}

// Truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 0 {
		return ""
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
