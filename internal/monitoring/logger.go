package monitoring

import (
	"fmt"
	"log"
)

// Logger is a printf-style diagnostic sink. Components take one in their
// options instead of consulting a global toggle; a nil Logger is muted.
type Logger func(format string, v ...interface{})

// Logf is the process-level diagnostic logger used by commands and by
// components that were not handed their own Logger. It defaults to
// log.Printf but may be replaced by SetLogger.
var Logf Logger = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f Logger) {
	if f == nil {
		Logf = Discard
		return
	}
	Logf = f
}

// Discard drops every message.
func Discard(string, ...interface{}) {}

// OrDiscard returns l, or Discard when l is nil, so callers never need a
// nil check on the hot path.
func OrDiscard(l Logger) Logger {
	if l == nil {
		return Discard
	}
	return l
}

// Prefixed returns a Logger that prepends prefix to every message written
// through l.
func Prefixed(prefix string, l Logger) Logger {
	l = OrDiscard(l)
	return func(format string, v ...interface{}) {
		l("%s %s", prefix, fmt.Sprintf(format, v...))
	}
}
