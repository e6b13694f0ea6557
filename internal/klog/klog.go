// Package klog provides the small leveled-logging interface used
// throughout the engine, shaped after the LoggerAndTracer interface
// referenced by pebble's sstable package (see readFooter's
// logger.IsTracingEnabled/logger.Eventf calls in the pebble sstable
// reader). Item payloads logged at Eventf level are wrapped with
// redact.Safe/redact.RedactableString so callers can scrub them from
// aggregated logs without the engine needing to know the sink.
package klog

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/cockroachdb/redact"
)

// Logger is the logging surface the engine depends on. A nil Logger
// is never passed internally; Options.EnsureDefaults installs
// NewStderr() when the caller leaves it unset.
type Logger interface {
	Infof(format string, args ...interface{})
	Warningf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Eventf(format string, args ...interface{})
	IsTracingEnabled() bool
}

type writerLogger struct {
	mu      sync.Mutex
	w       io.Writer
	tracing bool
}

// NewStderr returns a Logger that writes timestamped lines to stderr.
func NewStderr() Logger {
	return &writerLogger{w: os.Stderr}
}

// NewWriter returns a Logger writing to an arbitrary io.Writer, with
// event-level tracing enabled or disabled.
func NewWriter(w io.Writer, tracing bool) Logger {
	return &writerLogger{w: w, tracing: tracing}
}

func (l *writerLogger) log(level string, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ts := time.Now().Format("2006-01-02 15:04:05.000")
	fmt.Fprintf(l.w, "%s [%s] %s\n", ts, level, fmt.Sprintf(format, args...))
}

func (l *writerLogger) Infof(format string, args ...interface{})    { l.log("INFO", format, args...) }
func (l *writerLogger) Warningf(format string, args ...interface{}) { l.log("WARN", format, args...) }
func (l *writerLogger) Errorf(format string, args ...interface{})   { l.log("ERROR", format, args...) }
func (l *writerLogger) Eventf(format string, args ...interface{}) {
	if l.tracing {
		l.log("EVENT", format, args...)
	}
}
func (l *writerLogger) IsTracingEnabled() bool { return l.tracing }

// Redact renders v through redact.Sprint so item attribute values
// never land in plaintext logs.
func Redact(v interface{}) redact.RedactableString {
	return redact.Sprint(v)
}

// Discard is a Logger that drops everything; used by in-memory/test
// engines that don't want log noise.
func Discard() Logger { return discardLogger{} }

type discardLogger struct{}

func (discardLogger) Infof(string, ...interface{})    {}
func (discardLogger) Warningf(string, ...interface{}) {}
func (discardLogger) Errorf(string, ...interface{})   {}
func (discardLogger) Eventf(string, ...interface{})   {}
func (discardLogger) IsTracingEnabled() bool          { return false }
