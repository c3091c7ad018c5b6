// Package logging wraps zerolog with subsystem and call scoped child loggers.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is a thin handle over a zerolog.Logger. Child loggers share the
// parent's writer and level.
type Logger struct {
	zl zerolog.Logger
}

// New creates a root logger at the given level. A nil writer selects the
// console writer on stderr; DIALTASK_LOG_FORMAT=json switches that default
// to plain JSON lines.
func New(w io.Writer, level string) *Logger {
	if w == nil {
		w = defaultWriter()
	}
	zl := zerolog.New(w).With().Timestamp().Logger().Level(parseLevel(level))
	return &Logger{zl: zl}
}

func defaultWriter() io.Writer {
	if strings.EqualFold(os.Getenv("DIALTASK_LOG_FORMAT"), "json") {
		return os.Stderr
	}
	return zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
}

// Sub returns a child logger tagged with a subsystem name.
func (l *Logger) Sub(subsystem string) *Logger {
	return l.With("subsystem", subsystem)
}

// With returns a child logger carrying an extra string field.
func (l *Logger) With(key, value string) *Logger {
	return &Logger{zl: l.zl.With().Str(key, value).Logger()}
}

// ForCall returns a child logger tagged with the Twilio call and stream sids.
// Empty values are left out.
func (l *Logger) ForCall(callSid, streamSid string) *Logger {
	ctx := l.zl.With()
	if callSid != "" {
		ctx = ctx.Str("call_sid", callSid)
	}
	if streamSid != "" {
		ctx = ctx.Str("stream_sid", streamSid)
	}
	return &Logger{zl: ctx.Logger()}
}

func (l *Logger) Trace() *zerolog.Event { return l.zl.Trace() }
func (l *Logger) Debug() *zerolog.Event { return l.zl.Debug() }
func (l *Logger) Info() *zerolog.Event  { return l.zl.Info() }
func (l *Logger) Warn() *zerolog.Event  { return l.zl.Warn() }
func (l *Logger) Error() *zerolog.Event { return l.zl.Error() }

// Fatal logs at fatal level and exits the process.
func (l *Logger) Fatal() *zerolog.Event { return l.zl.Fatal() }

// Zerolog exposes the underlying logger, e.g. for libraries that accept one.
func (l *Logger) Zerolog() zerolog.Logger { return l.zl }

// Enabled reports whether events at the given level would be written.
func (l *Logger) Enabled(level zerolog.Level) bool {
	return l.zl.GetLevel() <= level && l.zl.GetLevel() != zerolog.Disabled
}

func parseLevel(s string) zerolog.Level {
	switch s {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "silent":
		return zerolog.Disabled
	}
	return zerolog.InfoLevel
}
