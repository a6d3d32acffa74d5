// Package logging provides the structured logger shared by every component.
package logging

import (
	"encoding/json"
	"io"
	"log"
	"os"
	"strings"
	"time"
)

// Logger is a simple structured logger interface.
type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
}

// Level is a minimum log level.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel maps a config string to a Level, defaulting to info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "info"
	}
}

// StdLogger implements Logger using the standard log package with JSON output.
type StdLogger struct {
	out   *log.Logger
	level Level
}

// NewStdLogger writes JSON lines to w at or above level.
func NewStdLogger(w io.Writer, level Level) *StdLogger {
	if w == nil {
		w = os.Stderr
	}
	return &StdLogger{out: log.New(w, "", 0), level: level}
}

func (l *StdLogger) Debug(msg string, fields map[string]interface{}) { l.write(LevelDebug, msg, fields) }
func (l *StdLogger) Info(msg string, fields map[string]interface{})  { l.write(LevelInfo, msg, fields) }
func (l *StdLogger) Warn(msg string, fields map[string]interface{})  { l.write(LevelWarn, msg, fields) }
func (l *StdLogger) Error(msg string, fields map[string]interface{}) { l.write(LevelError, msg, fields) }

func (l *StdLogger) write(level Level, msg string, fields map[string]interface{}) {
	if level < l.level {
		return
	}
	// Copy so callers can reuse their field maps.
	entry := make(map[string]interface{}, len(fields)+3)
	for k, v := range fields {
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		entry[k] = v
	}
	entry["level"] = level.String()
	entry["msg"] = msg
	entry["ts"] = time.Now().Format(time.RFC3339)
	b, err := json.Marshal(entry)
	if err != nil {
		l.out.Printf(`{"level":"error","msg":"log marshal failed","error":%q}`, err.Error())
		return
	}
	l.out.Println(string(b))
}

type nopLogger struct{}

func (nopLogger) Debug(string, map[string]interface{}) {}
func (nopLogger) Info(string, map[string]interface{})  {}
func (nopLogger) Warn(string, map[string]interface{})  {}
func (nopLogger) Error(string, map[string]interface{}) {}

// Nop returns a Logger that discards everything.
func Nop() Logger { return nopLogger{} }

// OrNop returns l, or Nop when l is nil.
func OrNop(l Logger) Logger {
	if l == nil {
		return Nop()
	}
	return l
}
