// Package logging provides structured logging for missionwatch components.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
)

// Logger provides structured logging
type Logger interface {
	// Debug logs a debug message
	Debug(msg string, fields ...Field)

	// Info logs an info message
	Info(msg string, fields ...Field)

	// Warn logs a warning message
	Warn(msg string, fields ...Field)

	// Error logs an error message
	Error(msg string, fields ...Field)

	// WithFields returns a new logger with the given fields attached to
	// every entry
	WithFields(fields ...Field) Logger
}

// Field represents a key-value pair in a log entry
type Field struct {
	// Key is the field name
	Key string

	// Value is the field value
	Value interface{}
}

// F is shorthand for constructing a Field.
func F(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// Level is the minimum severity a logger emits.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel maps a config string to a Level, defaulting to info.
func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
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

// stdLogger writes line-oriented entries through the standard library
// logger. No third-party logging library is carried; components depend only
// on the Logger interface.
type stdLogger struct {
	mu     sync.Mutex
	out    *log.Logger
	level  Level
	fields []Field
}

// New creates a Logger writing to w at the given minimum level.
func New(w io.Writer, level Level) Logger {
	return &stdLogger{
		out:   log.New(w, "", log.LstdFlags|log.Lmsgprefix),
		level: level,
	}
}

// Default returns a logger writing to stderr at info level.
func Default() Logger {
	return New(os.Stderr, LevelInfo)
}

// Discard returns a logger that drops everything. Used in tests.
func Discard() Logger {
	return New(io.Discard, LevelError+1)
}

func (l *stdLogger) Debug(msg string, fields ...Field) { l.emit(LevelDebug, "DEBUG", msg, fields) }
func (l *stdLogger) Info(msg string, fields ...Field)  { l.emit(LevelInfo, "INFO", msg, fields) }
func (l *stdLogger) Warn(msg string, fields ...Field)  { l.emit(LevelWarn, "WARN", msg, fields) }
func (l *stdLogger) Error(msg string, fields ...Field) { l.emit(LevelError, "ERROR", msg, fields) }

func (l *stdLogger) WithFields(fields ...Field) Logger {
	child := &stdLogger{
		out:    l.out,
		level:  l.level,
		fields: append(append([]Field(nil), l.fields...), fields...),
	}
	return child
}

func (l *stdLogger) emit(level Level, tag, msg string, fields []Field) {
	if level < l.level {
		return
	}
	all := append(append([]Field(nil), l.fields...), fields...)
	sort.SliceStable(all, func(i, j int) bool { return all[i].Key < all[j].Key })

	var b strings.Builder
	b.WriteString(tag)
	b.WriteByte(' ')
	b.WriteString(msg)
	for _, f := range all {
		fmt.Fprintf(&b, " %s=%v", f.Key, f.Value)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.out.Println(b.String())
}
