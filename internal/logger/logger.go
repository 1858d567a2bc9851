// Package logger provides the leveled text logger used across rpcfire.
package logger

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Level controls which messages a Logger emits.
type Level int

const (
	LevelError Level = iota
	LevelInfo
	LevelDebug
	LevelTrace
)

func (l Level) String() string {
	switch l {
	case LevelError:
		return "ERROR"
	case LevelInfo:
		return "INFO"
	case LevelDebug:
		return "DEBUG"
	case LevelTrace:
		return "TRACE"
	default:
		return "UNKNOWN"
	}
}

// FromVerbosity maps stacked -v flags to a level: 0 is info, 1 is debug,
// anything higher is trace.
func FromVerbosity(v int) Level {
	switch {
	case v <= 0:
		return LevelInfo
	case v == 1:
		return LevelDebug
	default:
		return LevelTrace
	}
}

// Logger is a mutex-guarded leveled logger writing timestamped lines.
type Logger struct {
	mu       sync.Mutex
	out      io.Writer
	maxLevel Level
}

// Default is the process-wide logger. main reconfigures it from the
// verbosity flags before anything else logs.
var Default = New(os.Stderr, LevelInfo)

// New creates a Logger emitting messages at or below maxLevel.
func New(out io.Writer, maxLevel Level) *Logger {
	return &Logger{out: out, maxLevel: maxLevel}
}

// SetLevel changes the maximum emitted level.
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.maxLevel = level
}

func (l *Logger) log(level Level, format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if level > l.maxLevel {
		return
	}

	timestamp := time.Now().Format("2006-01-02 15:04:05.000")
	msg := fmt.Sprintf(format, args...)
	_, _ = fmt.Fprintf(l.out, "%s %s %s\n", timestamp, level, msg)
}

// Error logs at ERROR level.
func (l *Logger) Error(format string, args ...any) {
	l.log(LevelError, format, args...)
}

// Info logs at INFO level.
func (l *Logger) Info(format string, args ...any) {
	l.log(LevelInfo, format, args...)
}

// Debug logs at DEBUG level.
func (l *Logger) Debug(format string, args ...any) {
	l.log(LevelDebug, format, args...)
}

// Trace logs at TRACE level.
func (l *Logger) Trace(format string, args ...any) {
	l.log(LevelTrace, format, args...)
}

// Package-level helpers routing through Default.

func Error(format string, args ...any) { Default.Error(format, args...) }
func Info(format string, args ...any)  { Default.Info(format, args...) }
func Debug(format string, args ...any) { Default.Debug(format, args...) }
func Trace(format string, args ...any) { Default.Trace(format, args...) }
