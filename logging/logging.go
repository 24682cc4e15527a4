// Package logging holds the logger interface shared by the gateway and the
// session engine, and the implementations the commands plug into it.
package logging

import (
	"fmt"
	"io"
	"log"
	"log/slog"
	"strings"
	"sync"
)

// Logger is satisfied by *log.Logger and by the adapters below.
type Logger interface {
	Printf(format string, v ...any)
	Println(v ...any)
}

// DebugLogger is implemented by loggers that can emit debug output.
type DebugLogger interface {
	Logger
	Debugf(format string, v ...any)
}

// Debugf logs through l only if it supports debug output, so per-frame
// traces never reach a plain logger.
func Debugf(l Logger, format string, v ...any) {
	if d, ok := l.(DebugLogger); ok {
		d.Debugf(format, v...)
	}
}

// NoOpLogger discards everything.
type NoOpLogger struct{}

func (NoOpLogger) Printf(string, ...any) {}
func (NoOpLogger) Println(...any)        {}
func (NoOpLogger) Debugf(string, ...any) {}

// Default returns a logger writing to the standard logger's output.
func Default() Logger {
	return log.Default()
}

// OrDefault returns l, or the standard logger when l is nil.
func OrDefault(l Logger) Logger {
	if l == nil {
		return Default()
	}
	return l
}

// Level represents log severity levels
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = map[Level]string{
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARN",
	LevelError: "ERROR",
}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("LEVEL(%d)", int(l))
}

// ParseLevel parses a level name. Unknown names yield LevelInfo and an
// error.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// Leveled filters messages below a minimum level. Printf and Println log
// at info.
type Leveled struct {
	mu     sync.RWMutex
	level  Level
	logger *log.Logger
}

// NewLeveled writes to w with the standard timestamp prefix.
func NewLeveled(w io.Writer, level Level) *Leveled {
	return &Leveled{level: level, logger: log.New(w, "", log.LstdFlags)}
}

// SetLevel sets the minimum log level
func (l *Leveled) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// Level returns the current minimum level.
func (l *Leveled) Level() Level {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.level
}

func (l *Leveled) log(level Level, msg string) {
	if level < l.Level() {
		return
	}
	l.logger.Printf("[%s] %s", level, msg)
}

func (l *Leveled) Debugf(format string, v ...any) { l.log(LevelDebug, fmt.Sprintf(format, v...)) }
func (l *Leveled) Infof(format string, v ...any)  { l.log(LevelInfo, fmt.Sprintf(format, v...)) }
func (l *Leveled) Warnf(format string, v ...any)  { l.log(LevelWarn, fmt.Sprintf(format, v...)) }
func (l *Leveled) Errorf(format string, v ...any) { l.log(LevelError, fmt.Sprintf(format, v...)) }

func (l *Leveled) Printf(format string, v ...any) { l.Infof(format, v...) }
func (l *Leveled) Println(v ...any)               { l.log(LevelInfo, strings.TrimSuffix(fmt.Sprintln(v...), "\n")) }

// Slog adapts a structured logger.
type Slog struct {
	Logger *slog.Logger
}

// NewSlog wraps logger.
func NewSlog(logger *slog.Logger) *Slog {
	return &Slog{Logger: logger}
}

func (s *Slog) Printf(format string, v ...any) { s.Logger.Info(fmt.Sprintf(format, v...)) }
func (s *Slog) Println(v ...any)               { s.Logger.Info(strings.TrimSuffix(fmt.Sprintln(v...), "\n")) }
func (s *Slog) Debugf(format string, v ...any) { s.Logger.Debug(fmt.Sprintf(format, v...)) }
