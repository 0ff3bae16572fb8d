// Package logx provides leveled logging with a bounded in-memory sink for diagnostics.
package logx

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

type Logger struct {
	component string
	logger    *log.Logger
}

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Entry is one captured log record.
type Entry struct {
	Timestamp string `json:"timestamp"`
	Component string `json:"component"`
	Level     string `json:"level"`
	Message   string `json:"message"`
}

// Sink receives every log entry in addition to stderr output.
type Sink interface {
	Add(Entry)
}

// RingSink keeps the most recent entries, dropping the oldest past capacity.
type RingSink struct {
	mu      sync.RWMutex
	entries []Entry
	cap     int
}

// NewRingSink creates a bounded sink holding at most capacity entries.
func NewRingSink(capacity int) *RingSink {
	if capacity <= 0 {
		capacity = 1000
	}
	return &RingSink{entries: make([]Entry, 0, capacity), cap: capacity}
}

func (s *RingSink) Add(e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	if len(s.entries) > s.cap {
		s.entries = s.entries[len(s.entries)-s.cap:]
	}
}

// Recent returns a copy of the captured entries, newest last.
func (s *RingSink) Recent() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

//nolint:gochecknoglobals // process-scoped sink and debug flag, set once at startup
var (
	sinkMu     sync.RWMutex
	globalSink Sink
	debugOn    bool
)

// SetSink installs the process-wide diagnostic sink. Call once at startup;
// a nil sink disables capture.
func SetSink(s Sink) {
	sinkMu.Lock()
	defer sinkMu.Unlock()
	globalSink = s
}

func init() { //nolint:gochecknoinits // env var initialization
	if d := os.Getenv("DEBUG"); d == "1" || strings.EqualFold(d, "true") {
		debugOn = true
	}
}

// SetDebug enables or disables debug-level output.
func SetDebug(enabled bool) {
	sinkMu.Lock()
	defer sinkMu.Unlock()
	debugOn = enabled
}

// IsDebugEnabled reports whether debug-level output is on.
func IsDebugEnabled() bool {
	sinkMu.RLock()
	defer sinkMu.RUnlock()
	return debugOn
}

// NewLogger creates a logger tagged with a component ID ("gate", "guard", ...).
func NewLogger(component string) *Logger {
	return &Logger{
		component: component,
		logger:    log.New(os.Stderr, "", 0),
	}
}

func (l *Logger) log(level Level, format string, args ...any) {
	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
	message := fmt.Sprintf(format, args...)
	l.logger.Printf("[%s] [%s] %s: %s", timestamp, l.component, level, message)

	sinkMu.RLock()
	sink := globalSink
	sinkMu.RUnlock()
	if sink != nil {
		sink.Add(Entry{
			Timestamp: timestamp,
			Component: l.component,
			Level:     string(level),
			Message:   message,
		})
	}
}

func (l *Logger) Debug(format string, args ...any) {
	if !IsDebugEnabled() {
		return
	}
	l.log(LevelDebug, format, args...)
}

func (l *Logger) Info(format string, args ...any) {
	l.log(LevelInfo, format, args...)
}

func (l *Logger) Warn(format string, args ...any) {
	l.log(LevelWarn, format, args...)
}

func (l *Logger) Error(format string, args ...any) {
	l.log(LevelError, format, args...)
}

func (l *Logger) Component() string {
	return l.component
}

//nolint:gochecknoglobals // package-level convenience logger
var defaultLogger = NewLogger("system")

func Debugf(format string, args ...any) {
	defaultLogger.Debug(format, args...)
}

func Infof(format string, args ...any) {
	defaultLogger.Info(format, args...)
}

func Warnf(format string, args ...any) {
	defaultLogger.Warn(format, args...)
}

// Errorf logs and returns the formatted error.
func Errorf(format string, args ...any) error {
	err := fmt.Errorf(format, args...)
	defaultLogger.Error("%s", err.Error())
	return err
}

// Wrap logs msg + ": " + err.Error() and returns the wrapped error.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	wrapped := fmt.Errorf("%s: %w", msg, err)
	defaultLogger.Error("%s", wrapped.Error())
	return wrapped
}
