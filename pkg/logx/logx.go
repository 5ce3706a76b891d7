// Package logx provides component-scoped logging with an in-memory buffer of recent entries.
package logx

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// TimestampFormat is the layout used for every log line and buffered entry.
const TimestampFormat = "2006-01-02T15:04:05.000Z"

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Logger writes lines of the form "[ts] [component] LEVEL: message".
// An application-scoped logger also carries the application id.
type Logger struct {
	component     string
	applicationID string
}

// LogEntry is a buffered log line served by the status API.
type LogEntry struct {
	Timestamp     string `json:"timestamp"`
	Component     string `json:"component"`
	ApplicationID string `json:"application_id,omitempty"`
	Level         string `json:"level"`
	Message       string `json:"message"`
}

type logBuffer struct {
	entries []LogEntry
	mu      sync.RWMutex
	maxSize int
}

var (
	logWriter     io.Writer
	logWriterLock sync.Mutex

	debugMu         sync.RWMutex
	debugEnabled    bool
	debugComponents map[string]bool // nil means every component

	buffer = &logBuffer{maxSize: 1000}
)

func init() { //nolint:gochecknoinits // env toggles are read once at startup
	initDebugFromEnv()
}

func initDebugFromEnv() {
	debugMu.Lock()
	defer debugMu.Unlock()

	if v := os.Getenv("DEBUG"); v == "1" || strings.EqualFold(v, "true") {
		debugEnabled = true
	}
	if comps := os.Getenv("DEBUG_COMPONENTS"); comps != "" {
		debugComponents = make(map[string]bool)
		for _, c := range strings.Split(comps, ",") {
			debugComponents[strings.TrimSpace(c)] = true
		}
	}
}

// SetOutput redirects all loggers. Passing nil restores stderr.
func SetOutput(w io.Writer) {
	logWriterLock.Lock()
	logWriter = w
	logWriterLock.Unlock()
}

// SetDebug toggles debug output, optionally limited to the named components.
func SetDebug(enabled bool, components ...string) {
	debugMu.Lock()
	defer debugMu.Unlock()

	debugEnabled = enabled
	if len(components) == 0 {
		debugComponents = nil
		return
	}
	debugComponents = make(map[string]bool, len(components))
	for _, c := range components {
		debugComponents[strings.TrimSpace(c)] = true
	}
}

// IsDebugEnabled reports whether debug lines are emitted for the component.
func IsDebugEnabled(component string) bool {
	debugMu.RLock()
	defer debugMu.RUnlock()

	if !debugEnabled {
		return false
	}
	if debugComponents == nil {
		return true
	}
	return debugComponents[component]
}

func NewLogger(component string) *Logger {
	return &Logger{component: component}
}

// WithApplication returns a logger that tags every line with the application id.
func (l *Logger) WithApplication(applicationID string) *Logger {
	return &Logger{component: l.component, applicationID: applicationID}
}

// WithComponent returns a copy of the logger under a different component name.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{component: component, applicationID: l.applicationID}
}

func (l *Logger) Component() string {
	return l.component
}

func (l *Logger) ApplicationID() string {
	return l.applicationID
}

func (l *Logger) log(level Level, format string, args ...any) {
	timestamp := time.Now().UTC().Format(TimestampFormat)
	message := fmt.Sprintf(format, args...)

	tag := l.component
	if l.applicationID != "" {
		tag = l.component + "/" + l.applicationID
	}
	line := fmt.Sprintf("[%s] [%s] %s: %s\n", timestamp, tag, level, message)

	logWriterLock.Lock()
	w := logWriter
	if w == nil {
		w = os.Stderr
	}
	_, _ = io.WriteString(w, line)
	logWriterLock.Unlock()

	buffer.add(LogEntry{
		Timestamp:     timestamp,
		Component:     l.component,
		ApplicationID: l.applicationID,
		Level:         string(level),
		Message:       message,
	})
}

func (l *Logger) Debug(format string, args ...any) {
	if !IsDebugEnabled(l.component) {
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

func (b *logBuffer) add(entry LogEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries = append(b.entries, entry)
	if len(b.entries) > b.maxSize {
		b.entries = b.entries[len(b.entries)-b.maxSize:]
	}
}

func (b *logBuffer) recent(n int, applicationID string) []LogEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]LogEntry, 0, n)
	for i := len(b.entries) - 1; i >= 0 && len(out) < n; i-- {
		if applicationID != "" && b.entries[i].ApplicationID != applicationID {
			continue
		}
		out = append(out, b.entries[i])
	}
	// Oldest first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// RecentEntries returns up to n buffered entries, oldest first.
// A non-empty applicationID limits the result to that application.
func RecentEntries(n int, applicationID string) []LogEntry {
	if n <= 0 {
		return nil
	}
	return buffer.recent(n, applicationID)
}

// Wrap logs msg + ": " + err and returns fmt.Errorf("%s: %w", msg, err).
func (l *Logger) Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	wrapped := fmt.Errorf("%s: %w", msg, err)
	l.Error("%s", wrapped.Error())
	return wrapped
}
