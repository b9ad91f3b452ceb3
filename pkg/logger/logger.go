package logger

import (
	"log"
	"strings"
	"sync"

	"github.com/fatih/color"
)

// Level represents the severity level of a log message.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	NoticeLevel
	ErrorLevel
)

// ParseLevel converts a level name into a Level
func ParseLevel(name string) (Level, bool) {
	switch strings.ToLower(name) {
	case "debug":
		return DebugLevel, true
	case "info":
		return InfoLevel, true
	case "notice":
		return NoticeLevel, true
	case "error":
		return ErrorLevel, true
	}
	return InfoLevel, false
}

// Component tags a log line with the subsystem that emitted it
type Component int

const (
	None Component = iota
	Store
	Matcher
	Lifecycle
	Sweeper
	Settlement
	API
	Events
)

var componentPrefixes = map[Component]string{
	None:       "",
	Store:      "[STORE]     ",
	Matcher:    "[MATCH]     ",
	Lifecycle:  "[LIFECYCLE] ",
	Sweeper:    "[SWEEP]     ",
	Settlement: "[SETTLE]    ",
	API:        "[API]       ",
	Events:     "[EVENTS]    ",
}

var colors = map[Component]color.Attribute{
	None:       color.FgWhite,
	Store:      color.FgHiBlue,
	Matcher:    color.FgMagenta,
	Lifecycle:  color.FgHiGreen,
	Sweeper:    color.FgYellow,
	Settlement: color.FgRed,
	API:        color.FgCyan,
	Events:     color.FgBlue,
}

// Logger is a simple interface for logging messages.
type Logger interface {
	// Info logs an informational message.
	Info(format string, args ...interface{})
	InfoWithComponent(component Component, format string, args ...interface{})

	// Error logs an error message.
	Error(format string, args ...interface{})
	ErrorWithComponent(component Component, format string, args ...interface{})

	// Debug logs a debug message.
	Debug(format string, args ...interface{})
	DebugWithComponent(component Component, format string, args ...interface{})

	// Notice logs a notice message.
	Notice(format string, args ...interface{})
	NoticeWithComponent(component Component, format string, args ...interface{})
}

// EmptyLogger is a simple implementation of the Logger interface that does nothing.
type EmptyLogger struct{}

var _ Logger = (*EmptyLogger)(nil)

func (l *EmptyLogger) Info(_ string, _ ...interface{})                             {}
func (l *EmptyLogger) InfoWithComponent(_ Component, _ string, _ ...interface{})   {}
func (l *EmptyLogger) Error(_ string, _ ...interface{})                            {}
func (l *EmptyLogger) ErrorWithComponent(_ Component, _ string, _ ...interface{})  {}
func (l *EmptyLogger) Debug(_ string, _ ...interface{})                            {}
func (l *EmptyLogger) DebugWithComponent(_ Component, _ string, _ ...interface{})  {}
func (l *EmptyLogger) Notice(_ string, _ ...interface{})                           {}
func (l *EmptyLogger) NoticeWithComponent(_ Component, _ string, _ ...interface{}) {}

// StdLogger is a standard implementation of the Logger interface that logs messages to the console.
type StdLogger struct {
	enableColoring bool
	level          Level
	mu             sync.Mutex
	out            *log.Logger
}

var _ Logger = (*StdLogger)(nil)

func NewStdLogger(enableColoring bool, level Level) *StdLogger {
	return &StdLogger{
		enableColoring: enableColoring,
		level:          level,
		out:            log.Default(),
	}
}

// WithOutput redirects the logger, used by tests to capture lines
func (l *StdLogger) WithOutput(out *log.Logger) *StdLogger {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.out = out
	return l
}

// formatMessage formats the log message with the appropriate log level, component prefix, and coloring if enabled.
func (l *StdLogger) formatMessage(level Level, component Component, format string) string {
	prefix := componentPrefixes[component]
	if l.enableColoring {
		prefix = color.New(colors[component]).Sprint(prefix)
	}

	var levelStr string
	switch level {
	case DebugLevel:
		levelStr = "[DEBUG]  "
	case InfoLevel:
		levelStr = "[INFO]   "
	case NoticeLevel:
		levelStr = "[NOTICE] "
	case ErrorLevel:
		levelStr = "[ERROR]  "
	}

	return levelStr + prefix + format
}

func (l *StdLogger) logf(level Level, component Component, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.level <= level {
		l.out.Printf(l.formatMessage(level, component, format), args...)
	}
}

func (l *StdLogger) Info(format string, args ...interface{}) {
	l.logf(InfoLevel, None, format, args...)
}

func (l *StdLogger) InfoWithComponent(component Component, format string, args ...interface{}) {
	l.logf(InfoLevel, component, format, args...)
}

func (l *StdLogger) Error(format string, args ...interface{}) {
	l.logf(ErrorLevel, None, format, args...)
}

func (l *StdLogger) ErrorWithComponent(component Component, format string, args ...interface{}) {
	l.logf(ErrorLevel, component, format, args...)
}

func (l *StdLogger) Debug(format string, args ...interface{}) {
	l.logf(DebugLevel, None, format, args...)
}

func (l *StdLogger) DebugWithComponent(component Component, format string, args ...interface{}) {
	l.logf(DebugLevel, component, format, args...)
}

func (l *StdLogger) Notice(format string, args ...interface{}) {
	l.logf(NoticeLevel, None, format, args...)
}

func (l *StdLogger) NoticeWithComponent(component Component, format string, args ...interface{}) {
	l.logf(NoticeLevel, component, format, args...)
}
