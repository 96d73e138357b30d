// Package logx provides a small structured logger used across the engine.
package logx

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
)

// Level is a log severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Logger writes leveled, component-tagged log lines. It carries no global
// state; callers construct one per component and thread it explicitly.
type Logger struct {
	component string
	out       *log.Logger
	debug     bool
	domains   map[string]bool // nil means all domains enabled
}

// New creates a Logger for the given component, writing to w (os.Stderr if nil).
func New(component string, w io.Writer) *Logger {
	if w == nil {
		w = os.Stderr
	}
	return &Logger{
		component: component,
		out:       log.New(w, "", log.LstdFlags),
	}
}

// NewFromEnv creates a Logger honoring CASCADE_DEBUG and CASCADE_DEBUG_DOMAINS.
func NewFromEnv(component string, w io.Writer) *Logger {
	l := New(component, w)
	if v := os.Getenv("CASCADE_DEBUG"); v == "1" || strings.EqualFold(v, "true") {
		l.debug = true
	}
	if v := os.Getenv("CASCADE_DEBUG_DOMAINS"); v != "" {
		l.domains = make(map[string]bool)
		for _, d := range strings.Split(v, ",") {
			l.domains[strings.TrimSpace(d)] = true
		}
	}
	return l
}

// With returns a child logger for a sub-component, e.g. "supervisor.reconcile".
func (l *Logger) With(sub string) *Logger {
	child := *l
	child.component = l.component + "." + sub
	return &child
}

func (l *Logger) log(level Level, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	l.out.Printf("[%s] %s: %s", level, l.component, msg)
}

func (l *Logger) Debug(format string, args ...any) {
	if !l.debug {
		return
	}
	if l.domains != nil && !l.domains[l.component] {
		return
	}
	l.log(LevelDebug, format, args...)
}

func (l *Logger) Info(format string, args ...any)  { l.log(LevelInfo, format, args...) }
func (l *Logger) Warn(format string, args ...any)  { l.log(LevelWarn, format, args...) }
func (l *Logger) Error(format string, args ...any) { l.log(LevelError, format, args...) }
