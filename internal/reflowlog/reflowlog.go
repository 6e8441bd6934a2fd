// Package reflowlog is a thin structured-logging wrapper over the
// standard library's log package, matching the teacher codebase's own
// log.Printf convention rather than reaching for a logging framework no
// repo in the corpus depends on.
package reflowlog

import (
	"fmt"
	"log"
	"os"
)

// Level identifies a log severity.
type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

func (l Level) String() string {
	switch l {
	case Debug:
		return "DEBUG"
	case Info:
		return "INFO"
	case Warn:
		return "WARN"
	case Error:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Logger prefixes every line with a severity and an optional component
// name, and filters out lines below its configured minimum level.
type Logger struct {
	component string
	min       Level
	out       *log.Logger
}

// New returns a Logger writing to stderr, tagged with component.
func New(component string) *Logger {
	return &Logger{
		component: component,
		min:       Info,
		out:       log.New(os.Stderr, "", log.LstdFlags),
	}
}

// WithMinLevel returns a copy of l that only emits lines at level or above.
func (l *Logger) WithMinLevel(level Level) *Logger {
	clone := *l
	clone.min = level
	return &clone
}

// With returns a copy of l tagged with a nested component name, for
// example logger.With("scheduler") from a logger tagged "execution".
func (l *Logger) With(component string) *Logger {
	clone := *l
	if l.component != "" {
		clone.component = l.component + "." + component
	} else {
		clone.component = component
	}
	return &clone
}

func (l *Logger) logf(level Level, format string, args ...any) {
	if level < l.min {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if l.component != "" {
		l.out.Printf("[%s] %s: %s", level, l.component, msg)
	} else {
		l.out.Printf("[%s] %s", level, msg)
	}
}

func (l *Logger) Debugf(format string, args ...any) { l.logf(Debug, format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.logf(Info, format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.logf(Warn, format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.logf(Error, format, args...) }
