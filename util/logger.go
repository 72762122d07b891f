// Package util provides low-level helpers shared by all other packages.
package util

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// LogLevel controls output verbosity.
type LogLevel int

const (
	LogQuiet   LogLevel = 0
	LogNormal  LogLevel = 1
	LogVerbose LogLevel = 2
	LogDebug   LogLevel = 3
)

const (
	tagError   = "ERR"
	tagWarn    = "WRN"
	tagInfo    = "INF"
	tagVerbose = "VRB"
	tagDebug   = "DBG"
)

// sink is the destination shared by a logger and every logger derived
// from it with Named.
type sink struct {
	mu         sync.Mutex
	out        io.Writer
	timestamps bool
}

// Logger writes levelled printf-style lines, each tagged with its level
// and, for component loggers, the component name.
type Logger struct {
	level LogLevel
	name  string
	sink  *sink
}

// NewLogger returns a Logger that prints messages at or below the given
// verbosity (0 = quiet, 1 = normal, 2 = verbose, 3 = debug).  Debug
// verbosity also turns on timestamps.
func NewLogger(verbosity int) *Logger {
	return &Logger{
		level: LogLevel(verbosity),
		sink:  &sink{out: os.Stderr, timestamps: verbosity >= int(LogDebug)},
	}
}

// Named returns a component logger sharing l's output and level.
// Names nest with a dot: l.Named("cast").Named("hub") logs "cast.hub: ".
func (l *Logger) Named(name string) *Logger {
	if l.name != "" {
		name = l.name + "." + name
	}
	return &Logger{level: l.level, name: name, sink: l.sink}
}

// SetTimestamps toggles the "15:04:05.000" prefix for l and every
// logger sharing its output.
func (l *Logger) SetTimestamps(on bool) {
	l.sink.mu.Lock()
	l.sink.timestamps = on
	l.sink.mu.Unlock()
}

// SetOutput redirects l and every logger sharing its output.
func (l *Logger) SetOutput(w io.Writer) {
	l.sink.mu.Lock()
	l.sink.out = w
	l.sink.mu.Unlock()
}

func (l *Logger) Level() LogLevel { return l.level }

// Enabled reports whether messages at level would be printed.  Errors
// are always printed.
func (l *Logger) Enabled(level LogLevel) bool {
	return level <= LogQuiet || l.level >= level
}

func (l *Logger) Error(format string, args ...interface{}) {
	l.logf(LogQuiet, tagError, format, args)
}

func (l *Logger) Warn(format string, args ...interface{}) {
	l.logf(LogNormal, tagWarn, format, args)
}

func (l *Logger) Info(format string, args ...interface{}) {
	l.logf(LogNormal, tagInfo, format, args)
}

func (l *Logger) Verbose(format string, args ...interface{}) {
	l.logf(LogVerbose, tagVerbose, format, args)
}

func (l *Logger) Debug(format string, args ...interface{}) {
	l.logf(LogDebug, tagDebug, format, args)
}

func (l *Logger) logf(min LogLevel, tag, format string, args []interface{}) {
	if !l.Enabled(min) {
		return
	}

	var line strings.Builder
	line.WriteString("[" + tag + "] ")
	if l.name != "" {
		line.WriteString(l.name + ": ")
	}
	fmt.Fprintf(&line, format, args...)
	line.WriteByte('\n')

	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	if l.sink.timestamps {
		io.WriteString(l.sink.out, time.Now().Format("15:04:05.000")+" ") //nolint:errcheck
	}
	io.WriteString(l.sink.out, line.String()) //nolint:errcheck
}
