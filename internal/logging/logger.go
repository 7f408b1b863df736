// Package logging provides the leveled logger used throughout limsync. It
// mirrors the logging style of the core synchronization engine this project
// is built around: a logger that is safe to use even when nil, composable
// sublogger prefixes, and colorized warnings/errors that fall back to plain
// text when the output stream isn't a terminal.
package logging

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// DebugEnabled controls whether Debug* methods produce output. It is
// typically set once at process startup from an environment variable or a
// command-line flag; the core itself never mutates it.
var DebugEnabled = os.Getenv("LIMSYNC_DEBUG") == "1"

func init() {
	if !isatty.IsTerminal(os.Stderr.Fd()) && !isatty.IsCygwinTerminal(os.Stderr.Fd()) {
		color.NoColor = true
	}
}

// writer adapts a line callback to an io.Writer, splitting arbitrary writes
// on newlines and buffering any trailing partial line.
type writer struct {
	callback func(string)
	buffer   []byte
}

func trimCarriageReturn(b []byte) []byte {
	if len(b) > 0 && b[len(b)-1] == '\r' {
		return b[:len(b)-1]
	}
	return b
}

func (w *writer) Write(p []byte) (int, error) {
	w.buffer = append(w.buffer, p...)

	var processed int
	remaining := w.buffer
	for {
		index := bytes.IndexByte(remaining, '\n')
		if index == -1 {
			break
		}
		w.callback(string(trimCarriageReturn(remaining[:index])))
		processed += index + 1
		remaining = remaining[index+1:]
	}

	if processed > 0 {
		leftover := len(w.buffer) - processed
		if leftover > 0 {
			copy(w.buffer[:leftover], w.buffer[processed:])
		}
		w.buffer = w.buffer[:leftover]
	}

	return len(p), nil
}

// Logger is safe to call with a nil receiver, in which case every method is a
// no-op. This lets constructors accept a *Logger without needing a separate
// "no logging" sentinel value.
type Logger struct {
	prefix string
}

// Root is the top-level logger from which every sublogger in the process
// ultimately derives.
var Root = &Logger{}

// Sublogger returns a new logger with name appended to the receiver's prefix.
func (l *Logger) Sublogger(name string) *Logger {
	if l == nil {
		return nil
	}
	prefix := name
	if l.prefix != "" {
		prefix = l.prefix + "." + name
	}
	return &Logger{prefix: prefix}
}

func (l *Logger) output(calldepth int, line string) {
	if l.prefix != "" {
		line = fmt.Sprintf("[%s] %s", l.prefix, line)
	}
	_ = log.Output(calldepth, line)
}

// Print logs with fmt.Print semantics.
func (l *Logger) Print(v ...interface{}) {
	if l != nil {
		l.output(3, fmt.Sprint(v...))
	}
}

// Printf logs with fmt.Printf semantics.
func (l *Logger) Printf(format string, v ...interface{}) {
	if l != nil {
		l.output(3, fmt.Sprintf(format, v...))
	}
}

// Println logs with fmt.Println semantics.
func (l *Logger) Println(v ...interface{}) {
	if l != nil {
		l.output(3, fmt.Sprintln(v...))
	}
}

// Writer returns an io.Writer that logs each line it receives via Println.
func (l *Logger) Writer() io.Writer {
	if l == nil {
		return io.Discard
	}
	return &writer{callback: l.Println}
}

// Debug logs with fmt.Print semantics, but only if DebugEnabled is true.
func (l *Logger) Debug(v ...interface{}) {
	if l != nil && DebugEnabled {
		l.output(3, fmt.Sprint(v...))
	}
}

// Debugf logs with fmt.Printf semantics, but only if DebugEnabled is true.
func (l *Logger) Debugf(format string, v ...interface{}) {
	if l != nil && DebugEnabled {
		l.output(3, fmt.Sprintf(format, v...))
	}
}

// Warn logs err with a yellow "Warning:" prefix.
func (l *Logger) Warn(err error) {
	if l != nil {
		l.output(3, color.YellowString("Warning: %v", err))
	}
}

// Error logs err with a red "Error:" prefix.
func (l *Logger) Error(err error) {
	if l != nil {
		l.output(3, color.RedString("Error: %v", err))
	}
}
