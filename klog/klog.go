// Package klog is the kernel's structured diagnostic logger. Boot-time and
// panic text stays plain fmt.Printf, the way the teacher's own console
// output does; klog is for the diagnostics that quote counts a human reads
// on a console (frames free, ticks elapsed, pids reaped) and formats them
// through golang.org/x/text/message the way the teacher's stat/accnt
// packages format byte counts, so large counters print with the thousands
// separators a real console would show.
package klog

import (
	"fmt"
	"os"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Level controls which diagnostics are emitted.
type Level int

const (
	LevelSilent Level = iota
	LevelWarn
	LevelInfo
	LevelDebug
)

// Logger writes leveled kernel diagnostics to an io.Writer-backed sink.
type Logger struct {
	level   Level
	printer *message.Printer
	out     *os.File
}

// Default is the process-wide logger, matching the teacher's reliance on a
// single implicit console sink rather than a threaded-through writer.
var Default = New(LevelInfo)

// New returns a Logger at the given level, printing to stderr.
func New(level Level) *Logger {
	return &Logger{
		level:   level,
		printer: message.NewPrinter(language.English),
		out:     os.Stderr,
	}
}

// SetLevel adjusts the minimum level this Logger emits.
func (l *Logger) SetLevel(lvl Level) { l.level = lvl }

func (l *Logger) log(lvl Level, prefix, format string, args ...interface{}) {
	if lvl > l.level {
		return
	}
	msg := l.printer.Sprintf(format, args...)
	fmt.Fprintf(l.out, "%s: %s\n", prefix, msg)
}

// Warnf logs a warning-level diagnostic (e.g. frame allocator running low).
func (l *Logger) Warnf(format string, args ...interface{}) { l.log(LevelWarn, "warn", format, args...) }

// Infof logs an info-level diagnostic (e.g. a process lifecycle transition).
func (l *Logger) Infof(format string, args ...interface{}) { l.log(LevelInfo, "info", format, args...) }

// Debugf logs a debug-level diagnostic (e.g. a trap dispatch summary).
func (l *Logger) Debugf(format string, args ...interface{}) { l.log(LevelDebug, "debug", format, args...) }
