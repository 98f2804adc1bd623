// Package logging provides a thin, component-prefixed wrapper around the
// standard library logger.
//
// FiberDB logs with stdlib log.Printf rather than a structured logging
// library — every component (WAL, entity store, index manager, query
// engine) gets its own prefixed *Logger so log lines are traceable to their
// source without pulling in a third-party logging stack.
package logging

import (
	"log"
	"os"
)

// Logger writes prefixed lines to an underlying *log.Logger.
type Logger struct {
	l *log.Logger
}

// New returns a Logger that prefixes every line with "component: ".
func New(component string) *Logger {
	return &Logger{l: log.New(os.Stderr, component+": ", log.LstdFlags)}
}

// Printf logs a formatted message.
func (lg *Logger) Printf(format string, args ...any) {
	lg.l.Printf(format, args...)
}

// Println logs a message.
func (lg *Logger) Println(args ...any) {
	lg.l.Println(args...)
}

// Warnf logs a warning-level message. FiberDB has no log-level filtering;
// the "WARN" tag is for grep-ability in operational logs.
func (lg *Logger) Warnf(format string, args ...any) {
	lg.l.Printf("WARN "+format, args...)
}
