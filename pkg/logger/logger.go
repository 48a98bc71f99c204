// Package logger defines the logging contract shared by every subsystem.
//
// Daemons inject a Logger into each component; components never reach for a
// package-level logger. The default implementation wraps the standard library
// log.Logger.
package logger

import (
	"fmt"
	"log"
	"os"
)

// Logger is the minimal interface components log through.
type Logger interface {
	Printf(format string, v ...interface{})
}

// New returns a Logger writing to stderr with the given subsystem tag,
// e.g. "[OBSERVER]".
func New(tag string) Logger {
	return &stdLogger{l: log.New(os.Stderr, tag+" ", log.LstdFlags|log.LUTC)}
}

type stdLogger struct {
	l *log.Logger
}

func (s *stdLogger) Printf(format string, v ...interface{}) {
	s.l.Printf(format, v...)
}

// ChainLogger prefixes every line with the chain symbol so interleaved
// per-chain loops stay readable in a single stream.
type ChainLogger struct {
	Base  Logger
	Chain string
}

// WithChain wraps base with a chain-symbol prefix.
func WithChain(base Logger, chain string) *ChainLogger {
	return &ChainLogger{Base: base, Chain: chain}
}

func (c *ChainLogger) Printf(format string, v ...interface{}) {
	c.Base.Printf("(%s) %s", c.Chain, fmt.Sprintf(format, v...))
}

// Nop discards everything. Used in tests.
type Nop struct{}

func (Nop) Printf(format string, v ...interface{}) {}
