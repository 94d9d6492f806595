// Package logging builds the component loggers used across pharmasync.
//
// All components log through the standard library logger with a bracketed
// prefix ("[sync] ", "[monitor] ", ...). Output goes to stderr and, when a
// log file is configured, to a size-rotated file as well.
package logging

import (
	"io"
	"log"
	"os"
	gosync "sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the shared log output.
type Options struct {
	// File enables rotated file output when non-empty.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool

	// Quiet drops stderr output (file output is kept).
	Quiet bool
}

// Sink is the shared destination of all component loggers.
type Sink struct {
	out    io.Writer
	rotate *lumberjack.Logger

	mu      gosync.Mutex
	loggers map[string]*log.Logger
}

// NewSink creates the log destination described by opts.
func NewSink(opts Options) *Sink {
	var writers []io.Writer
	if !opts.Quiet {
		writers = append(writers, os.Stderr)
	}

	s := &Sink{loggers: make(map[string]*log.Logger)}
	if opts.File != "" {
		s.rotate = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   opts.Compress,
		}
		writers = append(writers, s.rotate)
	}

	switch len(writers) {
	case 0:
		s.out = io.Discard
	case 1:
		s.out = writers[0]
	default:
		s.out = io.MultiWriter(writers...)
	}
	return s
}

// Logger returns the logger for component, creating it on first use. The
// prefix is "[component] ".
func (s *Sink) Logger(component string) *log.Logger {
	s.mu.Lock()
	defer s.mu.Unlock()

	if l, ok := s.loggers[component]; ok {
		return l
	}
	l := log.New(s.out, "["+component+"] ", log.LstdFlags)
	s.loggers[component] = l
	return l
}

// Rotate starts a new log file immediately. It is a no-op without a file.
func (s *Sink) Rotate() error {
	if s.rotate == nil {
		return nil
	}
	return s.rotate.Rotate()
}

// Close flushes and closes the log file, if any.
func (s *Sink) Close() error {
	if s.rotate == nil {
		return nil
	}
	return s.rotate.Close()
}
